// Package audio inspects audio payloads: PCM-16 WAV encoding and decoding,
// header metadata, media type detection and a simple noise gate.
package audio
