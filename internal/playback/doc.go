// Package playback keeps audio payloads behind opaque references that must be
// released explicitly.
package playback
