// Package server implements the HTTP API that exposes the processing session to
// a presentation layer: file selection, processing, playback of original and
// processed audio, model listing, health and Prometheus metrics.
package server
