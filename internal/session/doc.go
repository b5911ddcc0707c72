// Package session implements the client-side processing state machine: file
// selection, submission to the processing service, stale result suppression
// and the lifecycle of the original and processed playback handles.
package session
