// Package metrics defines the Prometheus metrics exported by the denoise client:
// processing service calls, session transitions, live playback handles and the
// collaborator HTTP API.
package metrics
