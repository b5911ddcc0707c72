// Package mockservice implements a local development stand-in for the remote
// noise-suppression service, speaking the same wire protocol.
package mockservice
