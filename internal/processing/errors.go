package processing

import (
	"errors"
	"fmt"
)

// Operation names used in errors and metrics
const (
	OpProcessAudio = "process-audio"
	OpListModels   = "available-models"
	OpHealth       = "health"
)

// Default messages used when the service gives no structured error
const (
	DefaultProcessMessage = "Failed to process audio"
	DefaultModelsMessage  = "Failed to fetch available models"
	DefaultHealthMessage  = "Service unhealthy"

	transportMessage = "Unable to reach the processing service"
)

// InvalidInputError reports a missing or empty input detected before any
// network call is made.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

// ServiceError reports a non-2xx response from the processing service.
// Message comes from the service's {"error": "..."} body when present.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// TransportError reports a request that could not complete: connectivity,
// DNS, timeouts or a body cut short. Cause is for diagnostics only.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Message returns a plain, display-safe message for err. Transport causes are
// never exposed.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var invalid *InvalidInputError
	if errors.As(err, &invalid) {
		return invalid.Reason
	}

	var svc *ServiceError
	if errors.As(err, &svc) {
		return svc.Message
	}

	var transport *TransportError
	if errors.As(err, &transport) {
		return transportMessage
	}

	return err.Error()
}
