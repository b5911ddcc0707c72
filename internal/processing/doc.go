// Package processing implements the HTTP client for the noise-suppression service.
// It uploads audio as multipart form data, lists available models and maps every
// failure onto InvalidInputError, ServiceError or TransportError.
package processing
