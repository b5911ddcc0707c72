package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/denoise-client/internal/config"
	"github.com/skypro1111/denoise-client/internal/metrics"
	"github.com/skypro1111/denoise-client/internal/playback"
	"github.com/skypro1111/denoise-client/internal/processing"
	"github.com/skypro1111/denoise-client/internal/session"
)

const upstreamHealthTimeout = 3 * time.Second

// Service is the part of the processing client the API proxies
type Service interface {
	ListModels(ctx context.Context) ([]processing.ModelDescriptor, error)
	Health(ctx context.Context) error
	BaseURL() string
}

// HTTPServer exposes the processing session to a presentation layer
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	session *session.Session
	handles *playback.Registry
	service Service
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new collaborator API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, sess *session.Session,
	handles *playback.Registry, service Service, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		session:   sess,
		handles:   handles,
		service:   service,
		metrics:   m,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	h.setupRoutes(r)
	h.handler = r

	h.server = &http.Server{
		Addr:        appConfig.HTTP.ListenAddress(),
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the root HTTP handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r chi.Router) {
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: h.config.HTTP.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			ExposedHeaders: []string{"Content-Disposition"},
		}),
	)

	// Prometheus metrics endpoint (not instrumented itself)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.withMetrics)

		r.Get("/", h.handleRoot)
		r.Get("/health", h.handleHealth)

		r.Get("/session", h.handleSession)
		r.Post("/session/file", h.handleSelectFile)
		r.Post("/session/process", h.handleProcess)

		r.Get("/playback/{ref}", h.handlePlayback)
		r.Get("/models", h.handleModels)
	})
}

// withMetrics records every request under its route pattern
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), upstreamHealthTimeout)
	defer cancel()

	status := "healthy"
	upstream := map[string]any{
		"base_url": h.service.BaseURL(),
		"status":   "reachable",
	}

	if err := h.service.Health(ctx); err != nil {
		status = "degraded"
		upstream["status"] = "unreachable"
		upstream["error"] = processing.Message(err)
	}

	snap := h.session.Snapshot()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"components": map[string]any{
			"processing_service": upstream,
			"session": map[string]any{
				"status": snap.Status,
			},
			"playback": map[string]any{
				"handles": h.handles.Len(),
				"bytes":   h.handles.Bytes(),
			},
		},
	})
}

// handleSession implements GET /session
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// handleSelectFile implements POST /session/file
func (h *HTTPServer) handleSelectFile(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.config.HTTP.GetMaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error reading file")
		return
	}

	input := processing.NewInputFile(header.Filename, header.Header.Get("Content-Type"), data)

	if err := h.session.SelectFile(input); err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// handleProcess implements POST /session/process. With ?wait=true the
// response is delayed until the result has been applied.
func (h *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	done, err := h.session.StartProcessing(r.Context())
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, h.session.Snapshot())
		return
	}

	select {
	case <-done:
		writeJSON(w, http.StatusOK, h.session.Snapshot())
	case <-r.Context().Done():
		// Client went away; the submission carries on
	}
}

// handlePlayback implements GET /playback/{ref}
func (h *HTTPServer) handlePlayback(w http.ResponseWriter, r *http.Request) {
	ref := playback.ParseRef(chi.URLParam(r, "ref"))

	entry, ok := h.handles.Resolve(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "Playback reference not found")
		return
	}

	contentType := entry.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	name := h.playbackName(ref)
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download && name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}

	http.ServeContent(w, r, name, entry.CreatedAt, bytes.NewReader(entry.Data))
}

// handleModels implements GET /models
func (h *HTTPServer) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.ListModels(r.Context())
	if err != nil {
		h.logger.Warn("Failed to list models", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, processing.Message(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Audio Noise Suppression Client",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"GET /":                 "API documentation",
			"GET /health":           "Client and processing service health",
			"GET /session":          "Current session state",
			"POST /session/file":    "Select an audio file (multipart field 'file')",
			"POST /session/process": "Start processing the selected file (?wait=true blocks)",
			"GET /playback/{ref}":   "Original or processed audio (?download=true for attachment)",
			"GET /models":           "Available noise suppression models",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPServer) playbackName(ref playback.Ref) string {
	snap := h.session.Snapshot()

	switch ref {
	case snap.ProcessedRef:
		return snap.DownloadName
	case snap.OriginalRef:
		return snap.FileName
	}
	return ""
}

func (h *HTTPServer) writeSessionError(w http.ResponseWriter, err error) {
	var invalid *processing.InvalidInputError

	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Reason)
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "Audio is already being processed")
	case errors.Is(err, playback.ErrCapacityExceeded):
		writeError(w, http.StatusInsufficientStorage, "Not enough room to hold the audio file")
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Session closed")
	default:
		h.logger.Error("Session operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
