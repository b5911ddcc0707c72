package mockservice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/skypro1111/denoise-client/internal/audio"
	"github.com/skypro1111/denoise-client/internal/processing"
)

// DefaultMaxUploadBytes matches the upload cap of the real service
const DefaultMaxUploadBytes = 16 << 20

// Config contains mock service configuration
type Config struct {
	GateThreshold  float64       // fraction of full scale below which a window is silenced
	GateWindow     int           // samples per gate window
	Latency        time.Duration // artificial processing delay
	MaxUploadBytes int64
	Models         []processing.ModelDescriptor
}

// Service is a local stand-in for the noise-suppression service. It accepts
// PCM-16 mono WAV uploads and applies a noise gate.
type Service struct {
	config Config
	logger *slog.Logger
}

// New creates a mock service, filling unset config fields with defaults
func New(config Config, logger *slog.Logger) *Service {
	if config.GateThreshold <= 0 {
		config.GateThreshold = 0.02
	}
	if config.GateWindow <= 0 {
		config.GateWindow = 256
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.Models == nil {
		config.Models = []processing.ModelDescriptor{
			{Name: "noise-gate", Extra: map[string]any{"description": "RMS noise gate for PCM-16 mono WAV"}},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{config: config, logger: logger}
}

// Handler returns the service routes mounted under /api
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, cors.AllowAll().Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/available-models", s.handleModels)
		r.Post("/process-audio", s.handleProcess)
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.config.Models})
}

func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		// A part without a filename is parsed as a plain form value
		if _, ok := r.MultipartForm.Value["file"]; ok {
			writeError(w, http.StatusBadRequest, "No selected file")
			return
		}
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		s.logger.Warn("Rejecting upload",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.config.Latency > 0 {
		select {
		case <-time.After(s.config.Latency):
		case <-r.Context().Done():
			return
		}
	}

	gated := audio.ApplyNoiseGate(samples, s.config.GateThreshold, s.config.GateWindow)

	processed, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Processed upload",
		slog.String("filename", header.Filename),
		slog.String("size", humanize.IBytes(uint64(len(data)))),
		slog.Int("sample_rate", sampleRate),
		slog.Int("gated_windows", gated),
		slog.String("request_id", r.Header.Get("X-Request-ID")),
	)

	w.Header().Set("Content-Type", audio.ContentTypeWAV)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "processed_audio.wav"}))
	w.WriteHeader(http.StatusOK)
	w.Write(processed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
