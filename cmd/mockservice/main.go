package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/skypro1111/denoise-client/internal/mockservice"
)

func main() {
	addr := pflag.String("addr", ":5000", "Address to listen on")
	threshold := pflag.Float64("gate-threshold", 0.02, "Noise gate threshold as a fraction of full scale")
	window := pflag.Int("gate-window", 256, "Noise gate window in samples")
	latency := pflag.Duration("latency", 0, "Artificial processing delay")
	maxUploadMB := pflag.Int64("max-upload-mb", 16, "Upload limit in MiB")
	jsonLogs := pflag.Bool("json", false, "Log as JSON")
	pflag.Parse()

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)

	svc := mockservice.New(mockservice.Config{
		GateThreshold:  *threshold,
		GateWindow:     *window,
		Latency:        *latency,
		MaxUploadBytes: *maxUploadMB << 20,
	}, logger)

	srv := &http.Server{
		Addr:        *addr,
		Handler:     svc.Handler(),
		ReadTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Mock processing service starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/api/process-audio"),
		slog.Float64("gate_threshold", *threshold),
		slog.Duration("latency", *latency),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
