package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/skypro1111/denoise-client/internal/config"
	"github.com/skypro1111/denoise-client/internal/metrics"
	"github.com/skypro1111/denoise-client/internal/playback"
	"github.com/skypro1111/denoise-client/internal/processing"
	"github.com/skypro1111/denoise-client/internal/server"
	"github.com/skypro1111/denoise-client/internal/session"
)

const (
	serviceName    = "denoise-client"
	serviceVersion = "1.0.0"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] <command> [args]

Commands:
  process <file>   Send an audio file for noise suppression and save processed_<file>
  models           List the models offered by the processing service
  health           Check that the processing service is reachable
  serve            Run the HTTP API for a presentation layer

Flags:
`, filepath.Base(os.Args[0]))
	pflag.PrintDefaults()
}

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to configuration file")
	envFile := pflag.String("env-file", ".env", "Path to a .env file (ignored if missing)")
	baseURL := pflag.String("base-url", "", "Processing service base URL (overrides config and "+config.EnvAPIURL+")")
	outputDir := pflag.StringP("output-dir", "o", "", "Directory for processed files (default: next to the input)")
	logLevel := pflag.String("log-level", "", "Log level (debug, info, warn, error)")
	pflag.Usage = usage
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *baseURL != "" {
		cfg.Service.BaseURL = *baseURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Debug("Configuration loaded",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
		slog.String("base_url", cfg.Service.BaseURL),
		slog.Duration("timeout", cfg.Service.GetTimeoutDuration()),
	)

	appMetrics := metrics.NewMetrics()

	client, err := processing.NewClient(processing.Config{
		BaseURL:   cfg.Service.BaseURL,
		Timeout:   cfg.Service.GetTimeoutDuration(),
		UserAgent: cfg.Service.UserAgent,
	}, processing.WithLogger(logger.With(slog.String("component", "processing"))),
		processing.WithMetrics(appMetrics))
	if err != nil {
		logger.Error("Failed to create processing client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handles := playback.NewRegistry(cfg.Playback.MaxBytes, appMetrics)
	sess := session.New(client, handles, logger.With(slog.String("component", "session")), appMetrics,
		session.Config{SubmitTimeout: cfg.Service.GetTimeoutDuration()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch pflag.Arg(0) {
	case "process":
		err = runProcess(ctx, sess, pflag.Args()[1:], *outputDir)
	case "models":
		err = runModels(ctx, client)
	case "health":
		err = runHealth(ctx, client)
	case "serve":
		err = runServe(ctx, cfg, logger, sess, handles, client, appMetrics)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", pflag.Arg(0))
		usage()
		os.Exit(2)
	}

	if closeErr := sess.Close(); closeErr != nil {
		logger.Warn("Failed to release playback handles", slog.String("error", closeErr.Error()))
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runProcess drives one selection and submission through the session and
// writes the processed audio as processed_<name>
func runProcess(ctx context.Context, sess *session.Session, args []string, outputDir string) error {
	if len(args) != 1 {
		return errors.New(session.NoSelectionMessage)
	}
	inputPath := args[0]

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", inputPath, err)
	}

	name := filepath.Base(inputPath)
	file := processing.NewInputFile(name, mime.TypeByExtension(filepath.Ext(name)), data)
	if err := sess.SelectFile(file); err != nil {
		return errors.New(processing.Message(err))
	}

	fmt.Printf("Selected %s (%s, %s)\n", name, file.ContentType, humanize.IBytes(uint64(file.Size())))

	startTime := time.Now()
	done, err := sess.StartProcessing(ctx)
	if err != nil {
		return errors.New(processing.Message(err))
	}

	select {
	case <-done:
	case <-ctx.Done():
		return errors.New("Processing interrupted")
	}

	outcome, ok := sess.Outcome()
	if !ok {
		return errors.New(processing.DefaultProcessMessage)
	}
	if outcome.Kind != session.OutcomeSucceeded {
		return errors.New(outcome.Message)
	}

	snap := sess.Snapshot()
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	outputPath := filepath.Join(dir, snap.DownloadName)

	if err := os.WriteFile(outputPath, outcome.Payload, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	fmt.Printf("Saved %s (%s) in %s\n", outputPath,
		humanize.IBytes(uint64(len(outcome.Payload))), time.Since(startTime).Round(time.Millisecond))
	return nil
}

func runModels(ctx context.Context, client *processing.Client) error {
	models, err := client.ListModels(ctx)
	if err != nil {
		return errors.New(processing.Message(err))
	}

	if len(models) == 0 {
		fmt.Println("No models available")
		return nil
	}

	for _, model := range models {
		if description, ok := model.Extra["description"].(string); ok {
			fmt.Printf("%s\t%s\n", model.Name, description)
			continue
		}
		fmt.Println(model.Name)
	}
	return nil
}

func runHealth(ctx context.Context, client *processing.Client) error {
	if err := client.Health(ctx); err != nil {
		return errors.New(processing.Message(err))
	}

	fmt.Printf("Processing service at %s is healthy\n", client.BaseURL())
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, sess *session.Session,
	handles *playback.Registry, client *processing.Client, appMetrics *metrics.Metrics) error {

	if !cfg.HTTP.Enabled {
		return errors.New("HTTP API is disabled in the configuration")
	}

	httpServer := server.NewHTTPServer(cfg, logger.With(slog.String("component", "http")), sess, handles, client, appMetrics)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("service", serviceName),
		slog.String("address", cfg.HTTP.ListenAddress()),
		slog.String("processing_service", client.BaseURL()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped",
		slog.Int("playback_handles", handles.Len()),
		slog.String("playback_bytes", humanize.IBytes(uint64(handles.Bytes()))),
	)
	return nil
}
