package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/ghmonitor/internal/alerts"
	"github.com/user/ghmonitor/internal/api"
	"github.com/user/ghmonitor/internal/config"
	"github.com/user/ghmonitor/internal/github"
	"github.com/user/ghmonitor/internal/ingest"
	"github.com/user/ghmonitor/internal/notifier"
	"github.com/user/ghmonitor/internal/storage"
	"github.com/user/ghmonitor/internal/stream"
	"github.com/user/ghmonitor/pkg/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init(true, "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	debug := cfg.Log.Level == "debug"
	if err := logger.Init(debug, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting GitHub Monitor")

	// Initialize database and stores
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	events := storage.NewEventStore(db)
	alertStore := storage.NewAlertStore(db)
	repositories := storage.NewRepositoryStore(db)
	contributors := storage.NewContributorStore(db)
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Broadcast hub for live subscribers
	hub := stream.NewHub(cfg.Stream.SubscriberBuffer, cfg.Stream.IdleTimeout)
	defer hub.Close()

	// Notifier: Telegram when configured, log sink otherwise
	var notify notifier.Notifier = notifier.NewLogNotifier()
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tn, err := notifier.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn().Err(err).Msg("Telegram notifier unavailable, falling back to log notifier")
		} else {
			notify = tn
		}
	}

	// Rule engine
	params := alerts.Params{
		FrequencyThreshold: cfg.Rules.FrequencyThreshold,
		FrequencyInterval:  time.Duration(cfg.Rules.FrequencyInterval) * time.Minute,
		SensitivePatterns:  cfg.Rules.SensitivePatterns,
		WorkdayStartHour:   cfg.Rules.WorkdayStartHour,
		WorkdayEndHour:     cfg.Rules.WorkdayEndHour,
	}
	engine := alerts.NewEngine(params, events, alertStore)

	// Ingestion pipeline and webhook handler
	service := ingest.NewService(events, repositories, contributors, engine, hub, notify)
	webhook := ingest.NewHandler(cfg.GitHub.WebhookSecret, service)
	if cfg.GitHub.WebhookSecret == "" {
		logger.Warn().Msg("No webhook secret configured, all deliveries are accepted unsigned")
	}

	// Diff client
	diffs := github.NewClient(cfg.GitHub.Token)

	// HTTP server
	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: api.NewServer(events, alertStore, repositories, hub, diffs, webhook).Router(),
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}
