// Package main is the entry point for the correlation engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lattice-siem/internal/alerts"
	"lattice-siem/internal/config"
	"lattice-siem/internal/engine"
	"lattice-siem/internal/kafka"
	"lattice-siem/internal/pipeline"
	"lattice-siem/internal/rules"
	"lattice-siem/internal/schema"
	"lattice-siem/internal/storage"
	"lattice-siem/internal/windows"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (overrides LATTICE_CONFIG_PATH)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lattice-correlate %s\n", version)
		return
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("configuration loaded",
		"version", version,
		"kafka_brokers", cfg.Kafka.Brokers,
		"events_topic", cfg.Kafka.EventsTopic,
		"alerts_topic", cfg.Kafka.AlertsTopic,
		"rules_directory", cfg.Catalog.Directory,
		"windows_backend", cfg.Windows.Backend,
		"storage_enabled", cfg.Storage.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rule catalog
	catalog, err := rules.NewCatalog(cfg.Catalog)
	if err != nil {
		slog.Error("failed to load rule catalog", "error", err)
		os.Exit(1)
	}
	if cfg.Catalog.ReloadOnChange {
		if err := catalog.Watch(); err != nil {
			slog.Error("failed to watch rules directory", "error", err)
			os.Exit(1)
		}
	}
	defer catalog.Close()

	// Window store
	var store windows.Store
	switch cfg.Windows.Backend {
	case "memory":
		store = windows.NewMemoryStore(cfg.Windows.SweepInterval, cfg.Windows.TTLMultiplier)
	default:
		redisClient, err := windows.NewRedisClient(cfg.Windows.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		store = windows.NewRedisStore(redisClient, cfg.Windows.KeyPrefix, cfg.Windows.TTLMultiplier)
	}
	defer store.Close()

	// Alert repository
	var repo pipeline.Repository = alerts.NopRepository{}
	var chClient *storage.ClickHouseClient
	if cfg.Storage.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		defer chClient.Close()

		chRepo, err := alerts.NewClickHouseRepository(ctx, chClient)
		if err != nil {
			slog.Error("failed to prepare alerts table", "error", err)
			os.Exit(1)
		}
		repo = chRepo
	}

	// Alert publisher
	producer, err := kafka.NewProducer(&cfg.Kafka)
	if err != nil {
		slog.Error("failed to create kafka producer", "error", err)
		os.Exit(1)
	}
	publisher := alerts.NewKafkaPublisher(producer)
	defer publisher.Close()

	// Optional S3 archiver
	var archiver pipeline.Archiver
	if cfg.Archive.Enabled {
		s3Archiver, err := alerts.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			slog.Error("failed to create s3 archiver", "error", err)
			os.Exit(1)
		}
		archiver = s3Archiver
	}

	// Engine and pipeline
	eng := engine.New(catalog, store)
	pipe := pipeline.New(cfg.Pipeline, eng, repo, publisher, archiver)
	if err := pipe.Start(ctx); err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	// Event consumer
	validator := schema.NewValidatorWithConfig(cfg.Validation)
	consumer, err := kafka.NewConsumer(&cfg.Kafka, validator, pipe)
	if err != nil {
		slog.Error("failed to create kafka consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Start(); err != nil {
		slog.Error("failed to start kafka consumer", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	// Stop the inflow first, then drain the pipeline.
	if err := consumer.Stop(); err != nil {
		slog.Error("consumer stop error", "error", err)
	}
	pipe.Stop()

	metrics := pipe.Metrics()
	slog.Info("shutdown complete",
		"events_processed", metrics.Processed,
		"alerts_fired", metrics.AlertsFired,
		"persist_errors", metrics.PersistErrors,
		"publish_errors", metrics.PublishErrors,
	)
}

// setupLogging installs the process-wide slog handler.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
