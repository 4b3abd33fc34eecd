// Package main is the entry point for the saltfish server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/reinferio/saltfish/internal/api"
	"github.com/reinferio/saltfish/internal/config"
	"github.com/reinferio/saltfish/internal/dataset"
	"github.com/reinferio/saltfish/internal/listener"
	"github.com/reinferio/saltfish/internal/objectstore"
	objectbadger "github.com/reinferio/saltfish/internal/objectstore/badger"
	objectmem "github.com/reinferio/saltfish/internal/objectstore/memory"
	"github.com/reinferio/saltfish/internal/pubsub"
	"github.com/reinferio/saltfish/internal/storage"
	storagemem "github.com/reinferio/saltfish/internal/storage/memory"
	"github.com/reinferio/saltfish/internal/storage/mysql"
	"github.com/reinferio/saltfish/internal/summarizer"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	bind := flag.String("bind", "", "Bind address host:port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("saltfish %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "saltfish: %v\n", err)
		os.Exit(1)
	}
	if *bind != "" {
		if err := applyBindOverride(cfg, *bind); err != nil {
			fmt.Fprintf(os.Stderr, "saltfish: %v\n", err)
			os.Exit(2)
		}
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting saltfish",
		slog.String("version", version),
		slog.String("metadata", cfg.Metadata.Backend),
		slog.String("kv", cfg.KV.Backend),
		slog.String("address", cfg.Address()),
	)

	meta, err := createMetadataStore(cfg, logger)
	if err != nil {
		logger.Error("failed to create metadata store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	objects, err := createObjectStore(cfg, logger)
	if err != nil {
		logger.Error("failed to create object store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bus := listener.NewBus(logger, 0)

	var publisher *pubsub.Publisher
	if cfg.Redis.Enabled {
		publisher, err = pubsub.NewPublisher(pubsub.Config{
			Host: cfg.Redis.Host,
			Port: cfg.Redis.Port,
			Key:  cfg.Redis.Key,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		bus.Register(listener.All, publisher.Handler())
		logger.Info("redis notifications enabled",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)),
			slog.String("key", cfg.Redis.Key),
		)
	}

	var summaries *summarizer.Map
	if cfg.Summarizer.Enabled {
		summaries, err = summarizer.NewMap(logger, objects, cfg.Buckets.Schemas, cfg.Buckets.Summarizers)
		if err != nil {
			logger.Error("failed to create summarizer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		bus.Register(listener.PutRecords, summaries.Handler())
	}

	svc := dataset.NewService(logger, meta, objects, bus, dataset.Config{
		RecordsBucketPrefix: cfg.Buckets.RecordsPrefix,
		SchemasBucket:       cfg.Buckets.Schemas,
		MaxGenerateIDCount:  cfg.Limits.MaxGenerateIDCount,
		MaxRandomIndex:      cfg.Limits.MaxRandomIndex,
	})

	server := api.NewServer(cfg, svc, summaries, meta, logger)
	objects.Instrument(server.Metrics())
	bus.OnPublish(func(kind listener.Kind) {
		server.Metrics().RecordPublication(kind.String())
	})

	// The registry is sealed here; no registrations after this point.
	bus.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
	}

	// Drain listeners before closing the stores they write to.
	bus.Close()
	if summaries != nil {
		summaries.Close()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if err := objects.Close(); err != nil {
		logger.Error("object store close error", slog.String("error", err.Error()))
	}
	if err := meta.Close(); err != nil {
		logger.Error("metadata store close error", slog.String("error", err.Error()))
	}

	logger.Info("shutdown complete")
}

// setupLogger builds the slog logger from the logging configuration.
// File output rotates via lumberjack.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

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
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// applyBindOverride parses a host:port flag value into the config.
func applyBindOverride(cfg *config.Config, bind string) error {
	host, portStr, ok := strings.Cut(bind, ":")
	if !ok {
		return fmt.Errorf("invalid bind address %q", bind)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid bind port %q", portStr)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = port
	return nil
}

// createMetadataStore creates the metadata store backend from
// configuration.
func createMetadataStore(cfg *config.Config, logger *slog.Logger) (storage.MetadataStore, error) {
	switch cfg.Metadata.Backend {
	case "memory":
		logger.Info("using in-memory metadata store")
		return storagemem.NewStore(), nil

	case "mysql":
		logger.Info("connecting to MariaDB",
			slog.String("host", cfg.MariaDB.Host),
			slog.Int("port", cfg.MariaDB.Port),
			slog.String("database", cfg.MariaDB.DB),
		)
		mysqlCfg := mysql.DefaultConfig()
		mysqlCfg.Host = cfg.MariaDB.Host
		mysqlCfg.Port = cfg.MariaDB.Port
		mysqlCfg.Database = cfg.MariaDB.DB
		mysqlCfg.Username = cfg.MariaDB.User
		mysqlCfg.Password = cfg.MariaDB.Password
		return mysql.NewStore(mysqlCfg)

	default:
		return nil, fmt.Errorf("unsupported metadata backend: %s", cfg.Metadata.Backend)
	}
}

// createObjectStore creates the object store client from configuration.
func createObjectStore(cfg *config.Config, logger *slog.Logger) (*objectstore.Client, error) {
	var backend objectstore.Backend
	switch cfg.KV.Backend {
	case "memory":
		logger.Info("using in-memory object store")
		backend = objectmem.NewBackend(nil)

	case "badger":
		logger.Info("opening badger object store", slog.String("path", cfg.KV.Path))
		var err error
		backend, err = objectbadger.NewBackend(cfg.KV.Path, nil)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported kv backend: %s", cfg.KV.Backend)
	}

	return objectstore.NewClient(backend, cfg.KV.Workers), nil
}
