package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wskeeper/internal/config"
	"github.com/rickgao/wskeeper/internal/connection"
	"github.com/rickgao/wskeeper/internal/database"
	"github.com/rickgao/wskeeper/internal/journal"
	"github.com/rickgao/wskeeper/internal/relay"
	"github.com/rickgao/wskeeper/internal/version"
	"github.com/rickgao/wskeeper/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/wskeeper.example.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting wskeeper",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"endpoint", cfg.Connection.Endpoint,
		"archive", cfg.Archive.Enabled,
		"relay", cfg.Relay.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	recorder := journal.NewRecorder("", logger)

	// Archive
	var pool *pgxpool.Pool
	var archive *writer.JournalWriter
	if cfg.Archive.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archive = writer.NewJournalWriter(writer.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, recorder.Subscribe(cfg.Archive.BufferSize), pool, logger)

		if err := archive.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare journal table", "error", err)
			os.Exit(1)
		}
		archive.Start(ctx)
	}

	// Relay
	var publisher *relay.Publisher
	if cfg.Relay.Enabled {
		client := relay.NewClient(relay.Options{
			Addr:       cfg.Relay.Addr,
			Password:   cfg.Relay.Password,
			DB:         cfg.Relay.DB,
			MaxRetries: cfg.Relay.MaxRetries,
		})
		defer client.Close()

		publisher = relay.NewPublisher(client, cfg.Relay.Channel, recorder.Subscribe(cfg.Relay.BufferSize), logger)
		if err := publisher.Ping(); err != nil {
			logger.Warn("redis not reachable yet", "addr", cfg.Relay.Addr, "error", err)
		}
		publisher.Start(ctx)
	}

	hooks := recorder.Hooks(connection.Hooks{
		OnGiveUp: func(attempts int) {
			logger.Error("reconnect attempts exhausted, shutting down", "attempts", attempts)
			cancel()
		},
	})

	mgr, err := connection.New(
		cfg.Connection.ManagerConfig(),
		hooks,
		connection.WithLogger(logger),
		connection.WithDialer(connection.NewWebsocketDialer(cfg.Connection.WebsocketConfig(), logger)),
	)
	switch {
	case errors.Is(err, connection.ErrDial):
		// A retry is already scheduled.
		logger.Warn("initial dial failed", "error", err)
	case err != nil:
		logger.Error("failed to create connection manager", "error", err)
		os.Exit(1)
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(mgr, pool, publisher, archive, recorder),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		mgr.Close()
		select {
		case <-mgr.Done():
		case <-shutdownCtx.Done():
			logger.Warn("connection manager did not close in time")
		}

		// Sinks flush what the manager recorded before it stopped.
		if archive != nil {
			archive.Stop(shutdownCtx)
		}
		if publisher != nil {
			publisher.Stop(shutdownCtx)
		}
		recorder.Close()

		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("wskeeper running",
		"instance_id", cfg.Instance.ID,
		"session", recorder.Session(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("wskeeper stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("wskeeper stopped")
}
