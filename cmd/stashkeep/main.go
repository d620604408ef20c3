// Package main is the entrypoint for the stashkeep bot.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/admin"
	"github.com/stashkeep/stashkeep/internal/archive"
	"github.com/stashkeep/stashkeep/internal/config"
	"github.com/stashkeep/stashkeep/internal/dispatch"
	"github.com/stashkeep/stashkeep/internal/messenger"
	"github.com/stashkeep/stashkeep/internal/opsapi"
	"github.com/stashkeep/stashkeep/internal/service"
	"github.com/stashkeep/stashkeep/internal/session"
	"github.com/stashkeep/stashkeep/internal/store"

	// Register store drivers
	_ "github.com/stashkeep/stashkeep/internal/store/memory"
	_ "github.com/stashkeep/stashkeep/internal/store/postgres"
	_ "github.com/stashkeep/stashkeep/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	token := flag.String("token", "", "Bot token (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: memory, sqlite, or postgres (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	opsListen := flag.String("ops-listen", "", "Ops API listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	logFormat := flag.String("log-format", "", "Log format: json or text (overrides config)")
	flag.Parse()

	// Load .env before anything reads the environment. Missing file is fine.
	_ = godotenv.Load()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			Token:         token,
			StoreDriver:   storeDriver,
			DataDir:       dataDir,
			OpsListenAddr: opsListen,
			LogLevel:      logLevel,
			LogFormat:     logFormat,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	// Persistence
	st, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
		Options: cfg.Store.Options,
	})
	if err != nil {
		logger.Error("failed to create store", "error", err, "available", store.AvailableDrivers())
		os.Exit(1)
	}
	if err := st.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "driver", st.Name(), "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Name())

	// Platform transport and core wiring
	api := messenger.NewAPIClient("", cfg.Bot.Token, logger)
	dispatcher := dispatch.New(api, dispatch.Config{
		ChunkSize:            cfg.Dispatch.ChunkSize,
		ChunkDelay:           cfg.Dispatch.ChunkDelay(),
		RetryBackoff:         cfg.Dispatch.RetryBackoff(),
		MaxRetries:           cfg.Dispatch.MaxRetries,
		StatusMinInterval:    cfg.Dispatch.StatusInterval(),
		StatusCountThreshold: cfg.Dispatch.StatusThreshold,
		MaxConcurrentSends:   cfg.Dispatch.MaxConcurrentSends,
	}, logger)

	sessions := session.NewCoordinator()
	evaluator := access.NewEvaluator(st, cfg.Bot.AdminIDs, logger)
	sessions.OnReset(dispatcher.CancelAll)
	sessions.OnReset(evaluator.InvalidateVerifications)

	var archiver service.Archiver
	if cfg.Bot.ArchiveChatID != 0 {
		archiver = archive.New(api, cfg.Bot.ArchiveChatID, logger)
	}

	svc := service.New(st, sessions, evaluator, dispatcher, archiver, logger)
	panel := admin.New(st, evaluator, dispatcher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ops API (optional)
	var ops *opsapi.Server
	if cfg.Ops.Enabled {
		ops = opsapi.New(cfg.Ops.ListenAddr, cfg.Ops.TokenHash, st, logger)
		go func() {
			if err := ops.ListenAndServe(); err != nil {
				logger.Error("ops api error", "error", err)
			}
		}()
	}

	b := newBot(api, svc, panel, logger)
	logger.Info("bot started, press Ctrl+C to stop")
	if err := b.run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("bot loop error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown signal received")
	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops api shutdown error", "error", err)
		}
	}
	logger.Info("bot stopped")
}
