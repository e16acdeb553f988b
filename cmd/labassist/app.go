package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/RichardoC/labassist/internal/config"
	"github.com/RichardoC/labassist/internal/db"
	"github.com/RichardoC/labassist/internal/llm"
	"github.com/RichardoC/labassist/internal/session"
	"github.com/RichardoC/labassist/internal/telemetry"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// app is everything a command needs, wired from configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *db.Database
	sessions *session.Manager
	shutdown func(context.Context) error
}

func loadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// openStore opens only the credential store, for commands that need nothing else.
func openStore(configPath string) (*db.Database, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := db.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store %s: %w", cfg.Database, err)
	}
	return store, nil
}

func newApp(ctx context.Context, configPath string, consoleLog bool) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if consoleLog {
		cfg.Log.Console = true
	}

	logger, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracer, meter, shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := db.New(cfg.Database)
	if err != nil {
		logger.Error("failed to initialize database", zap.Error(err), zap.String("dbPath", cfg.Database))
		return nil, multierr.Append(fmt.Errorf("failed to open credential store: %w", err), shutdown(ctx))
	}

	llmService, err := llm.New(cfg.Model, logger, llm.WithTracer(tracer), llm.WithMeter(meter))
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to initialize LLM service: %w", err), store.Close(), shutdown(ctx))
	}

	sessions, err := session.NewManager(store, llmService, logger)
	if err != nil {
		return nil, multierr.Combine(err, store.Close(), shutdown(ctx))
	}

	logger.Info("labassist started", zap.String("model", llmService.Model()), zap.Bool("authenticated", sessions.Authenticated()))

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		sessions: sessions,
		shutdown: shutdown,
	}, nil
}

func (a *app) Close(ctx context.Context) error {
	err := multierr.Combine(a.shutdown(ctx), a.store.Close())
	_ = a.logger.Sync()
	return err
}
