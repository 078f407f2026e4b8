// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, tracing, database, storage, engine) that
// domain systems require.
package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/migrations"
	"github.com/JaimeStill/mender/pkg/database"
	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/storage"
	"github.com/JaimeStill/mender/pkg/tracing"
)

// Infrastructure holds the core systems required by all domain modules.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Tracing   *tracing.Provider
	Database  database.System
	Storage   storage.System
	Engine    *engine.Client
	Runner    *engine.Runner
}

// NewLogger builds the process logger from the server config.
func NewLogger(cfg *config.ServerConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level(), AddSource: cfg.LogSource}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := NewLogger(&cfg.Server, os.Stderr)

	tp, err := tracing.New(&cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	var dbOpts []database.Option
	if cfg.Database.AutoMigrate {
		dsn := cfg.Database.URLString()
		dbOpts = append(dbOpts, database.WithConnectHook("migrate", func(context.Context, *sql.DB) error {
			return migrations.Up(dsn)
		}))
	}

	db, err := database.New(&cfg.Database, logger, dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	client, err := engine.NewClient(&cfg.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	runner := engine.NewRunner(
		client,
		cfg.Engine.TimeoutDuration(),
		logger,
		engine.WithTracerProvider(tp.TracerProvider()),
	)

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Tracing:   tp,
		Database:  db,
		Storage:   store,
		Engine:    client,
		Runner:    runner,
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if err := i.Tracing.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("tracing start failed: %w", err)
	}
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	if err := i.Engine.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("engine start failed: %w", err)
	}
	return nil
}
