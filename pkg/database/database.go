// Package database manages the PostgreSQL pool behind the job store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/mender/pkg/lifecycle"
)

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// System manages database connections and lifecycle coordination.
type System interface {
	// Connection returns the underlying database connection pool.
	Connection() *sql.DB
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether the startup connection and its hooks succeeded.
	Ready() bool
}

// ConnectHook runs once the first ping succeeds, before the system reports
// ready. A failing hook leaves the system not ready.
type ConnectHook func(ctx context.Context, db *sql.DB) error

// Option configures a database system.
type Option func(*database)

// WithConnectHook adds a hook run after the connection is established.
// Hooks run in registration order.
func WithConnectHook(name string, fn ConnectHook) Option {
	return func(d *database) {
		d.hooks = append(d.hooks, namedHook{name, fn})
	}
}

type namedHook struct {
	name string
	fn   ConnectHook
}

type database struct {
	conn        *sql.DB
	logger      *slog.Logger
	connTimeout time.Duration
	hooks       []namedHook
	ready       atomic.Bool
}

// New opens the pool and applies its limits. No connection is made until
// Start.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (System, error) {
	db, err := sql.Open("pgx", cfg.Dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	d := &database{
		conn:        db,
		logger:      logger.With("system", "database"),
		connTimeout: cfg.ConnTimeoutDuration(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *database) Connection() *sql.DB {
	return d.conn
}

func (d *database) Ready() bool {
	return d.ready.Load()
}

func (d *database) Start(lc *lifecycle.Coordinator) error {
	d.logger.Info("starting database connection")

	lc.OnStartup(func() {
		ctx := lc.Context()
		if err := d.connect(ctx); err != nil {
			d.logger.Error("database connection failed", "error", err)
			return
		}

		for _, h := range d.hooks {
			if err := h.fn(ctx, d.conn); err != nil {
				d.logger.Error("database connect hook failed", "hook", h.name, "error", err)
				return
			}
			d.logger.Info("database connect hook complete", "hook", h.name)
		}

		d.ready.Store(true)
		d.logger.Info("database connection established")
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		d.ready.Store(false)
		d.logger.Info("closing database connection")

		if err := d.conn.Close(); err != nil {
			d.logger.Error("database close failed", "error", err)
			return
		}

		d.logger.Info("database connection closed")
	})

	return nil
}

// connect pings until it succeeds or connTimeout elapses, backing off
// between attempts.
func (d *database) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.connTimeout)
	defer cancel()

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := d.conn.PingContext(ctx)
		if err == nil {
			return nil
		}

		d.logger.Debug("database ping failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return &ConnectError{Attempts: attempt, Err: err}
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
