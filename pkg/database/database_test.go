package database_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JaimeStill/mender/pkg/database"
	"github.com/JaimeStill/mender/pkg/lifecycle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSetsPoolParams(t *testing.T) {
	cfg := database.Config{Name: "testdb", User: "testuser", MaxOpenConns: 42, MaxIdleConns: 7}
	require.NoError(t, cfg.Finalize(nil))

	sys, err := database.New(&cfg, discardLogger())
	require.NoError(t, err)
	defer sys.Connection().Close()

	assert.Equal(t, 42, sys.Connection().Stats().MaxOpenConnections)
	assert.False(t, sys.Ready())
}

func TestStartAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("mender"),
		postgres.WithUsername("mender"),
		postgres.WithPassword("mender"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := database.Config{URL: dsn}
	require.NoError(t, cfg.Finalize(nil))

	var hooks []string
	sys, err := database.New(&cfg, discardLogger(),
		database.WithConnectHook("schema", func(ctx context.Context, db *sql.DB) error {
			hooks = append(hooks, "schema")
			_, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS probe (id int)")
			return err
		}),
		database.WithConnectHook("seed", func(ctx context.Context, db *sql.DB) error {
			hooks = append(hooks, "seed")
			_, err := db.ExecContext(ctx, "INSERT INTO probe VALUES (1)")
			return err
		}),
	)
	require.NoError(t, err)

	lc := lifecycle.New()
	require.NoError(t, sys.Start(lc))
	lc.WaitForStartup()
	assert.True(t, sys.Ready())
	assert.Equal(t, []string{"schema", "seed"}, hooks)

	require.NoError(t, lc.Shutdown(5*time.Second))
	assert.False(t, sys.Ready())
}

func TestStartUnreachable(t *testing.T) {
	cfg := database.Config{Host: "127.0.0.1", Port: 1, Name: "m", User: "m", ConnTimeout: "400ms"}
	require.NoError(t, cfg.Finalize(nil))

	var hookRan bool
	sys, err := database.New(&cfg, discardLogger(),
		database.WithConnectHook("never", func(context.Context, *sql.DB) error {
			hookRan = true
			return nil
		}),
	)
	require.NoError(t, err)

	lc := lifecycle.New()
	require.NoError(t, sys.Start(lc))

	start := time.Now()
	lc.WaitForStartup()
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, sys.Ready())
	assert.False(t, hookRan)

	require.NoError(t, lc.Shutdown(time.Second))
}

func TestConnectError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&database.ConnectError{Attempts: 3, Err: cause})

	assert.ErrorIs(t, err, database.ErrNotReady)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, http.StatusServiceUnavailable, database.MapHTTPStatus(err))
	assert.Equal(t, http.StatusInternalServerError, database.MapHTTPStatus(cause))
}
