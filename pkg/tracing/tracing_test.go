package tracing_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/tracing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigDefaults(t *testing.T) {
	cfg := &tracing.Config{}
	require.NoError(t, cfg.Finalize(nil))

	assert.False(t, cfg.Enabled)
	assert.Equal(t, tracing.ExporterNone, cfg.Exporter)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, "mender", cfg.ServiceName)
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("TEST_TRACING_ENABLED", "true")
	t.Setenv("TEST_TRACING_EXPORTER", "stdout")
	t.Setenv("TEST_TRACING_SAMPLE_RATE", "0.25")

	cfg := &tracing.Config{}
	require.NoError(t, cfg.Finalize(&tracing.Env{
		Enabled:    "TEST_TRACING_ENABLED",
		Exporter:   "TEST_TRACING_EXPORTER",
		SampleRate: "TEST_TRACING_SAMPLE_RATE",
	}))

	assert.True(t, cfg.Enabled)
	assert.Equal(t, tracing.ExporterStdout, cfg.Exporter)
	assert.Equal(t, 0.25, cfg.SampleRate)
}

func TestConfigValidation(t *testing.T) {
	for _, cfg := range []tracing.Config{
		{Exporter: "jaeger"},
		{SampleRate: 1.5},
		{SampleRate: -0.1},
	} {
		assert.Error(t, cfg.Finalize(nil))
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	cfg := &tracing.Config{}
	require.NoError(t, cfg.Finalize(nil))

	p, err := tracing.New(cfg, discardLogger())
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	_, span := p.Tracer().Start(t.Context(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestEnabledProviderRecordsAndFlushes(t *testing.T) {
	cfg := &tracing.Config{Enabled: true}
	require.NoError(t, cfg.Finalize(nil))

	p, err := tracing.New(cfg, discardLogger())
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.Tracer().Start(t.Context(), "recorded")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	lc := lifecycle.New()
	require.NoError(t, p.Start(lc))
	lc.WaitForStartup()
	require.NoError(t, lc.Shutdown(5*time.Second))
}
