// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/internal/infrastructure"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/middleware"
	"github.com/JaimeStill/mender/pkg/module"
)

// Module is the mounted API together with the domain systems behind it.
type Module struct {
	*module.Module
	Domain  *Domain
	runtime *Runtime
}

// NewModule creates the API module with all domain handlers and middleware.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*Module, error) {
	runtime := NewRuntime(cfg, infra)
	domain, err := NewDomain(runtime)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	verifier, err := middleware.NewVerifier(ctx, &cfg.API.Auth)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))
	m.Use(middleware.Trace(runtime.Tracing.Tracer()))
	m.Use(middleware.Auth(verifier))

	return &Module{Module: m, Domain: domain, runtime: runtime}, nil
}

// Start binds the domain systems to the lifecycle.
func (m *Module) Start(lc *lifecycle.Coordinator) error {
	if err := m.Domain.Templates.Start(lc); err != nil {
		return err
	}
	return m.Domain.Jobs.Start(lc)
}

// Recover fails jobs interrupted by a previous process. It is a no-op while
// the database is unavailable.
func (m *Module) Recover(ctx context.Context) {
	if !m.runtime.Database.Ready() {
		m.runtime.Logger.Warn("skipping job recovery, database not ready")
		return
	}

	n, err := m.Domain.Jobs.Recover(ctx)
	if err != nil {
		m.runtime.Logger.Error("job recovery failed", "error", err)
		return
	}
	if n > 0 {
		m.runtime.Logger.Warn("recovered interrupted jobs", "count", n)
	}
}
