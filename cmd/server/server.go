package main

import (
	"context"
	"time"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/internal/infrastructure"
)

type Server struct {
	infra           *infrastructure.Infrastructure
	modules         *Modules
	http            *httpServer
	shutdownTimeout time.Duration
}

func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	modules, err := NewModules(infra, cfg)
	if err != nil {
		return nil, err
	}

	router := buildRouter(infra)
	modules.Mount(router)

	infra.Logger.Info(
		"server initialized",
		"addr", cfg.Server.Addr(),
		"version", cfg.Version,
		"env", cfg.Env(),
		"engine", cfg.Engine.BaseURL,
		"templates", cfg.Templates.Dir,
	)

	return &Server{
		infra:           infra,
		modules:         modules,
		http:            newHTTPServer(&cfg.Server, router, infra.Logger),
		shutdownTimeout: cfg.ShutdownTimeoutDuration(),
	}, nil
}

// Run starts every system, serves until ctx is done, then shuts down within
// the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		return err
	}

	<-ctx.Done()
	s.infra.Logger.Info("initiating shutdown", "timeout", s.shutdownTimeout)
	return s.infra.Lifecycle.Shutdown(s.shutdownTimeout)
}

func (s *Server) start() error {
	s.infra.Logger.Info("starting service")

	if err := s.infra.Start(); err != nil {
		return err
	}
	if err := s.modules.Start(s.infra.Lifecycle); err != nil {
		return err
	}
	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	// Job recovery needs the database, so it waits for startup hooks.
	lc := s.infra.Lifecycle
	lc.Go(func(ctx context.Context) {
		lc.WaitForStartup()
		s.modules.API.Recover(ctx)
		s.infra.Logger.Info("all subsystems ready")
	})

	return nil
}
