package main

import (
	"encoding/json"
	"net/http"

	"github.com/JaimeStill/mender/internal/api"
	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/internal/infrastructure"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/module"
)

type Modules struct {
	API *api.Module
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config) (*Modules, error) {
	apiModule, err := api.NewModule(cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Modules{API: apiModule}, nil
}

func (m *Modules) Mount(router *module.Router) {
	router.Mount(m.API.Module)
}

func (m *Modules) Start(lc *lifecycle.Coordinator) error {
	return m.API.Start(lc)
}

type readiness struct {
	Status  string   `json:"status"`
	Pending []string `json:"pending,omitempty"`
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// readinessChecks lists the systems /readyz waits on, in report order.
// Systems without a Ready method are skipped.
func readinessChecks(infra *infrastructure.Infrastructure) []namedCheck {
	candidates := []struct {
		name string
		sys  any
	}{
		{"database", infra.Database},
		{"storage", infra.Storage},
	}

	var checks []namedCheck
	for _, c := range candidates {
		if rc, ok := c.sys.(lifecycle.ReadinessChecker); ok {
			checks = append(checks, namedCheck{c.name, rc})
		}
	}
	return checks
}

type namedCheck struct {
	name string
	lifecycle.ReadinessChecker
}

func buildRouter(infra *infrastructure.Infrastructure) *module.Router {
	router := module.NewRouter()
	checks := readinessChecks(infra)

	router.HandleNative("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, readiness{Status: "ok"})
	})

	router.HandleNative("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		writeReadiness(w, infra.Lifecycle, checks)
	})

	return router
}

func writeReadiness(w http.ResponseWriter, lc lifecycle.ReadinessChecker, checks []namedCheck) {
	body := readiness{Status: "ready"}
	if !lc.Ready() {
		body.Pending = append(body.Pending, "lifecycle")
	}
	for _, c := range checks {
		if !c.Ready() {
			body.Pending = append(body.Pending, c.name)
		}
	}

	if len(body.Pending) > 0 {
		body.Status = "not ready"
		writeStatus(w, http.StatusServiceUnavailable, body)
		return
	}
	writeStatus(w, http.StatusOK, body)
}
