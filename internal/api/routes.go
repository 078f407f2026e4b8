package api

import (
	"net/http"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/pkg/handlers"
	"github.com/JaimeStill/mender/pkg/routes"
)

type index struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints []routes.Endpoint `json:"endpoints"`
}

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	groups := []routes.Group{
		domain.Jobs.Handler().Routes(),
		domain.Templates.Handler().Routes(),
		newEngineHandler(runtime.Engine, runtime.Logger).routes(),
		newStorageHandler(runtime.Storage, runtime.Logger).routes(),
	}
	routes.Register(mux, groups...)

	listing := index{
		Service:   "mender",
		Version:   cfg.Version,
		Endpoints: routes.Describe(cfg.API.BasePath, groups...),
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, listing)
	})
}
