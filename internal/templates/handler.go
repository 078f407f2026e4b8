package templates

import (
	"log/slog"
	"net/http"

	"github.com/JaimeStill/mender/pkg/handlers"
	"github.com/JaimeStill/mender/pkg/routes"
)

// Handler provides HTTP endpoints for template inspection.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// NewHandler creates a Handler with the given system and logger.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "templates"),
	}
}

// Routes returns the route group definition for template endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/templates",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List, Summary: "List workflow templates"},
			{Method: "GET", Pattern: "/{name}", Handler: h.Detail, Summary: "Show a normalized template"},
		},
	}
}

// List returns every readable template manifest.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.sys.List()
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, infos)
}

// Detail loads a template and returns its roles and normalized document.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.sys.Detail(r.PathValue("name"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, detail)
}
