package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/handlers"
	"github.com/JaimeStill/mender/pkg/routes"
)

// engineClient is the subset of *engine.Client the handler proxies.
type engineClient interface {
	Queue(ctx context.Context) (*engine.QueueState, error)
	SystemStats(ctx context.Context) (json.RawMessage, error)
	Cancel(ctx context.Context, promptID string) (engine.CancelOutcome, error)
}

type engineHandler struct {
	client engineClient
	logger *slog.Logger
}

func newEngineHandler(client engineClient, logger *slog.Logger) *engineHandler {
	return &engineHandler{
		client: client,
		logger: logger.With("handler", "engine"),
	}
}

func (h *engineHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/engine",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/queue", Handler: h.queue, Summary: "Engine work queue"},
			{Method: "GET", Pattern: "/stats", Handler: h.stats, Summary: "Engine system report"},
			{Method: "POST", Pattern: "/prompts/{id}/cancel", Handler: h.cancel, Summary: "Interrupt or dequeue one prompt"},
		},
	}
}

type queueSummary struct {
	Running int `json:"running"`
	Pending int `json:"pending"`
}

func (h *engineHandler) queue(w http.ResponseWriter, r *http.Request) {
	q, err := h.client.Queue(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadGateway, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, queueSummary{
		Running: len(q.Running),
		Pending: len(q.Pending),
	})
}

func (h *engineHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.client.SystemStats(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadGateway, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, stats)
}

type cancelResult struct {
	PromptID string               `json:"prompt_id"`
	Outcome  engine.CancelOutcome `json:"outcome"`
}

func (h *engineHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	outcome, err := h.client.Cancel(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadGateway, err)
		return
	}

	status := http.StatusOK
	if outcome == engine.CancelNotQueued {
		status = http.StatusConflict
	}
	handlers.RespondJSON(w, status, cancelResult{PromptID: id, Outcome: outcome})
}
