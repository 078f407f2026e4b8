package engine

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Watcher follows a submitted prompt to a terminal state.
type Watcher interface {
	// ClientID is the id the prompt must be submitted with so its events
	// reach this watcher.
	ClientID() string
	// Transport names the strategy in use.
	Transport() string
	// Wait blocks until the engine's history records the prompt as finished
	// or ctx ends, in which case it returns context.Cause(ctx).
	Wait(ctx context.Context, promptID string, onProgress func(Progress)) (*HistoryEntry, error)
	// Close releases the watcher's resources. It is safe to call more than once.
	Close() error
}

// Watch opens a watcher before a prompt is submitted so that no completion
// event can be missed. It prefers the event channel and falls back to
// polling when the channel cannot be opened or polling is configured.
func (c *Client) Watch(ctx context.Context) Watcher {
	clientID := c.newClientID()
	poll := &pollWatcher{
		client:   c,
		clientID: clientID,
		interval: c.poll,
		logger:   c.logger.With("client_id", clientID),
	}

	if c.transport == TransportPoll {
		return poll
	}

	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	wsURL := u.JoinPath("ws")
	wsURL.RawQuery = url.Values{"clientId": {clientID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		c.logger.WarnContext(ctx, "event channel unavailable, polling", "error", err)
		return poll
	}

	return newEventWatcher(conn, poll, c.reconcile, c.logger.With("client_id", clientID))
}

type pollWatcher struct {
	client   *Client
	clientID string
	interval time.Duration
	logger   *slog.Logger
}

func (p *pollWatcher) ClientID() string  { return p.clientID }
func (p *pollWatcher) Transport() string { return TransportPoll }
func (p *pollWatcher) Close() error      { return nil }

func (p *pollWatcher) Wait(ctx context.Context, promptID string, _ func(Progress)) (*HistoryEntry, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		entry, err := p.client.History(ctx, promptID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, context.Cause(ctx)
		case err != nil:
			p.logger.WarnContext(ctx, "history query failed", "prompt_id", promptID, "error", err)
		case entry != nil && entry.Done():
			return entry, nil
		}

		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-ticker.C:
		}
	}
}
