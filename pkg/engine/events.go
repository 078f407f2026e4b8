package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var errSettled = errors.New("watch settled")

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type messageData struct {
	PromptID string  `json:"prompt_id"`
	Node     *string `json:"node"`
	Value    int     `json:"value"`
	Max      int     `json:"max"`
}

type eventWatcher struct {
	conn      *websocket.Conn
	poll      *pollWatcher
	reconcile time.Duration
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

func newEventWatcher(conn *websocket.Conn, poll *pollWatcher, reconcile time.Duration, logger *slog.Logger) *eventWatcher {
	return &eventWatcher{
		conn:      conn,
		poll:      poll,
		reconcile: reconcile,
		logger:    logger,
	}
}

func (w *eventWatcher) ClientID() string  { return w.poll.clientID }
func (w *eventWatcher) Transport() string { return TransportWebSocket }

func (w *eventWatcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// Wait runs three goroutines: a reader that forwards channel messages, a
// closer that tears the connection down once waiting ends, and the observer
// that owns every decision. Only the observer's result is returned.
func (w *eventWatcher) Wait(ctx context.Context, promptID string, onProgress func(Progress)) (*HistoryEntry, error) {
	events := make(chan message, 32)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)
		w.read(gctx, events)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		w.Close()
		return nil
	})

	var (
		entry   *HistoryEntry
		waitErr error
	)
	g.Go(func() error {
		entry, waitErr = w.observe(gctx, promptID, events, onProgress)
		return errSettled
	})

	g.Wait()
	return entry, waitErr
}

func (w *eventWatcher) read(ctx context.Context, out chan<- message) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.WarnContext(ctx, "event channel lost", "error", err)
			}
			return
		}

		// binary frames carry preview images
		if kind != websocket.TextMessage {
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.DebugContext(ctx, "unreadable event", "error", err)
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (w *eventWatcher) observe(
	ctx context.Context,
	promptID string,
	events <-chan message,
	onProgress func(Progress),
) (*HistoryEntry, error) {
	if entry, ok := w.check(ctx, promptID); ok {
		return entry, nil
	}

	ticker := time.NewTicker(w.reconcile)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)

		case msg, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil, context.Cause(ctx)
				}
				w.logger.WarnContext(ctx, "continuing with polling", "prompt_id", promptID)
				return w.poll.Wait(ctx, promptID, onProgress)
			}

			if !w.handle(msg, promptID, onProgress) {
				continue
			}
			if entry, ok := w.check(ctx, promptID); ok {
				return entry, nil
			}

		case <-ticker.C:
			if entry, ok := w.check(ctx, promptID); ok {
				return entry, nil
			}
		}
	}
}

// handle applies a message and reports whether it signals that the prompt
// may have finished.
func (w *eventWatcher) handle(msg message, promptID string, onProgress func(Progress)) bool {
	var data messageData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return false
		}
	}

	if data.PromptID != "" && data.PromptID != promptID {
		return false
	}

	switch msg.Type {
	case "executing":
		return data.PromptID == promptID && data.Node == nil
	case "progress":
		if onProgress != nil {
			p := Progress{Value: data.Value, Max: data.Max}
			if data.Node != nil {
				p.Node = *data.Node
			}
			onProgress(p)
		}
		return false
	case "execution_error", "execution_interrupted", "execution_success":
		return data.PromptID == promptID
	default:
		return false
	}
}

// check asks history for the authoritative state. Query failures are
// logged and treated as not finished.
func (w *eventWatcher) check(ctx context.Context, promptID string) (*HistoryEntry, bool) {
	entry, err := w.poll.client.History(ctx, promptID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WarnContext(ctx, "history query failed", "prompt_id", promptID, "error", err)
		}
		return nil, false
	}
	if entry == nil || !entry.Done() {
		return nil, false
	}
	return entry, true
}
