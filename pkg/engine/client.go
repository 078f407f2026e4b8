// Package engine submits workflows to a ComfyUI-compatible image-processing
// engine and tracks the resulting jobs to a terminal state, listening on the
// engine's event channel and falling back to history polling.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/workflow"
)

const maxErrorBody = 4096

// Client talks to one engine instance. It is safe for concurrent use; each
// job gets its own event channel through Watch.
type Client struct {
	base      *url.URL
	http      *http.Client
	stream    *http.Client
	clientID  string
	transport string
	poll      time.Duration
	reconcile time.Duration
	logger    *slog.Logger
}

// NewClient creates a client from a finalized config.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	// The stream client bounds only the wait for response headers.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeoutDuration()

	return &Client{
		base:      base,
		http:      &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		stream:    &http.Client{Transport: transport},
		clientID:  cfg.ClientID,
		transport: cfg.Transport,
		poll:      cfg.PollIntervalDuration(),
		reconcile: cfg.ReconcileIntervalDuration(),
		logger:    logger.With("system", "engine"),
	}, nil
}

// BaseURL returns the engine address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Start registers a startup hook that reports whether the engine is reachable.
func (c *Client) Start(lc *lifecycle.Coordinator) error {
	c.logger.Info("starting engine client", "base_url", c.BaseURL(), "transport", c.transport)

	lc.OnStartup(func() {
		ctx, cancel := context.WithTimeout(lc.Context(), c.http.Timeout)
		defer cancel()

		if _, err := c.SystemStats(ctx); err != nil {
			c.logger.Warn("engine not reachable", "error", err)
			return
		}
		c.logger.Info("engine reachable")
	})

	return nil
}

func (c *Client) endpoint(p string, query url.Values) string {
	u := *c.base
	u.Path = path.Join(c.base.Path, p)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newClientID() string {
	return c.clientID + "-" + uuid.NewString()
}

type submitRequest struct {
	Prompt   workflow.Flat `json:"prompt"`
	ClientID string        `json:"client_id"`
}

type submitResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// Submit queues a flat workflow and returns the engine's prompt id. Events
// for the prompt are delivered to the channel opened with clientID.
func (c *Client) Submit(ctx context.Context, flat workflow.Flat, clientID string) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: flat, ClientID: clientID})
	if err != nil {
		return "", &SubmissionError{Op: "encode prompt", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &SubmissionError{Op: "post prompt", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{Op: "read response", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmissionError{Op: "post prompt", StatusCode: resp.StatusCode, Body: truncate(data)}
	}

	var result submitResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", &SubmissionError{Op: "decode response", StatusCode: resp.StatusCode, Body: truncate(data), Err: err}
	}
	if result.PromptID == "" {
		return "", &SubmissionError{Op: "post prompt", StatusCode: resp.StatusCode, Body: truncate(data)}
	}

	c.logger.InfoContext(ctx, "prompt submitted", "prompt_id", result.PromptID, "number", result.Number)
	return result.PromptID, nil
}

// History returns the history entry of a prompt, or nil when the engine has
// not recorded one yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	var history map[string]HistoryEntry
	if err := c.getJSON(ctx, "/history/"+promptID, nil, &history); err != nil {
		return nil, fmt.Errorf("history %s: %w", promptID, err)
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Queue returns the engine's running and pending work.
func (c *Client) Queue(ctx context.Context) (*QueueState, error) {
	var q QueueState
	if err := c.getJSON(ctx, "/queue", nil, &q); err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	return &q, nil
}

// SystemStats returns the engine's raw system report.
func (c *Client) SystemStats(ctx context.Context) (json.RawMessage, error) {
	var stats json.RawMessage
	if err := c.getJSON(ctx, "/system_stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("system stats: %w", err)
	}
	return stats, nil
}

// CancelOutcome reports what Cancel did to a prompt.
type CancelOutcome string

const (
	CancelInterrupted CancelOutcome = "interrupted"
	CancelDequeued    CancelOutcome = "dequeued"
	CancelNotQueued   CancelOutcome = "not_queued"
)

// Cancel stops a single prompt. A running prompt is interrupted and a
// pending one is removed from the queue. Prompts that are neither are left
// alone.
func (c *Client) Cancel(ctx context.Context, promptID string) (CancelOutcome, error) {
	q, err := c.Queue(ctx)
	if err != nil {
		return "", fmt.Errorf("cancel %s: %w", promptID, err)
	}

	running, pending := q.Position(promptID)
	switch {
	case running:
		if err := c.postJSON(ctx, "/interrupt", map[string]string{"prompt_id": promptID}); err != nil {
			return "", fmt.Errorf("interrupt %s: %w", promptID, err)
		}
		c.logger.InfoContext(ctx, "prompt interrupted", "prompt_id", promptID)
		return CancelInterrupted, nil
	case pending:
		if err := c.postJSON(ctx, "/queue", map[string][]string{"delete": {promptID}}); err != nil {
			return "", fmt.Errorf("dequeue %s: %w", promptID, err)
		}
		c.logger.InfoContext(ctx, "prompt dequeued", "prompt_id", promptID)
		return CancelDequeued, nil
	default:
		return CancelNotQueued, nil
	}
}

// UploadImage stores an image in the engine's input area so a loader node
// can reference it. Failures are reported as *SubmissionError.
func (c *Client) UploadImage(ctx context.Context, name string, r io.Reader) (UploadedImage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", path.Base(name))
	if err != nil {
		return UploadedImage{}, &SubmissionError{Op: "upload image", Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadedImage{}, &SubmissionError{Op: "upload image", Err: err}
	}
	for _, field := range [][2]string{{"type", "input"}, {"overwrite", "true"}} {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return UploadedImage{}, &SubmissionError{Op: "upload image", Err: err}
		}
	}
	if err := w.Close(); err != nil {
		return UploadedImage{}, &SubmissionError{Op: "upload image", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/image", nil), &buf)
	if err != nil {
		return UploadedImage{}, &SubmissionError{Op: "upload image", Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return UploadedImage{}, &SubmissionError{Op: "upload image", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadedImage{}, &SubmissionError{Op: "upload image", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return UploadedImage{}, &SubmissionError{Op: "upload image", StatusCode: resp.StatusCode, Body: truncate(data)}
	}

	var uploaded UploadedImage
	if err := json.Unmarshal(data, &uploaded); err != nil || uploaded.Name == "" {
		return UploadedImage{}, &SubmissionError{Op: "upload image", StatusCode: resp.StatusCode, Body: truncate(data), Err: err}
	}

	c.logger.InfoContext(ctx, "image uploaded", "name", uploaded.Reference())
	return uploaded, nil
}

// Download is an artifact body fetched from the engine. The caller must
// close Body.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// View fetches the bytes of an output artifact. Only the wait for response
// headers is bounded by the request timeout; reading Body is bounded by ctx.
func (c *Client) View(ctx context.Context, a workflow.Artifact) (*Download, error) {
	query := url.Values{}
	query.Set("filename", a.Filename)
	query.Set("subfolder", a.Subfolder)
	query.Set("type", a.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/view", query), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", a.Filename, err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("view %s: status %d: %s", a.Filename, resp.StatusCode, data)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Download{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, p string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(p, query), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, p string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(p, nil), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func truncate(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
