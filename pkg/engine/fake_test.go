package engine_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/workflow"
)

const successEntry = `{
	"status": {"status_str": "success", "completed": true, "messages": [["execution_start", {"prompt_id": "x"}]]},
	"outputs": {
		"19": {"images": [{"filename": "ref.png", "subfolder": "", "type": "output"}]},
		"18": {"images": [{"filename": "res.png", "subfolder": "", "type": "output"}]}
	}
}`

const errorEntry = `{
	"status": {"status_str": "error", "completed": false, "messages": [
		["execution_start", {"prompt_id": "x"}],
		["execution_error", {"prompt_id": "x", "node_id": "3", "node_type": "KSampler", "exception_type": "RuntimeError", "exception_message": "CUDA out of memory"}]
	]},
	"outputs": {}
}`

type submission struct {
	ClientID string
	Prompt   workflow.Flat
}

type fakeEngine struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	conns       map[string]*websocket.Conn
	entry       string
	finished    bool
	submissions []submission
	uploads     []string
	interrupts  []string
	dequeued    []string

	requests       atomic.Int32
	historyQueries atomic.Int32

	submitStatus int
	submitBody   string
	disableWS    bool
	onSubmit     func(clientID, promptID string)
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()

	f := &fakeEngine{t: t, conns: make(map[string]*websocket.Conn)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", f.handlePrompt)
	mux.HandleFunc("GET /history/{id}", f.handleHistory)
	mux.HandleFunc("GET /ws", f.handleWS)
	mux.HandleFunc("POST /upload/image", f.handleUpload)
	mux.HandleFunc("GET /view", f.handleView)
	mux.HandleFunc("GET /queue", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"queue_running": [[1, "p-1", {}, {}, []]], "queue_pending": [[2, "p-2", {}, {}, []]]}`)
	})
	mux.HandleFunc("POST /interrupt", f.handleInterrupt)
	mux.HandleFunc("POST /queue", f.handleQueueDelete)
	mux.HandleFunc("GET /system_stats", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"system": {"os": "posix"}, "devices": []}`)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()
		f.server.Close()
	})
	return f
}

func (f *fakeEngine) handlePrompt(w http.ResponseWriter, r *http.Request) {
	n := f.requests.Add(1)

	var body struct {
		Prompt   workflow.Flat `json:"prompt"`
		ClientID string        `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.submissions = append(f.submissions, submission{ClientID: body.ClientID, Prompt: body.Prompt})
	f.mu.Unlock()

	if f.submitStatus != 0 {
		w.WriteHeader(f.submitStatus)
		io.WriteString(w, f.submitBody)
		return
	}

	promptID := fmt.Sprintf("p-%d", n)
	fmt.Fprintf(w, `{"prompt_id": %q, "number": %d, "node_errors": {}}`, promptID, n)

	if f.onSubmit != nil {
		go f.onSubmit(body.ClientID, promptID)
	}
}

func (f *fakeEngine) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	finished, entry := f.finished, f.entry
	f.mu.Unlock()
	f.historyQueries.Add(1)

	if !finished {
		io.WriteString(w, `{}`)
		return
	}
	fmt.Fprintf(w, `{%q: %s}`, id, entry)
}

func (f *fakeEngine) handleWS(w http.ResponseWriter, r *http.Request) {
	if f.disableWS {
		http.NotFound(w, r)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	status := fmt.Sprintf(`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 0}}, "sid": %q}}`, clientID)
	conn.WriteMessage(websocket.TextMessage, []byte(status))
	conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 1, 0x89, 'P', 'N', 'G'})

	f.mu.Lock()
	f.conns[clientID] = conn
	f.mu.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *fakeEngine) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file.Close()

	f.requests.Add(1)
	f.mu.Lock()
	f.uploads = append(f.uploads, header.Filename)
	f.mu.Unlock()

	fmt.Fprintf(w, `{"name": %q, "subfolder": "", "type": "input"}`, header.Filename)
}

func (f *fakeEngine) handleView(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("filename") == "slow.png" {
		f.handleSlowView(w, r)
		return
	}
	if r.URL.Query().Get("filename") != "res.png" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	io.WriteString(w, "restored-image-bytes")
}

func (f *fakeEngine) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PromptID string `json:"prompt_id"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.interrupts = append(f.interrupts, body.PromptID)
	f.mu.Unlock()
}

func (f *fakeEngine) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Delete []string `json:"delete"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.dequeued = append(f.dequeued, body.Delete...)
	f.mu.Unlock()
}

// handleSlowView streams 10 KiB in 1 KiB chunks, 50ms apart.
func (f *fakeEngine) handleSlowView(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	chunk := make([]byte, 1024)
	for range 10 {
		w.Write(chunk)
		w.(http.Flusher).Flush()
		time.Sleep(50 * time.Millisecond)
	}
}

func (f *fakeEngine) finish(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entry = entry
	f.finished = true
}

func (f *fakeEngine) conn(clientID string) *websocket.Conn {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		c, ok := f.conns[clientID]
		f.mu.Unlock()
		if ok {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (f *fakeEngine) send(clientID, msg string) {
	if c := f.conn(clientID); c != nil {
		c.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}

func (f *fakeEngine) drop(clientID string) {
	if c := f.conn(clientID); c != nil {
		c.Close()
	}
}

func (f *fakeEngine) waitForHistoryQuery() {
	deadline := time.Now().Add(2 * time.Second)
	for f.historyQueries.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeEngine) lastSubmission() submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.submissions)
	return f.submissions[len(f.submissions)-1]
}

type clientOptions struct {
	transport      string
	poll           string
	reconcile      string
	requestTimeout string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, f *fakeEngine, opts clientOptions) *engine.Client {
	t.Helper()

	cfg := &engine.Config{
		BaseURL:           f.server.URL,
		Transport:         opts.transport,
		PollInterval:      opts.poll,
		ReconcileInterval: opts.reconcile,
		RequestTimeout:    opts.requestTimeout,
	}
	if cfg.RequestTimeout == "" {
		cfg.RequestTimeout = "2s"
	}
	require.NoError(t, cfg.Finalize(nil))

	c, err := engine.NewClient(cfg, discardLogger())
	require.NoError(t, err)
	return c
}
