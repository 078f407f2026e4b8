package templates

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// watcher reports changed template files after a quiet period, so an editor
// writing a file in several steps produces one eviction.
type watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	onChange  func(file string)
	logger    *slog.Logger
	done      chan struct{}
	stopped   chan struct{}
}

func newWatcher(dir string, debounce time.Duration, onChange func(string), logger *slog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &watcher{
		fsWatcher: fsw,
		debounce:  debounce,
		onChange:  onChange,
		logger:    logger,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Stop terminates the watcher and waits for its loop to exit.
func (w *watcher) Stop() error {
	close(w.done)
	err := w.fsWatcher.Close()
	<-w.stopped
	return err
}

func (w *watcher) loop() {
	defer close(w.stopped)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isRelevantEvent(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			for file := range pending {
				w.onChange(file)
			}
			clear(pending)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("templates watcher error", "error", err)

		case <-w.done:
			timer.Stop()
			return
		}
	}
}

func isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	switch filepath.Ext(event.Name) {
	case manifestExt, ".json":
		return true
	}
	return false
}
