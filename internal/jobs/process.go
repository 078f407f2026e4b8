package jobs

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/repository"
	"github.com/JaimeStill/mender/pkg/workflow"
)

const (
	// progressInterval limits how often progress events are written.
	progressInterval = time.Second
	writeTimeout     = 10 * time.Second
)

// process runs a recorded job to completion. ctx is the lifecycle context;
// status writes outlive its cancellation so an interrupted job is still
// recorded as failed.
func (r *repo) process(ctx context.Context, job *Job, tmpl *workflow.Template, data []byte) {
	logger := r.logger.With("id", job.ID, "template", tmpl.Name)
	started := time.Now()

	img := engine.Image{
		Name: engineFilename(job.ID, job.InputFilename),
		Body: bytes.NewReader(data),
	}

	progress := newThrottle(progressInterval)
	res, err := r.engine.Process(ctx, tmpl, img, job.Instruction,
		engine.OnSubmitted(func(promptID string) {
			r.markRunning(ctx, job.ID, promptID)
		}),
		engine.OnProgress(func(p engine.Progress) {
			if progress.allow(p.Value >= p.Max) {
				r.updateProgress(ctx, job.ID, p)
			}
		}),
	)
	if err != nil {
		r.fail(ctx, job.ID, err)
		logger.Warn("job failed", "error", err, "duration", time.Since(started))
		return
	}

	if err := r.storeResult(ctx, job.ID, res.Artifact); err != nil {
		r.fail(ctx, job.ID, err)
		logger.Error("storing result failed", "error", err)
		return
	}

	logger.Info("job succeeded",
		"prompt_id", res.Job.PromptID,
		"artifact", res.Artifact.Filename,
		"duration", time.Since(started),
	)
}

func (r *repo) storeResult(ctx context.Context, id uuid.UUID, artifact workflow.Artifact) error {
	dl, err := r.engine.View(ctx, artifact)
	if err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}
	defer dl.Body.Close()

	key := buildStorageKey(id, "result", artifact.Filename)
	if err := r.storage.Upload(ctx, key, dl.Body, dl.ContentType); err != nil {
		return fmt.Errorf("upload result blob: %w", err)
	}

	var resultURL *string
	if u, err := r.storage.URL(key); err == nil {
		resultURL = &u
	} else {
		r.logger.Warn("result url unavailable", "key", key, "error", err)
	}

	wctx, cancel := detached(ctx)
	defer cancel()

	_, err = repository.Exec(wctx, r.db, `
		UPDATE jobs
		SET status = $2, result_filename = $3, result_key = $4, result_url = $5,
			progress_value = GREATEST(progress_value, progress_max),
			completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, string(engine.StatusSucceeded), artifact.Filename, key, resultURL,
	)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

func (r *repo) markRunning(ctx context.Context, id uuid.UUID, promptID string) {
	wctx, cancel := detached(ctx)
	defer cancel()

	_, err := repository.Exec(wctx, r.db, `
		UPDATE jobs SET status = $2, prompt_id = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, string(engine.StatusRunning), promptID,
	)
	if err != nil {
		r.logger.Warn("recording submission failed", "id", id, "error", err)
	}
}

func (r *repo) updateProgress(ctx context.Context, id uuid.UUID, p engine.Progress) {
	_, err := repository.Exec(ctx, r.db, `
		UPDATE jobs SET progress_value = $2, progress_max = $3, updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, p.Value, p.Max,
	)
	if err != nil {
		r.logger.Debug("recording progress failed", "id", id, "error", err)
	}
}

// fail records err as the job's terminal outcome. Jobs already terminal
// are left untouched.
func (r *repo) fail(ctx context.Context, id uuid.UUID, err error) {
	kind, status := Classify(err)

	wctx, cancel := detached(ctx)
	defer cancel()

	_, dbErr := repository.Exec(wctx, r.db, `
		UPDATE jobs
		SET status = $2, error_kind = $3, error_message = $4,
			completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, string(status), string(kind), err.Error(),
	)
	if dbErr != nil {
		r.logger.Error("recording failure failed", "id", id, "error", dbErr, "cause", err)
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

// engineFilename names the engine-side copy of an input uniquely per job;
// the engine overwrites uploads that share a name.
func engineFilename(id uuid.UUID, original string) string {
	return fmt.Sprintf("mender-%s%s", id, filepath.Ext(original))
}

type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

// allow reports whether an event may pass. Forced events always pass.
func (t *throttle) allow(force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
