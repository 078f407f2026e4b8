package jobs

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/pagination"
	"github.com/JaimeStill/mender/pkg/query"
	"github.com/JaimeStill/mender/pkg/repository"
	"github.com/JaimeStill/mender/pkg/storage"
)

var repoErrors = repository.Errors{
	NotFound:  ErrNotFound,
	Duplicate: ErrDuplicate,
}

type repo struct {
	db         *sql.DB
	storage    storage.System
	templates  Templates
	engine     Engine
	logger     *slog.Logger
	pagination pagination.Config

	maxUploadSize int64
	extensions    []string
	fetch         *http.Client

	slots chan struct{}
	lc    atomic.Pointer[lifecycle.Coordinator]
}

// New creates a job repository implementing the System interface.
func New(
	db *sql.DB,
	store storage.System,
	tmpl Templates,
	eng Engine,
	logger *slog.Logger,
	pagination pagination.Config,
	cfg *config.JobsConfig,
	maxUploadSize int64,
) System {
	return &repo{
		db:            db,
		storage:       store,
		templates:     tmpl,
		engine:        eng,
		logger:        logger.With("system", "jobs"),
		pagination:    pagination,
		maxUploadSize: maxUploadSize,
		extensions:    cfg.AllowedExtensions,
		fetch:         &http.Client{Timeout: cfg.FetchTimeoutDuration()},
		slots:         make(chan struct{}, cfg.MaxConcurrent),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination, r.maxUploadSize)
}

func (r *repo) Start(lc *lifecycle.Coordinator) error {
	r.lc.Store(lc)
	r.logger.Info("job processing enabled", "max_concurrent", cap(r.slots))
	return nil
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Job], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "template", "instruction", "input_filename")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	jobs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanJob)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	result := pagination.NewPageResult(jobs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Job, error) {
	q, args := query.NewBuilder(projection).BuildSingle("id", id)

	j, err := repository.QueryOne(ctx, r.db, q, args, scanJob)
	if err != nil {
		return nil, repoErrors.Map(err)
	}
	return &j, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Job, error) {
	if err := r.validate(&cmd); err != nil {
		return nil, err
	}

	tmpl, err := r.templates.Get(cmd.Template)
	if err != nil {
		return nil, err
	}

	lc := r.lc.Load()
	if lc == nil {
		return nil, ErrShuttingDown
	}

	if !r.acquire() {
		return nil, ErrBusy
	}

	job, err := r.insert(ctx, tmpl.Name, cmd)
	if err != nil {
		r.release()
		return nil, err
	}

	started := lc.Go(func(ctx context.Context) {
		defer r.release()
		r.process(ctx, job, tmpl, cmd.Data)
	})
	if !started {
		r.release()
		r.fail(context.WithoutCancel(ctx), job.ID, ErrShuttingDown)
		return nil, ErrShuttingDown
	}

	r.logger.Info("job accepted", "id", job.ID, "template", job.Template)
	return job, nil
}

func (r *repo) Result(ctx context.Context, id uuid.UUID) (*storage.Blob, error) {
	job, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status != engine.StatusSucceeded || job.ResultKey == nil {
		return nil, fmt.Errorf("%w: status %s", ErrNoResult, job.Status)
	}

	blob, err := r.storage.Download(ctx, *job.ResultKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: result blob missing", ErrNoResult)
		}
		return nil, fmt.Errorf("download result: %w", err)
	}
	return blob, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	job, err := r.Find(ctx, id)
	if err != nil {
		return err
	}

	if !job.Status.Terminal() {
		return ErrActive
	}

	err = repository.InTx(ctx, r.db, func(tx *sql.Tx) error {
		return repository.ExecExpectOne(ctx, tx, "DELETE FROM jobs WHERE id = $1", id)
	})
	if err != nil {
		return repoErrors.Map(err)
	}

	keys := []string{job.InputKey}
	if job.ResultKey != nil {
		keys = append(keys, *job.ResultKey)
	}
	for _, key := range keys {
		if err := r.storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("blob delete failed after DB delete", "key", key, "error", err)
		}
	}

	r.logger.Info("job deleted", "id", id)
	return nil
}

func (r *repo) Recover(ctx context.Context) (int, error) {
	n, err := repository.Exec(ctx, r.db, `
		UPDATE jobs
		SET status = 'failed', error_kind = $1, error_message = $2,
			completed_at = now(), updated_at = now()
		WHERE status IN ('pending', 'running')`,
		string(KindInternal), "interrupted by server restart",
	)
	if err != nil {
		return 0, fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		r.logger.Warn("failed interrupted jobs", "count", n)
	}
	return int(n), nil
}

func (r *repo) validate(cmd *CreateCommand) error {
	cmd.Instruction = strings.TrimSpace(cmd.Instruction)
	if cmd.Instruction == "" {
		return ErrInvalidInstruction
	}

	if len(cmd.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	if r.maxUploadSize > 0 && int64(len(cmd.Data)) > r.maxUploadSize {
		return tooLarge(r.maxUploadSize)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(cmd.Filename), "."))
	if !slices.Contains(r.extensions, ext) {
		return fmt.Errorf("%w: extension %q not allowed", ErrInvalidImage, ext)
	}

	if sniffed := http.DetectContentType(cmd.Data); !strings.HasPrefix(sniffed, "image/") {
		return fmt.Errorf("%w: content is %s", ErrInvalidImage, sniffed)
	}
	if cmd.ContentType == "" || cmd.ContentType == "application/octet-stream" {
		cmd.ContentType = http.DetectContentType(cmd.Data)
	}
	return nil
}

func (r *repo) insert(ctx context.Context, template string, cmd CreateCommand) (*Job, error) {
	id := uuid.New()
	key := buildStorageKey(id, "input", cmd.Filename)

	if err := r.storage.Upload(ctx, key, bytes.NewReader(cmd.Data), cmd.ContentType); err != nil {
		return nil, fmt.Errorf("upload input blob: %w", err)
	}

	q := `
		INSERT INTO jobs(id, template, instruction, input_filename, input_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + projection.Returning()

	args := []any{id, template, cmd.Instruction, filepath.Base(cmd.Filename), key}

	j, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Job, error) {
		return repository.QueryOne(ctx, tx, q, args, scanJob)
	})
	if err != nil {
		if delErr := r.storage.Delete(ctx, key); delErr != nil {
			r.logger.Warn("compensating blob delete failed", "key", key, "error", delErr)
		}
		return nil, repoErrors.Map(err)
	}

	return &j, nil
}

func (r *repo) acquire() bool {
	select {
	case r.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *repo) release() {
	<-r.slots
}

func buildStorageKey(id uuid.UUID, kind, filename string) string {
	return fmt.Sprintf("jobs/%s/%s/%s", id, kind, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return url.PathEscape(name)
}
