package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JaimeStill/mender/pkg/workflow"
)

const tracerName = "github.com/JaimeStill/mender/pkg/engine"

const (
	AttrPromptID  = "engine.prompt_id"
	AttrStatus    = "engine.status"
	AttrTransport = "engine.transport"
	AttrTemplate  = "engine.template"
)

// Runner executes workflows on the engine: submit, track, collect.
type Runner struct {
	client  *Client
	timeout time.Duration
	tracer  trace.Tracer
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithTimeout overrides the per-job deadline.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// NewRunner creates a runner whose jobs time out after timeout.
func NewRunner(client *Client, timeout time.Duration, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:  client,
		timeout: timeout,
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
		logger:  logger.With("system", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client returns the engine client the runner submits through.
func (r *Runner) Client() *Client {
	return r.client
}

// View fetches an artifact produced by a run. The caller must close the
// returned body.
func (r *Runner) View(ctx context.Context, a workflow.Artifact) (*Download, error) {
	ctx, span := r.tracer.Start(ctx, "engine.view", trace.WithAttributes(attribute.String("engine.artifact", a.Filename)))
	defer span.End()

	d, err := r.client.View(ctx, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return d, err
}

type execOptions struct {
	onSubmitted func(promptID string)
	onProgress  func(Progress)
}

// ExecOption observes a single execution.
type ExecOption func(*execOptions)

// OnSubmitted is called once the engine has accepted the workflow.
func OnSubmitted(fn func(promptID string)) ExecOption {
	return func(o *execOptions) { o.onSubmitted = fn }
}

// OnProgress is called for each progress event. Progress is informational
// and never decides the outcome.
func OnProgress(fn func(Progress)) ExecOption {
	return func(o *execOptions) { o.onProgress = fn }
}

// Execute submits a flat workflow and tracks it to a terminal state. The
// returned job is always non-nil and terminal. The error is a
// *SubmissionError, *ExecutionError or *TimeoutError, or the context's error
// when ctx is cancelled.
func (r *Runner) Execute(ctx context.Context, flat workflow.Flat, opts ...ExecOption) (*Job, error) {
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := r.tracer.Start(ctx, "engine.execute", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	job := newJob(flat)

	watcher := r.client.Watch(ctx)
	defer watcher.Close()
	job.Transport = watcher.Transport()
	span.SetAttributes(attribute.String(AttrTransport, job.Transport))

	promptID, err := r.client.Submit(ctx, flat, watcher.ClientID())
	if err != nil {
		job.fail(StatusFailed, err)
		return job, r.finish(ctx, span, job)
	}

	job.start(promptID)
	span.SetAttributes(attribute.String(AttrPromptID, promptID))
	if o.onSubmitted != nil {
		o.onSubmitted(promptID)
	}

	waitCtx, cancel := context.WithTimeoutCause(ctx, r.timeout, &TimeoutError{PromptID: promptID, Timeout: r.timeout})
	defer cancel()

	entry, err := watcher.Wait(waitCtx, promptID, func(p Progress) {
		job.Progress = p
		if o.onProgress != nil {
			o.onProgress(p)
		}
	})

	switch {
	case err != nil:
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			job.fail(StatusTimedOut, err)
		} else {
			job.fail(StatusFailed, err)
		}
	case entry.Failed():
		job.fail(StatusFailed, &ExecutionError{PromptID: promptID, Messages: entry.Status.Errors()})
	default:
		job.succeed(entry.Outputs)
	}

	return job, r.finish(ctx, span, job)
}

func (r *Runner) finish(ctx context.Context, span trace.Span, job *Job) error {
	span.SetAttributes(attribute.String(AttrStatus, string(job.Status)))

	if job.Err != nil {
		span.RecordError(job.Err)
		span.SetStatus(codes.Error, job.Err.Error())
		r.logger.WarnContext(ctx, "job finished",
			"prompt_id", job.PromptID,
			"status", job.Status,
			"transport", job.Transport,
			"error", job.Err,
		)
		return job.Err
	}

	span.SetStatus(codes.Ok, "")
	r.logger.InfoContext(ctx, "job finished",
		"prompt_id", job.PromptID,
		"status", job.Status,
		"transport", job.Transport,
		"artifacts", job.Outputs.Count(),
		"duration", job.FinishedAt.Sub(job.SubmittedAt),
	)
	return nil
}

// Image is an input image to upload before a run.
type Image struct {
	Name string
	Body io.Reader
}

// Result is the outcome of Process. Job is set whenever a submission was
// attempted, including on failure.
type Result struct {
	Input    UploadedImage
	Job      *Job
	Artifact workflow.Artifact
}

// Process runs a template end to end: validate the override targets, upload
// the image, apply the overrides, execute and select the result artifact.
// Configuration problems are reported before any request reaches the engine.
func (r *Runner) Process(
	ctx context.Context,
	t *workflow.Template,
	img Image,
	instruction string,
	opts ...ExecOption,
) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "engine.process", trace.WithAttributes(attribute.String(AttrTemplate, t.Name)))
	defer span.End()

	result, err := r.process(ctx, t, img, instruction, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (r *Runner) process(
	ctx context.Context,
	t *workflow.Template,
	img Image,
	instruction string,
	opts ...ExecOption,
) (*Result, error) {
	if err := t.Targets.Check(t.Document); err != nil {
		return nil, err
	}

	uploaded, err := r.client.UploadImage(ctx, img.Name, img.Body)
	if err != nil {
		return nil, err
	}
	result := &Result{Input: uploaded}

	flat, err := t.Render(workflow.Overrides{
		Image:       uploaded.Reference(),
		Instruction: instruction,
	})
	if err != nil {
		return result, err
	}

	job, err := r.Execute(ctx, flat, opts...)
	result.Job = job
	if err != nil {
		return result, err
	}

	artifact, err := t.Selection.Select(job.Outputs)
	if err != nil {
		return result, err
	}
	result.Artifact = artifact

	r.logger.InfoContext(ctx, "result selected",
		"template", t.Name,
		"prompt_id", job.PromptID,
		"filename", artifact.Filename,
	)
	return result, nil
}
