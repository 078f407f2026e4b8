package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/pagination"
	"github.com/JaimeStill/mender/pkg/storage"
	"github.com/JaimeStill/mender/pkg/workflow"
)

// System defines the public contract for job domain operations.
type System interface {
	Handler() *Handler
	// Start binds background processing to the lifecycle.
	Start(lc *lifecycle.Coordinator) error

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Job], error)

	Find(ctx context.Context, id uuid.UUID) (*Job, error)
	// Create validates and records a job, then processes it in the background.
	Create(ctx context.Context, cmd CreateCommand) (*Job, error)
	// CreateFromURL fetches the image first, then behaves as Create.
	CreateFromURL(ctx context.Context, cmd URLCommand) (*Job, error)
	// Result opens the stored result image of a succeeded job.
	Result(ctx context.Context, id uuid.UUID) (*storage.Blob, error)
	// Delete removes a finished job and its stored images.
	Delete(ctx context.Context, id uuid.UUID) error
	// Recover fails jobs left in progress by a previous process.
	Recover(ctx context.Context) (int, error)
}

// Engine runs templates and returns their artifacts. *engine.Runner
// satisfies it.
type Engine interface {
	Process(
		ctx context.Context,
		t *workflow.Template,
		img engine.Image,
		instruction string,
		opts ...engine.ExecOption,
	) (*engine.Result, error)
	View(ctx context.Context, a workflow.Artifact) (*engine.Download, error)
}

// Templates resolves template names. templates.System satisfies it.
type Templates interface {
	Get(name string) (*workflow.Template, error)
}
