package api

import (
	"github.com/JaimeStill/mender/internal/jobs"
	"github.com/JaimeStill/mender/internal/templates"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Templates templates.System
	Jobs      jobs.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) (*Domain, error) {
	templatesSystem, err := templates.New(runtime.Templates, runtime.Logger)
	if err != nil {
		return nil, err
	}

	jobsSystem := jobs.New(
		runtime.Database.Connection(),
		runtime.Storage,
		templatesSystem,
		runtime.Runner,
		runtime.Logger,
		runtime.Pagination,
		runtime.Jobs,
		runtime.MaxUploadSize,
	)

	return &Domain{
		Templates: templatesSystem,
		Jobs:      jobsSystem,
	}, nil
}
