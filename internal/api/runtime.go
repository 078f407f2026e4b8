package api

import (
	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/internal/infrastructure"
	"github.com/JaimeStill/mender/pkg/pagination"
)

// Runtime extends Infrastructure with API-specific configuration.
type Runtime struct {
	*infrastructure.Infrastructure
	Pagination    pagination.Config
	Templates     *config.TemplatesConfig
	Jobs          *config.JobsConfig
	MaxUploadSize int64
}

// NewRuntime creates an API runtime with a module-scoped logger.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	scoped := *infra
	scoped.Logger = infra.Logger.With("module", "api")

	return &Runtime{
		Infrastructure: &scoped,
		Pagination:     cfg.API.Pagination,
		Templates:      &cfg.Templates,
		Jobs:           &cfg.Jobs,
		MaxUploadSize:  cfg.API.MaxUploadSizeBytes(),
	}
}
