package api

import (
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/infrastructure"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
)

// Runtime is the infrastructure as seen by the API module, plus the
// settings its handlers read at registration time.
type Runtime struct {
	*infrastructure.Infrastructure
	Config     *config.Config
	Pagination pagination.Config
}

func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	return &Runtime{
		Infrastructure: infra.Scoped("api"),
		Config:         cfg,
		Pagination:     cfg.API.Pagination,
	}
}
