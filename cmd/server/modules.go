package main

import (
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/api"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/infrastructure"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/module"
)

// Modules holds every prefix-mounted HTTP surface of the server.
type Modules struct {
	API *module.Module
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config) (*Modules, error) {
	apiModule, err := api.NewModule(cfg, infra)
	if err != nil {
		return nil, err
	}
	return &Modules{API: apiModule}, nil
}

// Router mounts the modules beside the lifecycle probes.
func (m *Modules) Router(infra *infrastructure.Infrastructure) *module.Router {
	router := module.NewRouter()
	router.HandleProbes(infra.Lifecycle)
	router.Mount(m.API)
	return router
}
