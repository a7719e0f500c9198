package api

import (
	"fmt"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/history"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/workflow"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Records   records.System
	History   history.System
	Inference *inference.Service
	Workflow  *workflow.Runtime
}

// NewDomain creates all domain systems from the API runtime. The record store
// is the only analysis writer and is handed to the workflow alone.
func NewDomain(runtime *Runtime) (*Domain, error) {
	cfg := runtime.Config

	store := records.New(
		runtime.Database.Connection(),
		runtime.Database.Dialect(),
		runtime.Storage,
		runtime.Keys,
		cfg.Records,
		runtime.Pagination,
		runtime.Logger,
	)

	enhancer, err := ingest.NewEnhancer(&cfg.Ingest)
	if err != nil {
		return nil, fmt.Errorf("ingest enhancer: %w", err)
	}
	ingestor := ingest.New(&cfg.Ingest, enhancer, runtime.Logger)

	model, err := inference.New(&cfg.Inference, runtime.Logger)
	if err != nil {
		return nil, fmt.Errorf("inference init failed: %w", err)
	}

	return &Domain{
		Records:   store,
		History:   history.New(store, runtime.Logger),
		Inference: model,
		Workflow:  workflow.NewRuntime(cfg.Analysis, ingestor, model, store, store, runtime.Logger),
	}, nil
}

// Start registers domain lifecycle hooks.
func (d *Domain) Start(runtime *Runtime) error {
	return d.Inference.Start(runtime.Lifecycle)
}
