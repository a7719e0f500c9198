package api

import (
	"net/http"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	patterns := routes.Register(
		mux,
		domain.Records.Handler().Routes(),
		domain.History.Handler().Routes(),
		domain.Workflow.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
		inference.NewHandler(domain.Inference, runtime.Logger).Routes(),
	)
	runtime.Logger.Debug("api routes registered", "base_path", cfg.API.BasePath, "count", len(patterns))
}
