package inference

import (
	"log/slog"
	"net/http"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/handlers"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/routes"
)

// Handler exposes model status.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.With("handler", "inference"),
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/model",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/status", Handler: h.Status},
		},
	}
}

// Status reports the configured model and probes its reachability.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}
