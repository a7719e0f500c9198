package history

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/handlers"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/middleware"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/routes"
)

type Handler struct {
	sys    System
	logger *slog.Logger
}

func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "history"),
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Children: []routes.Group{
			{
				Prefix: "/patients/{id}",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "/timeline", Handler: h.Timeline},
					{Method: "GET", Pattern: "/trend", Handler: h.Trend},
					{Method: "GET", Pattern: "/summary", Handler: h.Summary},
				},
			},
			{
				Prefix: "/statistics",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: h.Statistics},
				},
			},
		},
	}
}

func (h *Handler) patient(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	actor, err := middleware.ActorFrom(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return "", uuid.Nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, records.ErrPatientNotFound)
		return "", uuid.Nil, false
	}
	return actor, id, true
}

func (h *Handler) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, data)
}

func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.patient(w, r)
	if !ok {
		return
	}

	results, err := h.sys.Timeline(r.Context(), actor, id)
	h.respond(w, results, err)
}

// Trend reads the metric from the query string, defaulting to detection_count.
func (h *Handler) Trend(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.patient(w, r)
	if !ok {
		return
	}

	metric := DetectionCount
	if v := r.URL.Query().Get("metric"); v != "" {
		metric = Metric(v)
	}

	points, err := h.sys.Trend(r.Context(), actor, id, metric)
	h.respond(w, points, err)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.patient(w, r)
	if !ok {
		return
	}

	summary, err := h.sys.Summary(r.Context(), actor, id)
	h.respond(w, summary, err)
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFrom(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return
	}

	stats, err := h.sys.Statistics(r.Context(), actor)
	h.respond(w, stats, err)
}
