package records

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/handlers"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/middleware"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/routes"
)

// Handler provides HTTP endpoints for record operations.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler with the given system, logger, and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "records"),
		pagination: pagination,
	}
}

// Routes returns the route groups for patients, images, analyses and the audit trail.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Children: []routes.Group{
			{
				Prefix: "/patients",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: h.ListPatients},
					{Method: "POST", Pattern: "", Handler: h.CreatePatient},
					{Method: "GET", Pattern: "/lookup", Handler: h.FindPatientByMRN},
					{Method: "GET", Pattern: "/{id}", Handler: h.FindPatient},
					{Method: "PUT", Pattern: "/{id}", Handler: h.UpdatePatient},
					{Method: "DELETE", Pattern: "/{id}", Handler: h.ArchivePatient},
					{Method: "GET", Pattern: "/{id}/images", Handler: h.ListImages},
					{Method: "GET", Pattern: "/{id}/analyses", Handler: h.ListAnalyses},
					{Method: "GET", Pattern: "/{id}/export", Handler: h.ExportPatient},
				},
			},
			{
				Prefix: "/images",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "/{id}", Handler: h.FindImage},
					{Method: "GET", Pattern: "/{id}/content", Handler: h.LoadImage},
					{Method: "DELETE", Pattern: "/{id}", Handler: h.ArchiveImage},
				},
			},
			{
				Prefix: "/analyses",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "/{id}", Handler: h.FindAnalysis},
				},
			},
			{
				Prefix: "/audit",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: h.ListAudit},
				},
			},
		},
	}
}

// request resolves the caller and the {id} path value. It writes the error
// response itself and reports false when either is missing.
func (h *Handler) request(w http.ResponseWriter, r *http.Request, notFound error) (string, uuid.UUID, bool) {
	actor, err := middleware.ActorFrom(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return "", uuid.Nil, false
	}

	if notFound == nil {
		return actor, uuid.Nil, true
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, notFound)
		return "", uuid.Nil, false
	}
	return actor, id, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	if data == nil {
		w.WriteHeader(status)
		return
	}
	handlers.RespondJSON(w, status, data)
}

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := h.request(w, r, nil)
	if !ok {
		return
	}

	d, err := handlers.DecodeJSON[Demographics](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	p, err := h.sys.CreatePatient(r.Context(), actor, d)
	h.respond(w, http.StatusCreated, p, err)
}

func (h *Handler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrPatientNotFound)
	if !ok {
		return
	}

	d, err := handlers.DecodeJSON[Demographics](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	p, err := h.sys.UpdatePatient(r.Context(), actor, id, d)
	h.respond(w, http.StatusOK, p, err)
}

func (h *Handler) FindPatient(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrPatientNotFound)
	if !ok {
		return
	}

	p, err := h.sys.FindPatient(r.Context(), actor, id)
	h.respond(w, http.StatusOK, p, err)
}

// FindPatientByMRN reads the MRN from the query string.
func (h *Handler) FindPatientByMRN(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := h.request(w, r, nil)
	if !ok {
		return
	}

	p, err := h.sys.FindPatientByMRN(r.Context(), actor, r.URL.Query().Get("mrn"))
	h.respond(w, http.StatusOK, p, err)
}

// ListPatients supports page, page_size, sort, search (exact MRN) and archived.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := h.request(w, r, nil)
	if !ok {
		return
	}

	page, err := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	filters := PatientFiltersFromQuery(r.URL.Query())

	result, err := h.sys.ListPatients(r.Context(), actor, page, filters)
	h.respond(w, http.StatusOK, result, err)
}

func (h *Handler) ArchivePatient(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrPatientNotFound)
	if !ok {
		return
	}

	h.respond(w, http.StatusNoContent, nil, h.sys.ArchivePatient(r.Context(), actor, id))
}

func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrPatientNotFound)
	if !ok {
		return
	}

	images, err := h.sys.ListImages(r.Context(), actor, id)
	h.respond(w, http.StatusOK, images, err)
}

func (h *Handler) FindImage(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrImageNotFound)
	if !ok {
		return
	}

	img, err := h.sys.FindImage(r.Context(), actor, id)
	h.respond(w, http.StatusOK, img, err)
}

// LoadImage streams the decrypted original bytes.
func (h *Handler) LoadImage(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrImageNotFound)
	if !ok {
		return
	}

	data, img, err := h.sys.LoadImage(r.Context(), actor, id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	contentType := "application/octet-stream"
	if f, err := ingest.ParseFormat(img.Format); err == nil {
		contentType = f.ContentType()
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", img.ID.String()+"."+img.Format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) ArchiveImage(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrImageNotFound)
	if !ok {
		return
	}

	h.respond(w, http.StatusNoContent, nil, h.sys.ArchiveImage(r.Context(), actor, id))
}

func (h *Handler) FindAnalysis(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrAnalysisNotFound)
	if !ok {
		return
	}

	a, err := h.sys.FindAnalysis(r.Context(), actor, id)
	h.respond(w, http.StatusOK, a, err)
}

func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrPatientNotFound)
	if !ok {
		return
	}

	results, err := h.sys.ListAnalyses(r.Context(), actor, id)
	h.respond(w, http.StatusOK, results, err)
}

func (h *Handler) ExportPatient(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.request(w, r, ErrPatientNotFound)
	if !ok {
		return
	}

	export, err := h.sys.ExportPatient(r.Context(), actor, id)
	h.respond(w, http.StatusOK, export, err)
}

// ListAudit supports page, page_size, sort and exact actor, operation,
// entity_kind and entity_id filters.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := h.request(w, r, nil)
	if !ok {
		return
	}

	page, err := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	filters := AuditFiltersFromQuery(r.URL.Query())

	result, err := h.sys.ListAudit(r.Context(), actor, page, filters)
	h.respond(w, http.StatusOK, result, err)
}
