package workflow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/handlers"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/middleware"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/routes"
)

// ErrUploadTooLarge is returned when the multipart body exceeds the upload limit.
var ErrUploadTooLarge = errors.New("upload exceeds size limit")

// Handler provides the HTTP entry points that start analysis runs.
type Handler struct {
	rt            *Runtime
	logger        *slog.Logger
	maxUploadSize int64
}

func NewHandler(rt *Runtime, logger *slog.Logger, maxUploadSize int64) *Handler {
	return &Handler{
		rt:            rt,
		logger:        logger.With("handler", "analyses"),
		maxUploadSize: maxUploadSize,
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/analyses",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.Run},
			{Method: "POST", Pattern: "/batch", Handler: h.RunBatch},
		},
	}
}

// Run accepts a multipart form with patient_id and file plus optional format,
// confidence_threshold, iou_threshold, force, supersedes, laterality, view
// and image_type fields.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	base, ok := h.parse(w, r)
	if !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: file required", ErrInvalidRequest))
		return
	}
	defer file.Close()

	req, err := base.withFile(file, header)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	res, err := h.rt.Run(r.Context(), req)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, res)
}

// RunBatch accepts the same fields as Run with one or more file parts, all
// for the same patient. Every file yields an outcome in submission order.
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	base, ok := h.parse(w, r)
	if !ok {
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: at least one file required", ErrInvalidRequest))
		return
	}

	reqs := make([]Request, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
			return
		}
		req, err := base.withFile(file, header)
		file.Close()
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
			return
		}
		reqs = append(reqs, req)
	}

	handlers.RespondJSON(w, http.StatusOK, h.rt.RunBatch(r.Context(), reqs))
}

// form holds the fields shared by every file of a submission.
type form struct {
	Request
	format string
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (form, bool) {
	actor, err := middleware.ActorFrom(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, err)
		return form{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, ErrUploadTooLarge)
			return form{}, false
		}
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return form{}, false
	}

	f, err := parseForm(r, h.rt.Config.Thresholds())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return form{}, false
	}
	f.Actor = actor
	return f, true
}

func parseForm(r *http.Request, defaults detection.Thresholds) (form, error) {
	var f form

	id, err := uuid.Parse(r.FormValue("patient_id"))
	if err != nil {
		return f, fmt.Errorf("%w: patient_id must be a uuid", ErrInvalidRequest)
	}
	f.PatientID = id
	f.format = r.FormValue("format")

	conf, iou := r.FormValue("confidence_threshold"), r.FormValue("iou_threshold")
	if conf != "" || iou != "" {
		t, err := parseThresholds(conf, iou, defaults)
		if err != nil {
			return f, err
		}
		f.Thresholds = t
	}

	if v := r.FormValue("force"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%w: force must be a boolean", ErrInvalidRequest)
		}
		f.Force = force
	}

	if v := r.FormValue("supersedes"); v != "" {
		sid, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("%w: supersedes must be a uuid", ErrInvalidRequest)
		}
		f.Supersedes = &sid
	}

	f.Metadata = records.ImageMetadata{
		ImageType:  r.FormValue("image_type"),
		Laterality: r.FormValue("laterality"),
		View:       r.FormValue("view"),
	}
	return f, nil
}

// parseThresholds overrides whichever of defaults the form supplies.
func parseThresholds(conf, iou string, defaults detection.Thresholds) (*detection.Thresholds, error) {
	t := defaults
	if conf != "" {
		c, err := strconv.ParseFloat(conf, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: confidence_threshold: %v", ErrInvalidRequest, err)
		}
		t.Confidence = c
	}
	if iou != "" {
		i, err := strconv.ParseFloat(iou, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: iou_threshold: %v", ErrInvalidRequest, err)
		}
		t.IoU = i
	}
	return &t, nil
}

// withFile completes the shared fields with one uploaded file. The format
// falls back to the file extension.
func (f form) withFile(file multipart.File, header *multipart.FileHeader) (Request, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return Request{}, fmt.Errorf("%w: read file: %v", ErrInvalidRequest, err)
	}

	req := f.Request
	req.Image = data
	req.Format = f.format
	if req.Format == "" {
		req.Format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}
	req.Metadata.Filename = header.Filename
	return req, nil
}
