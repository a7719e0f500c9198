package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
)

// Ingestor normalizes raw image bytes.
type Ingestor interface {
	Ingest(raw []byte, declared ingest.Format) (*ingest.NormalizedImage, error)
}

// Detector runs the configured model. *inference.Service satisfies it.
type Detector interface {
	Detect(ctx context.Context, img *ingest.NormalizedImage) ([]detection.Raw, error)
	Model() inference.ModelConfig
}

// Records is the record store surface a run needs besides the analysis
// writer, which stores the image together with the result.
type Records interface {
	CheckDuplicate(ctx context.Context, actor string, patientID uuid.UUID, contentHash string) error
}

// Runtime bundles the dependencies every run requires.
// It is constructed by higher-level composition code from Infrastructure and Domain systems.
type Runtime struct {
	Ingestor Ingestor
	Detector Detector
	Records  Records
	Writer   records.AnalysisWriter
	Config   Config
	Logger   *slog.Logger

	now func() time.Time
}

// NewRuntime creates a Runtime from a finalized Config.
func NewRuntime(
	cfg Config,
	ing Ingestor,
	det Detector,
	recs Records,
	writer records.AnalysisWriter,
	logger *slog.Logger,
) *Runtime {
	return &Runtime{
		Ingestor: ing,
		Detector: det,
		Records:  recs,
		Writer:   writer,
		Config:   cfg,
		Logger:   logger.With("system", "workflow"),
		now:      time.Now,
	}
}

func (rt *Runtime) Handler(maxUploadSize int64) *Handler {
	return NewHandler(rt, rt.Logger, maxUploadSize)
}

func (rt *Runtime) clock() time.Time {
	if rt.now == nil {
		return time.Now()
	}
	return rt.now()
}
