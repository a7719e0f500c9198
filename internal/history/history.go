// Package history rebuilds per-patient timelines and trend series from the
// record store. It never writes; each call is a read audited by the store.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
)

// Metric names a per-result value plotted over time.
type Metric string

const (
	DetectionCount   Metric = "detection_count"
	MeanConfidence   Metric = "mean_confidence"
	MaxConfidence    Metric = "max_confidence"
	ProcessingTimeMS Metric = "processing_time_ms"
)

// Metrics lists every supported metric.
var Metrics = []Metric{DetectionCount, MeanConfidence, MaxConfidence, ProcessingTimeMS}

// ParseMetric accepts a metric name case-insensitively.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Metrics {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Point is one sample of a trend series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ResultID  uuid.UUID `json:"result_id"`
}

// Summary condenses a patient's history into headline figures.
type Summary struct {
	PatientID         uuid.UUID  `json:"patient_id"`
	Total             int        `json:"total"`
	Completed         int        `json:"completed"`
	Failed            int        `json:"failed"`
	Superseded        int        `json:"superseded"`
	FirstAnalysisAt   *time.Time `json:"first_analysis_at,omitempty"`
	LastAnalysisAt    *time.Time `json:"last_analysis_at,omitempty"`
	LatestDetections  int        `json:"latest_detections"`
	MeanMaxConfidence float64    `json:"mean_max_confidence"`

	// DetectionSlope is the least-squares change in detection count per day
	// across the trend series, zero with fewer than two distinct days.
	DetectionSlope float64 `json:"detection_slope_per_day"`
}

// Statistics extends the store totals with derived system-wide ratios.
type Statistics struct {
	records.Totals
	CompletionRate         float64 `json:"completion_rate"`
	DetectionsPerCompleted float64 `json:"detections_per_completed"`
}

// System is the read-side interface consumed by HTTP handlers and export
// collaborators.
type System interface {
	Handler() *Handler

	Timeline(ctx context.Context, actor string, patientID uuid.UUID) ([]records.AnalysisResult, error)
	Trend(ctx context.Context, actor string, patientID uuid.UUID, metric Metric) ([]Point, error)
	Summary(ctx context.Context, actor string, patientID uuid.UUID) (*Summary, error)
	Statistics(ctx context.Context, actor string) (*Statistics, error)
}

// Reader is the subset of the record store history reads from.
type Reader interface {
	ListAnalyses(ctx context.Context, actor string, patientID uuid.UUID) ([]records.AnalysisResult, error)
	Totals(ctx context.Context, actor string) (*records.Totals, error)
}
