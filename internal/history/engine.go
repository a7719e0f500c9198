package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
)

type engine struct {
	records Reader
	logger  *slog.Logger
}

// New creates the history engine over a record store reader.
func New(r Reader, logger *slog.Logger) System {
	return &engine{
		records: r,
		logger:  logger.With("system", "history"),
	}
}

func (e *engine) Handler() *Handler {
	return NewHandler(e, e.logger)
}

// Timeline returns every result for the patient oldest first, failed and
// superseded results included.
func (e *engine) Timeline(ctx context.Context, actor string, patientID uuid.UUID) ([]records.AnalysisResult, error) {
	return e.records.ListAnalyses(ctx, actor, patientID)
}

// Trend samples metric over the patient's completed results. A result that a
// later correction supersedes is replaced by the correction. The read happens
// before the metric is checked so an unknown metric is still audited.
func (e *engine) Trend(ctx context.Context, actor string, patientID uuid.UUID, metric Metric) ([]Point, error) {
	results, err := e.records.ListAnalyses(ctx, actor, patientID)
	if err != nil {
		return nil, err
	}

	m, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	return series(results, m), nil
}

func (e *engine) Summary(ctx context.Context, actor string, patientID uuid.UUID) (*Summary, error) {
	results, err := e.records.ListAnalyses(ctx, actor, patientID)
	if err != nil {
		return nil, err
	}
	return summarize(patientID, results), nil
}

func (e *engine) Statistics(ctx context.Context, actor string) (*Statistics, error) {
	totals, err := e.records.Totals(ctx, actor)
	if err != nil {
		return nil, err
	}

	s := &Statistics{Totals: *totals}
	if totals.Analyses > 0 {
		s.CompletionRate = float64(totals.Completed) / float64(totals.Analyses)
	}
	if totals.Completed > 0 {
		s.DetectionsPerCompleted = float64(totals.Detections) / float64(totals.Completed)
	}
	return s, nil
}

func superseded(results []records.AnalysisResult) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, r := range results {
		if r.SupersedesID != nil {
			out[*r.SupersedesID] = true
		}
	}
	return out
}

// series expects results in chronological order and keeps that order.
func series(results []records.AnalysisResult, metric Metric) []Point {
	replaced := superseded(results)

	points := []Point{}
	for _, r := range results {
		if r.Status != records.StatusCompleted || replaced[r.ID] {
			continue
		}
		points = append(points, Point{
			Timestamp: r.CreatedAt,
			Value:     value(r, metric),
			ResultID:  r.ID,
		})
	}
	return points
}

func value(r records.AnalysisResult, metric Metric) float64 {
	switch metric {
	case DetectionCount:
		return float64(len(r.Detections))
	case MeanConfidence:
		return detection.MeanConfidence(r.Detections)
	case MaxConfidence:
		return detection.MaxConfidence(r.Detections)
	case ProcessingTimeMS:
		return float64(r.ProcessingTime) / float64(time.Millisecond)
	default:
		return 0
	}
}

func summarize(patientID uuid.UUID, results []records.AnalysisResult) *Summary {
	s := &Summary{PatientID: patientID, Total: len(results)}
	if len(results) == 0 {
		return s
	}

	replaced := superseded(results)
	for _, r := range results {
		switch r.Status {
		case records.StatusCompleted:
			s.Completed++
		case records.StatusFailed:
			s.Failed++
		}
		if replaced[r.ID] {
			s.Superseded++
		}
	}

	first, last := results[0].CreatedAt, results[len(results)-1].CreatedAt
	s.FirstAnalysisAt = &first
	s.LastAnalysisAt = &last

	counts := series(results, DetectionCount)
	if len(counts) == 0 {
		return s
	}
	s.LatestDetections = int(counts[len(counts)-1].Value)
	s.MeanMaxConfidence = stat.Mean(values(series(results, MaxConfidence)), nil)
	s.DetectionSlope = slopePerDay(counts)
	return s
}

func values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// slopePerDay fits value against days elapsed since the first point.
func slopePerDay(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}

	origin := points[0].Timestamp
	xs := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.Timestamp.Sub(origin).Hours() / 24
	}
	if stat.Variance(xs, nil) == 0 {
		return 0
	}

	_, beta := stat.LinearRegression(xs, values(points), nil, false)
	return beta
}
