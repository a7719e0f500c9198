package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/workflow"
	"github.com/hoangtdhdhcn/mammo-ai-app/migrations"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/sealing"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/storage"
)

const actor = "radiologist-1"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDetector struct {
	raw   []detection.Raw
	err   error
	block bool

	started chan struct{}
	release chan struct{}

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeDetector) Detect(ctx context.Context, _ *ingest.NormalizedImage) ([]detection.Raw, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(5 * time.Millisecond)

	if f.err != nil {
		return nil, f.err
	}
	return append([]detection.Raw(nil), f.raw...), nil
}

func (f *fakeDetector) Model() inference.ModelConfig {
	return inference.ModelConfig{Model: "yolov5-mammo", Device: "cpu"}
}

type fixture struct {
	rt       *workflow.Runtime
	store    *records.Store
	detector *fakeDetector
	patient  *records.Patient
}

func newFixture(t *testing.T, cfg workflow.Config) *fixture {
	t.Helper()

	dbCfg := &database.Config{Driver: database.SQLite, Path: filepath.Join(t.TempDir(), "workflow.db")}
	require.NoError(t, migrations.Up(database.SQLite, dbCfg.MigrationURL()))
	db, err := database.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	keys, err := sealing.NewFromKeys("test", bytes.Repeat([]byte{7}, 32), bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)

	rc := records.Config{}
	require.NoError(t, rc.Finalize(nil))
	store := records.New(db, database.SQLite, storage.NewMemory(), keys, rc,
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}, discard())

	ic := ingest.Config{}
	require.NoError(t, ic.Finalize(nil))
	ing := ingest.New(&ic, nil, discard())

	require.NoError(t, cfg.Finalize(nil))
	det := &fakeDetector{raw: findings}

	p, err := store.CreatePatient(context.Background(), actor, records.Demographics{FirstName: "Hoa", LastName: "Le"})
	require.NoError(t, err)

	return &fixture{
		rt:       workflow.NewRuntime(cfg, ing, det, store, store, discard()),
		store:    store,
		detector: det,
		patient:  p,
	}
}

func (f *fixture) request(data []byte) workflow.Request {
	return workflow.Request{
		Actor:     actor,
		PatientID: f.patient.ID,
		Image:     data,
		Format:    "png",
		Metadata:  records.ImageMetadata{Laterality: "L", View: "CC"},
	}
}

func (f *fixture) totals(t *testing.T) *records.Totals {
	t.Helper()
	totals, err := f.store.Totals(context.Background(), actor)
	require.NoError(t, err)
	return totals
}

// mammogram renders a distinct square PNG for each seed.
func mammogram(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.SetGray(x, y, color.Gray{Y: uint8((x*3 + y*5 + seed*17) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var findings = []detection.Raw{
	{Box: detection.Box{X1: 0.10, Y1: 0.10, X2: 0.30, Y2: 0.30}, ClassID: 0, Label: "mass", Confidence: 0.80},
	{Box: detection.Box{X1: 0.11, Y1: 0.11, X2: 0.31, Y2: 0.31}, ClassID: 0, Label: "mass", Confidence: 0.70},
	{Box: detection.Box{X1: 0.60, Y1: 0.60, X2: 0.70, Y2: 0.70}, ClassID: 1, Label: "calcification", Confidence: 0.90},
	{Box: detection.Box{X1: 0.40, Y1: 0.40, X2: 0.50, Y2: 0.50}, ClassID: 1, Label: "calcification", Confidence: 0.20},
}

func TestRunCompleted(t *testing.T) {
	f := newFixture(t, workflow.Config{})

	res, err := f.rt.Run(context.Background(), f.request(mammogram(t, 1)))
	require.NoError(t, err)

	assert.Equal(t, records.StatusCompleted, res.Status)
	require.Len(t, res.Detections, 2, "low confidence dropped and overlap suppressed")
	assert.Equal(t, "calcification", res.Detections[0].Label)
	assert.InDelta(t, 0.9, res.Detections[0].Confidence, 1e-9)
	assert.Equal(t, "mass", res.Detections[1].Label)
	assert.Equal(t, "yolov5-mammo", res.Config.Model)
	assert.Equal(t, detection.Thresholds{Confidence: 0.5, IoU: 0.45}, res.Config.Thresholds)
	assert.Equal(t, ingest.Hash(mammogram(t, 1)), res.ContentHash)
	assert.Positive(t, res.ProcessingTime)

	img, err := f.store.FindImage(context.Background(), actor, res.ImageID)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, "CC", img.View)

	timeline, err := f.store.ListAnalyses(context.Background(), actor, f.patient.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, res.ID, timeline[0].ID)
}

func TestRunRequestThresholds(t *testing.T) {
	f := newFixture(t, workflow.Config{})

	req := f.request(mammogram(t, 1))
	req.Thresholds = &detection.Thresholds{Confidence: 0.1, IoU: 0.99}
	res, err := f.rt.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Detections, 4)

	req = f.request(mammogram(t, 2))
	req.Thresholds = &detection.Thresholds{Confidence: 0.5, IoU: 0}
	_, err = f.rt.Run(context.Background(), req)
	assert.ErrorIs(t, err, detection.ErrInvalidThreshold)
}

func TestRunInvalidImage(t *testing.T) {
	f := newFixture(t, workflow.Config{})

	tests := []struct {
		name   string
		data   []byte
		format string
	}{
		{"corrupt bytes", []byte("not an image"), "png"},
		{"unsupported format", mammogram(t, 1), "bmp"},
		{"empty", nil, "png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(tt.data)
			req.Format = tt.format
			_, err := f.rt.Run(context.Background(), req)
			assert.ErrorIs(t, err, ingest.ErrInvalidImage)
		})
	}

	totals := f.totals(t)
	assert.Zero(t, totals.Images)
	assert.Zero(t, totals.Analyses)
	assert.Zero(t, f.detector.calls.Load())
}

func TestRunDuplicate(t *testing.T) {
	f := newFixture(t, workflow.Config{})
	data := mammogram(t, 1)

	first, err := f.rt.Run(context.Background(), f.request(data))
	require.NoError(t, err)

	_, err = f.rt.Run(context.Background(), f.request(data))
	assert.ErrorIs(t, err, records.ErrDuplicateImage)
	assert.Equal(t, int32(1), f.detector.calls.Load(), "duplicate rejected before inference")

	forced := f.request(data)
	forced.Force = true
	again, err := f.rt.Run(context.Background(), forced)
	require.NoError(t, err)
	assert.Equal(t, first.ImageID, again.ImageID, "stored image is reused")

	correction := f.request(data)
	correction.Supersedes = &first.ID
	corrected, err := f.rt.Run(context.Background(), correction)
	require.NoError(t, err)
	require.NotNil(t, corrected.SupersedesID)
	assert.Equal(t, first.ID, *corrected.SupersedesID)

	assert.Equal(t, 3, f.totals(t).Analyses)
}

func TestRunPersistsFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeDetector)
		cfg    workflow.Config
		reason string
	}{
		{
			name:   "model unavailable",
			setup:  func(d *fakeDetector) { d.err = fmt.Errorf("%w: connection refused", inference.ErrModelUnavailable) },
			reason: "model unavailable",
		},
		{
			name:   "inference error",
			setup:  func(d *fakeDetector) { d.err = fmt.Errorf("%w: corrupt tensor", inference.ErrInference) },
			reason: "corrupt tensor",
		},
		{
			name:   "timeout",
			setup:  func(d *fakeDetector) { d.block = true },
			cfg:    workflow.Config{InferenceTimeout: "20ms"},
			reason: "timed out",
		},
		{
			name: "post-processing rejection",
			setup: func(d *fakeDetector) {
				d.raw = []detection.Raw{{Box: detection.Box{X1: 0.5, Y1: 0.5, X2: 0.4, Y2: 0.6}, Confidence: 0.9}}
			},
			reason: "post-process",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			tt.setup(f.detector)

			res, err := f.rt.Run(context.Background(), f.request(mammogram(t, 1)))
			require.NoError(t, err)
			assert.Equal(t, records.StatusFailed, res.Status)
			assert.Empty(t, res.Detections)
			assert.Contains(t, res.FailureReason, tt.reason)

			totals := f.totals(t)
			assert.Equal(t, 1, totals.Analyses)
			assert.Equal(t, 1, totals.Failed)
			assert.Equal(t, 1, totals.Images)
		})
	}
}

type brokenWriter struct{}

func (brokenWriter) SaveAnalysis(context.Context, string, records.SaveCommand) (*records.AnalysisResult, error) {
	return nil, fmt.Errorf("%w: disk full", records.ErrStorage)
}

func TestRunStorageFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, workflow.Config{})
	f.rt.Writer = brokenWriter{}

	res, err := f.rt.Run(context.Background(), f.request(mammogram(t, 1)))
	assert.ErrorIs(t, err, records.ErrStorage)
	assert.Nil(t, res)

	totals := f.totals(t)
	assert.Zero(t, totals.Images)
	assert.Zero(t, totals.Analyses)
}

func TestRunFailedResultIsNotDuplicate(t *testing.T) {
	f := newFixture(t, workflow.Config{})
	data := mammogram(t, 1)

	f.detector.err = inference.ErrModelUnavailable
	res, err := f.rt.Run(context.Background(), f.request(data))
	require.NoError(t, err)
	require.Equal(t, records.StatusFailed, res.Status)

	f.detector.err = nil
	res, err = f.rt.Run(context.Background(), f.request(data))
	require.NoError(t, err)
	assert.Equal(t, records.StatusCompleted, res.Status)
}

func TestRunRejectedBeforePersistence(t *testing.T) {
	f := newFixture(t, workflow.Config{})

	req := f.request(mammogram(t, 1))
	req.PatientID = uuid.New()
	_, err := f.rt.Run(context.Background(), req)
	assert.ErrorIs(t, err, records.ErrPatientNotFound)

	req = f.request(mammogram(t, 1))
	req.Actor = ""
	_, err = f.rt.Run(context.Background(), req)
	assert.ErrorIs(t, err, workflow.ErrInvalidRequest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.rt.Run(ctx, f.request(mammogram(t, 1)))
	assert.ErrorIs(t, err, workflow.ErrNotStarted)

	assert.Zero(t, f.totals(t).Analyses)
	assert.Zero(t, f.detector.calls.Load())
}

func TestRunBatch(t *testing.T) {
	f := newFixture(t, workflow.Config{MaxConcurrency: 2})

	reqs := make([]workflow.Request, 6)
	for i := range reqs {
		reqs[i] = f.request(mammogram(t, i))
	}
	reqs[3].Image = []byte("corrupt")

	outcomes := f.rt.RunBatch(context.Background(), reqs)
	require.Len(t, outcomes, 6)

	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.False(t, o.Cancelled)
		if i == 3 {
			assert.ErrorIs(t, o.Err, ingest.ErrInvalidImage)
			assert.Nil(t, o.Result)
			continue
		}
		require.NoError(t, o.Err)
		assert.Equal(t, records.StatusCompleted, o.Result.Status)
		assert.Equal(t, workflow.StagePersisted, o.Stage)
	}

	assert.LessOrEqual(t, f.detector.peak.Load(), int32(2))
	assert.Equal(t, 5, f.totals(t).Analyses)
}

func TestRunBatchCancelledBeforeDispatch(t *testing.T) {
	f := newFixture(t, workflow.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := f.rt.RunBatch(ctx, []workflow.Request{f.request(mammogram(t, 1)), f.request(mammogram(t, 2))})
	for _, o := range outcomes {
		assert.True(t, o.Cancelled)
		assert.ErrorIs(t, o.Err, workflow.ErrNotStarted)
	}
	assert.Zero(t, f.detector.calls.Load())
	assert.Zero(t, f.totals(t).Analyses)
}

func TestRunBatchCancelledInFlight(t *testing.T) {
	f := newFixture(t, workflow.Config{MaxConcurrency: 1})
	f.detector.started = make(chan struct{}, 1)
	f.detector.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reqs := []workflow.Request{
		f.request(mammogram(t, 1)),
		f.request(mammogram(t, 2)),
		f.request(mammogram(t, 3)),
	}

	var (
		wg       sync.WaitGroup
		outcomes []workflow.Outcome
	)
	wg.Go(func() {
		outcomes = f.rt.RunBatch(ctx, reqs)
	})

	<-f.detector.started
	cancel()
	close(f.detector.release)
	wg.Wait()

	require.Len(t, outcomes, 3)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, records.StatusCompleted, outcomes[0].Result.Status, "in-flight run completes")
	assert.True(t, outcomes[1].Cancelled)
	assert.True(t, outcomes[2].Cancelled)
	assert.Equal(t, int32(1), f.detector.calls.Load())
	assert.Equal(t, 1, f.totals(t).Analyses)
}

func TestConfig(t *testing.T) {
	cfg := workflow.Config{}
	require.NoError(t, cfg.Finalize(nil))
	assert.Equal(t, detection.Thresholds{Confidence: 0.5, IoU: 0.45}, cfg.Thresholds())
	assert.Equal(t, 30*time.Second, cfg.InferenceTimeoutDuration())
	assert.Positive(t, cfg.MaxConcurrency)

	t.Setenv("TEST_CONF", "0")
	t.Setenv("TEST_TIMEOUT", "5s")
	cfg = workflow.Config{}
	require.NoError(t, cfg.Finalize(&workflow.Env{ConfidenceThreshold: "TEST_CONF", InferenceTimeout: "TEST_TIMEOUT"}))
	assert.Zero(t, cfg.Thresholds().Confidence, "zero is a valid threshold")
	assert.Equal(t, 5*time.Second, cfg.InferenceTimeoutDuration())

	bad := []workflow.Config{
		{InferenceTimeout: "soon"},
		{InferenceTimeout: "-1s"},
		{IoUThreshold: ptr(0.0)},
		{ConfidenceThreshold: ptr(1.5)},
	}
	for _, c := range bad {
		assert.Error(t, c.Finalize(nil))
	}
}

func ptr[T any](v T) *T { return &v }

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{workflow.ErrInvalidRequest, 400},
		{workflow.ErrNotStarted, 503},
		{ingest.ErrInvalidImage, 422},
		{detection.ErrInvalidThreshold, 400},
		{records.ErrDuplicateImage, 409},
		{records.ErrPatientNotFound, 404},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, workflow.MapHTTPStatus(tt.err), tt.err.Error())
	}
}
