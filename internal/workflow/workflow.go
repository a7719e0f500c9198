// Package workflow runs one analysis end to end: ingest, duplicate check,
// inference, post-processing, and persistence of the image together with
// exactly one completed or failed result.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
)

// Stage is a step in the run state machine.
type Stage string

const (
	StageReceived      Stage = "received"
	StageIngested      Stage = "ingested"
	StageInferred      Stage = "inferred"
	StagePostProcessed Stage = "post_processed"
	StagePersisted     Stage = "persisted"
)

// Request describes one image submitted for analysis. Nil Thresholds use the
// configured defaults. Supersedes marks the run as a correction of an earlier
// result and bypasses the duplicate check.
type Request struct {
	Actor      string
	PatientID  uuid.UUID
	Image      []byte
	Format     string
	Thresholds *detection.Thresholds
	Force      bool
	Supersedes *uuid.UUID
	Metadata   records.ImageMetadata
}

// run tracks one request through its stages.
type run struct {
	rt    *Runtime
	req   Request
	stage Stage
	start time.Time
	image *ingest.NormalizedImage
	store records.StoreImageCommand
}

func (r *run) advance(ctx context.Context, s Stage) {
	r.stage = s
	r.rt.Logger.DebugContext(ctx, "run stage", "stage", s, "patient_id", r.req.PatientID)
}

// Run executes one analysis. Once received, the run is detached from ctx so
// it always ends in a persisted result or a returned error, never a silent
// drop.
//
// Invalid images and duplicates are returned without persisting anything.
// Model, inference, timeout and post-processing failures persist one failed
// result, which is returned with a nil error.
func (rt *Runtime) Run(ctx context.Context, req Request) (*records.AnalysisResult, error) {
	res, _, err := rt.execute(ctx, req)
	return res, err
}

func (rt *Runtime) execute(ctx context.Context, req Request) (*records.AnalysisResult, Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrNotStarted, err)
	}

	thresholds, err := rt.validate(&req)
	if err != nil {
		return nil, "", err
	}

	ctx = context.WithoutCancel(ctx)
	r := &run{rt: rt, req: req, start: rt.clock()}
	r.advance(ctx, StageReceived)

	format, err := ingest.ParseFormat(req.Format)
	if err != nil {
		return nil, r.stage, err
	}

	r.image, err = rt.Ingestor.Ingest(req.Image, format)
	if err != nil {
		return nil, r.stage, err
	}
	r.advance(ctx, StageIngested)

	if !req.Force && req.Supersedes == nil {
		if err := rt.Records.CheckDuplicate(ctx, req.Actor, req.PatientID, r.image.ContentHash); err != nil {
			return nil, r.stage, err
		}
	}

	meta := req.Metadata
	if meta.Width == 0 && meta.Height == 0 {
		meta.Width, meta.Height = r.image.Width, r.image.Height
	}
	r.store = records.StoreImageCommand{
		PatientID: req.PatientID,
		Data:      req.Image,
		Format:    string(format),
		Metadata:  meta,
	}

	raw, err := r.infer(ctx)
	if err != nil {
		return r.fail(ctx, thresholds, err)
	}
	r.advance(ctx, StageInferred)

	dets, err := detection.Process(raw, thresholds, r.image)
	if err != nil {
		return r.fail(ctx, thresholds, fmt.Errorf("post-process: %w", err))
	}
	r.advance(ctx, StagePostProcessed)

	res := r.result(thresholds)
	res.Status = records.StatusCompleted
	res.Detections = dets
	return r.persist(ctx, res)
}

func (rt *Runtime) validate(req *Request) (detection.Thresholds, error) {
	if req.Actor == "" {
		return detection.Thresholds{}, fmt.Errorf("%w: actor required", ErrInvalidRequest)
	}
	if req.PatientID == uuid.Nil {
		return detection.Thresholds{}, fmt.Errorf("%w: patient id required", ErrInvalidRequest)
	}

	t := rt.Config.Thresholds()
	if req.Thresholds != nil {
		t = *req.Thresholds
	}
	if err := t.Validate(); err != nil {
		return detection.Thresholds{}, err
	}
	return t, nil
}

// infer bounds the model call by the inference timeout. Expiry is an
// inference error for this image only.
func (r *run) infer(ctx context.Context) ([]detection.Raw, error) {
	ctx, cancel := context.WithTimeout(ctx, r.rt.Config.InferenceTimeoutDuration())
	defer cancel()

	raw, err := r.rt.Detector.Detect(ctx, r.image)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, inference.ErrInference) {
			err = fmt.Errorf("%w: timed out after %s", inference.ErrInference, r.rt.Config.InferenceTimeout)
		}
		return nil, err
	}
	return raw, nil
}

func (r *run) result(t detection.Thresholds) *records.AnalysisResult {
	model := r.rt.Detector.Model()
	return &records.AnalysisResult{
		PatientID:   r.req.PatientID,
		ContentHash: r.image.ContentHash,
		Config: records.AnalysisConfig{
			Model:      model.Model,
			Device:     model.Device,
			Thresholds: t,
		},
		Warnings:     r.image.Warnings,
		SupersedesID: r.req.Supersedes,
	}
}

func (r *run) fail(ctx context.Context, t detection.Thresholds, cause error) (*records.AnalysisResult, Stage, error) {
	r.rt.Logger.WarnContext(ctx, "analysis failed",
		"patient_id", r.req.PatientID,
		"content_hash", r.image.ContentHash,
		"stage", r.stage,
		"error", cause,
	)

	res := r.result(t)
	res.Status = records.StatusFailed
	res.FailureReason = cause.Error()
	return r.persist(ctx, res)
}

func (r *run) persist(ctx context.Context, res *records.AnalysisResult) (*records.AnalysisResult, Stage, error) {
	res.ProcessingTime = r.rt.clock().Sub(r.start)

	saved, err := r.rt.Writer.SaveAnalysis(ctx, r.req.Actor, records.SaveCommand{
		Result: res,
		Image:  &r.store,
		Force:  r.req.Force,
	})
	if err != nil {
		return nil, r.stage, err
	}
	r.advance(ctx, StagePersisted)

	r.rt.Logger.InfoContext(ctx, "analysis persisted",
		"id", saved.ID,
		"patient_id", saved.PatientID,
		"image_id", saved.ImageID,
		"status", saved.Status,
		"detections", len(saved.Detections),
		"processing_time", saved.ProcessingTime,
	)
	return saved, r.stage, nil
}
