package records

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/repository"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/sealing"
)

func validateSave(cmd SaveCommand) error {
	r := cmd.Result
	if r == nil {
		return fmt.Errorf("%w: result required", ErrInvalidRecord)
	}
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient id required", ErrInvalidRecord)
	}
	if img := cmd.Image; img != nil {
		if err := validateImage(*img); err != nil {
			return err
		}
		if img.PatientID != r.PatientID {
			return fmt.Errorf("%w: image submitted for another patient", ErrInvalidRecord)
		}
	} else if r.ImageID == uuid.Nil {
		return fmt.Errorf("%w: image id required", ErrInvalidRecord)
	}
	if err := r.Config.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	switch r.Status {
	case StatusCompleted:
		for i, d := range r.Detections {
			if err := detection.Validate(d); err != nil {
				return fmt.Errorf("%w: detection %d: %v", ErrInvalidRecord, i, err)
			}
		}
	case StatusFailed:
		if len(r.Detections) > 0 {
			return fmt.Errorf("%w: failed result cannot carry detections", ErrInvalidRecord)
		}
		if strings.TrimSpace(r.FailureReason) == "" {
			return fmt.Errorf("%w: failed result requires a reason", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	return nil
}

// recentResult finds the newest completed result for the same bytes inside
// the dedup window. Window comparison happens here rather than in SQL so both
// dialects share one query.
func (t *txn) recentResult(patientID uuid.UUID, contentHash string) (uuid.UUID, bool, error) {
	window := t.store.dedupWindow
	if window <= 0 {
		return uuid.Nil, false, nil
	}

	type hit struct {
		id uuid.UUID
		at time.Time
	}
	hits, err := repository.QueryMany(
		t.ctx, t.tx,
		t.store.dialect.Rebind(`SELECT id, created_at FROM analysis_results WHERE patient_id = ? AND content_hash = ? AND status = ?`),
		[]any{patientID, contentHash, string(StatusCompleted)},
		func(sc repository.Scanner) (hit, error) {
			var h hit
			err := sc.Scan(&h.id, &h.at)
			return h, err
		},
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("check duplicates: %w", err)
	}

	cutoff := t.store.now().Add(-window)
	var newest *hit
	for i := range hits {
		if hits[i].at.Before(cutoff) {
			continue
		}
		if newest == nil || hits[i].at.After(newest.at) {
			newest = &hits[i]
		}
	}
	if newest == nil {
		return uuid.Nil, false, nil
	}
	return newest.id, true, nil
}

func duplicateError(existing uuid.UUID) error {
	return fmt.Errorf("%w: see result %s", ErrDuplicateImage, existing)
}

// CheckDuplicate fails with ErrDuplicateImage when a completed result for the
// same bytes already exists inside the dedup window. The rejection is audited
// with outcome duplicate.
func (s *Store) CheckDuplicate(ctx context.Context, actor string, patientID uuid.UUID, contentHash string) error {
	return s.transact(ctx, actor, func(t *txn) error {
		if _, ok, err := t.activePatient(OpRead, patientID); !ok {
			return err
		}

		existing, dup, err := t.recentResult(patientID, contentHash)
		if err != nil {
			return err
		}
		if dup {
			return t.reject(OpRead, KindAnalysis, existing.String(), OutcomeDuplicate, duplicateError(existing))
		}
		return t.audit(OpRead, KindAnalysis, patientScope(patientID), OutcomeSuccess)
	})
}

// SaveAnalysis is the sole writer of analysis results. It assigns the id
// and creation time; the caller's result is not modified. When cmd carries
// the image, the asset is recorded in the same transaction as the result, so
// a failed save leaves neither behind.
func (s *Store) SaveAnalysis(ctx context.Context, actor string, cmd SaveCommand) (*AnalysisResult, error) {
	if err := validateSave(cmd); err != nil {
		return nil, err
	}

	res := *cmd.Result
	res.ID = uuid.New()
	res.Detections = slices.Clone(res.Detections)
	if res.Detections == nil {
		res.Detections = []detection.Detection{}
	}

	unlock := s.locks.lock(res.PatientID)
	defer unlock()

	payload, err := s.seal(KindAnalysis, res.ID, resultPayload{
		Config:         res.Config,
		FailureReason:  res.FailureReason,
		ProcessingTime: res.ProcessingTime,
		Warnings:       res.Warnings,
	})
	if err != nil {
		return nil, err
	}

	detPayloads := make([][]byte, len(res.Detections))
	for i, d := range res.Detections {
		p, err := sealDetection(s, res.ID, i, d)
		if err != nil {
			return nil, err
		}
		detPayloads[i] = p
	}

	var staged *stagedImage
	if cmd.Image != nil {
		if staged, err = s.stageImage(ctx, *cmd.Image); err != nil {
			return nil, err
		}
		res.ImageID = staged.asset.ID
	}

	err = s.transact(ctx, actor, func(t *txn) error {
		if _, ok, err := t.activePatient(OpCreate, res.PatientID); !ok {
			return err
		}

		var img *ImageAsset
		if staged != nil {
			img = &staged.asset
		} else {
			found, ok, err := t.findImage(OpCreate, res.ImageID)
			if !ok {
				return err
			}
			img = found
		}
		if img.PatientID != res.PatientID {
			return t.reject(OpCreate, KindImage, img.ID.String(), OutcomeRejected,
				fmt.Errorf("%w: image %s belongs to another patient", ErrInvalidRecord, img.ID))
		}
		if res.ContentHash == "" {
			res.ContentHash = img.ContentHash
		}
		if res.ContentHash != img.ContentHash {
			return t.reject(OpCreate, KindImage, img.ID.String(), OutcomeRejected,
				fmt.Errorf("%w: content hash does not match image %s", ErrInvalidRecord, img.ID))
		}

		if res.SupersedesID != nil {
			owner, err := repository.QueryScalar[uuid.UUID](
				ctx, t.tx,
				s.dialect.Rebind("SELECT patient_id FROM analysis_results WHERE id = ?"),
				*res.SupersedesID,
			)
			if errors.Is(err, sql.ErrNoRows) {
				return t.reject(OpCreate, KindAnalysis, res.SupersedesID.String(), OutcomeNotFound, ErrAnalysisNotFound)
			}
			if err != nil {
				return err
			}
			if owner != res.PatientID {
				return t.reject(OpCreate, KindAnalysis, res.SupersedesID.String(), OutcomeRejected,
					fmt.Errorf("%w: superseded result belongs to another patient", ErrInvalidRecord))
			}
		}

		// Corrections replace an earlier result and are never duplicates.
		if !cmd.Force && res.SupersedesID == nil {
			existing, dup, err := t.recentResult(res.PatientID, res.ContentHash)
			if err != nil {
				return err
			}
			if dup {
				return t.reject(OpCreate, KindAnalysis, existing.String(), OutcomeDuplicate, duplicateError(existing))
			}
		}

		// Rejections are settled; from here on every record is written.
		if staged != nil && staged.fresh {
			t.writes++
			if err := t.insertImage(staged); err != nil {
				return err
			}
			if err := t.audit(OpCreate, KindImage, img.ID.String(), OutcomeSuccess); err != nil {
				return err
			}
		}

		res.CreatedAt = s.now()

		var supersedes uuid.NullUUID
		if res.SupersedesID != nil {
			supersedes = uuid.NullUUID{UUID: *res.SupersedesID, Valid: true}
		}

		err = t.exec(
			`INSERT INTO analysis_results(id, patient_id, image_id, content_hash, status, supersedes_id, payload, key_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, res.PatientID, res.ImageID, res.ContentHash, string(res.Status), supersedes, payload, s.keys.KeyID(), res.CreatedAt,
		)
		if err != nil {
			return err
		}

		for i, p := range detPayloads {
			if err := t.exec(`INSERT INTO detections(analysis_id, ordinal, payload) VALUES (?, ?, ?)`, res.ID, i, p); err != nil {
				return err
			}
		}

		return t.audit(OpCreate, KindAnalysis, res.ID.String(), OutcomeSuccess)
	})
	if err != nil {
		s.discard(ctx, staged)
		return nil, err
	}

	s.logger.Info(
		"analysis saved",
		"id", res.ID,
		"patient_id", res.PatientID,
		"image_id", res.ImageID,
		"status", res.Status,
		"detections", len(res.Detections),
	)
	return &res, nil
}

func sealDetection(s *Store, analysisID uuid.UUID, ordinal int, d detection.Detection) ([]byte, error) {
	data, err := sealing.SealJSON(s.keys, d, sealing.AAD(KindDetection, detectionID(analysisID, ordinal)))
	if err != nil {
		return nil, fmt.Errorf("%w: seal detection: %v", ErrStorage, err)
	}
	return data, nil
}

func (s *Store) FindAnalysis(ctx context.Context, actor string, id uuid.UUID) (*AnalysisResult, error) {
	var found *AnalysisResult
	err := s.transact(ctx, actor, func(t *txn) error {
		a, err := repository.QueryOne(ctx, t.tx, s.dialect.Rebind(analysisQuery+" WHERE a.id = ?"), []any{id}, s.scanAnalysis)
		if errors.Is(err, sql.ErrNoRows) {
			return t.reject(OpRead, KindAnalysis, id.String(), OutcomeNotFound, ErrAnalysisNotFound)
		}
		if err != nil {
			return err
		}

		dets, err := t.detections(`SELECT analysis_id, ordinal, payload FROM detections WHERE analysis_id = ?`, id)
		if err != nil {
			return err
		}
		a.Detections = orderedDetections(dets[a.ID])

		found = &a
		return t.audit(OpRead, KindAnalysis, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListAnalyses returns every result for a patient in chronological order
// with detections attached. An existing patient with no results yields an
// empty slice.
func (s *Store) ListAnalyses(ctx context.Context, actor string, patientID uuid.UUID) ([]AnalysisResult, error) {
	var results []AnalysisResult
	err := s.transact(ctx, actor, func(t *txn) error {
		exists, err := t.patientExists(OpRead, KindAnalysis, patientID)
		if !exists {
			return err
		}

		results, err = t.patientAnalyses(patientID)
		if err != nil {
			return err
		}
		return t.audit(OpRead, KindAnalysis, patientScope(patientID), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (t *txn) patientAnalyses(patientID uuid.UUID) ([]AnalysisResult, error) {
	results, err := repository.QueryMany(
		t.ctx, t.tx,
		t.store.dialect.Rebind(analysisQuery+" WHERE a.patient_id = ?"),
		[]any{patientID},
		t.store.scanAnalysis,
	)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}

	dets, err := t.detections(
		`SELECT d.analysis_id, d.ordinal, d.payload FROM detections d
		JOIN analysis_results a ON a.id = d.analysis_id
		WHERE a.patient_id = ?`,
		patientID,
	)
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Detections = orderedDetections(dets[results[i].ID])
	}
	sortByCreated(results, func(a AnalysisResult) int64 { return a.CreatedAt.UnixNano() })
	return results, nil
}

type storedDetection struct {
	analysisID uuid.UUID
	ordinal    int
	detection  detection.Detection
}

func (t *txn) detections(query string, args ...any) (map[uuid.UUID][]storedDetection, error) {
	rows, err := repository.QueryMany(
		t.ctx, t.tx,
		t.store.dialect.Rebind(query),
		args,
		func(sc repository.Scanner) (storedDetection, error) {
			var (
				d       storedDetection
				payload []byte
			)
			if err := sc.Scan(&d.analysisID, &d.ordinal, &payload); err != nil {
				return d, err
			}
			det, err := open[detection.Detection](
				t.store, KindDetection, detectionID(d.analysisID, d.ordinal), t.store.keys.KeyID(), payload,
			)
			d.detection = det
			return d, err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}

	byAnalysis := make(map[uuid.UUID][]storedDetection)
	for _, d := range rows {
		byAnalysis[d.analysisID] = append(byAnalysis[d.analysisID], d)
	}
	return byAnalysis, nil
}

// orderedDetections restores persisted order, which is confidence-descending.
func orderedDetections(stored []storedDetection) []detection.Detection {
	slices.SortFunc(stored, func(a, b storedDetection) int { return cmp.Compare(a.ordinal, b.ordinal) })
	out := make([]detection.Detection, len(stored))
	for i, d := range stored {
		out[i] = d.detection
	}
	return out
}

func sortByCreated[T any](items []T, key func(T) int64) {
	slices.SortStableFunc(items, func(a, b T) int { return cmp.Compare(key(a), key(b)) })
}
