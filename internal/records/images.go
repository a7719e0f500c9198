package records

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/repository"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/sealing"
)

const blobContentType = "application/octet-stream"

func storageKey(patientID, imageID uuid.UUID) string {
	return fmt.Sprintf("patients/%s/images/%s.sealed", patientID, imageID)
}

func blobAAD(imageID uuid.UUID) []byte {
	return sealing.AAD(KindImage+"-bytes", imageID.String())
}

// patientScope names a per-patient collection in the audit trail.
func patientScope(patientID uuid.UUID) string {
	return "patient/" + patientID.String()
}

// stagedImage is an asset prepared before the transaction that records it.
// A fresh asset already has its sealed bytes uploaded and still needs its row.
type stagedImage struct {
	asset   ImageAsset
	payload []byte
	fresh   bool
}

func validateImage(cmd StoreImageCommand) error {
	switch {
	case cmd.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient id required", ErrInvalidRecord)
	case len(cmd.Data) == 0:
		return fmt.Errorf("%w: image data required", ErrInvalidRecord)
	case strings.TrimSpace(cmd.Format) == "":
		return fmt.Errorf("%w: image format required", ErrInvalidRecord)
	}
	return nil
}

// stageImage resolves the asset for cmd outside any transaction so blob
// traffic never holds one open. It must run under the patient lock, which
// keeps the existing-asset lookup stable until the row is written.
func (s *Store) stageImage(ctx context.Context, cmd StoreImageCommand) (*stagedImage, error) {
	if err := validateImage(cmd); err != nil {
		return nil, err
	}
	hash := ingest.Hash(cmd.Data)

	existing, err := repository.QueryOne(
		ctx, s.db,
		s.dialect.Rebind(imageQuery+" WHERE i.patient_id = ? AND i.content_hash = ?"),
		[]any{cmd.PatientID, hash},
		s.scanImage,
	)
	if err == nil {
		if err := s.restoreBlob(ctx, &existing, cmd.Data); err != nil {
			return nil, err
		}
		return &stagedImage{asset: existing}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, classify(err)
	}

	a := ImageAsset{
		ID:            uuid.New(),
		PatientID:     cmd.PatientID,
		ContentHash:   hash,
		Format:        cmd.Format,
		SizeBytes:     int64(len(cmd.Data)),
		ImageMetadata: cmd.Metadata,
		CreatedAt:     s.now(),
	}
	a.StorageKey = storageKey(a.PatientID, a.ID)

	payload, err := s.seal(KindImage, a.ID, a.ImageMetadata)
	if err != nil {
		return nil, err
	}
	sealed, err := s.keys.Seal(cmd.Data, blobAAD(a.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: seal image bytes: %v", ErrStorage, err)
	}
	if err := s.blobs.Upload(ctx, a.StorageKey, bytes.NewReader(sealed), blobContentType); err != nil {
		return nil, fmt.Errorf("%w: upload image: %v", ErrStorage, err)
	}
	return &stagedImage{asset: a, payload: payload, fresh: true}, nil
}

// discard removes the blob of a fresh asset whose row was never committed.
func (s *Store) discard(ctx context.Context, st *stagedImage) {
	if st == nil || !st.fresh {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), st.asset.StorageKey); err != nil {
		s.logger.Warn("compensating blob delete failed", "key", st.asset.StorageKey, "error", err)
	}
}

func (t *txn) insertImage(st *stagedImage) error {
	a := st.asset
	return t.exec(
		`INSERT INTO image_assets(id, patient_id, content_hash, format, size_bytes, storage_key, payload, key_id, archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.ContentHash, a.Format, a.SizeBytes, a.StorageKey, st.payload, t.store.keys.KeyID(), false, a.CreatedAt,
	)
}

// StoreImage seals and uploads image bytes and records the asset. Storing
// bytes already held for the patient returns the existing asset.
func (s *Store) StoreImage(ctx context.Context, actor string, cmd StoreImageCommand) (*ImageAsset, error) {
	if err := validateImage(cmd); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(cmd.PatientID)
	defer unlock()

	st, err := s.stageImage(ctx, cmd)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, actor, func(t *txn) error {
		if _, ok, err := t.activePatient(OpCreate, cmd.PatientID); !ok {
			return err
		}
		if !st.fresh {
			return t.audit(OpCreate, KindImage, st.asset.ID.String(), OutcomeExisting)
		}
		if err := t.insertImage(st); err != nil {
			return err
		}
		return t.audit(OpCreate, KindImage, st.asset.ID.String(), OutcomeSuccess)
	})
	if err != nil {
		s.discard(ctx, st)
		return nil, err
	}

	if st.fresh {
		s.logger.Info("image stored", "id", st.asset.ID, "patient_id", st.asset.PatientID, "size", st.asset.SizeBytes)
	}
	return &st.asset, nil
}

// restoreBlob re-uploads the sealed bytes of an existing asset whose blob
// has gone missing, so a repeat upload repairs rather than reuses a dead key.
func (s *Store) restoreBlob(ctx context.Context, a *ImageAsset, data []byte) error {
	ok, err := s.blobs.Exists(ctx, a.StorageKey)
	if err != nil {
		return fmt.Errorf("%w: check image blob: %v", ErrStorage, err)
	}
	if ok {
		return nil
	}

	sealed, err := s.keys.Seal(data, blobAAD(a.ID))
	if err != nil {
		return fmt.Errorf("%w: seal image bytes: %v", ErrStorage, err)
	}
	if err := s.blobs.Upload(ctx, a.StorageKey, bytes.NewReader(sealed), blobContentType); err != nil {
		return fmt.Errorf("%w: restore image: %v", ErrStorage, err)
	}
	s.logger.Warn("image blob restored", "id", a.ID, "key", a.StorageKey)
	return nil
}

func (t *txn) findImage(op Operation, id uuid.UUID) (*ImageAsset, bool, error) {
	a, err := repository.QueryOne(
		t.ctx, t.tx,
		t.store.dialect.Rebind(imageQuery+" WHERE i.id = ?"),
		[]any{id},
		t.store.scanImage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, t.reject(op, KindImage, id.String(), OutcomeNotFound, ErrImageNotFound)
	}
	if err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

func (s *Store) FindImage(ctx context.Context, actor string, id uuid.UUID) (*ImageAsset, error) {
	var found *ImageAsset
	err := s.transact(ctx, actor, func(t *txn) error {
		a, ok, err := t.findImage(OpRead, id)
		if !ok {
			return err
		}
		found = a
		return t.audit(OpRead, KindImage, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// LoadImage returns the decrypted original bytes together with the asset.
func (s *Store) LoadImage(ctx context.Context, actor string, id uuid.UUID) ([]byte, *ImageAsset, error) {
	var (
		found *ImageAsset
		data  []byte
	)
	err := s.transact(ctx, actor, func(t *txn) error {
		a, ok, err := t.findImage(OpRead, id)
		if !ok {
			return err
		}

		rc, err := s.blobs.Download(ctx, a.StorageKey)
		if err != nil {
			return fmt.Errorf("%w: download image %s: %v", ErrStorage, id, err)
		}
		defer rc.Close()

		sealed, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("%w: read image %s: %v", ErrStorage, id, err)
		}

		data, err = s.keys.Open(sealed, blobAAD(id))
		if err != nil {
			return fmt.Errorf("%w: open image %s: %v", ErrStorage, id, err)
		}

		found = a
		return t.audit(OpRead, KindImage, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, nil, err
	}
	return data, found, nil
}

// ListImages returns a patient's images oldest first, archived included.
func (s *Store) ListImages(ctx context.Context, actor string, patientID uuid.UUID) ([]ImageAsset, error) {
	var images []ImageAsset
	err := s.transact(ctx, actor, func(t *txn) error {
		exists, err := t.patientExists(OpRead, KindImage, patientID)
		if !exists {
			return err
		}

		images, err = repository.QueryMany(
			ctx, t.tx,
			s.dialect.Rebind(imageQuery+" WHERE i.patient_id = ?"),
			[]any{patientID},
			s.scanImage,
		)
		if err != nil {
			return fmt.Errorf("query images: %w", err)
		}
		sortByCreated(images, func(a ImageAsset) int64 { return a.CreatedAt.UnixNano() })

		return t.audit(OpRead, KindImage, patientScope(patientID), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// ArchiveImage hides an image from active use; its bytes and any results
// that reference it are kept.
func (s *Store) ArchiveImage(ctx context.Context, actor string, id uuid.UUID) error {
	patientID, err := repository.QueryScalar[uuid.UUID](ctx, s.db, s.dialect.Rebind("SELECT patient_id FROM image_assets WHERE id = ?"), id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return classify(err)
	}
	if err == nil {
		unlock := s.locks.lock(patientID)
		defer unlock()
	}

	err = s.transact(ctx, actor, func(t *txn) error {
		err := t.execOne(`UPDATE image_assets SET archived = ? WHERE id = ?`, true, id)
		if errors.Is(err, sql.ErrNoRows) {
			return t.reject(OpDelete, KindImage, id.String(), OutcomeNotFound, ErrImageNotFound)
		}
		if err != nil {
			return err
		}
		return t.audit(OpDelete, KindImage, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return err
	}

	s.logger.Info("image archived", "id", id, "actor", actor)
	return nil
}

// patientExists checks a patient row without regard to archiving and
// audits a miss under kind.
func (t *txn) patientExists(op Operation, kind string, patientID uuid.UUID) (bool, error) {
	n, err := t.store.count(t.ctx, t.tx, "SELECT COUNT(*) FROM patients WHERE id = ?", patientID)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, t.reject(op, kind, patientScope(patientID), OutcomeNotFound, ErrPatientNotFound)
	}
	return true, nil
}
