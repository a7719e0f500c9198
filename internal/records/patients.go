package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/query"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/repository"
)

// mrnColumn is filtered on but never selected.
const mrnColumn = "p.mrn_index"

func validateDemographics(d Demographics) error {
	if strings.TrimSpace(d.FirstName) == "" || strings.TrimSpace(d.LastName) == "" {
		return fmt.Errorf("%w: first and last name required", ErrInvalidRecord)
	}
	return nil
}

func (s *Store) mrnIndex(mrn string) sql.NullString {
	if strings.TrimSpace(mrn) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s.keys.BlindIndex(mrn), Valid: true}
}

// mrnTaken reports whether another patient holds index. The unique index
// remains the final guard; checking first lets the rejection be audited.
func (t *txn) mrnTaken(index sql.NullString, self uuid.UUID) (bool, error) {
	if !index.Valid {
		return false, nil
	}
	n, err := t.store.count(t.ctx, t.tx, "SELECT COUNT(*) FROM patients WHERE mrn_index = ? AND id <> ?", index.String, self)
	if err != nil {
		return false, fmt.Errorf("check mrn: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CreatePatient(ctx context.Context, actor string, d Demographics) (*Patient, error) {
	if err := validateDemographics(d); err != nil {
		return nil, err
	}

	now := s.now()
	p := &Patient{
		ID:           uuid.New(),
		Demographics: d,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	payload, err := s.seal(KindPatient, p.ID, p.Demographics)
	if err != nil {
		return nil, err
	}

	index := s.mrnIndex(d.MedicalRecordNumber)

	err = s.transact(ctx, actor, func(t *txn) error {
		taken, err := t.mrnTaken(index, p.ID)
		if err != nil {
			return err
		}
		if taken {
			return t.reject(OpCreate, KindPatient, p.ID.String(), OutcomeRejected, ErrMRNConflict)
		}

		err = t.exec(
			`INSERT INTO patients(id, mrn_index, payload, key_id, archived, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, index, payload, s.keys.KeyID(), false, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return repository.MapError(err, ErrPatientNotFound, ErrMRNConflict)
		}
		return t.audit(OpCreate, KindPatient, p.ID.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("patient created", "id", p.ID, "actor", actor)
	return p, nil
}

func (s *Store) UpdatePatient(ctx context.Context, actor string, id uuid.UUID, d Demographics) (*Patient, error) {
	if err := validateDemographics(d); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	payload, err := s.seal(KindPatient, id, d)
	if err != nil {
		return nil, err
	}

	var updated *Patient
	err = s.transact(ctx, actor, func(t *txn) error {
		p, ok, err := t.activePatient(OpUpdate, id)
		if !ok {
			return err
		}

		index := s.mrnIndex(d.MedicalRecordNumber)
		taken, err := t.mrnTaken(index, id)
		if err != nil {
			return err
		}
		if taken {
			return t.reject(OpUpdate, KindPatient, id.String(), OutcomeRejected, ErrMRNConflict)
		}

		p.Demographics = d
		p.UpdatedAt = s.now()

		err = t.execOne(
			`UPDATE patients SET mrn_index = ?, payload = ?, key_id = ?, updated_at = ? WHERE id = ?`,
			index, payload, s.keys.KeyID(), p.UpdatedAt, id,
		)
		if err != nil {
			return repository.MapError(err, ErrPatientNotFound, ErrMRNConflict)
		}

		updated = p
		return t.audit(OpUpdate, KindPatient, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("patient updated", "id", id, "actor", actor)
	return updated, nil
}

func (s *Store) FindPatient(ctx context.Context, actor string, id uuid.UUID) (*Patient, error) {
	var found *Patient
	err := s.transact(ctx, actor, func(t *txn) error {
		p, err := repository.QueryOne(ctx, t.tx, s.dialect.Rebind(patientQuery+" WHERE p.id = ?"), []any{id}, s.scanPatient)
		if errors.Is(err, sql.ErrNoRows) {
			return t.reject(OpRead, KindPatient, id.String(), OutcomeNotFound, ErrPatientNotFound)
		}
		if err != nil {
			return err
		}
		found = &p
		return t.audit(OpRead, KindPatient, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// FindPatientByMRN looks the patient up through the MRN blind index. The
// audit entry names the index, never the MRN itself.
func (s *Store) FindPatientByMRN(ctx context.Context, actor string, mrn string) (*Patient, error) {
	index := s.mrnIndex(mrn)
	if !index.Valid {
		return nil, fmt.Errorf("%w: medical record number required", ErrInvalidRecord)
	}

	var found *Patient
	err := s.transact(ctx, actor, func(t *txn) error {
		p, err := repository.QueryOne(
			ctx, t.tx,
			s.dialect.Rebind(patientQuery+" WHERE "+mrnColumn+" = ?"),
			[]any{index.String},
			s.scanPatient,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return t.reject(OpRead, KindPatient, "mrn:"+index.String, OutcomeNotFound, ErrPatientNotFound)
		}
		if err != nil {
			return err
		}
		found = &p
		return t.audit(OpRead, KindPatient, p.ID.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListPatients pages through patients newest first. Demographics are sealed,
// so page.Search matches the medical record number exactly through its blind
// index.
func (s *Store) ListPatients(
	ctx context.Context,
	actor string,
	page pagination.PageRequest,
	filters PatientFilters,
) (*pagination.PageResult[Patient], error) {
	page.Normalize(s.pagination)

	qb := query.NewBuilder(patientProjection, patientDefaultSort)
	filters.Apply(qb)
	if page.Search != nil {
		if index := s.mrnIndex(*page.Search); index.Valid {
			qb.WhereEquals(mrnColumn, index.String)
		}
	}
	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	var result pagination.PageResult[Patient]
	err := s.transact(ctx, actor, func(t *txn) error {
		countSQL, countArgs := qb.BuildCount()
		total, err := s.count(ctx, t.tx, countSQL, countArgs...)
		if err != nil {
			return fmt.Errorf("count patients: %w", err)
		}

		pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
		patients, err := repository.QueryMany(ctx, t.tx, s.dialect.Rebind(pageSQL), pageArgs, s.scanPatient)
		if err != nil {
			return fmt.Errorf("query patients: %w", err)
		}

		result = pagination.NewPageResult(patients, total, page.Page, page.PageSize)
		return t.audit(OpRead, KindPatient, "*", OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ArchivePatient hides a patient from active use. Archiving an archived
// patient succeeds without change.
func (s *Store) ArchivePatient(ctx context.Context, actor string, id uuid.UUID) error {
	unlock := s.locks.lock(id)
	defer unlock()

	err := s.transact(ctx, actor, func(t *txn) error {
		err := t.execOne(`UPDATE patients SET archived = ?, updated_at = ? WHERE id = ?`, true, s.now(), id)
		if errors.Is(err, sql.ErrNoRows) {
			return t.reject(OpDelete, KindPatient, id.String(), OutcomeNotFound, ErrPatientNotFound)
		}
		if err != nil {
			return err
		}
		return t.audit(OpDelete, KindPatient, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return err
	}

	s.logger.Info("patient archived", "id", id, "actor", actor)
	return nil
}
