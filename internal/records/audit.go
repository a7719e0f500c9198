package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/query"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/repository"
)

// ListAudit pages through the audit trail newest first. The page is read
// before this access is itself recorded.
func (s *Store) ListAudit(
	ctx context.Context,
	actor string,
	page pagination.PageRequest,
	filters AuditFilters,
) (*pagination.PageResult[AuditEntry], error) {
	page.Normalize(s.pagination)

	qb := query.NewBuilder(auditProjection, auditDefaultSort)
	filters.Apply(qb)
	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	var result pagination.PageResult[AuditEntry]
	err := s.transact(ctx, actor, func(t *txn) error {
		countSQL, countArgs := qb.BuildCount()
		total, err := s.count(ctx, t.tx, countSQL, countArgs...)
		if err != nil {
			return fmt.Errorf("count audit entries: %w", err)
		}

		pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
		entries, err := repository.QueryMany(ctx, t.tx, s.dialect.Rebind(pageSQL), pageArgs, scanAudit)
		if err != nil {
			return fmt.Errorf("query audit entries: %w", err)
		}

		result = pagination.NewPageResult(entries, total, page.Page, page.PageSize)
		return t.audit(OpRead, KindAudit, "*", OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ExportPatient returns everything held for a patient, archived or not.
func (s *Store) ExportPatient(ctx context.Context, actor string, id uuid.UUID) (*Export, error) {
	var export *Export
	err := s.transact(ctx, actor, func(t *txn) error {
		p, err := repository.QueryOne(ctx, t.tx, s.dialect.Rebind(patientQuery+" WHERE p.id = ?"), []any{id}, s.scanPatient)
		if errors.Is(err, sql.ErrNoRows) {
			return t.reject(OpExport, KindPatient, id.String(), OutcomeNotFound, ErrPatientNotFound)
		}
		if err != nil {
			return err
		}

		images, err := repository.QueryMany(ctx, t.tx, s.dialect.Rebind(imageQuery+" WHERE i.patient_id = ?"), []any{id}, s.scanImage)
		if err != nil {
			return fmt.Errorf("query images: %w", err)
		}
		sortByCreated(images, func(a ImageAsset) int64 { return a.CreatedAt.UnixNano() })

		analyses, err := t.patientAnalyses(id)
		if err != nil {
			return err
		}

		export = &Export{
			Patient:    p,
			Images:     images,
			Analyses:   analyses,
			ExportedAt: s.now(),
		}
		return t.audit(OpExport, KindPatient, id.String(), OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("patient exported", "id", id, "actor", actor)
	return export, nil
}

// Totals counts records across the whole store.
func (s *Store) Totals(ctx context.Context, actor string) (*Totals, error) {
	var totals Totals
	err := s.transact(ctx, actor, func(t *txn) error {
		counts := []struct {
			dst   *int
			query string
			args  []any
		}{
			{&totals.Patients, "SELECT COUNT(*) FROM patients", nil},
			{&totals.ArchivedPatients, "SELECT COUNT(*) FROM patients WHERE archived = ?", []any{true}},
			{&totals.Images, "SELECT COUNT(*) FROM image_assets", nil},
			{&totals.Analyses, "SELECT COUNT(*) FROM analysis_results", nil},
			{&totals.Completed, "SELECT COUNT(*) FROM analysis_results WHERE status = ?", []any{string(StatusCompleted)}},
			{&totals.Failed, "SELECT COUNT(*) FROM analysis_results WHERE status = ?", []any{string(StatusFailed)}},
			{&totals.Detections, "SELECT COUNT(*) FROM detections", nil},
			{&totals.AuditEntries, "SELECT COUNT(*) FROM audit_entries", nil},
		}

		for _, c := range counts {
			n, err := s.count(ctx, t.tx, c.query, c.args...)
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}
			*c.dst = n
		}

		return t.audit(OpRead, KindSystem, "*", OutcomeSuccess)
	})
	if err != nil {
		return nil, err
	}
	return &totals, nil
}
