package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/repository"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/sealing"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/storage"
)

// Store implements System and AnalysisWriter over database/sql, blob
// storage, and an injected key handle. It never derives or rotates keys.
type Store struct {
	db          *sql.DB
	dialect     database.Dialect
	blobs       storage.System
	keys        sealing.KeyHandle
	dedupWindow time.Duration
	pagination  pagination.Config
	logger      *slog.Logger
	locks       *patientLocks
	now         func() time.Time
}

// New creates a record store.
func New(
	db *sql.DB,
	dialect database.Dialect,
	blobs storage.System,
	keys sealing.KeyHandle,
	cfg Config,
	pagination pagination.Config,
	logger *slog.Logger,
) *Store {
	return &Store{
		db:          db,
		dialect:     dialect,
		blobs:       blobs,
		keys:        keys,
		dedupWindow: cfg.DedupWindowDuration(),
		pagination:  pagination,
		logger:      logger.With("system", "records"),
		locks:       newPatientLocks(),
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *Store) Handler() *Handler {
	return NewHandler(s, s.logger, s.pagination)
}

// txn carries one transaction and the actor it is audited under. Each
// record written in the transaction is audited once; writes allows more than
// one when an operation creates several records together.
type txn struct {
	ctx      context.Context
	tx       *sql.Tx
	store    *Store
	actor    string
	audits   int
	writes   int
	rejected error
}

func (t *txn) exec(query string, args ...any) error {
	_, err := t.tx.ExecContext(t.ctx, t.store.dialect.Rebind(query), args...)
	return err
}

func (t *txn) execOne(query string, args ...any) error {
	return repository.ExecExpectOne(t.ctx, t.tx, t.store.dialect.Rebind(query), args...)
}

func (t *txn) audit(op Operation, kind, entityID, outcome string) error {
	if t.audits >= t.writes {
		return fmt.Errorf("%w: operation already audited", ErrAuditWrite)
	}

	err := t.exec(
		`INSERT INTO audit_entries(id, actor, operation, entity_kind, entity_id, outcome, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New(), t.actor, string(op), kind, entityID, outcome, t.store.now(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	t.audits++
	return nil
}

// reject audits a refused operation. The transaction still commits so the
// audit entry persists, and err is returned to the caller afterwards.
func (t *txn) reject(op Operation, kind, entityID, outcome string, err error) error {
	if aerr := t.audit(op, kind, entityID, outcome); aerr != nil {
		return aerr
	}
	t.rejected = err
	return nil
}

// transact runs fn in one transaction. fn must audit exactly once, either
// through audit or reject, unless it raises writes for extra records.
func (s *Store) transact(ctx context.Context, actor string, fn func(t *txn) error) error {
	if actor == "" {
		return fmt.Errorf("%w: actor required", ErrInvalidRecord)
	}

	t := &txn{ctx: ctx, store: s, actor: actor, writes: 1}
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t.tx = tx
		if err := fn(t); err != nil {
			return err
		}
		if t.audits < t.writes {
			return fmt.Errorf("%w: operation not audited", ErrAuditWrite)
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}
	return t.rejected
}

var domainErrors = []error{
	ErrNotFound,
	ErrPatientArchived,
	ErrInvalidRecord,
	ErrMRNConflict,
	ErrDuplicateImage,
	ErrStorage,
	ErrAuditWrite,
}

// classify leaves domain errors intact and reports everything else as a
// storage failure.
func classify(err error) error {
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// activePatient loads the patient row and checks it can accept writes.
func (t *txn) activePatient(op Operation, id uuid.UUID) (*Patient, bool, error) {
	p, err := repository.QueryOne(
		t.ctx, t.tx,
		t.store.dialect.Rebind(patientQuery+" WHERE p.id = ?"),
		[]any{id},
		t.store.scanPatient,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, t.reject(op, KindPatient, id.String(), OutcomeNotFound, ErrPatientNotFound)
	}
	if err != nil {
		return nil, false, err
	}
	if p.Archived {
		return nil, false, t.reject(op, KindPatient, id.String(), OutcomeRejected, ErrPatientArchived)
	}
	return &p, true, nil
}

func (s *Store) seal(kind string, id uuid.UUID, v any) ([]byte, error) {
	data, err := sealing.SealJSON(s.keys, v, sealing.AAD(kind, id.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: seal %s: %v", ErrStorage, kind, err)
	}
	return data, nil
}

func open[T any](s *Store, kind, id, keyID string, payload []byte) (T, error) {
	var zero T
	if keyID != s.keys.KeyID() {
		return zero, fmt.Errorf("%w: %s %s sealed with key %q", ErrStorage, kind, id, keyID)
	}
	v, err := sealing.OpenJSON[T](s.keys, payload, sealing.AAD(kind, id))
	if err != nil {
		return zero, fmt.Errorf("%w: open %s %s: %v", ErrStorage, kind, id, err)
	}
	return v, nil
}

func (s *Store) count(ctx context.Context, q repository.Querier, query string, args ...any) (int, error) {
	return repository.QueryScalar[int](ctx, q, s.dialect.Rebind(query), args...)
}
