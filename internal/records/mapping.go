package records

import (
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/query"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/repository"
)

var patientProjection = query.
	NewProjectionMap("patients", "p").
	Project("id", "ID").
	Project("payload", "Payload").
	Project("key_id", "KeyID").
	Project("archived", "Archived").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var imageProjection = query.
	NewProjectionMap("image_assets", "i").
	Project("id", "ID").
	Project("patient_id", "PatientID").
	Project("content_hash", "ContentHash").
	Project("format", "Format").
	Project("size_bytes", "SizeBytes").
	Project("storage_key", "StorageKey").
	Project("payload", "Payload").
	Project("key_id", "KeyID").
	Project("archived", "Archived").
	Project("created_at", "CreatedAt")

var analysisProjection = query.
	NewProjectionMap("analysis_results", "a").
	Project("id", "ID").
	Project("patient_id", "PatientID").
	Project("image_id", "ImageID").
	Project("content_hash", "ContentHash").
	Project("status", "Status").
	Project("supersedes_id", "SupersedesID").
	Project("payload", "Payload").
	Project("key_id", "KeyID").
	Project("created_at", "CreatedAt")

var auditProjection = query.
	NewProjectionMap("audit_entries", "e").
	Project("id", "ID").
	Project("actor", "Actor").
	Project("operation", "Operation").
	Project("entity_kind", "EntityKind").
	Project("entity_id", "EntityID").
	Project("outcome", "Outcome").
	Project("occurred_at", "OccurredAt")

var (
	patientQuery  = patientProjection.Select()
	imageQuery    = imageProjection.Select()
	analysisQuery = analysisProjection.Select()
)

var (
	patientDefaultSort = query.SortField{Field: "CreatedAt", Descending: true}
	auditDefaultSort   = query.SortField{Field: "OccurredAt", Descending: true}
)

// PatientFilters narrows ListPatients. Nil fields are ignored.
type PatientFilters struct {
	Archived *bool `json:"archived,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f PatientFilters) Apply(b *query.Builder) *query.Builder {
	return b.WhereEquals("Archived", f.Archived)
}

// PatientFiltersFromQuery extracts filter values from URL query parameters.
func PatientFiltersFromQuery(values url.Values) PatientFilters {
	var f PatientFilters
	if v := values.Get("archived"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Archived = &b
		}
	}
	return f
}

// AuditFilters narrows ListAudit. All fields use exact matching.
type AuditFilters struct {
	Actor      *string `json:"actor,omitempty"`
	Operation  *string `json:"operation,omitempty"`
	EntityKind *string `json:"entity_kind,omitempty"`
	EntityID   *string `json:"entity_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f AuditFilters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Actor", f.Actor).
		WhereEquals("Operation", f.Operation).
		WhereEquals("EntityKind", f.EntityKind).
		WhereEquals("EntityID", f.EntityID)
}

// AuditFiltersFromQuery extracts filter values from URL query parameters.
func AuditFiltersFromQuery(values url.Values) AuditFilters {
	var f AuditFilters

	if v := values.Get("actor"); v != "" {
		f.Actor = &v
	}
	if v := values.Get("operation"); v != "" {
		f.Operation = &v
	}
	if v := values.Get("entity_kind"); v != "" {
		f.EntityKind = &v
	}
	if v := values.Get("entity_id"); v != "" {
		f.EntityID = &v
	}

	return f
}

func (s *Store) scanPatient(sc repository.Scanner) (Patient, error) {
	var (
		p       Patient
		payload []byte
		keyID   string
	)
	if err := sc.Scan(&p.ID, &payload, &keyID, &p.Archived, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}

	d, err := open[Demographics](s, KindPatient, p.ID.String(), keyID, payload)
	if err != nil {
		return p, err
	}

	p.Demographics = d
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) scanImage(sc repository.Scanner) (ImageAsset, error) {
	var (
		i       ImageAsset
		payload []byte
		keyID   string
	)
	err := sc.Scan(
		&i.ID,
		&i.PatientID,
		&i.ContentHash,
		&i.Format,
		&i.SizeBytes,
		&i.StorageKey,
		&payload,
		&keyID,
		&i.Archived,
		&i.CreatedAt,
	)
	if err != nil {
		return i, err
	}

	m, err := open[ImageMetadata](s, KindImage, i.ID.String(), keyID, payload)
	if err != nil {
		return i, err
	}

	i.ImageMetadata = m
	i.CreatedAt = i.CreatedAt.UTC()
	return i, nil
}

// resultPayload is the sealed portion of an analysis result.
type resultPayload struct {
	Config         AnalysisConfig `json:"config"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Warnings       []string       `json:"warnings,omitempty"`
}

func (s *Store) scanAnalysis(sc repository.Scanner) (AnalysisResult, error) {
	var (
		a          AnalysisResult
		supersedes uuid.NullUUID
		payload    []byte
		keyID      string
	)
	err := sc.Scan(
		&a.ID,
		&a.PatientID,
		&a.ImageID,
		&a.ContentHash,
		&a.Status,
		&supersedes,
		&payload,
		&keyID,
		&a.CreatedAt,
	)
	if err != nil {
		return a, err
	}

	rp, err := open[resultPayload](s, KindAnalysis, a.ID.String(), keyID, payload)
	if err != nil {
		return a, err
	}

	a.Config = rp.Config
	a.FailureReason = rp.FailureReason
	a.ProcessingTime = rp.ProcessingTime
	a.Warnings = rp.Warnings
	if supersedes.Valid {
		id := supersedes.UUID
		a.SupersedesID = &id
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func scanAudit(sc repository.Scanner) (AuditEntry, error) {
	var e AuditEntry
	err := sc.Scan(
		&e.ID,
		&e.Actor,
		&e.Operation,
		&e.EntityKind,
		&e.EntityID,
		&e.Outcome,
		&e.OccurredAt,
	)
	e.OccurredAt = e.OccurredAt.UTC()
	return e, err
}

// detectionID identifies a detection row by its parent and position.
func detectionID(analysisID uuid.UUID, ordinal int) string {
	return analysisID.String() + "/" + strconv.Itoa(ordinal)
}
