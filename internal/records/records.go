// Package records is the secure store for patients, images, analysis results
// and the audit trail. Every operation commits together with exactly one
// audit entry; entity payloads are sealed before they reach the database or
// blob storage.
package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
)

// Entity kinds recorded in the audit trail and bound into sealed payloads.
const (
	KindPatient   = "patient"
	KindImage     = "image"
	KindAnalysis  = "analysis"
	KindDetection = "detection"
	KindAudit     = "audit"
	KindSystem    = "system"
)

// Demographics is the sealed portion of a patient record.
type Demographics struct {
	FirstName           string         `json:"first_name"`
	LastName            string         `json:"last_name"`
	DateOfBirth         string         `json:"date_of_birth,omitempty"`
	Gender              string         `json:"gender,omitempty"`
	MedicalRecordNumber string         `json:"medical_record_number,omitempty"`
	Contact             map[string]any `json:"contact,omitempty"`
	MedicalHistory      map[string]any `json:"medical_history,omitempty"`
	RiskFactors         map[string]any `json:"risk_factors,omitempty"`
}

// Patient is never physically deleted; archiving sets the flag.
type Patient struct {
	ID uuid.UUID `json:"id"`
	Demographics
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImageMetadata is the sealed acquisition metadata of an image.
type ImageMetadata struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	ImageType  string     `json:"image_type,omitempty"`
	Laterality string     `json:"laterality,omitempty"`
	View       string     `json:"view,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	Filename   string     `json:"filename,omitempty"`
}

// ImageAsset is immutable once stored and unique per patient and content hash.
type ImageAsset struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ContentHash string    `json:"content_hash"`
	Format      string    `json:"format"`
	SizeBytes   int64     `json:"size_bytes"`
	StorageKey  string    `json:"-"`
	ImageMetadata
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

// StoreImageCommand carries raw image bytes for StoreImage.
type StoreImageCommand struct {
	PatientID uuid.UUID
	Data      []byte
	Format    string
	Metadata  ImageMetadata
}

// Status is the terminal state of an analysis run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AnalysisConfig snapshots the model and thresholds a result was produced with.
type AnalysisConfig struct {
	Model  string `json:"model"`
	Device string `json:"device"`
	detection.Thresholds
}

// AnalysisResult is immutable. Corrections are new results that reference
// the result they supersede.
type AnalysisResult struct {
	ID             uuid.UUID             `json:"id"`
	PatientID      uuid.UUID             `json:"patient_id"`
	ImageID        uuid.UUID             `json:"image_id"`
	ContentHash    string                `json:"content_hash"`
	Config         AnalysisConfig        `json:"config"`
	Detections     []detection.Detection `json:"detections"`
	Status         Status                `json:"status"`
	FailureReason  string                `json:"failure_reason,omitempty"`
	ProcessingTime time.Duration         `json:"processing_time_ns"`
	Warnings       []string              `json:"warnings,omitempty"`
	SupersedesID   *uuid.UUID            `json:"supersedes_id,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// MaxConfidence returns the highest detection confidence, or 0 when empty.
func (a *AnalysisResult) MaxConfidence() float64 {
	return detection.MaxConfidence(a.Detections)
}

// SaveCommand persists a finished run. Force bypasses the duplicate window.
// Image, when set, is stored together with the result and supplies its
// ImageID; otherwise Result.ImageID must name an existing asset.
type SaveCommand struct {
	Result *AnalysisResult
	Image  *StoreImageCommand
	Force  bool
}

// Operation is the kind of access recorded in an audit entry.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpExport Operation = "export"
)

// Audit outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeNotFound  = "not_found"
	OutcomeDuplicate = "duplicate"
	OutcomeExisting  = "existing"
	OutcomeRejected  = "rejected"
)

// AuditEntry is append-only.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	Actor      string    `json:"actor"`
	Operation  Operation `json:"operation"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Export is a complete snapshot of one patient's records.
type Export struct {
	Patient    Patient          `json:"patient"`
	Images     []ImageAsset     `json:"images"`
	Analyses   []AnalysisResult `json:"analyses"`
	ExportedAt time.Time        `json:"exported_at"`
}

// Totals are system-wide record counts.
type Totals struct {
	Patients         int `json:"patients"`
	ArchivedPatients int `json:"archived_patients"`
	Images           int `json:"images"`
	Analyses         int `json:"analyses"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	Detections       int `json:"detections"`
	AuditEntries     int `json:"audit_entries"`
}
