package records

import (
	"context"

	"github.com/google/uuid"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/pagination"
)

// System defines the record operations available to callers other than the
// analysis workflow. Every call records exactly one audit entry for actor.
type System interface {
	Handler() *Handler

	CreatePatient(ctx context.Context, actor string, d Demographics) (*Patient, error)
	UpdatePatient(ctx context.Context, actor string, id uuid.UUID, d Demographics) (*Patient, error)
	FindPatient(ctx context.Context, actor string, id uuid.UUID) (*Patient, error)
	FindPatientByMRN(ctx context.Context, actor string, mrn string) (*Patient, error)
	ListPatients(
		ctx context.Context,
		actor string,
		page pagination.PageRequest,
		filters PatientFilters,
	) (*pagination.PageResult[Patient], error)
	ArchivePatient(ctx context.Context, actor string, id uuid.UUID) error

	StoreImage(ctx context.Context, actor string, cmd StoreImageCommand) (*ImageAsset, error)
	FindImage(ctx context.Context, actor string, id uuid.UUID) (*ImageAsset, error)
	LoadImage(ctx context.Context, actor string, id uuid.UUID) ([]byte, *ImageAsset, error)
	ListImages(ctx context.Context, actor string, patientID uuid.UUID) ([]ImageAsset, error)
	ArchiveImage(ctx context.Context, actor string, id uuid.UUID) error

	CheckDuplicate(ctx context.Context, actor string, patientID uuid.UUID, contentHash string) error
	FindAnalysis(ctx context.Context, actor string, id uuid.UUID) (*AnalysisResult, error)
	ListAnalyses(ctx context.Context, actor string, patientID uuid.UUID) ([]AnalysisResult, error)

	ListAudit(
		ctx context.Context,
		actor string,
		page pagination.PageRequest,
		filters AuditFilters,
	) (*pagination.PageResult[AuditEntry], error)
	ExportPatient(ctx context.Context, actor string, id uuid.UUID) (*Export, error)
	Totals(ctx context.Context, actor string) (*Totals, error)
}

// AnalysisWriter is the only path that creates analysis results. It is handed
// to the analysis workflow and nothing else.
type AnalysisWriter interface {
	SaveAnalysis(ctx context.Context, actor string, cmd SaveCommand) (*AnalysisResult, error)
}
