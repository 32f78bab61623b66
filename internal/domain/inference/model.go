package inference

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses. A job is created pending, moves to processing once the
// compute service acknowledges the dispatch, and is finalized by the
// callback. Terminal statuses are write-once.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Modes. Manual jobs notify the requester and reviewing department on
// completion; auto jobs finish silently.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

// Model types.
const (
	ModelLungNodule          = "lung_nodule"
	ModelGenomicRisk         = "genomic_risk"
	ModelMultimodalPrognosis = "multimodal_prognosis"
)

// modelSpec describes one model type: which source references take part
// in the dedup fingerprint, whether the genomic data file must be inlined
// at dispatch, and which department reviews the result.
type modelSpec struct {
	usesImaging       bool
	usesLab           bool
	usesGenomic       bool
	inlineGenomicFile bool
	reviewDepartment  string
}

var modelSpecs = map[string]modelSpec{
	ModelLungNodule: {
		usesImaging:      true,
		reviewDepartment: "imaging",
	},
	ModelGenomicRisk: {
		usesGenomic:       true,
		inlineGenomicFile: true,
		reviewDepartment:  "lab",
	},
	ModelMultimodalPrognosis: {
		usesImaging:       true,
		usesLab:           true,
		usesGenomic:       true,
		inlineGenomicFile: true,
		reviewDepartment:  "imaging",
	},
}

// ValidModelType reports whether t names a known model.
func ValidModelType(t string) bool {
	_, ok := modelSpecs[t]
	return ok
}

// ReviewDepartment returns the department that reviews results for the
// given model type.
func ReviewDepartment(modelType string) string {
	return modelSpecs[modelType].reviewDepartment
}

// IsTerminalStatus reports whether a status permits no further writes.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// SourceRefs are the order references a job may carry. Which of them
// matter depends on the model type.
type SourceRefs struct {
	Imaging *uuid.UUID `json:"imaging_order_id,omitempty"`
	Lab     *uuid.UUID `json:"lab_order_id,omitempty"`
	Genomic *uuid.UUID `json:"genomic_order_id,omitempty"`
}

// Fingerprint zeroes out the references the model type does not use, so
// that dedup compares only the relevant subset. A partial tuple is
// permitted and only ever matches the same partial tuple.
func (r SourceRefs) Fingerprint(modelType string) SourceRefs {
	spec := modelSpecs[modelType]
	out := SourceRefs{}
	if spec.usesImaging {
		out.Imaging = r.Imaging
	}
	if spec.usesLab {
		out.Lab = r.Lab
	}
	if spec.usesGenomic {
		out.Genomic = r.Genomic
	}
	return out
}

// Empty reports whether no reference is set.
func (r SourceRefs) Empty() bool {
	return r.Imaging == nil && r.Lab == nil && r.Genomic == nil
}

// Job is one AI analysis request.
type Job struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	DisplayID      string          `db:"display_id" json:"display_id"`
	ModelType      string          `db:"model_type" json:"model_type"`
	ImagingOrderID *uuid.UUID      `db:"imaging_order_id" json:"imaging_order_id,omitempty"`
	LabOrderID     *uuid.UUID      `db:"lab_order_id" json:"lab_order_id,omitempty"`
	GenomicOrderID *uuid.UUID      `db:"genomic_order_id" json:"genomic_order_id,omitempty"`
	Status         string          `db:"status" json:"status"`
	Mode           string          `db:"mode" json:"mode"`
	RequestedBy    string          `db:"requested_by" json:"requested_by"`
	ResultPayload  json.RawMessage `db:"result_payload" json:"result_payload,omitempty"`
	ErrorMessage   *string         `db:"error_message" json:"error_message,omitempty"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Sources returns the job's reference tuple.
func (j *Job) Sources() SourceRefs {
	return SourceRefs{Imaging: j.ImagingOrderID, Lab: j.LabOrderID, Genomic: j.GenomicOrderID}
}
