package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	StepStatusPending    = "PENDING"
	StepStatusInProgress = "IN_PROGRESS"
	StepStatusCompleted  = "COMPLETED"
	StepStatusSkipped    = "SKIPPED"
)

// StepStatusResolved reports whether the step no longer needs work.
func StepStatusResolved(status string) bool {
	return status == StepStatusCompleted || status == StepStatusSkipped
}

type ProductionRunStep struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RunID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"run_id"`
	TemplateKey   string     `gorm:"not null" json:"template_key"`
	Label         string     `gorm:"not null" json:"label"`
	Order         int        `gorm:"column:step_order;not null" json:"order"`
	Required      bool       `gorm:"not null;default:false" json:"required"`
	Status        string     `gorm:"not null;index" json:"status"` // PENDING|IN_PROGRESS|COMPLETED|SKIPPED
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	SkippedAt     *time.Time `json:"skipped_at,omitempty"`
	SkipReason    *string    `json:"skip_reason,omitempty"`
	PerformedByID *uuid.UUID `gorm:"type:uuid;index" json:"performed_by_id,omitempty"`
	AssignedToID  *uuid.UUID `gorm:"type:uuid;index" json:"assigned_to_id,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (ProductionRunStep) TableName() string { return "production_run_step" }
