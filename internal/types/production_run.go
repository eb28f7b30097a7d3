package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusPlanned    = "PLANNED"
	RunStatusInProgress = "IN_PROGRESS"
	RunStatusBlocked    = "BLOCKED"
	RunStatusCompleted  = "COMPLETED"
	RunStatusCancelled  = "CANCELLED"
)

// RunStatusTerminal reports whether no further step activity is allowed.
func RunStatusTerminal(status string) bool {
	return status == RunStatusCompleted || status == RunStatusCancelled
}

type ProductionRun struct {
	ID            uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID     uuid.UUID            `gorm:"type:uuid;not null;index" json:"product_id"`
	Product       *Product             `gorm:"foreignKey:ProductID;references:ID" json:"product,omitempty"`
	Quantity      int                  `gorm:"not null" json:"quantity"`
	Status        string               `gorm:"not null;index" json:"status"` // PLANNED|IN_PROGRESS|BLOCKED|COMPLETED|CANCELLED
	CreatedByID   *uuid.UUID           `gorm:"type:uuid;index" json:"created_by_id,omitempty"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	Steps         []*ProductionRunStep `gorm:"constraint:OnDelete:CASCADE;foreignKey:RunID;references:ID" json:"steps,omitempty"`
	TrackingToken *TrackingToken       `gorm:"foreignKey:RunID;references:ID" json:"tracking_token,omitempty"`
	CreatedAt     time.Time            `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time            `gorm:"not null" json:"updated_at"`
}

func (ProductionRun) TableName() string { return "production_run" }
