package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EntityTypeProductionRun     = "production_run"
	EntityTypeProductionRunStep = "production_run_step"
)

// ActivityLog is the append-only audit trail. Rows are only ever inserted;
// no repo method updates or deletes them.
type ActivityLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EntityType string         `gorm:"not null;index:idx_activity_entity" json:"entity_type"`
	EntityID   uuid.UUID      `gorm:"type:uuid;not null;index:idx_activity_entity" json:"entity_id"`
	Action     string         `gorm:"not null;index" json:"action"`
	ActorID    *uuid.UUID     `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	Summary    string         `gorm:"not null" json:"summary"`
	Before     string         `json:"before,omitempty"`
	After      string         `json:"after,omitempty"`
	Details    datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	Tags       datatypes.JSON `gorm:"type:jsonb" json:"tags,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
}

func (ActivityLog) TableName() string { return "activity_log" }
