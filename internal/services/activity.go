package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/repos"
	"github.com/psillyops/psillyops-backend/internal/types"
)

const (
	ActionRunCreated      = "run_created"
	ActionStepStarted     = "step_started"
	ActionStepStopped     = "step_stopped"
	ActionStepCompleted   = "step_completed"
	ActionStepSkipped     = "step_skipped"
	ActionStepAdded       = "step_added"
	ActionStepUpdated     = "step_updated"
	ActionStepDeleted     = "step_deleted"
	ActionStepsReordered  = "steps_reordered"
	ActionStepClaimed     = "step_claimed"
	ActionStepAssigned    = "step_assigned"
	ActionRunEditProposed = "run_edit_proposed"
)

// One detail payload shape per action kind, so every audit entry carries a
// known structure instead of a free-form map.

type RunCreatedDetails struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	StepCount   int       `json:"step_count"`
	TokenCode   string    `json:"token_code"`
}

type StepTransitionDetails struct {
	FromStatus   string `json:"from_status"`
	ToStatus     string `json:"to_status"`
	RunStatus    string `json:"run_status"`
	RunCompleted bool   `json:"run_completed,omitempty"`
}

type StepSkippedDetails struct {
	FromStatus string `json:"from_status"`
	Required   bool   `json:"required"`
	Reason     string `json:"reason,omitempty"`
}

// StepSnapshot captures one step's structural fields for edit auditing.
type StepSnapshot struct {
	ID       uuid.UUID `json:"id"`
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Order    int       `json:"order"`
	Required bool      `json:"required"`
	Status   string    `json:"status"`
}

// StructuralEditDetails carries a full before/after snapshot of every step in
// the run, so the edit's effect can be reconstructed without replaying
// intermediate states.
type StructuralEditDetails struct {
	Edit   string         `json:"edit"`
	Before []StepSnapshot `json:"before"`
	After  []StepSnapshot `json:"after"`
}

type AssignmentDetails struct {
	BeforeAssignee *uuid.UUID `json:"before_assignee,omitempty"`
	AfterAssignee  *uuid.UUID `json:"after_assignee,omitempty"`
}

type ActivityEntry struct {
	EntityType string
	EntityID   uuid.UUID
	Action     string
	Actor      *types.Actor
	Summary    string
	Before     string
	After      string
	Details    any
	Tags       []string
}

// ActivityService is the append-only audit sink. Record is called after the
// mutating transaction commits; a failed audit write is surfaced to the
// caller but must never roll back the committed state change.
type ActivityService interface {
	Record(ctx context.Context, entry ActivityEntry) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*types.ActivityLog, error)
}

type activityService struct {
	db   *gorm.DB
	log  *logger.Logger
	logs repos.ActivityLogRepo
}

func NewActivityService(db *gorm.DB, baseLog *logger.Logger, logs repos.ActivityLogRepo) ActivityService {
	return &activityService{
		db:   db,
		log:  baseLog.With("service", "ActivityService"),
		logs: logs,
	}
}

func (s *activityService) Record(ctx context.Context, entry ActivityEntry) error {
	var detailsJSON datatypes.JSON
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			s.log.Warn("Failed to marshal activity details", "action", entry.Action, "error", err)
		} else {
			detailsJSON = datatypes.JSON(raw)
		}
	}
	var tagsJSON datatypes.JSON
	if len(entry.Tags) > 0 {
		raw, _ := json.Marshal(entry.Tags)
		tagsJSON = datatypes.JSON(raw)
	}
	var actorID *uuid.UUID
	if entry.Actor != nil && entry.Actor.ID != uuid.Nil {
		id := entry.Actor.ID
		actorID = &id
	}
	row := &types.ActivityLog{
		ID:         uuid.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		ActorID:    actorID,
		Summary:    entry.Summary,
		Before:     entry.Before,
		After:      entry.After,
		Details:    detailsJSON,
		Tags:       tagsJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.logs.Create(ctx, nil, []*types.ActivityLog{row})
	return err
}

func (s *activityService) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*types.ActivityLog, error) {
	return s.logs.GetByEntity(ctx, nil, entityType, entityID)
}
