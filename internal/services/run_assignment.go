package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/sse"
	"github.com/psillyops/psillyops-backend/internal/types"
)

// ClaimStep is a non-authoritative self-assignment: it succeeds when the
// step is unassigned, already the actor's, or the actor can bypass
// assignment. It carries no status precondition and never changes status.
func (s *productionRunService) ClaimStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*types.ProductionRunStep, error) {
	if actor.ID == uuid.Nil {
		return nil, apierr.Validation("missing actor")
	}

	var claimed *types.ProductionRunStep
	var beforeAssignee *uuid.UUID
	var runID uuid.UUID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		runID = run.ID
		beforeAssignee = step.AssignedToID

		if step.AssignedToID != nil && *step.AssignedToID != actor.ID && !actor.Can(types.CapBypassAssignment) {
			return apierr.Forbidden("step is already assigned to another user")
		}

		if err := s.steps.UpdateFields(ctx, tx, step.ID, map[string]interface{}{
			"assigned_to_id": actor.ID,
			"updated_at":     time.Now().UTC(),
		}); err != nil {
			return err
		}
		claimed, err = s.steps.GetByID(ctx, tx, step.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	actorID := actor.ID
	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRunStep,
		EntityID:   stepID,
		Action:     ActionStepClaimed,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Claimed step %q", claimed.Label),
		Details:    AssignmentDetails{BeforeAssignee: beforeAssignee, AfterAssignee: &actorID},
		Tags:       []string{"production", "step", "assignment"},
	})
	s.publish(runID, sse.EventRunStepAssigned, map[string]any{"run_id": runID, "step_id": stepID, "assigned_to": actorID})
	return claimed, nil
}

// AdminAssignStep directly sets or clears a step's assignee regardless of
// the current assignment.
func (s *productionRunService) AdminAssignStep(ctx context.Context, stepID uuid.UUID, target *uuid.UUID, actor types.Actor) (*types.ProductionRunStep, error) {
	if !actor.Can(types.CapAssignSteps) {
		return nil, apierr.Forbidden("only admins can assign steps")
	}

	var assigned *types.ProductionRunStep
	var beforeAssignee *uuid.UUID
	var runID uuid.UUID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		runID = run.ID
		beforeAssignee = step.AssignedToID

		var value interface{}
		if target != nil && *target != uuid.Nil {
			value = *target
		}
		if err := s.steps.UpdateFields(ctx, tx, step.ID, map[string]interface{}{
			"assigned_to_id": value,
			"updated_at":     time.Now().UTC(),
		}); err != nil {
			return err
		}
		assigned, err = s.steps.GetByID(ctx, tx, step.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Cleared assignment on step %q", assigned.Label)
	if assigned.AssignedToID != nil {
		summary = fmt.Sprintf("Assigned step %q", assigned.Label)
	}
	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRunStep,
		EntityID:   stepID,
		Action:     ActionStepAssigned,
		Actor:      &actor,
		Summary:    summary,
		Details:    AssignmentDetails{BeforeAssignee: beforeAssignee, AfterAssignee: assigned.AssignedToID},
		Tags:       []string{"production", "step", "assignment"},
	})
	s.publish(runID, sse.EventRunStepAssigned, map[string]any{"run_id": runID, "step_id": stepID, "assigned_to": assigned.AssignedToID})
	return assigned, nil
}
