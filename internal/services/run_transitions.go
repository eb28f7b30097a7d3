package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/sse"
	"github.com/psillyops/psillyops-backend/internal/types"
)

// All four step transitions share a shape: locate step, locate parent run,
// validate preconditions, mutate, re-read canonical state. Everything happens
// inside one transaction so the invariant checks and the mutation are atomic;
// the audit write and event publish happen after commit.

func (s *productionRunService) StartStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*StepTransitionResult, error) {
	var result *StepTransitionResult
	var fromStatus, stepLabel string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		fromStatus = step.Status
		stepLabel = step.Label

		if step.Status != types.StepStatusPending {
			return apierr.Validation("step cannot be started from status %s", step.Status)
		}
		if err := checkAssignment(step, actor); err != nil {
			return err
		}
		if types.RunStatusTerminal(run.Status) {
			return apierr.Validation("run is %s and cannot be worked", run.Status)
		}
		for _, other := range run.Steps {
			if other.ID != step.ID && other.Status == types.StepStatusInProgress {
				return apierr.Validation("another step is already in progress: %q (step %d)", other.Label, other.Order)
			}
		}

		now := time.Now().UTC()
		performedBy := actor.ID
		if err := s.steps.UpdateFields(ctx, tx, step.ID, map[string]interface{}{
			"status":          types.StepStatusInProgress,
			"started_at":      now,
			"performed_by_id": performedBy,
			"updated_at":      now,
		}); err != nil {
			return err
		}

		runUpdates := map[string]interface{}{"updated_at": now}
		if run.Status != types.RunStatusInProgress {
			runUpdates["status"] = types.RunStatusInProgress
		}
		if run.StartedAt == nil {
			runUpdates["started_at"] = now
		}
		if err := s.runs.UpdateFields(ctx, tx, run.ID, runUpdates); err != nil {
			return err
		}

		result, err = s.reloadTransitionResult(ctx, tx, step.ID, run.ID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRunStep,
		EntityID:   result.StepID,
		Action:     ActionStepStarted,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Started step %q", stepLabel),
		Before:     fromStatus,
		After:      result.StepStatus,
		Details: StepTransitionDetails{
			FromStatus: fromStatus,
			ToStatus:   result.StepStatus,
			RunStatus:  result.RunStatus,
		},
		Tags: []string{"production", "step"},
	})
	s.publish(result.RunID, sse.EventRunStepStarted, result)
	return result, nil
}

func (s *productionRunService) StopStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*StepTransitionResult, error) {
	var result *StepTransitionResult
	var fromStatus, stepLabel string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		fromStatus = step.Status
		stepLabel = step.Label

		if step.Status != types.StepStatusInProgress {
			return apierr.Validation("step cannot be stopped from status %s", step.Status)
		}
		if err := checkAssignment(step, actor); err != nil {
			return err
		}
		if types.RunStatusTerminal(run.Status) {
			return apierr.Validation("run is %s and cannot be worked", run.Status)
		}

		// Stopping is a full reset to pending; no partial progress is kept.
		now := time.Now().UTC()
		performedBy := actor.ID
		if err := s.steps.UpdateFields(ctx, tx, step.ID, map[string]interface{}{
			"status":          types.StepStatusPending,
			"started_at":      nil,
			"performed_by_id": performedBy,
			"updated_at":      now,
		}); err != nil {
			return err
		}

		result, err = s.reloadTransitionResult(ctx, tx, step.ID, run.ID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRunStep,
		EntityID:   result.StepID,
		Action:     ActionStepStopped,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Stopped step %q", stepLabel),
		Before:     fromStatus,
		After:      result.StepStatus,
		Details: StepTransitionDetails{
			FromStatus: fromStatus,
			ToStatus:   result.StepStatus,
			RunStatus:  result.RunStatus,
		},
		Tags: []string{"production", "step"},
	})
	s.publish(result.RunID, sse.EventRunStepStopped, result)
	return result, nil
}

func (s *productionRunService) CompleteStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*StepTransitionResult, error) {
	var result *StepTransitionResult
	var fromStatus, stepLabel string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		fromStatus = step.Status
		stepLabel = step.Label

		if step.Status != types.StepStatusInProgress {
			return apierr.Validation("step cannot be completed from status %s", step.Status)
		}
		if err := checkAssignment(step, actor); err != nil {
			return err
		}
		if types.RunStatusTerminal(run.Status) {
			return apierr.Validation("run is %s and cannot be worked", run.Status)
		}

		now := time.Now().UTC()
		performedBy := actor.ID
		if err := s.steps.UpdateFields(ctx, tx, step.ID, map[string]interface{}{
			"status":          types.StepStatusCompleted,
			"completed_at":    now,
			"performed_by_id": performedBy,
			"updated_at":      now,
		}); err != nil {
			return err
		}

		runCompleted, err := s.maybeCompleteRun(ctx, tx, run.ID, now)
		if err != nil {
			return err
		}

		result, err = s.reloadTransitionResult(ctx, tx, step.ID, run.ID, runCompleted)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRunStep,
		EntityID:   result.StepID,
		Action:     ActionStepCompleted,
		Actor:      &actor,
		Summary:    completeSummary(stepLabel, result.RunCompleted),
		Before:     fromStatus,
		After:      result.StepStatus,
		Details: StepTransitionDetails{
			FromStatus:   fromStatus,
			ToStatus:     result.StepStatus,
			RunStatus:    result.RunStatus,
			RunCompleted: result.RunCompleted,
		},
		Tags: []string{"production", "step"},
	})
	s.publish(result.RunID, sse.EventRunStepDone, result)
	if result.RunCompleted {
		s.publish(result.RunID, sse.EventRunCompleted, result)
	}
	return result, nil
}

func completeSummary(label string, runCompleted bool) string {
	if runCompleted {
		return fmt.Sprintf("Completed step %q; run completed", label)
	}
	return fmt.Sprintf("Completed step %q", label)
}

func (s *productionRunService) SkipStep(ctx context.Context, stepID uuid.UUID, reason string, actor types.Actor) (*StepTransitionResult, error) {
	var result *StepTransitionResult
	var fromStatus, stepLabel string
	var stepRequired bool
	reason = strings.TrimSpace(reason)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		fromStatus = step.Status
		stepLabel = step.Label
		stepRequired = step.Required

		// Completed steps are immutable.
		if step.Status == types.StepStatusCompleted {
			return apierr.Validation("step is already completed and cannot be skipped")
		}
		if err := checkAssignment(step, actor); err != nil {
			return err
		}
		if step.Required && reason == "" {
			return apierr.Validation("skipping a required step needs a reason")
		}
		if types.RunStatusTerminal(run.Status) {
			return apierr.Validation("run is %s and cannot be worked", run.Status)
		}

		now := time.Now().UTC()
		performedBy := actor.ID
		var skipReason *string
		if reason != "" {
			skipReason = &reason
		}
		if err := s.steps.UpdateFields(ctx, tx, step.ID, map[string]interface{}{
			"status":          types.StepStatusSkipped,
			"skipped_at":      now,
			"skip_reason":     skipReason,
			"started_at":      nil,
			"performed_by_id": performedBy,
			"updated_at":      now,
		}); err != nil {
			return err
		}

		runCompleted, err := s.maybeCompleteRun(ctx, tx, run.ID, now)
		if err != nil {
			return err
		}

		result, err = s.reloadTransitionResult(ctx, tx, step.ID, run.ID, runCompleted)
		return err
	})
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Skipped step %q", stepLabel)
	if reason != "" {
		summary = fmt.Sprintf("Skipped step %q: %s", stepLabel, reason)
	}
	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRunStep,
		EntityID:   result.StepID,
		Action:     ActionStepSkipped,
		Actor:      &actor,
		Summary:    summary,
		Before:     fromStatus,
		After:      result.StepStatus,
		Details: StepSkippedDetails{
			FromStatus: fromStatus,
			Required:   stepRequired,
			Reason:     reason,
		},
		Tags: []string{"production", "step"},
	})
	s.publish(result.RunID, sse.EventRunStepSkipped, result)
	if result.RunCompleted {
		s.publish(result.RunID, sse.EventRunCompleted, result)
	}
	return result, nil
}

// maybeCompleteRun derives run completion: once no step is PENDING or
// IN_PROGRESS the run is done. Callers never set COMPLETED directly.
func (s *productionRunService) maybeCompleteRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID, now time.Time) (bool, error) {
	steps, err := s.steps.GetByRunID(ctx, tx, runID)
	if err != nil {
		return false, err
	}
	for _, step := range steps {
		if !types.StepStatusResolved(step.Status) {
			return false, nil
		}
	}
	err = s.runs.UpdateFields(ctx, tx, runID, map[string]interface{}{
		"status":       types.RunStatusCompleted,
		"completed_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// reloadTransitionResult re-reads canonical step and run state inside the
// same transaction so callers get a consistent read-after-write view.
func (s *productionRunService) reloadTransitionResult(ctx context.Context, tx *gorm.DB, stepID, runID uuid.UUID, runCompleted bool) (*StepTransitionResult, error) {
	step, err := s.steps.GetByID(ctx, tx, stepID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, apierr.NotFound("production run step not found")
	}
	run, err := s.runs.GetByID(ctx, tx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.NotFound("production run not found")
	}
	return &StepTransitionResult{
		StepID:          step.ID,
		StepStatus:      step.Status,
		StepStartedAt:   step.StartedAt,
		StepCompletedAt: step.CompletedAt,
		StepSkippedAt:   step.SkippedAt,
		SkipReason:      step.SkipReason,
		RunID:           run.ID,
		RunStatus:       run.Status,
		RunStartedAt:    run.StartedAt,
		RunCompletedAt:  run.CompletedAt,
		RunCompleted:    runCompleted,
	}, nil
}
