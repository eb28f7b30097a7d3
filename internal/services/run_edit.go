package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/sse"
	"github.com/psillyops/psillyops-backend/internal/types"
)

// Structural edits are permitted only while the run is PLANNED and no step
// has left PENDING. The guard is re-evaluated inside every edit's transaction
// under the run row lock, so a concurrent StartStep cannot slip past it.
func assertEditable(run *types.ProductionRun) error {
	if run.Status != types.RunStatusPlanned {
		return apierr.Validation("production has already started")
	}
	for _, step := range run.Steps {
		if step.Status != types.StepStatusPending {
			return apierr.Validation("production has already started")
		}
	}
	return nil
}

func newAdhocKey() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return "adhoc-" + hex.EncodeToString(buf)
}

func (s *productionRunService) AddAdhocStep(ctx context.Context, runID uuid.UUID, label string, required bool, actor types.Actor) (*types.ProductionRunStep, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, apierr.Validation("step label must not be empty")
	}

	var created *types.ProductionRunStep
	var before, after []StepSnapshot

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := s.runs.GetByIDForUpdate(ctx, tx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return apierr.NotFound("production run not found")
		}
		if err := assertEditable(run); err != nil {
			return err
		}
		before = snapshotSteps(run.Steps)

		maxOrder := 0
		for _, step := range run.Steps {
			if step.Order > maxOrder {
				maxOrder = step.Order
			}
		}

		now := time.Now().UTC()
		created = &types.ProductionRunStep{
			ID:          uuid.New(),
			RunID:       run.ID,
			TemplateKey: newAdhocKey(),
			Label:       label,
			Order:       maxOrder + 1,
			Required:    required,
			Status:      types.StepStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.steps.Create(ctx, tx, []*types.ProductionRunStep{created}); err != nil {
			return err
		}

		steps, err := s.steps.GetByRunID(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		after = snapshotSteps(steps)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRun,
		EntityID:   runID,
		Action:     ActionStepAdded,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Added ad-hoc step %q at position %d", label, created.Order),
		Details:    StructuralEditDetails{Edit: "add", Before: before, After: after},
		Tags:       []string{"production", "step", "edit"},
	})
	s.publish(runID, sse.EventRunStepsEdited, map[string]any{"run_id": runID, "edit": "add", "step_id": created.ID})
	return created, nil
}

func (s *productionRunService) UpdateStepOverride(ctx context.Context, stepID uuid.UUID, override StepOverride, actor types.Actor) (*types.ProductionRunStep, error) {
	if override.Label == nil && override.Required == nil {
		return nil, apierr.Validation("nothing to update")
	}
	if override.Label != nil && strings.TrimSpace(*override.Label) == "" {
		return nil, apierr.Validation("step label must not be empty")
	}

	var updated *types.ProductionRunStep
	var before, after []StepSnapshot
	var runID uuid.UUID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		if err := assertEditable(run); err != nil {
			return err
		}
		runID = run.ID
		before = snapshotSteps(run.Steps)

		now := time.Now().UTC()
		updates := map[string]interface{}{"updated_at": now}
		if override.Label != nil {
			updates["label"] = strings.TrimSpace(*override.Label)
		}
		if override.Required != nil {
			updates["required"] = *override.Required
		}
		if err := s.steps.UpdateFields(ctx, tx, step.ID, updates); err != nil {
			return err
		}

		updated, err = s.steps.GetByID(ctx, tx, step.ID)
		if err != nil {
			return err
		}
		steps, err := s.steps.GetByRunID(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		after = snapshotSteps(steps)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRun,
		EntityID:   runID,
		Action:     ActionStepUpdated,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Updated step %q", updated.Label),
		Details:    StructuralEditDetails{Edit: "update", Before: before, After: after},
		Tags:       []string{"production", "step", "edit"},
	})
	s.publish(runID, sse.EventRunStepsEdited, map[string]any{"run_id": runID, "edit": "update", "step_id": updated.ID})
	return updated, nil
}

func (s *productionRunService) DeleteStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) error {
	var before, after []StepSnapshot
	var runID uuid.UUID
	var label string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, run, err := s.loadStepAndRun(ctx, tx, stepID)
		if err != nil {
			return err
		}
		if err := assertEditable(run); err != nil {
			return err
		}
		if step.Status != types.StepStatusPending {
			return apierr.Validation("only pending steps can be deleted")
		}
		// A zero-step run could never complete, since completion is derived
		// from step resolutions.
		if len(run.Steps) <= 1 {
			return apierr.Validation("cannot delete the last remaining step")
		}
		runID = run.ID
		label = step.Label
		before = snapshotSteps(run.Steps)

		if err := s.steps.DeleteByID(ctx, tx, step.ID); err != nil {
			return err
		}

		// Renumber the remaining steps so orders stay contiguous from 1.
		remaining, err := s.steps.GetByRunID(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].Order < remaining[j].Order })
		now := time.Now().UTC()
		for i, sibling := range remaining {
			if sibling.Order == i+1 {
				continue
			}
			if err := s.steps.UpdateFields(ctx, tx, sibling.ID, map[string]interface{}{
				"step_order": i + 1,
				"updated_at": now,
			}); err != nil {
				return err
			}
		}

		renumbered, err := s.steps.GetByRunID(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		after = snapshotSteps(renumbered)
		return nil
	})
	if err != nil {
		return err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRun,
		EntityID:   runID,
		Action:     ActionStepDeleted,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Deleted step %q", label),
		Details:    StructuralEditDetails{Edit: "delete", Before: before, After: after},
		Tags:       []string{"production", "step", "edit"},
	})
	s.publish(runID, sse.EventRunStepsEdited, map[string]any{"run_id": runID, "edit": "delete", "step_id": stepID})
	return nil
}

func (s *productionRunService) ReorderSteps(ctx context.Context, runID uuid.UUID, orderedStepIDs []uuid.UUID, actor types.Actor) ([]*types.ProductionRunStep, error) {
	var before, after []StepSnapshot
	var reordered []*types.ProductionRunStep

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := s.runs.GetByIDForUpdate(ctx, tx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return apierr.NotFound("production run not found")
		}
		if err := assertEditable(run); err != nil {
			return err
		}
		if err := validatePermutation(run.Steps, orderedStepIDs); err != nil {
			return err
		}
		before = snapshotSteps(run.Steps)

		now := time.Now().UTC()
		for i, id := range orderedStepIDs {
			if err := s.steps.UpdateFields(ctx, tx, id, map[string]interface{}{
				"step_order": i + 1,
				"updated_at": now,
			}); err != nil {
				return err
			}
		}

		reordered, err = s.steps.GetByRunID(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		after = snapshotSteps(reordered)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRun,
		EntityID:   runID,
		Action:     ActionStepsReordered,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Reordered %d steps", len(orderedStepIDs)),
		Details:    StructuralEditDetails{Edit: "reorder", Before: before, After: after},
		Tags:       []string{"production", "step", "edit"},
	})
	s.publish(runID, sse.EventRunStepsEdited, map[string]any{"run_id": runID, "edit": "reorder"})
	return reordered, nil
}

// validatePermutation rejects any id list that is not exactly the run's
// current step ids: no duplicates, no omissions, no foreign ids.
func validatePermutation(steps []*types.ProductionRunStep, orderedStepIDs []uuid.UUID) error {
	if len(orderedStepIDs) != len(steps) {
		return apierr.Validation("reorder list has %d ids but the run has %d steps", len(orderedStepIDs), len(steps))
	}
	existing := make(map[uuid.UUID]bool, len(steps))
	for _, step := range steps {
		existing[step.ID] = true
	}
	seen := make(map[uuid.UUID]bool, len(orderedStepIDs))
	for _, id := range orderedStepIDs {
		if seen[id] {
			return apierr.Validation("reorder list contains duplicate step id %s", id)
		}
		seen[id] = true
		if !existing[id] {
			return apierr.Validation("reorder list contains unknown step id %s", id)
		}
	}
	return nil
}
