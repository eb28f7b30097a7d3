package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/types"
)

func TestAddAdhocStep(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)

	created, err := env.svc.AddAdhocStep(context.Background(), summary.ID, "Packaging", false, admin)
	if err != nil {
		t.Fatalf("AddAdhocStep: %v", err)
	}
	if created.Order != 4 {
		t.Fatalf("new step order: want=4 got=%d", created.Order)
	}
	if !strings.HasPrefix(created.TemplateKey, "adhoc-") {
		t.Fatalf("ad-hoc key %q missing adhoc- prefix", created.TemplateKey)
	}
	if created.Status != types.StepStatusPending {
		t.Fatalf("new step status: want=%s got=%s", types.StepStatusPending, created.Status)
	}

	steps := env.runSteps(t, summary.ID)
	if len(steps) != 4 {
		t.Fatalf("step count after add: want=4 got=%d", len(steps))
	}

	// The audit entry carries full before/after snapshots.
	entries, err := env.activity.GetByEntity(context.Background(), types.EntityTypeProductionRun, summary.ID)
	if err != nil {
		t.Fatalf("GetByEntity: %v", err)
	}
	var details StructuralEditDetails
	found := false
	for _, entry := range entries {
		if entry.Action != ActionStepAdded {
			continue
		}
		found = true
		if err := json.Unmarshal(entry.Details, &details); err != nil {
			t.Fatalf("unmarshal details: %v", err)
		}
	}
	if !found {
		t.Fatalf("no %s audit entry", ActionStepAdded)
	}
	if len(details.Before) != 3 || len(details.After) != 4 {
		t.Fatalf("snapshot sizes: want 3/4, got %d/%d", len(details.Before), len(details.After))
	}
}

func TestAddAdhocStepRejectsEmptyLabel(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)

	if _, err := env.svc.AddAdhocStep(context.Background(), summary.ID, "   ", false, admin); !apierr.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestUpdateStepOverride(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	steps := env.runSteps(t, summary.ID)

	label := "Labeling (revised)"
	required := true
	updated, err := env.svc.UpdateStepOverride(context.Background(), steps[2].ID, StepOverride{Label: &label, Required: &required}, admin)
	if err != nil {
		t.Fatalf("UpdateStepOverride: %v", err)
	}
	if updated.Label != label {
		t.Fatalf("label: want=%q got=%q", label, updated.Label)
	}
	if !updated.Required {
		t.Fatalf("required flag not applied")
	}
	// Template key and order are untouched.
	if updated.TemplateKey != steps[2].TemplateKey || updated.Order != steps[2].Order {
		t.Fatalf("override changed identity fields: %+v", updated)
	}

	empty := "  "
	if _, err := env.svc.UpdateStepOverride(context.Background(), steps[2].ID, StepOverride{Label: &empty}, admin); !apierr.IsValidation(err) {
		t.Fatalf("empty label: want validation error, got %v", err)
	}
	if _, err := env.svc.UpdateStepOverride(context.Background(), steps[2].ID, StepOverride{}, admin); !apierr.IsValidation(err) {
		t.Fatalf("empty override: want validation error, got %v", err)
	}
}

func TestDeleteStepRenumbers(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	steps := env.runSteps(t, summary.ID)

	if err := env.svc.DeleteStep(context.Background(), steps[1].ID, admin); err != nil {
		t.Fatalf("DeleteStep: %v", err)
	}

	remaining := env.runSteps(t, summary.ID)
	if len(remaining) != 2 {
		t.Fatalf("steps after delete: want=2 got=%d", len(remaining))
	}
	for i, step := range remaining {
		if step.Order != i+1 {
			t.Fatalf("order not contiguous after delete: step %d has order %d", i, step.Order)
		}
	}
	if remaining[0].TemplateKey != "prep" || remaining[1].TemplateKey != "labeling" {
		t.Fatalf("wrong steps survived: %s, %s", remaining[0].TemplateKey, remaining[1].TemplateKey)
	}
}

func TestReorderSteps(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	steps := env.runSteps(t, summary.ID)

	// Reverse the run.
	perm := []uuid.UUID{steps[2].ID, steps[1].ID, steps[0].ID}
	reordered, err := env.svc.ReorderSteps(context.Background(), summary.ID, perm, admin)
	if err != nil {
		t.Fatalf("ReorderSteps: %v", err)
	}
	if len(reordered) != 3 {
		t.Fatalf("reordered count: want=3 got=%d", len(reordered))
	}
	if reordered[0].ID != steps[2].ID || reordered[2].ID != steps[0].ID {
		t.Fatalf("reorder not applied: first=%s last=%s", reordered[0].TemplateKey, reordered[2].TemplateKey)
	}
	for i, step := range reordered {
		if step.Order != i+1 {
			t.Fatalf("order after reorder: want=%d got=%d", i+1, step.Order)
		}
	}
}

func TestReorderStepsRejectsBadPermutations(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	steps := env.runSteps(t, summary.ID)

	cases := map[string][]uuid.UUID{
		"too short": {steps[0].ID, steps[1].ID},
		"duplicate": {steps[0].ID, steps[0].ID, steps[1].ID},
		"foreign":   {steps[0].ID, steps[1].ID, uuid.New()},
	}
	for name, perm := range cases {
		if _, err := env.svc.ReorderSteps(context.Background(), summary.ID, perm, admin); !apierr.IsValidation(err) {
			t.Fatalf("%s: want validation error, got %v", name, err)
		}
	}

	// Rejected reorders leave the original order untouched.
	after := env.runSteps(t, summary.ID)
	for i, step := range after {
		if step.ID != steps[i].ID {
			t.Fatalf("step order changed after rejected reorder")
		}
	}
}

// Once any step leaves PENDING the run is no longer structurally editable,
// even if the step is later stopped.
func TestStructuralEditsLockAfterStart(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	steps := env.runSteps(t, summary.ID)

	if _, err := env.svc.StartStep(context.Background(), steps[0].ID, admin); err != nil {
		t.Fatalf("StartStep: %v", err)
	}

	assertLocked := func(op string, err error) {
		t.Helper()
		if !apierr.IsValidation(err) {
			t.Fatalf("%s on started run: want validation error, got %v", op, err)
		}
		if !strings.Contains(err.Error(), "already started") {
			t.Fatalf("%s error should say the run started: %v", op, err)
		}
	}

	_, err := env.svc.AddAdhocStep(context.Background(), summary.ID, "Extra", false, admin)
	assertLocked("add", err)

	label := "X"
	_, err = env.svc.UpdateStepOverride(context.Background(), steps[1].ID, StepOverride{Label: &label}, admin)
	assertLocked("update", err)

	assertLocked("delete", env.svc.DeleteStep(context.Background(), steps[1].ID, admin))

	_, err = env.svc.ReorderSteps(context.Background(), summary.ID, []uuid.UUID{steps[2].ID, steps[1].ID, steps[0].ID}, admin)
	assertLocked("reorder", err)

	// Stopping the step does not restore editability: the run left PLANNED.
	if _, err := env.svc.StopStep(context.Background(), steps[0].ID, admin); err != nil {
		t.Fatalf("StopStep: %v", err)
	}
	_, err = env.svc.AddAdhocStep(context.Background(), summary.ID, "Extra", false, admin)
	assertLocked("add after stop", err)
}

// The last step cannot be deleted; a zero-step run would be unable to ever
// derive completion.
func TestDeleteStepRefusesLastStep(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	product := env.createProduct(t, "One Step Kit", true)
	env.createTemplates(t, product.ID, []templateSpec{
		{key: "only", label: "Only", order: 1, required: true},
	})
	summary, err := env.svc.CreateRun(context.Background(), product.ID, 1, admin)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	steps := env.runSteps(t, summary.ID)

	if err := env.svc.DeleteStep(context.Background(), steps[0].ID, admin); !apierr.IsValidation(err) {
		t.Fatalf("delete of last step: want validation error, got %v", err)
	}
	if got := len(env.runSteps(t, summary.ID)); got != 1 {
		t.Fatalf("steps after refused delete: want=1 got=%d", got)
	}
}

func TestDeleteStepUnknownID(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	env.createStandardRun(t, admin)

	if err := env.svc.DeleteStep(context.Background(), uuid.New(), admin); !apierr.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}
