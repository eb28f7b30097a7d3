package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/types"
)

func TestProposeAddPackagingStep(t *testing.T) {
	env := newTestEnv(t)
	summary := env.createStandardRun(t, adminActor())

	proposal, err := env.proposals.Propose(context.Background(), summary.ID, "please add a Packaging step at the end")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(proposal.Ops) != 1 {
		t.Fatalf("ops: want=1 got=%d", len(proposal.Ops))
	}
	op := proposal.Ops[0]
	if op.Kind != RunEditOpAddStep {
		t.Fatalf("kind: want=%s got=%s", RunEditOpAddStep, op.Kind)
	}
	if op.Label != "Packaging" {
		t.Fatalf("label: want=Packaging got=%q", op.Label)
	}

	// Propose alone must not mutate the run.
	if got := len(env.runSteps(t, summary.ID)); got != 3 {
		t.Fatalf("propose mutated the run: %d steps", got)
	}
}

func TestProposeMovePackagingLast(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	packaging, err := env.svc.AddAdhocStep(context.Background(), summary.ID, "Packaging", false, admin)
	if err != nil {
		t.Fatalf("AddAdhocStep: %v", err)
	}
	// Push it away from the end so the move is observable.
	steps := env.runSteps(t, summary.ID)
	perm := []uuid.UUID{packaging.ID, steps[0].ID, steps[1].ID, steps[2].ID}
	if _, err := env.svc.ReorderSteps(context.Background(), summary.ID, perm, admin); err != nil {
		t.Fatalf("ReorderSteps: %v", err)
	}

	proposal, err := env.proposals.Propose(context.Background(), summary.ID, "move the packaging step to the last position")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(proposal.Ops) != 1 || proposal.Ops[0].Kind != RunEditOpMoveStepLast {
		t.Fatalf("want one move_step_last op, got %+v", proposal.Ops)
	}
	if proposal.Ops[0].StepID != packaging.ID {
		t.Fatalf("move target: want=%s got=%s", packaging.ID, proposal.Ops[0].StepID)
	}

	results, err := env.proposals.Confirm(context.Background(), summary.ID, proposal.Ops, admin)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(results) != 1 || !results[0].Applied {
		t.Fatalf("expected one applied op, got %+v", results)
	}

	after := env.runSteps(t, summary.ID)
	last := after[len(after)-1]
	if last.ID != packaging.ID {
		t.Fatalf("packaging not last: %q is", last.Label)
	}
	for i, step := range after {
		if step.Order != i+1 {
			t.Fatalf("orders not contiguous after move: %d at %d", step.Order, i)
		}
	}
}

func TestProposeSkipWithReason(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	steps := env.runSteps(t, summary.ID)

	proposal, err := env.proposals.Propose(context.Background(), summary.ID, "skip the labeling step because the printer is broken")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(proposal.Ops) != 1 || proposal.Ops[0].Kind != RunEditOpSkipStep {
		t.Fatalf("want one skip_step op, got %+v", proposal.Ops)
	}
	op := proposal.Ops[0]
	if op.StepID != steps[2].ID {
		t.Fatalf("skip target: want=%s got=%s", steps[2].ID, op.StepID)
	}
	if op.Reason != "the printer is broken" {
		t.Fatalf("reason: want=%q got=%q", "the printer is broken", op.Reason)
	}

	if _, err := env.proposals.Confirm(context.Background(), summary.ID, proposal.Ops, admin); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	after := env.runSteps(t, summary.ID)
	if after[2].Status != types.StepStatusSkipped {
		t.Fatalf("step not skipped: %s", after[2].Status)
	}
	if after[2].SkipReason == nil || *after[2].SkipReason != "the printer is broken" {
		t.Fatalf("skip reason not stored: %v", after[2].SkipReason)
	}
}

func TestProposeRejectsUnrecognizedIntent(t *testing.T) {
	env := newTestEnv(t)
	summary := env.createStandardRun(t, adminActor())

	if _, err := env.proposals.Propose(context.Background(), summary.ID, "make the run go faster"); !apierr.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	if _, err := env.proposals.Propose(context.Background(), summary.ID, "   "); !apierr.IsValidation(err) {
		t.Fatalf("blank intent: want validation error, got %v", err)
	}
	if _, err := env.proposals.Propose(context.Background(), uuid.New(), "add a packaging step"); !apierr.IsNotFound(err) {
		t.Fatalf("unknown run: want not found, got %v", err)
	}
}

func TestProposeMoveWithoutPackagingStep(t *testing.T) {
	env := newTestEnv(t)
	summary := env.createStandardRun(t, adminActor())

	if _, err := env.proposals.Propose(context.Background(), summary.ID, "move packaging to the end"); !apierr.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
}

// Confirm goes through the engine's own guards, so it inherits every rule a
// direct caller faces: structural ops fail once production has started.
func TestConfirmHonorsEngineGuards(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)
	steps := env.runSteps(t, summary.ID)

	proposal, err := env.proposals.Propose(context.Background(), summary.ID, "add a packaging step")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if _, err := env.svc.StartStep(context.Background(), steps[0].ID, admin); err != nil {
		t.Fatalf("StartStep: %v", err)
	}

	if _, err := env.proposals.Confirm(context.Background(), summary.ID, proposal.Ops, admin); !apierr.IsValidation(err) {
		t.Fatalf("confirm on started run: want validation error, got %v", err)
	}

	// Skipping a required step via confirm still demands a reason.
	skipOp := []RunEditOp{{Kind: RunEditOpSkipStep, StepID: steps[1].ID, Label: steps[1].Label}}
	if _, err := env.proposals.Confirm(context.Background(), summary.ID, skipOp, admin); !apierr.IsValidation(err) {
		t.Fatalf("required skip without reason via confirm: want validation error, got %v", err)
	}
}

func TestConfirmRejectsEmptyAndUnknownOps(t *testing.T) {
	env := newTestEnv(t)
	admin := adminActor()
	summary := env.createStandardRun(t, admin)

	if _, err := env.proposals.Confirm(context.Background(), summary.ID, nil, admin); !apierr.IsValidation(err) {
		t.Fatalf("empty ops: want validation error, got %v", err)
	}
	bogus := []RunEditOp{{Kind: RunEditOpKind("explode")}}
	if _, err := env.proposals.Confirm(context.Background(), summary.ID, bogus, admin); !apierr.IsValidation(err) {
		t.Fatalf("unknown op: want validation error, got %v", err)
	}
}

func TestExtractReason(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"skip labeling because the printer is broken", "the printer is broken"},
		{"skip labeling, reason: damaged stock", "damaged stock"},
		{`skip labeling reason "ran out of labels"`, "ran out of labels"},
		{"skip labeling", ""},
	}
	for _, tc := range cases {
		if got := extractReason(tc.in); got != tc.want {
			t.Fatalf("extractReason(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}
