package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/repos"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type RunEditOpKind string

const (
	RunEditOpAddStep      RunEditOpKind = "add_step"
	RunEditOpSkipStep     RunEditOpKind = "skip_step"
	RunEditOpMoveStepLast RunEditOpKind = "move_step_last"
)

type RunEditOp struct {
	Kind     RunEditOpKind `json:"kind"`
	StepID   uuid.UUID     `json:"step_id,omitempty"`
	Label    string        `json:"label,omitempty"`
	Required bool          `json:"required,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Summary  string        `json:"summary"`
}

type RunEditProposal struct {
	RunID  uuid.UUID   `json:"run_id"`
	Intent string      `json:"intent"`
	Ops    []RunEditOp `json:"ops"`
}

type RunEditOpResult struct {
	Op      RunEditOp `json:"op"`
	Applied bool      `json:"applied"`
}

// RunEditProposalService turns free-text intents into a bounded set of
// reviewable step-edit operations. Propose never mutates anything; Confirm
// applies the operations through the engine's own primitives, so confirming
// carries no authority a direct API caller would not have.
type RunEditProposalService interface {
	Propose(ctx context.Context, runID uuid.UUID, text string) (*RunEditProposal, error)
	Confirm(ctx context.Context, runID uuid.UUID, ops []RunEditOp, actor types.Actor) ([]RunEditOpResult, error)
}

type runEditProposalService struct {
	db     *gorm.DB
	log    *logger.Logger
	runs   repos.ProductionRunRepo
	engine ProductionRunService
}

func NewRunEditProposalService(
	db *gorm.DB,
	baseLog *logger.Logger,
	runs repos.ProductionRunRepo,
	engine ProductionRunService,
) RunEditProposalService {
	return &runEditProposalService{
		db:     db,
		log:    baseLog.With("service", "RunEditProposalService"),
		runs:   runs,
		engine: engine,
	}
}

func (s *runEditProposalService) Propose(ctx context.Context, runID uuid.UUID, text string) (*RunEditProposal, error) {
	intent := strings.TrimSpace(text)
	if intent == "" {
		return nil, apierr.Validation("missing edit request text")
	}

	run, err := s.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.NotFound("production run not found")
	}

	lower := strings.ToLower(intent)
	var ops []RunEditOp

	if strings.Contains(lower, "add") && strings.Contains(lower, "packaging") {
		ops = append(ops, RunEditOp{
			Kind:    RunEditOpAddStep,
			Label:   "Packaging",
			Summary: "Add a new step \"Packaging\" at the end of the run",
		})
	}

	if strings.Contains(lower, "packaging") &&
		(strings.Contains(lower, "last") || strings.Contains(lower, "end") || strings.Contains(lower, "move")) &&
		!strings.Contains(lower, "add") {
		step := findStepByLabel(run.Steps, "packaging")
		if step == nil {
			return nil, apierr.Validation("this run has no packaging step to move")
		}
		ops = append(ops, RunEditOp{
			Kind:    RunEditOpMoveStepLast,
			StepID:  step.ID,
			Label:   step.Label,
			Summary: fmt.Sprintf("Move step %q to the last position", step.Label),
		})
	}

	if strings.Contains(lower, "skip") && (strings.Contains(lower, "label") || strings.Contains(lower, "labeling") || strings.Contains(lower, "labelling")) {
		step := findStepByLabel(run.Steps, "label")
		if step == nil {
			return nil, apierr.Validation("this run has no labeling step to skip")
		}
		reason := extractReason(intent)
		summary := fmt.Sprintf("Skip step %q", step.Label)
		if reason != "" {
			summary = fmt.Sprintf("Skip step %q (reason: %s)", step.Label, reason)
		}
		ops = append(ops, RunEditOp{
			Kind:    RunEditOpSkipStep,
			StepID:  step.ID,
			Label:   step.Label,
			Reason:  reason,
			Summary: summary,
		})
	}

	if len(ops) == 0 {
		return nil, apierr.Validation("could not recognize a run edit in %q", intent)
	}

	return &RunEditProposal{RunID: runID, Intent: intent, Ops: ops}, nil
}

func (s *runEditProposalService) Confirm(ctx context.Context, runID uuid.UUID, ops []RunEditOp, actor types.Actor) ([]RunEditOpResult, error) {
	if len(ops) == 0 {
		return nil, apierr.Validation("no operations to apply")
	}

	results := make([]RunEditOpResult, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case RunEditOpAddStep:
			if _, err := s.engine.AddAdhocStep(ctx, runID, op.Label, op.Required, actor); err != nil {
				return results, err
			}
		case RunEditOpMoveStepLast:
			ids, err := s.moveLastPermutation(ctx, runID, op.StepID)
			if err != nil {
				return results, err
			}
			if _, err := s.engine.ReorderSteps(ctx, runID, ids, actor); err != nil {
				return results, err
			}
		case RunEditOpSkipStep:
			if _, err := s.engine.SkipStep(ctx, op.StepID, op.Reason, actor); err != nil {
				return results, err
			}
		default:
			return results, apierr.Validation("unknown run edit operation %q", op.Kind)
		}
		results = append(results, RunEditOpResult{Op: op, Applied: true})
	}
	return results, nil
}

// moveLastPermutation builds the full reorder permutation against the run's
// live steps, with the target moved to the end.
func (s *runEditProposalService) moveLastPermutation(ctx context.Context, runID, stepID uuid.UUID) ([]uuid.UUID, error) {
	run, err := s.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.NotFound("production run not found")
	}
	ids := make([]uuid.UUID, 0, len(run.Steps))
	found := false
	for _, step := range run.Steps {
		if step.ID == stepID {
			found = true
			continue
		}
		ids = append(ids, step.ID)
	}
	if !found {
		return nil, apierr.Validation("step %s is no longer part of the run", stepID)
	}
	return append(ids, stepID), nil
}

func findStepByLabel(steps []*types.ProductionRunStep, fragment string) *types.ProductionRunStep {
	fragment = strings.ToLower(fragment)
	for _, step := range steps {
		if strings.Contains(strings.ToLower(step.Label), fragment) ||
			strings.Contains(strings.ToLower(step.TemplateKey), fragment) {
			return step
		}
	}
	return nil
}

// extractReason pulls a skip reason out of the free text: everything after
// "because", or after "reason" (optionally followed by ':' or quotes).
func extractReason(text string) string {
	lower := strings.ToLower(text)
	if idx := strings.Index(lower, "because"); idx >= 0 {
		return strings.Trim(strings.TrimSpace(text[idx+len("because"):]), `".`)
	}
	if idx := strings.Index(lower, "reason"); idx >= 0 {
		rest := strings.TrimSpace(text[idx+len("reason"):])
		rest = strings.TrimLeft(rest, ":= ")
		return strings.Trim(rest, `".`)
	}
	return ""
}
