package services

import (
	"time"

	"github.com/psillyops/psillyops-backend/internal/types"
)

const DefaultStallThreshold = 4 * time.Hour

type RunHealth struct {
	HasRequiredSkips bool `json:"has_required_skips"`
	HasStalledStep   bool `json:"has_stalled_step"`
	IsBlocked        bool `json:"is_blocked"`
}

// ComputeRunHealth derives advisory health flags from a run's current step
// snapshot. Pure; safe to call repeatedly from dashboards.
//
// IsBlocked flags an internally inconsistent state: the run claims to be
// active, yet nothing is pending or in progress and not everything is
// resolved. It cannot arise through the engine itself and signals external
// tampering with the step rows.
func ComputeRunHealth(runStatus string, steps []*types.ProductionRunStep, stallThreshold time.Duration, now time.Time) RunHealth {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}

	var health RunHealth
	var anyPending, anyInProgress bool
	allResolved := true

	for _, step := range steps {
		if step == nil {
			continue
		}
		switch step.Status {
		case types.StepStatusPending:
			anyPending = true
		case types.StepStatusInProgress:
			anyInProgress = true
			if step.StartedAt != nil && now.Sub(*step.StartedAt) > stallThreshold {
				health.HasStalledStep = true
			}
		case types.StepStatusSkipped:
			if step.Required {
				health.HasRequiredSkips = true
			}
		}
		if !types.StepStatusResolved(step.Status) {
			allResolved = false
		}
	}

	runActive := runStatus == types.RunStatusPlanned || runStatus == types.RunStatusInProgress
	if runActive && len(steps) > 0 && !anyPending && !anyInProgress && !allResolved {
		health.IsBlocked = true
	}

	return health
}
