package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/repos"
	"github.com/psillyops/psillyops-backend/internal/sse"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type ProductSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	SKU  string    `json:"sku"`
}

type RunSummary struct {
	ID           uuid.UUID      `json:"id"`
	Product      ProductSummary `json:"product"`
	Quantity     int            `json:"quantity"`
	Status       string         `json:"status"`
	StepCount    int            `json:"step_count"`
	TrackingCode string         `json:"tracking_code"`
}

type RunDetail struct {
	Run    *types.ProductionRun `json:"run"`
	Health RunHealth            `json:"health"`
}

// StepTransitionResult gives callers a consistent read-after-write view of
// both the step and its run, so no second query is needed.
type StepTransitionResult struct {
	StepID          uuid.UUID  `json:"step_id"`
	StepStatus      string     `json:"step_status"`
	StepStartedAt   *time.Time `json:"step_started_at,omitempty"`
	StepCompletedAt *time.Time `json:"step_completed_at,omitempty"`
	StepSkippedAt   *time.Time `json:"step_skipped_at,omitempty"`
	SkipReason      *string    `json:"skip_reason,omitempty"`
	RunID           uuid.UUID  `json:"run_id"`
	RunStatus       string     `json:"run_status"`
	RunStartedAt    *time.Time `json:"run_started_at,omitempty"`
	RunCompletedAt  *time.Time `json:"run_completed_at,omitempty"`
	RunCompleted    bool       `json:"run_completed"`
}

type StepOverride struct {
	Label    *string `json:"label,omitempty"`
	Required *bool   `json:"required,omitempty"`
}

type ActiveRun struct {
	Run         *types.ProductionRun     `json:"run"`
	CurrentStep *types.ProductionRunStep `json:"current_step,omitempty"`
}

type ProductionRunService interface {
	CreateRun(ctx context.Context, productID uuid.UUID, quantity int, actor types.Actor) (*RunSummary, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*RunDetail, error)
	ListRuns(ctx context.Context, statuses []string) ([]*RunDetail, error)

	StartStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*StepTransitionResult, error)
	StopStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*StepTransitionResult, error)
	CompleteStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*StepTransitionResult, error)
	SkipStep(ctx context.Context, stepID uuid.UUID, reason string, actor types.Actor) (*StepTransitionResult, error)

	AddAdhocStep(ctx context.Context, runID uuid.UUID, label string, required bool, actor types.Actor) (*types.ProductionRunStep, error)
	UpdateStepOverride(ctx context.Context, stepID uuid.UUID, override StepOverride, actor types.Actor) (*types.ProductionRunStep, error)
	DeleteStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) error
	ReorderSteps(ctx context.Context, runID uuid.UUID, orderedStepIDs []uuid.UUID, actor types.Actor) ([]*types.ProductionRunStep, error)

	ClaimStep(ctx context.Context, stepID uuid.UUID, actor types.Actor) (*types.ProductionRunStep, error)
	AdminAssignStep(ctx context.Context, stepID uuid.UUID, target *uuid.UUID, actor types.Actor) (*types.ProductionRunStep, error)

	MyAssignedSteps(ctx context.Context, actor types.Actor) ([]*types.ProductionRunStep, error)
	MyActiveRuns(ctx context.Context, actor types.Actor) ([]*ActiveRun, error)
}

type productionRunService struct {
	db        *gorm.DB
	log       *logger.Logger
	products  repos.ProductRepo
	templates repos.StepTemplateRepo
	runs      repos.ProductionRunRepo
	steps     repos.ProductionRunStepRepo
	tokens    TrackingTokenService
	activity  ActivityService
	hub       *sse.Hub

	stallThreshold  time.Duration
	activeRunWindow time.Duration
}

func NewProductionRunService(
	db *gorm.DB,
	baseLog *logger.Logger,
	products repos.ProductRepo,
	templates repos.StepTemplateRepo,
	runs repos.ProductionRunRepo,
	steps repos.ProductionRunStepRepo,
	tokens TrackingTokenService,
	activity ActivityService,
	hub *sse.Hub,
	stallThreshold time.Duration,
	activeRunWindow time.Duration,
) ProductionRunService {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	if activeRunWindow <= 0 {
		activeRunWindow = 7 * 24 * time.Hour
	}
	return &productionRunService{
		db:              db,
		log:             baseLog.With("service", "ProductionRunService"),
		products:        products,
		templates:       templates,
		runs:            runs,
		steps:           steps,
		tokens:          tokens,
		activity:        activity,
		hub:             hub,
		stallThreshold:  stallThreshold,
		activeRunWindow: activeRunWindow,
	}
}

func (s *productionRunService) CreateRun(ctx context.Context, productID uuid.UUID, quantity int, actor types.Actor) (*RunSummary, error) {
	if quantity < 1 {
		return nil, apierr.Validation("quantity must be a positive integer, got %d", quantity)
	}

	// Product and template reads happen inside the same transaction as the
	// writes, so a product deactivated or a template edited mid-flight cannot
	// still yield a run.
	var (
		product   *types.Product
		templates []*types.StepTemplate
		run       *types.ProductionRun
		token     *types.TrackingToken
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		product, err = s.products.GetByID(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product == nil || !product.Active {
			return apierr.NotFound("product not found or inactive")
		}

		templates, err = s.templates.GetByProductID(ctx, tx, productID)
		if err != nil {
			return err
		}
		if len(templates) == 0 {
			return apierr.Validation("product %q has no step templates", product.Name)
		}
		if err := validateTemplateOrders(templates); err != nil {
			return err
		}

		now := time.Now().UTC()
		run = &types.ProductionRun{
			ID:        uuid.New(),
			ProductID: product.ID,
			Quantity:  quantity,
			Status:    types.RunStatusPlanned,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if actor.ID != uuid.Nil {
			createdBy := actor.ID
			run.CreatedByID = &createdBy
		}
		if _, err := s.runs.Create(ctx, tx, []*types.ProductionRun{run}); err != nil {
			return err
		}
		steps := make([]*types.ProductionRunStep, 0, len(templates))
		for i, tpl := range templates {
			steps = append(steps, &types.ProductionRunStep{
				ID:          uuid.New(),
				RunID:       run.ID,
				TemplateKey: tpl.Key,
				Label:       tpl.Label,
				Order:       i + 1,
				Required:    tpl.Required,
				Status:      types.StepStatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		if _, err := s.steps.Create(ctx, tx, steps); err != nil {
			return err
		}
		issued, err := s.tokens.Issue(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		token = issued
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ActivityEntry{
		EntityType: types.EntityTypeProductionRun,
		EntityID:   run.ID,
		Action:     ActionRunCreated,
		Actor:      &actor,
		Summary:    fmt.Sprintf("Created run for %s x%d with %d steps (token %s)", product.Name, quantity, len(templates), token.Code),
		Details: RunCreatedDetails{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantity,
			StepCount:   len(templates),
			TokenCode:   token.Code,
		},
		Tags: []string{"production", "run"},
	})
	s.publish(run.ID, sse.EventRunCreated, map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})

	return &RunSummary{
		ID:           run.ID,
		Product:      ProductSummary{ID: product.ID, Name: product.Name, SKU: product.SKU},
		Quantity:     quantity,
		Status:       run.Status,
		StepCount:    len(templates),
		TrackingCode: token.Code,
	}, nil
}

// validateTemplateOrders guards against a corrupt template store: order
// values must be unique and contiguous starting at the first value. Checked
// on every run creation so bad templates never propagate into runs.
func validateTemplateOrders(templates []*types.StepTemplate) error {
	seen := make(map[int]bool, len(templates))
	for _, tpl := range templates {
		if seen[tpl.Order] {
			return apierr.Validation("step templates have duplicate order value %d", tpl.Order)
		}
		seen[tpl.Order] = true
	}
	base := templates[0].Order
	for i, tpl := range templates {
		if tpl.Order != base+i {
			return apierr.Validation("step template orders are not contiguous: expected %d, got %d", base+i, tpl.Order)
		}
	}
	return nil
}

func (s *productionRunService) GetRun(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	run, err := s.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.NotFound("production run not found")
	}
	return s.toDetail(run), nil
}

func (s *productionRunService) ListRuns(ctx context.Context, statuses []string) ([]*RunDetail, error) {
	runs, err := s.runs.ListByStatuses(ctx, nil, statuses)
	if err != nil {
		return nil, err
	}
	details := make([]*RunDetail, 0, len(runs))
	for _, run := range runs {
		details = append(details, s.toDetail(run))
	}
	return details, nil
}

func (s *productionRunService) toDetail(run *types.ProductionRun) *RunDetail {
	health := ComputeRunHealth(run.Status, run.Steps, s.stallThreshold, time.Now().UTC())
	if health.IsBlocked {
		s.log.Warn("Run step state is internally inconsistent", "run_id", run.ID, "status", run.Status)
	}
	return &RunDetail{Run: run, Health: health}
}

func (s *productionRunService) MyAssignedSteps(ctx context.Context, actor types.Actor) ([]*types.ProductionRunStep, error) {
	if actor.ID == uuid.Nil {
		return nil, apierr.Validation("missing actor")
	}
	return s.steps.ListAssignedTo(ctx, nil, actor.ID)
}

func (s *productionRunService) MyActiveRuns(ctx context.Context, actor types.Actor) ([]*ActiveRun, error) {
	if actor.ID == uuid.Nil {
		return nil, apierr.Validation("missing actor")
	}

	since := time.Now().UTC().Add(-s.activeRunWindow)
	recentIDs, err := s.steps.ListRunIDsPerformedBy(ctx, nil, actor.ID, since)
	if err != nil {
		return nil, err
	}
	inProgressIDs, err := s.steps.ListRunIDsInProgressBy(ctx, nil, actor.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(recentIDs)+len(inProgressIDs))
	ids := make([]uuid.UUID, 0, len(recentIDs)+len(inProgressIDs))
	for _, id := range append(recentIDs, inProgressIDs...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	runs, err := s.runs.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}

	active := make([]*ActiveRun, 0, len(runs))
	for _, run := range runs {
		if types.RunStatusTerminal(run.Status) {
			continue
		}
		active = append(active, &ActiveRun{Run: run, CurrentStep: currentStep(run.Steps)})
	}
	return active, nil
}

// currentStep is the in-progress step, or else the earliest pending one.
func currentStep(steps []*types.ProductionRunStep) *types.ProductionRunStep {
	var earliestPending *types.ProductionRunStep
	for _, step := range steps {
		switch step.Status {
		case types.StepStatusInProgress:
			return step
		case types.StepStatusPending:
			if earliestPending == nil || step.Order < earliestPending.Order {
				earliestPending = step
			}
		}
	}
	return earliestPending
}

// loadStepAndRun resolves a step and its parent run (with all sibling steps)
// inside the caller's transaction, holding the run row lock. The first step
// read only discovers the run id; the step is re-read once the lock is held so
// every precondition checks state no concurrent mutation can still change.
func (s *productionRunService) loadStepAndRun(ctx context.Context, tx *gorm.DB, stepID uuid.UUID) (*types.ProductionRunStep, *types.ProductionRun, error) {
	step, err := s.steps.GetByID(ctx, tx, stepID)
	if err != nil {
		return nil, nil, err
	}
	if step == nil {
		return nil, nil, apierr.NotFound("production run step not found")
	}
	run, err := s.runs.GetByIDForUpdate(ctx, tx, step.RunID)
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, apierr.NotFound("production run not found")
	}
	step, err = s.steps.GetByID(ctx, tx, stepID)
	if err != nil {
		return nil, nil, err
	}
	if step == nil {
		return nil, nil, apierr.NotFound("production run step not found")
	}
	return step, run, nil
}

// checkAssignment enforces claim-based authorization: non-admin actors may
// only act on steps that are claimed, and only on their own claims.
func checkAssignment(step *types.ProductionRunStep, actor types.Actor) error {
	if actor.Can(types.CapBypassAssignment) {
		return nil
	}
	if step.AssignedToID == nil {
		return apierr.Validation("step must be claimed before it can be worked")
	}
	if *step.AssignedToID != actor.ID {
		return apierr.Forbidden("step is assigned to another user")
	}
	return nil
}

func (s *productionRunService) audit(ctx context.Context, entry ActivityEntry) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, entry); err != nil {
		s.log.Warn("Failed to record activity entry", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

func (s *productionRunService) publish(runID uuid.UUID, event sse.Event, data any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(sse.ChannelRuns, event, data)
	s.hub.Publish(sse.RunChannel(runID), event, data)
}

func snapshotSteps(steps []*types.ProductionRunStep) []StepSnapshot {
	out := make([]StepSnapshot, 0, len(steps))
	for _, step := range steps {
		out = append(out, StepSnapshot{
			ID:       step.ID,
			Key:      step.TemplateKey,
			Label:    step.Label,
			Order:    step.Order,
			Required: step.Required,
			Status:   step.Status,
		})
	}
	return out
}
