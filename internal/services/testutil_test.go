package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/repos"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type testEnv struct {
	db        *gorm.DB
	svc       ProductionRunService
	proposals RunEditProposalService
	activity  ActivityService
	tokens    TrackingTokenService
	products  repos.ProductRepo
	templates repos.StepTemplateRepo
	runs      repos.ProductionRunRepo
	steps     repos.ProductionRunStepRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("gdb.DB: %v", err)
	}
	// One connection keeps concurrent transactions queued instead of hitting
	// sqlite's table-lock errors.
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(
		&types.User{},
		&types.Product{},
		&types.StepTemplate{},
		&types.ProductionRun{},
		&types.ProductionRunStep{},
		&types.TrackingToken{},
		&types.ActivityLog{},
	); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	productRepo := repos.NewProductRepo(gdb, log)
	templateRepo := repos.NewStepTemplateRepo(gdb, log)
	runRepo := repos.NewProductionRunRepo(gdb, log)
	stepRepo := repos.NewProductionRunStepRepo(gdb, log)
	tokenRepo := repos.NewTrackingTokenRepo(gdb, log)
	activityRepo := repos.NewActivityLogRepo(gdb, log)

	activity := NewActivityService(gdb, log, activityRepo)
	tokens := NewTrackingTokenService(gdb, log, tokenRepo)
	svc := NewProductionRunService(
		gdb, log,
		productRepo, templateRepo, runRepo, stepRepo,
		tokens, activity, nil,
		4*time.Hour, 7*24*time.Hour,
	)
	proposals := NewRunEditProposalService(gdb, log, runRepo, svc)

	return &testEnv{
		db:        gdb,
		svc:       svc,
		proposals: proposals,
		activity:  activity,
		tokens:    tokens,
		products:  productRepo,
		templates: templateRepo,
		runs:      runRepo,
		steps:     stepRepo,
	}
}

func (e *testEnv) createProduct(t *testing.T, name string, active bool) *types.Product {
	t.Helper()
	now := time.Now().UTC()
	product := &types.Product{
		ID:        uuid.New(),
		Name:      name,
		SKU:       fmt.Sprintf("sku-%s", uuid.New().String()[:8]),
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := e.products.Create(context.Background(), nil, []*types.Product{product}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

type templateSpec struct {
	key      string
	label    string
	order    int
	required bool
}

func (e *testEnv) createTemplates(t *testing.T, productID uuid.UUID, specs []templateSpec) {
	t.Helper()
	now := time.Now().UTC()
	rows := make([]*types.StepTemplate, 0, len(specs))
	for _, spec := range specs {
		rows = append(rows, &types.StepTemplate{
			ID:        uuid.New(),
			ProductID: productID,
			Key:       spec.key,
			Label:     spec.label,
			Order:     spec.order,
			Required:  spec.required,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if _, err := e.templates.Create(context.Background(), nil, rows); err != nil {
		t.Fatalf("create templates: %v", err)
	}
}

// createStandardRun seeds a product with three templates (prep, required
// assembly, optional labeling) and creates a run for it.
func (e *testEnv) createStandardRun(t *testing.T, actor types.Actor) *RunSummary {
	t.Helper()
	product := e.createProduct(t, "Grow Kit", true)
	e.createTemplates(t, product.ID, []templateSpec{
		{key: "prep", label: "Prep", order: 1, required: true},
		{key: "assembly", label: "Assembly", order: 2, required: true},
		{key: "labeling", label: "Labeling", order: 3, required: false},
	})
	summary, err := e.svc.CreateRun(context.Background(), product.ID, 10, actor)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return summary
}

func (e *testEnv) runSteps(t *testing.T, runID uuid.UUID) []*types.ProductionRunStep {
	t.Helper()
	steps, err := e.steps.GetByRunID(context.Background(), nil, runID)
	if err != nil {
		t.Fatalf("GetByRunID: %v", err)
	}
	return steps
}

func (e *testEnv) getRun(t *testing.T, runID uuid.UUID) *types.ProductionRun {
	t.Helper()
	run, err := e.runs.GetByID(context.Background(), nil, runID)
	if err != nil {
		t.Fatalf("runs.GetByID: %v", err)
	}
	if run == nil {
		t.Fatalf("run %s not found", runID)
	}
	return run
}

func adminActor() types.Actor {
	return types.Actor{ID: uuid.New(), Role: types.RoleAdmin}
}

func operatorActor() types.Actor {
	return types.Actor{ID: uuid.New(), Role: types.RoleOperator}
}
