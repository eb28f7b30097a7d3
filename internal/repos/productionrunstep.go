package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type ProductionRunStepRepo interface {
	Create(ctx context.Context, tx *gorm.DB, steps []*types.ProductionRunStep) ([]*types.ProductionRunStep, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionRunStep, error)
	GetByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.ProductionRunStep, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// ListAssignedTo returns PENDING/IN_PROGRESS steps assigned to a user
	// whose parent run is not terminal.
	ListAssignedTo(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ProductionRunStep, error)
	// ListRunIDsPerformedBy returns distinct run ids where the user acted on
	// a step since the given time.
	ListRunIDsPerformedBy(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]uuid.UUID, error)
	// ListRunIDsInProgressBy returns distinct run ids with a step currently
	// IN_PROGRESS that is assigned to or was started by the user.
	ListRunIDsInProgressBy(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error)
}

type productionRunStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductionRunStepRepo(db *gorm.DB, baseLog *logger.Logger) ProductionRunStepRepo {
	repoLog := baseLog.With("repo", "ProductionRunStepRepo")
	return &productionRunStepRepo{db: db, log: repoLog}
}

func (r *productionRunStepRepo) Create(ctx context.Context, tx *gorm.DB, steps []*types.ProductionRunStep) ([]*types.ProductionRunStep, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(steps) == 0 {
		return []*types.ProductionRunStep{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *productionRunStepRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionRunStep, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var step types.ProductionRunStep
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&step).Error
	if err != nil {
		return nil, err
	}
	if step.ID == uuid.Nil {
		return nil, nil
	}
	return &step, nil
}

func (r *productionRunStepRepo) GetByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.ProductionRunStep, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ProductionRunStep
	if runID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_order ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productionRunStepRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.ProductionRunStep{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *productionRunStepRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.ProductionRunStep{}).Error
}

func (r *productionRunStepRepo) ListAssignedTo(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ProductionRunStep, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ProductionRunStep
	if userID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Joins("JOIN production_run ON production_run.id = production_run_step.run_id").
		Where("production_run_step.assigned_to_id = ?", userID).
		Where("production_run_step.status IN ?", []string{types.StepStatusPending, types.StepStatusInProgress}).
		Where("production_run.status NOT IN ?", []string{types.RunStatusCompleted, types.RunStatusCancelled}).
		Order("production_run_step.updated_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productionRunStepRepo) ListRunIDsPerformedBy(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if userID == uuid.Nil {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.ProductionRunStep{}).
		Distinct("run_id").
		Where("performed_by_id = ?", userID).
		Where("updated_at >= ?", since).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *productionRunStepRepo) ListRunIDsInProgressBy(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if userID == uuid.Nil {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.ProductionRunStep{}).
		Distinct("run_id").
		Where("status = ?", types.StepStatusInProgress).
		Where("assigned_to_id = ? OR performed_by_id = ?", userID, userID).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
