package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type ProductionRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runs []*types.ProductionRun) ([]*types.ProductionRun, error)
	// GetByID loads the run with its product, ordered steps and tracking token.
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionRun, error)
	// GetByIDForUpdate is GetByID with the run row locked FOR UPDATE. Every
	// mutation of the run aggregate takes this lock first, so concurrent
	// mutations of the same run serialize instead of racing the invariant
	// checks.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionRun, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProductionRun, error)
	ListByStatuses(ctx context.Context, tx *gorm.DB, statuses []string) ([]*types.ProductionRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type productionRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductionRunRepo(db *gorm.DB, baseLog *logger.Logger) ProductionRunRepo {
	repoLog := baseLog.With("repo", "ProductionRunRepo")
	return &productionRunRepo{db: db, log: repoLog}
}

func runPreloads(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Product").
		Preload("TrackingToken").
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		})
}

func (r *productionRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.ProductionRun) ([]*types.ProductionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(runs) == 0 {
		return []*types.ProductionRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *productionRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.ProductionRun
	err := runPreloads(transaction.WithContext(ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *productionRunRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.ProductionRun
	err := runPreloads(transaction.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *productionRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProductionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ProductionRun
	if len(ids) == 0 {
		return results, nil
	}
	if err := runPreloads(transaction.WithContext(ctx)).
		Where("id IN ?", ids).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productionRunRepo) ListByStatuses(ctx context.Context, tx *gorm.DB, statuses []string) ([]*types.ProductionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ProductionRun
	q := runPreloads(transaction.WithContext(ctx))
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productionRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ProductionRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
