package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type StepTemplateRepo interface {
	Create(ctx context.Context, tx *gorm.DB, templates []*types.StepTemplate) ([]*types.StepTemplate, error)
	GetByProductID(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]*types.StepTemplate, error)
}

type stepTemplateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStepTemplateRepo(db *gorm.DB, baseLog *logger.Logger) StepTemplateRepo {
	repoLog := baseLog.With("repo", "StepTemplateRepo")
	return &stepTemplateRepo{db: db, log: repoLog}
}

func (r *stepTemplateRepo) Create(ctx context.Context, tx *gorm.DB, templates []*types.StepTemplate) ([]*types.StepTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(templates) == 0 {
		return []*types.StepTemplate{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *stepTemplateRepo) GetByProductID(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]*types.StepTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.StepTemplate
	if productID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("step_order ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
