package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type TrackingTokenRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tokens []*types.TrackingToken) ([]*types.TrackingToken, error)
	GetByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.TrackingToken, error)
	GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.TrackingToken, error)
}

type trackingTokenRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTrackingTokenRepo(db *gorm.DB, baseLog *logger.Logger) TrackingTokenRepo {
	repoLog := baseLog.With("repo", "TrackingTokenRepo")
	return &trackingTokenRepo{db: db, log: repoLog}
}

func (r *trackingTokenRepo) Create(ctx context.Context, tx *gorm.DB, tokens []*types.TrackingToken) ([]*types.TrackingToken, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tokens) == 0 {
		return []*types.TrackingToken{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *trackingTokenRepo) GetByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.TrackingToken, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if runID == uuid.Nil {
		return nil, nil
	}
	var token types.TrackingToken
	err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Limit(1).
		Find(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == uuid.Nil {
		return nil, nil
	}
	return &token, nil
}

func (r *trackingTokenRepo) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.TrackingToken, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if code == "" {
		return nil, nil
	}
	var token types.TrackingToken
	err := transaction.WithContext(ctx).
		Where("code = ?", code).
		Limit(1).
		Find(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == uuid.Nil {
		return nil, nil
	}
	return &token, nil
}
