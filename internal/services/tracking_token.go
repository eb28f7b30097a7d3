package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/repos"
	"github.com/psillyops/psillyops-backend/internal/types"
)

// TrackingTokenService mints the opaque code associated 1:1 with a run.
// The code is what ends up behind the QR seal; encoding it is the host's job.
type TrackingTokenService interface {
	Issue(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.TrackingToken, error)
	Resolve(ctx context.Context, code string) (*types.TrackingToken, error)
}

type trackingTokenService struct {
	db     *gorm.DB
	log    *logger.Logger
	tokens repos.TrackingTokenRepo
}

func NewTrackingTokenService(db *gorm.DB, baseLog *logger.Logger, tokens repos.TrackingTokenRepo) TrackingTokenService {
	return &trackingTokenService{
		db:     db,
		log:    baseLog.With("service", "TrackingTokenService"),
		tokens: tokens,
	}
}

func (s *trackingTokenService) Issue(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.TrackingToken, error) {
	if runID == uuid.Nil {
		return nil, fmt.Errorf("missing run id")
	}
	code, err := newTrackingCode()
	if err != nil {
		return nil, err
	}
	row := &types.TrackingToken{
		ID:        uuid.New(),
		Code:      code,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.tokens.Create(ctx, tx, []*types.TrackingToken{row}); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *trackingTokenService) Resolve(ctx context.Context, code string) (*types.TrackingToken, error) {
	token, err := s.tokens.GetByCode(ctx, nil, code)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, apierr.NotFound("tracking token not found")
	}
	return token, nil
}

func newTrackingCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate tracking code: %w", err)
	}
	return "po-" + hex.EncodeToString(buf), nil
}
