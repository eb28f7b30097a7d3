package types

import (
	"time"

	"github.com/google/uuid"
)

// TrackingToken is the opaque, globally-resolvable code minted 1:1 with a run
// at creation time, used for external lookup/redirect (QR seals etc. live in
// the host application).
type TrackingToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code      string    `gorm:"not null;uniqueIndex" json:"code"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"run_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (TrackingToken) TableName() string { return "tracking_token" }
