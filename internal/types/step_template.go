package types

import (
	"time"

	"github.com/google/uuid"
)

// StepTemplate is the product-level, reusable definition of one manufacturing
// step. Templates are read-only input to run creation; the engine validates
// their ordering on every read rather than trusting it.
type StepTemplate struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	Product   *Product  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProductID;references:ID" json:"product,omitempty"`
	Key       string    `gorm:"not null" json:"key"`
	Label     string    `gorm:"not null" json:"label"`
	Order     int       `gorm:"column:step_order;not null" json:"order"`
	Required  bool      `gorm:"not null;default:false" json:"required"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (StepTemplate) TableName() string { return "step_template" }
