package models

import (
	"time"
)

// Edge direction values. YES means the market undervalues the YES
// outcome relative to the model, NO the opposite.
const (
	EdgeDirectionYes = "YES"
	EdgeDirectionNo  = "NO"
)

// Edge records a detected divergence between the model-estimated and the
// market-implied probability for one market. Rows are immutable after
// creation except for AlertSent, which transitions false to true exactly
// once when the dispatcher resolves the alert batch.
type Edge struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	MarketID uint    `gorm:"not null;index" json:"market_id"`
	Market   *Market `gorm:"foreignKey:MarketID" json:"market,omitempty"`

	// MarketProbability is the market's yes price at detection time.
	MarketProbability float64 `gorm:"not null" json:"market_probability"`
	// ModelProbability is the external model's estimate.
	ModelProbability float64 `gorm:"not null" json:"model_probability"`
	// EdgeMagnitude = ModelProbability - MarketProbability.
	EdgeMagnitude float64 `gorm:"not null;index" json:"edge_magnitude"`

	Direction string `gorm:"size:3;not null" json:"direction"`
	AlertSent bool   `gorm:"default:false" json:"alert_sent"`

	DetectedAt time.Time `json:"detected_at"`
}
