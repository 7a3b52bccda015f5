package models

import (
	"time"
)

// MarketPlatform identifies the upstream prediction-market platform a
// record originates from.
type MarketPlatform string

const (
	PlatformKalshi     MarketPlatform = "kalshi"
	PlatformPolymarket MarketPlatform = "polymarket"
)

// Valid reports whether the platform is one of the supported values.
func (p MarketPlatform) Valid() bool {
	return p == PlatformKalshi || p == PlatformPolymarket
}

// Market is the normalized snapshot of one tradable contract. Rows are
// keyed by ExternalID: repeated ingestion events for the same contract
// update the row in place and never create a second one.
type Market struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Platform   MarketPlatform `gorm:"type:varchar(16);not null;index" json:"platform"`
	ExternalID string         `gorm:"size:255;not null;uniqueIndex" json:"external_id"`
	Title      string         `gorm:"size:500;not null" json:"title"`
	Category   string         `gorm:"size:100" json:"category,omitempty"`
	CloseTime  *time.Time     `json:"close_time,omitempty"`

	// YesPrice is the YES contract price in [0,1], which directly implies
	// the market's probability estimate. Nil when the source did not report
	// a usable price.
	YesPrice *float64 `json:"yes_price,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	IsOpen   bool     `gorm:"default:true" json:"is_open"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizedMarket is the platform-neutral output of the normalizer and
// the input to the upsert store. It carries no row identity; the store
// resolves that from ExternalID.
type NormalizedMarket struct {
	Platform   MarketPlatform
	ExternalID string
	Title      string
	Category   string
	CloseTime  *time.Time
	YesPrice   *float64
	Volume     *float64
	IsOpen     bool
}
