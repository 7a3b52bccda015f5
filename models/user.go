package models

import (
	"strings"
	"time"
)

// DefaultAlertThreshold is the minimum edge magnitude a user is alerted
// on when they have not configured one.
const DefaultAlertThreshold = 0.05

// DefaultAlertPlatforms enables alerts for every supported platform.
const DefaultAlertPlatforms = "kalshi,polymarket"

// User holds one authenticated identity and its alert preferences.
// Authentication itself lives outside this service; ExternalIdentity is
// the identity provider's subject claim.
type User struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	ExternalIdentity string `gorm:"size:255;not null;uniqueIndex" json:"external_identity"`
	Email            string `gorm:"size:255" json:"email,omitempty"`

	// AlertThreshold is the minimum |edge_magnitude| before this user is
	// notified, in [0,1].
	AlertThreshold float64 `gorm:"default:0.05" json:"alert_threshold"`
	AlertsEnabled  bool    `gorm:"default:true" json:"alerts_enabled"`

	// AlertPlatforms is the comma-separated set of platforms the user
	// wants alerts for.
	AlertPlatforms string `gorm:"size:64;default:kalshi,polymarket" json:"alert_platforms"`

	// TelegramChatID is set when the user linked a Telegram chat for
	// delivery. Empty means the notifier falls back to its default route.
	TelegramChatID string `gorm:"size:32" json:"telegram_chat_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlatformEnabled reports whether the user accepts alerts for markets on
// the given platform.
func (u *User) PlatformEnabled(p MarketPlatform) bool {
	for _, part := range strings.Split(u.AlertPlatforms, ",") {
		if MarketPlatform(strings.ToLower(strings.TrimSpace(part))) == p {
			return true
		}
	}
	return false
}
