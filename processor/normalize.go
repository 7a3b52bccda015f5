// Package processor turns raw platform payloads into the shared market
// schema. Normalization is pure; callers decide what to do with
// rejections.
package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"edgeflow/models"
)

// Rejection reports a payload the normalizer refused. Rejected payloads
// are logged and skipped, never retried.
type Rejection struct {
	Platform models.MarketPlatform
	Reason   string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s payload rejected: %s", r.Platform, r.Reason)
}

func reject(platform models.MarketPlatform, format string, args ...interface{}) error {
	return &Rejection{Platform: platform, Reason: fmt.Sprintf(format, args...)}
}

// Normalize maps a raw payload from the given platform into a
// NormalizedMarket. A missing native identifier or an unparseable price
// yields a *Rejection; optional fields default to nil or empty.
func Normalize(platform models.MarketPlatform, payload []byte) (*models.NormalizedMarket, error) {
	switch platform {
	case models.PlatformKalshi:
		return normalizeKalshi(payload)
	case models.PlatformPolymarket:
		return normalizePolymarket(payload)
	default:
		return nil, reject(platform, "unknown platform")
	}
}

func normalizeKalshi(payload []byte) (*models.NormalizedMarket, error) {
	var raw models.KalshiMarketPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, reject(models.PlatformKalshi, "decode: %v", err)
	}
	if raw.Ticker == "" {
		return nil, reject(models.PlatformKalshi, "missing ticker")
	}

	// Kalshi quotes integer cents; the midpoint of bid and ask maps to
	// an implied probability in [0,1].
	yesPrice := (raw.YesBid + raw.YesAsk) / 200.0

	m := &models.NormalizedMarket{
		Platform:   models.PlatformKalshi,
		ExternalID: raw.Ticker,
		Title:      raw.Title,
		Category:   raw.Category,
		YesPrice:   &yesPrice,
		IsOpen:     raw.Status == "open" || raw.Status == "active",
	}
	if raw.Volume > 0 {
		volume := raw.Volume
		m.Volume = &volume
	}
	if raw.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, raw.CloseTime); err == nil {
			m.CloseTime = &t
		}
	}
	return m, nil
}

func normalizePolymarket(payload []byte) (*models.NormalizedMarket, error) {
	var raw models.PolymarketMarketPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, reject(models.PlatformPolymarket, "decode: %v", err)
	}

	externalID := raw.ConditionID
	if externalID == "" {
		externalID = raw.ID
	}
	if externalID == "" {
		return nil, reject(models.PlatformPolymarket, "missing conditionId and id")
	}

	title := raw.Question
	if title == "" {
		title = raw.Title
	}

	m := &models.NormalizedMarket{
		Platform:   models.PlatformPolymarket,
		ExternalID: externalID,
		Title:      title,
		Category:   raw.Category,
		IsOpen:     raw.Active,
	}

	// The first outcome price is the YES side, sent as a decimal string
	// already scaled to [0,1]. Absent prices stay nil; a malformed price
	// rejects the whole record.
	if len(raw.OutcomePrices) > 0 {
		d, err := decimal.NewFromString(raw.OutcomePrices[0])
		if err != nil {
			return nil, reject(models.PlatformPolymarket, "outcome price %q: %v", raw.OutcomePrices[0], err)
		}
		yesPrice := d.InexactFloat64()
		m.YesPrice = &yesPrice
	}

	if raw.Volume.Set {
		volume := raw.Volume.Value
		m.Volume = &volume
	}
	if raw.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, raw.EndDate); err == nil {
			m.CloseTime = &t
		}
	}
	return m, nil
}
