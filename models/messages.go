package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RawEvent is the envelope readers hand to the ingestion publisher. Key
// is the entity's natural identifier and doubles as the event-log
// partition key, so updates for one entity stay ordered.
type RawEvent struct {
	Topic     string         `json:"topic"`
	Key       string         `json:"key"`
	Payload   []byte         `json:"payload"`
	Platform  MarketPlatform `json:"platform,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// KalshiMarketPayload is the subset of a raw Kalshi market record the
// normalizer reads. Prices are integer cents.
type KalshiMarketPayload struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	CloseTime   string  `json:"close_time"`
	YesBid      float64 `json:"yes_bid"`
	YesAsk      float64 `json:"yes_ask"`
	Volume      float64 `json:"volume"`
	Status      string  `json:"status"`
}

// OutcomePrices decodes Polymarket's outcome price list, which arrives
// either as a JSON array of decimal strings or as a string containing
// that array.
type OutcomePrices []string

func (o *OutcomePrices) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*o = nil
			return nil
		}
		data = []byte(inner)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("outcome prices: %w", err)
	}
	*o = out
	return nil
}

// FlexFloat decodes a numeric field that upstream sends as a number or a
// decimal string.
type FlexFloat struct {
	Set   bool
	Value float64
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.Set = false
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			f.Set = false
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("numeric string %q: %w", s, err)
		}
		f.Value = d.InexactFloat64()
		f.Set = true
		return nil
	}
	if err := json.Unmarshal(data, &f.Value); err != nil {
		return err
	}
	f.Set = true
	return nil
}

// PolymarketMarketPayload is the subset of a raw Gamma API market record
// the normalizer reads.
type PolymarketMarketPayload struct {
	ConditionID   string        `json:"conditionId"`
	ID            string        `json:"id"`
	Question      string        `json:"question"`
	Title         string        `json:"title"`
	Category      string        `json:"category"`
	EndDate       string        `json:"endDate"`
	OutcomePrices OutcomePrices `json:"outcomePrices"`
	Volume        FlexFloat     `json:"volume"`
	Active        bool          `json:"active"`
}

// NewsArticlePayload is one article from the news search API. The
// originating search query is attached by the news reader before
// publishing.
type NewsArticlePayload struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Description string `json:"description"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
	SearchQuery string `json:"_search_query"`
}
