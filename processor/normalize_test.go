package processor

import (
	"errors"
	"math"
	"testing"
	"time"

	"edgeflow/models"
)

func TestNormalizeKalshi(t *testing.T) {
	payload := []byte(`{
		"ticker": "KXFED-25DEC-T3.75",
		"event_ticker": "KXFED-25DEC",
		"title": "Fed funds above 3.75% in December?",
		"category": "Economics",
		"close_time": "2025-12-10T19:00:00Z",
		"yes_bid": 42,
		"yes_ask": 48,
		"volume": 15230,
		"status": "active"
	}`)

	m, err := Normalize(models.PlatformKalshi, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ExternalID != "KXFED-25DEC-T3.75" {
		t.Fatalf("external id: %q", m.ExternalID)
	}
	if m.YesPrice == nil || math.Abs(*m.YesPrice-0.45) > 1e-9 {
		t.Fatalf("expected midpoint 0.45, got %v", m.YesPrice)
	}
	if !m.IsOpen {
		t.Fatalf("expected open market")
	}
	if m.CloseTime == nil || !m.CloseTime.Equal(time.Date(2025, 12, 10, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("close time: %v", m.CloseTime)
	}
	if m.Volume == nil || *m.Volume != 15230 {
		t.Fatalf("volume: %v", m.Volume)
	}
}

func TestNormalizeKalshiMissingTicker(t *testing.T) {
	_, err := Normalize(models.PlatformKalshi, []byte(`{"title":"no ticker"}`))
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Platform != models.PlatformKalshi {
		t.Fatalf("rejection platform: %v", rej.Platform)
	}
}

func TestNormalizeKalshiClosedMarket(t *testing.T) {
	m, err := Normalize(models.PlatformKalshi, []byte(`{"ticker":"T1","status":"finalized"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.IsOpen {
		t.Fatalf("finalized market should not be open")
	}
	if m.Volume != nil {
		t.Fatalf("zero volume should stay nil")
	}
}

func TestNormalizeKalshiBadCloseTime(t *testing.T) {
	m, err := Normalize(models.PlatformKalshi, []byte(`{"ticker":"T1","close_time":"soon","status":"open"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.CloseTime != nil {
		t.Fatalf("unparseable close time should stay nil, got %v", m.CloseTime)
	}
}

func TestNormalizePolymarket(t *testing.T) {
	payload := []byte(`{
		"conditionId": "0xabc123",
		"question": "Will the bill pass before March?",
		"category": "Politics",
		"endDate": "2026-03-01T00:00:00Z",
		"outcomePrices": "[\"0.62\", \"0.38\"]",
		"volume": "123456.78",
		"active": true
	}`)

	m, err := Normalize(models.PlatformPolymarket, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ExternalID != "0xabc123" {
		t.Fatalf("external id: %q", m.ExternalID)
	}
	if m.Title != "Will the bill pass before March?" {
		t.Fatalf("title: %q", m.Title)
	}
	if m.YesPrice == nil || math.Abs(*m.YesPrice-0.62) > 1e-9 {
		t.Fatalf("expected yes price 0.62, got %v", m.YesPrice)
	}
	if m.Volume == nil || math.Abs(*m.Volume-123456.78) > 1e-6 {
		t.Fatalf("volume: %v", m.Volume)
	}
}

func TestNormalizePolymarketFallbacks(t *testing.T) {
	m, err := Normalize(models.PlatformPolymarket, []byte(`{"id":"991","title":"Fallback title","active":false}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ExternalID != "991" {
		t.Fatalf("expected id fallback, got %q", m.ExternalID)
	}
	if m.Title != "Fallback title" {
		t.Fatalf("expected title fallback, got %q", m.Title)
	}
	if m.YesPrice != nil {
		t.Fatalf("absent outcome prices should leave price nil")
	}
	if m.IsOpen {
		t.Fatalf("inactive market should not be open")
	}
}

func TestNormalizePolymarketMissingIdentifier(t *testing.T) {
	_, err := Normalize(models.PlatformPolymarket, []byte(`{"question":"who knows"}`))
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestNormalizePolymarketBadPrice(t *testing.T) {
	_, err := Normalize(models.PlatformPolymarket, []byte(`{"conditionId":"0x1","outcomePrices":["not-a-number"]}`))
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection for bad price, got %v", err)
	}
}

func TestNormalizeUnknownPlatform(t *testing.T) {
	_, err := Normalize(models.MarketPlatform("nyse"), []byte(`{}`))
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
