package alert

import (
	"context"
	"fmt"
	"testing"

	appconfig "edgeflow/config"
	"edgeflow/models"
)

type fakeAlertStore struct {
	users      []models.User
	sentEdges  map[uint]int
	listFailed bool
}

func (f *fakeAlertStore) ListAlertUsers(context.Context) ([]models.User, error) {
	if f.listFailed {
		return nil, fmt.Errorf("db down")
	}
	return f.users, nil
}

func (f *fakeAlertStore) MarkEdgeAlertSent(_ context.Context, edgeID uint) error {
	if f.sentEdges == nil {
		f.sentEdges = map[uint]int{}
	}
	f.sentEdges[edgeID]++
	return nil
}

type recordingNotifier struct {
	delivered map[string]int
	failFor   map[string]int // identity -> remaining failures
}

func (n *recordingNotifier) Notify(_ context.Context, user *models.User, _ *models.Edge, _ *models.Market) error {
	if n.failFor[user.ExternalIdentity] > 0 {
		n.failFor[user.ExternalIdentity]--
		return fmt.Errorf("delivery failed")
	}
	if n.delivered == nil {
		n.delivered = map[string]int{}
	}
	n.delivered[user.ExternalIdentity]++
	return nil
}

func dispatcherWith(store *fakeAlertStore, notifier Notifier) *Dispatcher {
	cfg := &appconfig.Config{}
	cfg.Alert.MaxAttempts = 3
	cfg.Alert.RetryBackoff = 0
	return NewDispatcher(cfg, store, notifier)
}

func testEdgeMarket(magnitude float64) (*models.Edge, *models.Market) {
	market := &models.Market{
		ID:         7,
		Platform:   models.PlatformKalshi,
		ExternalID: "KXFED-25DEC-T3.75",
		Title:      "Fed funds above 3.75%?",
	}
	edge := &models.Edge{
		ID:                42,
		MarketID:          market.ID,
		MarketProbability: 0.45,
		ModelProbability:  0.45 + magnitude,
		EdgeMagnitude:     magnitude,
		Direction:         models.EdgeDirectionYes,
	}
	return edge, market
}

func user(id uint, identity string, threshold float64, enabled bool, platforms string) models.User {
	return models.User{
		ID:               id,
		ExternalIdentity: identity,
		AlertThreshold:   threshold,
		AlertsEnabled:    enabled,
		AlertPlatforms:   platforms,
	}
}

func TestDispatchMatchesUsers(t *testing.T) {
	store := &fakeAlertStore{users: []models.User{
		user(1, "in-threshold", 0.05, true, "kalshi,polymarket"),
		user(2, "too-high-threshold", 0.30, true, "kalshi"),
		user(3, "disabled", 0.05, false, "kalshi"),
		user(4, "wrong-platform", 0.05, true, "polymarket"),
	}}
	notifier := &recordingNotifier{}
	d := dispatcherWith(store, notifier)
	edge, market := testEdgeMarket(0.17)

	if err := d.Dispatch(context.Background(), edge, market); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(notifier.delivered) != 1 || notifier.delivered["in-threshold"] != 1 {
		t.Fatalf("unexpected deliveries: %v", notifier.delivered)
	}
	if store.sentEdges[42] != 1 {
		t.Fatalf("alert_sent not flipped exactly once: %v", store.sentEdges)
	}
	if !edge.AlertSent {
		t.Fatalf("edge should be marked sent in memory")
	}
}

func TestDispatchRetriesOnlyFailedSubset(t *testing.T) {
	store := &fakeAlertStore{users: []models.User{
		user(1, "stable", 0.05, true, "kalshi"),
		user(2, "flaky", 0.05, true, "kalshi"),
	}}
	notifier := &recordingNotifier{failFor: map[string]int{"flaky": 1}}
	d := dispatcherWith(store, notifier)
	edge, market := testEdgeMarket(0.17)

	if err := d.Dispatch(context.Background(), edge, market); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if notifier.delivered["stable"] != 1 {
		t.Fatalf("stable user notified %d times", notifier.delivered["stable"])
	}
	if notifier.delivered["flaky"] != 1 {
		t.Fatalf("flaky user should be retried to success, got %d", notifier.delivered["flaky"])
	}
}

func TestDispatchFlipsFlagAfterBoundedFailures(t *testing.T) {
	store := &fakeAlertStore{users: []models.User{
		user(1, "unreachable", 0.05, true, "kalshi"),
	}}
	notifier := &recordingNotifier{failFor: map[string]int{"unreachable": 100}}
	d := dispatcherWith(store, notifier)
	edge, market := testEdgeMarket(0.17)

	if err := d.Dispatch(context.Background(), edge, market); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(notifier.delivered) != 0 {
		t.Fatalf("nothing should be delivered: %v", notifier.delivered)
	}
	if store.sentEdges[42] != 1 {
		t.Fatalf("flag must flip once the batch permanently fails")
	}
}

func TestDispatchSkipsAlreadySentEdge(t *testing.T) {
	store := &fakeAlertStore{users: []models.User{
		user(1, "someone", 0.05, true, "kalshi"),
	}}
	notifier := &recordingNotifier{}
	d := dispatcherWith(store, notifier)
	edge, market := testEdgeMarket(0.17)
	edge.AlertSent = true

	if err := d.Dispatch(context.Background(), edge, market); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(notifier.delivered) != 0 {
		t.Fatalf("redelivered edge must not re-notify: %v", notifier.delivered)
	}
	if store.sentEdges[42] != 0 {
		t.Fatalf("flag must not be touched again")
	}
}

func TestDispatchZeroMatchedUsersStillResolves(t *testing.T) {
	store := &fakeAlertStore{}
	d := dispatcherWith(store, &recordingNotifier{})
	edge, market := testEdgeMarket(0.17)

	if err := d.Dispatch(context.Background(), edge, market); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if store.sentEdges[42] != 1 {
		t.Fatalf("edge with no audience still resolves its batch")
	}
}
