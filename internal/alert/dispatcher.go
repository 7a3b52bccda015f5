package alert

import (
	"context"
	"fmt"
	"math"
	"time"

	appconfig "edgeflow/config"
	"edgeflow/logger"
	"edgeflow/models"
)

// AlertStore is the slice of the persistence layer the dispatcher
// needs.
type AlertStore interface {
	ListAlertUsers(ctx context.Context) ([]models.User, error)
	MarkEdgeAlertSent(ctx context.Context, edgeID uint) error
}

// Dispatcher matches an edge against user preferences and delivers at
// most one notification per (edge, user) pair. Per-user outcomes are
// tracked only for the duration of one Dispatch call; durability comes
// from the edge's alert_sent flag.
type Dispatcher struct {
	cfg      *appconfig.Config
	store    AlertStore
	notifier Notifier
	log      *logger.Log
}

func NewDispatcher(cfg *appconfig.Config, store AlertStore, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		log:      logger.GetLogger(),
	}
}

// Dispatch resolves the full alert batch for one edge: select matching
// users, deliver with bounded retries for the failed subset only, then
// flip alert_sent exactly once. An edge already marked sent is a no-op,
// which makes redelivered messages safe.
func (d *Dispatcher) Dispatch(ctx context.Context, edge *models.Edge, market *models.Market) error {
	log := d.log.WithComponent("dispatcher").WithFields(logger.Fields{
		"edge":   edge.ID,
		"market": market.ExternalID,
	})

	if edge.AlertSent {
		log.Debug("edge already alerted, skipping")
		return nil
	}

	users, err := d.store.ListAlertUsers(ctx)
	if err != nil {
		return fmt.Errorf("list alert users: %w", err)
	}

	pending := map[uint]*models.User{}
	magnitude := math.Abs(edge.EdgeMagnitude)
	for i := range users {
		user := &users[i]
		if !user.AlertsEnabled {
			continue
		}
		if user.AlertThreshold > magnitude {
			continue
		}
		if !user.PlatformEnabled(market.Platform) {
			continue
		}
		pending[user.ID] = user
	}

	matched := len(pending)
	delivered := 0

	for attempt := 1; attempt <= d.cfg.Alert.MaxAttempts && len(pending) > 0; attempt++ {
		if attempt > 1 {
			backoff := d.cfg.Alert.RetryBackoff * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		for id, user := range pending {
			if err := d.notifier.Notify(ctx, user, edge, market); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"user":    user.ExternalIdentity,
					"attempt": attempt,
				}).Warn("alert delivery failed")
				continue
			}
			delete(pending, id)
			delivered++
			logger.IncrementAlertSent()
		}
	}

	for _, user := range pending {
		log.WithFields(logger.Fields{"user": user.ExternalIdentity}).Error("alert undelivered after bounded retries")
	}

	// The batch is resolved either way; the flag flips exactly once.
	if err := d.store.MarkEdgeAlertSent(ctx, edge.ID); err != nil {
		return fmt.Errorf("mark edge %d alert sent: %w", edge.ID, err)
	}
	edge.AlertSent = true

	log.WithFields(logger.Fields{
		"matched":     matched,
		"delivered":   delivered,
		"undelivered": len(pending),
	}).Info("alert batch resolved")
	return nil
}
