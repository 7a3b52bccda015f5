// Package alert fans detected edges out to users and guarantees at most
// one notification per (edge, user) pair.
package alert

import (
	"context"
	"fmt"

	appconfig "edgeflow/config"
	"edgeflow/logger"
	"edgeflow/models"
)

// Notifier delivers one alert to one user.
type Notifier interface {
	Notify(ctx context.Context, user *models.User, edge *models.Edge, market *models.Market) error
}

// NewNotifier builds the notifier named by configuration.
func NewNotifier(cfg *appconfig.Config) (Notifier, error) {
	switch cfg.Alert.Notifier {
	case "log", "":
		return &LogNotifier{log: logger.GetLogger()}, nil
	case "telegram":
		return NewTelegramNotifier(cfg.Alert.Telegram)
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Alert.Notifier)
	}
}

// LogNotifier writes alerts to the log. Useful for development and as a
// fallback when no delivery channel is configured.
type LogNotifier struct {
	log *logger.Log
}

func (n *LogNotifier) Notify(_ context.Context, user *models.User, edge *models.Edge, market *models.Market) error {
	n.log.WithComponent("notifier").WithFields(logger.Fields{
		"user":      user.ExternalIdentity,
		"market":    market.ExternalID,
		"direction": edge.Direction,
		"magnitude": edge.EdgeMagnitude,
	}).Info("alert delivered (log)")
	return nil
}

// FormatAlert renders the alert text shared by all notifiers.
func FormatAlert(edge *models.Edge, market *models.Market) string {
	return fmt.Sprintf(
		"Edge detected on %s: %s\nDirection: %s\nMarket price: %.2f, model estimate: %.2f (edge %+.2f)",
		market.Platform, market.Title,
		edge.Direction,
		edge.MarketProbability, edge.ModelProbability, edge.EdgeMagnitude,
	)
}
