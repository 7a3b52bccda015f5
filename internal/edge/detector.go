// Package edge compares market-implied probabilities against an
// external model's estimates and records the divergences worth acting
// on.
package edge

import (
	"context"
	"fmt"
	"math"
	"time"

	appconfig "edgeflow/config"
	"edgeflow/logger"
	"edgeflow/models"
)

// ProbabilityModel estimates the true YES probability for a market.
// ok=false means the model has no opinion on this market; that is not
// an error.
type ProbabilityModel interface {
	Estimate(ctx context.Context, market *models.Market) (p float64, ok bool, err error)
}

// EdgeStore is the slice of the persistence layer the detector needs.
type EdgeStore interface {
	EdgeExists(ctx context.Context, marketID uint, marketProb, modelProb float64) (bool, error)
	InsertEdge(ctx context.Context, edge *models.Edge) error
}

// Detector evaluates freshly upserted markets and appends Edge rows when
// the model's estimate diverges from the market price by at least the
// configured floor.
type Detector struct {
	floor float64
	model ProbabilityModel
	store EdgeStore
	log   *logger.Log
}

func NewDetector(cfg *appconfig.Config, model ProbabilityModel, store EdgeStore) *Detector {
	return &Detector{
		floor: cfg.Edge.Floor,
		model: model,
		store: store,
		log:   logger.GetLogger(),
	}
}

// Evaluate runs edge detection for one market. It returns the created
// Edge, or nil when no edge was warranted: closed market, unknown
// price, no model opinion, divergence below floor, or an edge already
// recorded at this probability pair.
func (d *Detector) Evaluate(ctx context.Context, market *models.Market) (*models.Edge, error) {
	if market.YesPrice == nil || !market.IsOpen {
		return nil, nil
	}

	modelProb, ok, err := d.model.Estimate(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("model estimate for %s: %w", market.ExternalID, err)
	}
	if !ok {
		return nil, nil
	}

	marketProb := *market.YesPrice
	magnitude := modelProb - marketProb
	if math.Abs(magnitude) < d.floor {
		return nil, nil
	}

	exists, err := d.store.EdgeExists(ctx, market.ID, marketProb, modelProb)
	if err != nil {
		return nil, fmt.Errorf("edge dedup check for %s: %w", market.ExternalID, err)
	}
	if exists {
		return nil, nil
	}

	direction := models.EdgeDirectionYes
	if magnitude < 0 {
		direction = models.EdgeDirectionNo
	}

	edge := &models.Edge{
		MarketID:          market.ID,
		Market:            market,
		MarketProbability: marketProb,
		ModelProbability:  modelProb,
		EdgeMagnitude:     magnitude,
		Direction:         direction,
		AlertSent:         false,
		DetectedAt:        time.Now().UTC(),
	}
	if err := d.store.InsertEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("insert edge for %s: %w", market.ExternalID, err)
	}

	logger.IncrementEdgeDetected()
	d.log.WithComponent("detector").WithFields(logger.Fields{
		"market":     market.ExternalID,
		"market_p":   marketProb,
		"model_p":    modelProb,
		"magnitude":  magnitude,
		"direction":  direction,
		"market_row": market.ID,
	}).Info("edge detected")

	return edge, nil
}
