package edge

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	appconfig "edgeflow/config"
	"edgeflow/logger"
	"edgeflow/models"
)

// Dispatcher fans a freshly detected edge out to matching users.
type Dispatcher interface {
	Dispatch(ctx context.Context, edge *models.Edge, market *models.Market) error
}

// Lister is the slice of the persistence layer the rescanner reads:
// the open-market population to re-evaluate, and edges whose alert
// batch never resolved.
type Lister interface {
	ListOpenMarkets(ctx context.Context, limit int) ([]models.Market, error)
	ListUnsentEdges(ctx context.Context, limit int) ([]models.Edge, error)
}

// Rescanner re-runs edge detection over open markets on a cron
// schedule, catching markets whose model estimate moved between
// ingestion events. It also re-dispatches edges still marked unsent,
// recovering alerts lost to a dispatch failure or a crash between
// detection and batch resolution.
type Rescanner struct {
	cfg        *appconfig.Config
	cron       *cron.Cron
	detector   *Detector
	dispatcher Dispatcher
	store      Lister
	ctx        context.Context
	mu         sync.Mutex
	running    bool
	log        *logger.Log
}

func NewRescanner(cfg *appconfig.Config, detector *Detector, dispatcher Dispatcher, store Lister) *Rescanner {
	return &Rescanner{
		cfg:        cfg,
		cron:       cron.New(),
		detector:   detector,
		dispatcher: dispatcher,
		store:      store,
		log:        logger.GetLogger(),
	}
}

func (r *Rescanner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("rescanner already running")
	}
	r.ctx = ctx

	if _, err := r.cron.AddFunc(r.cfg.Edge.RescanSchedule, r.runOnce); err != nil {
		return fmt.Errorf("invalid rescan schedule %q: %w", r.cfg.Edge.RescanSchedule, err)
	}
	r.cron.Start()
	r.running = true

	r.log.WithComponent("rescanner").WithFields(logger.Fields{
		"schedule": r.cfg.Edge.RescanSchedule,
		"limit":    r.cfg.Edge.RescanLimit,
	}).Info("edge rescanner started")
	return nil
}

func (r *Rescanner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	<-r.cron.Stop().Done()
	r.log.WithComponent("rescanner").Info("edge rescanner stopped")
}

func (r *Rescanner) runOnce() {
	log := r.log.WithComponent("rescanner")

	redispatched := r.sweepUnsent(log)

	markets, err := r.store.ListOpenMarkets(r.ctx, r.cfg.Edge.RescanLimit)
	if err != nil {
		log.WithError(err).Error("failed to list open markets")
		return
	}

	detected := 0
	for i := range markets {
		market := &markets[i]
		edge, err := r.detector.Evaluate(r.ctx, market)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"market": market.ExternalID}).Warn("rescan evaluation failed")
			continue
		}
		if edge == nil {
			continue
		}
		detected++
		if r.dispatcher != nil {
			if err := r.dispatcher.Dispatch(r.ctx, edge, market); err != nil {
				log.WithError(err).WithFields(logger.Fields{"edge": edge.ID}).Warn("rescan dispatch failed")
			}
		}
	}

	log.WithFields(logger.Fields{
		"scanned":      len(markets),
		"detected":     detected,
		"redispatched": redispatched,
	}).Info("rescan cycle complete")
}

// sweepUnsent re-dispatches edges whose alert_sent flag never flipped.
// The dispatcher's AlertSent skip and the monotonic flag update make
// re-dispatching an already-resolved edge a no-op.
func (r *Rescanner) sweepUnsent(log *logger.Entry) int {
	if r.dispatcher == nil {
		return 0
	}

	unsent, err := r.store.ListUnsentEdges(r.ctx, r.cfg.Edge.RescanLimit)
	if err != nil {
		log.WithError(err).Error("failed to list unsent edges")
		return 0
	}

	redispatched := 0
	for i := range unsent {
		edge := &unsent[i]
		if edge.Market == nil {
			log.WithFields(logger.Fields{"edge": edge.ID}).Warn("unsent edge has no market row")
			continue
		}
		if err := r.dispatcher.Dispatch(r.ctx, edge, edge.Market); err != nil {
			log.WithError(err).WithFields(logger.Fields{"edge": edge.ID}).Warn("unsent edge dispatch failed")
			continue
		}
		redispatched++
	}
	return redispatched
}
