package payments

import (
	"context"
	"time"

	"payment-reconciliation-engine/internal/logger"
)

// Sweeper periodically expires stale payment requests.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      logger.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log logger.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, log: log.WithComponent("sweeper")}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	w.log.WithField("interval", w.interval).Info("expiry sweeper started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.svc.ExpireStale(ctx); err != nil && ctx.Err() == nil {
			w.log.WithError(err).Error("expiry sweep failed")
		}
		select {
		case <-ctx.Done():
			w.log.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
