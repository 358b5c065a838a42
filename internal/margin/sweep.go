package margin

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor periodically re-evaluates every margin account, catching
// accounts that drift through a threshold from price moves alone, with no
// trade of their own to trigger a check.
type Processor struct {
	service       *Service
	sweepInterval time.Duration
}

// NewProcessor creates the background sweep with the given interval.
func NewProcessor(service *Service, interval time.Duration) *Processor {
	return &Processor{
		service:       service,
		sweepInterval: interval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "margin_sweep").Logger()
	logger.Info().Dur("interval", p.sweepInterval).Msg("starting margin sweep")

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down margin sweep")
			return
		case <-ticker.C:
			p.service.SweepAccounts()
		}
	}
}
