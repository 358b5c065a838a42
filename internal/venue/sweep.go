package venue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor retires expired resting orders on a fixed interval. Expiry is
// otherwise lazy: an expired maker is only noticed when a match walk
// touches it, so the sweep bounds how long dead orders hold collateral.
type Processor struct {
	service       *Service
	sweepInterval time.Duration
}

// NewProcessor creates the expiry sweep with the given interval.
func NewProcessor(service *Service, interval time.Duration) *Processor {
	return &Processor{
		service:       service,
		sweepInterval: interval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "expiry_sweep").Logger()
	logger.Info().Dur("interval", p.sweepInterval).Msg("starting order expiry sweep")

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order expiry sweep")
			return
		case <-ticker.C:
			if n := p.service.SweepExpired(time.Now()); n > 0 {
				logger.Info().Int("expired", n).Msg("retired expired orders")
			}
		}
	}
}
