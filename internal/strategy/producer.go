// Package strategy emits demo trade signals onto the event bus. It stands in
// for the external ML signal generator; only the signal contract matters to
// the rest of the system.
package strategy

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/events"
)

// Producer runs a background loop publishing signal.generated events.
type Producer struct {
	bus      *events.Bus
	symbol   string
	model    string
	interval time.Duration
	logger   *zap.Logger
}

// NewProducer creates a demo signal producer for one symbol.
func NewProducer(bus *events.Bus, symbol, model string, interval time.Duration, logger *zap.Logger) *Producer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		bus:      bus,
		symbol:   symbol,
		model:    model,
		interval: interval,
		logger:   logger,
	}
}

// Start spawns the signal loop. The loop stops when ctx is cancelled; the
// supervisor owns its lifetime.
func (p *Producer) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Producer) run(ctx context.Context) {
	p.logger.Info("starting signal loop",
		zap.String("symbol", p.symbol), zap.String("model", p.model))

	// Confidence follows a bounded random walk to exercise both sides.
	confidence := 0.5

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("signal loop stopped")
			return
		case <-t.C:
			confidence += (rand.Float64()*2 - 1) * 0.15
			if confidence < 0 {
				confidence = 0
			}
			if confidence > 1 {
				confidence = 1
			}

			side := "SELL"
			if confidence > 0.5 {
				side = "BUY"
			}

			err := p.bus.Publish(ctx, events.SignalGenerated, events.Payload{
				"symbol":     p.symbol,
				"side":       side,
				"confidence": confidence,
				"model":      p.model,
			})
			if err != nil {
				p.logger.Error("signal delivery failed", zap.Error(err))
			}
		}
	}
}
