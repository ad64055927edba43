// Package market provides quote streams for the dashboard collaborator.
package market

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Quote is one synthetic top-of-book observation.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// LiveDataProvider yields synthetic quotes to bootstrap the UI until a real
// data feed is wired.
type LiveDataProvider struct {
	StartPrice float64
	Step       float64
	Interval   time.Duration
	logger     *zap.Logger
}

// NewLiveDataProvider creates a provider with default cadence.
func NewLiveDataProvider(logger *zap.Logger) *LiveDataProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveDataProvider{
		StartPrice: 100.0,
		Step:       0.5,
		Interval:   time.Second,
		logger:     logger,
	}
}

// StreamQuotes returns a channel of synthetic quotes for symbol. The channel
// closes when ctx is cancelled.
func (p *LiveDataProvider) StreamQuotes(ctx context.Context, symbol string) <-chan Quote {
	p.logger.Info("starting synthetic stream", zap.String("symbol", symbol))

	out := make(chan Quote)
	go func() {
		defer close(out)

		price := p.StartPrice
		t := time.NewTicker(p.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				// simple random walk
				price += (rand.Float64()*2 - 1) * p.Step
				q := Quote{
					Symbol:    symbol,
					Last:      price,
					Bid:       price - 0.1,
					Ask:       price + 0.1,
					Timestamp: time.Now().UTC(),
				}
				select {
				case out <- q:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
