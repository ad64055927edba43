// Package engine routes trade signals to execution venues. It subscribes to
// the event bus, serializes order routing under one lock, fails over across
// adapters in configured order, and republishes outcomes.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/events"
	"github.com/Syklic/basictradingsoftware/internal/monitor"
	"github.com/Syklic/basictradingsoftware/pkg/venue"
)

// demoOrderQty is the fixed demo order size. Position sizing from signal
// confidence is intentionally not implemented; every routed order is one unit.
var demoOrderQty = decimal.NewFromInt(1)

// Position is an engine-tracked position. The routing path does not populate
// these; the map is a hook for future reconciliation.
type Position struct {
	Symbol       string
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
}

// Options configures the engine.
type Options struct {
	// TradingMode other than "paper" is logged and forced back to paper.
	TradingMode string
	// CallTimeout bounds each adapter place/cancel attempt. Zero means the
	// call blocks until the venue responds.
	CallTimeout time.Duration
	Metrics     *monitor.SystemMetrics
	Logger      *zap.Logger
}

// Engine is the signal-consuming order router.
type Engine struct {
	bus        *events.Bus
	adapters   []venue.Adapter
	adapterMap map[string]venue.Adapter

	// routing serializes all order placement and cancellation process-wide.
	routing   sync.Mutex
	positions map[string]Position
	posMu     sync.Mutex

	callTimeout time.Duration
	paperMode   bool
	metrics     *monitor.SystemMetrics
	logger      *zap.Logger

	subs []*events.Subscription
}

// New creates an engine over the given adapters. Adapter order defines
// failover order.
func New(bus *events.Bus, adapters []venue.Adapter, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}

	adapterMap := make(map[string]venue.Adapter, len(adapters))
	for _, a := range adapters {
		adapterMap[strings.ToLower(a.Venue())] = a
	}

	if opts.TradingMode != "" && opts.TradingMode != "paper" {
		logger.Warn("unsupported trading mode; forcing paper execution",
			zap.String("mode", opts.TradingMode))
	}

	return &Engine{
		bus:         bus,
		adapters:    adapters,
		adapterMap:  adapterMap,
		positions:   make(map[string]Position),
		callTimeout: opts.CallTimeout,
		paperMode:   true,
		metrics:     metrics,
		logger:      logger,
	}
}

// Start subscribes the engine to its event types and authenticates every
// adapter. An individual venue failing to authenticate is logged, not fatal;
// a down venue must not prevent startup.
func (e *Engine) Start(ctx context.Context) error {
	e.subs = append(e.subs,
		e.bus.Subscribe(events.SignalGenerated, e.onSignal),
		e.bus.Subscribe(events.OrderCancel, e.onCancel),
		e.bus.Subscribe(events.CredentialsUpdated, e.onCredentialsUpdated),
	)

	for _, a := range e.adapters {
		if err := a.Authenticate(ctx); err != nil {
			e.logger.Error("adapter authentication failed",
				zap.String("venue", a.Venue()), zap.Error(err))
		}
	}
	return nil
}

// Stop detaches the engine from the bus. Adapter sessions are owned by the
// caller and closed separately.
func (e *Engine) Stop() {
	for _, s := range e.subs {
		e.bus.Unsubscribe(s)
	}
	e.subs = nil
}

// onSignal builds a fixed-size order from an untrusted signal payload and
// tries adapters in configured order until one accepts. The outcome is always
// republished as order.submitted; routing failures never propagate back to
// the signal producer.
func (e *Engine) onSignal(ctx context.Context, payload events.Payload) error {
	symbol := asString(payload["symbol"])
	side := asString(payload["side"])
	confidence := asFloat(payload["confidence"])
	model := payload["model"]

	e.metrics.IncrementSignals()
	e.logger.Info("received signal",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("confidence", confidence))

	order := venue.OrderRequest{
		Symbol:        symbol,
		Side:          venue.Side(side),
		Quantity:      demoOrderQty,
		OrderType:     venue.OrderTypeMarket,
		TimeInForce:   venue.TIFGTC,
		ClientOrderID: uuid.NewString(),
	}

	e.routing.Lock()
	defer e.routing.Unlock()

	timer := monitor.NewTimer(e.metrics.RoutingLatency)
	defer timer.Stop()

	var response *venue.OrderResponse
	for _, a := range e.adapters {
		resp, err := e.placeOrder(ctx, a, order)
		if err != nil {
			e.logger.Error("order failed on venue",
				zap.String("venue", a.Venue()), zap.Error(err))
			continue
		}
		response = &resp
		e.logger.Info("routed order",
			zap.String("venue", a.Venue()), zap.String("status", resp.Status))
		break
	}

	status := "rejected"
	var venueField any
	if response != nil {
		status = response.Status
		if response.Raw != nil {
			venueField = response.Raw["exchange"]
		}
		e.metrics.IncrementRouted()
	} else {
		e.metrics.IncrementRejected()
	}

	if err := e.bus.Publish(ctx, events.OrderSubmitted, events.Payload{
		"symbol":     symbol,
		"side":       side,
		"size":       order.Quantity,
		"status":     status,
		"confidence": confidence,
		"venue":      venueField,
		"model":      model,
	}); err != nil {
		e.logger.Error("order.submitted delivery failed", zap.Error(err))
	}
	return nil
}

// onCancel tries adapters in configured order until one accepts the
// cancellation. If every adapter rejects it the cancellation is dropped with
// only per-venue error logs.
func (e *Engine) onCancel(ctx context.Context, payload events.Payload) error {
	orderID := asString(payload["order_id"])

	e.routing.Lock()
	defer e.routing.Unlock()

	for _, a := range e.adapters {
		if err := e.cancelOrder(ctx, a, orderID); err != nil {
			e.logger.Error("cancel failed on venue",
				zap.String("venue", a.Venue()), zap.Error(err))
			continue
		}
		e.metrics.IncrementCancels()
		if err := e.bus.Publish(ctx, events.OrderCancelled, events.Payload{
			"order_id": orderID,
			"venue":    a.Venue(),
		}); err != nil {
			e.logger.Error("order.cancelled delivery failed", zap.Error(err))
		}
		break
	}
	return nil
}

// onCredentialsUpdated refreshes the named adapter's session with the new
// material. Unknown venues and unsupported variants are logged and ignored;
// a credential refresh must never crash the engine.
func (e *Engine) onCredentialsUpdated(ctx context.Context, payload events.Payload) error {
	name := strings.ToLower(asString(payload["venue"]))
	adapter, ok := e.adapterMap[name]
	if !ok {
		e.logger.Debug("no adapter registered for venue", zap.String("venue", name))
		return nil
	}

	apiKey := asString(payload["api_key"])
	apiSecret := asString(payload["api_secret"])

	if err := adapter.UpdateCredentials(ctx, apiKey, apiSecret); err != nil {
		if errors.Is(err, venue.ErrNotSupported) {
			e.logger.Debug("adapter does not support credential updates",
				zap.String("venue", name))
			return nil
		}
		e.logger.Error("failed to update credentials",
			zap.String("venue", name), zap.Error(err))
		return nil
	}
	if err := adapter.Authenticate(ctx); err != nil {
		e.logger.Error("re-authentication after credential update failed",
			zap.String("venue", name), zap.Error(err))
		return nil
	}
	e.logger.Info("refreshed credentials", zap.String("venue", name))
	return nil
}

// SnapshotPositions returns a defensive copy of engine-tracked positions.
// The routing path never writes this map; it stays empty until a
// reconciliation component fills it.
func (e *Engine) SnapshotPositions() map[string]Position {
	e.posMu.Lock()
	defer e.posMu.Unlock()

	out := make(map[string]Position, len(e.positions))
	for k, v := range e.positions {
		out[k] = v
	}
	return out
}

func (e *Engine) placeOrder(ctx context.Context, a venue.Adapter, order venue.OrderRequest) (venue.OrderResponse, error) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	return a.PlaceOrder(ctx, order)
}

func (e *Engine) cancelOrder(ctx context.Context, a venue.Adapter, orderID string) error {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	return a.CancelOrder(ctx, orderID)
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
