package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syklic/basictradingsoftware/internal/events"
	"github.com/Syklic/basictradingsoftware/pkg/venue"
)

// fakeAdapter is a scriptable in-memory venue.
type fakeAdapter struct {
	mu sync.Mutex

	name       string
	placeErr   error
	cancelErr  error
	updateErr  error
	rawVenue   string
	status     string
	placed     []venue.OrderRequest
	cancelled  []string
	authCalls  int
	updateKeys []string
	closed     bool
}

func (f *fakeAdapter) Venue() string { return f.name }

func (f *fakeAdapter) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return venue.OrderResponse{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	status := f.status
	if status == "" {
		status = "accepted"
	}
	resp := venue.OrderResponse{OrderID: "oid-1", Status: status}
	if f.rawVenue != "" {
		resp.Raw = map[string]any{"exchange": f.rawVenue}
	}
	return resp, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeAdapter) FetchPositions(ctx context.Context) ([]venue.PositionSnapshot, error) {
	return nil, nil
}

func (f *fakeAdapter) StreamMarketData(ctx context.Context, symbol string) (<-chan venue.Tick, error) {
	return nil, venue.ErrNotSupported
}

func (f *fakeAdapter) UpdateCredentials(ctx context.Context, apiKey, apiSecret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateKeys = append(f.updateKeys, apiKey)
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAdapter) placedOrders() []venue.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]venue.OrderRequest(nil), f.placed...)
}

func newTestEngine(t *testing.T, adapters ...venue.Adapter) (*Engine, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil)
	eng := New(bus, adapters, Options{})
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	return eng, bus
}

// collect records every payload published on eventType.
func collect(bus *events.Bus, eventType string) func() []events.Payload {
	var mu sync.Mutex
	var got []events.Payload
	bus.Subscribe(eventType, func(ctx context.Context, p events.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
		return nil
	})
	return func() []events.Payload {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Payload(nil), got...)
	}
}

func TestSignalRoutesToFirstVenue(t *testing.T) {
	first := &fakeAdapter{name: "alpaca", status: "accepted"}
	second := &fakeAdapter{name: "binance"}
	_, bus := newTestEngine(t, first, second)
	submitted := collect(bus, events.OrderSubmitted)

	err := bus.Publish(context.Background(), events.SignalGenerated, events.Payload{
		"symbol":     "DEMO",
		"side":       "BUY",
		"confidence": 0.73,
		"model":      "lstm",
	})
	require.NoError(t, err)

	require.Len(t, first.placedOrders(), 1)
	assert.Empty(t, second.placedOrders(), "second venue must not be tried when the first accepts")

	order := first.placedOrders()[0]
	assert.Equal(t, "DEMO", order.Symbol)
	assert.Equal(t, venue.SideBuy, order.Side)
	assert.True(t, order.Quantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, venue.OrderTypeMarket, order.OrderType)
	assert.NotEmpty(t, order.ClientOrderID)

	got := submitted()
	require.Len(t, got, 1)
	assert.Equal(t, "DEMO", got[0]["symbol"])
	assert.Equal(t, "BUY", got[0]["side"])
	assert.Equal(t, "accepted", got[0]["status"])
	assert.Equal(t, 0.73, got[0]["confidence"])
	assert.Equal(t, "lstm", got[0]["model"])
	assert.Nil(t, got[0]["venue"], "venue is only set when the adapter reports an exchange")
}

func TestSignalFailsOverInConfiguredOrder(t *testing.T) {
	first := &fakeAdapter{name: "alpaca", placeErr: errors.New("maintenance window")}
	second := &fakeAdapter{name: "binance", rawVenue: "binance"}
	_, bus := newTestEngine(t, first, second)
	submitted := collect(bus, events.OrderSubmitted)

	err := bus.Publish(context.Background(), events.SignalGenerated, events.Payload{
		"symbol": "BTCUSDT", "side": "SELL", "confidence": 0.9,
	})
	require.NoError(t, err)

	require.Len(t, second.placedOrders(), 1)
	got := submitted()
	require.Len(t, got, 1)
	assert.Equal(t, "accepted", got[0]["status"])
	assert.Equal(t, "binance", got[0]["venue"])
}

func TestSignalExhaustionPublishesSingleRejection(t *testing.T) {
	first := &fakeAdapter{name: "alpaca", placeErr: errors.New("down")}
	second := &fakeAdapter{name: "binance", placeErr: errors.New("also down")}
	_, bus := newTestEngine(t, first, second)
	submitted := collect(bus, events.OrderSubmitted)

	err := bus.Publish(context.Background(), events.SignalGenerated, events.Payload{
		"symbol": "DEMO", "side": "BUY", "confidence": 0.6,
	})
	require.NoError(t, err, "routing failures must not propagate to the signal producer")

	got := submitted()
	require.Len(t, got, 1)
	assert.Equal(t, "rejected", got[0]["status"])
	assert.Nil(t, got[0]["venue"])
}

func TestSignalToleratesMalformedPayload(t *testing.T) {
	a := &fakeAdapter{name: "alpaca"}
	_, bus := newTestEngine(t, a)
	submitted := collect(bus, events.OrderSubmitted)

	err := bus.Publish(context.Background(), events.SignalGenerated, events.Payload{
		"symbol":     42,
		"confidence": "high",
	})
	require.NoError(t, err)

	got := submitted()
	require.Len(t, got, 1)
	assert.Equal(t, "", got[0]["symbol"])
	assert.Equal(t, 0.0, got[0]["confidence"])
}

func TestCancelPublishesOnFirstSuccess(t *testing.T) {
	first := &fakeAdapter{name: "alpaca", cancelErr: errors.New("unknown order")}
	second := &fakeAdapter{name: "binance"}
	_, bus := newTestEngine(t, first, second)
	cancelled := collect(bus, events.OrderCancelled)

	err := bus.Publish(context.Background(), events.OrderCancel, events.Payload{"order_id": "oid-9"})
	require.NoError(t, err)

	got := cancelled()
	require.Len(t, got, 1)
	assert.Equal(t, "oid-9", got[0]["order_id"])
	assert.Equal(t, "binance", got[0]["venue"])
}

func TestCancelExhaustionIsSilent(t *testing.T) {
	first := &fakeAdapter{name: "alpaca", cancelErr: errors.New("no")}
	second := &fakeAdapter{name: "binance", cancelErr: errors.New("no")}
	_, bus := newTestEngine(t, first, second)
	cancelled := collect(bus, events.OrderCancelled)

	err := bus.Publish(context.Background(), events.OrderCancel, events.Payload{"order_id": "oid-9"})
	require.NoError(t, err)
	assert.Empty(t, cancelled(), "exhausted cancellation is dropped without a failure event")
}

func TestCredentialsUpdateTargetsOneVenue(t *testing.T) {
	alp := &fakeAdapter{name: "alpaca"}
	bin := &fakeAdapter{name: "binance"}
	_, bus := newTestEngine(t, alp, bin)

	err := bus.Publish(context.Background(), events.CredentialsUpdated, events.Payload{
		"venue":      "Binance",
		"api_key":    "new-key",
		"api_secret": "new-secret",
	})
	require.NoError(t, err)

	bin.mu.Lock()
	binKeys := append([]string(nil), bin.updateKeys...)
	binAuth := bin.authCalls
	bin.mu.Unlock()
	alp.mu.Lock()
	alpKeys := append([]string(nil), alp.updateKeys...)
	alp.mu.Unlock()

	assert.Equal(t, []string{"new-key"}, binKeys, "lookup is case-insensitive")
	assert.GreaterOrEqual(t, binAuth, 2, "adapter re-authenticates after the update")
	assert.Empty(t, alpKeys, "other venues keep their sessions")
}

func TestCredentialsUpdateUnknownVenueIgnored(t *testing.T) {
	alp := &fakeAdapter{name: "alpaca"}
	_, bus := newTestEngine(t, alp)

	err := bus.Publish(context.Background(), events.CredentialsUpdated, events.Payload{
		"venue": "kraken", "api_key": "k", "api_secret": "s",
	})
	require.NoError(t, err)
	alp.mu.Lock()
	defer alp.mu.Unlock()
	assert.Empty(t, alp.updateKeys)
}

func TestCredentialsUpdateNotSupportedIsBenign(t *testing.T) {
	a := &fakeAdapter{name: "legacy", updateErr: venue.ErrNotSupported}
	_, bus := newTestEngine(t, a)

	err := bus.Publish(context.Background(), events.CredentialsUpdated, events.Payload{
		"venue": "legacy", "api_key": "k", "api_secret": "s",
	})
	require.NoError(t, err)
}

func TestRoutingIsSerialized(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex

	blocker := &slowAdapter{
		name: "slow",
		onPlace: func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		},
	}
	_, bus := newTestEngine(t, blocker)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), events.SignalGenerated, events.Payload{
				"symbol": "DEMO", "side": "BUY", "confidence": 0.7,
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "order placement must hold the routing lock")
}

func TestPaperModeIsForced(t *testing.T) {
	eng := New(events.NewBus(nil), nil, Options{TradingMode: "live"})
	assert.True(t, eng.paperMode)
}

func TestSnapshotPositionsReturnsCopy(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeAdapter{name: "alpaca"})

	snap := eng.SnapshotPositions()
	assert.Empty(t, snap)
	snap["DEMO"] = Position{Symbol: "DEMO"}
	assert.Empty(t, eng.SnapshotPositions(), "mutating the snapshot must not leak into the engine")
}

// slowAdapter blocks in PlaceOrder to probe lock serialization.
type slowAdapter struct {
	fakeAdapter
	name    string
	onPlace func()
}

func (s *slowAdapter) Venue() string { return s.name }

func (s *slowAdapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResponse, error) {
	s.onPlace()
	return venue.OrderResponse{OrderID: "x", Status: "accepted"}, nil
}
