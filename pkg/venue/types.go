// Package venue defines the capability contract that normalizes heterogeneous
// broker and exchange protocols behind one adapter interface.
package venue

import (
	"context"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderRequest captures a normalized order intent. It is immutable once
// constructed; adapters translate it to venue-native wire parameters.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	OrderType     OrderType
	TimeInForce   TimeInForce
	ClientOrderID string
	Extra         map[string]string
}

// OrderResponse is the venue acknowledgement normalized into one shape. Raw
// keeps the venue-native response body for fields the normalization drops.
type OrderResponse struct {
	OrderID   string
	Status    string
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal // zero when the venue does not report it
	Raw       map[string]any
}

// PositionSnapshot is one normalized open position.
type PositionSnapshot struct {
	Symbol       string
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	Venue        string
}

// Tick is one venue-native market data message.
type Tick map[string]any

// Adapter is the capability contract every venue variant implements. Variants
// that cannot provide a capability return ErrNotSupported rather than
// pretending to succeed.
type Adapter interface {
	// Venue returns the venue identifier (e.g. "alpaca", "binance").
	Venue() string

	// Authenticate resolves credentials (store takes precedence over static
	// configuration) and lazily opens the network session. It is idempotent
	// and safe to call before every operation.
	Authenticate(ctx context.Context) error

	// PlaceOrder submits an order and normalizes the venue response.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)

	// CancelOrder requests cancellation of an open order; best effort.
	CancelOrder(ctx context.Context, orderID string) error

	// FetchPositions returns open positions, omitting zero-quantity entries.
	FetchPositions(ctx context.Context) ([]PositionSnapshot, error)

	// StreamMarketData produces an unbounded tick stream for symbol. The
	// channel closes when ctx is cancelled or the connection drops.
	StreamMarketData(ctx context.Context, symbol string) (<-chan Tick, error)

	// UpdateCredentials invalidates the session so the next operation
	// re-authenticates with the new material. It does not contact the venue.
	UpdateCredentials(ctx context.Context, apiKey, apiSecret string) error

	// Close releases the adapter's session, if any.
	Close() error
}

// CredentialSource is the keyed lookup contract adapters consume. Venue names
// are matched case-insensitively by the store.
type CredentialSource interface {
	Get(venue string) (apiKey, apiSecret string, err error)
}
