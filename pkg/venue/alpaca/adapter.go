// Package alpaca implements the equity venue adapter: a header-authenticated
// Alpaca-style paper trading REST API.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/pkg/venue"
)

const defaultHTTPTimeout = 10 * time.Second

// Config holds the equity venue endpoint and statically configured
// credentials. The credential store takes precedence over APIKey/APISecret.
type Config struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	HTTPTimeout time.Duration
}

type session struct {
	client    *http.Client
	apiKey    string
	apiSecret string
}

// Adapter is the equity venue variant.
type Adapter struct {
	restURL string
	creds   venue.CredentialSource
	logger  *zap.Logger

	mu        sync.Mutex
	apiKey    string
	apiSecret string
	sess      *session

	timeout time.Duration
	limiter *venue.RateLimiter
}

var _ venue.Adapter = (*Adapter)(nil)

// New creates the adapter. The session is opened lazily by Authenticate.
func New(cfg Config, creds venue.CredentialSource, logger *zap.Logger) *Adapter {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		restURL:   strings.TrimRight(cfg.BaseURL, "/"),
		creds:     creds,
		logger:    logger.With(zap.String("venue", "alpaca")),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		timeout:   cfg.HTTPTimeout,
		limiter:   venue.NewRateLimiter(200, time.Minute),
	}
}

// Venue returns "alpaca".
func (a *Adapter) Venue() string { return "alpaca" }

// Authenticate resolves the latest credentials (store first, static config as
// fallback) and lazily creates the session. Idempotent.
func (a *Adapter) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticateLocked()
}

func (a *Adapter) authenticateLocked() error {
	if a.creds != nil {
		storedKey, storedSecret, err := a.creds.Get(a.Venue())
		if err != nil {
			return &venue.AuthError{Venue: a.Venue(), Err: err}
		}
		if storedKey != "" {
			a.apiKey = storedKey
		}
		if storedSecret != "" {
			a.apiSecret = storedSecret
		}
	}
	if a.sess == nil {
		a.sess = &session{
			client:    &http.Client{Timeout: a.timeout},
			apiKey:    a.apiKey,
			apiSecret: a.apiSecret,
		}
		a.logger.Info("session initialised")
	}
	return nil
}

func (a *Adapter) currentSession() (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authenticateLocked(); err != nil {
		return nil, err
	}
	return a.sess, nil
}

// PlaceOrder translates the normalized request into the venue's JSON order
// payload and normalizes the acknowledgement.
func (a *Adapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResponse, error) {
	sess, err := a.currentSession()
	if err != nil {
		return venue.OrderResponse{}, err
	}

	payload := map[string]any{
		"symbol":        req.Symbol,
		"qty":           req.Quantity.String(),
		"side":          strings.ToLower(string(req.Side)),
		"type":          strings.ToLower(string(req.OrderType)),
		"time_in_force": strings.ToLower(string(req.TimeInForce)),
	}
	if req.ClientOrderID != "" {
		payload["client_order_id"] = req.ClientOrderID
	}
	for k, v := range req.Extra {
		payload[k] = v
	}

	raw, err := a.do(ctx, sess, http.MethodPost, "/orders", payload)
	if err != nil {
		return venue.OrderResponse{}, err
	}

	return venue.OrderResponse{
		OrderID:   asString(raw["id"]),
		Status:    asString(raw["status"]),
		FilledQty: asDecimal(raw["filled_qty"]),
		AvgPrice:  asDecimal(raw["filled_avg_price"]),
		Raw:       raw,
	}, nil
}

// CancelOrder requests cancellation of an open order by venue order id.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	sess, err := a.currentSession()
	if err != nil {
		return err
	}
	if _, err := a.do(ctx, sess, http.MethodDelete, "/orders/"+orderID, nil); err != nil {
		return err
	}
	a.logger.Info("cancelled order", zap.String("order_id", orderID))
	return nil
}

// FetchPositions returns open positions, omitting zero-quantity entries.
func (a *Adapter) FetchPositions(ctx context.Context) ([]venue.PositionSnapshot, error) {
	sess, err := a.currentSession()
	if err != nil {
		return nil, err
	}

	body, err := a.doRaw(ctx, sess, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &venue.VenueError{Venue: a.Venue(), StatusCode: http.StatusOK, Body: string(body)}
	}

	positions := make([]venue.PositionSnapshot, 0, len(entries))
	for _, entry := range entries {
		qty := asDecimal(entry["qty"])
		if qty.IsZero() {
			continue
		}
		positions = append(positions, venue.PositionSnapshot{
			Symbol:       asString(entry["symbol"]),
			Quantity:     qty,
			AveragePrice: asDecimal(entry["avg_entry_price"]),
			Venue:        a.Venue(),
		})
	}
	return positions, nil
}

// StreamMarketData is not provided by this variant; market data comes from
// the data provider module.
func (a *Adapter) StreamMarketData(ctx context.Context, symbol string) (<-chan venue.Tick, error) {
	return nil, venue.ErrNotSupported
}

// UpdateCredentials replaces the static credentials and invalidates the open
// session so the next operation re-authenticates.
func (a *Adapter) UpdateCredentials(ctx context.Context, apiKey, apiSecret string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiKey = apiKey
	a.apiSecret = apiSecret
	a.closeLocked()
	return nil
}

// Close releases the session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
	return nil
}

func (a *Adapter) closeLocked() {
	if a.sess != nil {
		a.sess.client.CloseIdleConnections()
		a.sess = nil
	}
}

func (a *Adapter) do(ctx context.Context, sess *session, method, path string, payload map[string]any) (map[string]any, error) {
	body, err := a.doRaw(ctx, sess, method, path, payload)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &venue.VenueError{Venue: a.Venue(), StatusCode: http.StatusOK, Body: string(body)}
	}
	return raw, nil
}

// doRaw issues the call with the session's auth headers. Non-success statuses
// surface as *venue.VenueError carrying the raw body.
func (a *Adapter) doRaw(ctx context.Context, sess *session, method, path string, payload map[string]any) ([]byte, error) {
	var body io.Reader
	if a.limiter.ShouldDelay() {
		used, limit, pct := a.limiter.Usage()
		a.logger.Warn("request budget nearly exhausted",
			zap.Int("used", used),
			zap.Int("limit", limit),
			zap.Float64("percentage", pct))
	}

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.restURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", sess.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", sess.apiSecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sess.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	a.limiter.UpdateFromHeader(resp.Header.Get("X-RateLimit-Used"))

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, &venue.VenueError{Venue: a.Venue(), StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(t)
	default:
		return decimal.Zero
	}
}
