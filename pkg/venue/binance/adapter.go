// Package binance implements the crypto venue adapter: a signed Binance-style
// spot REST API plus public websocket market data.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/pkg/venue"
)

const defaultHTTPTimeout = 10 * time.Second

// Config holds the crypto venue endpoints and statically configured
// credentials. The credential store takes precedence over APIKey/APISecret.
type Config struct {
	Name         string // venue identifier, defaults to "binance"
	RESTBaseURL  string
	WebsocketURL string
	APIKey       string
	APISecret    string
	HTTPTimeout  time.Duration
}

// session is the adapter's authenticated network context. It is either absent
// or fully initialized; callers never observe a partial session.
type session struct {
	client    *http.Client
	apiKey    string
	apiSecret string
}

// Adapter is the crypto venue variant.
type Adapter struct {
	name    string
	restURL string
	wsURL   string
	creds   venue.CredentialSource
	logger  *zap.Logger

	mu        sync.Mutex
	apiKey    string
	apiSecret string
	sess      *session

	timeout  time.Duration
	limiter  *venue.RateLimiter
	timeSync *venue.TimeSync
	dialer   *websocket.Dialer
}

var _ venue.Adapter = (*Adapter)(nil)

// New creates the adapter. The session is opened lazily by Authenticate.
func New(cfg Config, creds venue.CredentialSource, logger *zap.Logger) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "binance"
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		name:      cfg.Name,
		restURL:   strings.TrimRight(cfg.RESTBaseURL, "/"),
		wsURL:     cfg.WebsocketURL,
		creds:     creds,
		logger:    logger.With(zap.String("venue", cfg.Name)),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		timeout:   cfg.HTTPTimeout,
		limiter:   venue.NewRateLimiter(1200, time.Minute),
		dialer:    websocket.DefaultDialer,
	}
	a.timeSync = venue.NewTimeSync(a.getServerTime)
	return a
}

// Venue returns the configured venue identifier.
func (a *Adapter) Venue() string { return a.name }

// Authenticate resolves the latest credentials (store first, static config as
// fallback) and lazily creates the session. Calling it repeatedly without an
// intervening credential update reuses the existing session.
func (a *Adapter) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticateLocked()
}

func (a *Adapter) authenticateLocked() error {
	if a.creds != nil {
		storedKey, storedSecret, err := a.creds.Get(a.name)
		if err != nil {
			return &venue.AuthError{Venue: a.name, Err: err}
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

// currentSession authenticates if needed and returns the live session.
func (a *Adapter) currentSession(ctx context.Context) (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.authenticateLocked(); err != nil {
		return nil, err
	}
	return a.sess, nil
}

// PlaceOrder translates the normalized request into Binance wire parameters,
// signs it, and normalizes the acknowledgement.
func (a *Adapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResponse, error) {
	sess, err := a.currentSession(ctx)
	if err != nil {
		return venue.OrderResponse{}, err
	}

	params := map[string]string{
		"symbol":    strings.ToUpper(req.Symbol),
		"side":      strings.ToUpper(string(req.Side)),
		"type":      strings.ToUpper(string(req.OrderType)),
		"quantity":  req.Quantity.String(),
		"timestamp": a.timestamp(),
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}
	for k, v := range req.Extra {
		params[k] = v
	}

	raw, err := a.doSigned(ctx, sess, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return venue.OrderResponse{}, err
	}

	return venue.OrderResponse{
		OrderID:   asString(raw["orderId"]),
		Status:    asString(raw["status"]),
		FilledQty: asDecimal(raw["executedQty"]),
		AvgPrice:  asDecimal(raw["price"]),
		Raw:       raw,
	}, nil
}

// CancelOrder requests cancellation of an open order by venue order id.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	sess, err := a.currentSession(ctx)
	if err != nil {
		return err
	}
	params := map[string]string{
		"orderId":   orderID,
		"timestamp": a.timestamp(),
	}
	if _, err := a.doSigned(ctx, sess, http.MethodDelete, "/api/v3/order", params); err != nil {
		return err
	}
	a.logger.Info("cancelled order", zap.String("order_id", orderID))
	return nil
}

// FetchPositions reports spot balances as positions, omitting assets whose
// free+locked quantity is exactly zero.
func (a *Adapter) FetchPositions(ctx context.Context) ([]venue.PositionSnapshot, error) {
	sess, err := a.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	params := map[string]string{"timestamp": a.timestamp()}
	raw, err := a.doSigned(ctx, sess, http.MethodGet, "/api/v3/account", params)
	if err != nil {
		return nil, err
	}

	balances, _ := raw["balances"].([]any)
	positions := make([]venue.PositionSnapshot, 0, len(balances))
	for _, entry := range balances {
		b, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		qty := asDecimal(b["free"]).Add(asDecimal(b["locked"]))
		if qty.IsZero() {
			continue
		}
		positions = append(positions, venue.PositionSnapshot{
			Symbol:       asString(b["asset"]),
			Quantity:     qty,
			AveragePrice: decimal.Zero,
			Venue:        a.name,
		})
	}
	return positions, nil
}

// StreamMarketData subscribes to the public ticker stream for symbol and
// returns an unbounded sequence of ticks. The channel closes when ctx is
// cancelled or the connection drops.
func (a *Adapter) StreamMarketData(ctx context.Context, symbol string) (<-chan venue.Tick, error) {
	if err := a.Authenticate(ctx); err != nil {
		return nil, err
	}

	stream := strings.ToLower(symbol) + "@ticker"
	conn, _, err := a.dialer.DialContext(ctx, a.wsURL+"/"+stream, nil)
	if err != nil {
		return nil, &venue.AuthError{Venue: a.name, Err: err}
	}

	out := make(chan venue.Tick, 100)
	readerDone := make(chan struct{})

	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-readerDone:
		}
		closeConn()
	}()

	// Only the reader closes out: a send may still be pending when ctx is
	// cancelled, and closing under a pending send panics.
	go func() {
		defer close(out)
		defer close(readerDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				a.logger.Warn("websocket read failed", zap.Error(err))
				return
			}
			var tick venue.Tick
			if err := json.Unmarshal(msg, &tick); err != nil {
				a.logger.Warn("websocket message unparseable", zap.Error(err))
				continue
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// UpdateCredentials replaces the static credentials and invalidates the open
// session so the next operation re-authenticates. It never contacts the venue.
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

// doSigned appends the request signature, issues the call, and decodes the
// venue response. Non-success statuses and malformed bodies surface as
// *venue.VenueError carrying the raw body.
func (a *Adapter) doSigned(ctx context.Context, sess *session, method, path string, params map[string]string) (map[string]any, error) {
	if a.limiter.ShouldDelay() {
		used, limit, pct := a.limiter.Usage()
		a.logger.Warn("request weight budget nearly exhausted",
			zap.Int("used", used),
			zap.Int("limit", limit),
			zap.Float64("percentage", pct))
	}

	params["signature"] = sign(params, sess.apiSecret)

	url := a.restURL + path + "?" + sortedQuery(params)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", sess.apiKey)

	resp, err := sess.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	a.limiter.UpdateFromHeader(resp.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, &venue.VenueError{Venue: a.name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &venue.VenueError{Venue: a.name, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return raw, nil
}

func (a *Adapter) timestamp() string {
	ms := time.Now().UnixMilli()
	if a.timeSync.Offset() != 0 {
		ms = a.timeSync.Now()
	}
	return strconv.FormatInt(ms, 10)
}

// getServerTime fetches the venue clock for time synchronization.
func (a *Adapter) getServerTime() (int64, error) {
	client := &http.Client{Timeout: a.timeout}
	resp, err := client.Get(a.restURL + "/api/v3/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return 0, &venue.VenueError{Venue: a.name, StatusCode: resp.StatusCode, Body: string(body)}
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// SyncTime refreshes the server clock offset used for signed timestamps.
func (a *Adapter) SyncTime() error { return a.timeSync.Sync() }

// sortedQuery joins parameters as k=v pairs sorted by key name.
func sortedQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// sign computes the HMAC-SHA256 signature over the key-sorted query string,
// excluding the signature parameter itself.
func sign(params map[string]string, secret string) string {
	unsigned := make(map[string]string, len(params))
	for k, v := range params {
		if k == "signature" {
			continue
		}
		unsigned[k] = v
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(sortedQuery(unsigned)))
	return hex.EncodeToString(h.Sum(nil))
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return decimal.NewFromFloat(t).String()
	case nil:
		return ""
	default:
		return ""
	}
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
