package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syklic/basictradingsoftware/internal/engine"
	"github.com/Syklic/basictradingsoftware/internal/events"
	"github.com/Syklic/basictradingsoftware/internal/monitor"
	"github.com/Syklic/basictradingsoftware/pkg/credentials"
)

const testJWTSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus(nil)
	eng := engine.New(bus, nil, engine.Options{})

	store, err := credentials.Open(filepath.Join(t.TempDir(), "creds.db"), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	srv := NewServer(bus, eng, store, monitor.NewSystemMetrics(), nil, testJWTSecret,
		AdminUser{Username: "admin", PasswordHash: hash},
		SystemMeta{
			TradingMode: "paper",
			Venues:      []string{"alpaca", "binance"},
			Symbol:      "DEMO",
			InstanceID:  "test-instance",
			Version:     "test",
			StartedAt:   time.Now(),
		})
	return srv, bus
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealthReportsInstance(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test-instance", resp["instance_id"])
}

func TestSystemStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/system/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "paper", resp["mode"])
	assert.Equal(t, []any{"alpaca", "binance"}, resp["venues"])
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/positions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/positions", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := loginToken(t, srv)
	w = doJSON(t, srv, http.MethodGet, "/api/positions", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPostSignalPublishes(t *testing.T) {
	srv, bus := newTestServer(t)
	token := loginToken(t, srv)

	var mu sync.Mutex
	var got []events.Payload
	bus.Subscribe(events.SignalGenerated, func(ctx context.Context, p events.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
		return nil
	})

	w := doJSON(t, srv, http.MethodPost, "/api/signals", token, map[string]any{
		"symbol":     "demo",
		"side":       "buy",
		"confidence": 0.73,
		"model":      "lstm",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "DEMO", got[0]["symbol"])
	assert.Equal(t, "BUY", got[0]["side"])
	assert.Equal(t, 0.73, got[0]["confidence"])
}

func TestPostSignalValidatesPayload(t *testing.T) {
	srv, _ := newTestServer(t)
	token := loginToken(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/signals", token, map[string]any{
		"symbol": "DEMO",
		"side":   "HOLD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutCredentialsPersistsAndNotifies(t *testing.T) {
	srv, bus := newTestServer(t)
	token := loginToken(t, srv)

	var mu sync.Mutex
	var got []events.Payload
	bus.Subscribe(events.CredentialsUpdated, func(ctx context.Context, p events.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
		return nil
	})

	w := doJSON(t, srv, http.MethodPut, "/api/credentials/Binance", token, map[string]string{
		"api_key":    "new-key",
		"api_secret": "new-secret",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	key, secret, err := srv.Store.Get("binance")
	require.NoError(t, err)
	assert.Equal(t, "new-key", key)
	assert.Equal(t, "new-secret", secret)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "binance", got[0]["venue"], "venue is lowercased")
	assert.Equal(t, "new-key", got[0]["api_key"])
}

func TestStakeEndpointsPublish(t *testing.T) {
	srv, bus := newTestServer(t)
	token := loginToken(t, srv)

	var mu sync.Mutex
	counts := map[string]int{}
	record := func(eventType string) {
		bus.Subscribe(eventType, func(ctx context.Context, p events.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			counts[eventType]++
			return nil
		})
	}
	record(events.StakingRequested)
	record(events.StakingUnstakeRequested)

	w := doJSON(t, srv, http.MethodPost, "/api/staking/stake", token, map[string]string{
		"asset": "eth", "amount": "2.5",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/staking/unstake", token, map[string]string{
		"asset": "eth", "amount": "1",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts[events.StakingRequested])
	assert.Equal(t, 1, counts[events.StakingUnstakeRequested])
}

func TestCancelOrderPublishes(t *testing.T) {
	srv, bus := newTestServer(t)
	token := loginToken(t, srv)

	var mu sync.Mutex
	var got []events.Payload
	bus.Subscribe(events.OrderCancel, func(ctx context.Context, p events.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
		return nil
	})

	w := doJSON(t, srv, http.MethodPost, "/api/orders/oid-42/cancel", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "oid-42", got[0]["order_id"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "api_requests")
	assert.Contains(t, resp, "uptime_seconds")
}
