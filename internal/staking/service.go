// Package staking handles the stake/unstake workflow for supported providers.
// It mirrors the engine's pattern: subscribe, serialize under a lock, and
// republish position updates.
package staking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/events"
)

// aprTimeout bounds the provider APR lookup; this is the one external call
// with a built-in timeout.
const aprTimeout = 5 * time.Second

// Position describes one staking position reported to the dashboard.
type Position struct {
	Asset    string
	Amount   decimal.Decimal
	APR      float64
	Provider string
	Status   string
}

// Config holds the staking provider settings.
type Config struct {
	Provider     string
	APIBaseURL   string
	CooldownDays int
	AutoCompound bool
}

// Service subscribes to staking requests and publishes position updates.
type Service struct {
	bus          *events.Bus
	provider     string
	baseURL      string
	cooldownDays int
	autoCompound bool

	client *http.Client
	mu     sync.Mutex
	logger *zap.Logger
	subs   []*events.Subscription
}

// NewService creates the staking service.
func NewService(bus *events.Bus, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bus:          bus,
		provider:     cfg.Provider,
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		cooldownDays: cfg.CooldownDays,
		autoCompound: cfg.AutoCompound,
		client:       &http.Client{Timeout: aprTimeout},
		logger:       logger,
	}
}

// Start registers the service on the bus.
func (s *Service) Start(ctx context.Context) error {
	s.subs = append(s.subs,
		s.bus.Subscribe(events.StakingRequested, s.onStakeRequested),
		s.bus.Subscribe(events.StakingUnstakeRequested, s.onUnstakeRequested),
	)
	s.logger.Info("staking service ready", zap.String("provider", s.provider))
	return nil
}

// Stop detaches the service from the bus and releases its connections.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	s.subs = nil
	s.client.CloseIdleConnections()
}

func (s *Service) onStakeRequested(ctx context.Context, payload events.Payload) error {
	asset := asString(payload["asset"])
	amount := asDecimal(payload["amount"])

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("staking",
		zap.String("asset", asset), zap.String("amount", amount.String()))

	pos := Position{
		Asset:    asset,
		Amount:   amount,
		APR:      s.fetchCurrentAPR(ctx, asset),
		Provider: s.provider,
		Status:   "staked",
	}
	return s.publishUpdate(ctx, pos)
}

func (s *Service) onUnstakeRequested(ctx context.Context, payload events.Payload) error {
	asset := asString(payload["asset"])
	amount := asDecimal(payload["amount"])

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("unstaking",
		zap.String("asset", asset), zap.String("amount", amount.String()))

	pos := Position{
		Asset:    asset,
		Amount:   amount,
		APR:      s.fetchCurrentAPR(ctx, asset),
		Provider: s.provider,
		Status:   fmt.Sprintf("cooldown (%dd)", s.cooldownDays),
	}
	return s.publishUpdate(ctx, pos)
}

func (s *Service) publishUpdate(ctx context.Context, pos Position) error {
	err := s.bus.Publish(ctx, events.StakingPositionUpdated, events.Payload{
		"asset":    pos.Asset,
		"amount":   pos.Amount,
		"apr":      pos.APR,
		"provider": pos.Provider,
		"status":   pos.Status,
	})
	if err != nil {
		s.logger.Error("staking.position_updated delivery failed", zap.Error(err))
	}
	return nil
}

// fetchCurrentAPR asks the provider for the asset's current APR. Failures
// default to 0 so staking requests still complete.
func (s *Service) fetchCurrentAPR(ctx context.Context, asset string) float64 {
	url := s.baseURL + "/apr/" + strings.ToLower(asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("APR fetch failed; defaulting to 0", zap.Error(err))
		return 0
	}
	defer resp.Body.Close()

	var data struct {
		APR float64 `json:"apr"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		s.logger.Warn("APR response unparseable; defaulting to 0", zap.Error(err))
		return 0
	}
	return data.APR
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case decimal.Decimal:
		return t
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
