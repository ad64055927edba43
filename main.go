package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/api"
	"github.com/Syklic/basictradingsoftware/internal/engine"
	"github.com/Syklic/basictradingsoftware/internal/events"
	"github.com/Syklic/basictradingsoftware/internal/market"
	"github.com/Syklic/basictradingsoftware/internal/monitor"
	"github.com/Syklic/basictradingsoftware/internal/staking"
	"github.com/Syklic/basictradingsoftware/internal/strategy"
	"github.com/Syklic/basictradingsoftware/pkg/config"
	"github.com/Syklic/basictradingsoftware/pkg/credentials"
	"github.com/Syklic/basictradingsoftware/pkg/instance"
	"github.com/Syklic/basictradingsoftware/pkg/logger"
	"github.com/Syklic/basictradingsoftware/pkg/venue"
	"github.com/Syklic/basictradingsoftware/pkg/venue/alpaca"
	"github.com/Syklic/basictradingsoftware/pkg/venue/binance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	zl, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	instanceID, err := instance.ID()
	if err != nil {
		zl.Warn("machine id unavailable", zap.Error(err))
		instanceID = "unknown"
	}
	zl.Info("starting",
		zap.String("version", buildVersion),
		zap.String("instance_id", instanceID),
		zap.String("mode", cfg.TradingMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus(zl)

	store, err := credentials.Open(cfg.CredentialsDBPath, cfg.EncryptionKey, zl)
	if err != nil {
		zl.Fatal("credential store init failed", zap.Error(err))
	}
	defer store.Close()

	adapters, venueNames := buildAdapters(cfg, store, zl)
	if len(adapters) == 0 {
		zl.Fatal("no venues configured")
	}
	zl.Info("venues configured", zap.Strings("venues", venueNames))

	sysMetrics := monitor.NewSystemMetrics()

	eng := engine.New(bus, adapters, engine.Options{
		TradingMode: cfg.TradingMode,
		CallTimeout: cfg.VenueCallTimeout,
		Metrics:     sysMetrics,
		Logger:      zl,
	})
	if err := eng.Start(ctx); err != nil {
		zl.Fatal("engine start failed", zap.Error(err))
	}
	defer eng.Stop()

	alerts := monitor.NewAlertMonitor(bus, monitor.LogSink{Logger: zl})
	alerts.Start(ctx)
	defer alerts.Stop()

	// Staking workflow (crypto venues only)
	if cfg.CryptoStakingEnabled {
		stakingSvc := staking.NewService(bus, staking.Config{
			Provider:     cfg.StakingProvider,
			APIBaseURL:   cfg.StakingAPIBaseURL,
			CooldownDays: cfg.StakingCooldownDays,
			AutoCompound: cfg.StakingAutoCompound,
		}, zl)
		if err := stakingSvc.Start(ctx); err != nil {
			zl.Fatal("staking start failed", zap.Error(err))
		}
		defer stakingSvc.Stop()
	}

	// Demo signal producer
	producer := strategy.NewProducer(bus, cfg.StrategySymbol, cfg.StrategyModelName, cfg.StrategyInterval, zl)
	producer.Start(ctx)

	// Synthetic quote feed for the dashboard stream
	provider := market.NewLiveDataProvider(zl)
	go pumpQuotes(ctx, bus, provider.StreamQuotes(ctx, cfg.StrategySymbol), zl)

	// API
	server := api.NewServer(
		bus, eng, store, sysMetrics, zl,
		cfg.JWTSecret,
		api.AdminUser{Username: cfg.AdminUser, PasswordHash: cfg.AdminPasswordHash},
		api.SystemMeta{
			TradingMode: cfg.TradingMode,
			Venues:      venueNames,
			Symbol:      cfg.StrategySymbol,
			Model:       cfg.StrategyModelName,
			InstanceID:  instanceID,
			Version:     buildVersion,
			StartedAt:   time.Now(),
		},
	)
	go func() {
		if err := server.Start(":" + cfg.HTTPPort); err != nil {
			zl.Fatal("api server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	zl.Info("shutting down")
	cancel()

	for _, a := range adapters {
		if err := a.Close(); err != nil {
			zl.Warn("adapter close failed", zap.String("venue", a.Venue()), zap.Error(err))
		}
	}
}

// buildAdapters assembles the routing order from venues.yaml when present,
// otherwise from the env-configured equity/crypto pair.
func buildAdapters(cfg *config.Config, store *credentials.Store, zl *zap.Logger) ([]venue.Adapter, []string) {
	venues, err := config.LoadVenues(cfg.VenuesConfigPath)
	if err != nil {
		zl.Fatal("venues config invalid", zap.String("path", cfg.VenuesConfigPath), zap.Error(err))
	}

	// Signed requests carry a client timestamp the venue validates against its
	// own clock, so align with the server before the first order goes out.
	newCrypto := func(c binance.Config) venue.Adapter {
		b := binance.New(c, store, zl)
		if err := b.SyncTime(); err != nil {
			zl.Warn("venue clock sync failed", zap.String("venue", b.Venue()), zap.Error(err))
		}
		return b
	}

	var adapters []venue.Adapter
	for _, v := range venues {
		switch v.Kind {
		case "equity":
			adapters = append(adapters, alpaca.New(alpaca.Config{
				BaseURL:   v.BaseURL,
				APIKey:    cfg.EquityAPIKey,
				APISecret: cfg.EquityAPISecret,
			}, store, zl))
		case "crypto":
			adapters = append(adapters, newCrypto(binance.Config{
				Name:         v.Name,
				RESTBaseURL:  v.BaseURL,
				WebsocketURL: v.WebsocketURL,
				APIKey:       cfg.CryptoAPIKey,
				APISecret:    cfg.CryptoAPISecret,
			}))
		default:
			zl.Warn("unknown venue kind, skipping",
				zap.String("venue", v.Name), zap.String("kind", v.Kind))
		}
	}

	if len(adapters) == 0 {
		adapters = []venue.Adapter{
			alpaca.New(alpaca.Config{
				BaseURL:   cfg.EquityBaseURL,
				APIKey:    cfg.EquityAPIKey,
				APISecret: cfg.EquityAPISecret,
			}, store, zl),
			newCrypto(binance.Config{
				Name:         cfg.CryptoName,
				RESTBaseURL:  cfg.CryptoRESTBaseURL,
				WebsocketURL: cfg.CryptoWebsocketURL,
				APIKey:       cfg.CryptoAPIKey,
				APISecret:    cfg.CryptoAPISecret,
			}),
		}
	}

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Venue())
	}
	return adapters, names
}

// pumpQuotes republishes synthetic quotes onto the bus for websocket clients.
func pumpQuotes(ctx context.Context, bus *events.Bus, quotes <-chan market.Quote, zl *zap.Logger) {
	for q := range quotes {
		err := bus.Publish(ctx, events.MarketTick, events.Payload{
			"symbol":    q.Symbol,
			"last":      q.Last,
			"bid":       q.Bid,
			"ask":       q.Ask,
			"timestamp": q.Timestamp,
		})
		if err != nil {
			zl.Debug("tick delivery failed", zap.Error(err))
		}
	}
}
