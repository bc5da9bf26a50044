package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"option_bot/internal/broker"
	"option_bot/internal/domain"
	"option_bot/internal/engine"
	"option_bot/internal/feed"
	"option_bot/internal/gate"
	"option_bot/internal/infra"
	"option_bot/internal/infra/storage"
	"option_bot/internal/pricing"
	"option_bot/internal/risk"
	"option_bot/internal/scorer"
	"option_bot/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config      *infra.Config
	Storage     *storage.Storage
	Broker      domain.Broker
	Guard       *risk.Guard
	Book        *engine.Book
	Coordinator *engine.Coordinator
	Reconciler  *engine.Reconciler
	Feed        *feed.Worker
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logging, storage
// and the full decision pipeline. Startup reconciliation runs separately so
// the caller controls when quote intake begins.
func (b *Bootstrap) Initialize() error {
	slog.Info("Bootstrapping Option Bot...")

	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := storage.NewStorage("")
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized")

	b.Broker, err = buildBroker(cfg)
	if err != nil {
		return err
	}
	slog.Info("Broker ready", slog.String("mode", cfg.API.Broker.Mode))

	b.Guard = risk.NewGuard(risk.Limits{
		MaxNotionalPerSymbol:   cfg.Trading.MaxNotionalPerSymbol,
		MaxOpenOrdersPerSymbol: cfg.Trading.MaxOpenOrdersPerSymbol,
		Cooldown:               cfg.Cooldown(),
	})
	b.Book = engine.NewBook(store, b.Guard.NotifyClosed)

	signalGate := gate.New(
		buildScorer(cfg),
		cfg.ScorerTimeout(),
		cfg.StalenessBudget(),
	)

	b.Coordinator = engine.NewCoordinator(
		pricing.NewEngine(cfg.Trading.RiskFreeRate),
		signalGate,
		b.Guard,
		b.Book,
		b.Broker,
		engine.RetryPolicy{
			MaxAttempts: cfg.Trading.Retry.MaxAttempts,
			Backoff:     cfg.RetryBackoff(),
		},
		cfg.Trading.Workers,
		1024,
		cfg.Trading.DefaultOrderQty,
	)
	b.Reconciler = engine.NewReconciler(b.Book, b.Broker.Events())

	b.Feed = feed.NewWorker(
		cfg.API.Feed.WSURL,
		cfg.API.Feed.APIKey,
		cfg.API.Feed.Symbols,
		b.Coordinator.Inbox(),
	)

	return nil
}

func buildScorer(cfg *infra.Config) domain.Scorer {
	if cfg.API.Scorer.Mode == "builtin" {
		// Rule-based fallback when no model server is deployed.
		return strategy.NewIVReversionScorer(32, 0.15)
	}
	return scorer.NewClient(cfg.API.Scorer.URL)
}

func buildBroker(cfg *infra.Config) (domain.Broker, error) {
	switch cfg.API.Broker.Mode {
	case "sim":
		return broker.NewSimBroker(), nil
	case "live":
		if cfg.API.Broker.URL == "" {
			return nil, fmt.Errorf("live broker requires api.broker.url")
		}
		return broker.NewHTTPBroker(
			cfg.API.Broker.URL,
			cfg.API.Broker.AccessKey,
			cfg.API.Broker.SecretKey,
		), nil
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.API.Broker.Mode)
	}
}

// Reconcile converges persisted and broker state before trading starts.
func (b *Bootstrap) Reconcile(ctx context.Context) error {
	return b.Coordinator.Reconcile(ctx, b.Storage)
}

// StartMetricsReporter periodically logs a metrics snapshot.
func (b *Bootstrap) StartMetricsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := infra.GlobalMetrics.Snapshot()
				slog.Info("Metrics",
					slog.Uint64("quotes", snap.QuotesProcessed),
					slog.Uint64("malformed", snap.QuotesMalformed),
					slog.Uint64("dropped", snap.QuotesDropped),
					slog.Uint64("signals", snap.SignalsScored),
					slog.Uint64("stale", snap.SignalsStale),
					slog.Uint64("denied", snap.OrdersDenied),
					slog.Uint64("submitted", snap.OrdersSubmitted),
					slog.Uint64("filled", snap.OrdersFilled),
					slog.Uint64("failed", snap.OrdersFailed),
					slog.Int64("avg_latency_us", snap.AvgLatencyNs/1000),
					slog.Int("open_orders", int(snap.OpenOrders)),
				)
			}
		}
	}()
}
