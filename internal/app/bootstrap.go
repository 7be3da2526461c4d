package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"perp_exec/internal/api"
	"perp_exec/internal/domain"
	"perp_exec/internal/execution"
	"perp_exec/internal/infra"
	"perp_exec/internal/infra/extended"
	"perp_exec/internal/infra/paper"
	"perp_exec/internal/infra/storage"
	"perp_exec/internal/position"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config    *infra.Config
	Storage   *storage.Storage
	Metrics   *infra.Metrics
	Feed      *extended.PriceFeed
	Gateway   domain.Gateway
	Paper     *paper.Gateway
	Positions *position.View
	Guard     *execution.SymbolGuard

	Entry   *execution.EntryEngine
	Exit    *execution.ExitEngine
	Monitor *execution.PnLMonitor
	API     *api.Server

	stopProfiler func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath, stopProfiler: func() {}}
}

// Initialize loads config and builds every component. Nothing touches the network yet.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping perp-exec...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Profiler (optional)
	stop, err := infra.StartProfiler(cfg)
	if err != nil {
		slog.Warn("Profiler disabled", slog.Any("error", err))
	} else {
		b.stopProfiler = stop
	}

	// 4. Storage (execution journal)
	store, err := storage.NewStorage(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))

	b.Metrics = infra.NewMetrics()
	b.Guard = execution.NewSymbolGuard()

	// 5. Price feed, with the paper venue matching on every quote
	feedOpts := []extended.FeedOption{extended.WithMetrics(b.Metrics)}
	if cfg.Paper.Enabled {
		feedOpts = append(feedOpts, extended.WithOnQuote(func(q domain.Quote) {
			if b.Paper != nil {
				b.Paper.Match(q)
			}
		}))
	}
	b.Feed = extended.NewPriceFeed(extended.FeedConfig{
		Host:          cfg.Exchange.WSHost,
		Symbol:        cfg.Trading.Symbol,
		APIKey:        cfg.Exchange.APIKey,
		UserAgent:     infra.DefaultUserAgent,
		ReconnectBase: time.Duration(cfg.Feed.ReconnectBaseMS) * time.Millisecond,
		ReconnectMax:  time.Duration(cfg.Feed.ReconnectMaxMS) * time.Millisecond,
	}, feedOpts...)

	// 6. Gateway
	if cfg.Paper.Enabled {
		b.Paper = paper.NewGateway(b.Feed)
		b.Gateway = b.Paper
		slog.Warn("📝 Paper trading enabled: orders are simulated")
	} else {
		b.Gateway = extended.NewClient(extended.ClientConfig{
			BaseURL:   cfg.Exchange.RestURL,
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			UserAgent: infra.DefaultUserAgent,
		})
	}
	b.Positions = position.NewView(b.Gateway)

	// 7. Engines
	deps := execution.Deps{
		Gateway:   b.Gateway,
		Quotes:    b.Feed,
		Positions: b.Positions,
		Journal:   b.Storage,
		Metrics:   b.Metrics,
		Guard:     b.Guard,
	}
	ecfg := ExecutionConfig(cfg)
	b.Entry = execution.NewEntryEngine(ecfg, deps)
	b.Exit = execution.NewExitEngine(ecfg, deps)
	b.Monitor = execution.NewPnLMonitor(ecfg, deps, b.Exit)

	// 8. Status API (optional)
	if cfg.Server.Addr != "" {
		b.API = api.NewServer(cfg.Server.Addr, cfg.Trading.Symbol, b.Feed, b.Positions, b.Storage, b.Metrics.Handler())
	}

	return nil
}

// ExecutionConfig maps the file config onto the engine tunables.
// Offsets are configured in percent and converted to fractions here.
func ExecutionConfig(cfg *infra.Config) execution.Config {
	ec := execution.DefaultConfig(cfg.Trading.Symbol)
	ec.Spec = cfg.SymbolSpec()
	ec.Leverage = cfg.Trading.Leverage
	ec.EntryMaxAttempts = cfg.Execution.EntryMaxAttempts
	ec.ExitMaxAttempts = cfg.Execution.ExitMaxAttempts
	if cfg.Execution.QuoteWaitLimit > 0 {
		ec.QuoteWaitLimit = cfg.Execution.QuoteWaitLimit
	}
	ec.LoopSleep = cfg.LoopSleep()
	ec.Dwell = cfg.Dwell()
	if cfg.Execution.FillGraceMS > 0 {
		ec.FillGrace = time.Duration(cfg.Execution.FillGraceMS) * time.Millisecond
	}
	if cfg.Execution.SettleMS > 0 {
		ec.Settle = time.Duration(cfg.Execution.SettleMS) * time.Millisecond
	}
	if cfg.Execution.ExitOffsetPct.IsPositive() {
		ec.ExitOffset = cfg.Execution.ExitOffsetPct.Div(hundred)
	}
	if cfg.Execution.MarketOffsetPct.IsPositive() {
		ec.MarketOffset = cfg.Execution.MarketOffsetPct.Div(hundred)
	}
	return ec
}

// Thresholds returns the configured take-profit / stop-loss pair.
func (b *Bootstrap) Thresholds() domain.PnLThresholds {
	return domain.NewPnLThresholds(b.Config.Trading.TakeProfitPct, b.Config.Trading.StopLossPct)
}

// Start connects the feed, waits for the first quote and starts the status API.
// A feed that is not ready within the timeout is logged, not fatal: it keeps retrying.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	timeout := time.Duration(b.Config.Feed.ReadyTimeoutSec) * time.Second
	if b.Feed.AwaitFresh(ctx, timeout) {
		q, _ := b.Feed.CurrentQuote()
		slog.Info("✅ Price feed ready",
			slog.String("bid", q.Bid.String()),
			slog.String("ask", q.Ask.String()),
		)
	} else {
		slog.Warn("⚠️ Price feed not ready yet", slog.Duration("waited", timeout))
	}

	if b.API != nil {
		go func() {
			if err := b.API.Start(); err != nil {
				slog.Error("Status API failed", slog.Any("error", err))
			}
		}()
	}
	return nil
}

// Shutdown releases everything Start and Initialize acquired.
func (b *Bootstrap) Shutdown() {
	if b.API != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.API.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("Status API shutdown", slog.Any("error", err))
		}
		cancel()
	}
	if b.Feed != nil {
		b.Feed.Stop()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Storage close", slog.Any("error", err))
		}
	}
	b.stopProfiler()
}
