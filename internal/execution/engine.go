// Package execution drives a position toward a target state with bounded,
// passive-first limit order loops.
package execution

import (
	"context"
	"log/slog"
	"time"

	"perp_exec/internal/domain"
	"perp_exec/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds the tunables shared by the engines.
type Config struct {
	Symbol   string
	Spec     domain.SymbolSpec
	Leverage int

	EntryMaxAttempts int
	ExitMaxAttempts  int
	QuoteWaitLimit   int // consecutive quote-unavailable waits tolerated

	LoopSleep time.Duration // between attempts
	Dwell     time.Duration // order rest time before checking
	FillGrace time.Duration // settle after a fill or a cancel
	Settle    time.Duration // settle after the market-fallback order

	ExitOffset   decimal.Decimal // fraction through the touch for closing limits
	MarketOffset decimal.Decimal // fraction through the touch for the fallback order
}

// DefaultConfig returns the stock tunables for symbol.
func DefaultConfig(symbol string) Config {
	loop := 2 * time.Second
	return Config{
		Symbol:           symbol,
		Spec:             domain.DefaultSymbolSpec(symbol),
		Leverage:         2,
		EntryMaxAttempts: 10,
		ExitMaxAttempts:  20,
		QuoteWaitLimit:   30,
		LoopSleep:        loop,
		Dwell:            2 * loop,
		FillGrace:        time.Second,
		Settle:           2 * time.Second,
		ExitOffset:       decimal.RequireFromString("0.0005"),
		MarketOffset:     decimal.RequireFromString("0.01"),
	}
}

// SleepFunc pauses for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Deps are the collaborators of the engines. Journal, Metrics and Guard are optional.
type Deps struct {
	Gateway   domain.Gateway
	Quotes    domain.QuoteSource
	Positions domain.PositionReader
	Journal   domain.ExecutionJournal
	Metrics   *infra.Metrics
	Guard     *SymbolGuard
	Sleep     SleepFunc
}

func (d *Deps) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, dur)
	}
	return sleepCtx(ctx, dur)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Result is the terminal report of one engine invocation.
type Result struct {
	RunID      string
	Outcome    domain.Outcome
	Side       domain.OrderSide
	Attempts   int
	Placements int
	Quantity   decimal.Decimal
	Reason     string
	Err        error
}

func newResult() Result {
	return Result{RunID: uuid.NewString()}
}

// record publishes metrics and journals the run. Journal failures are logged only.
func (d *Deps) record(ctx context.Context, log *slog.Logger, kind domain.ExecutionKind, symbol string, res Result, started time.Time) {
	finished := time.Now()
	d.Metrics.RecordExecution(string(kind), string(res.Outcome), finished.Sub(started))

	if d.Journal == nil {
		return
	}

	rec := &domain.ExecutionRecord{
		RunID:      res.RunID,
		Kind:       kind,
		Symbol:     symbol,
		Side:       string(res.Side),
		Outcome:    res.Outcome,
		Attempts:   res.Attempts,
		Placements: res.Placements,
		Quantity:   res.Quantity,
		Reason:     res.Reason,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	// an interrupted run is still journaled
	if err := d.Journal.SaveExecution(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("⚠️ Failed to journal execution", slog.String("run_id", res.RunID), slog.Any("error", err))
	}
}
