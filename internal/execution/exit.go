package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"perp_exec/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ExitEngine closes the current position with aggressive limits and a market-style fallback.
type ExitEngine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

func NewExitEngine(cfg Config, deps Deps) *ExitEngine {
	return &ExitEngine{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default().With("module", "exit", "symbol", cfg.Symbol),
	}
}

// Close flattens the position. Failed means the position may still be open.
func (x *ExitEngine) Close(ctx context.Context) (Result, error) {
	release, err := x.deps.Guard.TryAcquire(x.cfg.Symbol)
	if err != nil {
		return Result{}, err
	}
	defer release()

	return x.closeHeld(ctx), nil
}

// closeHeld runs the close loop. The caller must hold the symbol guard.
func (x *ExitEngine) closeHeld(ctx context.Context) Result {
	started := time.Now()
	res := newResult()
	defer func() {
		x.deps.record(ctx, x.log, domain.KindExit, x.cfg.Symbol, res, started)
	}()

	res = x.run(ctx, res)
	return res
}

func (x *ExitEngine) run(ctx context.Context, res Result) Result {
	log := x.log.With("run_id", res.RunID)

	pos, err := x.deps.Positions.Get(ctx, x.cfg.Symbol)
	if err == nil && pos.IsFlat() {
		log.Info("No position to close")
		res.Outcome = domain.OutcomeClosed
		res.Reason = "no position"
		return res
	}
	if err == nil {
		res.Side = pos.CloseSide()
		res.Quantity = pos.AbsSize()
	}
	log.Info("🎯 Closing position")

	budget := domain.NewAttemptBudget(x.cfg.ExitMaxAttempts, x.cfg.LoopSleep)
	waits, readFails := 0, 0
	var closeSize decimal.Decimal

	for !budget.Exhausted() {
		if ctx.Err() != nil {
			return interrupted(res, ctx.Err())
		}

		pos, err := x.deps.Positions.Get(ctx, x.cfg.Symbol)
		if err != nil {
			log.Warn("Position read failed", slog.Any("error", err))
			readFails++
			if readFails > x.cfg.QuoteWaitLimit {
				break
			}
			if err := x.deps.sleep(ctx, x.cfg.LoopSleep); err != nil {
				return interrupted(res, err)
			}
			continue
		}
		if pos.IsFlat() {
			return closed(res, "position closed")
		}
		readFails = 0

		closeSize = pos.AbsSize()
		side := pos.CloseSide()
		res.Side = side

		quote, err := x.deps.Quotes.CurrentQuote()
		if err != nil {
			waits++
			if waits > x.cfg.QuoteWaitLimit {
				log.Warn("❌ No price data, moving to market fallback")
				break
			}
			log.Info("⏳ Waiting for price data...")
			if err := x.deps.sleep(ctx, x.cfg.LoopSleep); err != nil {
				return interrupted(res, err)
			}
			continue
		}
		waits = 0

		budget.Next()
		res.Attempts = budget.Attempt

		price := x.closingPrice(side, quote)
		log.Info("📍 Exit attempt",
			slog.Int("attempt", budget.Attempt),
			slog.Int("max", budget.MaxAttempts),
			slog.String("side", string(side)),
			slog.String("qty", closeSize.String()),
			slog.String("price", price.String()),
			slog.String("pnl_pct", pos.PnLPercent.StringFixed(2)),
		)

		_, err = x.deps.Gateway.PlaceLimitOrder(ctx, domain.OrderRequest{
			Symbol:   x.cfg.Symbol,
			Side:     side,
			Quantity: closeSize,
			Price:    price,
			Leverage: 1,
			ClientID: uuid.NewString(),
		})
		if err != nil {
			x.deps.Metrics.RecordPlacementFailed(string(domain.KindExit))
			log.Warn("Failed to place order", slog.Any("error", fmt.Errorf("%w: %v", domain.ErrPlacementFailed, err)))
			if err := x.deps.sleep(ctx, x.cfg.LoopSleep); err != nil {
				return interrupted(res, err)
			}
			continue
		}
		res.Placements++
		x.deps.Metrics.RecordOrderPlaced(string(domain.KindExit), string(side))

		if err := x.deps.sleep(ctx, x.cfg.Dwell); err != nil {
			return interrupted(res, err)
		}

		after, err := x.deps.Positions.Get(ctx, x.cfg.Symbol)
		if err == nil {
			if after.IsFlat() {
				x.deps.Metrics.RecordOrderFilled(string(domain.KindExit))
				return closed(res, "position closed")
			}
			if rem := after.AbsSize(); rem.LessThan(closeSize) {
				log.Info("Partially closed", slog.String("remaining", rem.String()))
				closeSize = rem
			}
		}

		log.Info("Close not filled, cancelling", slog.Any("reason", domain.ErrFillTimeout))
		x.deps.Metrics.RecordOrderTimeout(string(domain.KindExit))
		if err := x.deps.Gateway.CancelAllOrders(ctx, x.cfg.Symbol); err != nil {
			log.Warn("Cancel failed", slog.Any("error", err))
		}

		if budget.Exhausted() {
			break
		}
		if err := x.deps.sleep(ctx, x.cfg.LoopSleep); err != nil {
			return interrupted(res, err)
		}
	}

	log.Warn("⚠️ Max attempts reached, trying market close...")
	return x.marketFallback(ctx, res, log)
}

// closingPrice prices a close strictly through the touch: below the bid for sells,
// above the ask for buys. A sell that would round to zero or below rests on the bid.
func (x *ExitEngine) closingPrice(side domain.OrderSide, q domain.Quote) decimal.Decimal {
	spec := x.cfg.Spec.WithPrices(q.Bid, q.Ask)
	if side == domain.SideSell {
		price := spec.FloorPrice(q.Bid.Mul(one.Sub(x.cfg.ExitOffset)))
		if !price.LessThan(q.Bid) {
			price = spec.FloorPrice(q.Bid)
			if !price.LessThan(q.Bid) {
				price = price.Sub(spec.Tick())
			}
		}
		if !price.IsPositive() {
			return q.Bid
		}
		return price
	}

	price := spec.CeilPrice(q.Ask.Mul(one.Add(x.cfg.ExitOffset)))
	if !price.GreaterThan(q.Ask) {
		price = spec.CeilPrice(q.Ask)
		if !price.GreaterThan(q.Ask) {
			price = price.Add(spec.Tick())
		}
	}
	return price
}

// marketFallback crosses the book by MarketOffset using a fresh REST snapshot.
func (x *ExitEngine) marketFallback(ctx context.Context, res Result, log *slog.Logger) Result {
	if ctx.Err() != nil {
		return interrupted(res, ctx.Err())
	}

	pos, err := x.deps.Positions.Get(ctx, x.cfg.Symbol)
	if err != nil {
		return failed(res, fmt.Errorf("fallback position read: %w", err))
	}
	if pos.IsFlat() {
		return closed(res, "position closed")
	}

	if err := x.deps.Gateway.CancelAllOrders(ctx, x.cfg.Symbol); err != nil {
		log.Warn("Cancel failed", slog.Any("error", err))
	}
	if err := x.deps.sleep(ctx, x.cfg.FillGrace); err != nil {
		return interrupted(res, err)
	}

	book, err := x.deps.Gateway.GetOrderbookSnapshot(ctx, x.cfg.Symbol)
	if err != nil {
		return failed(res, fmt.Errorf("fallback orderbook: %w", err))
	}

	side := pos.CloseSide()
	res.Side = side

	var price decimal.Decimal
	if side == domain.SideSell {
		bid, ok := book.BestBid()
		if !ok {
			return failed(res, fmt.Errorf("%w: empty bid side", domain.ErrInvalidQuote))
		}
		price = x.cfg.Spec.WithPrices(bid).FloorPrice(bid.Mul(one.Sub(x.cfg.MarketOffset)))
		if !price.IsPositive() {
			price = bid
		}
	} else {
		ask, ok := book.BestAsk()
		if !ok {
			return failed(res, fmt.Errorf("%w: empty ask side", domain.ErrInvalidQuote))
		}
		price = x.cfg.Spec.WithPrices(ask).CeilPrice(ask.Mul(one.Add(x.cfg.MarketOffset)))
	}

	log.Info("Placing market-style close",
		slog.String("side", string(side)),
		slog.String("qty", pos.AbsSize().String()),
		slog.String("price", price.String()),
	)

	if _, err := x.deps.Gateway.PlaceLimitOrder(ctx, domain.OrderRequest{
		Symbol:   x.cfg.Symbol,
		Side:     side,
		Quantity: pos.AbsSize(),
		Price:    price,
		Leverage: 1,
		ClientID: uuid.NewString(),
	}); err != nil {
		x.deps.Metrics.RecordPlacementFailed(string(domain.KindExit))
		return failed(res, fmt.Errorf("%w: %v", domain.ErrPlacementFailed, err))
	}
	res.Placements++
	x.deps.Metrics.RecordOrderPlaced(string(domain.KindExit), string(side))

	if err := x.deps.sleep(ctx, x.cfg.Settle); err != nil {
		return interrupted(res, err)
	}

	after, err := x.deps.Positions.Get(ctx, x.cfg.Symbol)
	if err == nil && after.IsFlat() {
		log.Info("✅ Position successfully closed!")
		return closed(res, "market fallback")
	}

	log.Error("❌ Position may still exist, manual intervention required")
	if err == nil {
		err = domain.ErrAttemptsExhausted
	}
	return failed(res, err)
}

func closed(res Result, reason string) Result {
	res.Outcome = domain.OutcomeClosed
	res.Reason = reason
	return res
}

func failed(res Result, err error) Result {
	res.Outcome = domain.OutcomeFailed
	res.Err = err
	return res
}
