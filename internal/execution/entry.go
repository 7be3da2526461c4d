package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"perp_exec/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryEngine opens a position with passive limit orders at the touch.
type EntryEngine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

func NewEntryEngine(cfg Config, deps Deps) *EntryEngine {
	return &EntryEngine{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default().With("module", "entry", "symbol", cfg.Symbol),
	}
}

// Open tries to open a position of usd notional on side.
// Exhausting the attempt budget is reported in the Result, not as an error.
// The error is non-nil only when the run could not start (symbol busy, bad sizing input).
func (e *EntryEngine) Open(ctx context.Context, side domain.OrderSide, usd decimal.Decimal) (Result, error) {
	release, err := e.deps.Guard.TryAcquire(e.cfg.Symbol)
	if err != nil {
		return Result{}, err
	}
	defer release()

	started := time.Now()
	res := newResult()
	res.Side = side

	defer func() {
		e.deps.record(ctx, e.log, domain.KindEntry, e.cfg.Symbol, res, started)
	}()

	res, err = e.run(ctx, side, usd, res)
	return res, err
}

func (e *EntryEngine) run(ctx context.Context, side domain.OrderSide, usd decimal.Decimal, res Result) (Result, error) {
	log := e.log.With("run_id", res.RunID, "side", string(side))
	log.Info("🎯 Opening position",
		slog.String("usd", usd.String()),
		slog.Int("leverage", e.cfg.Leverage),
	)

	quote, err := awaitQuote(ctx, &e.deps, e.cfg)
	if err != nil {
		return finishOnWaitError(ctx, res, err, log), nil
	}

	qty, err := UsdToAssetSize(usd, quote.Mid(), e.cfg.Spec)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Err = err
		return res, err
	}
	log.Info("USD to asset size",
		slog.String("qty", qty.String()),
		slog.String("mid", quote.Mid().String()),
	)

	if err := e.deps.Gateway.UpdateLeverage(ctx, e.cfg.Symbol, e.cfg.Leverage); err != nil {
		log.Warn("⚠️ Leverage update failed", slog.Any("error", err))
	}

	remaining := qty
	budget := domain.NewAttemptBudget(e.cfg.EntryMaxAttempts, e.cfg.LoopSleep)
	waits := 0

	for !budget.Exhausted() {
		if ctx.Err() != nil {
			return interrupted(res, ctx.Err()), nil
		}

		if pos, ok := e.openPosition(ctx, log); ok {
			return filled(res, pos, "position already open"), nil
		}

		quote, err := e.deps.Quotes.CurrentQuote()
		if err != nil {
			waits++
			if waits > e.cfg.QuoteWaitLimit {
				res.Outcome = domain.OutcomeExhausted
				res.Err = domain.ErrQuoteUnavailable
				res.Reason = "no price data"
				return res, nil
			}
			log.Info("⏳ Waiting for price data...")
			if err := e.deps.sleep(ctx, e.cfg.LoopSleep); err != nil {
				return interrupted(res, err), nil
			}
			continue
		}
		waits = 0

		budget.Next()
		res.Attempts = budget.Attempt

		// join the touch without crossing: buys round down, sells round up
		spec := e.cfg.Spec.WithPrices(quote.Bid, quote.Ask)
		price := spec.FloorPrice(quote.Bid)
		if side == domain.SideSell {
			price = spec.CeilPrice(quote.Ask)
		}

		log.Info("📍 Entry attempt",
			slog.Int("attempt", budget.Attempt),
			slog.Int("max", budget.MaxAttempts),
			slog.String("qty", remaining.String()),
			slog.String("price", price.String()),
		)

		handle, err := e.deps.Gateway.PlaceLimitOrder(ctx, domain.OrderRequest{
			Symbol:   e.cfg.Symbol,
			Side:     side,
			Quantity: remaining,
			Price:    price,
			Leverage: e.cfg.Leverage,
			ClientID: uuid.NewString(),
		})
		if err != nil {
			e.deps.Metrics.RecordPlacementFailed(string(domain.KindEntry))
			log.Warn("Failed to place order", slog.Any("error", fmt.Errorf("%w: %v", domain.ErrPlacementFailed, err)))
			if err := e.deps.sleep(ctx, e.cfg.LoopSleep); err != nil {
				return interrupted(res, err), nil
			}
			continue
		}
		res.Placements++
		e.deps.Metrics.RecordOrderPlaced(string(domain.KindEntry), string(side))

		if err := e.deps.sleep(ctx, e.cfg.Dwell); err != nil {
			return interrupted(res, err), nil
		}

		if pos, ok := e.openPosition(ctx, log); ok {
			e.deps.Metrics.RecordOrderFilled(string(domain.KindEntry))
			return filled(res, pos, "position opened"), nil
		}

		status, err := e.deps.Gateway.GetOpenOrderStatus(ctx, handle.ID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound) || (err == nil && status.IsFilled()):
			log.Info("Order filled, checking position...", slog.String("order_id", handle.ID))
			if err := e.deps.sleep(ctx, e.cfg.FillGrace); err != nil {
				return interrupted(res, err), nil
			}
			if pos, ok := e.openPosition(ctx, log); ok {
				e.deps.Metrics.RecordOrderFilled(string(domain.KindEntry))
				return filled(res, pos, "position confirmed"), nil
			}
		default:
			if err != nil {
				log.Warn("Order status unavailable", slog.Any("error", err))
			}
			log.Info("Order not filled, cancelling", slog.Any("reason", domain.ErrFillTimeout))
			e.deps.Metrics.RecordOrderTimeout(string(domain.KindEntry))
			if err := e.deps.Gateway.CancelAllOrders(ctx, e.cfg.Symbol); err != nil {
				log.Warn("Cancel failed", slog.Any("error", err))
			}
			if err == nil {
				rem := status.Remaining()
				if rem.IsPositive() && rem.LessThan(remaining) {
					remaining = e.cfg.Spec.RoundQty(rem)
					if remaining.IsZero() {
						remaining = e.cfg.Spec.MinQty()
					}
					log.Info("Adjusting size for next attempt", slog.String("qty", remaining.String()))
				}
			}
		}

		if budget.Exhausted() {
			break
		}
		if err := e.deps.sleep(ctx, e.cfg.LoopSleep); err != nil {
			return interrupted(res, err), nil
		}
	}

	log.Warn("❌ Failed to open position after max attempts", slog.Int("attempts", res.Attempts))
	res.Outcome = domain.OutcomeExhausted
	res.Err = domain.ErrAttemptsExhausted
	return res, nil
}

// openPosition returns the position when one is open. Read errors count as "not open".
func (e *EntryEngine) openPosition(ctx context.Context, log *slog.Logger) (domain.Position, bool) {
	pos, err := e.deps.Positions.Get(ctx, e.cfg.Symbol)
	if err != nil {
		log.Warn("Position read failed", slog.Any("error", err))
		return domain.Position{}, false
	}
	return pos, !pos.IsFlat()
}

// awaitQuote waits for the first quote, one loop sleep at a time, up to the wait limit.
func awaitQuote(ctx context.Context, deps *Deps, cfg Config) (domain.Quote, error) {
	for waits := 0; ; waits++ {
		q, err := deps.Quotes.CurrentQuote()
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, domain.ErrQuoteUnavailable) {
			return domain.Quote{}, err
		}
		if waits >= cfg.QuoteWaitLimit {
			return domain.Quote{}, domain.ErrQuoteUnavailable
		}
		if deps.Quotes.AwaitFresh(ctx, cfg.LoopSleep) {
			continue
		}
		if ctx.Err() != nil {
			return domain.Quote{}, ctx.Err()
		}
	}
}

func finishOnWaitError(ctx context.Context, res Result, err error, log *slog.Logger) Result {
	if ctx.Err() != nil {
		return interrupted(res, ctx.Err())
	}
	log.Warn("❌ No price data", slog.Any("error", err))
	res.Outcome = domain.OutcomeExhausted
	res.Err = err
	res.Reason = "no price data"
	return res
}

func filled(res Result, pos domain.Position, reason string) Result {
	res.Outcome = domain.OutcomeFilled
	res.Quantity = pos.AbsSize()
	res.Reason = reason
	return res
}

func interrupted(res Result, err error) Result {
	res.Outcome = domain.OutcomeInterrupted
	res.Err = err
	res.Reason = "interrupted"
	return res
}
