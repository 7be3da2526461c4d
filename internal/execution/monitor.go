package execution

import (
	"context"
	"log/slog"
	"time"

	"perp_exec/internal/domain"

	"github.com/shopspring/decimal"
)

// MonitorTick is what the monitor observed on one tick.
type MonitorTick struct {
	Position domain.Position
	Mid      decimal.Decimal // zero when the feed has no quote
}

// MonitorResult is the terminal report of a monitor run.
// Exit is set when a threshold breach triggered a close.
type MonitorResult struct {
	Result
	Exit *Result
}

// PnLMonitor watches the position's P&L percent and closes it on a threshold breach.
type PnLMonitor struct {
	cfg  Config
	deps Deps
	exit *ExitEngine
	log  *slog.Logger

	// OnTick, when set, is called on the monitor goroutine for each observed tick.
	OnTick func(MonitorTick)
}

func NewPnLMonitor(cfg Config, deps Deps, exit *ExitEngine) *PnLMonitor {
	return &PnLMonitor{
		cfg:  cfg,
		deps: deps,
		exit: exit,
		log:  slog.Default().With("module", "monitor", "symbol", cfg.Symbol),
	}
}

// Run blocks until the position is gone, a threshold is hit, or ctx is cancelled.
// It holds the symbol guard for the whole run.
func (m *PnLMonitor) Run(ctx context.Context, th domain.PnLThresholds) (MonitorResult, error) {
	release, err := m.deps.Guard.TryAcquire(m.cfg.Symbol)
	if err != nil {
		return MonitorResult{}, err
	}
	defer release()

	started := time.Now()
	out := MonitorResult{Result: newResult()}
	defer func() {
		m.deps.record(ctx, m.log, domain.KindMonitor, m.cfg.Symbol, out.Result, started)
	}()

	out = m.run(ctx, th, out)
	return out, nil
}

func (m *PnLMonitor) run(ctx context.Context, th domain.PnLThresholds, out MonitorResult) MonitorResult {
	log := m.log.With("run_id", out.RunID)
	log.Info("📊 P&L Monitor Active",
		slog.String("take_profit", th.TakeProfit.String()),
		slog.String("stop_loss", th.StopLoss.String()),
	)

	for {
		if ctx.Err() != nil {
			out.Result = interrupted(out.Result, ctx.Err())
			return out
		}
		out.Attempts++

		pos, err := m.deps.Positions.Get(ctx, m.cfg.Symbol)
		if err != nil {
			log.Warn("Monitor error", slog.Any("error", err))
			if err := m.deps.sleep(ctx, m.cfg.LoopSleep); err != nil {
				out.Result = interrupted(out.Result, err)
				return out
			}
			continue
		}
		if pos.IsFlat() {
			log.Info("📊 No position to monitor")
			out.Outcome = domain.OutcomePositionGone
			out.Reason = "position gone"
			return out
		}

		mid := decimal.Zero
		if q, err := m.deps.Quotes.CurrentQuote(); err == nil {
			mid = q.Mid()
		}
		out.Side = pos.CloseSide()
		out.Quantity = pos.AbsSize()

		m.deps.Metrics.SetPnLPercent(m.cfg.Symbol, pos.PnLPercent.InexactFloat64())
		log.Info("Position status",
			slog.String("side", string(pos.Side)),
			slog.String("size", pos.AbsSize().String()),
			slog.String("entry", pos.EntryPrice.String()),
			slog.String("mid", mid.StringFixed(2)),
			slog.String("pnl", pos.UnrealizedPnL.StringFixed(2)),
			slog.String("pnl_pct", pos.PnLPercent.StringFixed(2)),
		)
		if m.OnTick != nil {
			m.OnTick(MonitorTick{Position: pos, Mid: mid})
		}

		if breach := th.Check(pos.PnLPercent); breach != domain.BreachNone {
			switch breach {
			case domain.BreachTakeProfit:
				out.Outcome = domain.OutcomeTakeProfit
				log.Info("🎯 TAKE PROFIT HIT!", slog.String("pnl_pct", pos.PnLPercent.StringFixed(2)))
			default:
				out.Outcome = domain.OutcomeStopLoss
				log.Warn("🛑 STOP LOSS HIT!", slog.String("pnl_pct", pos.PnLPercent.StringFixed(2)))
			}
			out.Reason = breach.String()

			exit := m.exit.closeHeld(ctx)
			out.Exit = &exit
			return out
		}

		if err := m.deps.sleep(ctx, m.cfg.LoopSleep); err != nil {
			out.Result = interrupted(out.Result, err)
			return out
		}
	}
}
