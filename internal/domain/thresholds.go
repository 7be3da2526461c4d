package domain

import "github.com/shopspring/decimal"

// Breach is the result of a take-profit / stop-loss check.
type Breach int

const (
	BreachNone Breach = iota
	BreachTakeProfit
	BreachStopLoss
)

// String returns the string representation of Breach
func (b Breach) String() string {
	switch b {
	case BreachTakeProfit:
		return "TAKE_PROFIT"
	case BreachStopLoss:
		return "STOP_LOSS"
	default:
		return "NONE"
	}
}

// PnLThresholds holds take-profit and stop-loss bounds in percent of margin.
// StopLoss is negative (e.g. -1.0 for a 1% loss).
type PnLThresholds struct {
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
}

// NewPnLThresholds creates thresholds, forcing the stop-loss to be non-positive.
func NewPnLThresholds(takeProfit, stopLoss decimal.Decimal) PnLThresholds {
	if stopLoss.IsPositive() {
		stopLoss = stopLoss.Neg()
	}
	return PnLThresholds{TakeProfit: takeProfit, StopLoss: stopLoss}
}

// Check compares a pnl percentage against both bounds.
// Take-profit is checked first:
// - TAKE_PROFIT when pct >= TakeProfit
// - STOP_LOSS when pct <= StopLoss
func (t PnLThresholds) Check(pct decimal.Decimal) Breach {
	if pct.GreaterThanOrEqual(t.TakeProfit) {
		return BreachTakeProfit
	}
	if pct.LessThanOrEqual(t.StopLoss) {
		return BreachStopLoss
	}
	return BreachNone
}
