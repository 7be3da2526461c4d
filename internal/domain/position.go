package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionFlat  PositionSide = ""
)

// PositionRecord is a raw position row as the gateway returns it.
// The field names vary between venues and API versions.
type PositionRecord map[string]any

// Position is the normalized snapshot of an exchange-reported position.
// Size is signed: positive for long, negative for short, zero when flat.
type Position struct {
	Symbol        string          `json:"symbol"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Side          PositionSide    `json:"side"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	PnLPercent    decimal.Decimal `json:"pnl_percent"`
	Leverage      decimal.Decimal `json:"leverage"`
}

// FlatPosition returns the empty snapshot for a symbol.
func FlatPosition(symbol string) Position {
	return Position{Symbol: symbol}
}

// IsFlat reports whether there is no open position.
func (p Position) IsFlat() bool {
	return p.Size.IsZero()
}

// IsLong checks if the position is Long.
func (p Position) IsLong() bool {
	return p.Size.IsPositive()
}

// IsShort checks if the position is Short.
func (p Position) IsShort() bool {
	return p.Size.IsNegative()
}

// AbsSize returns the unsigned position size.
func (p Position) AbsSize() decimal.Decimal {
	return p.Size.Abs()
}

// CloseSide returns the order side that reduces the position.
func (p Position) CloseSide() OrderSide {
	if p.IsShort() {
		return SideBuy
	}
	return SideSell
}
