// Package position turns raw venue position rows into domain.Position snapshots.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"perp_exec/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Candidate field names, in priority order. The first present key wins.
var (
	marketFields  = []string{"market_name", "market", "symbol", "marketName"}
	entryFields   = []string{"entry_price", "open_price", "openPrice", "entryPrice"}
	pnlFields     = []string{"unrealised_pnl", "unrealized_pnl", "unrealisedPnl", "unrealizedPnl"}
	percentFields = []string{"unrealized_pnl_percent", "pnl_percent"}
)

// View reads positions through a gateway.
type View struct {
	gw domain.Gateway
}

// NewView creates a View over gw.
func NewView(gw domain.Gateway) *View {
	return &View{gw: gw}
}

var _ domain.PositionReader = (*View)(nil)

// Get returns the current position of symbol. A missing row is a flat position, not an error.
func (v *View) Get(ctx context.Context, symbol string) (domain.Position, error) {
	rows, err := v.gw.GetPositions(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("get positions: %w", err)
	}

	for _, rec := range rows {
		market, ok := firstString(rec, marketFields)
		if !ok || market != symbol {
			continue
		}
		return Normalize(rec, symbol), nil
	}
	return domain.FlatPosition(symbol), nil
}

// Normalize converts one raw row. Size comes back signed: negative for shorts.
func Normalize(rec domain.PositionRecord, symbol string) domain.Position {
	size, _ := firstDecimal(rec, []string{"size"})
	if size.IsZero() {
		return domain.FlatPosition(symbol)
	}

	pos := domain.Position{Symbol: symbol}
	pos.EntryPrice, _ = firstDecimal(rec, entryFields)
	pos.UnrealizedPnL, _ = firstDecimal(rec, pnlFields)

	lev, ok := firstDecimal(rec, []string{"leverage"})
	if !ok || !lev.IsPositive() {
		lev = decimal.NewFromInt(1)
	}
	pos.Leverage = lev

	side, _ := firstString(rec, []string{"side"})
	switch strings.ToUpper(side) {
	case string(domain.PositionLong):
		pos.Size = size.Abs()
	case string(domain.PositionShort):
		pos.Size = size.Abs().Neg()
	default:
		pos.Size = size
	}
	if pos.Size.IsPositive() {
		pos.Side = domain.PositionLong
	} else {
		pos.Side = domain.PositionShort
	}

	if pct, ok := firstDecimal(rec, percentFields); ok {
		pos.PnLPercent = pct
	} else {
		pos.PnLPercent = DerivePnLPercent(pos.UnrealizedPnL, pos.Size, pos.EntryPrice, pos.Leverage)
	}
	return pos
}

// DerivePnLPercent returns pnl as a percent of initial margin: pnl / (|size*entry| / leverage) * 100.
func DerivePnLPercent(pnl, size, entry, leverage decimal.Decimal) decimal.Decimal {
	notional := size.Mul(entry).Abs()
	if notional.IsZero() {
		return decimal.Zero
	}
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	margin := notional.Div(leverage)
	return pnl.Div(margin).Mul(hundred)
}

func firstString(rec domain.PositionRecord, keys []string) (string, bool) {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			return s, true
		case fmt.Stringer:
			return s.String(), true
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

func firstDecimal(rec domain.PositionRecord, keys []string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		d, err := toDecimal(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}
