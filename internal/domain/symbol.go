package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolSpec holds the rounding rules of one market.
type SymbolSpec struct {
	QtyDecimals   int32 `yaml:"qty_decimals"`
	PriceDecimals int32 `yaml:"price_decimals"`
}

// maxPriceDecimals bounds what WithPrices will widen to.
const maxPriceDecimals = 12

// DefaultSymbolSpec returns the rounding rules inferred from the symbol name.
// BTC sizes use 3 decimals, everything else 4. Prices use 1 decimal, widened at
// order time by WithPrices for markets quoted finer than that.
func DefaultSymbolSpec(symbol string) SymbolSpec {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BTC"):
		return SymbolSpec{QtyDecimals: 3, PriceDecimals: 1}
	case strings.Contains(s, "ETH"):
		return SymbolSpec{QtyDecimals: 4, PriceDecimals: 1}
	default:
		return SymbolSpec{QtyDecimals: 4, PriceDecimals: 1}
	}
}

// MinQty is the smallest non-zero quantity at this precision.
func (s SymbolSpec) MinQty() decimal.Decimal {
	return decimal.New(1, -s.QtyDecimals)
}

// Tick is the smallest price increment at this precision.
func (s SymbolSpec) Tick() decimal.Decimal {
	return decimal.New(1, -s.PriceDecimals)
}

// RoundQty rounds a size to the market precision.
func (s SymbolSpec) RoundQty(q decimal.Decimal) decimal.Decimal {
	return q.Round(s.QtyDecimals)
}

// FloorPrice rounds a price down to a tick.
func (s SymbolSpec) FloorPrice(p decimal.Decimal) decimal.Decimal {
	return p.RoundFloor(s.PriceDecimals)
}

// CeilPrice rounds a price up to a tick.
func (s SymbolSpec) CeilPrice(p decimal.Decimal) decimal.Decimal {
	return p.RoundCeil(s.PriceDecimals)
}

// WithPrices widens PriceDecimals to the finest scale among the observed venue
// prices. Venue prices sit on the market tick, so the result is never finer than it.
func (s SymbolSpec) WithPrices(prices ...decimal.Decimal) SymbolSpec {
	for _, p := range prices {
		if dp := priceScale(p); dp > s.PriceDecimals {
			s.PriceDecimals = dp
		}
	}
	return s
}

// priceScale counts significant fraction digits, ignoring trailing zeros.
func priceScale(p decimal.Decimal) int32 {
	str := p.Abs().String()
	i := strings.IndexByte(str, '.')
	if i < 0 {
		return 0
	}
	dp := int32(len(strings.TrimRight(str[i+1:], "0")))
	if dp > maxPriceDecimals {
		dp = maxPriceDecimals
	}
	return dp
}
