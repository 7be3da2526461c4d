package execution

import (
	"fmt"

	"perp_exec/internal/domain"

	"github.com/shopspring/decimal"
)

// UsdToAssetSize converts a USD notional to a base quantity at mid.
// A positive amount never rounds to zero: it floors at one unit of the last decimal.
func UsdToAssetSize(usd, mid decimal.Decimal, spec domain.SymbolSpec) (decimal.Decimal, error) {
	if !mid.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: mid %s", domain.ErrInvalidQuote, mid)
	}
	if !usd.IsPositive() {
		return decimal.Zero, fmt.Errorf("usd amount must be positive, got %s", usd)
	}

	qty := spec.RoundQty(usd.Div(mid))
	if qty.IsZero() {
		qty = spec.MinQty()
	}
	return qty, nil
}
