package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest is a limit order submitted to the gateway.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Leverage int
	ClientID string // venue externalId, used for dedupe
}

// Validate checks quantity > 0, price > 0, leverage >= 1.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return ErrInvalidSymbol
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid order side %q", r.Side)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("order quantity must be positive, got %s", r.Quantity)
	}
	if !r.Price.IsPositive() {
		return fmt.Errorf("order price must be positive, got %s", r.Price)
	}
	if r.Leverage < 1 {
		return fmt.Errorf("order leverage must be >= 1, got %d", r.Leverage)
	}
	return nil
}

// OrderHandle identifies an accepted order.
type OrderHandle struct {
	ID          string
	RawQuantity decimal.Decimal
}

// OrderStatus is the fill progress of a resting order.
type OrderStatus struct {
	FilledQuantity decimal.Decimal
	TotalQuantity  decimal.Decimal
}

// IsFilled reports whether the order is completely filled.
func (s OrderStatus) IsFilled() bool {
	return s.FilledQuantity.GreaterThanOrEqual(s.TotalQuantity)
}

// Remaining returns the unfilled quantity, never negative.
func (s OrderStatus) Remaining() decimal.Decimal {
	rem := s.TotalQuantity.Sub(s.FilledQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Level is one price level of an order book.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderbookSnapshot is a REST order book snapshot, best level first.
type OrderbookSnapshot struct {
	Bid []Level `json:"bid"`
	Ask []Level `json:"ask"`
}

// BestBid returns the first bid level.
func (o OrderbookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(o.Bid) == 0 {
		return decimal.Zero, false
	}
	return o.Bid[0].Price, true
}

// BestAsk returns the first ask level.
func (o OrderbookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(o.Ask) == 0 {
		return decimal.Zero, false
	}
	return o.Ask[0].Price, true
}
