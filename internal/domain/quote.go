package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Quote is the top of book for one symbol.
// Bid, Ask and Timestamp are always published together.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns (bid+ask)/2
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(two)
}

// Spread returns ask-bid
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// Validate checks the populated-quote invariant: bid > 0, ask > 0, ask >= bid.
func (q Quote) Validate() error {
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return ErrInvalidQuote
	}
	if q.Ask.LessThan(q.Bid) {
		return ErrInvalidQuote
	}
	return nil
}

// Age returns how long ago the quote was observed.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}
