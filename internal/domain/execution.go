package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionKind names the engine that produced a run.
type ExecutionKind string

const (
	KindEntry   ExecutionKind = "entry"
	KindExit    ExecutionKind = "exit"
	KindMonitor ExecutionKind = "monitor"
)

// Outcome is the terminal state of an engine invocation.
type Outcome string

const (
	OutcomeFilled       Outcome = "FILLED"
	OutcomeClosed       Outcome = "CLOSED"
	OutcomeExhausted    Outcome = "EXHAUSTED"
	OutcomeFailed       Outcome = "FAILED"
	OutcomeInterrupted  Outcome = "INTERRUPTED"
	OutcomeTakeProfit   Outcome = "TAKE_PROFIT"
	OutcomeStopLoss     Outcome = "STOP_LOSS"
	OutcomePositionGone Outcome = "POSITION_GONE"
)

// Succeeded reports whether the target state was reached.
func (o Outcome) Succeeded() bool {
	return o == OutcomeFilled || o == OutcomeClosed
}

// AttemptBudget bounds a retry loop.
type AttemptBudget struct {
	MaxAttempts  int
	Attempt      int
	SleepBetween time.Duration
}

// NewAttemptBudget creates a budget of max attempts (at least one).
func NewAttemptBudget(max int, sleep time.Duration) *AttemptBudget {
	if max < 1 {
		max = 1
	}
	return &AttemptBudget{MaxAttempts: max, SleepBetween: sleep}
}

// Next consumes one attempt. It returns false once the budget is spent.
func (b *AttemptBudget) Next() bool {
	if b.Attempt >= b.MaxAttempts {
		return false
	}
	b.Attempt++
	return true
}

// Exhausted reports whether every attempt has been used.
func (b *AttemptBudget) Exhausted() bool {
	return b.Attempt >= b.MaxAttempts
}

// ExecutionRecord is one journaled engine run.
type ExecutionRecord struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	RunID      string          `gorm:"uniqueIndex;size:36" json:"run_id"`
	Kind       ExecutionKind   `gorm:"index;size:16" json:"kind"`
	Symbol     string          `gorm:"index;size:32" json:"symbol"`
	Side       string          `gorm:"size:8" json:"side"`
	Outcome    Outcome         `gorm:"index;size:16" json:"outcome"`
	Attempts   int             `json:"attempts"`
	Placements int             `json:"placements"`
	Quantity   decimal.Decimal `gorm:"type:text" json:"quantity"`
	Reason     string          `json:"reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `gorm:"index" json:"finished_at"`
}
