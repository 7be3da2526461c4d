package domain

import (
	"context"
	"time"
)

// Gateway is the exchange surface the execution engines call into.
// Signing and transport live behind it.
type Gateway interface {
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	// GetOpenOrderStatus returns ErrOrderNotFound once the order is no longer open.
	GetOpenOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	GetPositions(ctx context.Context) ([]PositionRecord, error)
	GetOrderbookSnapshot(ctx context.Context, symbol string) (OrderbookSnapshot, error)
	UpdateLeverage(ctx context.Context, symbol string, leverage int) error
}

// QuoteSource is the read side of a price feed.
type QuoteSource interface {
	CurrentQuote() (Quote, error)
	AwaitFresh(ctx context.Context, timeout time.Duration) bool
}

// PositionReader returns a fresh normalized position for a symbol.
type PositionReader interface {
	Get(ctx context.Context, symbol string) (Position, error)
}

// ExecutionJournal persists engine runs.
type ExecutionJournal interface {
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
}
