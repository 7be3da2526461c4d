// Package paper simulates the venue in memory against a live quote source.
package paper

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"perp_exec/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fill is one simulated execution.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     domain.OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Time     time.Time
}

type restingOrder struct {
	id     string
	req    domain.OrderRequest
	placed time.Time
}

type paperPosition struct {
	size  decimal.Decimal // signed
	entry decimal.Decimal
}

// Gateway is an in-memory domain.Gateway. Resting limits fill in full when the
// quote crosses them: buys at or above the ask, sells at or below the bid.
type Gateway struct {
	mu        sync.Mutex
	quotes    domain.QuoteSource
	orders    map[string]*restingOrder
	positions map[string]*paperPosition
	leverage  map[string]int
	fills     []Fill
	logger    *slog.Logger
}

// NewGateway creates a paper venue priced by quotes.
func NewGateway(quotes domain.QuoteSource) *Gateway {
	return &Gateway{
		quotes:    quotes,
		orders:    make(map[string]*restingOrder),
		positions: make(map[string]*paperPosition),
		leverage:  make(map[string]int),
		logger:    slog.Default().With("module", "paper"),
	}
}

var _ domain.Gateway = (*Gateway)(nil)

// Match fills resting orders crossed by q. It is safe to call from the feed callback.
func (g *Gateway) Match(q domain.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.matchLocked(q)
}

func (g *Gateway) sweepLocked() {
	if q, err := g.quotes.CurrentQuote(); err == nil {
		g.matchLocked(q)
	}
}

func (g *Gateway) matchLocked(q domain.Quote) {
	// deterministic order: oldest first
	ids := make([]string, 0, len(g.orders))
	for id := range g.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return g.orders[ids[i]].placed.Before(g.orders[ids[j]].placed)
	})

	for _, id := range ids {
		o := g.orders[id]
		if q.Symbol != "" && o.req.Symbol != q.Symbol {
			continue
		}
		crossed := (o.req.Side == domain.SideBuy && o.req.Price.GreaterThanOrEqual(q.Ask)) ||
			(o.req.Side == domain.SideSell && o.req.Price.LessThanOrEqual(q.Bid))
		if !crossed {
			continue
		}
		g.applyFillLocked(o)
		delete(g.orders, id)
	}
}

func (g *Gateway) applyFillLocked(o *restingOrder) {
	req := o.req
	pos, ok := g.positions[req.Symbol]
	if !ok {
		pos = &paperPosition{}
		g.positions[req.Symbol] = pos
	}

	delta := req.Quantity
	if req.Side == domain.SideSell {
		delta = delta.Neg()
	}

	switch {
	case pos.size.IsZero() || pos.size.Sign() == delta.Sign():
		// increase: weighted entry
		oldAbs := pos.size.Abs()
		newAbs := oldAbs.Add(req.Quantity)
		pos.entry = oldAbs.Mul(pos.entry).Add(req.Quantity.Mul(req.Price)).Div(newAbs)
		pos.size = pos.size.Add(delta)
	case delta.Abs().LessThanOrEqual(pos.size.Abs()):
		pos.size = pos.size.Add(delta)
		if pos.size.IsZero() {
			pos.entry = decimal.Zero
		}
	default:
		// flip: the remainder opens at the fill price
		pos.size = pos.size.Add(delta)
		pos.entry = req.Price
	}

	g.fills = append(g.fills, Fill{
		OrderID:  o.id,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
		Time:     time.Now(),
	})

	g.logger.Info("📝 Paper fill",
		slog.String("order_id", o.id),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("qty", req.Quantity.String()),
		slog.String("price", req.Price.String()),
		slog.String("position", pos.size.String()),
	)
}

func (g *Gateway) PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if err := req.Validate(); err != nil {
		return domain.OrderHandle{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := req.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	g.orders[id] = &restingOrder{id: id, req: req, placed: time.Now()}
	g.sweepLocked()

	return domain.OrderHandle{ID: id, RawQuantity: req.Quantity}, nil
}

func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, o := range g.orders {
		if o.req.Symbol == symbol {
			delete(g.orders, id)
		}
	}
	return nil
}

// GetOpenOrderStatus reports resting orders as unfilled. Paper fills are all-or-nothing.
func (g *Gateway) GetOpenOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()

	o, ok := g.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrOrderNotFound
	}
	return domain.OrderStatus{FilledQuantity: decimal.Zero, TotalQuantity: o.req.Quantity}, nil
}

// GetPositions returns rows shaped like the venue's, with pnl marked to mid.
func (g *Gateway) GetPositions(ctx context.Context) ([]domain.PositionRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()

	q, qErr := g.quotes.CurrentQuote()

	rows := make([]domain.PositionRecord, 0, len(g.positions))
	for sym, pos := range g.positions {
		if pos.size.IsZero() {
			continue
		}
		side := domain.PositionLong
		if pos.size.IsNegative() {
			side = domain.PositionShort
		}

		pnl := decimal.Zero
		if qErr == nil {
			pnl = q.Mid().Sub(pos.entry).Mul(pos.size)
		}

		lev := g.leverage[sym]
		if lev < 1 {
			lev = 1
		}

		rows = append(rows, domain.PositionRecord{
			"market":         sym,
			"side":           string(side),
			"size":           pos.size.Abs().String(),
			"open_price":     pos.entry.String(),
			"unrealised_pnl": pnl.String(),
			"leverage":       decimal.NewFromInt(int64(lev)).String(),
		})
	}
	return rows, nil
}

// GetOrderbookSnapshot returns a one-level book built from the current quote.
func (g *Gateway) GetOrderbookSnapshot(ctx context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	q, err := g.quotes.CurrentQuote()
	if err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	return domain.OrderbookSnapshot{
		Bid: []domain.Level{{Price: q.Bid}},
		Ask: []domain.Level{{Price: q.Ask}},
	}, nil
}

func (g *Gateway) UpdateLeverage(ctx context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

// Fills returns a copy of all simulated fills.
func (g *Gateway) Fills() []Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Fill, len(g.fills))
	copy(out, g.fills)
	return out
}
