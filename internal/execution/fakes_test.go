package execution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"perp_exec/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeVenue is a scripted gateway that also serves normalized positions.
type fakeVenue struct {
	mu sync.Mutex

	position domain.Position
	posErr   error
	posCalls int

	// posErrCalls limits posErr to the first n reads; zero means every read
	posErrCalls int

	placed        []domain.OrderRequest
	cancels       int
	leverageCalls int
	leverageErr   error
	placeErr      error

	// onPlace runs after an order is accepted; n is the 1-based placement count.
	onPlace func(v *fakeVenue, n int, req domain.OrderRequest)
	// status answers GetOpenOrderStatus; defaults to "open, nothing filled".
	status func(req domain.OrderRequest) (domain.OrderStatus, error)

	book domain.OrderbookSnapshot
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		book: domain.OrderbookSnapshot{
			Bid: []domain.Level{{Price: d("50000"), Size: d("1")}},
			Ask: []domain.Level{{Price: d("50010"), Size: d("1")}},
		},
	}
}

func (v *fakeVenue) setPosition(size string) {
	v.position = domain.Position{Symbol: "BTC-USD", Size: d(size)}
	if v.position.IsLong() {
		v.position.Side = domain.PositionLong
	} else if v.position.IsShort() {
		v.position.Side = domain.PositionShort
	}
}

func (v *fakeVenue) PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.placeErr != nil {
		return domain.OrderHandle{}, v.placeErr
	}
	v.placed = append(v.placed, req)
	n := len(v.placed)
	if v.onPlace != nil {
		v.onPlace(v, n, req)
	}
	return domain.OrderHandle{ID: strconv.Itoa(n), RawQuantity: req.Quantity}, nil
}

func (v *fakeVenue) CancelAllOrders(ctx context.Context, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels++
	return nil
}

func (v *fakeVenue) GetOpenOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, _ := strconv.Atoi(orderID)
	req := v.placed[n-1]
	if v.status != nil {
		return v.status(req)
	}
	return domain.OrderStatus{FilledQuantity: decimal.Zero, TotalQuantity: req.Quantity}, nil
}

func (v *fakeVenue) GetPositions(ctx context.Context) ([]domain.PositionRecord, error) {
	return nil, nil
}

func (v *fakeVenue) GetOrderbookSnapshot(ctx context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	return v.book, nil
}

func (v *fakeVenue) UpdateLeverage(ctx context.Context, symbol string, leverage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverageCalls++
	return v.leverageErr
}

// Get implements domain.PositionReader.
func (v *fakeVenue) Get(ctx context.Context, symbol string) (domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.posCalls++
	if v.posErr != nil && (v.posErrCalls == 0 || v.posCalls <= v.posErrCalls) {
		return domain.Position{}, v.posErr
	}
	return v.position, nil
}

type fakeQuotes struct {
	mu sync.Mutex
	q  *domain.Quote
}

func quoteAt(bid, ask string) *fakeQuotes {
	return &fakeQuotes{q: &domain.Quote{Symbol: "BTC-USD", Bid: d(bid), Ask: d(ask), Timestamp: time.Now()}}
}

func (f *fakeQuotes) set(q *domain.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.q = q
}

func (f *fakeQuotes) CurrentQuote() (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q == nil {
		return domain.Quote{}, domain.ErrQuoteUnavailable
	}
	return *f.q, nil
}

func (f *fakeQuotes) AwaitFresh(ctx context.Context, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q != nil
}

type fakeJournal struct {
	mu      sync.Mutex
	records []*domain.ExecutionRecord
}

func (j *fakeJournal) SaveExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

// testDeps wires the fakes with a sleeper that returns immediately.
func testDeps(v *fakeVenue, q *fakeQuotes) Deps {
	return Deps{
		Gateway:   v,
		Quotes:    q,
		Positions: v,
		Guard:     NewSymbolGuard(),
		Sleep:     func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func testConfig() Config {
	cfg := DefaultConfig("BTC-USD")
	cfg.QuoteWaitLimit = 3
	return cfg
}
