package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"perp_exec/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_NeverFillsExhaustsBudget(t *testing.T) {
	v := newFakeVenue()
	journal := &fakeJournal{}
	deps := testDeps(v, quoteAt("50000", "50010"))
	deps.Journal = journal

	res, err := NewEntryEngine(testConfig(), deps).Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrAttemptsExhausted)
	assert.Equal(t, 10, res.Attempts)
	assert.Len(t, v.placed, 10, "exactly one placement per attempt")
	assert.Equal(t, 10, v.cancels, "each unfilled order is cancelled")
	assert.Equal(t, 1, v.leverageCalls)

	for _, req := range v.placed {
		assert.Equal(t, domain.SideBuy, req.Side)
		assert.True(t, req.Price.Equal(d("50000")), "long entry rests at the bid")
		assert.Equal(t, 2, req.Leverage)
	}

	require.Len(t, journal.records, 1)
	assert.Equal(t, domain.KindEntry, journal.records[0].Kind)
	assert.Equal(t, domain.OutcomeExhausted, journal.records[0].Outcome)
	assert.Equal(t, 10, journal.records[0].Placements)
}

func TestEntry_SizesFromMid(t *testing.T) {
	v := newFakeVenue()
	res, err := NewEntryEngine(testConfig(), testDeps(v, quoteAt("49995", "50005"))).
		Open(context.Background(), domain.SideSell, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeExhausted, res.Outcome)

	// 100 / 50000 = 0.002
	assert.True(t, v.placed[0].Quantity.Equal(d("0.002")), "got %s", v.placed[0].Quantity)
	assert.True(t, v.placed[0].Price.Equal(d("50005")), "short entry rests at the ask")
}

func TestEntry_ExistingPositionPlacesNothing(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("0.5")

	res, err := NewEntryEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFilled, res.Outcome)
	assert.True(t, res.Quantity.Equal(d("0.5")))
	assert.Empty(t, v.placed)
	assert.Zero(t, v.cancels)
}

func TestEntry_FillsOnThirdAttempt(t *testing.T) {
	v := newFakeVenue()
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		if n == 3 {
			v.setPosition(req.Quantity.String())
		}
	}

	res, err := NewEntryEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFilled, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, res.Placements)
	assert.Equal(t, 2, v.cancels)
}

func TestEntry_PartialFillShrinksNextOrder(t *testing.T) {
	v := newFakeVenue()
	v.status = func(req domain.OrderRequest) (domain.OrderStatus, error) {
		return domain.OrderStatus{FilledQuantity: d("0.001"), TotalQuantity: req.Quantity}, nil
	}
	cfg := testConfig()
	cfg.EntryMaxAttempts = 2

	res, err := NewEntryEngine(cfg, testDeps(v, quoteAt("50000", "50010"))).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeExhausted, res.Outcome)

	require.Len(t, v.placed, 2)
	assert.True(t, v.placed[0].Quantity.Equal(d("0.002")))
	assert.True(t, v.placed[1].Quantity.Equal(d("0.001")), "remainder should carry to the next attempt")
}

func TestEntry_OrderGoneWithoutPositionKeepsGoing(t *testing.T) {
	v := newFakeVenue()
	v.status = func(req domain.OrderRequest) (domain.OrderStatus, error) {
		return domain.OrderStatus{}, domain.ErrOrderNotFound
	}
	cfg := testConfig()
	cfg.EntryMaxAttempts = 3

	res, err := NewEntryEngine(cfg, testDeps(v, quoteAt("50000", "50010"))).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.Len(t, v.placed, 3)
	assert.Zero(t, v.cancels, "an order that left the book is not cancelled")
}

func TestEntry_PlacementFailureConsumesAttempt(t *testing.T) {
	v := newFakeVenue()
	v.placeErr = errors.New("rejected")

	res, err := NewEntryEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.Equal(t, 10, res.Attempts)
	assert.Zero(t, res.Placements)
}

func TestEntry_NoQuoteGivesUp(t *testing.T) {
	v := newFakeVenue()

	res, err := NewEntryEngine(testConfig(), testDeps(v, &fakeQuotes{})).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrQuoteUnavailable)
	assert.Empty(t, v.placed)
}

func TestEntry_SymbolBusy(t *testing.T) {
	v := newFakeVenue()
	deps := testDeps(v, quoteAt("50000", "50010"))

	release, err := deps.Guard.TryAcquire("BTC-USD")
	require.NoError(t, err)
	defer release()

	_, err = NewEntryEngine(testConfig(), deps).Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrSymbolBusy)
	assert.Empty(t, v.placed)
}

func TestEntry_InterruptedDuringDwell(t *testing.T) {
	v := newFakeVenue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := testDeps(v, quoteAt("50000", "50010"))
	cfg := testConfig()
	deps.Sleep = func(ctx context.Context, dur time.Duration) error {
		if dur == cfg.Dwell {
			cancel()
		}
		return ctx.Err()
	}

	res, err := NewEntryEngine(cfg, deps).Open(ctx, domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeInterrupted, res.Outcome)
	assert.Len(t, v.placed, 1)
	assert.Zero(t, v.cancels, "interruption leaves venue orders as they are")
	assert.False(t, deps.Guard.Held("BTC-USD"), "guard released after the run")
}

func TestEntry_LeverageFailureKeepsGoing(t *testing.T) {
	v := newFakeVenue()
	v.leverageErr = errors.New("leverage rejected")
	cfg := testConfig()
	cfg.EntryMaxAttempts = 2

	res, err := NewEntryEngine(cfg, testDeps(v, quoteAt("50000", "50010"))).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.Equal(t, 1, v.leverageCalls)
	assert.Len(t, v.placed, 2, "orders still go out at the existing leverage")
	assert.Equal(t, 2, v.cancels)
}

func TestEntry_QuoteDropMidLoopDoesNotConsumeAttempts(t *testing.T) {
	v := newFakeVenue()
	quotes := quoteAt("50000", "50010")
	saved, _ := quotes.CurrentQuote()

	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		if n == 1 {
			quotes.set(nil)
			return
		}
		v.setPosition(req.Quantity.String())
	}

	cfg := testConfig()
	cfg.EntryMaxAttempts = 2

	deps := testDeps(v, quotes)
	waits := 0
	deps.Sleep = func(ctx context.Context, dur time.Duration) error {
		// the pause after attempt 1 plus two quote waits, then the feed is back
		if _, err := quotes.CurrentQuote(); err != nil && dur == cfg.LoopSleep {
			waits++
			if waits == 3 {
				quotes.set(&saved)
			}
		}
		return ctx.Err()
	}

	res, err := NewEntryEngine(cfg, deps).Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFilled, res.Outcome)
	assert.Equal(t, 2, res.Attempts, "waiting for a quote must not use up an attempt")
	assert.Equal(t, 2, res.Placements)
	assert.Equal(t, 3, waits)
}

func TestEntry_QuoteDropPastLimitGivesUp(t *testing.T) {
	v := newFakeVenue()
	quotes := quoteAt("50000", "50010")
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		quotes.set(nil)
	}

	res, err := NewEntryEngine(testConfig(), testDeps(v, quotes)).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrQuoteUnavailable)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, v.placed, 1)
}

func TestEntry_LowPricedMarketJoinsTouchWithoutCrossing(t *testing.T) {
	v := newFakeVenue()
	cfg := testConfig()
	cfg.Symbol = "DOGE-USD"
	cfg.Spec = domain.DefaultSymbolSpec("DOGE-USD")
	cfg.EntryMaxAttempts = 1

	_, err := NewEntryEngine(cfg, testDeps(v, quoteAt("0.12345", "0.12351"))).
		Open(context.Background(), domain.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	require.Len(t, v.placed, 1)
	assert.True(t, v.placed[0].Price.Equal(d("0.12345")), "got %s", v.placed[0].Price)
	assert.True(t, v.placed[0].Price.LessThan(d("0.12351")))
}

func TestUsdToAssetSize(t *testing.T) {
	btc := domain.DefaultSymbolSpec("BTC-USD")
	eth := domain.DefaultSymbolSpec("ETH-USD")

	tests := []struct {
		name string
		usd  string
		mid  string
		spec domain.SymbolSpec
		want string
	}{
		{"btc 100 usd", "100", "50000", btc, "0.002"},
		{"btc floors to min", "1", "50000", btc, "0.001"},
		{"eth 100 usd", "100", "3000", eth, "0.0333"},
		{"eth floors to min", "0.01", "3000", eth, "0.0001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UsdToAssetSize(d(tt.usd), d(tt.mid), tt.spec)
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}

	_, err := UsdToAssetSize(d("100"), decimal.Zero, btc)
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
}
