package execution

import (
	"context"
	"errors"
	"testing"

	"perp_exec/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExit_NoPosition(t *testing.T) {
	v := newFakeVenue()

	res, err := NewExitEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	assert.Equal(t, "no position", res.Reason)
	assert.Empty(t, v.placed)
}

func TestExit_ShortClosesWithBuyAboveAsk(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("-2.5")
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		v.setPosition("0")
	}

	res, err := NewExitEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	require.Len(t, v.placed, 1)

	req := v.placed[0]
	assert.Equal(t, domain.SideBuy, req.Side)
	assert.True(t, req.Quantity.Equal(d("2.5")))
	assert.True(t, req.Price.GreaterThan(d("50010")), "price %s should be above the ask", req.Price)
	// 50010 * 1.0005 = 50035.005, rounded up to the tick
	assert.True(t, req.Price.Equal(d("50035.1")), "got %s", req.Price)
	assert.Equal(t, 1, req.Leverage)
}

func TestExit_LongClosesWithSellBelowBid(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("0.002")
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		v.setPosition("0")
	}

	res, err := NewExitEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	require.Len(t, v.placed, 1)
	assert.Equal(t, domain.SideSell, v.placed[0].Side)
	// 50000 * 0.9995 = 49975
	assert.True(t, v.placed[0].Price.Equal(d("49975")), "got %s", v.placed[0].Price)
}

func TestExit_ClosingPriceNeverOnTheTouch(t *testing.T) {
	cfg := testConfig()
	cfg.ExitOffset = decimal.Zero
	x := NewExitEngine(cfg, Deps{})

	q := domain.Quote{Bid: d("100.0"), Ask: d("100.1")}

	sell := x.closingPrice(domain.SideSell, q)
	assert.True(t, sell.Equal(d("99.9")), "got %s", sell)

	buy := x.closingPrice(domain.SideBuy, q)
	assert.True(t, buy.Equal(d("100.2")), "got %s", buy)
}

func TestExit_PartialReductionClosesRemainder(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("1.0")
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		if n == 1 {
			v.setPosition("0.4")
			return
		}
		v.setPosition("0")
	}

	res, err := NewExitEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	require.Len(t, v.placed, 2)
	assert.True(t, v.placed[1].Quantity.Equal(d("0.4")))
	assert.Equal(t, 1, v.cancels)
}

func TestExit_ExhaustionFallsBackToMarket(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("0.002")
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		if n == 21 {
			v.setPosition("0")
		}
	}

	res, err := NewExitEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	assert.Equal(t, "market fallback", res.Reason)
	assert.Equal(t, 20, res.Attempts)
	require.Len(t, v.placed, 21)

	last := v.placed[20]
	assert.Equal(t, domain.SideSell, last.Side)
	// book bid 50000 * 0.99
	assert.True(t, last.Price.Equal(d("49500")), "got %s", last.Price)
	assert.Equal(t, 21, v.cancels, "20 attempt cancels plus one before the fallback")
}

func TestExit_FallbackFailure(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("-0.002")

	res, err := NewExitEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	require.Len(t, v.placed, 21)
	last := v.placed[20]
	assert.Equal(t, domain.SideBuy, last.Side)
	// book ask 50010 * 1.01 = 50510.1
	assert.True(t, last.Price.Equal(d("50510.1")), "got %s", last.Price)
}

func TestExit_SymbolBusy(t *testing.T) {
	v := newFakeVenue()
	deps := testDeps(v, quoteAt("50000", "50010"))
	release, _ := deps.Guard.TryAcquire("BTC-USD")
	defer release()

	_, err := NewExitEngine(testConfig(), deps).Close(context.Background())
	assert.ErrorIs(t, err, domain.ErrSymbolBusy)
}

func TestExit_LowPricedMarketStaysNearTheTouch(t *testing.T) {
	cfg := testConfig()
	cfg.Symbol = "DOGE-USD"
	cfg.Spec = domain.DefaultSymbolSpec("DOGE-USD")
	x := NewExitEngine(cfg, Deps{})

	q := domain.Quote{Bid: d("0.1234"), Ask: d("0.1236")}

	buy := x.closingPrice(domain.SideBuy, q)
	// 0.1236 * 1.0005 = 0.12366, up to the 0.0001 tick
	assert.True(t, buy.Equal(d("0.1237")), "got %s", buy)

	sell := x.closingPrice(domain.SideSell, q)
	assert.True(t, sell.Equal(d("0.1233")), "got %s", sell)
}

func TestExit_ClosingPriceNeverNonPositive(t *testing.T) {
	cfg := testConfig()
	cfg.Spec = domain.SymbolSpec{QtyDecimals: 0, PriceDecimals: 0}
	x := NewExitEngine(cfg, Deps{})

	sell := x.closingPrice(domain.SideSell, domain.Quote{Bid: d("1"), Ask: d("2")})
	assert.True(t, sell.Equal(d("1")), "falls back to the bid, got %s", sell)
}

func TestExit_FallbackNeverNonPositive(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("100")
	v.book = domain.OrderbookSnapshot{
		Bid: []domain.Level{{Price: d("1"), Size: d("1000")}},
		Ask: []domain.Level{{Price: d("2"), Size: d("1000")}},
	}
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		v.setPosition("0")
	}
	cfg := testConfig()
	cfg.Spec = domain.SymbolSpec{QtyDecimals: 0, PriceDecimals: 0}

	res, err := NewExitEngine(cfg, testDeps(v, &fakeQuotes{})).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	require.Len(t, v.placed, 1)
	assert.True(t, v.placed[0].Price.Equal(d("1")), "got %s", v.placed[0].Price)
}

func TestExit_QuoteWaitLimitGoesToFallback(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("0.002")
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		v.setPosition("0")
	}

	res, err := NewExitEngine(testConfig(), testDeps(v, &fakeQuotes{})).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	assert.Equal(t, "market fallback", res.Reason)
	assert.Zero(t, res.Attempts, "no limit attempt without a quote")
	require.Len(t, v.placed, 1)
	assert.True(t, v.placed[0].Price.Equal(d("49500")), "got %s", v.placed[0].Price)
}

func TestExit_PositionReadFailuresGoToFallback(t *testing.T) {
	v := newFakeVenue()
	v.setPosition("0.002")
	v.posErr = errors.New("timeout")
	// initial read plus QuoteWaitLimit+1 loop reads fail, the fallback read succeeds
	v.posErrCalls = 1 + testConfig().QuoteWaitLimit + 1
	v.onPlace = func(v *fakeVenue, n int, req domain.OrderRequest) {
		v.setPosition("0")
	}

	res, err := NewExitEngine(testConfig(), testDeps(v, quoteAt("50000", "50010"))).Close(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeClosed, res.Outcome)
	assert.Equal(t, "market fallback", res.Reason)
	assert.Zero(t, res.Attempts)
	require.Len(t, v.placed, 1)
	assert.Equal(t, domain.SideSell, v.placed[0].Side)
}
