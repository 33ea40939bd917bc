package trade

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/pkg/cache"
	"tradedesk/pkg/notify"
	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/transport"
	"tradedesk/pkg/transport/sim"
)

type fixture struct {
	exec     *Executor
	backend  *sim.Provider
	holdings *cache.Cache[portfolio.Holdings]
	notifier *notify.Dispatcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		backend:  sim.New(),
		holdings: cache.New[portfolio.Holdings](),
		notifier: notify.New(),
	}
	t.Cleanup(f.holdings.Close)
	f.exec = NewExecutor(f.backend, f.holdings, f.notifier, opts...)
	return f
}

// seed buys directly at the backend, bypassing the executor.
func (f *fixture) seed(t *testing.T, ticker string, qty int64) {
	t.Helper()
	_, err := f.backend.Buy(context.Background(), ticker, qty)
	require.NoError(t, err)
}

func TestSellOverHoldingIsRejectedBeforeTransport(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AAPL", 10)
	ctx := context.Background()

	_, err := f.exec.Sell(ctx, "AAPL", 11)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonOversell, verr.Reason)
	assert.Equal(t, int64(10), verr.Held)
	assert.Zero(t, f.backend.Calls("sell"), "no transport call for a rejected trade")

	notes := f.notifier.All()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindInvalid, notes[0].Kind)
	assert.Equal(t, "Invalid Quantity", notes[0].Title)

	res, err := f.exec.Sell(ctx, "AAPL", 10)
	require.NoError(t, err, "selling the whole position is allowed")
	assert.Equal(t, int64(10), res.Request.Quantity)
}

func TestNonPositiveQuantityIsRejected(t *testing.T) {
	f := newFixture(t)
	for _, qty := range []int64{0, -3} {
		_, err := f.exec.Buy(context.Background(), "AAPL", qty)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, ReasonInvalidQuantity, verr.Reason)
	}
	assert.Zero(t, f.backend.Calls("buy"))
	assert.Zero(t, f.backend.Calls("portfolio"), "buy validation never needs holdings")
	assert.Len(t, f.notifier.All(), 2)
}

func TestBuyInvalidatesHoldingsBeforeNotifying(t *testing.T) {
	var states []State
	var staleAtSuccess bool
	var f *fixture
	f = newFixture(t, WithTransitionHook(func(tr Transition) {
		states = append(states, tr.To)
		if tr.To == StateSucceeded {
			e, _ := f.holdings.Peek(cache.HoldingsKey())
			staleAtSuccess = e.State != cache.StateFresh
			assert.Empty(t, f.notifier.All(), "notification comes after invalidation")
		}
	}))
	f.seed(t, "AAPL", 10)
	ctx := context.Background()

	before, err := f.exec.Holdings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), before.QuantityOf("AAPL"))

	res, err := f.exec.Buy(ctx, "aapl", 5)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Request.Ticker)
	assert.True(t, staleAtSuccess)
	assert.Equal(t, []State{StateValidating, StateSubmitting, StateSucceeded, StateIdle}, states)

	after, err := f.exec.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), after.QuantityOf("AAPL"), "next read reflects the trade")

	notes := f.notifier.All()
	require.Len(t, notes, 1)
	assert.Equal(t, "Transaction Successful", notes[0].Title)
	assert.Equal(t, "Buy successful! Total cost: $850.00", notes[0].Description)
	assert.Equal(t, StateIdle, f.exec.State("AAPL"))
}

func TestFailedBuyLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AAPL", 10)
	ctx := context.Background()

	_, err := f.exec.Holdings(ctx)
	require.NoError(t, err)
	before, _ := f.holdings.Peek(cache.HoldingsKey())

	f.backend.FailNext("buy", &transport.Error{Op: "buy", Status: http.StatusInternalServerError, Message: "exchange closed"})
	_, err = f.exec.Buy(ctx, "AAPL", 5)
	require.Error(t, err)
	assert.True(t, transport.IsStatus(err, http.StatusInternalServerError))

	after, _ := f.holdings.Peek(cache.HoldingsKey())
	assert.Equal(t, before.Value, after.Value)
	assert.Equal(t, before.FetchedAt, after.FetchedAt)
	assert.Equal(t, cache.StateFresh, after.State)

	notes := f.notifier.All()
	require.Len(t, notes, 1, "exactly one failure notification")
	assert.Equal(t, notify.KindFailure, notes[0].Kind)
	assert.Equal(t, "Transaction Failed", notes[0].Title)
	assert.Equal(t, "Failed to buy stock. exchange closed", notes[0].Description)
}

func TestSellAllSellsExactHolding(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "MSFT", 7)
	ctx := context.Background()

	res, err := f.exec.SellAll(ctx, "msft")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Request.Quantity)
	assert.Equal(t, portfolio.SideSell, res.Request.Side)

	notes := f.notifier.All()
	require.Len(t, notes, 1)
	assert.Equal(t, "Sell successful! Total sold: $2,100.00", notes[0].Description)

	_, err = f.exec.SellAll(ctx, "MSFT")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr, "nothing left to sell")
	assert.Equal(t, ReasonInvalidQuantity, verr.Reason)
	assert.Equal(t, 1, f.backend.Calls("sell"))
}

func TestHoldingsFailureFailsSell(t *testing.T) {
	f := newFixture(t)
	boom := &transport.Error{Op: "portfolio", Message: "connection refused"}
	f.backend.FailNext("portfolio", boom)

	_, err := f.exec.Sell(context.Background(), "AAPL", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Zero(t, f.backend.Calls("sell"))

	notes := f.notifier.All()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindFailure, notes[0].Kind)
}

func TestConcurrentSellsOnOneTickerAreSerialised(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "TSLA", 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.exec.Sell(context.Background(), "TSLA", 10)
		}()
	}
	wg.Wait()

	succeeded, oversold := 0, 0
	for _, err := range errs {
		var verr *ValidationError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &verr) && verr.Reason == ReasonOversell:
			oversold++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, oversold, "the second sell sees the refreshed position")
	assert.Equal(t, 1, f.backend.Calls("sell"))
}

func TestAlwaysRefetchLoadsHoldingsOnEveryRead(t *testing.T) {
	ctx := context.Background()

	cached := newFixture(t)
	cached.seed(t, "AAPL", 1)
	for i := 0; i < 2; i++ {
		_, err := cached.exec.Holdings(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, cached.backend.Calls("portfolio"))

	live := newFixture(t, WithStaleness(cache.AlwaysRefetch))
	live.seed(t, "AAPL", 1)
	for i := 0; i < 2; i++ {
		_, err := live.exec.Holdings(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, live.backend.Calls("portfolio"))

	live.seed(t, "AAPL", 4)
	h, err := live.exec.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.QuantityOf("AAPL"), "backend change seen without invalidation")
}

func TestHoldingsReturnsCallerOwnedCopy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "TSLA", 2)
	ctx := context.Background()

	h, err := f.exec.Holdings(ctx)
	require.NoError(t, err)
	require.Len(t, h, 1)
	h[0].Quantity = 99

	again, err := f.exec.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.QuantityOf("TSLA"))
}
