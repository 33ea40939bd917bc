package view

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/pkg/cache"
	"tradedesk/pkg/metrics"
	"tradedesk/pkg/notify"
	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/trade"
	"tradedesk/pkg/transport"
	"tradedesk/pkg/transport/sim"
)

type env struct {
	backend  *sim.Provider
	holdings *cache.Cache[portfolio.Holdings]
	notifier *notify.Dispatcher
	exec     *trade.Executor
	trade    *TradeView
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		backend:  sim.New(),
		holdings: cache.New[portfolio.Holdings](),
		notifier: notify.New(),
	}
	t.Cleanup(e.holdings.Close)
	e.exec = trade.NewExecutor(e.backend, e.holdings, e.notifier)
	e.trade = NewTradeView(e.backend, e.exec, e.notifier)
	return e
}

func TestQueryUnknownTickerYieldsNotFound(t *testing.T) {
	e := newEnv(t)

	state, err := e.trade.Query(context.Background(), "ZZZZ")
	require.NoError(t, err)
	assert.True(t, state.NotFound)
	assert.Nil(t, state.Series)
	assert.Equal(t, "No Ticker Found for ZZZZ", state.Message())
	assert.Empty(t, e.notifier.All(), "not found is a state, not a failure")
}

func TestQueryOverHTTPEmptyArrayYieldsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()
	client := transport.NewHTTPClient(srv.URL, transport.WithName(t.Name()))
	holdings := cache.New[portfolio.Holdings]()
	defer holdings.Close()
	notifier := notify.New()
	v := NewTradeView(client, trade.NewExecutor(client, holdings, notifier), notifier)

	state, err := v.Query(context.Background(), "ZZZZ")
	require.NoError(t, err)
	assert.True(t, state.NotFound)
	assert.Equal(t, "No Ticker Found for ZZZZ", state.Message())
}

func TestQueryFailureNotifies(t *testing.T) {
	e := newEnv(t)
	e.backend.FailNext("quote", &transport.Error{Op: "quote", Status: http.StatusInternalServerError, Message: "quote service down"})

	state, err := e.trade.Query(context.Background(), "AAPL")
	require.Error(t, err)
	assert.False(t, state.NotFound)
	assert.Contains(t, state.Message(), "quote service down")

	notes := e.notifier.All()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindFailure, notes[0].Kind)
}

func TestTradeViewSellAllThenSell(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.backend.Buy(ctx, "MSFT", 4)
	require.NoError(t, err)

	state, err := e.trade.Query(ctx, "msft")
	require.NoError(t, err)
	require.NotNil(t, state.Series)
	assert.Equal(t, "MSFT", state.Ticker())

	held, err := e.trade.CurrentQuantity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), held)

	q, err := e.trade.SellAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), q)
	assert.Equal(t, int64(4), e.trade.Quantity())
	assert.Zero(t, e.backend.Calls("sell"), "sell all only fills in the quantity")

	res, err := e.trade.Sell(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Request.Quantity)

	held, err = e.trade.CurrentQuantity(ctx)
	require.NoError(t, err)
	assert.Zero(t, held)
}

func TestTradeViewBuyWithoutTicker(t *testing.T) {
	e := newEnv(t)
	e.trade.SetQuantity(3)

	_, err := e.trade.Buy(context.Background())
	var verr *trade.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, trade.ReasonMissingTicker, verr.Reason)
	assert.Zero(t, e.backend.Calls("buy"))
}

func TestTradeViewSearch(t *testing.T) {
	e := newEnv(t)
	results, err := e.trade.Search(context.Background(), "app")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "AAPL", results[0].Symbol)
}

func TestPortfolioViewPublishesMetrics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.backend.Buy(ctx, "AAPL", 10)
	require.NoError(t, err)
	e.backend.SetPrice("AAPL", decimal.RequireFromString("187"))

	pv := NewPortfolioView(e.backend, e.holdings, 10*time.Millisecond)
	defer pv.Close()

	snap := waitFor(t, pv, func(s Snapshot) bool { return s.Loaded && !s.Empty })
	assert.True(t, decimal.RequireFromString("1870").Equal(snap.Metrics.TotalValue))
	assert.True(t, decimal.RequireFromString("1700").Equal(snap.Metrics.TotalInvested))
	assert.True(t, decimal.RequireFromString("10").Equal(snap.Metrics.GrowthPercent))
	assert.Equal(t, metrics.TrendUp, snap.Trend)
	require.Len(t, snap.Breakdown, 1)
	assert.Equal(t, "AAPL", snap.Breakdown[0].Label)
}

func TestPortfolioViewReflectsTrades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.backend.Buy(ctx, "AAPL", 10)
	require.NoError(t, err)

	pv := NewPortfolioView(e.backend, e.holdings, 10*time.Millisecond)
	defer pv.Close()

	first, err := pv.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), first.Holdings.QuantityOf("AAPL"))

	_, err = e.exec.Buy(ctx, "AAPL", 5)
	require.NoError(t, err)

	next, err := pv.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), next.Holdings.QuantityOf("AAPL"), "read after a buy reflects it")
}

func TestPortfolioViewKeepsDataOnRefreshFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.backend.Buy(ctx, "TSLA", 2)
	require.NoError(t, err)

	pv := NewPortfolioView(e.backend, e.holdings, 10*time.Millisecond)
	defer pv.Close()
	waitFor(t, pv, func(s Snapshot) bool { return s.Loaded })

	e.backend.FailNext("portfolio", &transport.Error{Op: "portfolio", Message: "timeout"})
	snap := waitFor(t, pv, func(s Snapshot) bool { return s.Err != nil })
	assert.Equal(t, int64(2), snap.Holdings.QuantityOf("TSLA"), "previous holdings retained")

	waitFor(t, pv, func(s Snapshot) bool { return s.Err == nil })
}

func TestPortfolioViewEmptyAndClose(t *testing.T) {
	e := newEnv(t)
	pv := NewPortfolioView(e.backend, e.holdings, 10*time.Millisecond)

	snap := waitFor(t, pv, func(s Snapshot) bool { return s.Loaded })
	assert.True(t, snap.Empty)
	assert.True(t, snap.Metrics.GrowthPercent.IsZero())
	assert.True(t, e.holdings.Polling(cache.HoldingsKey()))

	pv.Close()
	pv.Close()
	assert.False(t, e.holdings.Polling(cache.HoldingsKey()), "last observer gone stops the timer")

	for range pv.Updates() {
	}
}

func TestPortfolioViewShowsCachedHoldingsImmediately(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.backend.Buy(ctx, "GOOGL", 3)
	require.NoError(t, err)

	_, err = e.exec.Holdings(ctx)
	require.NoError(t, err)
	fetched := e.backend.Calls("portfolio")

	pv := NewPortfolioView(e.backend, e.holdings, time.Hour)
	defer pv.Close()

	snap := pv.Snapshot()
	assert.True(t, snap.Loaded, "warm cache renders without waiting for a tick")
	assert.Equal(t, int64(3), snap.Holdings.QuantityOf("GOOGL"))
	assert.Equal(t, fetched, e.backend.Calls("portfolio"))

	select {
	case s := <-pv.Updates():
		assert.Equal(t, int64(3), s.Holdings.QuantityOf("GOOGL"))
	default:
		t.Fatal("cached snapshot was not published")
	}
}

func TestPortfolioViewIgnoresOutOfOrderEvents(t *testing.T) {
	e := newEnv(t)
	pv := NewPortfolioView(e.backend, e.holdings, time.Hour)
	defer pv.Close()

	newer := portfolio.Holdings{{Ticker: "MSFT", Quantity: 2}}
	older := portfolio.Holdings{{Ticker: "MSFT", Quantity: 1}}
	pv.onEvent(cache.Event[portfolio.Holdings]{Key: cache.HoldingsKey(), Value: newer, Seq: 100})
	pv.onEvent(cache.Event[portfolio.Holdings]{Key: cache.HoldingsKey(), Value: older, Seq: 99})

	assert.Equal(t, int64(2), pv.Snapshot().Holdings.QuantityOf("MSFT"))
}

func waitFor(t *testing.T, pv *PortfolioView, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, open := <-pv.Updates():
			require.True(t, open, "updates closed early")
			if ok(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for portfolio snapshot")
			return Snapshot{}
		}
	}
}
