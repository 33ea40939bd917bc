package view

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"tradedesk/pkg/notify"
	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/trade"
	"tradedesk/pkg/transport"
)

// QueryState is the outcome of the last ticker lookup.
type QueryState struct {
	Query    string
	Series   *portfolio.PriceSeries
	NotFound bool
	Err      error
}

// Message is the status line for the lookup, empty when a series is shown.
func (q QueryState) Message() string {
	switch {
	case q.NotFound:
		return fmt.Sprintf("No Ticker Found for %s", q.Query)
	case q.Err != nil:
		return fmt.Sprintf("Could not load %s: %s", q.Query, transport.Message(q.Err))
	default:
		return ""
	}
}

// Ticker is the symbol of the loaded series, or "".
func (q QueryState) Ticker() string {
	if q.Series == nil {
		return ""
	}
	return q.Series.Ticker
}

// TradeView holds the trade screen: the looked-up ticker, the pending
// quantity and the actions that submit trades for it.
type TradeView struct {
	client   transport.Client
	exec     *trade.Executor
	notifier *notify.Dispatcher

	mu      sync.Mutex
	query   QueryState
	pending int64
}

// NewTradeView builds a trade screen on top of an executor.
func NewTradeView(client transport.Client, exec *trade.Executor, notifier *notify.Dispatcher) *TradeView {
	return &TradeView{client: client, exec: exec, notifier: notifier}
}

// Search lists tickers matching query.
func (v *TradeView) Search(ctx context.Context, query string) ([]portfolio.SearchResult, error) {
	results, err := v.client.Search(ctx, query)
	if err != nil {
		logx.WithContext(ctx).Errorf("trade view: search %q: %v", query, err)
		return nil, err
	}
	return results, nil
}

// Query loads the price series for ticker. A ticker the backend does not
// know yields a NotFound state and no error.
func (v *TradeView) Query(ctx context.Context, ticker string) (QueryState, error) {
	q := strings.TrimSpace(ticker)
	series, err := v.client.Quote(ctx, q)
	state := QueryState{Query: q}
	switch {
	case err != nil:
		state.Err = err
		logx.WithContext(ctx).Errorf("trade view: query %q: %v", q, err)
		v.notifier.Dispatch(ctx, notify.KindFailure, "Query Failed", state.Message())
	case series == nil:
		state.NotFound = true
	default:
		state.Series = series
	}

	v.mu.Lock()
	v.query = state
	v.mu.Unlock()
	return state, err
}

// Current returns the last lookup.
func (v *TradeView) Current() QueryState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// CurrentQuantity is the number of shares held of the looked-up ticker.
func (v *TradeView) CurrentQuantity(ctx context.Context) (int64, error) {
	ticker := v.Current().Ticker()
	if ticker == "" {
		return 0, nil
	}
	h, err := v.exec.Holdings(ctx)
	if err != nil && h == nil {
		return 0, err
	}
	return h.QuantityOf(ticker), err
}

// SetQuantity sets the pending trade size. It is validated on submission.
func (v *TradeView) SetQuantity(q int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = q
}

// Quantity returns the pending trade size.
func (v *TradeView) Quantity() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending
}

// SellAll sets the pending quantity to the full position. It does not submit.
func (v *TradeView) SellAll(ctx context.Context) (int64, error) {
	held, err := v.CurrentQuantity(ctx)
	if err != nil {
		return v.Quantity(), err
	}
	v.SetQuantity(held)
	return held, nil
}

// Buy submits a buy of the pending quantity for the looked-up ticker.
func (v *TradeView) Buy(ctx context.Context) (*portfolio.TradeResult, error) {
	return v.exec.Buy(ctx, v.Current().Ticker(), v.Quantity())
}

// Sell submits a sell of the pending quantity for the looked-up ticker.
func (v *TradeView) Sell(ctx context.Context) (*portfolio.TradeResult, error) {
	return v.exec.Sell(ctx, v.Current().Ticker(), v.Quantity())
}
