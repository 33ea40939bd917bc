// Package trade validates and submits buy/sell requests, keeps the holdings
// cache consistent with executed trades and reports every outcome through
// the notification dispatcher.
package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/syncx"

	"tradedesk/pkg/cache"
	"tradedesk/pkg/notify"
	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/transport"
)

const (
	titleSuccess = "Transaction Successful"
	titleFailed  = "Transaction Failed"
	titleInvalid = "Invalid Quantity"
)

// State is a step of a single trade attempt.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition describes a state change of one trade attempt.
type Transition struct {
	Request portfolio.TradeRequest
	From    State
	To      State
	Err     error
}

// Option customises an Executor.
type Option func(*Executor)

// WithStaleness sets how old cached holdings may be for the oversell guard.
// Zero accepts holdings of any age until they are invalidated;
// cache.AlwaysRefetch loads them from the backend on every read.
func WithStaleness(d time.Duration) Option {
	return func(e *Executor) {
		e.staleness = d
	}
}

// WithCurrency sets the currency used to format amounts in notifications.
func WithCurrency(code string) Option {
	return func(e *Executor) {
		if code != "" {
			e.currency = code
		}
	}
}

// WithTransitionHook registers fn to observe every state change. fn runs on
// the trading goroutine and must not block.
func WithTransitionHook(fn func(Transition)) Option {
	return func(e *Executor) {
		e.onTransition = fn
	}
}

// Executor runs trades one at a time per ticker.
type Executor struct {
	client    transport.Client
	holdings  *cache.Cache[portfolio.Holdings]
	notifier  *notify.Dispatcher
	staleness time.Duration
	currency  string
	locks     syncx.LockedCalls

	mu           sync.Mutex
	states       map[string]State
	onTransition func(Transition)
}

// NewExecutor wires an executor to the backend, the shared holdings cache and
// the notification queue.
func NewExecutor(client transport.Client, holdings *cache.Cache[portfolio.Holdings], notifier *notify.Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		client:    client,
		holdings:  holdings,
		notifier:  notifier,
		staleness: cache.DefaultTradeStaleness,
		currency:  portfolio.DefaultCurrency,
		locks:     syncx.NewLockedCalls(),
		states:    make(map[string]State),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State reports where the current attempt for ticker is. Tickers without an
// attempt in progress are Idle.
func (e *Executor) State(ticker string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[portfolio.Canonical(ticker)]
}

// Holdings reads the portfolio through the cache with the trade staleness
// tolerance. The result is a copy the caller may modify.
func (e *Executor) Holdings(ctx context.Context) (portfolio.Holdings, error) {
	if e.staleness < 0 {
		e.holdings.Invalidate(cache.HoldingsKey())
	}
	h, err := e.holdings.Read(ctx, cache.HoldingsKey(), e.client.ListHoldings, e.staleness)
	return h.Clone(), err
}

// Buy submits a market buy of quantity shares.
func (e *Executor) Buy(ctx context.Context, ticker string, quantity int64) (*portfolio.TradeResult, error) {
	return e.Submit(ctx, portfolio.NewTradeRequest(portfolio.SideBuy, ticker, quantity))
}

// Sell submits a market sell of quantity shares.
func (e *Executor) Sell(ctx context.Context, ticker string, quantity int64) (*portfolio.TradeResult, error) {
	return e.Submit(ctx, portfolio.NewTradeRequest(portfolio.SideSell, ticker, quantity))
}

// Submit validates and executes req. Trades on the same ticker never overlap.
func (e *Executor) Submit(ctx context.Context, req portfolio.TradeRequest) (*portfolio.TradeResult, error) {
	req.Ticker = portfolio.Canonical(req.Ticker)
	v, err := e.locks.Do(req.Ticker, func() (any, error) {
		return e.run(ctx, req, nil)
	})
	res, _ := v.(*portfolio.TradeResult)
	return res, err
}

// SellAll sells exactly the quantity currently held for ticker.
func (e *Executor) SellAll(ctx context.Context, ticker string) (*portfolio.TradeResult, error) {
	ticker = portfolio.Canonical(ticker)
	v, err := e.locks.Do(ticker, func() (any, error) {
		holdings, err := e.Holdings(ctx)
		if err != nil {
			req := portfolio.NewTradeRequest(portfolio.SideSell, ticker, 0)
			return e.run(ctx, req, err)
		}
		// A zero or missing position is rejected by the validation step.
		req, _ := SellAllRequest(ticker, holdings)
		return e.run(ctx, req, nil)
	})
	res, _ := v.(*portfolio.TradeResult)
	return res, err
}

// run drives one attempt through the state machine. holdingsErr short-cuts
// to the failure path when holdings could not be loaded by the caller.
func (e *Executor) run(ctx context.Context, req portfolio.TradeRequest, holdingsErr error) (*portfolio.TradeResult, error) {
	log := logx.WithContext(ctx)
	e.transition(req, StateValidating, nil)

	if holdingsErr != nil {
		return nil, e.fail(ctx, req, holdingsErr)
	}

	var holdings portfolio.Holdings
	if req.Side == portfolio.SideSell && req.Ticker != "" && req.Quantity > 0 {
		h, err := e.Holdings(ctx)
		if err != nil {
			return nil, e.fail(ctx, req, fmt.Errorf("load holdings: %w", err))
		}
		holdings = h
	}
	if err := Validate(req, holdings); err != nil {
		return nil, e.fail(ctx, req, err)
	}

	e.transition(req, StateSubmitting, nil)
	log.Infof("trade %s: submitting %s", req.ID, req)

	result := &portfolio.TradeResult{Request: req}
	switch req.Side {
	case portfolio.SideBuy:
		res, err := e.client.Buy(ctx, req.Ticker, req.Quantity)
		if err != nil {
			return nil, e.fail(ctx, req, err)
		}
		result.Amount, result.Message = res.TotalCost, res.Message
	case portfolio.SideSell:
		res, err := e.client.Sell(ctx, req.Ticker, req.Quantity)
		if err != nil {
			return nil, e.fail(ctx, req, err)
		}
		result.Amount, result.Message = res.TotalRevenue, res.Message
	}

	// Holdings must be stale before anyone learns the trade went through.
	e.holdings.Invalidate(cache.HoldingsKey())
	e.transition(req, StateSucceeded, nil)
	e.notifier.Dispatch(ctx, notify.KindSuccess, titleSuccess, e.successDescription(result))
	log.Infof("trade %s: %s done, amount %s", req.ID, req, result.Amount)
	e.transition(req, StateIdle, nil)
	return result, nil
}

func (e *Executor) fail(ctx context.Context, req portfolio.TradeRequest, err error) error {
	e.transition(req, StateFailed, err)

	var verr *ValidationError
	if errors.As(err, &verr) {
		logx.WithContext(ctx).Infof("trade %s: %s rejected: %v", req.ID, req, err)
		e.notifier.Dispatch(ctx, notify.KindInvalid, titleInvalid, verr.Description())
	} else {
		logx.WithContext(ctx).Errorf("trade %s: %s failed: %v", req.ID, req, err)
		e.notifier.Dispatch(ctx, notify.KindFailure, titleFailed, failureDescription(req.Side, err))
	}

	e.transition(req, StateIdle, err)
	return err
}

func (e *Executor) successDescription(res *portfolio.TradeResult) string {
	amount := portfolio.FormatMoney(res.Amount, e.currency)
	if res.Request.Side == portfolio.SideSell {
		return "Sell successful! Total sold: " + amount
	}
	return "Buy successful! Total cost: " + amount
}

func failureDescription(side portfolio.Side, err error) string {
	verb := "buy"
	if side == portfolio.SideSell {
		verb = "sell"
	}
	desc := fmt.Sprintf("Failed to %s stock.", verb)
	if msg := transport.Message(err); msg != "" {
		desc += " " + msg
	}
	return desc
}

func (e *Executor) transition(req portfolio.TradeRequest, to State, err error) {
	e.mu.Lock()
	from := e.states[req.Ticker]
	if to == StateIdle {
		delete(e.states, req.Ticker)
	} else {
		e.states[req.Ticker] = to
	}
	hook := e.onTransition
	e.mu.Unlock()

	if hook != nil {
		hook(Transition{Request: req, From: from, To: to, Err: err})
	}
}
