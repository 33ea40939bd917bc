// Package sim provides an in-memory paper-trading backend that satisfies
// transport.Client. It backs the "sim" provider type and the test suites of
// every package above transport.
package sim

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/transport"
)

const historyDays = 30

// Listing is one tradable symbol known to the simulator.
type Listing struct {
	Symbol   string
	Name     string
	Currency string
	Price    portfolio.Money
}

var defaultListings = []Listing{
	{Symbol: "AAPL", Name: "Apple Inc.", Currency: "USD", Price: decimal.RequireFromString("170")},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Currency: "USD", Price: decimal.RequireFromString("300")},
	{Symbol: "TSLA", Name: "Tesla, Inc.", Currency: "USD", Price: decimal.RequireFromString("250")},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Currency: "USD", Price: decimal.RequireFromString("140")},
}

// Provider keeps listings and positions in memory. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	listings  map[string]Listing
	positions map[string]*positionState
	order     []string // tickers in first-bought order
	clock     func() time.Time

	calls    map[string]int
	failures map[string][]error
}

type positionState struct {
	Qty      int64
	Invested portfolio.Money
}

// Option customises the simulator.
type Option func(*Provider)

// WithClock overrides the time source used for price history.
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithListings replaces the default catalogue.
func WithListings(listings ...Listing) Option {
	return func(p *Provider) {
		p.listings = make(map[string]Listing, len(listings))
		for _, l := range listings {
			p.putListingLocked(l)
		}
	}
}

// New constructs a simulator seeded with a small default catalogue.
func New(opts ...Option) *Provider {
	p := &Provider{
		listings:  make(map[string]Listing),
		positions: make(map[string]*positionState),
		clock:     time.Now,
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
	}
	for _, l := range defaultListings {
		p.putListingLocked(l)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) putListingLocked(l Listing) {
	l.Symbol = portfolio.Canonical(l.Symbol)
	if l.Name == "" {
		l.Name = l.Symbol
	}
	if l.Currency == "" {
		l.Currency = portfolio.DefaultCurrency
	}
	p.listings[l.Symbol] = l
}

// SetPrice updates (or creates) the listing price for ticker.
func (p *Provider) SetPrice(ticker string, price portfolio.Money) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.listings[portfolio.Canonical(ticker)]
	if !ok {
		l = Listing{Symbol: ticker}
	}
	l.Price = price
	p.putListingLocked(l)
}

// FailNext queues err to be returned by the next call of op ("search",
// "quote", "buy", "sell" or "portfolio").
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

// Calls reports how many times op has been invoked.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// enterLocked records the call and pops a queued failure, if any.
func (p *Provider) enterLocked(ctx context.Context, op string) error {
	p.calls[op]++
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: op, Message: err.Error(), Err: err}
	}
	if queued := p.failures[op]; len(queued) > 0 {
		p.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

// Search implements transport.Client.
func (p *Provider) Search(ctx context.Context, query string) ([]portfolio.SearchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(ctx, "search"); err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	results := make([]portfolio.SearchResult, 0)
	for _, l := range p.listings {
		if q == "" || strings.Contains(strings.ToLower(l.Symbol), q) || strings.Contains(strings.ToLower(l.Name), q) {
			results = append(results, portfolio.SearchResult{Name: l.Name, Symbol: l.Symbol})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })
	return results, nil
}

// Quote implements transport.Client. Unknown tickers yield (nil, nil).
func (p *Provider) Quote(ctx context.Context, ticker string) (*portfolio.PriceSeries, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(ctx, "quote"); err != nil {
		return nil, err
	}

	l, ok := p.listings[portfolio.Canonical(ticker)]
	if !ok {
		return nil, nil
	}
	today := p.clock().UTC().Truncate(24 * time.Hour)
	points := make([]portfolio.PricePoint, 0, historyDays)
	for i := historyDays - 1; i >= 0; i-- {
		points = append(points, portfolio.PricePoint{Time: today.AddDate(0, 0, -i), Price: l.Price})
	}
	return &portfolio.PriceSeries{
		Ticker:   l.Symbol,
		Name:     l.Name,
		Currency: l.Currency,
		Price:    l.Price,
		Points:   points,
	}, nil
}

// Buy implements transport.Client.
func (p *Provider) Buy(ctx context.Context, ticker string, quantity int64) (*transport.BuyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(ctx, "buy"); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, &transport.Error{Op: "buy", Status: http.StatusBadRequest, Message: "Quantity must be positive"}
	}
	c := portfolio.Canonical(ticker)
	l, ok := p.listings[c]
	if !ok {
		return nil, &transport.Error{Op: "buy", Status: http.StatusNotFound, Message: "Ticker not found"}
	}

	cost := l.Price.Mul(decimal.NewFromInt(quantity))
	pos, ok := p.positions[c]
	if !ok {
		pos = &positionState{Invested: decimal.Zero}
		p.positions[c] = pos
		p.order = append(p.order, c)
	}
	pos.Qty += quantity
	pos.Invested = pos.Invested.Add(cost)
	return &transport.BuyResult{TotalCost: cost}, nil
}

// Sell implements transport.Client. Cost basis is reduced at average cost.
func (p *Provider) Sell(ctx context.Context, ticker string, quantity int64) (*transport.SellResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(ctx, "sell"); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, &transport.Error{Op: "sell", Status: http.StatusBadRequest, Message: "Quantity must be positive"}
	}
	c := portfolio.Canonical(ticker)
	pos, ok := p.positions[c]
	if !ok || pos.Qty < quantity {
		return nil, &transport.Error{Op: "sell", Status: http.StatusBadRequest, Message: "Not enough shares to sell"}
	}
	l := p.listings[c]

	avg := pos.Invested.Div(decimal.NewFromInt(pos.Qty))
	pos.Invested = pos.Invested.Sub(avg.Mul(decimal.NewFromInt(quantity)))
	pos.Qty -= quantity
	if pos.Qty == 0 {
		delete(p.positions, c)
		p.removeOrderLocked(c)
	}
	return &transport.SellResult{TotalRevenue: l.Price.Mul(decimal.NewFromInt(quantity))}, nil
}

func (p *Provider) removeOrderLocked(ticker string) {
	for i, t := range p.order {
		if t == ticker {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// ListHoldings implements transport.Client.
func (p *Provider) ListHoldings(ctx context.Context) (portfolio.Holdings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enterLocked(ctx, "portfolio"); err != nil {
		return nil, err
	}

	holdings := make(portfolio.Holdings, 0, len(p.order))
	for _, c := range p.order {
		pos := p.positions[c]
		price := p.listings[c].Price
		qty := decimal.NewFromInt(pos.Qty)
		value := price.Mul(qty)
		holdings = append(holdings, portfolio.Holding{
			Ticker:        c,
			Quantity:      pos.Qty,
			TotalInvested: pos.Invested,
			PriceBought:   pos.Invested.Div(qty),
			CurrentPrice:  price,
			MarketValue:   value,
			ProfitLoss:    value.Sub(pos.Invested),
		})
	}
	return holdings, nil
}

func init() {
	transport.RegisterProvider("sim", func(name string, cfg *transport.ProviderConfig) (transport.Client, error) {
		if len(cfg.Prices) == 0 {
			return New(), nil
		}
		listings := make([]Listing, 0, len(cfg.Prices))
		for ticker, price := range cfg.Prices {
			listings = append(listings, Listing{Symbol: ticker, Price: decimal.NewFromFloat(price)})
		}
		return New(WithListings(listings...)), nil
	})
}
