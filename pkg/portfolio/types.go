package portfolio

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Money is a monetary amount in the backend's quote currency.
type Money = decimal.Decimal

// Canonical normalises ticker symbols the way the backend stores them.
func Canonical(ticker string) string { return strings.ToUpper(strings.TrimSpace(ticker)) }

// Holding is the server-reported position in a single ticker.
type Holding struct {
	Ticker        string `json:"ticker"`
	Quantity      int64  `json:"quantity"`
	TotalInvested Money  `json:"total_invested"`
	PriceBought   Money  `json:"price_bought"` // average cost basis
	CurrentPrice  Money  `json:"current_price"`
	MarketValue   Money  `json:"market_value"`
	ProfitLoss    Money  `json:"profit_loss"`
}

// Holdings is the portfolio as returned by the backend, in backend order.
type Holdings []Holding

// Normalize returns a copy with canonical tickers, without zero-quantity or
// unnamed rows, and with market value and P/L filled when the backend left
// them empty.
func (h Holdings) Normalize() Holdings {
	out := make(Holdings, 0, len(h))
	for _, holding := range h {
		holding.Ticker = Canonical(holding.Ticker)
		if holding.Ticker == "" || holding.Quantity <= 0 {
			continue
		}
		if holding.MarketValue.IsZero() && !holding.CurrentPrice.IsZero() {
			holding.MarketValue = holding.CurrentPrice.Mul(decimal.NewFromInt(holding.Quantity))
		}
		if holding.ProfitLoss.IsZero() {
			holding.ProfitLoss = holding.MarketValue.Sub(holding.TotalInvested)
		}
		out = append(out, holding)
	}
	return out
}

// Find looks up a holding by ticker.
func (h Holdings) Find(ticker string) (Holding, bool) {
	key := Canonical(ticker)
	for _, holding := range h {
		if Canonical(holding.Ticker) == key {
			return holding, true
		}
	}
	return Holding{}, false
}

// QuantityOf returns the held quantity, zero when the ticker is not held.
func (h Holdings) QuantityOf(ticker string) int64 {
	holding, ok := h.Find(ticker)
	if !ok {
		return 0
	}
	return holding.Quantity
}

// Clone returns an independent copy of the collection.
func (h Holdings) Clone() Holdings {
	if h == nil {
		return nil
	}
	out := make(Holdings, len(h))
	copy(out, h)
	return out
}

// SearchResult is a single ticker search hit.
type SearchResult struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// PricePoint is one close in a price history.
type PricePoint struct {
	Time  time.Time
	Price Money
}

// PriceSeries is a quote plus its recent history, ordered oldest first.
type PriceSeries struct {
	Ticker   string
	Name     string
	Currency string
	Price    Money
	Points   []PricePoint
}

// SortPoints orders the history by timestamp ascending.
func (p *PriceSeries) SortPoints() {
	sort.SliceStable(p.Points, func(i, j int) bool { return p.Points[i].Time.Before(p.Points[j].Time) })
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is known.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// TradeRequest is a proposed trade. It is built per user action and dropped
// once the backend round-trip resolves.
type TradeRequest struct {
	ID       string
	Ticker   string
	Quantity int64
	Side     Side
}

// NewTradeRequest builds a request with a fresh correlation ID.
func NewTradeRequest(side Side, ticker string, quantity int64) TradeRequest {
	return TradeRequest{
		ID:       uuid.NewString(),
		Ticker:   Canonical(ticker),
		Quantity: quantity,
		Side:     side,
	}
}

func (r TradeRequest) String() string {
	return fmt.Sprintf("%s %d %s", r.Side, r.Quantity, r.Ticker)
}

// TradeResult is the backend's account of an executed trade.
type TradeResult struct {
	Request TradeRequest
	// Amount is the total cost of a buy or the total revenue of a sell.
	Amount  Money
	Message string
}
