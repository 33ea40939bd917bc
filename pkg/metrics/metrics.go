// Package metrics derives portfolio figures from a holdings snapshot. All
// functions are pure and deterministic.
package metrics

import (
	"github.com/shopspring/decimal"

	"tradedesk/pkg/portfolio"
)

var hundred = decimal.NewFromInt(100)

// AggregateMetrics summarises a portfolio. It is recomputed on every read.
type AggregateMetrics struct {
	TotalValue    portfolio.Money
	TotalInvested portfolio.Money
	GrowthPercent portfolio.Money
}

// Slice is one segment of the allocation chart.
type Slice struct {
	Label string
	Value portfolio.Money
}

// Position carries per-holding figures used by the holdings table.
type Position struct {
	Ticker        string
	Quantity      int64
	MarketValue   portfolio.Money
	ProfitLoss    portfolio.Money
	ProfitLossPct portfolio.Money
	Weight        portfolio.Money // share of total value, in percent
}

// Trend classifies growth for display.
type Trend int

const (
	TrendFlat Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "flat"
	}
}

// TotalValue sums market value across holdings.
func TotalValue(h portfolio.Holdings) portfolio.Money {
	total := decimal.Zero
	for _, holding := range h {
		total = total.Add(holding.MarketValue)
	}
	return total
}

// TotalInvested sums cost basis across holdings.
func TotalInvested(h portfolio.Holdings) portfolio.Money {
	total := decimal.Zero
	for _, holding := range h {
		total = total.Add(holding.TotalInvested)
	}
	return total
}

// GrowthPercent is (value - invested) / invested * 100, or 0 when nothing is
// invested.
func GrowthPercent(totalValue, totalInvested portfolio.Money) portfolio.Money {
	if !totalInvested.IsPositive() {
		return decimal.Zero
	}
	return totalValue.Sub(totalInvested).Div(totalInvested).Mul(hundred)
}

// Aggregate computes all headline figures in one pass over the snapshot.
func Aggregate(h portfolio.Holdings) AggregateMetrics {
	value := TotalValue(h)
	invested := TotalInvested(h)
	return AggregateMetrics{
		TotalValue:    value,
		TotalInvested: invested,
		GrowthPercent: GrowthPercent(value, invested),
	}
}

// ChartBreakdown maps each holding to a chart slice, in collection order.
func ChartBreakdown(h portfolio.Holdings) []Slice {
	out := make([]Slice, 0, len(h))
	for _, holding := range h {
		out = append(out, Slice{Label: holding.Ticker, Value: holding.MarketValue})
	}
	return out
}

// PositionMetrics returns per-holding P/L and portfolio weight.
func PositionMetrics(h portfolio.Holdings) []Position {
	total := TotalValue(h)
	out := make([]Position, 0, len(h))
	for _, holding := range h {
		p := Position{
			Ticker:        holding.Ticker,
			Quantity:      holding.Quantity,
			MarketValue:   holding.MarketValue,
			ProfitLoss:    holding.ProfitLoss,
			ProfitLossPct: GrowthPercent(holding.MarketValue, holding.TotalInvested),
			Weight:        decimal.Zero,
		}
		if total.IsPositive() {
			p.Weight = holding.MarketValue.Div(total).Mul(hundred)
		}
		out = append(out, p)
	}
	return out
}

// TrendOf reports whether growth is a gain, a loss or neither.
func TrendOf(growth portfolio.Money) Trend {
	switch growth.Sign() {
	case 1:
		return TrendUp
	case -1:
		return TrendDown
	default:
		return TrendFlat
	}
}
