package transport

import (
	"context"
	"errors"
	"fmt"

	"tradedesk/pkg/portfolio"
)

// ErrNotFound is returned by helpers that need an error value for a quote
// with no match. Client.Quote itself reports "not found" as (nil, nil).
var ErrNotFound = errors.New("transport: ticker not found")

// Client is the contract the trading core expects from the backend.
// Implementations never retry; retry policy belongs to the caller.
type Client interface {
	// Search returns tickers whose symbol or name matches query.
	Search(ctx context.Context, query string) ([]portfolio.SearchResult, error)
	// Quote returns the current price and recent history, or nil when the
	// backend reports an empty result set.
	Quote(ctx context.Context, ticker string) (*portfolio.PriceSeries, error)
	// Buy executes a market buy.
	Buy(ctx context.Context, ticker string, quantity int64) (*BuyResult, error)
	// Sell executes a market sell.
	Sell(ctx context.Context, ticker string, quantity int64) (*SellResult, error)
	// ListHoldings returns the current portfolio.
	ListHoldings(ctx context.Context) (portfolio.Holdings, error)
}

// BuyResult is the backend's answer to a buy.
type BuyResult struct {
	TotalCost portfolio.Money `json:"totalCost"`
	Message   string          `json:"message"`
}

// SellResult is the backend's answer to a sell.
type SellResult struct {
	TotalRevenue portfolio.Money `json:"totalRevenue"`
	Message      string          `json:"message"`
}

// Error reports a failed backend call. Status is the HTTP status code, or 0
// when the request never produced a response.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("transport: %s: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStatus reports whether err is a transport error with the given status.
func IsStatus(err error, status int) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Status == status
}

// Message extracts the human readable part of a transport error, falling
// back to err.Error() for anything else.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return err.Error()
}
