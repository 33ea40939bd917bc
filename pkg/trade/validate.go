package trade

import (
	"fmt"

	"tradedesk/pkg/portfolio"
)

// Reason names the constraint a rejected trade violated.
type Reason string

const (
	ReasonInvalidQuantity Reason = "invalid_quantity"
	ReasonOversell        Reason = "oversell"
	ReasonMissingTicker   Reason = "missing_ticker"
	ReasonInvalidSide     Reason = "invalid_side"
)

// ValidationError is returned before any network call when a trade request
// breaks a local constraint.
type ValidationError struct {
	Reason    Reason
	Ticker    string
	Requested int64
	Held      int64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonInvalidQuantity:
		return fmt.Sprintf("trade: invalid quantity %d for %s", e.Requested, e.Ticker)
	case ReasonOversell:
		return fmt.Sprintf("trade: cannot sell %d %s, only %d held", e.Requested, e.Ticker, e.Held)
	case ReasonMissingTicker:
		return "trade: ticker is required"
	default:
		return fmt.Sprintf("trade: rejected (%s)", e.Reason)
	}
}

// Description is the user-facing explanation of the rejection.
func (e *ValidationError) Description() string {
	switch e.Reason {
	case ReasonOversell:
		return fmt.Sprintf("Please enter a valid quantity. You hold %d shares of %s.", e.Held, e.Ticker)
	case ReasonMissingTicker:
		return "Please select a ticker before trading."
	default:
		return "Please enter a valid quantity."
	}
}

// Validate checks req against local constraints. holdings is only consulted
// for sells.
func Validate(req portfolio.TradeRequest, holdings portfolio.Holdings) error {
	if req.Ticker == "" {
		return &ValidationError{Reason: ReasonMissingTicker, Requested: req.Quantity}
	}
	if !req.Side.Valid() {
		return &ValidationError{Reason: ReasonInvalidSide, Ticker: req.Ticker, Requested: req.Quantity}
	}
	if req.Quantity <= 0 {
		return &ValidationError{Reason: ReasonInvalidQuantity, Ticker: req.Ticker, Requested: req.Quantity}
	}
	if req.Side == portfolio.SideSell {
		held := holdings.QuantityOf(req.Ticker)
		if req.Quantity > held {
			return &ValidationError{Reason: ReasonOversell, Ticker: req.Ticker, Requested: req.Quantity, Held: held}
		}
	}
	return nil
}

// SellAllRequest builds a sell for exactly the quantity currently held. A
// ticker with no position yields an InvalidQuantity error.
func SellAllRequest(ticker string, holdings portfolio.Holdings) (portfolio.TradeRequest, error) {
	req := portfolio.NewTradeRequest(portfolio.SideSell, ticker, holdings.QuantityOf(ticker))
	if req.Ticker == "" {
		return req, &ValidationError{Reason: ReasonMissingTicker}
	}
	if req.Quantity <= 0 {
		return req, &ValidationError{Reason: ReasonInvalidQuantity, Ticker: req.Ticker}
	}
	return req, nil
}
