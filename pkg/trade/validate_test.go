package trade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/pkg/portfolio"
)

func TestValidate(t *testing.T) {
	held := portfolio.Holdings{{Ticker: "AAPL", Quantity: 10}}
	tests := []struct {
		name string
		req  portfolio.TradeRequest
		want Reason
	}{
		{"buy ok", portfolio.NewTradeRequest(portfolio.SideBuy, "AAPL", 1), ""},
		{"buy without position ok", portfolio.NewTradeRequest(portfolio.SideBuy, "TSLA", 3), ""},
		{"sell whole position", portfolio.NewTradeRequest(portfolio.SideSell, "AAPL", 10), ""},
		{"oversell", portfolio.NewTradeRequest(portfolio.SideSell, "AAPL", 11), ReasonOversell},
		{"sell unheld", portfolio.NewTradeRequest(portfolio.SideSell, "MSFT", 1), ReasonOversell},
		{"zero", portfolio.NewTradeRequest(portfolio.SideBuy, "AAPL", 0), ReasonInvalidQuantity},
		{"negative sell", portfolio.NewTradeRequest(portfolio.SideSell, "AAPL", -1), ReasonInvalidQuantity},
		{"no ticker", portfolio.NewTradeRequest(portfolio.SideBuy, "  ", 1), ReasonMissingTicker},
		{"bad side", portfolio.NewTradeRequest("short", "AAPL", 1), ReasonInvalidSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req, held)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Reason)
			assert.NotEmpty(t, verr.Description())
		})
	}
}

func TestSellAllRequestUsesExactQuantity(t *testing.T) {
	for _, q := range []int64{1, 10, 12345} {
		req, err := SellAllRequest("aapl", portfolio.Holdings{{Ticker: "AAPL", Quantity: q}})
		require.NoError(t, err)
		assert.Equal(t, q, req.Quantity)
		assert.Equal(t, portfolio.SideSell, req.Side)
		assert.NoError(t, Validate(req, portfolio.Holdings{{Ticker: "AAPL", Quantity: q}}))
	}

	_, err := SellAllRequest("AAPL", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonInvalidQuantity, verr.Reason)
}

func TestOversellDescriptionNamesHolding(t *testing.T) {
	err := &ValidationError{Reason: ReasonOversell, Ticker: "AAPL", Requested: 11, Held: 10}
	assert.Contains(t, err.Description(), "10 shares of AAPL")
	assert.Contains(t, err.Error(), "cannot sell 11 AAPL")
}
