package portfolio

import (
	"strings"

	"github.com/Rhymond/go-money"
)

// DefaultCurrency is assumed when the backend does not report one.
const DefaultCurrency = money.USD

// FormatMoney renders an amount with the currency's symbol and minor units,
// e.g. "$1,234.50". Unknown currency codes fall back to USD.
func FormatMoney(amount Money, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	cur := money.GetCurrency(code)
	if cur == nil {
		code = DefaultCurrency
		cur = money.GetCurrency(code)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}
