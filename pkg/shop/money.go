package shop

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"INR": "₹",
}

// FormatMoney renders an amount with two decimals, e.g. "$9.48" or
// "9.48 CHF" when the currency has no known symbol.
func FormatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	s := amount.StringFixed(2)
	sym, ok := currencySymbols[currency]
	if !ok {
		return s + " " + currency
	}
	if amount.IsNegative() {
		return "-" + sym + amount.Abs().StringFixed(2)
	}
	return sym + s
}
