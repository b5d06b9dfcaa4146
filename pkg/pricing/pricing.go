// Package pricing derives cart totals. Amounts stay exact until they are formatted.
package pricing

import (
	"github.com/shopspring/decimal"
)

// TaxRate is fixed at 10% and intentionally not configurable.
var TaxRate = decimal.NewFromFloat(0.10)

// Line is the minimum a priced entry must expose.
type Line interface {
	UnitPrice() decimal.Decimal
	Units() int
}

// Totals holds unrounded amounts.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals sums price × quantity, then applies the tax rate.
func ComputeTotals[L Line](lines []L) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Units()))))
	}
	tax := subtotal.Mul(TaxRate)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

// Formatted is the display form of Totals.
type Formatted struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

// Format rounds every amount to cents for display.
func (t Totals) Format() Formatted {
	return Formatted{
		Subtotal: FormatMoney(t.Subtotal),
		Tax:      FormatMoney(t.Tax),
		Total:    FormatMoney(t.Total),
	}
}

// FormatMoney renders an amount as dollars with two decimals.
func FormatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
