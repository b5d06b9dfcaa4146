package cart

import (
	"github.com/shopspring/decimal"

	"cashfity/pkg/catalog"
	"cashfity/pkg/pricing"
)

// LineItem copies the device fields at the moment it was first added.
type LineItem struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image"`
	Quantity int             `json:"quantity"`
}

func (l LineItem) UnitPrice() decimal.Decimal { return l.Price }
func (l LineItem) Units() int                 { return l.Quantity }

// LineTotal is price × quantity, unrounded.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func newLineItem(d catalog.Device) LineItem {
	return LineItem{ID: d.ID, Name: d.Name, Price: d.Price, Image: d.Image, Quantity: 1}
}

// Cart is an ordered list of line items keyed by device id.
type Cart struct {
	Items []LineItem
}

// Empty reports whether the cart has no line items.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Find returns the line item for id.
func (c Cart) Find(id int) (LineItem, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.Items[i], true
	}
	return LineItem{}, false
}

// Count is the number of units across all lines.
func (c Cart) Count() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Totals prices the cart.
func (c Cart) Totals() pricing.Totals {
	return pricing.ComputeTotals(c.Items)
}

func (c Cart) indexOf(id int) int {
	for i, item := range c.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (c Cart) clone() Cart {
	items := make([]LineItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}
