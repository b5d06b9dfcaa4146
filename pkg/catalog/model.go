package catalog

import "github.com/shopspring/decimal"

// Device is a purchasable item; it never changes after the catalog is loaded.
type Device struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image"`
}
