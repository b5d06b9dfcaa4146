package intake

import "github.com/shopspring/decimal"

// SellRequest lists a shopper's device for sale. Nothing is validated.
type SellRequest struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Condition   string `json:"condition"`
	Description string `json:"description"`
}

// RepairRequest asks for a repair quote. Nothing is validated.
type RepairRequest struct {
	DeviceType       string `json:"device_type"`
	IssueDescription string `json:"issue_description"`
	ContactInfo      string `json:"contact_info"`
}

// DonationRequest carries the raw amount field and the round-up checkbox.
type DonationRequest struct {
	Amount  string `json:"amount"`
	RoundUp bool   `json:"round_up"`
}

// Receipt is the outcome shown to the shopper.
type Receipt struct {
	Message string
	// Amount is the accepted donation, zero for other forms.
	Amount decimal.Decimal
}

// DonationSummary drives the progress bar.
type DonationSummary struct {
	Total   decimal.Decimal `json:"total"`
	Goal    decimal.Decimal `json:"goal"`
	Percent decimal.Decimal `json:"percent"`
}

// DonationPresets are the quick-pick amounts offered next to the amount field.
var DonationPresets = []int{10, 25, 50, 100}
