// Package view projects catalog, cart, and notification state into the storefront page.
// The page is rebuilt from scratch on every render.
package view

import (
	"embed"
	"html/template"
	"io"
	"time"

	"cashfity/pkg/cart"
	"cashfity/pkg/catalog"
	"cashfity/pkg/intake"
	"cashfity/pkg/notify"
	"cashfity/pkg/pricing"
)

//go:embed public_html/app.gohtml
var uiFS embed.FS

// DeviceCard is one tile of the device grid.
type DeviceCard struct {
	ID    int
	Name  string
	Price string
	Image string
}

// CartLine is one row of the cart panel.
type CartLine struct {
	ID        int
	Name      string
	Price     string
	Image     string
	Quantity  int
	LineTotal string
}

// Notice is a toast with the time it has left on screen.
type Notice struct {
	ID          string
	Message     string
	Kind        string
	RemainingMS int64
}

// DonationView feeds the progress bar.
type DonationView struct {
	Total   string
	Goal    string
	Percent string
}

// Page is everything the template needs.
type Page struct {
	Devices      []DeviceCard
	Lines        []CartLine
	CartEmpty    bool
	CartCount    int
	Totals       pricing.Formatted
	Notices      []Notice
	Donations    DonationView
	DonationForm intake.DonationRequest
	Presets      []int
}

// Input is the state snapshot a page is built from.
type Input struct {
	Devices      []catalog.Device
	Cart         cart.Cart
	Notices      []notify.Notification
	Donations    intake.DonationSummary
	DonationForm intake.DonationRequest
	Now          time.Time
}

// NewPage converts state into display strings; rounding happens here and nowhere earlier.
func NewPage(in Input) Page {
	p := Page{
		Devices:   make([]DeviceCard, 0, len(in.Devices)),
		Lines:     make([]CartLine, 0, len(in.Cart.Items)),
		CartEmpty: in.Cart.Empty(),
		CartCount: in.Cart.Count(),
		Totals:    in.Cart.Totals().Format(),
		Notices:   make([]Notice, 0, len(in.Notices)),
		Donations: DonationView{
			Total:   pricing.FormatMoney(in.Donations.Total),
			Goal:    pricing.FormatMoney(in.Donations.Goal),
			Percent: in.Donations.Percent.StringFixed(2),
		},
		DonationForm: in.DonationForm,
		Presets:      intake.DonationPresets,
	}
	for _, d := range in.Devices {
		p.Devices = append(p.Devices, DeviceCard{
			ID:    d.ID,
			Name:  d.Name,
			Price: pricing.FormatMoney(d.Price),
			Image: d.Image,
		})
	}
	for _, item := range in.Cart.Items {
		p.Lines = append(p.Lines, CartLine{
			ID:        item.ID,
			Name:      item.Name,
			Price:     pricing.FormatMoney(item.Price),
			Image:     item.Image,
			Quantity:  item.Quantity,
			LineTotal: pricing.FormatMoney(item.LineTotal()),
		})
	}
	for _, n := range in.Notices {
		p.Notices = append(p.Notices, Notice{
			ID:          n.ID.String(),
			Message:     n.Message,
			Kind:        string(n.Kind),
			RemainingMS: n.Remaining(in.Now).Milliseconds(),
		})
	}
	return p
}

// Renderer executes the embedded page template.
type Renderer struct {
	page *template.Template
}

// NewRenderer parses the template once so each request only executes it.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(uiFS, "public_html/app.gohtml")
	if err != nil {
		return nil, err
	}
	return &Renderer{page: tmpl}, nil
}

// Render writes the full page for p.
func (r *Renderer) Render(w io.Writer, p Page) error {
	return r.page.Execute(w, p)
}
