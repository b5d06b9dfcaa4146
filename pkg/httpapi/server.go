package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cashfity/pkg/cart"
	"cashfity/pkg/catalog"
	"cashfity/pkg/intake"
	"cashfity/pkg/notify"
	"cashfity/pkg/pricing"
	"cashfity/pkg/view"
)

// SessionCookie carries the shopper's session id.
const SessionCookie = "cashfity_session"

type sessionKey struct{}

// Server wires HTTP endpoints to the channel-owned storefront services.
type Server struct {
	catalog  *catalog.Service
	carts    *cart.Service
	intake   *intake.Service
	notices  *notify.Service
	renderer *view.Renderer
	logger   *zap.Logger
	now      func() time.Time
}

// New prepares the template once so each request only executes it.
func New(catalogService *catalog.Service, cartService *cart.Service, intakeService *intake.Service, notifyService *notify.Service, logger *zap.Logger) (*Server, error) {
	renderer, err := view.NewRenderer()
	if err != nil {
		return nil, errors.Wrap(err, "parse page template")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		catalog:  catalogService,
		carts:    cartService,
		intake:   intakeService,
		notices:  notifyService,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Handler exposes the page, the form posts, and the JSON API behind the session middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.page)
	mux.HandleFunc("POST /cart/checkout", s.checkout)
	mux.HandleFunc("POST /cart/{op}", s.cartForm)
	mux.HandleFunc("POST /forms/sell", s.sellForm)
	mux.HandleFunc("POST /forms/repair", s.repairForm)
	mux.HandleFunc("POST /forms/donate", s.donateForm)
	mux.HandleFunc("GET /api/catalog", s.listCatalog)
	mux.HandleFunc("GET /api/cart", s.showCart)
	mux.HandleFunc("POST /api/cart/{op}", s.mutateCart)
	mux.HandleFunc("GET /api/donations", s.showDonations)
	mux.HandleFunc("GET /healthz", s.health)
	return s.withSession(mux)
}

// withSession makes sure every request carries a session id, issuing one on first contact.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := ""
		if c, err := r.Cookie(SessionCookie); err == nil {
			if id, err := uuid.Parse(c.Value); err == nil {
				session = id.String()
			}
		}
		if session == "" {
			session = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    session,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(ctx context.Context) string {
	session, _ := ctx.Value(sessionKey{}).(string)
	return session
}

// page renders the full storefront.
func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, intake.DonationRequest{})
}

// renderPage is the full view refresh: every region is rebuilt from current state.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, form intake.DonationRequest) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	session := sessionFrom(ctx)

	devices, err := s.catalog.List(ctx)
	if err != nil {
		s.failPage(w, "catalog unavailable", err)
		return
	}
	current, err := s.carts.Get(ctx, session)
	if err != nil {
		s.failPage(w, "cart unavailable", err)
		return
	}
	notes, err := s.notices.Active(ctx, session)
	if err != nil {
		s.failPage(w, "notifications unavailable", err)
		return
	}
	donations, err := s.intake.Donations(ctx)
	if err != nil {
		s.failPage(w, "donations unavailable", err)
		return
	}

	p := view.NewPage(view.Input{
		Devices:      devices,
		Cart:         current,
		Notices:      notes,
		Donations:    donations,
		DonationForm: form,
		Now:          s.now(),
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.renderer.Render(w, p); err != nil {
		s.logger.Error("page render failed", zap.String("session", session), zap.Error(err))
	}
}

// cartForm handles the four cart buttons. Malformed or unknown ids are ignored.
func (s *Server) cartForm(w http.ResponseWriter, r *http.Request) {
	op, err := cart.ParseOp(r.PathValue("op"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.Atoi(strings.TrimSpace(r.FormValue("id")))
	if err != nil {
		s.logger.Debug("ignoring cart form with malformed id", zap.String("op", string(op)), zap.String("id", r.FormValue("id")))
		redirectHome(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := s.applyCart(ctx, op, id); err != nil {
		s.failForm(w, r, "cart update failed", msgCartFailed, err)
		return
	}
	redirectHome(w, r)
}

// applyCart runs a mutation and queues the add confirmation.
func (s *Server) applyCart(ctx context.Context, op cart.Op, id int) (cart.Result, error) {
	session := sessionFrom(ctx)
	res, err := s.carts.Mutate(ctx, session, cart.Command{Op: op, DeviceID: id})
	if err != nil {
		return cart.Result{}, err
	}
	if res.Device != nil {
		s.notifyQuietly(ctx, session, fmt.Sprintf("%s added to cart", res.Device.Name), notify.KindSuccess)
	}
	return res, nil
}

// checkout has no defined behaviour yet; it is recorded and the cart is left alone.
func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	session := sessionFrom(ctx)

	current, err := s.carts.Get(ctx, session)
	if err != nil {
		s.failForm(w, r, "checkout failed", msgCartFailed, err)
		return
	}
	s.logger.Info("checkout requested",
		zap.String("session", session),
		zap.Int("items", current.Count()),
		zap.String("total", pricing.FormatMoney(current.Totals().Total)),
	)
	redirectHome(w, r)
}

func (s *Server) sellForm(w http.ResponseWriter, r *http.Request) {
	req := intake.SellRequest{
		Name:        r.FormValue("name"),
		Price:       r.FormValue("price"),
		Condition:   r.FormValue("condition"),
		Description: r.FormValue("description"),
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	receipt, err := s.intake.Sell(ctx, req)
	if err != nil {
		s.failForm(w, r, "sell form failed", msgFormFailed, err)
		return
	}
	s.notifyQuietly(ctx, sessionFrom(ctx), receipt.Message, notify.KindSuccess)
	redirectHome(w, r)
}

func (s *Server) repairForm(w http.ResponseWriter, r *http.Request) {
	req := intake.RepairRequest{
		DeviceType:       r.FormValue("deviceType"),
		IssueDescription: r.FormValue("issueDescription"),
		ContactInfo:      r.FormValue("contactInfo"),
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	receipt, err := s.intake.Repair(ctx, req)
	if err != nil {
		s.failForm(w, r, "repair form failed", msgFormFailed, err)
		return
	}
	s.notifyQuietly(ctx, sessionFrom(ctx), receipt.Message, notify.KindSuccess)
	redirectHome(w, r)
}

// donateForm redirects on success; a rejected amount re-renders the page with the input kept.
func (s *Server) donateForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.failForm(w, r, "donation form unreadable", msgFormFailed, err)
		return
	}
	req := intake.DonationRequest{
		Amount:  r.PostFormValue("amount"),
		RoundUp: isChecked(r.PostFormValue("roundUp")),
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	session := sessionFrom(ctx)

	receipt, err := s.intake.Donate(ctx, req)
	if err != nil {
		if intake.IsValidation(err) {
			s.logger.Info("donation rejected", zap.String("amount", req.Amount), zap.Error(err))
			s.notifyQuietly(ctx, session, err.Error(), notify.KindError)
			s.renderPage(w, r, http.StatusUnprocessableEntity, req)
			return
		}
		s.failForm(w, r, "donation failed", msgFormFailed, err)
		return
	}
	s.notifyQuietly(ctx, session, receipt.Message, notify.KindSuccess)
	redirectHome(w, r)
}

func (s *Server) listCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	devices, err := s.catalog.List(ctx)
	if err != nil {
		s.fail(w, "catalog listing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// cartResponse is the JSON form of a cart with display-ready totals.
type cartResponse struct {
	Items  []cart.LineItem   `json:"items"`
	Count  int               `json:"count"`
	Totals pricing.Formatted `json:"totals"`
}

func newCartResponse(c cart.Cart) cartResponse {
	items := c.Items
	if items == nil {
		items = []cart.LineItem{}
	}
	return cartResponse{Items: items, Count: c.Count(), Totals: c.Totals().Format()}
}

func (s *Server) showCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	current, err := s.carts.Get(ctx, sessionFrom(ctx))
	if err != nil {
		s.fail(w, "cart unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(current))
}

// mutateCart is the JSON twin of cartForm. Unknown ids still succeed and leave the cart as is.
func (s *Server) mutateCart(w http.ResponseWriter, r *http.Request) {
	op, err := cart.ParseOp(r.PathValue("op"))
	if err != nil {
		s.respondError(w, err.Error(), http.StatusNotFound)
		return
	}
	var payload struct {
		ID *int `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Debug("cart mutation rejected: unable to decode payload", zap.Error(err))
		s.respondError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.ID == nil {
		s.respondError(w, "id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res, err := s.applyCart(ctx, op, *payload.ID)
	if err != nil {
		s.fail(w, "cart update failed", err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(res.Cart))
}

func (s *Server) showDonations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	summary, err := s.intake.Donations(ctx)
	if err != nil {
		s.fail(w, "donations unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"catalog_loaded": s.catalog.Loaded(ctx),
	})
}

// notifyQuietly queues a toast; a full queue only costs the shopper a message.
func (s *Server) notifyQuietly(ctx context.Context, session, message string, kind notify.Kind) {
	if _, err := s.notices.Notify(ctx, session, message, kind); err != nil {
		s.logger.Warn("notification dropped", zap.String("session", session), zap.String("message", message), zap.Error(err))
	}
}

// Shown to shoppers when a form post hits an infrastructure error.
const (
	msgCartFailed = "We could not update your cart. Please try again."
	msgFormFailed = "We could not process your request. Please try again."
)

// failForm logs an infrastructure error behind a form post and sends the shopper
// back to the page with an error notification.
func (s *Server) failForm(w http.ResponseWriter, r *http.Request, message, shopperMessage string, err error) {
	s.logger.Error(message, zap.String("path", r.URL.Path), zap.Error(err))
	s.notifyQuietly(context.WithoutCancel(r.Context()), sessionFrom(r.Context()), shopperMessage, notify.KindError)
	redirectHome(w, r)
}

// failPage logs an error while building the page and answers in plain text.
func (s *Server) failPage(w http.ResponseWriter, message string, err error) {
	s.logger.Error(message, zap.Error(err))
	http.Error(w, "The storefront is temporarily unavailable.", http.StatusInternalServerError)
}

// fail logs an infrastructure error and reports it as JSON.
func (s *Server) fail(w http.ResponseWriter, message string, err error) {
	s.logger.Error(message, zap.Error(err))
	s.respondError(w, err.Error(), http.StatusInternalServerError)
}

// respondError keeps JSON formatting consistent across endpoints.
func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// redirectHome is the post/redirect/get step that triggers the full page refresh.
func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func isChecked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}
