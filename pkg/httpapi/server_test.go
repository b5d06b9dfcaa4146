package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashfity/pkg/cart"
	"cashfity/pkg/catalog"
	"cashfity/pkg/intake"
	"cashfity/pkg/notify"
	"cashfity/pkg/storage"
)

type harness struct {
	handler http.Handler
	intake  *intake.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, cleanup, err := storage.Open(ctx, storage.Config{Type: storage.TypeMemory})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureSchema(ctx, db))
	t.Cleanup(func() {
		db.Close()
		cleanup()
	})
	return newHarnessWithStore(t, storage.NewKV(db))
}

func newHarnessWithStore(t *testing.T, store cart.Store) *harness {
	t.Helper()
	ctx := context.Background()

	catalogService := catalog.NewService(nil)
	_, err := catalogService.Load(ctx, catalog.NewSource("testdata/devices.json", nil))
	require.NoError(t, err)
	cartService := cart.NewService(cart.NewRepository(store, nil), catalogService, nil)
	intakeService := intake.NewService(nil)
	notifyService := notify.NewService(time.Minute)

	t.Cleanup(func() {
		notifyService.Close()
		intakeService.Close()
		cartService.Close()
		catalogService.Close()
	})

	srv, err := New(catalogService, cartService, intakeService, notifyService, nil)
	require.NoError(t, err)
	return &harness{handler: srv.Handler(), intake: intakeService}
}

// brokenStore reads as empty and refuses every write.
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }
func (brokenStore) Put(ctx context.Context, key string, value []byte) error {
	return errors.New("disk full")
}
func (brokenStore) Delete(ctx context.Context, key string) error { return errors.New("disk full") }

// session returns a cookie the middleware will accept as-is.
func session() *http.Cookie {
	return &http.Cookie{Name: SessionCookie, Value: uuid.NewString()}
}

func (h *harness) get(t *testing.T, cookie *http.Cookie, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postForm(t *testing.T, cookie *http.Cookie, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postJSON(t *testing.T, cookie *http.Cookie, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) cart(t *testing.T, cookie *http.Cookie) cartResponse {
	t.Helper()
	rec := h.get(t, cookie, "/api/cart")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPage_IssuesSessionCookie(t *testing.T) {
	h := newHarness(t)

	rec := h.get(t, nil, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	_, err := uuid.Parse(cookies[0].Value)
	assert.NoError(t, err)
	assert.Contains(t, rec.Body.String(), "Earbuds")
	assert.Contains(t, rec.Body.String(), "Your cart is empty")
}

func TestPage_KeepsValidSession(t *testing.T) {
	h := newHarness(t)

	rec := h.get(t, session(), "/")

	assert.Empty(t, rec.Result().Cookies())
}

func TestCartForm_AddRedirectsAndNotifies(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	rec := h.postForm(t, cookie, "/cart/add", url.Values{"id": {"7"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	page := h.get(t, cookie, "/").Body.String()
	assert.Contains(t, page, "Earbuds added to cart")
	assert.NotContains(t, page, "Your cart is empty")
	assert.Contains(t, page, "$22.00")
}

func TestCartForm_DecreaseToEmptyShowsEmptyMessage(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	h.postForm(t, cookie, "/cart/add", url.Values{"id": {"7"}})
	rec := h.postForm(t, cookie, "/cart/decrease", url.Values{"id": {"7"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	assert.Empty(t, h.cart(t, cookie).Items)
	assert.Contains(t, h.get(t, cookie, "/").Body.String(), "Your cart is empty")
}

func TestCartForm_IgnoresBadIDs(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	for _, id := range []string{"", "abc", "999"} {
		rec := h.postForm(t, cookie, "/cart/add", url.Values{"id": {id}})
		assert.Equal(t, http.StatusSeeOther, rec.Code, "id %q", id)
	}
	assert.Empty(t, h.cart(t, cookie).Items)
}

func TestCartForm_UnknownOp(t *testing.T) {
	h := newHarness(t)

	rec := h.postForm(t, session(), "/cart/explode", url.Values{"id": {"1"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_LeavesCartAlone(t *testing.T) {
	h := newHarness(t)
	cookie := session()
	h.postForm(t, cookie, "/cart/add", url.Values{"id": {"1"}})

	rec := h.postForm(t, cookie, "/cart/checkout", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	assert.Equal(t, 1, h.cart(t, cookie).Count)
}

func TestCartForm_StorageFailureRedirectsWithNotice(t *testing.T) {
	h := newHarnessWithStore(t, brokenStore{})
	cookie := session()

	rec := h.postForm(t, cookie, "/cart/add", url.Values{"id": {"7"}})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Header().Get("Content-Type"), "application/json")

	page := h.get(t, cookie, "/")
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "We could not update your cart. Please try again.")
	assert.NotContains(t, page.Body.String(), "Earbuds added to cart")
	assert.Contains(t, page.Body.String(), "Your cart is empty")
}

func TestAPI_StorageFailureIsJSON(t *testing.T) {
	h := newHarnessWithStore(t, brokenStore{})

	rec := h.postJSON(t, session(), "/api/cart/add", `{"id":7}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "disk full")
}

func TestSessions_AreIsolated(t *testing.T) {
	h := newHarness(t)
	alice, bob := session(), session()

	h.postForm(t, alice, "/cart/add", url.Values{"id": {"1"}})

	assert.Equal(t, 1, h.cart(t, alice).Count)
	assert.Equal(t, 0, h.cart(t, bob).Count)
}

func TestForms_SellAndRepairAlwaysSucceed(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	rec := h.postForm(t, cookie, "/forms/sell", url.Values{"name": {""}, "price": {"x"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	rec = h.postForm(t, cookie, "/forms/repair", url.Values{"deviceType": {"phone"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	page := h.get(t, cookie, "/").Body.String()
	assert.Contains(t, page, "Your device has been listed for sale!")
	assert.Contains(t, page, "Your repair request has been submitted!")
}

func TestDonateForm_RejectsNegativeAmount(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	rec := h.postForm(t, cookie, "/forms/donate", url.Values{"amount": {"-5"}})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Please enter a valid donation amount")
	assert.Contains(t, body, `value="-5"`)

	summary, err := h.intake.Donations(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Total.IsZero())
}

func TestDonateForm_RecordsTypedAmountOnEnter(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	// Pressing Enter in the amount field posts the field alone; the preset
	// buttons are not submit controls.
	page := h.get(t, cookie, "/").Body.String()
	require.NotContains(t, page, `type="submit" name="amount"`)

	rec := h.postForm(t, cookie, "/forms/donate", url.Values{"amount": {"37"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = h.get(t, cookie, "/api/donations")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "37", summary["total"])
	assert.Equal(t, "0.37", summary["percent"])

	assert.Contains(t, h.get(t, cookie, "/").Body.String(), "Thank you for your $37.00 donation!")
}

func TestAPI_CartMatchesGolden(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	for _, body := range []string{`{"id":1}`, `{"id":1}`, `{"id":7}`} {
		rec := h.postJSON(t, cookie, "/api/cart/add", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := h.get(t, cookie, "/api/cart")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "api_cart", rec.Body.Bytes())
}

func TestAPI_MutateRejectsBadPayload(t *testing.T) {
	h := newHarness(t)
	cookie := session()

	cases := map[string]struct {
		path   string
		body   string
		status int
	}{
		"malformed json": {"/api/cart/add", `{"id":`, http.StatusBadRequest},
		"missing id":     {"/api/cart/add", `{}`, http.StatusBadRequest},
		"unknown op":     {"/api/cart/explode", `{"id":1}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.postJSON(t, cookie, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestAPI_RemoveUnknownIDIsNoop(t *testing.T) {
	h := newHarness(t)
	cookie := session()
	h.postJSON(t, cookie, "/api/cart/add", `{"id":2}`)

	rec := h.postJSON(t, cookie, "/api/cart/remove", `{"id":42}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.cart(t, cookie).Count)
}

func TestAPI_CatalogAndHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.get(t, session(), "/api/catalog")
	require.Equal(t, http.StatusOK, rec.Code)
	var devices []catalog.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	assert.Len(t, devices, 3)

	rec = h.get(t, session(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["catalog_loaded"])
}
