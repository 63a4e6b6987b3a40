package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becon/pricing-engine/internal/domain/catalog"
	"github.com/becon/pricing-engine/internal/domain/coupon"
	"github.com/becon/pricing-engine/internal/domain/order"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	order *order.Order
	items []order.LineItem

	savedQuote   *order.Quote
	transition   *order.OrderTransition
	cancellation *order.Cancellation

	paid      bool
	cancelled int
	tracks    []order.StatusTrack
}

func (m *mockOrderRepo) Get(_ context.Context, id int64) (*order.Order, error) {
	if m.order == nil || m.order.ID != id {
		return nil, order.ErrNotFound
	}
	o := *m.order
	return &o, nil
}

func (m *mockOrderRepo) Items(_ context.Context, _ int64) ([]order.LineItem, error) {
	return m.items, nil
}

func (m *mockOrderRepo) ItemsForStore(_ context.Context, _, _ int64) ([]order.LineItem, error) {
	return m.items, nil
}

func (m *mockOrderRepo) SaveQuote(_ context.Context, _ int64, q order.Quote) error {
	m.savedQuote = &q
	return nil
}

func (m *mockOrderRepo) ApplyOrderTransition(_ context.Context, t order.OrderTransition) (int, error) {
	m.transition = &t
	return len(m.items), nil
}

func (m *mockOrderRepo) ApplyItemTransition(_ context.Context, t order.ItemTransition) (int, error) {
	return len(t.ProductIDs), nil
}

func (m *mockOrderRepo) ApplyCancellation(_ context.Context, c order.Cancellation) error {
	m.cancellation = &c
	m.cancelled += len(c.Items)
	return nil
}

func (m *mockOrderRepo) HasSuccessfulPayment(_ context.Context, _ int64) (bool, error) {
	return m.paid, nil
}

func (m *mockOrderRepo) CancelledItemCounts(_ context.Context, _ int64) (int, int, error) {
	return m.cancelled, len(m.items), nil
}

func (m *mockOrderRepo) Tracks(_ context.Context, _ int64) ([]order.StatusTrack, error) {
	return m.tracks, nil
}

func (m *mockOrderRepo) ItemTracks(_ context.Context, _ int64) ([]order.ItemStatusTrack, error) {
	return nil, nil
}

type mockCatalog struct {
	products map[int64]catalog.Product
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []int64) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCoupons struct {
	byCode map[string]*coupon.Coupon
}

func (m *mockCoupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *mockCoupons) FindByID(_ context.Context, _ int64) (*coupon.Coupon, error) {
	return nil, coupon.ErrNotFound
}

func (m *mockCoupons) IncrementUses(_ context.Context, _ int64) error { return nil }

type mockHistory struct{}

func (mockHistory) HasPaidOrders(_ context.Context, _ int64) (bool, error) { return false, nil }

func (mockHistory) HasOrderWithCoupon(_ context.Context, _, _ int64) (bool, error) {
	return false, nil
}

type nopNotifier struct{}

func (nopNotifier) OrderStatusChanged(context.Context, *order.Order, order.Status, *int64, string) error {
	return nil
}

func (nopNotifier) ItemStatusChanged(context.Context, *order.Order, []int64, order.ItemStatus, *int64, string) error {
	return nil
}

func (nopNotifier) OrderCancelled(context.Context, *order.Order, *int64, string) error { return nil }

func (nopNotifier) ItemsCancelled(context.Context, *order.Order, []int64, *int64, string) error {
	return nil
}

// --- Helpers ---

func ptr[T any](v T) *T { return &v }

func newTestServer(t *testing.T) (*httptest.Server, *mockOrderRepo) {
	t.Helper()

	repo := &mockOrderRepo{
		order: &order.Order{ID: 1, Status: order.StatusPlaced, CustomerID: ptr[int64](7)},
		items: []order.LineItem{
			{ID: 101, OrderID: 1, ProductID: ptr[int64](10), Quantity: 2, Price: decimal.RequireFromString("25"), Status: order.ItemPlaced},
		},
	}
	cat := &mockCatalog{products: map[int64]catalog.Product{
		10: {ID: 10, StoreID: 1, BasePrice: decimal.RequireFromString("30")},
	}}
	coupons := &mockCoupons{byCode: map[string]*coupon.Coupon{
		"TEN-OFF": {
			ID: 5, Code: "TEN-OFF", Type: coupon.TypeFixedAmount, Status: coupon.StatusActive,
			DeductAmount: decimal.RequireFromString("10"), ForAllProducts: true, ForAllCustomers: true,
		},
	}}
	engine := coupon.NewEngine(coupons, mockHistory{})
	svc := order.NewService(repo, cat, coupons, engine, nopNotifier{}, decimal.RequireFromString("2"))

	mux := http.NewServeMux()
	NewHandler(svc, engine).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

// --- Tests ---

func TestOrderTotal(t *testing.T) {
	srv, repo := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/orders/1/total", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"total":"52.000"`)
	assert.NotNil(t, repo.savedQuote)

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/api/orders/1/total?store_id=1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"total":"50.000"`)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/api/orders/99/total", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/api/orders/abc/total", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApplyCoupon(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("valid code", func(t *testing.T) {
		resp, body := doRequest(t, http.MethodPost, srv.URL+"/api/cart/coupons",
			`{"code":"TEN-OFF","customer_id":7,"total":"100.000","items":[{"product_id":10,"quantity":2}]}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, `"deduction":"10.000"`)
		assert.Contains(t, body, `"free_shipping":false`)
	})

	t.Run("unknown code", func(t *testing.T) {
		resp, body := doRequest(t, http.MethodPost, srv.URL+"/api/cart/coupons",
			`{"code":"NOPE","total":"100.000"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, body, "invalid coupon code")
	})

	t.Run("missing code", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/cart/coupons", `{"total":"10.000"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestUpdateOrderStatus(t *testing.T) {
	srv, repo := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/api/orders/1/status",
		`{"status":"OFD","actor_id":42}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status_label":"Out For Delivery"`)

	require.NotNil(t, repo.transition)
	assert.Equal(t, order.StatusOutForDelivery, repo.transition.Status)

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/orders/1/status", `{"status":"XX"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateItemStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/orders/1/items/status",
		`{"status":"DEL","product_ids":[10]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/orders/1/items/status",
		`{"status":"DEL"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	t.Run("full cancellation", func(t *testing.T) {
		srv, repo := newTestServer(t)

		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/orders/1/cancel",
			`{"reason":"changed my mind","restock":true}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		require.NotNil(t, repo.cancellation)
		assert.Equal(t, order.StatusCancelled, repo.cancellation.OrderStatus)
		require.Len(t, repo.cancellation.Items, 1)
		assert.Equal(t, 2, repo.cancellation.Items[0].Restock)
	})

	t.Run("partial cancellation", func(t *testing.T) {
		srv, repo := newTestServer(t)

		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/orders/1/cancel",
			`{"reason":"damaged","items":[{"product_id":10,"qty":1}]}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		require.NotNil(t, repo.cancellation)
		assert.Empty(t, repo.cancellation.OrderStatus)
		require.Len(t, repo.cancellation.Items, 1)
		assert.Equal(t, 1, repo.cancellation.Items[0].PartialQty)
	})
}

func TestPaymentStatus(t *testing.T) {
	srv, repo := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/orders/1/payment-status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"payment_status":"Failed"`)

	repo.paid = true
	_, body = doRequest(t, http.MethodGet, srv.URL+"/api/orders/1/payment-status", "")
	assert.Contains(t, body, `"payment_status":"Paid"`)
}

func TestOrderTracks(t *testing.T) {
	srv, repo := newTestServer(t)
	repo.tracks = []order.StatusTrack{
		{ID: 1, OrderID: 1, Status: order.StatusPlaced},
		{ID: 2, OrderID: 1, Status: order.StatusOutForDelivery, Reason: "courier assigned"},
	}

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/orders/1/tracks", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status_label":"Order Placed"`)
	assert.Contains(t, body, `"reason":"courier assigned"`)
}
