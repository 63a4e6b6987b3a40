//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becon/pricing-engine/internal/domain/coupon"
	"github.com/becon/pricing-engine/internal/domain/order"
	"github.com/becon/pricing-engine/internal/events"
	"github.com/becon/pricing-engine/internal/repository"
)

func seedBaseData(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	mustExec(t, pool, `INSERT INTO products (id, name, store_id, base_price, quantity) VALUES
		(1, 'Waffle', 1, 30.000, 10),
		(2, 'Brulee', 1, 20.000, 10),
		(3, 'Macaron', 2, 8.000, 10)`)
	mustExec(t, pool, `INSERT INTO product_discounts (product_id, percentage) VALUES (2, 50.000)`)
	mustExec(t, pool, `INSERT INTO members (id, email) VALUES (7, 'alice@example.com')`)
	mustExec(t, pool, `INSERT INTO coupons (id, code, type, status, deduct_amount, for_all_products, for_all_customers)
		VALUES (5, 'TEN-OFF', 'FA', 'AC', 10.000, TRUE, TRUE)`)
	mustExec(t, pool, `INSERT INTO orders (id, status, customer_id, coupon_id, shipping_charge)
		VALUES (1, 'OP', 7, 5, 2.000)`)
	mustExec(t, pool, `INSERT INTO order_items (id, order_id, product_id, quantity, price) VALUES
		(101, 1, 1, 2, 25.000),
		(102, 1, 2, 1, 10.000)`)
}

func newService(pool *pgxpool.Pool) *order.Service {
	couponRepo := repository.NewCouponRepository(pool)
	engine := coupon.NewEngine(couponRepo, repository.NewCustomerHistoryRepository(pool))
	return order.NewService(
		repository.NewOrderRepository(pool),
		repository.NewCatalogRepository(pool),
		couponRepo,
		engine,
		events.NopNotifier{},
		decimal.RequireFromString("2"),
	)
}

func TestCustomerTotalPersistsQuote(t *testing.T) {
	pool := setupTestDB(t)
	seedBaseData(t, pool)
	ctx := context.Background()

	svc := newService(pool)

	// Frozen subtotal 60, fixed 10 off, shipping 2.
	total, err := svc.TotalForCustomer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "52.000", total)

	o, err := repository.NewOrderRepository(pool).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "60.000", order.FormatAmount(o.SubTotal))
	assert.Equal(t, "52.000", order.FormatAmount(o.TotalPrice))
	assert.Equal(t, "10.000", order.FormatAmount(o.DiscountedPrice))
}

func TestSellerTotalScopedByStore(t *testing.T) {
	pool := setupTestDB(t)
	seedBaseData(t, pool)
	ctx := context.Background()

	svc := newService(pool)

	total, err := svc.TotalForSeller(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "60.000", total)

	total, err = svc.TotalForSeller(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "0.000", total)
}

func TestOrderTransitionCascades(t *testing.T) {
	pool := setupTestDB(t)
	seedBaseData(t, pool)
	ctx := context.Background()

	svc := newService(pool)
	actor := int64(42)

	err := svc.TransitionOrder(ctx, order.TransitionRequest{
		OrderID: 1,
		Status:  order.StatusOutForDelivery,
		ActorID: &actor,
	})
	require.NoError(t, err)

	repo := repository.NewOrderRepository(pool)
	o, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOutForDelivery, o.Status)
	assert.NotNil(t, o.OutForDeliveryAt)

	items, err := repo.Items(ctx, 1)
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, order.ItemOutForDelivery, it.Status)
	}

	tracks, err := repo.Tracks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, order.StatusOutForDelivery, tracks[0].Status)

	itemTracks, err := repo.ItemTracks(ctx, 101)
	require.NoError(t, err)
	require.Len(t, itemTracks, 1)
	assert.Equal(t, &actor, itemTracks[0].ActorID)
}

func TestCancellationRefundsAndRestocks(t *testing.T) {
	pool := setupTestDB(t)
	seedBaseData(t, pool)
	ctx := context.Background()

	svc := newService(pool)
	repo := repository.NewOrderRepository(pool)

	// Cancel one of the two units of product 1. Refund uses the live base
	// price 30, not the frozen 25.
	err := svc.CancelItems(ctx, 1,
		[]order.CancelItem{{ProductID: 1, Qty: 1}}, nil, "damaged", true)
	require.NoError(t, err)

	o, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "30.000", order.FormatAmount(o.RefundedPrice))
	assert.Equal(t, order.StatusPlaced, o.Status, "partial cancellation keeps the order status")

	var qty int
	err = pool.QueryRow(ctx, `SELECT quantity FROM products WHERE id = 1`).Scan(&qty)
	require.NoError(t, err)
	assert.Equal(t, 11, qty, "cancelled unit returned to inventory")

	// The partial-quantity record keeps the cancelled amount and the reason.
	cancelled, err := repo.CancelledQuantities(ctx, 101)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, 1, cancelled[0].Qty)
	assert.Equal(t, "damaged", cancelled[0].Reason)

	// Refunds accumulate.
	err = svc.CancelItems(ctx, 1,
		[]order.CancelItem{{ProductID: 2, Qty: 1}}, nil, "damaged", false)
	require.NoError(t, err)

	o, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "40.000", order.FormatAmount(o.RefundedPrice))
}

func TestFullCancellationAndPaymentStatus(t *testing.T) {
	pool := setupTestDB(t)
	seedBaseData(t, pool)
	mustExec(t, pool, `INSERT INTO payments (order_id, amount, status) VALUES (1, 52.000, 'success')`)
	ctx := context.Background()

	svc := newService(pool)

	st, err := svc.PaymentStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, st)

	err = svc.CancelOrder(ctx, 1, nil, "changed my mind", false)
	require.NoError(t, err)

	o, err := repository.NewOrderRepository(pool).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
	// 30x2 live plus discounted 10x1.
	assert.Equal(t, "70.000", order.FormatAmount(o.RefundedPrice))

	st, err = svc.PaymentStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentRefunded, st)
}

func TestCouponScopesLoaded(t *testing.T) {
	pool := setupTestDB(t)
	seedBaseData(t, pool)
	mustExec(t, pool, `INSERT INTO collections (id, name) VALUES (1, 'Sweets')`)
	mustExec(t, pool, `INSERT INTO collection_products (collection_id, product_id) VALUES (1, 2), (1, 3)`)
	mustExec(t, pool, `INSERT INTO coupons (id, code, type, status, deduct_percent, for_specific_collections)
		VALUES (6, 'SWEETS15', 'PER', 'AC', 15.000, TRUE)`)
	mustExec(t, pool, `INSERT INTO coupon_collections (coupon_id, collection_id) VALUES (6, 1)`)
	ctx := context.Background()

	repo := repository.NewCouponRepository(pool)
	c, err := repo.FindByCode(ctx, "sweets15")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, c.CollectionProductIDs)

	require.NoError(t, repo.IncrementUses(ctx, 6))
	c, err = repo.FindByID(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, c.TimesUsed)
}

func TestCustomerHistory(t *testing.T) {
	pool := setupTestDB(t)
	seedBaseData(t, pool)
	ctx := context.Background()

	history := repository.NewCustomerHistoryRepository(pool)

	paid, err := history.HasPaidOrders(ctx, 7)
	require.NoError(t, err)
	assert.False(t, paid)

	mustExec(t, pool, `INSERT INTO payments (order_id, amount, status) VALUES (1, 52.000, 'success')`)

	paid, err = history.HasPaidOrders(ctx, 7)
	require.NoError(t, err)
	assert.True(t, paid)

	used, err := history.HasOrderWithCoupon(ctx, 7, 5)
	require.NoError(t, err)
	assert.True(t, used)

	used, err = history.HasOrderWithCoupon(ctx, 7, 99)
	require.NoError(t, err)
	assert.False(t, used)
}
