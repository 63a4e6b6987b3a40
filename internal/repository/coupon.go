package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becon/pricing-engine/internal/domain/coupon"
)

const (
	couponColumns = `id, code, type, status, deduct_amount, deduct_percent,
		for_all_products, for_specific_products, for_specific_collections,
		min_purchase_amount, min_qty_items,
		for_all_customers, for_customers_with_no_orders, one_use_per_customer,
		times_usable, times_used, active_from, active_until`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1`

	getCouponProductsSQL = `SELECT product_id FROM coupon_products WHERE coupon_id = $1`

	// The collection scope is flattened to product IDs at load time.
	getCouponCollectionProductsSQL = `SELECT cp.product_id
		FROM coupon_collections cc
		JOIN collection_products cp ON cp.collection_id = cc.collection_id
		WHERE cc.coupon_id = $1`

	getCouponCustomersSQL = `SELECT member_id FROM coupon_customers WHERE coupon_id = $1`

	incrementCouponUsesSQL = `UPDATE coupons SET times_used = times_used + 1 WHERE id = $1`

	upsertCouponSQL = `INSERT INTO coupons (code, type, status, deduct_amount, deduct_percent,
			for_all_products, min_purchase_amount, min_qty_items, for_all_customers,
			times_usable, active_from, active_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			deduct_amount = EXCLUDED.deduct_amount,
			deduct_percent = EXCLUDED.deduct_percent,
			active_from = EXCLUDED.active_from,
			active_until = EXCLUDED.active_until`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive) with all
// scope lists resolved.
// Returns coupon.ErrNotFound when no such code exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	if err := r.loadScopes(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByID looks up a coupon by ID with all scope lists resolved.
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %d: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %d: %w", id, err)
	}

	if err := r.loadScopes(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementUses atomically increments the usage counter.
func (r *CouponRepository) IncrementUses(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, incrementCouponUsesSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing uses for coupon %d: %w", id, err)
	}
	return nil
}

// Upsert inserts a coupon by code or refreshes its deduction and window.
// Scope lists are not touched; it exists for bulk campaign ingestion.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.Type), string(c.Status), c.DeductAmount, c.DeductPercent,
		c.ForAllProducts, c.MinPurchaseAmount, c.MinQtyItems, c.ForAllCustomers,
		c.TimesUsable, c.ActiveFrom, c.ActiveUntil,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func (r *CouponRepository) loadScopes(ctx context.Context, c *coupon.Coupon) error {
	var err error
	if c.ProductIDs, err = r.collectIDs(ctx, getCouponProductsSQL, c.ID); err != nil {
		return fmt.Errorf("loading product scope of coupon %d: %w", c.ID, err)
	}
	if c.CollectionProductIDs, err = r.collectIDs(ctx, getCouponCollectionProductsSQL, c.ID); err != nil {
		return fmt.Errorf("loading collection scope of coupon %d: %w", c.ID, err)
	}
	if c.CustomerIDs, err = r.collectIDs(ctx, getCouponCustomersSQL, c.ID); err != nil {
		return fmt.Errorf("loading customer scope of coupon %d: %w", c.ID, err)
	}
	c.ForSpecificProducts = len(c.ProductIDs) > 0
	c.ForSpecificCollections = len(c.CollectionProductIDs) > 0
	c.ForSpecificCustomers = len(c.CustomerIDs) > 0
	return nil
}

func (r *CouponRepository) collectIDs(ctx context.Context, sql string, couponID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, sql, couponID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c           coupon.Coupon
		typ, status string
	)
	err := row.Scan(
		&c.ID, &c.Code, &typ, &status, &c.DeductAmount, &c.DeductPercent,
		&c.ForAllProducts, &c.ForSpecificProducts, &c.ForSpecificCollections,
		&c.MinPurchaseAmount, &c.MinQtyItems,
		&c.ForAllCustomers, &c.ForCustomersWithNoOrders, &c.OneUsePerCustomer,
		&c.TimesUsable, &c.TimesUsed, &c.ActiveFrom, &c.ActiveUntil,
	)
	c.Type = coupon.Type(typ)
	c.Status = coupon.Status(status)
	return c, err
}
