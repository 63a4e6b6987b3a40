package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becon/pricing-engine/internal/domain/coupon"
)

const (
	hasPaidOrdersSQL = `SELECT EXISTS (
		SELECT 1 FROM orders o
		JOIN payments p ON p.order_id = o.id
		WHERE o.customer_id = $1 AND p.status = 'success' AND NOT o.is_deleted)`

	hasOrderWithCouponSQL = `SELECT EXISTS (
		SELECT 1 FROM orders
		WHERE customer_id = $1 AND coupon_id = $2 AND NOT is_deleted)`
)

var _ coupon.CustomerHistory = (*CustomerHistoryRepository)(nil)

// CustomerHistoryRepository answers the order-history questions of the
// coupon predicates, backed by PostgreSQL.
type CustomerHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerHistoryRepository returns a CustomerHistoryRepository that uses
// the given pool.
func NewCustomerHistoryRepository(pool *pgxpool.Pool) *CustomerHistoryRepository {
	return &CustomerHistoryRepository{pool: pool}
}

// HasPaidOrders reports whether the customer has at least one order with a
// successful payment.
func (r *CustomerHistoryRepository) HasPaidOrders(ctx context.Context, customerID int64) (bool, error) {
	rows, err := r.pool.Query(ctx, hasPaidOrdersSQL, customerID)
	if err != nil {
		return false, fmt.Errorf("checking paid orders of customer %d: %w", customerID, err)
	}

	exists, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("checking paid orders of customer %d: %w", customerID, err)
	}
	return exists, nil
}

// HasOrderWithCoupon reports whether the customer already placed an order
// using the coupon.
func (r *CustomerHistoryRepository) HasOrderWithCoupon(ctx context.Context, customerID, couponID int64) (bool, error) {
	rows, err := r.pool.Query(ctx, hasOrderWithCouponSQL, customerID, couponID)
	if err != nil {
		return false, fmt.Errorf("checking coupon use of customer %d: %w", customerID, err)
	}

	exists, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("checking coupon use of customer %d: %w", customerID, err)
	}
	return exists, nil
}
