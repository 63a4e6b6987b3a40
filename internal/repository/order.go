package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/becon/pricing-engine/internal/domain/order"
)

const (
	orderColumns = `id, status, customer_id, guest_id, address_id, coupon_id,
		sub_total, total_price, discounted_price, shipping_charge,
		refunded_price, total_after_refund,
		cancellation_reason, is_deleted,
		out_for_delivery_at, delivered_at, rescheduled_at, rescheduled_reason,
		created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE id = $1 AND NOT is_deleted`

	lockOrderSQL = `SELECT id FROM orders WHERE id = $1 AND NOT is_deleted FOR UPDATE`

	itemColumns = `id, order_id, product_id, quantity, price, status,
		cancelled_qty, cancellation_reason, is_deleted,
		out_for_delivery_at, delivered_at, rescheduled_at, rescheduled_reason,
		ready_for_pickup_remarks, returned_reason, declined_reason`

	getItemsSQL = `SELECT ` + itemColumns + `
		FROM order_items WHERE order_id = $1 AND NOT is_deleted ORDER BY id`

	getItemsForStoreSQL = `SELECT ` + itemColumns + `
		FROM order_items
		WHERE order_id = $1 AND NOT is_deleted AND product_id IN (
			SELECT id FROM products WHERE store_id = $2)
		ORDER BY id`

	saveQuoteSQL = `UPDATE orders SET
			sub_total = $2, total_price = $3, discounted_price = $4,
			shipping_charge = $5, total_after_refund = $6, updated_at = now()
		WHERE id = $1`

	insertOrderTrackSQL = `INSERT INTO order_status_tracks
			(order_id, status, actor_id, reason, rescheduled_at)
		VALUES ($1, $2, $3, $4, $5)`

	insertItemTrackSQL = `INSERT INTO order_item_status_tracks
			(order_item_id, status, actor_id, reason, rescheduled_at)
		VALUES ($1, $2, $3, $4, $5)`

	updateOrderStatusSQL = `UPDATE orders SET status = $2,
			out_for_delivery_at = COALESCE($3, out_for_delivery_at),
			delivered_at = COALESCE($4, delivered_at),
			rescheduled_at = COALESCE($5, rescheduled_at),
			rescheduled_reason = CASE WHEN $6 <> '' THEN $6 ELSE rescheduled_reason END,
			updated_at = now()
		WHERE id = $1`

	cascadeItemStatusSQL = `UPDATE order_items SET status = $2,
			out_for_delivery_at = COALESCE($3, out_for_delivery_at),
			delivered_at = COALESCE($4, delivered_at),
			rescheduled_at = COALESCE($5, rescheduled_at),
			rescheduled_reason = CASE WHEN $6 <> '' THEN $6 ELSE rescheduled_reason END,
			ready_for_pickup_remarks = CASE WHEN $7 <> '' THEN $7 ELSE ready_for_pickup_remarks END,
			returned_reason = CASE WHEN $8 <> '' THEN $8 ELSE returned_reason END,
			declined_reason = CASE WHEN $9 <> '' THEN $9 ELSE declined_reason END
		WHERE order_id = $1 AND NOT is_deleted
		RETURNING id`

	scopedItemStatusSQL = `UPDATE order_items SET status = $2,
			out_for_delivery_at = COALESCE($3, out_for_delivery_at),
			delivered_at = COALESCE($4, delivered_at),
			rescheduled_at = COALESCE($5, rescheduled_at),
			rescheduled_reason = CASE WHEN $6 <> '' THEN $6 ELSE rescheduled_reason END,
			ready_for_pickup_remarks = CASE WHEN $7 <> '' THEN $7 ELSE ready_for_pickup_remarks END,
			returned_reason = CASE WHEN $8 <> '' THEN $8 ELSE returned_reason END,
			declined_reason = CASE WHEN $9 <> '' THEN $9 ELSE declined_reason END
		WHERE order_id = $1 AND NOT is_deleted AND product_id = ANY($10)
		RETURNING id`

	cancelItemSQL = `UPDATE order_items SET status = $2,
			cancellation_reason = $3
		WHERE id = $1`

	partialCancelItemSQL = `UPDATE order_items SET status = $2,
			cancellation_reason = $3,
			cancelled_qty = cancelled_qty + $4
		WHERE id = $1`

	insertCancelledQtySQL = `INSERT INTO cancelled_order_items (order_item_id, qty, reason) VALUES ($1, $2, $3)`

	// The refunded price grows atomically so concurrent cancellations never
	// lose an increment.
	addRefundSQL = `UPDATE orders SET
			refunded_price = refunded_price + $2,
			total_after_refund = GREATEST(total_price - (refunded_price + $2), 0),
			updated_at = now()
		WHERE id = $1`

	setOrderCancelledSQL = `UPDATE orders SET status = $2, cancellation_reason = $3, updated_at = now()
		WHERE id = $1`

	hasSuccessfulPaymentSQL = `SELECT EXISTS (
		SELECT 1 FROM payments WHERE order_id = $1 AND status = 'success')`

	cancelledItemCountsSQL = `SELECT
			COUNT(*) FILTER (WHERE status = 'CA'),
			COUNT(*)
		FROM order_items WHERE order_id = $1 AND NOT is_deleted`

	getTracksSQL = `SELECT id, order_id, status, actor_id, reason, rescheduled_at, created_at
		FROM order_status_tracks WHERE order_id = $1 ORDER BY id`

	getItemTracksSQL = `SELECT id, order_item_id, status, actor_id, reason, rescheduled_at, created_at
		FROM order_item_status_tracks WHERE order_item_id = $1 ORDER BY id`

	getCancelledQuantitiesSQL = `SELECT id, order_item_id, qty, reason, created_at
		FROM cancelled_order_items WHERE order_item_id = $1 ORDER BY id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. All
// mutating operations run in a transaction that first locks the order row,
// so transitions, cancellations, and quote saves serialise per order.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get fetches one order.
// Returns order.ErrNotFound when the order does not exist or is deleted.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding order %d: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %d: %w", id, err)
	}
	return &o, nil
}

// Items returns the order's non-deleted line items.
func (r *OrderRepository) Items(ctx context.Context, orderID int64) ([]order.LineItem, error) {
	rows, err := r.pool.Query(ctx, getItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", orderID, err)
	}

	items, err := pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", orderID, err)
	}
	return items, nil
}

// ItemsForStore returns the order's line items whose product belongs to the
// given store.
func (r *OrderRepository) ItemsForStore(ctx context.Context, orderID, storeID int64) ([]order.LineItem, error) {
	rows, err := r.pool.Query(ctx, getItemsForStoreSQL, orderID, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing store %d items of order %d: %w", storeID, orderID, err)
	}

	items, err := pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return nil, fmt.Errorf("listing store %d items of order %d: %w", storeID, orderID, err)
	}
	return items, nil
}

// SaveQuote persists the computed pricing fields under the order's row lock.
func (r *OrderRepository) SaveQuote(ctx context.Context, orderID int64, q order.Quote) error {
	return r.inTx(ctx, orderID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, saveQuoteSQL, orderID,
			q.SubTotal, q.Total, q.Discount, q.ShippingCharge, q.Payable)
		if err != nil {
			return fmt.Errorf("saving quote of order %d: %w", orderID, err)
		}
		return nil
	})
}

// ApplyOrderTransition atomically moves the order to its new status,
// cascades the matching item status to every non-deleted line item, and
// appends one audit record for the order plus one per item. It reports how
// many item audit records were written.
func (r *OrderRepository) ApplyOrderTransition(ctx context.Context, t order.OrderTransition) (int, error) {
	var itemTracks int
	err := r.inTx(ctx, t.OrderID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, updateOrderStatusSQL, t.OrderID, string(t.Status),
			t.OutForDeliveryAt, t.DeliveredAt, t.RescheduledAt, t.RescheduledReason)
		if err != nil {
			return fmt.Errorf("updating status of order %d: %w", t.OrderID, err)
		}

		rows, err := tx.Query(ctx, cascadeItemStatusSQL, t.OrderID, string(t.ItemStatus),
			t.OutForDeliveryAt, t.DeliveredAt, t.RescheduledAt, t.RescheduledReason,
			t.ReadyForPickupRemarks, t.ReturnedReason, t.DeclinedReason)
		if err != nil {
			return fmt.Errorf("cascading status to items of order %d: %w", t.OrderID, err)
		}
		itemIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("cascading status to items of order %d: %w", t.OrderID, err)
		}

		if err := insertOrderTrack(ctx, tx, t.OrderTrack); err != nil {
			return err
		}
		for _, itemID := range itemIDs {
			track := t.ItemTrackTemplate
			track.LineItemID = itemID
			if err := insertItemTrack(ctx, tx, track); err != nil {
				return err
			}
		}
		itemTracks = len(itemIDs)
		return nil
	})
	return itemTracks, err
}

// ApplyItemTransition atomically moves the selected line items to their new
// status and appends one audit record per item. The order's own status row
// is untouched.
func (r *OrderRepository) ApplyItemTransition(ctx context.Context, t order.ItemTransition) (int, error) {
	var itemTracks int
	err := r.inTx(ctx, t.OrderID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, scopedItemStatusSQL, t.OrderID, string(t.Status),
			t.OutForDeliveryAt, t.DeliveredAt, t.RescheduledAt, t.RescheduledReason,
			t.ReadyForPickupRemarks, t.ReturnedReason, t.DeclinedReason, t.ProductIDs)
		if err != nil {
			return fmt.Errorf("updating items of order %d: %w", t.OrderID, err)
		}
		itemIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("updating items of order %d: %w", t.OrderID, err)
		}

		for _, itemID := range itemIDs {
			track := t.TrackTemplate
			track.LineItemID = itemID
			if err := insertItemTrack(ctx, tx, track); err != nil {
				return err
			}
		}
		itemTracks = len(itemIDs)
		return nil
	})
	return itemTracks, err
}

// ApplyCancellation atomically cancels the selected line items, grows the
// order's refunded price, restocks inventory where requested, appends the
// audit records, and, for full-order cancellations, moves the order itself
// to its cancelled status.
func (r *OrderRepository) ApplyCancellation(ctx context.Context, c order.Cancellation) error {
	return r.inTx(ctx, c.OrderID, func(tx pgx.Tx) error {
		refund := decimal.Zero
		for _, item := range c.Items {
			if item.PartialQty > 0 {
				_, err := tx.Exec(ctx, partialCancelItemSQL,
					item.LineItemID, string(order.ItemCancelled), item.Reason, item.PartialQty)
				if err != nil {
					return fmt.Errorf("partially cancelling item %d: %w", item.LineItemID, err)
				}
				_, err = tx.Exec(ctx, insertCancelledQtySQL, item.LineItemID, item.PartialQty, item.Reason)
				if err != nil {
					return fmt.Errorf("recording cancelled quantity of item %d: %w", item.LineItemID, err)
				}
			} else {
				_, err := tx.Exec(ctx, cancelItemSQL,
					item.LineItemID, string(order.ItemCancelled), item.Reason)
				if err != nil {
					return fmt.Errorf("cancelling item %d: %w", item.LineItemID, err)
				}
			}

			if item.Restock > 0 && item.ProductID != 0 {
				_, err := tx.Exec(ctx, restockProductSQL, item.ProductID, item.Restock)
				if err != nil {
					return fmt.Errorf("restocking product %d: %w", item.ProductID, err)
				}
			}

			if err := insertItemTrack(ctx, tx, item.Track); err != nil {
				return err
			}
			refund = refund.Add(item.RefundAmount)
		}

		if refund.IsPositive() {
			_, err := tx.Exec(ctx, addRefundSQL, c.OrderID, refund)
			if err != nil {
				return fmt.Errorf("adding refund to order %d: %w", c.OrderID, err)
			}
		}

		if c.OrderStatus != "" {
			_, err := tx.Exec(ctx, setOrderCancelledSQL, c.OrderID, string(c.OrderStatus), c.Reason)
			if err != nil {
				return fmt.Errorf("cancelling order %d: %w", c.OrderID, err)
			}
		}

		return insertOrderTrack(ctx, tx, c.OrderTrack)
	})
}

// HasSuccessfulPayment reports whether the order has at least one successful
// payment.
func (r *OrderRepository) HasSuccessfulPayment(ctx context.Context, orderID int64) (bool, error) {
	rows, err := r.pool.Query(ctx, hasSuccessfulPaymentSQL, orderID)
	if err != nil {
		return false, fmt.Errorf("checking payments of order %d: %w", orderID, err)
	}

	exists, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("checking payments of order %d: %w", orderID, err)
	}
	return exists, nil
}

// CancelledItemCounts returns how many of the order's line items are
// cancelled alongside the total count.
func (r *OrderRepository) CancelledItemCounts(ctx context.Context, orderID int64) (int, int, error) {
	var cancelled, total int
	err := r.pool.QueryRow(ctx, cancelledItemCountsSQL, orderID).Scan(&cancelled, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("counting cancelled items of order %d: %w", orderID, err)
	}
	return cancelled, total, nil
}

// Tracks returns the order's audit records in insertion order.
func (r *OrderRepository) Tracks(ctx context.Context, orderID int64) ([]order.StatusTrack, error) {
	rows, err := r.pool.Query(ctx, getTracksSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing tracks of order %d: %w", orderID, err)
	}

	tracks, err := pgx.CollectRows(rows, scanStatusTrack)
	if err != nil {
		return nil, fmt.Errorf("listing tracks of order %d: %w", orderID, err)
	}
	return tracks, nil
}

// ItemTracks returns the line item's audit records in insertion order.
func (r *OrderRepository) ItemTracks(ctx context.Context, lineItemID int64) ([]order.ItemStatusTrack, error) {
	rows, err := r.pool.Query(ctx, getItemTracksSQL, lineItemID)
	if err != nil {
		return nil, fmt.Errorf("listing tracks of item %d: %w", lineItemID, err)
	}

	tracks, err := pgx.CollectRows(rows, scanItemStatusTrack)
	if err != nil {
		return nil, fmt.Errorf("listing tracks of item %d: %w", lineItemID, err)
	}
	return tracks, nil
}

// CancelledQuantities returns the line item's partial-cancellation records in
// insertion order.
func (r *OrderRepository) CancelledQuantities(ctx context.Context, lineItemID int64) ([]order.CancelledQuantity, error) {
	rows, err := r.pool.Query(ctx, getCancelledQuantitiesSQL, lineItemID)
	if err != nil {
		return nil, fmt.Errorf("listing cancelled quantities of item %d: %w", lineItemID, err)
	}

	quantities, err := pgx.CollectRows(rows, scanCancelledQuantity)
	if err != nil {
		return nil, fmt.Errorf("listing cancelled quantities of item %d: %w", lineItemID, err)
	}
	return quantities, nil
}

// inTx runs fn inside a transaction holding the order's row lock.
func (r *OrderRepository) inTx(ctx context.Context, orderID int64, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for order %d: %w", orderID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked int64
	if err := tx.QueryRow(ctx, lockOrderSQL, orderID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("locking order %d: %w", orderID, err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertOrderTrack(ctx context.Context, tx pgx.Tx, t order.StatusTrack) error {
	_, err := tx.Exec(ctx, insertOrderTrackSQL,
		t.OrderID, string(t.Status), t.ActorID, t.Reason, t.RescheduledAt)
	if err != nil {
		return fmt.Errorf("recording track of order %d: %w", t.OrderID, err)
	}
	return nil
}

func insertItemTrack(ctx context.Context, tx pgx.Tx, t order.ItemStatusTrack) error {
	_, err := tx.Exec(ctx, insertItemTrackSQL,
		t.LineItemID, string(t.Status), t.ActorID, t.Reason, t.RescheduledAt)
	if err != nil {
		return fmt.Errorf("recording track of item %d: %w", t.LineItemID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &status, &o.CustomerID, &o.GuestID, &o.AddressID, &o.CouponID,
		&o.SubTotal, &o.TotalPrice, &o.DiscountedPrice, &o.ShippingCharge,
		&o.RefundedPrice, &o.TotalAfterRefund,
		&o.CancellationReason, &o.IsDeleted,
		&o.OutForDeliveryAt, &o.DeliveredAt, &o.RescheduledAt, &o.RescheduledReason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanLineItem(row pgx.CollectableRow) (order.LineItem, error) {
	var (
		it     order.LineItem
		status string
	)
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &status,
		&it.CancelledQty, &it.CancellationReason, &it.IsDeleted,
		&it.OutForDeliveryAt, &it.DeliveredAt, &it.RescheduledAt, &it.RescheduledReason,
		&it.ReadyForPickupRemarks, &it.ReturnedReason, &it.DeclinedReason,
	)
	it.Status = order.ItemStatus(status)
	return it, err
}

func scanStatusTrack(row pgx.CollectableRow) (order.StatusTrack, error) {
	var (
		t      order.StatusTrack
		status string
	)
	err := row.Scan(&t.ID, &t.OrderID, &status, &t.ActorID, &t.Reason, &t.RescheduledAt, &t.CreatedAt)
	t.Status = order.Status(status)
	return t, err
}

func scanItemStatusTrack(row pgx.CollectableRow) (order.ItemStatusTrack, error) {
	var (
		t      order.ItemStatusTrack
		status string
	)
	err := row.Scan(&t.ID, &t.LineItemID, &status, &t.ActorID, &t.Reason, &t.RescheduledAt, &t.CreatedAt)
	t.Status = order.ItemStatus(status)
	return t, err
}

func scanCancelledQuantity(row pgx.CollectableRow) (order.CancelledQuantity, error) {
	var q order.CancelledQuantity
	err := row.Scan(&q.ID, &q.LineItemID, &q.Qty, &q.Reason, &q.CreatedAt)
	return q, err
}
