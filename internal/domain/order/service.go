package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/becon/pricing-engine/internal/domain/catalog"
	"github.com/becon/pricing-engine/internal/domain/coupon"
)

// Notifier emits the notification side effects of status changes. Dispatch
// (push, email) happens outside this service; failures are logged, never
// surfaced, because the transition itself has already committed.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, o *Order, st Status, actorID *int64, reason string) error
	ItemStatusChanged(ctx context.Context, o *Order, productIDs []int64, st ItemStatus, actorID *int64, reason string) error
	OrderCancelled(ctx context.Context, o *Order, actorID *int64, reason string) error
	ItemsCancelled(ctx context.Context, o *Order, productIDs []int64, actorID *int64, reason string) error
}

// Service wires the pricing computation, the coupon engine, and the status
// state machines to persistence.
type Service struct {
	orders   Repository
	catalog  CatalogSource
	coupons  coupon.Repository
	engine   *coupon.Engine
	notifier Notifier

	shippingCharge decimal.Decimal
	now            func() time.Time
}

// NewService creates an order Service. shippingCharge is the platform's flat
// shipping constant.
func NewService(
	orders Repository,
	catalogSrc CatalogSource,
	coupons coupon.Repository,
	engine *coupon.Engine,
	notifier Notifier,
	shippingCharge decimal.Decimal,
) *Service {
	return &Service{
		orders:         orders,
		catalog:        catalogSrc,
		coupons:        coupons,
		engine:         engine,
		notifier:       notifier,
		shippingCharge: shippingCharge,
		now:            time.Now,
	}
}

// Recompute produces the order's customer quote and persists it. The save
// locks the order row so concurrent recomputes serialise instead of
// clobbering each other.
func (s *Service) Recompute(ctx context.Context, orderID int64) (Quote, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Quote{}, err
	}

	priced, err := s.pricedItems(ctx, orderID)
	if err != nil {
		return Quote{}, err
	}

	effect, err := s.couponEffect(ctx, o, priced)
	if err != nil {
		return Quote{}, err
	}

	q := QuoteForCustomer(priced, effect, o.RefundedPrice, s.shippingCharge)
	if err := s.orders.SaveQuote(ctx, orderID, q); err != nil {
		return Quote{}, errors.Wrap(err, "save quote")
	}
	return q, nil
}

// TotalForCustomer recomputes and returns the customer-facing total as a
// three-decimal string.
func (s *Service) TotalForCustomer(ctx context.Context, orderID int64) (string, error) {
	q, err := s.Recompute(ctx, orderID)
	if err != nil {
		return "", err
	}
	return FormatAmount(q.Payable), nil
}

// TotalForSeller returns the seller-facing total over the seller's own line
// items: scoped subtotal minus the refunded price, shipping excluded. It is
// read-only; nothing is persisted.
func (s *Service) TotalForSeller(ctx context.Context, orderID, storeID int64) (string, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}

	items, err := s.orders.ItemsForStore(ctx, orderID, storeID)
	if err != nil {
		return "", err
	}
	priced, err := s.price(ctx, items)
	if err != nil {
		return "", err
	}

	return FormatAmount(SellerTotal(priced, o.RefundedPrice)), nil
}

// couponEffect re-checks the attached coupon's eligibility against the
// order's items and derives its effect on the quote. An ineligible or
// missing coupon contributes nothing.
func (s *Service) couponEffect(ctx context.Context, o *Order, priced []PricedItem) (*CouponEffect, error) {
	if o.CouponID == nil {
		return nil, nil
	}

	c, err := s.coupons.FindByID(ctx, *o.CouponID)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load coupon")
	}

	sub := Subtotal(priced)
	cart := coupon.Cart{Total: sub, CustomerID: o.CustomerID}
	for _, it := range priced {
		if it.Item.ProductID == nil {
			continue
		}
		cart.Items = append(cart.Items, coupon.CartItem{
			ProductID: *it.Item.ProductID,
			Quantity:  it.Item.Quantity,
		})
	}

	if err := s.engine.Check(ctx, c, cart); err != nil {
		zctx.From(ctx).Debug("Attached coupon no longer applicable",
			zap.Int64("order_id", o.ID),
			zap.String("coupon", c.Code),
			zap.Error(err),
		)
		return nil, nil
	}

	if c.FreeShipping() {
		return &CouponEffect{FreeShipping: true}, nil
	}
	return &CouponEffect{Deduction: c.DiscountSpec().DeductionFor(sub)}, nil
}

// TransitionRequest describes an order-level status change.
type TransitionRequest struct {
	OrderID      int64
	Status       Status
	ActorID      *int64
	Reason       string
	RescheduleAt *time.Time
	Remarks      string
}

// TransitionOrder applies an order-level transition: the order row moves to
// the new status, every non-deleted line item is force-set to the matching
// item status, and one audit record is appended per line item plus one for
// the order itself.
func (s *Service) TransitionOrder(ctx context.Context, req TransitionRequest) error {
	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return err
	}

	now := s.now()
	t := OrderTransition{
		OrderID:    req.OrderID,
		Status:     req.Status,
		ItemStatus: ItemStatusFor(req.Status),
		OrderTrack: StatusTrack{
			OrderID:       req.OrderID,
			Status:        req.Status,
			ActorID:       req.ActorID,
			Reason:        transitionReason(req.Status, req.Reason, req.Remarks),
			RescheduledAt: req.RescheduleAt,
		},
		ItemTrackTemplate: ItemStatusTrack{
			Status:        ItemStatusFor(req.Status),
			ActorID:       req.ActorID,
			Reason:        transitionReason(req.Status, req.Reason, req.Remarks),
			RescheduledAt: req.RescheduleAt,
		},
	}
	applyStatusSideEffects(req.Status, req, now, &t)

	if _, err := s.orders.ApplyOrderTransition(ctx, t); err != nil {
		return errors.Wrap(err, "apply order transition")
	}

	if err := s.notifier.OrderStatusChanged(ctx, o, req.Status, req.ActorID, t.OrderTrack.Reason); err != nil {
		zctx.From(ctx).Warn("Order status notification failed",
			zap.Int64("order_id", o.ID), zap.Error(err))
	}
	return nil
}

// ItemTransitionRequest describes a status change for a subset of an
// order's line items.
type ItemTransitionRequest struct {
	OrderID      int64
	ProductIDs   []int64
	Status       ItemStatus
	ActorID      *int64
	Reason       string
	RescheduleAt *time.Time
	Remarks      string
}

// TransitionItems applies a line-item transition without touching the
// order's own status.
func (s *Service) TransitionItems(ctx context.Context, req ItemTransitionRequest) error {
	if len(req.ProductIDs) == 0 {
		return errors.New("at least one product required")
	}

	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return err
	}

	now := s.now()
	reason := itemTransitionReason(req.Status, req.Reason, req.Remarks)
	t := ItemTransition{
		OrderID:    req.OrderID,
		ProductIDs: req.ProductIDs,
		Status:     req.Status,
		TrackTemplate: ItemStatusTrack{
			Status:        req.Status,
			ActorID:       req.ActorID,
			Reason:        reason,
			RescheduledAt: req.RescheduleAt,
		},
	}
	switch req.Status {
	case ItemOutForDelivery:
		t.OutForDeliveryAt = &now
	case ItemDelivered:
		t.DeliveredAt = &now
	case ItemRescheduled:
		t.RescheduledAt = req.RescheduleAt
		t.RescheduledReason = req.Reason
	case ItemReadyForPickup:
		t.ReadyForPickupRemarks = req.Remarks
	case ItemReturned:
		t.ReturnedReason = req.Remarks
	case ItemDeclined:
		t.DeclinedReason = req.Remarks
	}

	if _, err := s.orders.ApplyItemTransition(ctx, t); err != nil {
		return errors.Wrap(err, "apply item transition")
	}

	if err := s.notifier.ItemStatusChanged(ctx, o, req.ProductIDs, req.Status, req.ActorID, reason); err != nil {
		zctx.From(ctx).Warn("Item status notification failed",
			zap.Int64("order_id", o.ID), zap.Error(err))
	}
	return nil
}

// CancelItem selects a quantity of one product to cancel.
type CancelItem struct {
	ProductID int64
	Qty       int
}

// CancelOrder cancels the whole order: status moves to Cancelled, every line
// item cascades to Cancelled, the refunded price grows by each item's
// discounted-or-base price times its quantity, and inventory is optionally
// restocked.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, actorID *int64, reason string, restock bool) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	priced, err := s.pricedItems(ctx, orderID)
	if err != nil {
		return err
	}

	c := Cancellation{
		OrderID:     orderID,
		OrderStatus: StatusCancelled,
		Reason:      reason,
		OrderTrack: StatusTrack{
			OrderID: orderID,
			Status:  StatusCancelled,
			ActorID: actorID,
			Reason:  reason,
		},
	}
	for _, it := range priced {
		ic := ItemCancellation{
			LineItemID:   it.Item.ID,
			Reason:       reason,
			RefundAmount: refundAmount(it, it.Item.Quantity),
			Track: ItemStatusTrack{
				LineItemID: it.Item.ID,
				Status:     ItemCancelled,
				ActorID:    actorID,
				Reason:     reason,
			},
		}
		if it.Item.ProductID != nil {
			ic.ProductID = *it.Item.ProductID
			if restock && it.Item.Quantity > 0 {
				ic.Restock = it.Item.Quantity
			}
		}
		c.Items = append(c.Items, ic)
	}

	if err := s.orders.ApplyCancellation(ctx, c); err != nil {
		return errors.Wrap(err, "apply cancellation")
	}

	if err := s.notifier.OrderCancelled(ctx, o, actorID, reason); err != nil {
		zctx.From(ctx).Warn("Cancel notification failed",
			zap.Int64("order_id", o.ID), zap.Error(err))
	}
	return nil
}

// CancelItems cancels specific quantities of an order's line items. The
// order's own status is unchanged, but an order-level Cancelled track is
// still appended. Partial quantities are recorded as CancelledQuantity rows;
// in both cases the item's status moves to Cancelled and the refunded price
// grows by the item's discounted-or-base price times the cancelled quantity.
func (s *Service) CancelItems(ctx context.Context, orderID int64, items []CancelItem, actorID *int64, reason string, restock bool) error {
	if len(items) == 0 {
		return errors.New("at least one item required")
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	priced, err := s.pricedItems(ctx, orderID)
	if err != nil {
		return err
	}
	byProduct := make(map[int64][]PricedItem)
	for _, it := range priced {
		if it.Item.ProductID == nil {
			continue
		}
		byProduct[*it.Item.ProductID] = append(byProduct[*it.Item.ProductID], it)
	}

	c := Cancellation{
		OrderID: orderID,
		Reason:  reason,
		OrderTrack: StatusTrack{
			OrderID: orderID,
			Status:  StatusCancelled,
			ActorID: actorID,
			Reason:  reason,
		},
	}

	var cancelledProducts []int64
	for _, sel := range items {
		if sel.Qty <= 0 {
			continue
		}
		for _, it := range byProduct[sel.ProductID] {
			ic := ItemCancellation{
				LineItemID:   it.Item.ID,
				Reason:       reason,
				RefundAmount: refundAmount(it, sel.Qty),
				ProductID:    sel.ProductID,
				Track: ItemStatusTrack{
					LineItemID: it.Item.ID,
					Status:     ItemCancelled,
					ActorID:    actorID,
					Reason:     reason,
				},
			}
			if sel.Qty != it.Item.Quantity {
				ic.PartialQty = sel.Qty
			}
			if restock {
				ic.Restock = sel.Qty
			}
			c.Items = append(c.Items, ic)
		}
		cancelledProducts = append(cancelledProducts, sel.ProductID)
	}

	if err := s.orders.ApplyCancellation(ctx, c); err != nil {
		return errors.Wrap(err, "apply cancellation")
	}

	cancelled, total, err := s.orders.CancelledItemCounts(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "count cancelled items")
	}
	if total > 0 && cancelled == total {
		err = s.notifier.OrderCancelled(ctx, o, actorID, reason)
	} else {
		err = s.notifier.ItemsCancelled(ctx, o, cancelledProducts, actorID, reason)
	}
	if err != nil {
		zctx.From(ctx).Warn("Cancel notification failed",
			zap.Int64("order_id", o.ID), zap.Error(err))
	}
	return nil
}

// PaymentStatus derives the order's payment status from its payments and
// line-item cancellations.
func (s *Service) PaymentStatus(ctx context.Context, orderID int64) (PaymentStatus, error) {
	paid, err := s.orders.HasSuccessfulPayment(ctx, orderID)
	if err != nil {
		return "", err
	}
	cancelled, total, err := s.orders.CancelledItemCounts(ctx, orderID)
	if err != nil {
		return "", err
	}
	return DerivePaymentStatus(paid, cancelled, total), nil
}

// Tracks returns the order's audit trail in insertion order.
func (s *Service) Tracks(ctx context.Context, orderID int64) ([]StatusTrack, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orders.Tracks(ctx, orderID)
}

// ItemTracks returns a line item's audit trail in insertion order.
func (s *Service) ItemTracks(ctx context.Context, lineItemID int64) ([]ItemStatusTrack, error) {
	return s.orders.ItemTracks(ctx, lineItemID)
}

// pricedItems loads the order's non-deleted line items joined with their
// catalog products.
func (s *Service) pricedItems(ctx context.Context, orderID int64) ([]PricedItem, error) {
	items, err := s.orders.Items(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, items)
}

func (s *Service) price(ctx context.Context, items []LineItem) ([]PricedItem, error) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.ProductID != nil {
			ids = append(ids, *it.ProductID)
		}
	}

	var byID map[int64]*catalog.Product
	if len(ids) > 0 {
		products, err := s.catalog.GetByIDs(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "load products")
		}
		byID = make(map[int64]*catalog.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}
	}

	priced := make([]PricedItem, 0, len(items))
	for _, it := range items {
		pi := PricedItem{Item: it}
		if it.ProductID != nil {
			pi.Product = byID[*it.ProductID]
		}
		priced = append(priced, pi)
	}
	return priced, nil
}

// refundAmount is the live discounted-or-base price times the cancelled
// quantity. Deleted products refund nothing.
func refundAmount(it PricedItem, qty int) decimal.Decimal {
	if it.Product == nil || qty <= 0 {
		return decimal.Zero
	}
	return it.Product.EffectivePrice().Mul(decimal.NewFromInt(int64(qty)))
}

// applyStatusSideEffects fills the per-status field updates of an order
// transition.
func applyStatusSideEffects(st Status, req TransitionRequest, now time.Time, t *OrderTransition) {
	switch st {
	case StatusOutForDelivery:
		t.OutForDeliveryAt = &now
	case StatusDelivered:
		t.DeliveredAt = &now
	case StatusRescheduled:
		t.RescheduledAt = req.RescheduleAt
		t.RescheduledReason = req.Reason
	case StatusReadyForPickup:
		t.ReadyForPickupRemarks = req.Remarks
	case StatusReturned:
		t.ReturnedReason = req.Remarks
	case StatusDeclined:
		t.DeclinedReason = req.Remarks
	}
}

// transitionReason picks the audit reason for a transition: the explicit
// reason when given, otherwise the per-status remarks.
func transitionReason(st Status, reason, remarks string) string {
	if reason != "" {
		return reason
	}
	switch st {
	case StatusReadyForPickup, StatusReturned, StatusDeclined:
		return remarks
	}
	return ""
}

// itemTransitionReason is transitionReason for line-item transitions.
func itemTransitionReason(st ItemStatus, reason, remarks string) string {
	if reason != "" {
		return reason
	}
	switch st {
	case ItemReadyForPickup, ItemReturned, ItemDeclined:
		return remarks
	}
	return ""
}
