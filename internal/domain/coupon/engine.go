package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Engine decides coupon applicability and computes deductions. All seven
// predicates must hold (logical AND); they are evaluated in a fixed order
// and short-circuit on the first failure.
type Engine struct {
	coupons Repository
	history CustomerHistory
	now     func() time.Time

	// RejectOutOfScopeWhenCapped controls the usage predicate for coupons
	// with a positive usage cap when the customer matches none of the
	// per-customer sub-conditions. The historical behaviour is to allow the
	// coupon anyway; set this to reject instead. Kept as a flag until
	// product intent is confirmed.
	RejectOutOfScopeWhenCapped bool
}

// NewEngine creates an Engine backed by the given repository and history.
func NewEngine(coupons Repository, history CustomerHistory) *Engine {
	return &Engine{coupons: coupons, history: history, now: time.Now}
}

// Validate looks up the coupon for code, checks applicability against the
// cart, and returns the deduction. Rejections are reported as one of the
// predicate errors; ErrNotFound when no such code exists.
func (e *Engine) Validate(ctx context.Context, code string, cart Cart) (*Result, error) {
	c, err := e.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := e.Check(ctx, c, cart); err != nil {
		return nil, err
	}

	return &Result{
		Coupon:       c,
		FreeShipping: c.FreeShipping(),
		Deduction:    c.DiscountSpec().DeductionFor(cart.Total),
	}, nil
}

// Check evaluates all eligibility predicates for the coupon against the
// cart. It returns nil when the coupon applies, or the error naming the
// first predicate that failed.
func (e *Engine) Check(ctx context.Context, c *Coupon, cart Cart) error {
	if c.Status != StatusActive && c.Status != StatusScheduled {
		return ErrNotActive
	}
	if !c.dateCondition(e.now()) {
		return ErrOutsideDates
	}
	if !c.productCondition(cart) {
		return ErrProductScope
	}
	if !c.purchaseAmountCondition(cart) {
		return ErrMinPurchase
	}
	if !c.minQuantityCondition(cart) {
		return ErrMinQuantity
	}
	ok, err := e.customerCondition(ctx, c, cart)
	if err != nil {
		return errors.Wrap(err, "customer condition")
	}
	if !ok {
		return ErrCustomerScope
	}
	ok, err = e.usageCondition(ctx, c, cart)
	if err != nil {
		return errors.Wrap(err, "usage condition")
	}
	if !ok {
		return ErrUsageLimit
	}
	return nil
}

// MarkUsed records one successful use of the coupon. Callers invoke it from
// the checkout flow after payment succeeds.
func (e *Engine) MarkUsed(ctx context.Context, id int64) error {
	return e.coupons.IncrementUses(ctx, id)
}

// dateCondition holds when now falls inside the active window. Either bound
// may be open-ended; with neither bound the coupon is always in window.
func (c *Coupon) dateCondition(now time.Time) bool {
	switch {
	case c.ActiveFrom != nil && c.ActiveUntil != nil:
		return !now.Before(*c.ActiveFrom) && !now.After(*c.ActiveUntil)
	case c.ActiveUntil != nil:
		return !now.After(*c.ActiveUntil)
	case c.ActiveFrom != nil:
		return !now.Before(*c.ActiveFrom)
	default:
		return true
	}
}

// productCondition holds when the cart intersects the coupon's product
// scope. An empty cart is vacuously eligible, as is a coupon with no
// configured allow-lists.
func (c *Coupon) productCondition(cart Cart) bool {
	if len(cart.Items) == 0 || c.ForAllProducts {
		return true
	}
	switch {
	case len(c.ProductIDs) > 0:
		return intersects(cart.Items, c.ProductIDs)
	case len(c.CollectionProductIDs) > 0:
		return intersects(cart.Items, c.CollectionProductIDs)
	default:
		return true
	}
}

// purchaseAmountCondition is conjunctive with the product predicate: when
// the product scope fails, the amount check fails too.
func (c *Coupon) purchaseAmountCondition(cart Cart) bool {
	if len(cart.Items) == 0 {
		return true
	}
	if !c.productCondition(cart) {
		return false
	}
	return cart.Total.GreaterThanOrEqual(c.MinPurchaseAmount)
}

// minQuantityCondition requires the quantity across scope-matching items to
// reach the threshold. Like the amount predicate it fails when the product
// scope fails.
func (c *Coupon) minQuantityCondition(cart Cart) bool {
	if len(cart.Items) == 0 {
		return true
	}
	if !c.productCondition(cart) {
		return false
	}
	return c.matchingQuantity(cart) >= c.MinQtyItems
}

// matchingQuantity sums quantities over the items inside the coupon's
// product scope.
func (c *Coupon) matchingQuantity(cart Cart) int {
	var scope []int64
	switch {
	case c.ForAllProducts:
		total := 0
		for _, it := range cart.Items {
			total += it.Quantity
		}
		return total
	case len(c.ProductIDs) > 0:
		scope = c.ProductIDs
	case len(c.CollectionProductIDs) > 0:
		scope = c.CollectionProductIDs
	default:
		return 0
	}

	allowed := idSet(scope)
	total := 0
	for _, it := range cart.Items {
		if allowed[it.ProductID] {
			total += it.Quantity
		}
	}
	return total
}

func (e *Engine) customerCondition(ctx context.Context, c *Coupon, cart Cart) (bool, error) {
	switch {
	case c.ForAllCustomers:
		return true, nil
	case c.ForCustomersWithNoOrders:
		if cart.CustomerID == nil {
			return false, nil
		}
		paid, err := e.history.HasPaidOrders(ctx, *cart.CustomerID)
		if err != nil {
			return false, err
		}
		return !paid, nil
	default:
		return cart.CustomerID != nil && contains(c.CustomerIDs, *cart.CustomerID), nil
	}
}

// usageCondition implements the usage-limit predicate. A zero TimesUsable
// restricts usability to the customer-scope sub-conditions; a positive cap
// within limit applies the same sub-conditions but historically allowed
// customers matching none of them (see RejectOutOfScopeWhenCapped). An
// exhausted cap rejects outright.
func (e *Engine) usageCondition(ctx context.Context, c *Coupon, cart Cart) (bool, error) {
	subCondition := func() (bool, bool, error) {
		switch {
		case c.OneUsePerCustomer:
			ok, err := e.singleUseCondition(ctx, c, cart)
			return ok, true, err
		case c.ForAllCustomers:
			return true, true, nil
		case cart.CustomerID != nil && contains(c.CustomerIDs, *cart.CustomerID):
			return true, true, nil
		default:
			return false, false, nil
		}
	}

	switch {
	case c.TimesUsable == 0:
		ok, _, err := subCondition()
		return ok, err
	case c.TimesUsed <= c.TimesUsable:
		ok, matched, err := subCondition()
		if err != nil {
			return false, err
		}
		if matched {
			return ok, nil
		}
		return !e.RejectOutOfScopeWhenCapped, nil
	default:
		return false, nil
	}
}

// singleUseCondition holds when the customer has not yet placed an order
// using this coupon. Guest carts have no usable history and pass.
func (e *Engine) singleUseCondition(ctx context.Context, c *Coupon, cart Cart) (bool, error) {
	if cart.CustomerID == nil {
		return true, nil
	}
	used, err := e.history.HasOrderWithCoupon(ctx, *cart.CustomerID, c.ID)
	if err != nil {
		return false, err
	}
	return !used, nil
}

func intersects(items []CartItem, ids []int64) bool {
	allowed := idSet(ids)
	for _, it := range items {
		if allowed[it.ProductID] {
			return true
		}
	}
	return false
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
