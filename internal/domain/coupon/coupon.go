package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon kinds, matching the stored codes.
type Type string

const (
	// TypePercentage deducts a percentage of the subtotal.
	TypePercentage Type = "PER"
	// TypeFixedAmount deducts a fixed monetary amount.
	TypeFixedAmount Type = "FA"
	// TypeFreeShipping waives the shipping charge without a deduction.
	TypeFreeShipping Type = "FS"
	// TypeBuyXGetY is defined for data compatibility but has no engine support.
	TypeBuyXGetY Type = "BXGY"
)

// Status enumerates coupon lifecycle states.
type Status string

const (
	StatusActive    Status = "AC"
	StatusInactive  Status = "IN"
	StatusScheduled Status = "SC"
)

// Rejection errors, one per eligibility predicate. The messages are the
// human-readable reasons surfaced to callers.
var (
	ErrNotFound      = errors.New("invalid coupon code")
	ErrNotActive     = errors.New("coupon is not active")
	ErrOutsideDates  = errors.New("coupon is not valid for the current date")
	ErrProductScope  = errors.New("coupon does not apply to any product in the cart")
	ErrMinPurchase   = errors.New("cart total is below the coupon's minimum purchase amount")
	ErrMinQuantity   = errors.New("cart does not have the minimum required item quantity")
	ErrCustomerScope = errors.New("coupon is not available for this customer")
	ErrUsageLimit    = errors.New("coupon usage limit reached")
)

// Coupon is a set of eligibility predicates combined by logical AND,
// producing a deduction (or a free-shipping grant) when all hold.
type Coupon struct {
	ID     int64
	Code   string
	Type   Type
	Status Status

	DeductAmount  decimal.Decimal
	DeductPercent decimal.Decimal

	ForAllProducts         bool
	ForSpecificProducts    bool
	ForSpecificCollections bool
	// ProductIDs is the explicit product allow-list; CollectionProductIDs is
	// the flattened set of products belonging to linked collections. The
	// repository resolves both at load time.
	ProductIDs           []int64
	CollectionProductIDs []int64

	MinPurchaseAmount decimal.Decimal
	MinQtyItems       int

	ForAllCustomers          bool
	ForCustomersWithNoOrders bool
	ForSpecificCustomers     bool
	CustomerIDs              []int64

	// TimesUsable == 0 means usability is decided by customer scope alone,
	// not "unlimited" and not "zero uses".
	TimesUsable       int
	TimesUsed         int
	OneUsePerCustomer bool

	ActiveFrom  *time.Time
	ActiveUntil *time.Time
}

// DiscountKind tags the discount variant a coupon resolves to.
type DiscountKind int

const (
	KindFixedAmount DiscountKind = iota
	KindPercentage
	KindFreeShipping
)

// DiscountSpec is the explicit discount variant: exactly one of Amount or
// Percent is meaningful depending on Kind, and FreeShipping carries neither.
type DiscountSpec struct {
	Kind    DiscountKind
	Amount  decimal.Decimal
	Percent decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// DiscountSpec resolves the coupon's stored fields into a tagged variant.
// A nonzero fixed amount wins over the percentage; free-shipping coupons
// with neither produce a zero deduction and only waive shipping.
func (c *Coupon) DiscountSpec() DiscountSpec {
	switch {
	case !c.DeductAmount.IsZero():
		return DiscountSpec{Kind: KindFixedAmount, Amount: c.DeductAmount}
	case !c.DeductPercent.IsZero():
		return DiscountSpec{Kind: KindPercentage, Percent: c.DeductPercent}
	default:
		return DiscountSpec{Kind: KindFreeShipping}
	}
}

// DeductionFor computes the deduction against the given subtotal, capped at
// the subtotal so the resulting total can never go negative.
func (s DiscountSpec) DeductionFor(subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch s.Kind {
	case KindFixedAmount:
		amount = s.Amount
	case KindPercentage:
		amount = subtotal.Mul(s.Percent).Div(hundred)
	case KindFreeShipping:
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}

// FreeShipping reports whether the coupon waives the shipping charge.
func (c *Coupon) FreeShipping() bool {
	return c.Type == TypeFreeShipping
}

// CartItem is one line of a cart as seen by the eligibility engine.
type CartItem struct {
	ProductID int64
	Quantity  int
}

// Cart is the view of a cart (or order) the predicates evaluate against.
type Cart struct {
	Items []CartItem
	// Total is the cart's current total used by the purchase-amount predicate.
	Total decimal.Decimal
	// CustomerID is nil for guest carts.
	CustomerID *int64
}

// Result holds the outcome of a successful coupon validation.
type Result struct {
	Coupon       *Coupon
	FreeShipping bool
	Deduction    decimal.Decimal
}

// Repository provides lookup and usage accounting for coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	// IncrementUses atomically bumps the usage counter. It is called by the
	// checkout flow after a successful payment, never during validation.
	IncrementUses(ctx context.Context, id int64) error
}

// CustomerHistory answers the order-history questions the customer-scope and
// usage predicates depend on.
type CustomerHistory interface {
	// HasPaidOrders reports whether the customer has at least one order with
	// a successful payment.
	HasPaidOrders(ctx context.Context, customerID int64) (bool, error)
	// HasOrderWithCoupon reports whether the customer already placed an order
	// using the given coupon.
	HasOrderWithCoupon(ctx context.Context, customerID, couponID int64) (bool, error)
}
