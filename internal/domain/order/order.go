package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/becon/pricing-engine/internal/domain/catalog"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order aggregates line items and carries the memoized pricing fields.
// Exactly one of CustomerID and GuestID is set, or neither for anonymous
// historical rows.
type Order struct {
	ID     int64
	Status Status

	CustomerID *int64
	GuestID    *int64
	AddressID  *int64
	CouponID   *int64

	SubTotal         decimal.Decimal
	TotalPrice       decimal.Decimal
	DiscountedPrice  decimal.Decimal
	ShippingCharge   decimal.Decimal
	RefundedPrice    decimal.Decimal
	TotalAfterRefund decimal.Decimal

	CancellationReason string
	IsDeleted          bool

	OutForDeliveryAt  *time.Time
	DeliveredAt       *time.Time
	RescheduledAt     *time.Time
	RescheduledReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is one OrderProduct: a quantity of one product within an order.
// ProductID is nil when the product was deleted after checkout. Price is the
// frozen price-at-purchase; zero means no explicit price was captured.
type LineItem struct {
	ID        int64
	OrderID   int64
	ProductID *int64
	Quantity  int
	Price     decimal.Decimal

	Status             ItemStatus
	CancelledQty       int
	CancellationReason string
	IsDeleted          bool

	OutForDeliveryAt      *time.Time
	DeliveredAt           *time.Time
	RescheduledAt         *time.Time
	RescheduledReason     string
	ReadyForPickupRemarks string
	ReturnedReason        string
	DeclinedReason        string
}

// StatusTrack is an append-only audit record of an order-level transition.
type StatusTrack struct {
	ID            int64
	OrderID       int64
	Status        Status
	ActorID       *int64
	Reason        string
	RescheduledAt *time.Time
	CreatedAt     time.Time
}

// ItemStatusTrack is an append-only audit record of a line-item transition.
type ItemStatusTrack struct {
	ID            int64
	LineItemID    int64
	Status        ItemStatus
	ActorID       *int64
	Reason        string
	RescheduledAt *time.Time
	CreatedAt     time.Time
}

// CancelledQuantity records a partial-quantity cancellation of a line item.
type CancelledQuantity struct {
	ID         int64
	LineItemID int64
	Qty        int
	Reason     string
	CreatedAt  time.Time
}

// PaymentStatus is derived from payments and line-item cancellations; it is
// never stored.
type PaymentStatus string

const (
	PaymentFailed            PaymentStatus = "Failed"
	PaymentPaid              PaymentStatus = "Paid"
	PaymentRefunded          PaymentStatus = "Refunded"
	PaymentPartiallyRefunded PaymentStatus = "Partially Refunded"
)

// DerivePaymentStatus computes the payment status: Failed without a
// successful payment, Refunded when every line item is cancelled, Partially
// Refunded when some are, Paid otherwise.
func DerivePaymentStatus(hasSuccessfulPayment bool, cancelledItems, totalItems int) PaymentStatus {
	if !hasSuccessfulPayment {
		return PaymentFailed
	}
	switch {
	case totalItems > 0 && cancelledItems == totalItems:
		return PaymentRefunded
	case cancelledItems > 0:
		return PaymentPartiallyRefunded
	default:
		return PaymentPaid
	}
}

// OrderTransition is the full set of row updates and audit records produced
// by an order-level status change. The repository applies it atomically.
type OrderTransition struct {
	OrderID int64
	Status  Status

	// Cascade item updates: every non-deleted line item is force-set to the
	// matching item status and receives one audit record.
	ItemStatus ItemStatus

	OrderTrack StatusTrack
	// One ItemStatusTrack per line item, LineItemID filled by the repository.
	ItemTrackTemplate ItemStatusTrack

	OutForDeliveryAt      *time.Time
	DeliveredAt           *time.Time
	RescheduledAt         *time.Time
	RescheduledReason     string
	ReadyForPickupRemarks string
	ReturnedReason        string
	DeclinedReason        string
}

// ItemTransition is the row updates and audit records for transitioning a
// subset of an order's line items. The order's own status is untouched.
type ItemTransition struct {
	OrderID    int64
	ProductIDs []int64
	Status     ItemStatus

	TrackTemplate ItemStatusTrack

	OutForDeliveryAt      *time.Time
	DeliveredAt           *time.Time
	RescheduledAt         *time.Time
	RescheduledReason     string
	ReadyForPickupRemarks string
	ReturnedReason        string
	DeclinedReason        string
}

// ItemCancellation is one line item's cancellation outcome within a
// cancel-and-refund operation.
type ItemCancellation struct {
	LineItemID int64
	Reason     string
	// RefundAmount is added to the order's refunded price atomically.
	RefundAmount decimal.Decimal
	// PartialQty is nonzero when only part of the quantity is cancelled; the
	// repository records it as a CancelledQuantity row.
	PartialQty int
	Track      ItemStatusTrack
	// Restock returns the cancelled quantity to the product's inventory.
	Restock    int
	ProductID  int64
}

// Cancellation is the atomic unit of a cancel-and-refund operation.
type Cancellation struct {
	OrderID int64
	// OrderStatus is set for full-order cancellations; empty leaves the
	// order's own status unchanged (partial item cancellation).
	OrderStatus Status
	Reason      string
	OrderTrack  StatusTrack
	Items       []ItemCancellation
}

// Repository defines persistence operations for orders. Mutating operations
// are transactional: a transition, cancellation, or quote save either fully
// applies or not at all, and quote saves lock the order row to serialise
// concurrent recomputes.
type Repository interface {
	Get(ctx context.Context, id int64) (*Order, error)
	Items(ctx context.Context, orderID int64) ([]LineItem, error)
	// ItemsForStore returns the order's line items whose product belongs to
	// the given store, for seller-scoped computations.
	ItemsForStore(ctx context.Context, orderID, storeID int64) ([]LineItem, error)

	SaveQuote(ctx context.Context, orderID int64, q Quote) error
	ApplyOrderTransition(ctx context.Context, t OrderTransition) (itemTracks int, err error)
	ApplyItemTransition(ctx context.Context, t ItemTransition) (itemTracks int, err error)
	ApplyCancellation(ctx context.Context, c Cancellation) error

	HasSuccessfulPayment(ctx context.Context, orderID int64) (bool, error)
	// CancelledItemCounts returns how many of the order's line items are
	// cancelled alongside the total count.
	CancelledItemCounts(ctx context.Context, orderID int64) (cancelled, total int, err error)

	Tracks(ctx context.Context, orderID int64) ([]StatusTrack, error)
	ItemTracks(ctx context.Context, lineItemID int64) ([]ItemStatusTrack, error)
}

// CatalogSource resolves the products referenced by line items.
type CatalogSource interface {
	GetByIDs(ctx context.Context, ids []int64) ([]catalog.Product, error)
}
