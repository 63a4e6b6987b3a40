package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

var hundred = decimal.NewFromInt(100)

// Product represents a catalog item available for purchase.
type Product struct {
	ID        int64
	Name      string
	StoreID   int64
	BasePrice decimal.Decimal
	// Discount is the percentage-off record attached to this product,
	// nil when the product is sold at its base price.
	Discount *Discount
}

// Discount is a percentage reduction off a product's base price. It is
// derived from price edits, not authored independently: editing a product's
// discounted price to a nonzero value creates or updates the record, editing
// it back to zero deletes it.
type Discount struct {
	ProductID  int64
	Percentage decimal.Decimal
}

// DiscountedPrice returns the base price reduced by the discount percentage.
func (d Discount) DiscountedPrice(base decimal.Decimal) decimal.Decimal {
	return base.Sub(base.Mul(d.Percentage).Div(hundred))
}

// EffectivePrice returns the discounted price when a discount is attached,
// otherwise the base price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.Discount != nil {
		return p.Discount.DiscountedPrice(p.BasePrice)
	}
	return p.BasePrice
}

// DiscountFromPrices derives the Discount implied by editing a product's
// discounted price. A zero discounted price means no discount (nil). The
// percentage is back-computed so that applying it to the base price yields
// the requested discounted price.
func DiscountFromPrices(productID int64, base, discounted decimal.Decimal) *Discount {
	if discounted.IsZero() || !base.IsPositive() {
		return nil
	}
	reduction := base.Sub(discounted)
	return &Discount{
		ProductID:  productID,
		Percentage: reduction.Mul(hundred).Div(base),
	}
}

// Collection is a named group of products a coupon may be scoped to.
type Collection struct {
	ID         int64
	Name       string
	ProductIDs []int64
}

// Repository defines read and pricing-update operations for the catalog.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// UpdatePricing sets the product's base price and replaces its Discount
	// record with the derived one (deleting it when discount is nil).
	UpdatePricing(ctx context.Context, id int64, base decimal.Decimal, discount *Discount) error
}
