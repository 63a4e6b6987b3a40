package order

import (
	"github.com/shopspring/decimal"

	"github.com/becon/pricing-engine/internal/domain/catalog"
)

// PricedItem pairs a line item with its catalog product. Product is nil when
// the product was deleted; such items contribute nothing on the live-price
// path.
type PricedItem struct {
	Item    LineItem
	Product *catalog.Product
}

// Quote is the consistent pricing tuple for an order. It is a pure value:
// computing one never mutates anything; persisting it is the caller's
// explicit, transactional step.
//
// Total always satisfies total == subtotal + shipping - discount, clamped at
// zero. Payable is the customer-facing amount after subtracting the refunded
// price (equal to Total when nothing was refunded).
type Quote struct {
	SubTotal       decimal.Decimal
	ShippingCharge decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	Payable        decimal.Decimal
}

// CouponEffect is the outcome of a coupon eligibility check as consumed by
// the pricing computation. A nil *CouponEffect means no applicable coupon.
type CouponEffect struct {
	FreeShipping bool
	Deduction    decimal.Decimal
}

// Subtotal computes the order subtotal from its line items.
//
// The price source is an all-or-nothing switch: when every item carries an
// explicit frozen price the subtotal is the sum of price x quantity over
// those frozen prices; when any item lacks one, every item is priced from
// the current catalog instead (discounted-or-base price). Mixing frozen and
// live prices within one order is not supported.
func Subtotal(items []PricedItem) decimal.Decimal {
	if len(items) == 0 {
		return decimal.Zero
	}

	frozen := 0
	for _, it := range items {
		if it.Item.Price.IsPositive() {
			frozen++
		}
	}

	sum := decimal.Zero
	if frozen > 0 && frozen == len(items) {
		for _, it := range items {
			sum = sum.Add(it.Item.Price.Mul(decimal.NewFromInt(int64(it.Item.Quantity))))
		}
		return sum
	}

	for _, it := range items {
		if it.Product == nil {
			continue
		}
		line := it.Product.EffectivePrice().Mul(decimal.NewFromInt(int64(it.Item.Quantity)))
		sum = sum.Add(line)
	}
	return sum
}

// QuoteForCustomer computes the customer-facing quote: subtotal plus the
// shipping charge, minus the coupon deduction (or with shipping waived for a
// free-shipping coupon), with the refunded price subtracted from the payable
// amount.
func QuoteForCustomer(items []PricedItem, effect *CouponEffect, refunded, shipping decimal.Decimal) Quote {
	sub := Subtotal(items)

	q := Quote{SubTotal: sub, ShippingCharge: shipping}

	switch {
	case effect == nil:
		q.Total = sub.Add(shipping)
	case effect.FreeShipping:
		q.ShippingCharge = decimal.Zero
		q.Total = sub
	default:
		q.Discount = decimal.Min(effect.Deduction, sub)
		q.Total = floorAtZero(sub.Sub(q.Discount)).Add(shipping)
	}

	q.Payable = q.Total
	if refunded.IsPositive() {
		q.Payable = floorAtZero(q.Total.Sub(refunded))
	}
	return q
}

// SellerTotal computes the seller-facing total over the seller's own line
// items: the scoped subtotal minus the refunded price, shipping excluded.
// This is a deliberately different contract from the customer total.
func SellerTotal(scopedItems []PricedItem, refunded decimal.Decimal) decimal.Decimal {
	sub := Subtotal(scopedItems)
	if refunded.IsPositive() {
		sub = sub.Sub(refunded)
	}
	return sub
}

// FormatAmount renders a monetary value with the platform's three decimal
// places, e.g. "12.500".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(3)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
