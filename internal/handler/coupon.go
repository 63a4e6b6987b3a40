package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/becon/pricing-engine/internal/domain/coupon"
	"github.com/becon/pricing-engine/internal/domain/order"
)

type applyCouponRequest struct {
	Code       string
	CustomerID *int64
	Total      decimal.Decimal
	Items      []coupon.CartItem
}

func decodeApplyCouponRequest(r *http.Request) (applyCouponRequest, error) {
	var req applyCouponRequest
	d := jx.Decode(r.Body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			s, err := d.Str()
			req.Code = s
			return err
		case "customer_id":
			id, err := d.Int64()
			req.CustomerID = &id
			return err
		case "total":
			s, err := d.Str()
			if err != nil {
				return err
			}
			req.Total, err = decimal.NewFromString(s)
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item coupon.CartItem
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "product_id":
						id, err := d.Int64()
						item.ProductID = id
						return err
					case "quantity":
						q, err := d.Int()
						item.Quantity = q
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return req, err
}

// applyCoupon checks a coupon code against the submitted cart and returns
// the deduction it would produce. Rejections come back as 422 with the
// failing condition's message.
func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := decodeApplyCouponRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res, err := h.engine.Validate(r.Context(), req.Code, coupon.Cart{
		Items:      req.Items,
		Total:      req.Total,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(res.Coupon.Code) })
			e.Field("free_shipping", func(e *jx.Encoder) { e.Bool(res.FreeShipping) })
			e.Field("deduction", func(e *jx.Encoder) { e.Str(order.FormatAmount(res.Deduction)) })
		})
	})
}
