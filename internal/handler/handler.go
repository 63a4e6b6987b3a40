// Package handler exposes the pricing and status operations over HTTP.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/becon/pricing-engine/internal/domain/coupon"
	"github.com/becon/pricing-engine/internal/domain/order"
)

// Handler routes API requests to the order service and coupon engine.
type Handler struct {
	orders *order.Service
	engine *coupon.Engine
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders *order.Service, engine *coupon.Engine) *Handler {
	return &Handler{orders: orders, engine: engine}
}

// Register mounts all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orders/{id}/total", h.orderTotal)
	mux.HandleFunc("GET /api/orders/{id}/payment-status", h.paymentStatus)
	mux.HandleFunc("GET /api/orders/{id}/tracks", h.orderTracks)
	mux.HandleFunc("GET /api/orders/items/{itemID}/tracks", h.itemTracks)
	mux.HandleFunc("POST /api/orders/{id}/status", h.updateOrderStatus)
	mux.HandleFunc("POST /api/orders/{id}/items/status", h.updateItemStatus)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /api/cart/coupons", h.applyCoupon)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid %s", name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// couponRejections maps coupon predicate failures to a 422 response. Other
// errors fall through to 500.
var couponRejections = []error{
	coupon.ErrNotFound,
	coupon.ErrNotActive,
	coupon.ErrOutsideDates,
	coupon.ErrProductScope,
	coupon.ErrMinPurchase,
	coupon.ErrMinQuantity,
	coupon.ErrCustomerScope,
	coupon.ErrUsageLimit,
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		for _, rejection := range couponRejections {
			if errors.Is(err, rejection) {
				writeError(w, http.StatusUnprocessableEntity, rejection.Error())
				return
			}
		}
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
