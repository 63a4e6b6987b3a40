package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/becon/pricing-engine/internal/domain/order"
)

// orderTotal returns the order's formatted total. Without a store_id query
// parameter it is the customer-facing total (recomputed and persisted); with
// one it is the seller-facing total over that store's items.
func (h *Handler) orderTotal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var total string
	if raw := r.URL.Query().Get("store_id"); raw != "" {
		storeID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || storeID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid store_id")
			return
		}
		total, err = h.orders.TotalForSeller(r.Context(), id, storeID)
	} else {
		total, err = h.orders.TotalForCustomer(r.Context(), id)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Int64(id) })
			e.Field("total", func(e *jx.Encoder) { e.Str(total) })
		})
	})
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.orders.PaymentStatus(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Int64(id) })
			e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(st)) })
		})
	})
}

func (h *Handler) orderTracks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tracks, err := h.orders.Tracks(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, t := range tracks {
				e.Obj(func(e *jx.Encoder) {
					e.Field("status", func(e *jx.Encoder) { e.Str(string(t.Status)) })
					e.Field("status_label", func(e *jx.Encoder) { e.Str(t.Status.Label()) })
					if t.ActorID != nil {
						e.Field("actor_id", func(e *jx.Encoder) { e.Int64(*t.ActorID) })
					}
					if t.Reason != "" {
						e.Field("reason", func(e *jx.Encoder) { e.Str(t.Reason) })
					}
					if t.RescheduledAt != nil {
						e.Field("rescheduled_at", func(e *jx.Encoder) { e.Str(t.RescheduledAt.Format(time.RFC3339)) })
					}
					e.Field("created_at", func(e *jx.Encoder) { e.Str(t.CreatedAt.Format(time.RFC3339)) })
				})
			}
		})
	})
}

func (h *Handler) itemTracks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tracks, err := h.orders.ItemTracks(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, t := range tracks {
				e.Obj(func(e *jx.Encoder) {
					e.Field("status", func(e *jx.Encoder) { e.Str(string(t.Status)) })
					e.Field("status_label", func(e *jx.Encoder) { e.Str(t.Status.Label()) })
					if t.ActorID != nil {
						e.Field("actor_id", func(e *jx.Encoder) { e.Int64(*t.ActorID) })
					}
					if t.Reason != "" {
						e.Field("reason", func(e *jx.Encoder) { e.Str(t.Reason) })
					}
					e.Field("created_at", func(e *jx.Encoder) { e.Str(t.CreatedAt.Format(time.RFC3339)) })
				})
			}
		})
	})
}

type statusRequest struct {
	Status       string
	ProductIDs   []int64
	ActorID      *int64
	Reason       string
	Remarks      string
	RescheduleAt *time.Time
}

func decodeStatusRequest(r *http.Request) (statusRequest, error) {
	var req statusRequest
	d := jx.Decode(r.Body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			req.Status = s
			return err
		case "product_ids":
			return d.Arr(func(d *jx.Decoder) error {
				id, err := d.Int64()
				req.ProductIDs = append(req.ProductIDs, id)
				return err
			})
		case "actor_id":
			id, err := d.Int64()
			req.ActorID = &id
			return err
		case "reason":
			s, err := d.Str()
			req.Reason = s
			return err
		case "remarks":
			s, err := d.Str()
			req.Remarks = s
			return err
		case "reschedule_at":
			s, err := d.Str()
			if err != nil {
				return err
			}
			at, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return errors.Wrap(err, "reschedule_at")
			}
			req.RescheduleAt = &at
			return nil
		default:
			return d.Skip()
		}
	})
	return req, err
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := decodeStatusRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.orders.TransitionOrder(r.Context(), order.TransitionRequest{
		OrderID:      id,
		Status:       st,
		ActorID:      req.ActorID,
		Reason:       req.Reason,
		RescheduleAt: req.RescheduleAt,
		Remarks:      req.Remarks,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Int64(id) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(st)) })
			e.Field("status_label", func(e *jx.Encoder) { e.Str(st.Label()) })
		})
	})
}

func (h *Handler) updateItemStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := decodeStatusRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ProductIDs) == 0 {
		writeError(w, http.StatusBadRequest, "product_ids is required")
		return
	}

	st, err := order.ParseItemStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.orders.TransitionItems(r.Context(), order.ItemTransitionRequest{
		OrderID:      id,
		ProductIDs:   req.ProductIDs,
		Status:       st,
		ActorID:      req.ActorID,
		Reason:       req.Reason,
		RescheduleAt: req.RescheduleAt,
		Remarks:      req.Remarks,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Int64(id) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(st)) })
			e.Field("status_label", func(e *jx.Encoder) { e.Str(st.Label()) })
		})
	})
}

type cancelRequest struct {
	Reason  string
	ActorID *int64
	Restock bool
	Items   []order.CancelItem
}

func decodeCancelRequest(r *http.Request) (cancelRequest, error) {
	var req cancelRequest
	d := jx.Decode(r.Body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "reason":
			s, err := d.Str()
			req.Reason = s
			return err
		case "actor_id":
			id, err := d.Int64()
			req.ActorID = &id
			return err
		case "restock":
			b, err := d.Bool()
			req.Restock = b
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item order.CancelItem
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "product_id":
						id, err := d.Int64()
						item.ProductID = id
						return err
					case "qty":
						q, err := d.Int()
						item.Qty = q
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

// cancelOrder cancels the whole order when no items are selected, otherwise
// only the selected quantities.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := decodeCancelRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Items) == 0 {
		err = h.orders.CancelOrder(r.Context(), id, req.ActorID, req.Reason, req.Restock)
	} else {
		err = h.orders.CancelItems(r.Context(), id, req.Items, req.ActorID, req.Reason, req.Restock)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	total, err := h.orders.TotalForCustomer(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Int64(id) })
			e.Field("total", func(e *jx.Encoder) { e.Str(total) })
		})
	})
}
