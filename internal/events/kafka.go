// Package events publishes order lifecycle notifications to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/becon/pricing-engine/internal/domain/order"
)

// Event types carried on the notifications topic.
const (
	EventOrderStatusChanged = "order.status_changed"
	EventItemStatusChanged  = "order.item_status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventItemsCancelled     = "order.items_cancelled"
)

var _ order.Notifier = (*Publisher)(nil)

// Publisher emits order notifications to a Kafka topic. Consumers fan the
// events out to push and email delivery.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher writing to the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  10 * time.Second,
		},
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// OrderStatusChanged publishes an order-level status change.
func (p *Publisher) OrderStatusChanged(ctx context.Context, o *order.Order, st order.Status, actorID *int64, reason string) error {
	return p.publish(ctx, o, event{
		Type:   EventOrderStatusChanged,
		Status: string(st),
		Label:  st.Label(),
		Actor:  actorID,
		Reason: reason,
	})
}

// ItemStatusChanged publishes a line-item status change for the given
// products.
func (p *Publisher) ItemStatusChanged(ctx context.Context, o *order.Order, productIDs []int64, st order.ItemStatus, actorID *int64, reason string) error {
	return p.publish(ctx, o, event{
		Type:     EventItemStatusChanged,
		Status:   string(st),
		Label:    st.Label(),
		Products: productIDs,
		Actor:    actorID,
		Reason:   reason,
	})
}

// OrderCancelled publishes a full-order cancellation.
func (p *Publisher) OrderCancelled(ctx context.Context, o *order.Order, actorID *int64, reason string) error {
	return p.publish(ctx, o, event{
		Type:   EventOrderCancelled,
		Status: string(order.StatusCancelled),
		Label:  order.StatusCancelled.Label(),
		Actor:  actorID,
		Reason: reason,
	})
}

// ItemsCancelled publishes a partial cancellation covering the given
// products.
func (p *Publisher) ItemsCancelled(ctx context.Context, o *order.Order, productIDs []int64, actorID *int64, reason string) error {
	return p.publish(ctx, o, event{
		Type:     EventItemsCancelled,
		Status:   string(order.ItemCancelled),
		Label:    order.ItemCancelled.Label(),
		Products: productIDs,
		Actor:    actorID,
		Reason:   reason,
	})
}

type event struct {
	Type     string
	Status   string
	Label    string
	Products []int64
	Actor    *int64
	Reason   string
}

func (p *Publisher) publish(ctx context.Context, o *order.Order, ev event) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event_id", func(e *jx.Encoder) { e.Str(uuid.NewString()) })
		e.Field("type", func(e *jx.Encoder) { e.Str(ev.Type) })
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(ev.Status) })
		e.Field("status_label", func(e *jx.Encoder) { e.Str(ev.Label) })
		if o.CustomerID != nil {
			e.Field("customer_id", func(e *jx.Encoder) { e.Int64(*o.CustomerID) })
		}
		if o.GuestID != nil {
			e.Field("guest_id", func(e *jx.Encoder) { e.Int64(*o.GuestID) })
		}
		if len(ev.Products) > 0 {
			e.Field("product_ids", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, id := range ev.Products {
						e.Int64(id)
					}
				})
			})
		}
		if ev.Actor != nil {
			e.Field("actor_id", func(e *jx.Encoder) { e.Int64(*ev.Actor) })
		}
		if ev.Reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(ev.Reason) })
		}
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(time.Now().UTC().Format(time.RFC3339)) })
	})

	msg := kafka.Message{
		Key:   []byte(ev.Type),
		Value: e.Bytes(),
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write notification")
	}
	return nil
}

var _ order.Notifier = NopNotifier{}

// NopNotifier discards all notifications. It stands in when no brokers are
// configured.
type NopNotifier struct{}

func (NopNotifier) OrderStatusChanged(context.Context, *order.Order, order.Status, *int64, string) error {
	return nil
}

func (NopNotifier) ItemStatusChanged(context.Context, *order.Order, []int64, order.ItemStatus, *int64, string) error {
	return nil
}

func (NopNotifier) OrderCancelled(context.Context, *order.Order, *int64, string) error {
	return nil
}

func (NopNotifier) ItemsCancelled(context.Context, *order.Order, []int64, *int64, string) error {
	return nil
}
