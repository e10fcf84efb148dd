package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	orderapp "github.com/robokitlabs/orderflow/internal/order/application"
	"github.com/robokitlabs/orderflow/internal/order/domain"
	"github.com/robokitlabs/orderflow/pkg/idempotency"
	"github.com/robokitlabs/orderflow/pkg/tracing"
)

// Fulfiller is the slice of the order service the consumer drives after a
// payment confirmation lands on the topic.
type Fulfiller interface {
	BeginFulfillment(ctx context.Context, orderID string) (domain.Order, error)
}

// Consumer reads the order events topic and fans committed transitions out to
// their side effects: customer notifications and the fulfillment kickoff.
// Delivery is at-least-once; the idempotency claim plus the collaborators'
// own tolerance for repeats keeps the observable effect single.
type Consumer struct {
	log         *slog.Logger
	reader      *kafka.Reader
	notifier    orderapp.Notifier
	fulfillment orderapp.FulfillmentTrigger
	orders      Fulfiller
	idem        *idempotency.Store
	tracer      trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string,
	notifier orderapp.Notifier, fulfillment orderapp.FulfillmentTrigger,
	orders Fulfiller, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:         log,
		reader:      r,
		notifier:    notifier,
		fulfillment: fulfillment,
		orders:      orders,
		idem:        idem,
		tracer:      otel.Tracer("notify-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		eventType := headerValue(msg.Headers, "event_type")
		eventID := headerValue(msg.Headers, "event_id")
		if eventID == "" {
			c.log.Error("message without event_id header skipped", "topic", msg.Topic, "offset", msg.Offset)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		fresh, err := c.idem.Claim(ctx, "notify", eventID)
		if err != nil {
			c.log.Error("idempotency claim failed", "err", err)
			continue
		}
		if !fresh {
			c.log.Info("duplicate event skipped", "event_id", eventID)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "Consume"+eventType)

		if err := c.handle(msgCtx, eventType, msg.Value); err != nil {
			c.log.Error("event handling failed", "event_type", eventType, "event_id", eventID, "err", err)
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, eventType string, value []byte) error {
	switch eventType {
	case "OrderPaid":
		var event domain.OrderPaid
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if err := c.notifier.Send(ctx, event.OrderID, orderapp.TemplatePaymentConfirmed); err != nil {
			return err
		}
		if err := c.fulfillment.Start(ctx, event.OrderID); err != nil {
			return err
		}
		if _, err := c.orders.BeginFulfillment(ctx, event.OrderID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return err
		}
		c.log.Info("fulfillment started", "order_id", event.OrderID)
		return nil

	case "OrderPaymentFailed":
		var event domain.OrderPaymentFailed
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		return c.notifier.Send(ctx, event.OrderID, orderapp.TemplatePaymentFailed)

	case "OrderFulfilled":
		var event domain.OrderFulfilled
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		return c.notifier.Send(ctx, event.OrderID, orderapp.TemplateOrderFulfilled)

	case "OrderRefunded":
		var event domain.OrderRefunded
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		return c.notifier.Send(ctx, event.OrderID, orderapp.TemplateRefundIssued)

	case "OrderCreated", "OrderCancelled":
		// Published for downstream systems; nothing to notify here.
		return nil
	}
	c.log.Info("unknown event type ignored", "event_type", eventType)
	return nil
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
