package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

// publishChannel is the part of *amqp.Channel the sink uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Sink publishes CloudEvents to a topic exchange, using the outbox
// destination as routing key. It satisfies outbox.Sink.
type Sink struct {
	ch       publishChannel
	exchange string
	logger   *logging.Logger
}

func NewSink(ch publishChannel, exchange string, logger *logging.Logger) *Sink {
	return &Sink{ch: ch, exchange: exchange, logger: logger.WithComponent("rabbitmq-sink")}
}

func (s *Sink) PublishEvent(ctx context.Context, destination string, event *cloudevents.POSCloudEvent) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "rabbitmq.publish", tracing.MessagingSpanAttributes("rabbitmq", destination, "publish")...)

	err := s.publish(ctx, destination, event)

	tracing.EndSpan(span, err)
	s.logger.BrokerPublish(ctx, "rabbitmq", destination, event.Type, err == nil, time.Since(start))
	return err
}

func (s *Sink) publish(ctx context.Context, routingKey string, event *cloudevents.POSCloudEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	headers := amqp.Table{}
	for k, v := range event.Headers() {
		headers[k] = v
	}

	err = s.ch.PublishWithContext(ctx,
		s.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/cloudevents+json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Type:         event.Type,
			Timestamp:    event.Time,
			Headers:      headers,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event to %s/%s: %w", s.exchange, routingKey, err)
	}
	return nil
}
