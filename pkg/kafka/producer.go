package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes CloudEvents to Kafka topics, one writer per topic.
// It satisfies outbox.Sink.
type Producer struct {
	mu        sync.Mutex
	writers   map[string]messageWriter
	config    *Config
	logger    *logging.Logger
	newWriter func(topic string) messageWriter
}

// NewProducer creates a new Kafka producer
func NewProducer(config *Config, logger *logging.Logger) *Producer {
	p := &Producer{
		writers: make(map[string]messageWriter),
		config:  config,
		logger:  logger.WithComponent("kafka-producer"),
	}
	p.newWriter = p.kafkaWriter
	return p
}

func (p *Producer) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    p.config.BatchSize,
		BatchTimeout: p.config.BatchTimeout,
		WriteTimeout: p.config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		Transport:    &kafka.Transport{ClientID: p.config.ClientID},
	}
}

func (p *Producer) getWriter(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, exists := p.writers[topic]; exists {
		return writer
	}
	writer := p.newWriter(topic)
	p.writers[topic] = writer
	return writer
}

// PublishEvent publishes a CloudEvent to topic. Messages are keyed by
// product code so one product's events stay ordered within a partition.
func (p *Producer) PublishEvent(ctx context.Context, topic string, event *cloudevents.POSCloudEvent) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "kafka.publish", tracing.MessagingSpanAttributes("kafka", topic, "publish")...)

	msg, err := toMessage(ctx, event)
	if err == nil {
		err = p.getWriter(topic).WriteMessages(ctx, msg)
		if err != nil {
			err = fmt.Errorf("failed to publish event to topic %s: %w", topic, err)
		}
	}

	tracing.EndSpan(span, err)
	p.logger.BrokerPublish(ctx, "kafka", topic, event.Type, err == nil, time.Since(start))
	return err
}

func toMessage(ctx context.Context, event *cloudevents.POSCloudEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	key := event.ProductCode
	if key == "" {
		key = event.Subject
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.Time,
	}
	for k, v := range event.Headers() {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	for k, v := range tracing.TraceHeaders(ctx) {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "ce-" + k, Value: []byte(v)})
	}
	return msg, nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close writer for topic %s: %w", topic, err)
		}
	}
	return lastErr
}
