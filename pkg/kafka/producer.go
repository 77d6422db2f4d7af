// Package kafka mirrors every bus event to a Kafka topic so downstream
// systems can audit and replay automation activity.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/c7lavinder/gunner-backend/pkg/models"
	"github.com/c7lavinder/gunner-backend/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers    []string
	AuditTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, auditTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:    brokerList,
		AuditTopic: auditTopic,
	}
}

// Producer publishes audit messages to Kafka
type Producer struct {
	writer  *kafka.Writer
	logger  ectologger.Logger
	topic   string
	brokers []string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		// Without this, a first publish may fail with "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer:  writer,
		logger:  logger,
		topic:   cfg.AuditTopic,
		brokers: cfg.Brokers,
	}
}

// Ping checks broker reachability by dialing the first configured broker.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// AuditMessage is the wire form of one bus event on the audit topic
type AuditMessage struct {
	EventID    string         `json:"event_id"`
	Kind       string         `json:"kind"`
	TenantID   string         `json:"tenant_id"`
	ContactID  string         `json:"contact_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	Timestamp  time.Time      `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// PublishEvent mirrors one bus event to the audit topic
func (p *Producer) PublishEvent(ctx context.Context, event *models.Event) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("tenant_id", event.TenantID),
		attribute.String("event_kind", string(event.Kind)),
	)

	msg := AuditMessage{
		EventID:    event.ID.String(),
		Kind:       string(event.Kind),
		TenantID:   event.TenantID,
		ContactID:  event.ContactID,
		Payload:    event.Payload.GetValue(),
		ReceivedAt: event.ReceivedAt,
		Timestamp:  time.Now().UTC(),
		TraceID:    tracing.GetTraceID(ctx),
		SpanID:     tracing.GetSpanID(ctx),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal audit message: %w", err)
	}

	// Partition by tenant + contact so one lead's timeline stays ordered.
	key := fmt.Sprintf("%s:%s", event.TenantID, event.ContactID)

	headers := []kafka.Header{
		{Key: "tenant_id", Value: []byte(event.TenantID)},
		{Key: "contact_id", Value: []byte(event.ContactID)},
		{Key: "kind", Value: []byte(event.Kind)},
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Mirrored event to Kafka: id=%s kind=%s trace=%s",
		msg.EventID, msg.Kind, msg.TraceID)

	return nil
}

// AuditSubscriber adapts the producer to a bus subscriber
func (p *Producer) AuditSubscriber() func(ctx context.Context, event *models.Event) error {
	return func(ctx context.Context, event *models.Event) error {
		return p.PublishEvent(ctx, event)
	}
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}
