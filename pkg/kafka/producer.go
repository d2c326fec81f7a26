package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// DefaultProducerConfig returns the producer settings used by the service.
// Batching is kept tiny since events are written one at a time per request.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// MessageWriter is the subset of *kafka.Writer the producer depends on.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerOption customizes a Producer.
type ProducerOption func(*Producer)

// WithMetricsRegisterer registers the producer's metrics on reg instead of
// the process-wide default registry.
func WithMetricsRegisterer(reg prometheus.Registerer) ProducerOption {
	return func(p *Producer) { p.metrics = newPublishMetrics(reg) }
}

// Producer writes Events to Kafka.
type Producer struct {
	writer  MessageWriter
	brokers []string
	logger  *slog.Logger
	metrics *publishMetrics
}

// NewProducer creates a producer. It does not connect until the first
// message is written.
func NewProducer(cfg ProducerConfig, logger *slog.Logger, opts ...ProducerOption) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(w, cfg.Brokers, logger, opts...)
}

// NewProducerWithWriter creates a producer on top of an existing writer.
func NewProducerWithWriter(w MessageWriter, brokers []string, logger *slog.Logger, opts ...ProducerOption) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Producer{
		writer:  w,
		brokers: brokers,
		logger:  logger,
		metrics: defaultMetrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes event to topic, keyed by its subject ID so all events for
// one user land on the same partition.
func (p *Producer) Publish(ctx context.Context, topic string, event *Event) error {
	msg, err := message(ctx, topic, event)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.latency.WithLabelValues(topic).Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.published.WithLabelValues(topic, outcomeFailed).Inc()
		p.logger.WarnContext(ctx, "event not published",
			slog.String("topic", topic),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.metrics.published.WithLabelValues(topic, outcomeOK).Inc()
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_type", event.Type),
		slog.String("subject", event.Subject.ID),
	)
	return nil
}

func message(ctx context.Context, topic string, event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "source", Value: []byte(event.Source)},
	}
	if event.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation_id", Value: []byte(event.CorrelationID)})
	}
	otel.GetTextMapPropagator().Inject(ctx, NewHeaderCarrier(&headers))

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(event.Subject.ID),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	}, nil
}

// Ping reports whether any configured broker answers a metadata request.
func (p *Producer) Ping(ctx context.Context) error {
	return PingBrokers(ctx, p.brokers)
}

// PingBrokers dials each broker in turn and succeeds on the first one that
// returns its broker list.
func PingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}

	var errs []error
	for _, addr := range brokers {
		if err := pingBroker(ctx, addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}

func pingBroker(ctx context.Context, addr string) error {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Brokers()
	return err
}

// Close flushes pending messages and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
