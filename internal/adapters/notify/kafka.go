package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/hylla/taskgate/internal/app"
)

// DefaultKafkaTopic receives review notices when no topic is configured.
const DefaultKafkaTopic = "taskgate.review"

// messageWriter is the kafka.Writer subset used here.
type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Kafka publishes review notices keyed by task id.
type Kafka struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewKafka constructs a Kafka notifier for brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{writer: w, topic: topic, now: time.Now}, nil
}

// Topic returns the destination topic.
func (k *Kafka) Topic() string {
	return k.topic
}

// NotifyReview publishes notice as JSON with the active trace context in the headers.
func (k *Kafka) NotifyReview(ctx context.Context, notice app.ReviewNotice) error {
	value, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encode review notice: %w", err)
	}
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   k.topic,
		Key:     []byte(notice.TaskID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    k.now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// HeaderCarrier adapts kafka headers to the otel TextMapCarrier interface.
type HeaderCarrier []kafka.Header

// Get returns the first header value for key.
func (c HeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set writes key, replacing an existing header with the same key.
func (c *HeaderCarrier) Set(key, value string) {
	filtered := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			filtered = append(filtered, h)
		}
	}
	*c = append(filtered, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys returns every header key.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}
