package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hylla/taskgate/internal/app"
)

func sampleNotice() app.ReviewNotice {
	return app.ReviewNotice{
		TaskID:     "APP1_7",
		TaskName:   "Ship it",
		AppAcronym: "APP1",
		Actor:      "alice",
		Recipients: []string{"bob", "dave"},
		OccurredAt: time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC),
	}
}

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindLog, kind)

	kind, err = ParseKind(" Kafka ")
	require.NoError(t, err)
	assert.Equal(t, KindKafka, kind)

	_, err = ParseKind("smtp")
	require.Error(t, err)
}

func TestLoggerWritesNotice(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Formatter: log.LogfmtFormatter})

	require.NoError(t, NewLogger(logger).NotifyReview(context.Background(), sampleNotice()))

	out := buf.String()
	assert.Contains(t, out, "task awaiting review")
	assert.Contains(t, out, "task_id=APP1_7")
	assert.Contains(t, out, "recipients=bob,dave")
}

func TestKafkaPublishesKeyedJSONWithTraceHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	writer := &recordingWriter{}
	notifier := &Kafka{writer: writer, topic: DefaultKafkaTopic, now: time.Now}

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	require.NoError(t, notifier.NotifyReview(ctx, sampleNotice()))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, DefaultKafkaTopic, msg.Topic)
	assert.Equal(t, "APP1_7", string(msg.Key))
	assert.Contains(t, HeaderCarrier(msg.Headers).Get("traceparent"), traceID.String())

	var decoded app.ReviewNotice
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, sampleNotice(), decoded)

	require.NoError(t, notifier.Close())
	assert.True(t, writer.closed)
}

func TestKafkaWrapsWriteFailure(t *testing.T) {
	boom := errors.New("broker down")
	notifier := &Kafka{writer: &recordingWriter{err: boom}, topic: "t", now: time.Now}

	err := notifier.NotifyReview(context.Background(), sampleNotice())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "kafka publish to t")
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	var c HeaderCarrier
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	assert.Equal(t, "3", c.Get("a"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestNewSelectsNotifier(t *testing.T) {
	n, closeFn, err := New(Options{Kind: KindNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
	require.NoError(t, closeFn())

	n, _, err = New(Options{Kind: KindLog}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Logger{}, n)

	n, _, err = New(Options{Kind: " Log "}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Logger{}, n)

	n, closeFn, err = New(Options{Kind: KindKafka, KafkaBrokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultKafkaTopic, n.(*Kafka).Topic())
	require.NoError(t, closeFn())

	n, closeFn, err = New(Options{Kind: KindRedis, RedisAddr: "localhost:6379", RedisChannel: "reviews"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "reviews", n.(*Redis).Channel())
	require.NoError(t, closeFn())

	_, _, err = New(Options{Kind: KindKafka}, nil)
	require.Error(t, err)
	_, _, err = New(Options{Kind: KindRedis}, nil)
	require.Error(t, err)
	_, _, err = New(Options{Kind: "smtp"}, nil)
	require.Error(t, err)
}
