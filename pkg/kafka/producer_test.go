package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/pkg/logger"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

var johndoe = Subject{Type: "user", ID: "johndoe"}

func newTestProducer(w MessageWriter) (*Producer, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewProducerWithWriter(w, []string{"localhost:9092"}, nil, WithMetricsRegisterer(reg)), reg
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "auth.user.registered", Topic("user", "registered"))
	assert.Equal(t, "auth", Topic())
}

func TestNewEvent(t *testing.T) {
	ctx := logger.WithCorrelationID(context.Background(), "req-7")
	ev, err := NewEvent(ctx, "auth-service", "auth.user.registered", johndoe, map[string]int64{"id": 7})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "auth.user.registered", ev.Type)
	assert.Equal(t, johndoe, ev.Subject)
	assert.Equal(t, "req-7", ev.CorrelationID)
	assert.WithinDuration(t, time.Now(), ev.OccurredAt, 2*time.Second)
	assert.JSONEq(t, `{"id":7}`, string(ev.Data))

	other, err := NewEvent(ctx, "auth-service", "auth.user.registered", johndoe, nil)
	require.NoError(t, err)
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestNewEvent_UnencodablePayload(t *testing.T) {
	_, err := NewEvent(context.Background(), "auth-service", "auth.user.registered", johndoe, make(chan int))
	assert.ErrorContains(t, err, "auth.user.registered")
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{broken`))
	require.Error(t, err)

	ev := &Event{Data: json.RawMessage(`nope`)}
	var target map[string]string
	require.Error(t, ev.DecodeData(&target))
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p, reg := newTestProducer(w)

	ctx := logger.WithCorrelationID(context.Background(), "req-1")
	ev, err := NewEvent(ctx, "auth-service", "auth.user.registered", johndoe, map[string]string{"email": "johndoe@example.com"})
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, "auth.user.registered", ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "auth.user.registered", msg.Topic)
	assert.Equal(t, "johndoe", string(msg.Key))
	assert.Equal(t, "auth.user.registered", header(msg, "event_type"))
	assert.Equal(t, "auth-service", header(msg, "source"))
	assert.Equal(t, "req-1", header(msg, "correlation_id"))

	decoded, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, johndoe, decoded.Subject)

	assert.Equal(t, 1, testutil.CollectAndCount(reg, "auth_events_published_total"))
	assert.InDelta(t, 1, testutil.ToFloat64(p.metrics.published.WithLabelValues("auth.user.registered", outcomeOK)), 0.001)
}

func TestProducer_Publish_NoCorrelationHeader(t *testing.T) {
	w := &fakeWriter{}
	p, _ := newTestProducer(w)

	ev, err := NewEvent(context.Background(), "auth-service", "auth.user.status_changed", johndoe, nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), "auth.user.status_changed", ev))

	require.Len(t, w.msgs, 1)
	assert.Empty(t, header(w.msgs[0], "correlation_id"))
}

func TestProducer_Publish_WriterError(t *testing.T) {
	leader := errors.New("leader not available")
	p, _ := newTestProducer(&fakeWriter{err: leader})

	ev, err := NewEvent(context.Background(), "auth-service", "auth.user.registered", johndoe, nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "auth.user.registered", ev)
	require.ErrorIs(t, err, leader)
	assert.Contains(t, err.Error(), "auth.user.registered")
	assert.InDelta(t, 1, testutil.ToFloat64(p.metrics.published.WithLabelValues("auth.user.registered", outcomeFailed)), 0.001)
	assert.Zero(t, testutil.ToFloat64(p.metrics.published.WithLabelValues("auth.user.registered", outcomeOK)))
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p, _ := newTestProducer(w)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewProducer_DoesNotConnect(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"localhost:19092"})
	assert.Equal(t, 1, cfg.BatchSize)

	p := NewProducer(cfg, nil, WithMetricsRegisterer(prometheus.NewRegistry()))
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	assert.ErrorContains(t, err, "no brokers configured")

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	err = PingBrokers(ctx, []string{"127.0.0.1:1"})
	assert.ErrorContains(t, err, "127.0.0.1:1")
}
