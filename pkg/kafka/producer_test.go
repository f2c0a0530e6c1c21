package kafka

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

var cartAggregate = Aggregate{Type: "cart", ID: "sess-1"}

func TestNewEnvelope_Fields(t *testing.T) {
	data := map[string]int{"item_count": 3}
	env, err := NewEnvelope("cart.updated", "cart-service", cartAggregate, data)
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "cart.updated", env.Type)
	assert.Equal(t, cartAggregate, env.Aggregate)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.WithinDuration(t, time.Now().UTC(), env.OccurredAt, 2*time.Second)
	assert.Empty(t, env.CorrelationID)
	assert.Nil(t, env.Metadata)

	var got map[string]int
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, data, got)
}

func TestNewEnvelope_Options(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	env, err := NewEnvelope("cart.cleared", "cart-service", cartAggregate, struct{}{},
		WithCorrelation("corr-9"),
		WithMetadata("reason", "checkout"),
		OccurredAt(at),
	)
	require.NoError(t, err)
	assert.Equal(t, "corr-9", env.CorrelationID)
	assert.Equal(t, map[string]string{"reason": "checkout"}, env.Metadata)
	assert.Equal(t, at.UTC(), env.OccurredAt)
}

func TestNewEnvelope_InvalidData(t *testing.T) {
	_, err := NewEnvelope("cart.updated", "cart-service", cartAggregate, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cart.updated")
}

func TestParseEnvelope_RejectsNewerSchema(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"event_id":"x","schema_version":99,"data":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version 99")

	_, err = ParseEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "storefront.cart.updated", Topic("cart", "updated"))
}

func TestProducer_Publish_WritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, []string{"localhost:9092"}, discardLogger())

	env, err := NewEnvelope("cart.cleared", "cart-service", Aggregate{Type: "cart", ID: "sess-7"}, struct{}{},
		WithCorrelation("corr-1"), WithMetadata("reason", "checkout"))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "storefront.cart.cleared", env))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "storefront.cart.cleared", msg.Topic)
	assert.Equal(t, []byte("sess-7"), msg.Key)
	assert.Equal(t, "cart.cleared", headerValue(msg, "event_type"))
	assert.Equal(t, "cart-service", headerValue(msg, "source"))
	assert.Equal(t, "corr-1", headerValue(msg, "correlation_id"))

	restored, err := ParseEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, env.ID, restored.ID)
	assert.Equal(t, "checkout", restored.Metadata["reason"])
}

func TestProducer_Publish_WrapsWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, nil, discardLogger())

	env, err := NewEnvelope("cart.updated", "cart-service", cartAggregate, nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "storefront.cart.updated", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storefront.cart.updated")
	assert.Contains(t, err.Error(), "broker down")
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil, discardLogger())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}

func TestProducer_Publish_CountsOutcomes(t *testing.T) {
	const topic = "storefront.cart.metrics-test"
	published := producerMessages.WithLabelValues(topic, outcomePublished)
	failed := producerMessages.WithLabelValues(topic, outcomeFailed)
	basePublished, baseFailed := testutil.ToFloat64(published), testutil.ToFloat64(failed)

	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil, discardLogger())
	env, err := NewEnvelope("cart.updated", "cart-service", cartAggregate, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), topic, env))
	w.err = errors.New("broker down")
	require.Error(t, p.Publish(context.Background(), topic, env))

	assert.Equal(t, basePublished+1, testutil.ToFloat64(published))
	assert.Equal(t, baseFailed+1, testutil.ToFloat64(failed))
}
