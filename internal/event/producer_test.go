package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartengine/internal/domain"
	pkgkafka "github.com/utafrali/cartengine/pkg/kafka"
	"github.com/utafrali/cartengine/pkg/logger"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func newTestProducer(w *recordingWriter) *Producer {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProducer(pkgkafka.NewProducerWithWriter(w, []string{"localhost:9092"}, l), l)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "storefront.cart.updated", TopicCartUpdated)
	assert.Equal(t, "storefront.cart.cleared", TopicCartCleared)
}

func TestPublishCartUpdated(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)
	cart := domain.Cart{
		Items: []domain.LineItem{
			{ProductID: "A", DisplayName: "Widget", UnitPrice: 100, Quantity: 2},
			{ProductID: "B", DisplayName: "Gadget", UnitPrice: 50, Quantity: 1},
		},
		Version: 4,
	}

	ctx := logger.WithCorrelationID(context.Background(), "corr-abc")
	err := p.PublishCartUpdated(ctx, "sess-1", "increment", cart)
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, TopicCartUpdated, msg.Topic)
	assert.Equal(t, "sess-1", string(msg.Key))

	env, err := pkgkafka.ParseEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "cart.updated", env.Type)
	assert.Equal(t, pkgkafka.Aggregate{Type: AggregateTypeCart, ID: "sess-1"}, env.Aggregate)
	assert.Equal(t, SourceCartService, env.Source)
	assert.Equal(t, "increment", env.Metadata["operation"])
	assert.Equal(t, "corr-abc", env.CorrelationID)

	var data CartUpdatedData
	require.NoError(t, env.Decode(&data))
	assert.Equal(t, "sess-1", data.SessionID)
	assert.Equal(t, "increment", data.Operation)
	assert.Equal(t, 3, data.ItemCount)
	assert.Equal(t, int64(250), data.TotalAmount)
	assert.Equal(t, uint64(4), data.Version)
	require.Len(t, data.Items, 2)
	assert.Equal(t, "Widget", data.Items[0].DisplayName)
}

func TestPublishCartCleared(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.PublishCartCleared(context.Background(), "sess-1", 7))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, TopicCartCleared, w.msgs[0].Topic)

	env, err := pkgkafka.ParseEnvelope(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "cart.cleared", env.Type)
	assert.Empty(t, env.CorrelationID)
	var data CartClearedData
	require.NoError(t, env.Decode(&data))
	assert.Equal(t, CartClearedData{SessionID: "sess-1", Version: 7}, data)
}

func TestPublish_WriterErrorIsWrapped(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := newTestProducer(w)

	err := p.PublishCartCleared(context.Background(), "sess-1", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish cart.cleared event")
	assert.Contains(t, err.Error(), "broker down")
}
