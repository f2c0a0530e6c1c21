package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/cartengine/internal/domain"
	pkgkafka "github.com/utafrali/cartengine/pkg/kafka"
	"github.com/utafrali/cartengine/pkg/logger"
)

// Kafka topic constants for cart domain events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

// Aggregate type constant.
const AggregateTypeCart = "cart"

// Source identifier for events originating from the cart engine.
const SourceCartService = "cart-service"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	SessionID   string         `json:"session_id"`
	Operation   string         `json:"operation"`
	Items       []CartItemData `json:"items"`
	ItemCount   int            `json:"item_count"`
	TotalAmount int64          `json:"total_amount"`
	Version     uint64         `json:"version"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ProductID   string `json:"product_id"`
	DisplayName string `json:"display_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	SessionID string `json:"session_id"`
	Version   uint64 `json:"version"`
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the cart engine.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event carrying the committed
// cart after operation.
func (p *Producer) PublishCartUpdated(ctx context.Context, sessionID, operation string, cart domain.Cart) error {
	items := make([]CartItemData, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = CartItemData{
			ProductID:   item.ProductID,
			DisplayName: item.DisplayName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		}
	}

	data := CartUpdatedData{
		SessionID:   sessionID,
		Operation:   operation,
		Items:       items,
		ItemCount:   cart.ItemCount(),
		TotalAmount: cart.TotalAmount(),
		Version:     cart.Version,
	}
	if err := p.publish(ctx, TopicCartUpdated, sessionID, data, pkgkafka.WithMetadata("operation", operation)); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("session_id", sessionID),
		slog.String("operation", operation),
		slog.Int("item_count", data.ItemCount),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, sessionID string, version uint64) error {
	data := CartClearedData{SessionID: sessionID, Version: version}
	if err := p.publish(ctx, TopicCartCleared, sessionID, data); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "published cart.cleared event", slog.String("session_id", sessionID))
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, sessionID string, data any, opts ...pkgkafka.EnvelopeOption) error {
	name := strings.TrimPrefix(topic, pkgkafka.TopicPrefix+".")
	opts = append(opts, pkgkafka.WithCorrelation(logger.CorrelationIDFromContext(ctx)))

	env, err := pkgkafka.NewEnvelope(name, SourceCartService,
		pkgkafka.Aggregate{Type: AggregateTypeCart, ID: sessionID}, data, opts...)
	if err != nil {
		return fmt.Errorf("create %s event: %w", name, err)
	}
	if err := p.kafka.Publish(ctx, topic, env); err != nil {
		return fmt.Errorf("publish %s event: %w", name, err)
	}
	return nil
}
