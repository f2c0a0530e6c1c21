// Package persistence saves and restores cart snapshots. A snapshot is a JSON
// array of line items; the visibility flag and version are never stored.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/repository"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/validator"
)

// DefaultNamespace prefixes every snapshot key.
const DefaultNamespace = "storefront:cart"

// Key returns the storage key for one shopper session.
func Key(namespace, sessionID string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + sessionID
}

// snapshotItem mirrors domain.LineItem with pointers so that missing numeric
// fields are told apart from zero values during validation.
type snapshotItem struct {
	ProductID    string `json:"productId" validate:"required"`
	DisplayName  string `json:"displayName"`
	ThumbnailRef string `json:"thumbnailRef"`
	UnitPrice    *int64 `json:"unitPrice" validate:"required,gte=0"`
	Quantity     *int   `json:"quantity" validate:"required,gte=1"`
}

type snapshot struct {
	Items []snapshotItem `validate:"unique=ProductID,dive"`
}

// Encode serializes line items into the snapshot format.
func Encode(items []domain.LineItem) ([]byte, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Decode parses and validates a snapshot. Anything other than an array of
// well-formed line items with unique product IDs is rejected.
func Decode(data []byte) ([]domain.LineItem, error) {
	var raw []snapshotItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if raw == nil {
		return nil, errors.New("snapshot is not an array")
	}
	if err := validator.Validate(snapshot{Items: raw}); err != nil {
		return nil, fmt.Errorf("validate snapshot: %w", err)
	}

	items := make([]domain.LineItem, len(raw))
	for i, r := range raw {
		items[i] = domain.LineItem{
			ProductID:    r.ProductID,
			DisplayName:  r.DisplayName,
			ThumbnailRef: r.ThumbnailRef,
			UnitPrice:    *r.UnitPrice,
			Quantity:     *r.Quantity,
		}
	}
	return items, nil
}

// Adapter binds a storage medium to one snapshot key.
type Adapter struct {
	storage repository.Storage
	key     string
	logger  *slog.Logger
}

// NewAdapter creates a persistence adapter for key.
func NewAdapter(storage repository.Storage, key string, logger *slog.Logger) *Adapter {
	return &Adapter{storage: storage, key: key, logger: logger}
}

// Key returns the storage key this adapter reads and writes.
func (a *Adapter) Key() string {
	return a.key
}

// Save writes the cart's line items.
func (a *Adapter) Save(ctx context.Context, cart domain.Cart) error {
	data, err := Encode(cart.Items)
	if err != nil {
		return err
	}
	if err := a.storage.Write(ctx, a.key, data); err != nil {
		return fmt.Errorf("save cart %s: %w", a.key, err)
	}
	return nil
}

// Load restores the cart. A missing, unreadable or malformed snapshot
// yields an empty cart; Load never fails.
func (a *Adapter) Load(ctx context.Context) domain.Cart {
	empty := domain.Cart{Items: []domain.LineItem{}}

	data, err := a.storage.Read(ctx, a.key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			a.logger.WarnContext(ctx, "cart snapshot unreadable, starting empty",
				slog.String("key", a.key),
				slog.String("error", err.Error()),
			)
		}
		return empty
	}

	items, err := Decode(data)
	if err != nil {
		a.logger.WarnContext(ctx, "discarding malformed cart snapshot",
			slog.String("key", a.key),
			slog.String("error", err.Error()),
		)
		return empty
	}

	return domain.Cart{Items: items}
}
