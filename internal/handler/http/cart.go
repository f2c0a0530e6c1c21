package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/cartengine/internal/cart"
	"github.com/utafrali/cartengine/internal/domain"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
	"github.com/utafrali/cartengine/pkg/httputil"
	"github.com/utafrali/cartengine/pkg/middleware"
	"github.com/utafrali/cartengine/pkg/validator"
)

// CartSessions resolves the cart store of a shopper session.
type CartSessions interface {
	Store(ctx context.Context, sessionID string) (*cart.Store, error)
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	sessions CartSessions
	logger   *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(sessions CartSessions, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
// UnitPrice is used only when the catalog cannot price the product.
type AddItemRequest struct {
	ProductID    string `json:"productId" validate:"required,max=128"`
	DisplayName  string `json:"displayName" validate:"max=500"`
	ThumbnailRef string `json:"thumbnailRef" validate:"max=2048"`
	UnitPrice    int64  `json:"unitPrice" validate:"gte=0"`
	Quantity     int    `json:"quantity"`
}

// SetQuantityRequest is the JSON request body for setting a line quantity.
// Values below one are raised to one.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// --- Response DTOs ---

// CartView is the JSON form of a cart snapshot.
type CartView struct {
	Items       []domain.LineItem `json:"items"`
	IsOpen      bool              `json:"isOpen"`
	Version     uint64            `json:"version"`
	TotalAmount int64             `json:"totalAmount"`
	ItemCount   int               `json:"itemCount"`
}

// OutcomeView reports the result of a cart mutation.
type OutcomeView struct {
	Cart      CartView `json:"cart"`
	Committed bool     `json:"committed"`
	Reason    string   `json:"reason,omitempty"`
}

func newCartView(c domain.Cart) CartView {
	items := c.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return CartView{
		Items:       items,
		IsOpen:      c.IsOpen,
		Version:     c.Version,
		TotalAmount: c.TotalAmount(),
		ItemCount:   c.ItemCount(),
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newCartView(store.Snapshot())})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.AddToCart(r.Context(), cart.Candidate{
		ProductID:    req.ProductID,
		DisplayName:  req.DisplayName,
		ThumbnailRef: req.ThumbnailRef,
		UnitPrice:    req.UnitPrice,
		Quantity:     req.Quantity,
	}))
}

// SetQuantity handles PUT /api/v1/cart/items/{productId}
func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.SetQuantity(r.Context(), chi.URLParam(r, "productId"), *req.Quantity))
}

// IncrementItem handles POST /api/v1/cart/items/{productId}/increment
func (h *CartHandler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.IncrementQuantity(r.Context(), chi.URLParam(r, "productId")))
}

// DecrementItem handles POST /api/v1/cart/items/{productId}/decrement
func (h *CartHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.DecrementQuantity(r.Context(), chi.URLParam(r, "productId")))
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.RemoveFromCart(r.Context(), chi.URLParam(r, "productId")))
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.ClearCart(r.Context()))
}

// OpenCart handles POST /api/v1/cart/open
func (h *CartHandler) OpenCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.OpenCart())
}

// CloseCart handles POST /api/v1/cart/close
func (h *CartHandler) CloseCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	h.writeOutcome(w, r, store.CloseCart())
}

// --- Helpers ---

func (h *CartHandler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	store, err := h.sessions.Store(r.Context(), middleware.SessionIDFromContext(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return nil, false
	}
	return store, true
}

// writeOutcome answers 200 for commits, rejections and no-ops alike; only a
// failed storage write is an HTTP error.
func (h *CartHandler) writeOutcome(w http.ResponseWriter, r *http.Request, out cart.Outcome) {
	if out.Err != nil {
		httputil.WriteError(w, r, apperrors.ServiceUnavailable("cart could not be saved, please retry"), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: OutcomeView{
		Cart:      newCartView(out.Cart),
		Committed: out.Committed,
		Reason:    out.Reason,
	}})
}
