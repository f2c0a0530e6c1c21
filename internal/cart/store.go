// Package cart implements the cart store: the state machine that owns a
// shopper's line items, gates quantity increases on stock checks, stamps
// tier prices, persists every committed transition and notifies observers.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/pricing"
	"github.com/utafrali/cartengine/internal/stock"
)

// Operation names a cart transition.
type Operation string

const (
	OpAdd         Operation = "add"
	OpIncrement   Operation = "increment"
	OpDecrement   Operation = "decrement"
	OpSetQuantity Operation = "set_quantity"
	OpRemove      Operation = "remove"
	OpClear       Operation = "clear"
	OpOpen        Operation = "open"
	OpClose       Operation = "close"
)

// Rejection reasons produced by the store itself. Stock reasons come from
// the stock package.
const (
	ReasonProductIDRequired = "product id is required"
	ReasonNegativePrice     = "unit price must not be negative"
)

var mutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart store operations by outcome (committed, clamped, rejected, noop, error)",
	},
	[]string{"operation", "outcome"},
)

// Candidate is the product a shopper asks to add.
type Candidate struct {
	ProductID    string
	DisplayName  string
	ThumbnailRef string
	// UnitPrice is used only when the catalog cannot supply a live schedule.
	UnitPrice int64
	Quantity  int
}

// Outcome reports what an operation did. A rejection has Committed false and
// a Reason. A commit may also carry a Reason when the requested quantity was
// clamped to the stock ceiling. Err is set only when the snapshot could not
// be persisted, in which case the cart is unchanged.
type Outcome struct {
	Committed bool
	Reason    string
	Err       error
	Cart      domain.Cart
}

// Change is delivered to observers after every committed transition. Ctx
// carries the values of the request that caused it, detached from its
// cancellation.
type Change struct {
	Ctx       context.Context
	Operation Operation
	Cart      domain.Cart
}

// Observer receives committed changes in commit order. Observers run
// synchronously and must not call mutating Store methods.
type Observer func(Change)

// StockChecker answers stock questions for the store.
type StockChecker interface {
	CheckAvailability(ctx context.Context, productID string, requested int) stock.Result
}

// Persister saves and restores the cart.
type Persister interface {
	Save(ctx context.Context, cart domain.Cart) error
	Load(ctx context.Context) domain.Cart
}

// Store owns one shopper's cart. Operations on the same product are
// serialized; operations on different products run concurrently and only
// contend for the short commit section.
type Store struct {
	stock   StockChecker
	persist Persister
	logger  *slog.Logger
	locks   *keyedMutex

	mu        sync.Mutex
	cart      domain.Cart
	schedules map[string]domain.PriceSchedule
	flagged   map[string]struct{}

	// notifyMu is taken before mu is released so broadcasts follow commit order.
	notifyMu  sync.Mutex
	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextObsID uint64
}

// NewStore creates a store and loads the persisted cart. The visibility flag
// always starts closed.
func NewStore(ctx context.Context, checker StockChecker, persist Persister, logger *slog.Logger) *Store {
	cart := persist.Load(ctx)
	cart.IsOpen = false
	cart.Version = 0
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}

	return &Store{
		stock:     checker,
		persist:   persist,
		logger:    logger,
		locks:     newKeyedMutex(),
		cart:      cart,
		schedules: make(map[string]domain.PriceSchedule),
		flagged:   make(map[string]struct{}),
		observers: make(map[uint64]Observer),
	}
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(obs Observer) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

// AddToCart adds a new line, or sets the quantity of an existing one. The
// quantity is clamped to [1, stock ceiling]. A commit opens the cart.
func (s *Store) AddToCart(ctx context.Context, c Candidate) Outcome {
	if c.ProductID == "" {
		return s.reject(OpAdd, ReasonProductIDRequired)
	}
	if c.UnitPrice < 0 {
		return s.reject(OpAdd, ReasonNegativePrice)
	}

	unlock, err := s.locks.Lock(ctx, c.ProductID)
	if err != nil {
		return s.reject(OpAdd, stock.ReasonCancelled)
	}
	defer unlock()

	if _, ok := s.line(c.ProductID); ok {
		return s.setQuantity(ctx, OpAdd, c.ProductID, c.Quantity, true)
	}

	requested := max(c.Quantity, 1)
	res := s.stock.CheckAvailability(ctx, c.ProductID, requested)
	qty, reason, ok := admit(res, requested)
	if !ok {
		return s.reject(OpAdd, reason)
	}

	return s.commit(ctx, OpAdd, reason, func(cart *domain.Cart) bool {
		if cart.FindItemIndex(c.ProductID) >= 0 {
			return false
		}
		cart.Items = append(cart.Items, domain.LineItem{
			ProductID:    c.ProductID,
			DisplayName:  c.DisplayName,
			ThumbnailRef: c.ThumbnailRef,
			UnitPrice:    s.priceFor(ctx, c.ProductID, res.Product, qty, c.UnitPrice, false),
			Quantity:     qty,
		})
		cart.IsOpen = true
		return true
	})
}

// IncrementQuantity raises a line by one unit if stock allows it.
func (s *Store) IncrementQuantity(ctx context.Context, productID string) Outcome {
	unlock, err := s.locks.Lock(ctx, productID)
	if err != nil {
		return s.reject(OpIncrement, stock.ReasonCancelled)
	}
	defer unlock()

	cur, ok := s.line(productID)
	if !ok {
		return s.noop(OpIncrement)
	}

	next := cur.Quantity + 1
	res := s.stock.CheckAvailability(ctx, productID, next)
	if !res.Available {
		return s.reject(OpIncrement, res.Reason)
	}

	return s.commit(ctx, OpIncrement, "", func(cart *domain.Cart) bool {
		i := cart.FindItemIndex(productID)
		if i < 0 || cart.Items[i].Quantity != cur.Quantity {
			return false
		}
		item := &cart.Items[i]
		item.UnitPrice = s.priceFor(ctx, productID, res.Product, next, item.UnitPrice, false)
		item.Quantity = next
		return true
	})
}

// DecrementQuantity lowers a line by one unit, never below one. It does not
// consult stock; the price is re-stamped from the last known schedule.
func (s *Store) DecrementQuantity(ctx context.Context, productID string) Outcome {
	unlock, err := s.locks.Lock(ctx, productID)
	if err != nil {
		return s.reject(OpDecrement, stock.ReasonCancelled)
	}
	defer unlock()

	return s.commit(ctx, OpDecrement, "", func(cart *domain.Cart) bool {
		i := cart.FindItemIndex(productID)
		if i < 0 || cart.Items[i].Quantity <= 1 {
			return false
		}
		item := &cart.Items[i]
		next := item.Quantity - 1
		item.UnitPrice = s.priceFor(ctx, productID, nil, next, item.UnitPrice, true)
		item.Quantity = next
		return true
	})
}

// SetQuantity sets a line to n clamped to [1, stock ceiling]. A shortfall
// with some stock left commits the ceiling and reports the reason.
func (s *Store) SetQuantity(ctx context.Context, productID string, n int) Outcome {
	unlock, err := s.locks.Lock(ctx, productID)
	if err != nil {
		return s.reject(OpSetQuantity, stock.ReasonCancelled)
	}
	defer unlock()

	return s.setQuantity(ctx, OpSetQuantity, productID, n, false)
}

// setQuantity runs with the product lock held.
func (s *Store) setQuantity(ctx context.Context, op Operation, productID string, n int, open bool) Outcome {
	cur, ok := s.line(productID)
	if !ok {
		return s.noop(op)
	}

	requested := max(n, 1)
	res := s.stock.CheckAvailability(ctx, productID, requested)
	qty, reason, ok := admit(res, requested)
	if !ok {
		return s.reject(op, reason)
	}

	return s.commit(ctx, op, reason, func(cart *domain.Cart) bool {
		i := cart.FindItemIndex(productID)
		if i < 0 || cart.Items[i].Quantity != cur.Quantity {
			return false
		}
		item := &cart.Items[i]
		item.UnitPrice = s.priceFor(ctx, productID, res.Product, qty, item.UnitPrice, false)
		item.Quantity = qty
		if open {
			cart.IsOpen = true
		}
		return true
	})
}

// RemoveFromCart deletes a line.
func (s *Store) RemoveFromCart(ctx context.Context, productID string) Outcome {
	unlock, err := s.locks.Lock(ctx, productID)
	if err != nil {
		return s.reject(OpRemove, stock.ReasonCancelled)
	}
	defer unlock()

	out := s.commit(ctx, OpRemove, "", func(cart *domain.Cart) bool {
		i := cart.FindItemIndex(productID)
		if i < 0 {
			return false
		}
		cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
		return true
	})
	if out.Committed {
		s.forget(productID)
	}
	return out
}

// ClearCart empties the cart in one transition: one write and one
// notification, even when the cart is already empty.
func (s *Store) ClearCart(ctx context.Context) Outcome {
	out := s.commit(ctx, OpClear, "", func(cart *domain.Cart) bool {
		cart.Items = []domain.LineItem{}
		return true
	})
	if out.Committed {
		s.mu.Lock()
		clear(s.schedules)
		s.mu.Unlock()
	}
	return out
}

// OpenCart sets the visibility flag. Visibility is not persisted.
func (s *Store) OpenCart() Outcome {
	return s.setVisibility(OpOpen, true)
}

// CloseCart clears the visibility flag.
func (s *Store) CloseCart() Outcome {
	return s.setVisibility(OpClose, false)
}

func (s *Store) setVisibility(op Operation, open bool) Outcome {
	s.mu.Lock()
	if s.cart.IsOpen == open {
		snap := s.cart.Clone()
		s.mu.Unlock()
		return s.finish(op, Outcome{Cart: snap})
	}
	s.cart.IsOpen = open
	s.cart.Version++
	snap := s.cart.Clone()

	s.notifyMu.Lock()
	s.mu.Unlock()
	s.broadcast(Change{Ctx: context.Background(), Operation: op, Cart: snap})
	s.notifyMu.Unlock()

	return s.finish(op, Outcome{Committed: true, Cart: snap})
}

// commit applies a transition to a copy of the cart, persists the copy and
// only then makes it current. apply runs with mu held and reports whether
// anything changed.
func (s *Store) commit(ctx context.Context, op Operation, reason string, apply func(cart *domain.Cart) bool) Outcome {
	s.mu.Lock()

	next := s.cart.Clone()
	if !apply(&next) {
		snap := s.cart.Clone()
		s.mu.Unlock()
		return s.finish(op, Outcome{Cart: snap})
	}

	if err := s.persist.Save(context.WithoutCancel(ctx), next); err != nil {
		snap := s.cart.Clone()
		s.mu.Unlock()
		s.logger.ErrorContext(ctx, "cart snapshot not saved, transition discarded",
			slog.String("operation", string(op)),
			slog.String("error", err.Error()),
		)
		return s.finish(op, Outcome{Err: fmt.Errorf("%s: %w", op, err), Cart: snap})
	}

	next.Version = s.cart.Version + 1
	s.cart = next
	snap := s.cart.Clone()

	s.notifyMu.Lock()
	s.mu.Unlock()
	s.broadcast(Change{Ctx: context.WithoutCancel(ctx), Operation: op, Cart: snap})
	s.notifyMu.Unlock()

	s.logger.DebugContext(ctx, "cart transition committed",
		slog.String("operation", string(op)),
		slog.Uint64("version", snap.Version),
		slog.Int("lines", len(snap.Items)),
	)
	return s.finish(op, Outcome{Committed: true, Reason: reason, Cart: snap})
}

func (s *Store) broadcast(ch Change) {
	s.obsMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.obsMu.RUnlock()

	for _, obs := range observers {
		s.notify(obs, Change{Ctx: ch.Ctx, Operation: ch.Operation, Cart: ch.Cart.Clone()})
	}
}

func (s *Store) notify(obs Observer, ch Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cart observer panicked",
				slog.String("operation", string(ch.Operation)),
				slog.Any("panic", r),
			)
		}
	}()
	obs(ch)
}

// priceFor returns the unit price for qty. A live product re-stamps the
// price and refreshes the cached schedule. With useCache the schedule cached
// at the product's last successful stock check is used instead; it may be
// stale, and after a reload there is none, so carried is kept. Callers hold mu.
func (s *Store) priceFor(ctx context.Context, productID string, product *domain.Product, qty int, carried int64, useCache bool) int64 {
	if product != nil {
		sched := product.Schedule()
		s.schedules[productID] = sched
		s.flagAnomalies(ctx, productID, sched)
		return pricing.ResolveUnitPrice(sched, qty)
	}
	if useCache {
		if sched, ok := s.schedules[productID]; ok {
			return pricing.ResolveUnitPrice(sched, qty)
		}
	}
	return carried
}

// flagAnomalies logs out-of-order schedules once per product. Callers hold mu.
func (s *Store) flagAnomalies(ctx context.Context, productID string, sched domain.PriceSchedule) {
	if _, done := s.flagged[productID]; done {
		return
	}
	s.flagged[productID] = struct{}{}

	anomalies := pricing.Anomalies(sched)
	if len(anomalies) == 0 {
		return
	}
	details := make([]string, len(anomalies))
	for i, a := range anomalies {
		details[i] = a.String()
	}
	s.logger.WarnContext(ctx, "price schedule tiers out of order, resolving by tier priority",
		slog.String("product_id", productID),
		slog.Any("anomalies", details),
	)
}

func (s *Store) forget(productID string) {
	s.mu.Lock()
	delete(s.schedules, productID)
	s.mu.Unlock()
}

func (s *Store) line(productID string) (domain.LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.cart.FindItemIndex(productID); i >= 0 {
		return s.cart.Items[i], true
	}
	return domain.LineItem{}, false
}

func (s *Store) reject(op Operation, reason string) Outcome {
	return s.finish(op, Outcome{Reason: reason, Cart: s.Snapshot()})
}

func (s *Store) noop(op Operation) Outcome {
	return s.finish(op, Outcome{Cart: s.Snapshot()})
}

func (s *Store) finish(op Operation, out Outcome) Outcome {
	var outcome string
	switch {
	case out.Err != nil:
		outcome = "error"
	case out.Committed && out.Reason != "":
		outcome = "clamped"
	case out.Committed:
		outcome = "committed"
	case out.Reason != "":
		outcome = "rejected"
	default:
		outcome = "noop"
	}
	mutationsTotal.WithLabelValues(string(op), outcome).Inc()
	return out
}

// admit turns a stock answer into the quantity to commit. A shortfall with
// stock left clamps to the ceiling; no stock at all rejects.
func admit(res stock.Result, requested int) (qty int, reason string, ok bool) {
	if res.Available {
		return requested, "", true
	}
	if ceiling := res.Ceiling(requested); ceiling >= 1 {
		return ceiling, res.Reason, true
	}
	return 0, res.Reason, false
}
