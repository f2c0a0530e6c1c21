package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartengine/internal/catalog"
	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/persistence"
	"github.com/utafrali/cartengine/internal/repository/memory"
	"github.com/utafrali/cartengine/internal/stock"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	err      error
	delay    time.Duration
	calls    int
}

func newFakeCatalog(products ...*domain.Product) *fakeCatalog {
	f := &fakeCatalog{products: make(map[string]*domain.Product)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	f.mu.Lock()
	f.calls++
	p, err, delay := f.products[id], f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, catalog.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCatalog) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeCatalog) setStock(id string, qty int) {
	f.mu.Lock()
	f.products[id].StockQuantity = qty
	f.mu.Unlock()
}

func (f *fakeCatalog) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// flakyStorage fails writes while broken is set.
type flakyStorage struct {
	*memory.Storage
	broken atomic.Bool
}

func (f *flakyStorage) Write(ctx context.Context, key string, data []byte) error {
	if f.broken.Load() {
		return errors.New("disk full")
	}
	return f.Storage.Write(ctx, key, data)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const testKey = "storefront:cart:s1"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func i64(v int64) *int64 { return &v }
func intp(v int) *int    { return &v }

func retailProduct(id string, price int64, stockQty int) *domain.Product {
	return &domain.Product{
		ID:            id,
		StockEnabled:  true,
		StockQuantity: stockQty,
		RetailPrice:   i64(price),
		Price:         price,
	}
}

// tieredProduct: retail 20, wholesale 15 from 20 units, distributor 10 from 50.
func tieredProduct(id string) *domain.Product {
	return &domain.Product{
		ID:                id,
		RetailPrice:       i64(20),
		WholesalePrice:    i64(15),
		WholesaleMinQty:   intp(20),
		DistributorPrice:  i64(10),
		DistributorMinQty: intp(50),
		Price:             20,
	}
}

type harness struct {
	store   *Store
	catalog *fakeCatalog
	storage *flakyStorage
}

func newHarness(t *testing.T, policy stock.Policy, products ...*domain.Product) *harness {
	t.Helper()
	return newHarnessWithStorage(t, policy, &flakyStorage{Storage: memory.NewStorage()}, products...)
}

func newHarnessWithStorage(t *testing.T, policy stock.Policy, storage *flakyStorage, products ...*domain.Product) *harness {
	t.Helper()
	cat := newFakeCatalog(products...)
	validator := stock.NewValidator(cat, policy, quietLogger())
	adapter := persistence.NewAdapter(storage, testKey, quietLogger())
	return &harness{
		store:   NewStore(context.Background(), validator, adapter, quietLogger()),
		catalog: cat,
		storage: storage,
	}
}

func (h *harness) stored(t *testing.T) []domain.LineItem {
	t.Helper()
	data, err := h.storage.Read(context.Background(), testKey)
	require.NoError(t, err)
	items, err := persistence.Decode(data)
	require.NoError(t, err)
	return items
}

func (h *harness) add(t *testing.T, id string, qty int) Outcome {
	t.Helper()
	return h.store.AddToCart(context.Background(), Candidate{ProductID: id, DisplayName: id, Quantity: qty})
}

func line(t *testing.T, c domain.Cart, id string) domain.LineItem {
	t.Helper()
	i := c.FindItemIndex(id)
	require.GreaterOrEqual(t, i, 0, "line %s not in cart", id)
	return c.Items[i]
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestNewStore_LoadsPersistedItemsClosed(t *testing.T) {
	storage := &flakyStorage{Storage: memory.NewStorage()}
	require.NoError(t, storage.Write(context.Background(), testKey,
		[]byte(`[{"productId":"A","displayName":"A","thumbnailRef":"","unitPrice":100,"quantity":2}]`)))

	h := newHarnessWithStorage(t, stock.FailOpen, storage)

	snap := h.store.Snapshot()
	assert.False(t, snap.IsOpen)
	assert.Equal(t, uint64(0), snap.Version)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.Equal(t, int64(100), snap.Items[0].UnitPrice)
}

func TestNewStore_CorruptSnapshotStartsEmpty(t *testing.T) {
	storage := &flakyStorage{Storage: memory.NewStorage()}
	require.NoError(t, storage.Write(context.Background(), testKey, []byte(`{"not":"an array"}`)))

	h := newHarnessWithStorage(t, stock.FailOpen, storage)

	assert.Empty(t, h.store.Snapshot().Items)
}

// ---------------------------------------------------------------------------
// AddToCart
// ---------------------------------------------------------------------------

func TestAddToCart_NewLineStampsRetailAndOpens(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))

	out := h.add(t, "A", 1)

	require.True(t, out.Committed)
	assert.Empty(t, out.Reason)
	assert.True(t, out.Cart.IsOpen)
	assert.Equal(t, uint64(1), out.Cart.Version)
	item := line(t, out.Cart, "A")
	assert.Equal(t, 1, item.Quantity)
	assert.Equal(t, int64(100), item.UnitPrice)
	assert.Equal(t, 1, h.storage.Writes(testKey))
}

func TestAddToCart_ExistingLineKeepsSingleEntry(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))

	h.add(t, "A", 1)
	h.add(t, "A", 3)
	out := h.add(t, "A", 2)

	require.True(t, out.Committed)
	require.Len(t, out.Cart.Items, 1)
	assert.Equal(t, 2, out.Cart.Items[0].Quantity)
	assert.Len(t, h.stored(t), 1)
}

func TestAddToCart_QuantityFloorIsOne(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))

	out := h.add(t, "A", 0)

	require.True(t, out.Committed)
	assert.Equal(t, 1, line(t, out.Cart, "A").Quantity)
}

func TestAddToCart_ClampsToStockCeiling(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 5))

	out := h.add(t, "A", 10)

	require.True(t, out.Committed)
	assert.Equal(t, "only 5 available", out.Reason)
	assert.Equal(t, 5, line(t, out.Cart, "A").Quantity)
}

func TestAddToCart_OutOfStockRejected(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 0))

	out := h.add(t, "A", 1)

	assert.False(t, out.Committed)
	assert.Equal(t, "out of stock", out.Reason)
	assert.Empty(t, out.Cart.Items)
	assert.False(t, out.Cart.IsOpen)
	assert.Equal(t, 0, h.storage.Writes(testKey))
}

func TestAddToCart_MissingProductIDIsRejected(t *testing.T) {
	h := newHarness(t, stock.FailOpen)

	out := h.store.AddToCart(context.Background(), Candidate{Quantity: 1})

	assert.False(t, out.Committed)
	assert.Equal(t, ReasonProductIDRequired, out.Reason)
	assert.Zero(t, h.catalog.callCount())
}

func TestAddToCart_FailOpenUsesCandidatePrice(t *testing.T) {
	h := newHarness(t, stock.FailOpen)
	h.catalog.setErr(errors.New("connection refused"))

	out := h.store.AddToCart(context.Background(), Candidate{ProductID: "A", UnitPrice: 250, Quantity: 3})

	require.True(t, out.Committed)
	item := line(t, out.Cart, "A")
	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, int64(250), item.UnitPrice)
}

func TestAddToCart_FailClosedRejects(t *testing.T) {
	h := newHarness(t, stock.FailClosed)
	h.catalog.setErr(errors.New("connection refused"))

	out := h.store.AddToCart(context.Background(), Candidate{ProductID: "A", UnitPrice: 250, Quantity: 1})

	assert.False(t, out.Committed)
	assert.Equal(t, stock.ReasonUnverified, out.Reason)
	assert.Empty(t, out.Cart.Items)
}

func TestAddToCart_CancelledContextRejects(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	h.catalog.delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.store.AddToCart(ctx, Candidate{ProductID: "A", Quantity: 1})

	assert.False(t, out.Committed)
	assert.Equal(t, stock.ReasonCancelled, out.Reason)
	assert.Empty(t, h.store.Snapshot().Items)
}

// ---------------------------------------------------------------------------
// IncrementQuantity
// ---------------------------------------------------------------------------

func TestIncrementQuantity_RejectedAtStockLimit(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 2))
	h.add(t, "A", 2)

	out := h.store.IncrementQuantity(context.Background(), "A")

	assert.False(t, out.Committed)
	assert.Equal(t, "only 2 available", out.Reason)
	assert.Equal(t, 2, line(t, h.store.Snapshot(), "A").Quantity)
	assert.Equal(t, 1, h.storage.Writes(testKey))
}

func TestIncrementQuantity_FailOpenAddsOneAndCarriesPrice(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	h.add(t, "A", 2)
	h.catalog.setErr(errors.New("timeout"))

	out := h.store.IncrementQuantity(context.Background(), "A")

	require.True(t, out.Committed)
	item := line(t, out.Cart, "A")
	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, int64(100), item.UnitPrice)
}

func TestIncrementQuantity_FailClosedLeavesLine(t *testing.T) {
	h := newHarness(t, stock.FailClosed, retailProduct("A", 100, 10))
	h.add(t, "A", 2)
	h.catalog.setErr(errors.New("timeout"))

	out := h.store.IncrementQuantity(context.Background(), "A")

	assert.False(t, out.Committed)
	assert.Equal(t, stock.ReasonUnverified, out.Reason)
	assert.Equal(t, 2, line(t, h.store.Snapshot(), "A").Quantity)
}

func TestIncrementQuantity_RestampsTierPrice(t *testing.T) {
	h := newHarness(t, stock.FailOpen, tieredProduct("T"))
	h.add(t, "T", 19)
	assert.Equal(t, int64(20), line(t, h.store.Snapshot(), "T").UnitPrice)

	out := h.store.IncrementQuantity(context.Background(), "T")

	require.True(t, out.Committed)
	assert.Equal(t, int64(15), line(t, out.Cart, "T").UnitPrice)
}

func TestIncrementQuantity_ConcurrentCallsAllApply(t *testing.T) {
	p := retailProduct("A", 100, 0)
	p.StockEnabled = false
	h := newHarness(t, stock.FailOpen, p)
	h.add(t, "A", 1)
	h.catalog.delay = 2 * time.Millisecond

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.store.IncrementQuantity(context.Background(), "A")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1+n, line(t, h.store.Snapshot(), "A").Quantity)
	assert.Equal(t, 1+n, line(t, domain.Cart{Items: h.stored(t)}, "A").Quantity)
	assert.Equal(t, 1+n, h.storage.Writes(testKey))
}

func TestIncrementQuantity_DifferentProductsDoNotInterfere(t *testing.T) {
	a := retailProduct("A", 100, 0)
	a.StockEnabled = false
	b := retailProduct("B", 50, 0)
	b.StockEnabled = false
	h := newHarness(t, stock.FailOpen, a, b)
	h.add(t, "A", 1)
	h.add(t, "B", 1)

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "A", "B", "A"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.store.IncrementQuantity(context.Background(), id)
		}()
	}
	wg.Wait()

	snap := h.store.Snapshot()
	assert.Equal(t, 4, line(t, snap, "A").Quantity)
	assert.Equal(t, 3, line(t, snap, "B").Quantity)
	assert.Equal(t, uint64(7), snap.Version)
}

// ---------------------------------------------------------------------------
// DecrementQuantity
// ---------------------------------------------------------------------------

func TestDecrementQuantity_FloorIsNoop(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	h.add(t, "A", 1)
	calls := h.catalog.callCount()

	out := h.store.DecrementQuantity(context.Background(), "A")

	assert.False(t, out.Committed)
	assert.Empty(t, out.Reason)
	assert.Equal(t, 1, line(t, out.Cart, "A").Quantity)
	assert.Equal(t, 1, h.storage.Writes(testKey))
	assert.Equal(t, calls, h.catalog.callCount())
}

func TestDecrementQuantity_RepricesFromCachedSchedule(t *testing.T) {
	h := newHarness(t, stock.FailOpen, tieredProduct("T"))
	h.add(t, "T", 20)
	assert.Equal(t, int64(15), line(t, h.store.Snapshot(), "T").UnitPrice)
	calls := h.catalog.callCount()

	out := h.store.DecrementQuantity(context.Background(), "T")

	require.True(t, out.Committed)
	item := line(t, out.Cart, "T")
	assert.Equal(t, 19, item.Quantity)
	assert.Equal(t, int64(20), item.UnitPrice)
	assert.Equal(t, calls, h.catalog.callCount(), "decrement must not consult the catalog")
}

func TestDecrementQuantity_UsesCachedScheduleEvenWhenCatalogChanged(t *testing.T) {
	h := newHarness(t, stock.FailOpen, tieredProduct("T"))
	h.add(t, "T", 20)

	repriced := tieredProduct("T")
	repriced.RetailPrice = i64(25)
	h.catalog.mu.Lock()
	h.catalog.products["T"] = repriced
	h.catalog.mu.Unlock()

	out := h.store.DecrementQuantity(context.Background(), "T")

	require.True(t, out.Committed)
	assert.Equal(t, int64(20), line(t, out.Cart, "T").UnitPrice)
}

func TestDecrementQuantity_WithoutScheduleCarriesPrice(t *testing.T) {
	storage := &flakyStorage{Storage: memory.NewStorage()}
	require.NoError(t, storage.Write(context.Background(), testKey,
		[]byte(`[{"productId":"T","displayName":"T","thumbnailRef":"","unitPrice":15,"quantity":20}]`)))
	h := newHarnessWithStorage(t, stock.FailOpen, storage, tieredProduct("T"))

	out := h.store.DecrementQuantity(context.Background(), "T")

	require.True(t, out.Committed)
	item := line(t, out.Cart, "T")
	assert.Equal(t, 19, item.Quantity)
	assert.Equal(t, int64(15), item.UnitPrice)
}

// ---------------------------------------------------------------------------
// SetQuantity
// ---------------------------------------------------------------------------

func TestSetQuantity_TierBoundaries(t *testing.T) {
	h := newHarness(t, stock.FailOpen, tieredProduct("T"))
	h.add(t, "T", 1)

	tests := []struct {
		qty  int
		want int64
	}{
		{qty: 5, want: 20},
		{qty: 25, want: 15},
		{qty: 75, want: 10},
		{qty: 49, want: 15},
		{qty: 19, want: 20},
	}
	for _, tt := range tests {
		out := h.store.SetQuantity(context.Background(), "T", tt.qty)
		require.True(t, out.Committed)
		assert.Equal(t, tt.want, line(t, out.Cart, "T").UnitPrice, "qty %d", tt.qty)
	}
}

func TestSetQuantity_ClampsToCeiling(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	h.add(t, "A", 1)
	h.catalog.setStock("A", 5)

	out := h.store.SetQuantity(context.Background(), "A", 10)

	require.True(t, out.Committed)
	assert.Equal(t, "only 5 available", out.Reason)
	assert.Equal(t, 5, line(t, out.Cart, "A").Quantity)
	assert.Equal(t, 5, h.stored(t)[0].Quantity)
}

func TestSetQuantity_NonPositiveBecomesOne(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	h.add(t, "A", 4)

	for _, n := range []int{0, -3} {
		out := h.store.SetQuantity(context.Background(), "A", n)
		require.True(t, out.Committed)
		assert.Equal(t, 1, line(t, out.Cart, "A").Quantity)
	}
}

func TestSetQuantity_SoldOutRejects(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	h.add(t, "A", 3)
	h.catalog.setStock("A", 0)

	out := h.store.SetQuantity(context.Background(), "A", 4)

	assert.False(t, out.Committed)
	assert.Equal(t, "out of stock", out.Reason)
	assert.Equal(t, 3, line(t, out.Cart, "A").Quantity)
}

// ---------------------------------------------------------------------------
// RemoveFromCart / ClearCart
// ---------------------------------------------------------------------------

func TestRemoveFromCart_DropsLineAndSchedule(t *testing.T) {
	h := newHarness(t, stock.FailOpen, tieredProduct("T"))
	h.add(t, "T", 20)

	out := h.store.RemoveFromCart(context.Background(), "T")

	require.True(t, out.Committed)
	assert.Empty(t, out.Cart.Items)
	h.store.mu.Lock()
	_, cached := h.store.schedules["T"]
	h.store.mu.Unlock()
	assert.False(t, cached)
}

func TestClearCart_EmptyCartWritesOnce(t *testing.T) {
	h := newHarness(t, stock.FailOpen)
	var changes []Change
	h.store.Subscribe(func(c Change) { changes = append(changes, c) })

	out := h.store.ClearCart(context.Background())

	require.True(t, out.Committed)
	assert.Equal(t, 1, h.storage.Writes(testKey))
	require.Len(t, changes, 1)
	assert.Equal(t, OpClear, changes[0].Operation)
	data, err := h.storage.Read(context.Background(), testKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestClearCart_RemovesAllLinesInOneWrite(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10), retailProduct("B", 50, 10))
	h.add(t, "A", 1)
	h.add(t, "B", 2)
	before := h.storage.Writes(testKey)

	out := h.store.ClearCart(context.Background())

	require.True(t, out.Committed)
	assert.Empty(t, out.Cart.Items)
	assert.Equal(t, before+1, h.storage.Writes(testKey))
	assert.Empty(t, h.stored(t))
}

// ---------------------------------------------------------------------------
// Misuse and failures
// ---------------------------------------------------------------------------

func TestOperationsOnAbsentLineAreNoops(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	ctx := context.Background()

	outs := []Outcome{
		h.store.IncrementQuantity(ctx, "missing"),
		h.store.DecrementQuantity(ctx, "missing"),
		h.store.SetQuantity(ctx, "missing", 3),
		h.store.RemoveFromCart(ctx, "missing"),
	}

	for _, out := range outs {
		assert.False(t, out.Committed)
		assert.Empty(t, out.Reason)
		assert.NoError(t, out.Err)
	}
	assert.Equal(t, 0, h.storage.Writes(testKey))
	assert.Zero(t, h.catalog.callCount())
}

func TestSaveFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	h.add(t, "A", 2)
	before := h.store.Snapshot()

	var notified int
	h.store.Subscribe(func(Change) { notified++ })
	h.storage.broken.Store(true)

	out := h.store.IncrementQuantity(context.Background(), "A")

	assert.False(t, out.Committed)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "disk full")
	assert.Equal(t, before, h.store.Snapshot())
	assert.Zero(t, notified)
	assert.Equal(t, 2, h.stored(t)[0].Quantity)
}

// ---------------------------------------------------------------------------
// Observers and visibility
// ---------------------------------------------------------------------------

func TestObserversSeeCommitsInOrder(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	var (
		mu   sync.Mutex
		seen []Change
	)
	h.store.Subscribe(func(c Change) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	ctx := context.Background()

	h.add(t, "A", 1)
	h.store.IncrementQuantity(ctx, "A")
	h.store.DecrementQuantity(ctx, "A")
	h.store.DecrementQuantity(ctx, "A") // no-op at floor
	h.store.CloseCart()
	h.store.RemoveFromCart(ctx, "A")

	mu.Lock()
	defer mu.Unlock()
	ops := make([]Operation, len(seen))
	for i, c := range seen {
		ops[i] = c.Operation
		assert.Equal(t, uint64(i+1), c.Cart.Version)
	}
	assert.Equal(t, []Operation{OpAdd, OpIncrement, OpDecrement, OpClose, OpRemove}, ops)
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	var count int
	unsubscribe := h.store.Subscribe(func(Change) { count++ })

	h.add(t, "A", 1)
	unsubscribe()
	unsubscribe()
	h.store.IncrementQuantity(context.Background(), "A")

	assert.Equal(t, 1, count)
}

func TestObserverPanicDoesNotBreakStore(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	var count int
	h.store.Subscribe(func(Change) { panic("boom") })
	h.store.Subscribe(func(Change) { count++ })

	out := h.add(t, "A", 1)

	assert.True(t, out.Committed)
	assert.Equal(t, 1, count)
}

func TestOpenCloseCart(t *testing.T) {
	h := newHarness(t, stock.FailOpen)

	out := h.store.OpenCart()
	assert.True(t, out.Committed)
	assert.True(t, out.Cart.IsOpen)

	again := h.store.OpenCart()
	assert.False(t, again.Committed)

	closed := h.store.CloseCart()
	assert.True(t, closed.Committed)
	assert.False(t, closed.Cart.IsOpen)
	assert.Equal(t, uint64(2), closed.Cart.Version)
	assert.Equal(t, 0, h.storage.Writes(testKey), "visibility is never persisted")
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestScenario_AddIncrementRemove(t *testing.T) {
	h := newHarness(t, stock.FailOpen, retailProduct("A", 100, 10))
	ctx := context.Background()

	out := h.add(t, "A", 1)
	require.True(t, out.Committed)
	assert.Equal(t, int64(100), line(t, out.Cart, "A").UnitPrice)

	for range 4 {
		out = h.store.IncrementQuantity(ctx, "A")
		require.True(t, out.Committed)
	}
	item := line(t, out.Cart, "A")
	assert.Equal(t, 5, item.Quantity)
	assert.Equal(t, int64(100), item.UnitPrice)
	assert.Equal(t, int64(500), out.Cart.TotalAmount())

	out = h.store.RemoveFromCart(ctx, "A")
	require.True(t, out.Committed)
	assert.Empty(t, out.Cart.Items)

	data, err := h.storage.Read(ctx, testKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
	assert.Equal(t, 6, h.storage.Writes(testKey))
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name       string
		res        stock.Result
		requested  int
		wantQty    int
		wantReason string
		wantOK     bool
	}{
		{
			name:      "available",
			res:       stock.Result{Availability: stock.Availability{Available: true, AvailableQuantity: 9}},
			requested: 4,
			wantQty:   4,
			wantOK:    true,
		},
		{
			name:       "shortfall clamps",
			res:        stock.Result{Availability: stock.Availability{Reason: "only 3 available", AvailableQuantity: 3}},
			requested:  7,
			wantQty:    3,
			wantReason: "only 3 available",
			wantOK:     true,
		},
		{
			name:       "nothing left",
			res:        stock.Result{Availability: stock.Availability{Reason: "out of stock"}},
			requested:  1,
			wantReason: "out of stock",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, reason, ok := admit(tt.res, tt.requested)
			assert.Equal(t, tt.wantQty, qty)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

type requestTag struct{}

func TestSubscribe_ChangeCarriesDetachedRequestContext(t *testing.T) {
	h := newHarness(t, stock.FailOpen)
	var got context.Context
	h.store.Subscribe(func(c Change) { got = c.Ctx })

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), requestTag{}, "req-7"))
	out := h.store.ClearCart(ctx)
	cancel()

	require.True(t, out.Committed)
	require.NotNil(t, got)
	assert.Equal(t, "req-7", got.Value(requestTag{}))
	assert.NoError(t, got.Err())

	h.store.OpenCart()
	assert.NotNil(t, got)
}
