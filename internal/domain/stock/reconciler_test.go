package stock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	"github.com/your-org/storefront-cart/internal/infrastructure/persistence"
	"github.com/your-org/storefront-cart/internal/pkg/logger"
)

type fakeCatalog struct {
	mu         sync.Mutex
	products   map[string]inventory.Snapshot
	fail       error
	batchCalls int
	lastBatch  []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: make(map[string]inventory.Snapshot)}
}

func (c *fakeCatalog) put(id string, count int, sizes []string, mapping string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[id] = inventory.Snapshot{
		ProductID:     id,
		CountInStock:  count,
		Sizes:         sizes,
		SizeInventory: json.RawMessage(mapping),
	}
}

func (c *fakeCatalog) remove(id string) {
	c.mu.Lock()
	delete(c.products, id)
	c.mu.Unlock()
}

func (c *fakeCatalog) setFail(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *fakeCatalog) Batch(_ context.Context, ids []string) ([]inventory.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls++
	c.lastBatch = append([]string(nil), ids...)
	if c.fail != nil {
		return nil, c.fail
	}
	var out []inventory.Snapshot
	for _, id := range ids {
		if s, ok := c.products[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Single(_ context.Context, id string) (inventory.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return inventory.Snapshot{}, c.fail
	}
	s, ok := c.products[id]
	if !ok {
		return inventory.Snapshot{}, inventory.ErrProductNotFound
	}
	return s, nil
}

type harness struct {
	catalog    *fakeCatalog
	reconciler *Reconciler
	store      *cart.GuestStore
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{catalog: newFakeCatalog(), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h.reconciler = NewReconciler(h.catalog, NewIndex(), Options{Now: func() time.Time { return h.now }}, logger.Discard())

	store, err := cart.NewGuestStore(persistence.NewMemory(), "guest_cart", h.reconciler, logger.Discard())
	require.NoError(t, err)
	h.store = store
	return h
}

func (h *harness) add(t *testing.T, productID, size string, quantity int) {
	t.Helper()
	require.NoError(t, h.store.Add(context.Background(), cart.CartItem{
		ProductID: productID,
		Size:      size,
		Quantity:  quantity,
		UnitPrice: decimal.NewFromInt(10),
	}))
}

func (h *harness) quantity(productID, size string) int {
	for _, item := range h.store.List() {
		if item.ProductID == productID && item.Size == size {
			return item.Quantity
		}
	}
	return 0
}

func TestClassify(t *testing.T) {
	tests := []struct {
		available, quantity int
		want                Status
	}{
		{0, 1, StatusOutOfStock},
		{-3, 1, StatusOutOfStock},
		{2, 3, StatusInsufficient},
		{5, 5, StatusLowStock},
		{3, 1, StatusLowStock},
		{6, 2, StatusInStock},
		{100, 100, StatusInStock},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.available, tt.quantity, DefaultLowStockThreshold),
			"available=%d quantity=%d", tt.available, tt.quantity)
	}

	assert.True(t, StatusInvalid.BlocksCheckout())
	assert.True(t, StatusInsufficient.BlocksCheckout())
	assert.False(t, StatusLowStock.BlocksCheckout())
}

func TestReconcile_BatchesOneLookupPerPass(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "S", 1)
	h.add(t, "p1", "M", 1)
	h.add(t, "p2", "M", 1)

	h.reconciler.Reconcile(context.Background(), h.store)

	assert.Equal(t, 1, h.catalog.batchCalls)
	assert.Equal(t, []string{"p1", "p2"}, h.catalog.lastBatch)
}

func TestReconcile_ClampsInsufficientQuantity(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 8)
	h.catalog.put("p1", 10, []string{"S", "M", "L"}, `{"S":4,"M":3,"L":3}`)

	report := h.reconciler.Reconcile(context.Background(), h.store)

	require.Len(t, report.Corrections, 1)
	assert.Equal(t, Correction{Key: cart.Key{ProductID: "p1", Size: "M"}, From: 8, To: 3, Available: 3}, report.Corrections[0])
	assert.Equal(t, 3, h.quantity("p1", "M"))

	entry := report.Statuses["p1-M"]
	assert.Equal(t, 3, entry.AvailableStock)
	assert.Equal(t, StatusLowStock, entry.Status)
	assert.False(t, report.Blocked())
}

func TestReconcile_FallsBackToEvenSplit(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "L", 1)
	h.catalog.put("p1", 30, []string{"S", "M", "L"}, `"garbage"`)

	report := h.reconciler.Reconcile(context.Background(), h.store)

	assert.Equal(t, Entry{AvailableStock: 10, Status: StatusInStock, FetchedAt: h.now}, report.Statuses["p1-L"])
}

func TestReconcile_OutOfStockBlocksWithoutClamping(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 2)
	h.catalog.put("p1", 0, []string{"M"}, `{"M":0}`)

	report := h.reconciler.Reconcile(context.Background(), h.store)

	assert.Empty(t, report.Corrections)
	assert.Equal(t, 2, h.quantity("p1", "M"))
	assert.Equal(t, StatusOutOfStock, report.Statuses["p1-M"].Status)
	assert.True(t, report.Blocked())
}

func TestReconcile_MissingProductBecomesInvalid(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 1)
	h.add(t, "gone", "M", 1)
	h.catalog.put("p1", 10, []string{"M"}, "")

	report := h.reconciler.Reconcile(context.Background(), h.store)

	assert.Equal(t, []cart.Key{{ProductID: "gone", Size: "M"}}, report.Invalid)
	assert.Equal(t, StatusInvalid, report.Statuses["gone-M"].Status)
	assert.Equal(t, StatusInStock, report.Statuses["p1-M"].Status)

	items := h.store.List()
	assert.False(t, items[0].Invalid)
	assert.True(t, items[1].Invalid)

	// the product comes back
	h.catalog.put("gone", 4, []string{"M"}, "")
	report = h.reconciler.Reconcile(context.Background(), h.store)
	assert.Empty(t, report.Invalid)
	assert.False(t, h.store.List()[1].Invalid)
	assert.Equal(t, StatusLowStock, report.Statuses["gone-M"].Status)
}

func TestReconcile_FailedLookupKeepsSnapshotMarkedStale(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 2)
	h.catalog.put("p1", 20, []string{"M"}, "")

	first := h.reconciler.Reconcile(context.Background(), h.store)
	require.False(t, first.Stale)

	h.catalog.setFail(errors.New("connection reset"))
	h.now = h.now.Add(time.Minute)
	second := h.reconciler.Reconcile(context.Background(), h.store)

	assert.True(t, second.Stale)
	assert.True(t, cart.IsKind(second.LookupErr, cart.KindStaleData))
	entry := second.Statuses["p1-M"]
	assert.Equal(t, 20, entry.AvailableStock, "stale data is never read as zero")
	assert.True(t, entry.Stale)
	assert.Equal(t, h.now.Add(-time.Minute), entry.FetchedAt)
	assert.Equal(t, StatusInStock, entry.Status)
}

func TestReconcile_StaleDataDoesNotClamp(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 2)
	h.catalog.put("p1", 20, []string{"M"}, "")
	h.reconciler.Reconcile(context.Background(), h.store)

	require.NoError(t, h.store.SetQuantity(context.Background(), cart.Key{ProductID: "p1", Size: "M"}, 25))
	h.catalog.setFail(errors.New("timeout"))

	report := h.reconciler.Reconcile(context.Background(), h.store)
	assert.Empty(t, report.Corrections)
	assert.Equal(t, 25, h.quantity("p1", "M"))
	assert.Equal(t, StatusInsufficient, report.Statuses["p1-M"].Status)
}

func TestReconcile_FailedFirstLookupLeavesItemsPending(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 1)
	h.catalog.setFail(errors.New("dns failure"))

	report := h.reconciler.Reconcile(context.Background(), h.store)

	assert.Equal(t, []cart.Key{{ProductID: "p1", Size: "M"}}, report.Pending)
	assert.Empty(t, report.Invalid)
	assert.Empty(t, report.Statuses)
	assert.True(t, report.Blocked())
	assert.False(t, h.store.List()[0].Invalid)
}

func TestReconcile_DropsEntriesForRemovedItems(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 1)
	h.add(t, "p2", "M", 1)
	h.catalog.put("p1", 10, []string{"M"}, "")
	h.catalog.put("p2", 10, []string{"M"}, "")
	h.reconciler.Reconcile(context.Background(), h.store)

	require.NoError(t, h.store.Remove(context.Background(), cart.Key{ProductID: "p2", Size: "M"}))
	report := h.reconciler.Reconcile(context.Background(), h.store)

	_, ok := report.Statuses["p2-M"]
	assert.False(t, ok)
	assert.Len(t, report.Statuses, 1)
}

func TestReconcile_ClampUsesCurrentQuantity(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 9)
	h.catalog.put("p1", 5, []string{"M"}, "")

	// a store whose quantity drops between List and the clamp
	racing := &shrinkingStore{GuestStore: h.store, shrinkTo: 4}
	report := h.reconciler.Reconcile(context.Background(), racing)

	assert.Empty(t, report.Corrections)
	assert.Equal(t, 4, h.quantity("p1", "M"))
	assert.Equal(t, StatusLowStock, report.Statuses["p1-M"].Status)
}

type shrinkingStore struct {
	*cart.GuestStore
	shrinkTo int
}

func (s *shrinkingStore) ClampQuantity(ctx context.Context, key cart.Key, limit int) (cart.Adjustment, bool, error) {
	if err := s.GuestStore.SetQuantity(ctx, key, s.shrinkTo); err != nil {
		return cart.Adjustment{}, false, err
	}
	return s.GuestStore.ClampQuantity(ctx, key, limit)
}

func TestKnownAvailable_ServesHintsToAdd(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "S", 1)
	h.catalog.put("p1", 10, []string{"S", "M", "L"}, `{"S":4,"M":3,"L":3}`)
	h.reconciler.Reconcile(context.Background(), h.store)

	h.add(t, "p1", "M", 7)
	assert.Equal(t, 3, h.quantity("p1", "M"))

	n, ok := h.reconciler.KnownAvailable(context.Background(), cart.Key{ProductID: "unknown", Size: "M"})
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestCheck(t *testing.T) {
	h := newHarness(t)
	h.catalog.put("p1", 6, []string{"S", "M"}, "")

	snapshot, err := h.reconciler.Check(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot.AvailableFor("M"))

	_, err = h.reconciler.Check(context.Background(), "nope")
	assert.True(t, cart.IsKind(err, cart.KindNotFound))

	h.catalog.setFail(errors.New("down"))
	_, err = h.reconciler.Check(context.Background(), "p1")
	assert.True(t, cart.IsKind(err, cart.KindStaleData))

	n, ok := h.reconciler.KnownAvailable(context.Background(), cart.Key{ProductID: "p1", Size: "S"})
	assert.True(t, ok)
	assert.Equal(t, 3, n)
}

type staticProvider struct{ store cart.Store }

func (p staticProvider) Active() cart.Store { return p.store }

func TestRun_StopsWithContext(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 1)
	h.catalog.put("p1", 10, []string{"M"}, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.reconciler.Run(ctx, staticProvider{h.store}, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		h.catalog.mu.Lock()
		defer h.catalog.mu.Unlock()
		return h.catalog.batchCalls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_DeliversEachReport(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 4)
	h.catalog.put("p1", 2, []string{"M"}, "")

	reports := make(chan *Report, 8)
	reconciler := NewReconciler(h.catalog, NewIndex(), Options{
		OnReport: func(r *Report) {
			select {
			case reports <- r:
			default:
			}
		},
	}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = reconciler.Run(ctx, staticProvider{h.store}, time.Hour) }()

	select {
	case report := <-reports:
		require.Len(t, report.Corrections, 1)
		assert.Equal(t, 2, report.Corrections[0].To)
	case <-time.After(time.Second):
		t.Fatal("no report delivered")
	}
	assert.Equal(t, 2, h.quantity("p1", "M"))
}

func TestIndex_ColorsSharingASizeKeepOwnEntries(t *testing.T) {
	idx := NewIndex()
	early := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	red := cart.Key{ProductID: "p1", Size: "M", Color: "red"}
	blue := cart.Key{ProductID: "p1", Size: "M", Color: "blue"}

	idx.set(red, Entry{AvailableStock: 3, Status: StatusInsufficient, FetchedAt: late})
	idx.set(blue, Entry{AvailableStock: 3, Status: StatusLowStock, Stale: true, FetchedAt: early})

	got, ok := idx.Get(red)
	require.True(t, ok)
	assert.Equal(t, StatusInsufficient, got.Status)
	got, _ = idx.Get(blue)
	assert.Equal(t, StatusLowStock, got.Status)

	combined, ok := idx.Lookup("p1", "M")
	require.True(t, ok)
	assert.Equal(t, Entry{AvailableStock: 3, Status: StatusInsufficient, Stale: true, FetchedAt: early}, combined)

	idx.retain([]cart.Key{blue})
	_, ok = idx.Get(red)
	assert.False(t, ok)
	assert.Equal(t, StatusLowStock, idx.Snapshot()["p1-M"].Status)
}

// pendingClampStore lowers quantities but reports the change as unconfirmed
type pendingClampStore struct {
	cart.Store
}

func (s pendingClampStore) ClampQuantity(ctx context.Context, key cart.Key, limit int) (cart.Adjustment, bool, error) {
	adj, changed, err := s.Store.ClampQuantity(ctx, key, limit)
	if err != nil {
		return adj, changed, err
	}
	return adj, changed, cart.NewError(cart.KindTransient, "clamp", key, context.DeadlineExceeded)
}

func TestReconcile_UnconfirmedClampIsStillReported(t *testing.T) {
	h := newHarness(t)
	h.add(t, "p1", "M", 6)
	h.catalog.put("p1", 4, []string{"M"}, `{"M":4}`)

	report := h.reconciler.Reconcile(context.Background(), pendingClampStore{h.store})

	key := cart.Key{ProductID: "p1", Size: "M"}
	require.Len(t, report.Corrections, 1)
	assert.Equal(t, Correction{Key: key, From: 6, To: 4, Available: 4}, report.Corrections[0])
	assert.True(t, cart.IsKind(report.Failures[key], cart.KindTransient))
	assert.Equal(t, StatusLowStock, report.Lines[key].Status)
	assert.Equal(t, 4, h.quantity("p1", "M"))
}
