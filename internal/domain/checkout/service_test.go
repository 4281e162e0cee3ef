package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	"github.com/your-org/storefront-cart/internal/domain/pricing"
	"github.com/your-org/storefront-cart/internal/domain/stock"
	"github.com/your-org/storefront-cart/internal/infrastructure/persistence"
	"github.com/your-org/storefront-cart/internal/pkg/logger"
)

type mapCatalog struct {
	products map[string]inventory.Snapshot
	fail     error
}

func (c *mapCatalog) Batch(_ context.Context, ids []string) ([]inventory.Snapshot, error) {
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

func (c *mapCatalog) Single(_ context.Context, id string) (inventory.Snapshot, error) {
	s, ok := c.products[id]
	if !ok {
		return inventory.Snapshot{}, inventory.ErrProductNotFound
	}
	return s, nil
}

type recordingPublisher struct {
	published []*Handoff
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, h *Handoff) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, h)
	return nil
}

type fixture struct {
	catalog    *mapCatalog
	reconciler *stock.Reconciler
	store      *cart.GuestStore
	publisher  *recordingPublisher
	service    *Service
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog:   &mapCatalog{products: map[string]inventory.Snapshot{}},
		publisher: &recordingPublisher{},
		now:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.reconciler = stock.NewReconciler(f.catalog, stock.NewIndex(), stock.Options{Now: clock}, logger.Discard())

	store, err := cart.NewGuestStore(persistence.NewMemory(), "guest_cart", nil, logger.Discard())
	require.NoError(t, err)
	f.store = store

	f.service = NewService(pricing.NewCalculator(pricing.DefaultRules()), f.reconciler.Index(), f.publisher, 2*time.Minute, logger.Discard())
	f.service.now = clock
	return f
}

func (f *fixture) stock(id string, count int) {
	f.catalog.products[id] = inventory.Snapshot{
		ProductID:     id,
		CountInStock:  count,
		Sizes:         []string{"M"},
		SizeInventory: json.RawMessage(`{"M":` + decimal.NewFromInt(int64(count)).String() + `}`),
	}
}

func (f *fixture) add(t *testing.T, id, price string, quantity int) {
	t.Helper()
	require.NoError(t, f.store.Add(context.Background(), cart.CartItem{
		ProductID: id, Size: "M", Quantity: quantity, UnitPrice: decimal.RequireFromString(price),
	}))
}

func validRequest() Request {
	return Request{
		ShippingAddress: Address{
			FullName:   "Ada Lovelace",
			Line1:      "12 Analytical Row",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "GB",
		},
		PaymentMethod: "card",
	}
}

func TestPrepare_BuildsHandoff(t *testing.T) {
	f := newFixture(t)
	f.stock("p1", 20)
	f.stock("p2", 20)
	f.add(t, "p1", "60", 1)
	f.add(t, "p2", "50", 1)
	f.reconciler.Reconcile(context.Background(), f.store)

	h, err := f.service.Prepare(f.store, validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, h.ID)
	assert.Len(t, h.Items, 2)
	assert.Equal(t, "110.00", h.Subtotal)
	assert.Equal(t, "0.00", h.Shipping)
	assert.Equal(t, "7.70", h.Tax)
	assert.Equal(t, "117.70", h.Total)
	assert.Equal(t, "card", h.PaymentMethod)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	for _, field := range []string{`"items"`, `"subtotal"`, `"shipping"`, `"tax"`, `"total"`, `"shippingAddress"`, `"paymentMethod"`} {
		assert.Contains(t, string(data), field)
	}
}

func TestPrepare_Blockers(t *testing.T) {
	f := newFixture(t)
	f.stock("ok", 20)
	f.stock("empty", 0)
	f.add(t, "ok", "10", 1)
	f.add(t, "empty", "10", 1)
	f.add(t, "gone", "10", 1)
	f.reconciler.Reconcile(context.Background(), f.store)

	f.add(t, "unchecked", "10", 1)

	_, err := f.service.Prepare(f.store, validRequest())
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)

	reasons := map[string]string{}
	for _, b := range blocked.Blockers {
		reasons[b.Key.ProductID] = b.Reason
	}
	assert.Equal(t, map[string]string{
		"empty":     "out of stock",
		"gone":      "product is no longer available",
		"unchecked": "stock not checked yet",
	}, reasons)
}

func TestPrepare_StaleDataBlocksAfterGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.stock("p1", 20)
	f.add(t, "p1", "10", 1)
	f.reconciler.Reconcile(context.Background(), f.store)

	f.catalog.fail = errors.New("catalog down")
	f.now = f.now.Add(time.Minute)
	f.reconciler.Reconcile(context.Background(), f.store)

	_, err := f.service.Prepare(f.store, validRequest())
	require.NoError(t, err, "within grace period stale data does not block")

	f.now = f.now.Add(2 * time.Minute)
	_, err = f.service.Prepare(f.store, validRequest())
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "stock data is out of date", blocked.Blockers[0].Reason)
}

func TestPrepare_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Prepare(f.store, validRequest())
	assert.True(t, cart.IsKind(err, cart.KindValidation))
	assert.ErrorIs(t, err, ErrEmptyCart)

	f.stock("p1", 20)
	f.add(t, "p1", "10", 1)
	f.reconciler.Reconcile(context.Background(), f.store)

	req := validRequest()
	req.ShippingAddress.Country = "United Kingdom"
	_, err = f.service.Prepare(f.store, req)
	assert.True(t, cart.IsKind(err, cart.KindValidation))

	req = validRequest()
	req.PaymentMethod = ""
	_, err = f.service.Prepare(f.store, req)
	assert.True(t, cart.IsKind(err, cart.KindValidation))
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	f.stock("p1", 20)
	f.add(t, "p1", "10", 1)
	f.reconciler.Reconcile(context.Background(), f.store)

	h, err := f.service.Prepare(f.store, validRequest())
	require.NoError(t, err)

	require.NoError(t, f.service.Submit(context.Background(), h))
	assert.Len(t, f.publisher.published, 1)

	f.publisher.err = errors.New("broker unreachable")
	err = f.service.Submit(context.Background(), h)
	require.Error(t, err)
	assert.False(t, cart.IsRetryable(err), "order placement is never retried blindly")
}

func TestPrepare_JudgesEachColorOnItsOwnQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock("p1", 3)

	red := cart.CartItem{ProductID: "p1", Size: "M", Color: "red", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}
	blue := red
	blue.Color = "blue"
	require.NoError(t, f.store.Add(ctx, red))
	require.NoError(t, f.store.Add(ctx, blue))
	require.False(t, f.reconciler.Reconcile(ctx, f.store).Blocked())

	require.NoError(t, f.store.SetQuantity(ctx, red.Key(), 9))

	// raised after the pass; the stored entry still says low stock
	_, err := f.service.Prepare(f.store, validRequest())
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Blockers, 1)
	assert.Equal(t, red.Key(), blocked.Blockers[0].Key)

	// a failed refresh keeps the stale snapshot, which may not lower the line
	f.catalog.fail = errors.New("catalog unavailable")
	report := f.reconciler.Reconcile(ctx, f.store)
	assert.True(t, report.Blocked())
	assert.Equal(t, stock.StatusInsufficient, report.Lines[red.Key()].Status)
	assert.Equal(t, stock.StatusLowStock, report.Lines[blue.Key()].Status)
	assert.Equal(t, stock.StatusInsufficient, report.Statuses["p1-M"].Status)

	_, err = f.service.Prepare(f.store, validRequest())
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Blockers, 1)
	assert.Equal(t, red.Key(), blocked.Blockers[0].Key)
	assert.Equal(t, 9, f.store.List()[0].Quantity)
}
