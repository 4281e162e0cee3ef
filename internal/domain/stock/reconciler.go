// internal/domain/stock/reconciler.go
package stock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
)

// Catalog is the product stock lookup the reconciler reads from
type Catalog interface {
	Batch(ctx context.Context, productIDs []string) ([]inventory.Snapshot, error)
	Single(ctx context.Context, productID string) (inventory.Snapshot, error)
}

// StoreProvider yields the cart currently in use
type StoreProvider interface {
	Active() cart.Store
}

// Correction is a quantity the reconciler lowered to fit available stock
type Correction struct {
	Key       cart.Key `json:"key"`
	From      int      `json:"from"`
	To        int      `json:"to"`
	Available int      `json:"available"`
}

// Report is the outcome of one reconciliation pass
type Report struct {
	// Statuses is the "productId-size" view; Lines holds each cart line
	Statuses    map[string]Entry
	Lines       map[cart.Key]Entry
	Corrections []Correction
	Invalid     []cart.Key
	// Pending items have never been checked successfully
	Pending  []cart.Key
	Stale    bool
	Failures map[cart.Key]error
	// LookupErr is the stale-data error of a failed catalog lookup
	LookupErr error
}

// Blocked reports whether anything in the pass keeps the cart from checkout
func (r *Report) Blocked() bool {
	if len(r.Pending) > 0 {
		return true
	}
	for _, e := range r.Lines {
		if e.Status.BlocksCheckout() {
			return true
		}
	}
	return false
}

type known struct {
	snapshot  inventory.Snapshot
	fetchedAt time.Time
	stale     bool
}

// Options tunes a Reconciler
type Options struct {
	LowStockThreshold int
	// Now is the clock; time.Now when nil
	Now func() time.Time
	// OnReport receives the report of every pass made by Run
	OnReport func(*Report)
}

// Reconciler keeps cart items consistent with catalog stock. It remembers the
// last good snapshot per product and serves it as a stock hint to carts.
type Reconciler struct {
	catalog  Catalog
	index    *Index
	log      logrus.FieldLogger
	lowStock int
	now      func() time.Time
	onReport func(*Report)

	mu    sync.RWMutex
	known map[string]known
}

// NewReconciler creates a new reconciler
func NewReconciler(catalog Catalog, index *Index, opts Options, log logrus.FieldLogger) *Reconciler {
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = DefaultLowStockThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		catalog:  catalog,
		index:    index,
		log:      log.WithField("component", "stock_reconciler"),
		lowStock: opts.LowStockThreshold,
		now:      opts.Now,
		onReport: opts.OnReport,
		known:    make(map[string]known),
	}
}

// Index returns the status index this reconciler writes
func (r *Reconciler) Index() *Index {
	return r.index
}

// KnownAvailable implements cart.StockHints from the last good snapshot
func (r *Reconciler) KnownAvailable(_ context.Context, key cart.Key) (int, bool) {
	r.mu.RLock()
	k, ok := r.known[key.ProductID]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return k.snapshot.AvailableFor(key.Size), true
}

// Reconcile runs one pass over store: a single batched lookup, then per item
// classification, clamping of insufficient quantities and invalid flagging.
func (r *Reconciler) Reconcile(ctx context.Context, store cart.Store) *Report {
	items := store.List()
	report := &Report{Failures: make(map[cart.Key]error)}

	lookupFailed := false
	if ids := productIDs(items); len(ids) > 0 {
		snapshots, err := r.catalog.Batch(ctx, ids)
		if err != nil {
			lookupFailed = true
			r.markStale(ids)
			report.Stale = true
			report.LookupErr = cart.NewError(cart.KindStaleData, "reconcile", cart.Key{}, err)
			r.log.WithError(err).WithField("products", len(ids)).Warn("Stock lookup failed, keeping last snapshot")
		} else {
			r.remember(ids, snapshots)
		}
	}

	keys := make([]cart.Key, 0, len(items))
	for _, item := range items {
		key := item.Key()
		keys = append(keys, key)

		k, ok := r.lookup(item.ProductID)
		if !ok {
			if lookupFailed {
				report.Pending = append(report.Pending, key)
				r.index.delete(key)
				continue
			}
			r.markInvalid(ctx, store, item, report)
			continue
		}
		if k.stale {
			report.Stale = true
		}

		if item.Invalid {
			if err := store.MarkInvalid(ctx, key, false); err != nil && !cart.IsKind(err, cart.KindNotFound) {
				report.Failures[key] = err
			}
		}

		available := k.snapshot.AvailableFor(item.Size)
		quantity := item.Quantity
		status := Classify(available, quantity, r.lowStock)

		// stale data may only warn, never lower a quantity
		if status == StatusInsufficient && !k.stale {
			adj, changed, err := store.ClampQuantity(ctx, key, available)
			if cart.IsKind(err, cart.KindNotFound) {
				// removed while the pass ran
				r.index.delete(key)
				continue
			}
			if err != nil {
				// a clamp still in flight stays applied locally
				report.Failures[key] = err
			} else {
				quantity = adj.To
			}
			if changed {
				quantity = adj.To
				report.Corrections = append(report.Corrections, Correction{
					Key: key, From: adj.From, To: adj.To, Available: available,
				})
				r.log.WithFields(logrus.Fields{
					"key":       key.String(),
					"from":      adj.From,
					"to":        adj.To,
					"available": available,
				}).Info("Cart quantity lowered to available stock")
			}
			status = Classify(available, quantity, r.lowStock)
		}

		r.index.set(key, Entry{
			AvailableStock: available,
			Status:         status,
			Stale:          k.stale,
			FetchedAt:      k.fetchedAt,
		})
	}

	r.index.retain(keys)
	report.Statuses = r.index.Snapshot()
	report.Lines = r.index.lines()
	return report
}

func (r *Reconciler) markInvalid(ctx context.Context, store cart.Store, item cart.CartItem, report *Report) {
	key := item.Key()
	if !item.Invalid {
		if err := store.MarkInvalid(ctx, key, true); err != nil && !cart.IsKind(err, cart.KindNotFound) {
			report.Failures[key] = err
		}
	}
	report.Invalid = append(report.Invalid, key)
	r.index.set(key, Entry{Status: StatusInvalid, FetchedAt: r.now()})
}

// Check refreshes one product's snapshot
func (r *Reconciler) Check(ctx context.Context, productID string) (inventory.Snapshot, error) {
	snapshot, err := r.catalog.Single(ctx, productID)
	if errors.Is(err, inventory.ErrProductNotFound) {
		r.forget(productID)
		return inventory.Snapshot{}, cart.NewError(cart.KindNotFound, "check", cart.Key{ProductID: productID}, err)
	}
	if cart.IsKind(err, cart.KindNotFound) {
		r.forget(productID)
		return inventory.Snapshot{}, err
	}
	if err != nil {
		r.markStale([]string{productID})
		return inventory.Snapshot{}, cart.NewError(cart.KindStaleData, "check", cart.Key{ProductID: productID}, err)
	}

	r.mu.Lock()
	r.known[productID] = known{snapshot: snapshot, fetchedAt: r.now()}
	r.mu.Unlock()
	return snapshot, nil
}

// Run reconciles the provider's active cart every interval until ctx ends
func (r *Reconciler) Run(ctx context.Context, provider StoreProvider, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.pass(ctx, provider)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.pass(ctx, provider)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context, provider StoreProvider) {
	report := r.Reconcile(ctx, provider.Active())
	if len(report.Failures) > 0 {
		r.log.WithField("failures", len(report.Failures)).Warn("Reconciliation pass had item failures")
	}
	if r.onReport != nil {
		r.onReport(report)
	}
}

func (r *Reconciler) lookup(productID string) (known, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.known[productID]
	return k, ok
}

// remember stores a successful batch. Requested ids absent from it no longer
// resolve.
func (r *Reconciler) remember(ids []string, snapshots []inventory.Snapshot) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		delete(r.known, id)
	}
	for _, s := range snapshots {
		r.known[s.ProductID] = known{snapshot: s, fetchedAt: now}
	}
}

// markStale flags existing snapshots; availability is never zeroed
func (r *Reconciler) markStale(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if k, ok := r.known[id]; ok {
			k.stale = true
			r.known[id] = k
		}
	}
}

func (r *Reconciler) forget(productID string) {
	r.mu.Lock()
	delete(r.known, productID)
	r.mu.Unlock()
}

func productIDs(items []cart.CartItem) []string {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		ids = append(ids, item.ProductID)
	}
	return ids
}
