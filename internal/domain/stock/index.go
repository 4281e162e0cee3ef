package stock

import (
	"sync"
	"time"

	"github.com/your-org/storefront-cart/internal/domain/cart"
)

// Entry is the stock status of one cart item after the latest pass
type Entry struct {
	AvailableStock int       `json:"availableStock"`
	Status         Status    `json:"status"`
	Stale          bool      `json:"stale"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

// IndexKey builds the "productId-size" key the index is addressed by
func IndexKey(productID, size string) string {
	return productID + "-" + size
}

// Index holds per-item stock status, safe for concurrent use. Entries are kept
// per cart key; lines that differ only by color share one "productId-size"
// view, which reports the most severe of their statuses.
type Index struct {
	mu      sync.RWMutex
	entries map[cart.Key]Entry
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{entries: make(map[cart.Key]Entry)}
}

// Get returns the entry for one cart line
func (x *Index) Get(key cart.Key) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[key]
	return e, ok
}

// Lookup returns the combined entry of every line for productID and size
func (x *Index) Lookup(productID, size string) (Entry, bool) {
	e, ok := x.Snapshot()[IndexKey(productID, size)]
	return e, ok
}

// Snapshot returns the "productId-size" view of all entries
func (x *Index) Snapshot() map[string]Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[string]Entry, len(x.entries))
	for key, e := range x.entries {
		k := IndexKey(key.ProductID, key.Size)
		if prev, ok := out[k]; ok {
			e = combine(prev, e)
		}
		out[k] = e
	}
	return out
}

func (x *Index) lines() map[cart.Key]Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[cart.Key]Entry, len(x.entries))
	for k, e := range x.entries {
		out[k] = e
	}
	return out
}

// combine keeps the more severe entry, stale if either is, dated by the
// older fetch
func combine(a, b Entry) Entry {
	out := a
	if b.Status.severity() > a.Status.severity() {
		out = b
	}
	out.Stale = a.Stale || b.Stale
	if b.FetchedAt.Before(a.FetchedAt) {
		out.FetchedAt = b.FetchedAt
	} else {
		out.FetchedAt = a.FetchedAt
	}
	return out
}

func (x *Index) set(key cart.Key, e Entry) {
	x.mu.Lock()
	x.entries[key] = e
	x.mu.Unlock()
}

func (x *Index) delete(key cart.Key) {
	x.mu.Lock()
	delete(x.entries, key)
	x.mu.Unlock()
}

// retain drops entries for items no longer in the cart
func (x *Index) retain(keys []cart.Key) {
	keep := make(map[cart.Key]bool, len(keys))
	for _, k := range keys {
		keep[k] = true
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for k := range x.entries {
		if !keep[k] {
			delete(x.entries, k)
		}
	}
}
