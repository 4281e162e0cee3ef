// internal/domain/cart/store.go
package cart

import "context"

// Store is the single contract shared by guest and user carts. Every mutation
// either fully applies or leaves the previously observable cart unchanged.
type Store interface {
	Mode() Mode
	Add(ctx context.Context, item CartItem) error
	SetQuantity(ctx context.Context, key Key, quantity int) error
	Remove(ctx context.Context, key Key) error
	Clear(ctx context.Context) error
	List() []CartItem

	// ClampQuantity lowers the item at key to limit if it currently exceeds it.
	// The comparison uses the quantity current when the clamp runs.
	ClampQuantity(ctx context.Context, key Key, limit int) (Adjustment, bool, error)
	// MarkInvalid flags or unflags an item whose product no longer resolves
	MarkInvalid(ctx context.Context, key Key, invalid bool) error
}

// Adjustment describes a quantity change made on the caller's behalf
type Adjustment struct {
	Key  Key `json:"key"`
	From int `json:"from"`
	To   int `json:"to"`
}

// StockHints exposes the last known available stock for a cart key
type StockHints interface {
	KnownAvailable(ctx context.Context, key Key) (int, bool)
}

type noHints struct{}

func (noHints) KnownAvailable(context.Context, Key) (int, bool) { return 0, false }

// NoHints is a StockHints that never knows anything
var NoHints StockHints = noHints{}

func hintsOrDefault(h StockHints) StockHints {
	if h == nil {
		return NoHints
	}
	return h
}

// clampQuantity caps quantity at the known available stock. A merge never
// drops the line, so the floor stays at one.
func clampQuantity(quantity, available int, known bool) int {
	if known && quantity > available {
		quantity = available
	}
	if quantity < 1 {
		quantity = 1
	}
	return quantity
}

func cloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

func indexOf(items []CartItem, key Key) int {
	for i := range items {
		if items[i].Key() == key {
			return i
		}
	}
	return -1
}

// mergeAdd returns a new list with item merged in. An existing line keeps its
// position and unit price and has its quantity summed.
func mergeAdd(items []CartItem, item CartItem, available int, known bool) []CartItem {
	next := cloneItems(items)
	if i := indexOf(next, item.Key()); i >= 0 {
		merged := next[i]
		merged.Quantity = clampQuantity(merged.Quantity+item.Quantity, available, known)
		if item.DisplayName != "" {
			merged.DisplayName = item.DisplayName
		}
		if item.DisplayImage != "" {
			merged.DisplayImage = item.DisplayImage
		}
		merged.MigrationID = ""
		next[i] = merged
		return next
	}

	item.Quantity = clampQuantity(item.Quantity, available, known)
	item.Invalid = false
	item.MigrationID = ""
	return append(next, item)
}

func withQuantity(items []CartItem, key Key, quantity int) ([]CartItem, bool) {
	i := indexOf(items, key)
	if i < 0 {
		return items, false
	}
	next := cloneItems(items)
	if next[i].Quantity != quantity {
		// a changed line is a new add to any later migration
		next[i].MigrationID = ""
	}
	next[i].Quantity = quantity
	return next, true
}

func withInvalid(items []CartItem, key Key, invalid bool) ([]CartItem, bool) {
	i := indexOf(items, key)
	if i < 0 {
		return items, false
	}
	next := cloneItems(items)
	next[i].Invalid = invalid
	return next, true
}

func without(items []CartItem, key Key) ([]CartItem, bool) {
	i := indexOf(items, key)
	if i < 0 {
		return items, false
	}
	next := make([]CartItem, 0, len(items)-1)
	next = append(next, items[:i]...)
	return append(next, items[i+1:]...), true
}

// normalize folds duplicate keys into the first occurrence
func normalize(items []CartItem) []CartItem {
	out := make([]CartItem, 0, len(items))
	for _, item := range items {
		if i := indexOf(out, item.Key()); i >= 0 {
			out[i].Quantity += item.Quantity
			continue
		}
		out = append(out, item)
	}
	return out
}

// PurgeReport lists what PurgeInvalid removed
type PurgeReport struct {
	Removed []Key
	Failed  map[Key]error
}

// PurgeInvalid removes every item flagged invalid from store
func PurgeInvalid(ctx context.Context, store Store) PurgeReport {
	report := PurgeReport{Failed: make(map[Key]error)}
	for _, item := range store.List() {
		if !item.Invalid {
			continue
		}
		key := item.Key()
		if err := store.Remove(ctx, key); err != nil && !IsKind(err, KindNotFound) {
			report.Failed[key] = err
			continue
		}
		report.Removed = append(report.Removed, key)
	}
	return report
}
