// internal/domain/cart/guest_store.go
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GuestStore keeps an unauthenticated cart in device-local persistence. The
// in-memory list is replaced only after the write succeeds.
type GuestStore struct {
	persistence Persistence
	storageKey  string
	hints       StockHints
	log         logrus.FieldLogger
	queue       opQueue

	mu    sync.RWMutex
	items []CartItem
}

// NewGuestStore loads the persisted guest cart. Unreadable persisted data is
// logged and replaced by an empty cart.
func NewGuestStore(p Persistence, storageKey string, hints StockHints, log logrus.FieldLogger) (*GuestStore, error) {
	s := &GuestStore{
		persistence: p,
		storageKey:  storageKey,
		hints:       hintsOrDefault(hints),
		log:         log.WithField("store", ModeGuest),
		queue:       newOpQueue(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads persisted state, discarding the in-memory copy
func (s *GuestStore) Reload(ctx context.Context) error {
	return s.queue.run(ctx, "reload", s.load)
}

func (s *GuestStore) load() error {
	data, err := s.persistence.Read(s.storageKey)
	if errors.Is(err, ErrNotPersisted) {
		s.replace(nil)
		return nil
	}
	if err != nil {
		return NewError(KindPersistence, "load", Key{}, err)
	}

	var items []CartItem
	if len(data) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			s.log.WithError(err).Warn("Discarding unreadable guest cart")
			items = nil
		}
	}
	s.replace(normalize(dropMalformed(items)))
	return nil
}

func dropMalformed(items []CartItem) []CartItem {
	out := items[:0:0]
	for _, item := range items {
		if ValidateItem("load", item) == nil {
			out = append(out, item)
		}
	}
	return out
}

func (s *GuestStore) replace(items []CartItem) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *GuestStore) snapshot() []CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

// commit persists next and only then makes it observable
func (s *GuestStore) commit(op string, key Key, next []CartItem) error {
	data, err := json.Marshal(next)
	if err != nil {
		return NewError(KindPersistence, op, key, err)
	}
	if err := s.persistence.Write(s.storageKey, data); err != nil {
		s.log.WithError(err).WithField("op", op).Warn("Guest cart write failed")
		return NewError(KindPersistence, op, key, err)
	}
	s.replace(next)
	return nil
}

// Mode implements Store
func (s *GuestStore) Mode() Mode { return ModeGuest }

// List returns a copy of the current items in insertion order
func (s *GuestStore) List() []CartItem {
	return cloneItems(s.snapshot())
}

// Add merges item into the cart
func (s *GuestStore) Add(ctx context.Context, item CartItem) error {
	if err := ValidateItem("add", item); err != nil {
		return err
	}
	return s.queue.run(ctx, "add", func() error {
		available, known := s.hints.KnownAvailable(ctx, item.Key())
		return s.commit("add", item.Key(), mergeAdd(s.snapshot(), item, available, known))
	})
}

// SetQuantity replaces the quantity of an existing item
func (s *GuestStore) SetQuantity(ctx context.Context, key Key, quantity int) error {
	if err := ValidateKey("set_quantity", key); err != nil {
		return err
	}
	if err := ValidateQuantity("set_quantity", key, quantity); err != nil {
		return err
	}
	return s.queue.run(ctx, "set_quantity", func() error {
		next, ok := withQuantity(s.snapshot(), key, quantity)
		if !ok {
			return Errorf(KindNotFound, "set_quantity", key, "item not in cart")
		}
		return s.commit("set_quantity", key, next)
	})
}

// Remove deletes an item
func (s *GuestStore) Remove(ctx context.Context, key Key) error {
	return s.queue.run(ctx, "remove", func() error {
		next, ok := without(s.snapshot(), key)
		if !ok {
			return Errorf(KindNotFound, "remove", key, "item not in cart")
		}
		return s.commit("remove", key, next)
	})
}

// Clear empties the cart
func (s *GuestStore) Clear(ctx context.Context) error {
	return s.queue.run(ctx, "clear", func() error {
		return s.commit("clear", Key{}, []CartItem{})
	})
}

// ClampQuantity implements Store
func (s *GuestStore) ClampQuantity(ctx context.Context, key Key, limit int) (Adjustment, bool, error) {
	var adj Adjustment
	var changed bool
	err := s.queue.run(ctx, "clamp", func() error {
		items := s.snapshot()
		i := indexOf(items, key)
		if i < 0 {
			return Errorf(KindNotFound, "clamp", key, "item not in cart")
		}
		current := items[i].Quantity
		target := clampQuantity(current, limit, true)
		adj = Adjustment{Key: key, From: current, To: current}
		if target >= current {
			return nil
		}
		next, _ := withQuantity(items, key, target)
		if err := s.commit("clamp", key, next); err != nil {
			return err
		}
		adj.To = target
		changed = true
		return nil
	})
	return adj, changed, err
}

// MarkInvalid implements Store
func (s *GuestStore) MarkInvalid(ctx context.Context, key Key, invalid bool) error {
	return s.queue.run(ctx, "mark_invalid", func() error {
		items := s.snapshot()
		i := indexOf(items, key)
		if i < 0 {
			return Errorf(KindNotFound, "mark_invalid", key, "item not in cart")
		}
		if items[i].Invalid == invalid {
			return nil
		}
		next, _ := withInvalid(items, key, invalid)
		return s.commit("mark_invalid", key, next)
	})
}

// AssignMigrationIDs gives every item lacking one a migration id, persists the
// ids and returns the tagged items
func (s *GuestStore) AssignMigrationIDs(ctx context.Context) ([]CartItem, error) {
	var tagged []CartItem
	err := s.queue.run(ctx, "assign_migration_ids", func() error {
		next := cloneItems(s.snapshot())
		changed := false
		for i := range next {
			if next[i].MigrationID == "" {
				next[i].MigrationID = uuid.NewString()
				changed = true
			}
		}
		if changed {
			if err := s.commit("assign_migration_ids", Key{}, next); err != nil {
				return err
			}
		}
		tagged = cloneItems(next)
		return nil
	})
	return tagged, err
}
