// internal/domain/cart/server_store.go
package cart

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 5 * time.Second

// ServerStore is an authenticated cart held by the cart backend. Mutations are
// applied optimistically, then overwritten by the backend's response unless a
// newer response has already been applied. A mutation whose outcome is unknown
// stays pending under its id until it settles or is retried.
type ServerStore struct {
	backend Backend
	hints   StockHints
	log     logrus.FieldLogger
	timeout time.Duration
	queue   opQueue

	mu      sync.RWMutex
	items   []CartItem
	invalid map[Key]bool
	version string
	issued  uint64
	applied uint64
	pending map[string]pendingMutation
	// failed holds rejections that arrived after the caller stopped waiting
	failed  map[string]error
}

type pendingMutation struct {
	op   string
	key  Key
	call backendCall
}

// NewServerStore creates an empty user cart; call Refresh to load it
func NewServerStore(backend Backend, hints StockHints, timeout time.Duration, log logrus.FieldLogger) *ServerStore {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ServerStore{
		backend: backend,
		hints:   hintsOrDefault(hints),
		log:     log.WithField("store", ModeUser),
		timeout: timeout,
		queue:   newOpQueue(),
		items:   []CartItem{},
		invalid: make(map[Key]bool),
		pending: make(map[string]pendingMutation),
		failed:  make(map[string]error),
	}
}

// Mode implements Store
func (s *ServerStore) Mode() Mode { return ModeUser }

// List returns a copy of the current items
func (s *ServerStore) List() []CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.items)
}

// Version returns the version of the last applied server response
func (s *ServerStore) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Refresh replaces local state with the backend's current cart
func (s *ServerStore) Refresh(ctx context.Context) error {
	return s.queue.run(ctx, "refresh", func() error {
		s.mu.Lock()
		s.issued++
		seq := s.issued
		s.mu.Unlock()

		return s.dispatch(ctx, "refresh", Key{}, seq, s.backend.Fetch)
	})
}

// Add merges item into the cart
func (s *ServerStore) Add(ctx context.Context, item CartItem) error {
	return s.AddKeyed(ctx, uuid.NewString(), item)
}

// AddKeyed is Add sent under a caller chosen mutation id. The backend applies
// one id once, so repeating an add across sessions cannot double it.
func (s *ServerStore) AddKeyed(ctx context.Context, mutationID string, item CartItem) error {
	if err := ValidateItem("add", item); err != nil {
		return err
	}
	key := item.Key()
	if mutationID == "" {
		return Errorf(KindValidation, "add", key, "mutation id is required")
	}
	item.MigrationID = ""
	return s.mutate(ctx, "add", key, mutationID,
		func(items []CartItem) ([]CartItem, error) {
			available, known := s.hints.KnownAvailable(ctx, key)
			return mergeAdd(items, item, available, known), nil
		},
		func(ctx context.Context, mutationID string) (RemoteCart, error) {
			return s.backend.AddItem(ctx, mutationID, item)
		},
	)
}

// SetQuantity replaces the quantity of an existing item
func (s *ServerStore) SetQuantity(ctx context.Context, key Key, quantity int) error {
	if err := ValidateKey("set_quantity", key); err != nil {
		return err
	}
	if err := ValidateQuantity("set_quantity", key, quantity); err != nil {
		return err
	}
	err := s.mutate(ctx, "set_quantity", key, uuid.NewString(),
		func(items []CartItem) ([]CartItem, error) {
			next, ok := withQuantity(items, key, quantity)
			if !ok {
				return nil, Errorf(KindNotFound, "set_quantity", key, "item not in cart")
			}
			return next, nil
		},
		func(ctx context.Context, mutationID string) (RemoteCart, error) {
			return s.backend.UpdateItem(ctx, mutationID, key, quantity)
		},
	)
	if IsKind(err, KindNotFound) {
		// the backend no longer has this line
		s.flagInvalid(key)
	}
	return err
}

// Remove deletes an item. A line the backend already lacks counts as removed.
func (s *ServerStore) Remove(ctx context.Context, key Key) error {
	err := s.mutate(ctx, "remove", key, uuid.NewString(),
		func(items []CartItem) ([]CartItem, error) {
			next, ok := without(items, key)
			if !ok {
				return nil, Errorf(KindNotFound, "remove", key, "item not in cart")
			}
			return next, nil
		},
		func(ctx context.Context, mutationID string) (RemoteCart, error) {
			remote, err := s.backend.RemoveItem(ctx, mutationID, key)
			if IsKind(err, KindNotFound) {
				return s.backend.Fetch(ctx)
			}
			return remote, err
		},
	)
	if err == nil {
		s.mu.Lock()
		delete(s.invalid, key)
		s.mu.Unlock()
	}
	return err
}

// Clear empties the cart
func (s *ServerStore) Clear(ctx context.Context) error {
	err := s.mutate(ctx, "clear", Key{}, uuid.NewString(),
		func([]CartItem) ([]CartItem, error) {
			return []CartItem{}, nil
		},
		s.backend.ClearItems,
	)
	if err == nil {
		s.mu.Lock()
		s.invalid = make(map[Key]bool)
		s.mu.Unlock()
	}
	return err
}

// ClampQuantity implements Store
func (s *ServerStore) ClampQuantity(ctx context.Context, key Key, limit int) (Adjustment, bool, error) {
	var adj Adjustment
	var changed bool
	err := s.mutate(ctx, "clamp", key, uuid.NewString(),
		func(items []CartItem) ([]CartItem, error) {
			i := indexOf(items, key)
			if i < 0 {
				return nil, Errorf(KindNotFound, "clamp", key, "item not in cart")
			}
			current := items[i].Quantity
			adj = Adjustment{Key: key, From: current, To: current}
			target := clampQuantity(current, limit, true)
			if target >= current {
				return nil, errNoChange
			}
			adj.To = target
			changed = true
			next, _ := withQuantity(items, key, target)
			return next, nil
		},
		func(ctx context.Context, mutationID string) (RemoteCart, error) {
			return s.backend.UpdateItem(ctx, mutationID, key, adj.To)
		},
	)
	if errors.Is(err, errNoChange) {
		return adj, false, nil
	}
	if err != nil && !IsPending(err) {
		return Adjustment{}, false, err
	}
	// an unsettled clamp stays applied locally
	return adj, changed, err
}

// MarkInvalid implements Store. The flag is local; the backend only knows the
// product is gone.
func (s *ServerStore) MarkInvalid(ctx context.Context, key Key, invalid bool) error {
	return s.queue.run(ctx, "mark_invalid", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		next, ok := withInvalid(s.items, key, invalid)
		if !ok {
			return Errorf(KindNotFound, "mark_invalid", key, "item not in cart")
		}
		if invalid {
			s.invalid[key] = true
		} else {
			delete(s.invalid, key)
		}
		s.items = next
		return nil
	})
}

func (s *ServerStore) flagInvalid(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next, ok := withInvalid(s.items, key, true); ok {
		s.invalid[key] = true
		s.items = next
	}
}

var errNoChange = errors.New("no change")

type backendCall func(ctx context.Context, mutationID string) (RemoteCart, error)

// mutate applies the optimistic change, then sends the call under mutationID.
// A pending outcome keeps the optimistic state; any other failure restores the
// previous items unless a newer response already landed.
func (s *ServerStore) mutate(ctx context.Context, op string, key Key, mutationID string, optimistic func([]CartItem) ([]CartItem, error), call backendCall) error {
	return s.queue.run(ctx, op, func() error {
		s.mu.Lock()
		if _, ok := s.pending[mutationID]; ok {
			s.mu.Unlock()
			return s.resend(ctx, mutationID)
		}
		prev := s.items
		next, err := optimistic(cloneItems(prev))
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.issued++
		seq := s.issued
		s.items = next
		s.applied = seq
		s.pending[mutationID] = pendingMutation{op: op, key: key, call: call}
		s.mu.Unlock()

		err = s.send(ctx, op, key, seq, mutationID, call)
		if err == nil {
			return nil
		}
		if IsPending(err) {
			s.log.WithError(err).WithFields(logrus.Fields{
				"op":          op,
				"mutation_id": mutationID,
			}).Warn("Cart backend call did not complete, keeping optimistic state")
			return err
		}

		s.mu.Lock()
		delete(s.failed, mutationID)
		if s.applied == seq {
			s.items = prev
		}
		s.mu.Unlock()
		return err
	})
}

// Retry resends a pending mutation under its original id. It returns nil when
// the mutation already succeeded or is unknown, and the rejection when it
// failed after its caller stopped waiting. The cart is reloaded after a retry
// settles, since a replayed response can predate later changes.
func (s *ServerStore) Retry(ctx context.Context, mutationID string) error {
	return s.queue.run(ctx, "retry", func() error {
		return s.resend(ctx, mutationID)
	})
}

// resend must run inside the queue
func (s *ServerStore) resend(ctx context.Context, mutationID string) error {
	s.mu.Lock()
	if err, ok := s.failed[mutationID]; ok {
		delete(s.failed, mutationID)
		s.mu.Unlock()
		s.resync(ctx, "retry")
		return withMutationID(err, mutationID)
	}
	p, ok := s.pending[mutationID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"op":          p.op,
		"mutation_id": mutationID,
	}).Info("Retrying cart mutation")

	err := s.send(ctx, p.op, p.key, seq, mutationID, p.call)
	if IsPending(err) {
		return err
	}
	if err != nil {
		s.mu.Lock()
		delete(s.failed, mutationID)
		s.mu.Unlock()
	}
	s.resync(ctx, "retry")
	return err
}

// send dispatches call and settles the mutation as soon as its outcome is
// known, even if that is after the caller stopped waiting
func (s *ServerStore) send(ctx context.Context, op string, key Key, seq uint64, mutationID string, call backendCall) error {
	err := s.dispatch(ctx, op, key, seq, func(ctx context.Context) (RemoteCart, error) {
		remote, err := call(ctx, mutationID)
		if outcome := classify(op, key, err); !IsPending(outcome) {
			s.settle(mutationID, outcome)
		}
		return remote, err
	})
	return withMutationID(err, mutationID)
}

func (s *ServerStore) settle(mutationID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[mutationID]; !ok {
		return
	}
	delete(s.pending, mutationID)
	if err != nil {
		s.failed[mutationID] = err
	}
}

// resync reloads the cart from the backend; it must run inside the queue
func (s *ServerStore) resync(ctx context.Context, op string) {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	if err := s.dispatch(ctx, op, Key{}, seq, s.backend.Fetch); err != nil {
		s.log.WithError(err).Warn("Cart reload after retry failed")
	}
}

// Pending returns the ids of mutations whose outcome is not yet known
func (s *ServerStore) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func withMutationID(err error, mutationID string) error {
	var cartErr *Error
	if errors.As(err, &cartErr) && cartErr.MutationID == "" {
		cartErr.MutationID = mutationID
	}
	return err
}

// dispatch runs call detached from the caller's cancellation. A caller that
// stops waiting gets a transient error; the call's eventual response is still
// applied if it is not stale by then.
func (s *ServerStore) dispatch(ctx context.Context, op string, key Key, seq uint64, call func(context.Context) (RemoteCart, error)) error {
	done := make(chan error, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		remote, err := call(callCtx)
		if err == nil {
			s.apply(seq, remote)
		}
		done <- err
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return classify(op, key, err)
	case <-ctx.Done():
		return NewError(KindTransient, op, key, ctx.Err())
	case <-timer.C:
		return NewError(KindTransient, op, key, context.DeadlineExceeded)
	}
}

// apply installs remote unless a newer sequence was already applied
func (s *ServerStore) apply(seq uint64, remote RemoteCart) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.applied {
		s.log.WithFields(logrus.Fields{
			"seq":     seq,
			"applied": s.applied,
		}).Debug("Discarding stale cart response")
		return false
	}

	items := normalize(remote.Items)
	for i := range items {
		items[i].Invalid = s.invalid[items[i].Key()]
	}
	s.items = items
	s.version = remote.Version
	s.applied = seq
	return true
}

func classify(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != 0 {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTransient, op, key, err)
	}
	return NewError(KindPersistence, op, key, err)
}
