// internal/domain/cart/queue.go
package cart

import "context"

// opQueue runs one operation at a time per cart. Waiters are admitted in the
// order they blocked on the channel; a cancelled waiter leaves without running.
type opQueue struct {
	slot chan struct{}
}

func newOpQueue() opQueue {
	return opQueue{slot: make(chan struct{}, 1)}
}

func (q opQueue) run(ctx context.Context, op string, fn func() error) error {
	select {
	case q.slot <- struct{}{}:
	case <-ctx.Done():
		return NewError(KindTransient, op, Key{}, ctx.Err())
	}
	defer func() { <-q.slot }()
	return fn()
}
