// internal/domain/cart/backend.go
package cart

import "context"

// Backend is the remote cart API an authenticated cart talks to. Every call
// answers with the full authoritative item list. mutationID is sent as the
// idempotency key so a retried call is applied once.
type Backend interface {
	Fetch(ctx context.Context) (RemoteCart, error)
	AddItem(ctx context.Context, mutationID string, item CartItem) (RemoteCart, error)
	UpdateItem(ctx context.Context, mutationID string, key Key, quantity int) (RemoteCart, error)
	RemoveItem(ctx context.Context, mutationID string, key Key) (RemoteCart, error)
	ClearItems(ctx context.Context, mutationID string) (RemoteCart, error)
}
