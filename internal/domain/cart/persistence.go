// internal/domain/cart/persistence.go
package cart

import "errors"

// ErrNotPersisted is returned by Persistence.Read when nothing is stored
var ErrNotPersisted = errors.New("nothing persisted under key")

// Persistence is the device-local storage behind a guest cart
type Persistence interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
}
