// internal/domain/stock/status.go
package stock

// Status is the stock state of one cart item
type Status string

const (
	StatusInStock      Status = "in_stock"
	StatusLowStock     Status = "low_stock"
	StatusInsufficient Status = "insufficient"
	StatusOutOfStock   Status = "out_of_stock"
	StatusInvalid      Status = "invalid"
)

// DefaultLowStockThreshold is the available count at or below which an
// otherwise satisfiable item is reported as low stock
const DefaultLowStockThreshold = 5

// Classify derives an item's status from available stock and its quantity
func Classify(available, quantity, lowStockThreshold int) Status {
	switch {
	case available <= 0:
		return StatusOutOfStock
	case quantity > available:
		return StatusInsufficient
	case available <= lowStockThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// BlocksCheckout reports whether an item in this state keeps the cart from
// checking out
func (s Status) BlocksCheckout() bool {
	switch s {
	case StatusOutOfStock, StatusInsufficient, StatusInvalid:
		return true
	default:
		return false
	}
}

func (s Status) severity() int {
	switch s {
	case StatusInvalid:
		return 5
	case StatusOutOfStock:
		return 4
	case StatusInsufficient:
		return 3
	case StatusLowStock:
		return 2
	case StatusInStock:
		return 1
	default:
		return 0
	}
}
