// internal/domain/inventory/allocator.go
package inventory

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoSizes is returned when an allocation is requested for a product without declared sizes
var ErrNoSizes = errors.New("cannot allocate without declared sizes")

// ErrDuplicateSize is returned when the declared sizes name one size twice
var ErrDuplicateSize = errors.New("declared sizes contain a duplicate")

// SizeInventory is the per-size breakdown of a product's aggregate stock
type SizeInventory map[string]int

// Total returns the sum of all per-size quantities
func (si SizeInventory) Total() int {
	total := 0
	for _, qty := range si {
		total += qty
	}
	return total
}

// Allocate splits count evenly across sizes. The remainder goes one unit at a
// time to the leading sizes in list order, so the result always sums to count.
func Allocate(count int, sizes []string) (SizeInventory, error) {
	if len(sizes) == 0 {
		return nil, ErrNoSizes
	}
	if count < 0 {
		return nil, fmt.Errorf("cannot allocate negative stock: %d", count)
	}

	seen := make(map[string]bool, len(sizes))
	for _, size := range sizes {
		if seen[size] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSize, size)
		}
		seen[size] = true
	}

	k := len(sizes)
	base := count / k
	remainder := count % k

	result := make(SizeInventory, k)
	for i, size := range sizes {
		qty := base
		if i < remainder {
			qty++
		}
		result[size] = qty
	}

	return result, nil
}

// RepairIfNeeded returns existing untouched when it already describes exactly
// the declared sizes with integer values summing to count. Anything else is
// thrown away and replaced by a fresh Allocate result; repaired reports which
// of the two happened.
func RepairIfNeeded(existing map[string]interface{}, count int, sizes []string) (si SizeInventory, repaired bool, err error) {
	if current, ok := conforms(existing, count, sizes); ok {
		return current, false, nil
	}

	fresh, err := Allocate(count, sizes)
	if err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}

func conforms(existing map[string]interface{}, count int, sizes []string) (SizeInventory, bool) {
	if existing == nil || len(existing) != len(sizes) {
		return nil, false
	}

	current := make(SizeInventory, len(existing))
	sum := 0
	for _, size := range sizes {
		raw, ok := existing[size]
		if !ok {
			return nil, false
		}
		qty, ok := asInteger(raw)
		if !ok {
			return nil, false
		}
		current[size] = qty
		sum += qty
	}

	// duplicate entries in sizes would leave keys unchecked
	if len(current) != len(existing) || sum != count {
		return nil, false
	}
	return current, true
}

// asInteger accepts the numeric shapes a decoded mapping can carry and reports
// whether v holds an integral value.
func asInteger(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
