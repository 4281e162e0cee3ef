// internal/domain/inventory/snapshot.go
package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// ErrProductNotFound is returned by catalog lookups for unknown or deleted products
var ErrProductNotFound = errors.New("product not found")

// Snapshot is the catalog's view of a product's stock at one point in time.
// SizeInventory is kept raw: upstream data may be a JSON object, a JSON string
// holding an encoded object, or garbage.
type Snapshot struct {
	ProductID     string          `json:"productId"`
	CountInStock  int             `json:"countInStock"`
	Sizes         []string        `json:"sizes"`
	SizeInventory json.RawMessage `json:"sizeInventory,omitempty"`
}

// AvailableFor resolves the available stock for one size. A well-formed
// mapping entry wins, then an entry from a textual encoding of the mapping,
// then an even split of the aggregate count, and finally zero.
func (s Snapshot) AvailableFor(size string) int {
	if mapping, ok := objectMapping(s.SizeInventory); ok {
		if qty, ok := nonNegativeInteger(mapping[size]); ok {
			return qty
		}
	}

	if mapping, ok := textualMapping(s.SizeInventory); ok {
		if qty, ok := nonNegativeInteger(mapping[size]); ok {
			return qty
		}
	}

	if len(s.Sizes) > 0 && s.CountInStock >= 0 {
		return s.CountInStock / len(s.Sizes)
	}

	return 0
}

// Mapping decodes SizeInventory from either supported shape
func (s Snapshot) Mapping() (map[string]interface{}, bool) {
	return DecodeSizeInventory(s.SizeInventory)
}

// DecodeSizeInventory decodes a raw mapping given as a JSON object or as a
// JSON string containing one.
func DecodeSizeInventory(raw json.RawMessage) (map[string]interface{}, bool) {
	if mapping, ok := objectMapping(raw); ok {
		return mapping, true
	}
	return textualMapping(raw)
}

// EncodeSizeInventory renders a mapping as a JSON object
func EncodeSizeInventory(si SizeInventory) json.RawMessage {
	data, err := json.Marshal(si)
	if err != nil {
		return nil
	}
	return data
}

func objectMapping(raw json.RawMessage) (map[string]interface{}, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var mapping map[string]interface{}
	if err := dec.Decode(&mapping); err != nil {
		return nil, false
	}
	return mapping, true
}

func textualMapping(raw json.RawMessage) (map[string]interface{}, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return nil, false
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return nil, false
	}
	return objectMapping(json.RawMessage(text))
}

func nonNegativeInteger(v interface{}) (int, bool) {
	if v == nil {
		return 0, false
	}

	if text, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}

	if num, ok := v.(json.Number); ok {
		if n, err := strconv.Atoi(num.String()); err == nil {
			return checkNonNegative(n)
		}
		f, err := num.Float64()
		if err != nil {
			return 0, false
		}
		n, ok := asInteger(f)
		if !ok {
			return 0, false
		}
		return checkNonNegative(n)
	}

	n, ok := asInteger(v)
	if !ok {
		return 0, false
	}
	return checkNonNegative(n)
}

func checkNonNegative(n int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	return n, true
}
