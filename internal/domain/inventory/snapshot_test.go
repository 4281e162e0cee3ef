package inventory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_AvailableFor(t *testing.T) {
	sizes := []string{"S", "M", "L"}

	tests := []struct {
		name     string
		raw      string
		count    int
		sizes    []string
		size     string
		expected int
	}{
		{"object entry", `{"S": 2, "M": 9, "L": 0}`, 11, sizes, "M", 9},
		{"object zero entry", `{"S": 2, "M": 9, "L": 0}`, 11, sizes, "L", 0},
		{"integral float entry", `{"S": 4.0}`, 4, sizes, "S", 4},
		{"numeric string entry", `{"S": "6"}`, 6, sizes, "S", 6},
		{"encoded text mapping", `"{\"S\": 1, \"M\": 3}"`, 4, sizes, "M", 3},
		{"negative entry falls back to even split", `{"M": -2}`, 9, sizes, "M", 3},
		{"fractional entry falls back", `{"M": 1.5}`, 9, sizes, "M", 3},
		{"missing size falls back", `{"S": 9}`, 10, sizes, "M", 3},
		{"garbage falls back", `"not a mapping"`, 7, sizes, "S", 2},
		{"empty mapping falls back", ``, 6, sizes, "L", 2},
		{"no sizes and no mapping", ``, 6, nil, "L", 0},
		{"negative count without mapping", ``, -3, sizes, "S", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Snapshot{
				ProductID:     "p1",
				CountInStock:  tt.count,
				Sizes:         tt.sizes,
				SizeInventory: json.RawMessage(tt.raw),
			}
			assert.Equal(t, tt.expected, s.AvailableFor(tt.size))
		})
	}
}

func TestDecodeSizeInventory(t *testing.T) {
	mapping, ok := DecodeSizeInventory(json.RawMessage(`"{\"S\": 1}"`))
	require.True(t, ok)
	assert.Contains(t, mapping, "S")

	_, ok = DecodeSizeInventory(json.RawMessage(`[1,2,3]`))
	assert.False(t, ok)

	_, ok = DecodeSizeInventory(nil)
	assert.False(t, ok)
}

func TestProductStock_SnapshotWrapsInvalidJSON(t *testing.T) {
	record := &ProductStock{
		ProductID:     "p1",
		CountInStock:  6,
		Sizes:         []string{"S", "M"},
		SizeInventory: `{S:3,M:3`,
	}

	snapshot := record.Snapshot()
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sizeInventory":"{S:3,M:3"`)
	assert.Equal(t, 3, snapshot.AvailableFor("S"))
}

func TestEncodeSizeInventory_RoundTrip(t *testing.T) {
	raw := EncodeSizeInventory(SizeInventory{"S": 4, "M": 3})
	s := Snapshot{CountInStock: 7, Sizes: []string{"S", "M"}, SizeInventory: raw}
	assert.Equal(t, 4, s.AvailableFor("S"))
	assert.Equal(t, 3, s.AvailableFor("M"))
}
