// internal/domain/inventory/entity.go
package inventory

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductStock is the catalog's stock record for one product. SizeInventory
// is stored as text because upstream writers do not always keep it valid.
type ProductStock struct {
	ProductID     string          `gorm:"primaryKey;size:64" json:"product_id"`
	Name          string          `gorm:"size:255" json:"name"`
	Image         string          `gorm:"size:500" json:"image"`
	Price         decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"price"`
	CountInStock  int             `gorm:"not null;default:0" json:"count_in_stock"`
	Sizes         []string        `gorm:"serializer:json;type:text" json:"sizes"`
	SizeInventory string          `gorm:"type:text" json:"size_inventory"`
	IsActive      bool            `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (ProductStock) TableName() string {
	return "product_stock"
}

// Snapshot converts the record to the shape served to cart clients
func (ps *ProductStock) Snapshot() Snapshot {
	return Snapshot{
		ProductID:     ps.ProductID,
		CountInStock:  ps.CountInStock,
		Sizes:         append([]string(nil), ps.Sizes...),
		SizeInventory: rawSizeInventory(ps.SizeInventory),
	}
}

// rawSizeInventory passes valid JSON through and wraps anything else as a JSON
// string, leaving interpretation to the reader.
func rawSizeInventory(stored string) json.RawMessage {
	if stored == "" {
		return nil
	}
	if json.Valid([]byte(stored)) {
		return json.RawMessage(stored)
	}
	quoted, err := json.Marshal(stored)
	if err != nil {
		return nil
	}
	return quoted
}
