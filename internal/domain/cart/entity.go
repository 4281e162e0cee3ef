// internal/domain/cart/entity.go
package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode tells which persistence backs a cart
type Mode string

const (
	ModeGuest Mode = "guest" // device-local, unauthenticated
	ModeUser  Mode = "user"  // server-held, authenticated
)

// Key identifies a line in a cart. A cart holds at most one item per key.
type Key struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color,omitempty"`
}

// String renders the key for logs and error messages
func (k Key) String() string {
	if k.Color == "" {
		return k.ProductID + "/" + k.Size
	}
	return k.ProductID + "/" + k.Size + "/" + k.Color
}

// IsZero reports whether the key is unset
func (k Key) IsZero() bool {
	return k == Key{}
}

// CartItem is one product+size+color line. UnitPrice is captured when the item
// is added; display fields are copied so the cart renders without the catalog.
type CartItem struct {
	ProductID    string          `json:"productId" validate:"required,max=64"`
	Size         string          `json:"size" validate:"required,max=16"`
	Color        string          `json:"color,omitempty" validate:"max=32"`
	Quantity     int             `json:"quantity" validate:"min=1"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	DisplayName  string          `json:"displayName,omitempty"`
	DisplayImage string          `json:"displayImage,omitempty"`
	Invalid      bool            `json:"invalid,omitempty"`
	// MigrationID is set on guest items once a login starts moving them, so a
	// later login resends the same add instead of a new one
	MigrationID  string          `json:"migrationId,omitempty"`
}

// Key returns the item's cart key
func (i CartItem) Key() Key {
	return Key{ProductID: i.ProductID, Size: i.Size, Color: i.Color}
}

// LineTotal returns quantity times unit price at full precision
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// RemoteCart is the authoritative item list returned by every cart backend call
type RemoteCart struct {
	Items   []CartItem `json:"items"`
	Version string     `json:"version"`
}

// ItemRecord represents a cart item stored in database for authenticated users
type ItemRecord struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       uint            `gorm:"not null;uniqueIndex:idx_cart_items_key,priority:1" json:"user_id"`
	ProductID    string          `gorm:"size:64;not null;uniqueIndex:idx_cart_items_key,priority:2" json:"product_id"`
	Size         string          `gorm:"size:16;not null;uniqueIndex:idx_cart_items_key,priority:3" json:"size"`
	Color        string          `gorm:"size:32;not null;default:'';uniqueIndex:idx_cart_items_key,priority:4" json:"color"`
	Quantity     int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"` // Price at time of adding
	DisplayName  string          `gorm:"size:255" json:"display_name"`
	DisplayImage string          `gorm:"size:500" json:"display_image"`
	Position     int             `gorm:"not null;index" json:"position"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName overrides the table name
func (ItemRecord) TableName() string {
	return "cart_items"
}

// Item converts the stored row to a cart item
func (r *ItemRecord) Item() CartItem {
	return CartItem{
		ProductID:    r.ProductID,
		Size:         r.Size,
		Color:        r.Color,
		Quantity:     r.Quantity,
		UnitPrice:    r.UnitPrice,
		DisplayName:  r.DisplayName,
		DisplayImage: r.DisplayImage,
	}
}
