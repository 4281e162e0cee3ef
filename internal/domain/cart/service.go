// internal/domain/cart/service.go
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductSource looks up the catalog record an added item refers to
type ProductSource interface {
	Product(ctx context.Context, productID string) (*inventory.ProductStock, error)
}

// Service is the cart backend for authenticated users. Every operation returns
// the user's full cart after the change.
type Service struct {
	db       *gorm.DB
	products ProductSource
	log      logrus.FieldLogger
}

// NewService creates a new cart service
func NewService(db *gorm.DB, products ProductSource, log logrus.FieldLogger) *Service {
	return &Service{
		db:       db,
		products: products,
		log:      log,
	}
}

// AddItemRequest represents add to cart request
type AddItemRequest struct {
	ProductID    string `json:"productId" binding:"required,max=64"`
	Size         string `json:"size" binding:"required,max=16"`
	Color        string `json:"color" binding:"max=32"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
	DisplayName  string `json:"displayName" binding:"max=255"`
	DisplayImage string `json:"displayImage" binding:"max=500"`
}

// Item converts the request to a cart item
func (r *AddItemRequest) Item() CartItem {
	return CartItem{
		ProductID:    r.ProductID,
		Size:         r.Size,
		Color:        r.Color,
		Quantity:     r.Quantity,
		DisplayName:  r.DisplayName,
		DisplayImage: r.DisplayImage,
	}
}

// UpdateItemRequest represents update cart item request
type UpdateItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// Get retrieves the user's cart
func (s *Service) Get(ctx context.Context, userID uint) (RemoteCart, error) {
	cart, err := s.list(s.db.WithContext(ctx), userID)
	if err != nil {
		return RemoteCart{}, s.fail("get", Key{}, err)
	}
	return cart, nil
}

// AddItem merges an item into the user's cart. The unit price comes from the
// catalog and the merged quantity is capped at the size's available stock.
func (s *Service) AddItem(ctx context.Context, userID uint, item CartItem) (RemoteCart, error) {
	key := item.Key()
	if err := ValidateItem("add", item); err != nil {
		return RemoteCart{}, err
	}

	product, err := s.products.Product(ctx, item.ProductID)
	if errors.Is(err, inventory.ErrProductNotFound) {
		return RemoteCart{}, Errorf(KindNotFound, "add", key, "product not found or inactive")
	}
	if err != nil {
		return RemoteCart{}, s.fail("add", key, err)
	}
	if !offersSize(product.Sizes, item.Size) {
		return RemoteCart{}, Errorf(KindValidation, "add", key, "size %q is not offered", item.Size)
	}
	available := product.Snapshot().AvailableFor(item.Size)

	var out RemoteCart
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ItemRecord
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND product_id = ? AND size = ? AND color = ?", userID, key.ProductID, key.Size, key.Color).
			Limit(1).
			Find(&existing)
		if result.Error != nil {
			return fmt.Errorf("failed to check existing cart item: %w", result.Error)
		}

		if result.RowsAffected > 0 {
			existing.Quantity = clampQuantity(existing.Quantity+item.Quantity, available, true)
			if item.DisplayName != "" {
				existing.DisplayName = item.DisplayName
			}
			if item.DisplayImage != "" {
				existing.DisplayImage = item.DisplayImage
			}
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("failed to update cart item: %w", err)
			}
		} else {
			var lastPosition int
			if err := tx.Model(&ItemRecord{}).
				Where("user_id = ?", userID).
				Select("COALESCE(MAX(position), 0)").
				Scan(&lastPosition).Error; err != nil {
				return fmt.Errorf("failed to read cart positions: %w", err)
			}

			record := ItemRecord{
				UserID:       userID,
				ProductID:    key.ProductID,
				Size:         key.Size,
				Color:        key.Color,
				Quantity:     clampQuantity(item.Quantity, available, true),
				UnitPrice:    product.Price,
				DisplayName:  firstNonEmpty(product.Name, item.DisplayName),
				DisplayImage: firstNonEmpty(product.Image, item.DisplayImage),
				Position:     lastPosition + 1,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to add cart item: %w", err)
			}
		}

		var err error
		out, err = s.list(tx, userID)
		return err
	})
	if err != nil {
		return RemoteCart{}, s.fail("add", key, err)
	}

	return out, nil
}

// UpdateQuantity sets the quantity of an existing item
func (s *Service) UpdateQuantity(ctx context.Context, userID uint, key Key, quantity int) (RemoteCart, error) {
	if err := ValidateKey("set_quantity", key); err != nil {
		return RemoteCart{}, err
	}
	if err := ValidateQuantity("set_quantity", key, quantity); err != nil {
		return RemoteCart{}, err
	}

	var out RemoteCart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ItemRecord{}).
			Where("user_id = ? AND product_id = ? AND size = ? AND color = ?", userID, key.ProductID, key.Size, key.Color).
			Updates(map[string]interface{}{"quantity": quantity, "updated_at": time.Now().UTC()})
		if result.Error != nil {
			return fmt.Errorf("failed to update cart item: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return Errorf(KindNotFound, "set_quantity", key, "item not in cart")
		}

		var err error
		out, err = s.list(tx, userID)
		return err
	})
	if err != nil {
		return RemoteCart{}, s.fail("set_quantity", key, err)
	}

	return out, nil
}

// RemoveItem deletes an item from the user's cart
func (s *Service) RemoveItem(ctx context.Context, userID uint, key Key) (RemoteCart, error) {
	var out RemoteCart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND product_id = ? AND size = ? AND color = ?", userID, key.ProductID, key.Size, key.Color).
			Delete(&ItemRecord{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove cart item: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return Errorf(KindNotFound, "remove", key, "item not in cart")
		}

		var err error
		out, err = s.list(tx, userID)
		return err
	})
	if err != nil {
		return RemoteCart{}, s.fail("remove", key, err)
	}

	return out, nil
}

// Clear removes all items from the user's cart
func (s *Service) Clear(ctx context.Context, userID uint) (RemoteCart, error) {
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&ItemRecord{}).Error; err != nil {
		return RemoteCart{}, s.fail("clear", Key{}, fmt.Errorf("failed to clear cart: %w", err))
	}
	return RemoteCart{Items: []CartItem{}, Version: emptyVersion}, nil
}

const emptyVersion = "0"

func (s *Service) list(tx *gorm.DB, userID uint) (RemoteCart, error) {
	var records []ItemRecord
	if err := tx.Where("user_id = ?", userID).Order("position ASC, id ASC").Find(&records).Error; err != nil {
		return RemoteCart{}, fmt.Errorf("failed to retrieve user cart: %w", err)
	}

	items := make([]CartItem, len(records))
	var latest time.Time
	for i := range records {
		items[i] = records[i].Item()
		if records[i].UpdatedAt.After(latest) {
			latest = records[i].UpdatedAt
		}
	}

	version := emptyVersion
	if len(records) > 0 {
		version = fmt.Sprintf("%d.%d", len(records), latest.UnixNano())
	}
	return RemoteCart{Items: items, Version: version}, nil
}

func (s *Service) fail(op string, key Key, err error) error {
	if KindOf(err) != 0 {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return NewError(KindConflict, op, key, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTransient, op, key, err)
	}
	s.log.WithError(err).WithField("op", op).Error("Cart backend operation failed")
	return NewError(KindPersistence, op, key, err)
}

func offersSize(sizes []string, size string) bool {
	for _, s := range sizes {
		if s == size {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
