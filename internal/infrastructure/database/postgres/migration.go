// internal/infrastructure/database/postgres/migration.go
package postgres

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	"gorm.io/gorm"
)

// Migration handles database migrations
type Migration struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewMigration creates a new migration instance
func NewMigration(db *gorm.DB, log logrus.FieldLogger) *Migration {
	return &Migration{
		db:  db,
		log: log.WithField("component", "migration"),
	}
}

// RunAutoMigrations runs GORM auto-migrations for all models
func (m *Migration) RunAutoMigrations() error {
	m.log.Info("Running database auto-migrations")

	models := []interface{}{
		&inventory.ProductStock{},
		&cart.ItemRecord{},
	}

	for _, model := range models {
		m.log.Debugf("Migrating model: %T", model)
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	m.log.Info("Database auto-migrations completed")
	return nil
}

// CreateIndexes creates additional indexes for cart and stock queries
func (m *Migration) CreateIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cart_items_user_position ON cart_items(user_id, position)",
		"CREATE INDEX IF NOT EXISTS idx_cart_items_product ON cart_items(product_id)",
		"CREATE INDEX IF NOT EXISTS idx_product_stock_active ON product_stock(is_active)",
	}

	successCount := 0
	failCount := 0
	for _, indexSQL := range indexes {
		if err := m.db.Exec(indexSQL).Error; err != nil {
			m.log.WithError(err).Warn("Failed to create index")
			failCount++
		} else {
			successCount++
		}
	}

	m.log.WithFields(logrus.Fields{
		"created": successCount,
		"failed":  failCount,
	}).Info("Indexes created")
	return nil
}

type seedProduct struct {
	id    string
	name  string
	price string
	count int
	sizes []string
}

var devProducts = []seedProduct{
	{"tee-classic", "Classic Tee", "25.00", 40, []string{"S", "M", "L", "XL"}},
	{"hoodie-zip", "Zip Hoodie", "60.00", 9, []string{"S", "M", "L"}},
	{"cap-logo", "Logo Cap", "18.50", 3, []string{"OS"}},
	{"sneaker-run", "Runner Sneaker", "89.99", 0, []string{"40", "41", "42", "43"}},
}

// SeedInitialData inserts development catalog stock. Existing products are left alone.
func (m *Migration) SeedInitialData() error {
	m.log.Info("Seeding initial stock data")

	for _, p := range devProducts {
		var existing inventory.ProductStock
		err := m.db.Where("product_id = ?", p.id).First(&existing).Error
		if err == nil {
			m.log.WithField("product_id", p.id).Debug("Product already exists")
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check product %s: %w", p.id, err)
		}

		allocation, err := inventory.Allocate(p.count, p.sizes)
		if err != nil {
			return fmt.Errorf("failed to allocate stock for %s: %w", p.id, err)
		}

		record := inventory.ProductStock{
			ProductID:     p.id,
			Name:          p.name,
			Price:         decimal.RequireFromString(p.price),
			CountInStock:  p.count,
			Sizes:         p.sizes,
			SizeInventory: string(inventory.EncodeSizeInventory(allocation)),
			IsActive:      true,
		}
		if err := m.db.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.id, err)
		}
		m.log.WithField("product_id", p.id).Info("Created product stock")
	}

	return nil
}

// GetTableInfo logs the record count of each table
func (m *Migration) GetTableInfo() error {
	var tables []string
	if err := m.db.Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename").Scan(&tables).Error; err != nil {
		return err
	}

	for _, table := range tables {
		var count int64
		m.db.Table(table).Count(&count)
		m.log.WithFields(logrus.Fields{
			"table":   table,
			"records": count,
		}).Info("Table info")
	}
	return nil
}
