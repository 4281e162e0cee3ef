package cart

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&inventory.ProductStock{}, &ItemRecord{}))

	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return db, cleanup
}

func seedProduct(t *testing.T, db *gorm.DB, id string, count int, sizes []string) {
	t.Helper()
	allocation, err := inventory.Allocate(count, sizes)
	require.NoError(t, err)
	require.NoError(t, db.Create(&inventory.ProductStock{
		ProductID:     id,
		Name:          "Product " + id,
		Price:         decimal.RequireFromString("60.00"),
		CountInStock:  count,
		Sizes:         sizes,
		SizeInventory: string(inventory.EncodeSizeInventory(allocation)),
		IsActive:      true,
	}).Error)
}

func TestService_Postgres(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProduct(t, db, "p1", 10, []string{"S", "M", "L"})
	seedProduct(t, db, "p2", 3, []string{"M"})

	svc := NewService(db, inventory.NewService(db, discardLogger()), discardLogger())
	const userID = 42

	t.Run("add uses catalog price and keeps insertion order", func(t *testing.T) {
		_, err := svc.AddItem(ctx, userID, CartItem{ProductID: "p1", Size: "M", Quantity: 1})
		require.NoError(t, err)
		cart, err := svc.AddItem(ctx, userID, CartItem{ProductID: "p2", Size: "M", Quantity: 1})
		require.NoError(t, err)

		require.Len(t, cart.Items, 2)
		assert.Equal(t, "p1", cart.Items[0].ProductID)
		assert.Equal(t, "p2", cart.Items[1].ProductID)
		assert.True(t, cart.Items[0].UnitPrice.Equal(decimal.RequireFromString("60")))
		assert.Equal(t, "Product p1", cart.Items[0].DisplayName)
		assert.NotEqual(t, emptyVersion, cart.Version)
	})

	t.Run("merged add is capped at size stock", func(t *testing.T) {
		cart, err := svc.AddItem(ctx, userID, CartItem{ProductID: "p2", Size: "M", Quantity: 10})
		require.NoError(t, err)
		assert.Equal(t, 3, cart.Items[1].Quantity)
	})

	t.Run("unknown product and size are rejected", func(t *testing.T) {
		_, err := svc.AddItem(ctx, userID, CartItem{ProductID: "nope", Size: "M", Quantity: 1})
		assert.True(t, IsKind(err, KindNotFound))

		_, err = svc.AddItem(ctx, userID, CartItem{ProductID: "p1", Size: "XXL", Quantity: 1})
		assert.True(t, IsKind(err, KindValidation))
	})

	t.Run("update and remove", func(t *testing.T) {
		key := Key{ProductID: "p1", Size: "M"}
		cart, err := svc.UpdateQuantity(ctx, userID, key, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, cart.Items[0].Quantity)

		cart, err = svc.RemoveItem(ctx, userID, key)
		require.NoError(t, err)
		assert.Len(t, cart.Items, 1)

		_, err = svc.RemoveItem(ctx, userID, key)
		assert.True(t, IsKind(err, KindNotFound))

		_, err = svc.UpdateQuantity(ctx, userID, key, 2)
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("clear", func(t *testing.T) {
		cart, err := svc.Clear(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, cart.Items)

		cart, err = svc.Get(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, cart.Items)
	})
}
