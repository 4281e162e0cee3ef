package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "guest_cart", cfg.Cart.GuestStorageKey)
	assert.Equal(t, 5, cfg.Stock.LowStockThreshold)
	assert.Equal(t, "100", cfg.Pricing.FreeShippingThreshold.String())
	assert.Equal(t, "10", cfg.Pricing.FlatShipping.String())
	assert.Equal(t, "0.07", cfg.Pricing.TaxRate.String())
	assert.Equal(t, 5*time.Second, cfg.Cart.RequestTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "3")
	t.Setenv("TAX_RATE", "0.0825")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("STOCK_STALE_GRACE", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Stock.LowStockThreshold)
	assert.Equal(t, "0.0825", cfg.Pricing.TaxRate.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Second, cfg.Stock.StaleGracePeriod)
}

func TestLoad_InvalidDecimalFallsBack(t *testing.T) {
	t.Setenv("FLAT_SHIPPING", "ten dollars")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "10", cfg.Pricing.FlatShipping.String())
}

func TestValidate_ShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidate_NegativePricing(t *testing.T) {
	t.Setenv("TAX_RATE", "-0.01")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pricing")
}

func TestValidate_ReconcileInterval(t *testing.T) {
	t.Setenv("STOCK_RECONCILE_INTERVAL", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STOCK_RECONCILE_INTERVAL")
}
