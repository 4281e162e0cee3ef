// internal/domain/pricing/calculator.go
package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/your-org/storefront-cart/internal/config"
	"github.com/your-org/storefront-cart/internal/domain/cart"
)

// Rules are the shipping and tax parameters applied to a cart
type Rules struct {
	FreeShippingThreshold decimal.Decimal
	FlatShipping          decimal.Decimal
	TaxRate               decimal.Decimal
}

// DefaultRules: free shipping from 100, otherwise 10 flat, 7% tax
func DefaultRules() Rules {
	return Rules{
		FreeShippingThreshold: decimal.NewFromInt(100),
		FlatShipping:          decimal.NewFromInt(10),
		TaxRate:               decimal.RequireFromString("0.07"),
	}
}

// RulesFromConfig reads the rules from configuration
func RulesFromConfig(cfg config.PricingConfig) Rules {
	return Rules{
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		FlatShipping:          cfg.FlatShipping,
		TaxRate:               cfg.TaxRate,
	}
}

// Totals are kept at full precision; Display rounds
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// DisplayTotals are the totals as two-decimal strings
type DisplayTotals struct {
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

// Display rounds each amount to cents
func (t Totals) Display() DisplayTotals {
	return DisplayTotals{
		Subtotal: t.Subtotal.StringFixed(2),
		Shipping: t.Shipping.StringFixed(2),
		Tax:      t.Tax.StringFixed(2),
		Total:    t.Total.StringFixed(2),
	}
}

// Calculator computes cart totals
type Calculator struct {
	rules Rules
}

// NewCalculator creates a calculator for rules
func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Calculate sums line totals, then applies shipping and tax. Tax is rounded
// half-up to cents and the free shipping threshold is compared against the
// subtotal in cents, the amount the shopper sees; nothing else is rounded
// before display.
func (c *Calculator) Calculate(items []cart.CartItem) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	shipping := c.rules.FlatShipping
	if subtotal.Round(2).GreaterThanOrEqual(c.rules.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(c.rules.TaxRate).Round(2)

	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}
