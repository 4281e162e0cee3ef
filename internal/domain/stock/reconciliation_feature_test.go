package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	"github.com/your-org/storefront-cart/internal/infrastructure/persistence"
	"github.com/your-org/storefront-cart/internal/pkg/logger"
)

type reconciliationContext struct {
	catalog    *fakeCatalog
	reconciler *Reconciler
	store      *cart.GuestStore
	report     *Report
}

func (c *reconciliationContext) reset() error {
	c.catalog = newFakeCatalog()
	c.reconciler = NewReconciler(c.catalog, NewIndex(), Options{}, logger.Discard())
	store, err := cart.NewGuestStore(persistence.NewMemory(), "guest_cart", c.reconciler, logger.Discard())
	if err != nil {
		return err
	}
	c.store = store
	c.report = nil
	return nil
}

func (c *reconciliationContext) productHasStockAcrossSizes(productID string, count int, sizes string) error {
	list := strings.Split(sizes, ",")
	allocation, err := inventory.Allocate(count, list)
	if err != nil {
		return err
	}
	c.catalog.put(productID, count, list, string(inventory.EncodeSizeInventory(allocation)))
	return nil
}

func (c *reconciliationContext) theCartHolds(quantity int, productID, size string) error {
	return c.store.Add(context.Background(), cart.CartItem{
		ProductID: productID,
		Size:      size,
		Quantity:  quantity,
		UnitPrice: decimal.NewFromInt(20),
	})
}

func (c *reconciliationContext) theCatalogIsUnavailable() error {
	c.catalog.setFail(errors.New("catalog unavailable"))
	return nil
}

func (c *reconciliationContext) theCartIsReconciled() error {
	c.report = c.reconciler.Reconcile(context.Background(), c.store)
	return nil
}

func (c *reconciliationContext) theCartHoldsNow(quantity int, productID, size string) error {
	for _, item := range c.store.List() {
		if item.ProductID == productID && item.Size == size {
			if item.Quantity != quantity {
				return fmt.Errorf("expected quantity %d, got %d", quantity, item.Quantity)
			}
			return nil
		}
	}
	return fmt.Errorf("no %s size %s in cart", productID, size)
}

func (c *reconciliationContext) entry(key string) (Entry, error) {
	if c.report == nil {
		return Entry{}, errors.New("cart was not reconciled")
	}
	e, ok := c.report.Statuses[key]
	if !ok {
		return Entry{}, fmt.Errorf("no status for %s", key)
	}
	return e, nil
}

func (c *reconciliationContext) hasStatus(key, status string) error {
	e, err := c.entry(key)
	if err != nil {
		return err
	}
	if string(e.Status) != status {
		return fmt.Errorf("expected %s to be %s, got %s", key, status, e.Status)
	}
	return nil
}

func (c *reconciliationContext) showsAvailableAndIsStale(key string, available int) error {
	e, err := c.entry(key)
	if err != nil {
		return err
	}
	if e.AvailableStock != available || !e.Stale {
		return fmt.Errorf("expected %d available and stale, got %d stale=%v", available, e.AvailableStock, e.Stale)
	}
	return nil
}

func (c *reconciliationContext) checkoutIsBlocked() error {
	if c.report == nil || !c.report.Blocked() {
		return errors.New("expected checkout to be blocked")
	}
	return nil
}

func (c *reconciliationContext) checkoutIsNotBlocked() error {
	if c.report == nil || c.report.Blocked() {
		return errors.New("expected checkout to be allowed")
	}
	return nil
}

func InitializeReconciliationScenario(ctx *godog.ScenarioContext) {
	tc := &reconciliationContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, tc.reset()
	})

	// Given steps
	ctx.Step(`^product "([^"]*)" has (\d+) in stock across sizes "([^"]*)"$`, tc.productHasStockAcrossSizes)
	ctx.Step(`^the cart holds (\d+) of "([^"]*)" size "([^"]*)"$`, func(q int, p, s string) error {
		if tc.report == nil {
			return tc.theCartHolds(q, p, s)
		}
		return tc.theCartHoldsNow(q, p, s)
	})
	ctx.Step(`^the catalog is unavailable$`, tc.theCatalogIsUnavailable)

	// When steps
	ctx.Step(`^the cart is reconciled$`, tc.theCartIsReconciled)

	// Then steps
	ctx.Step(`^"([^"]*)" has status "([^"]*)"$`, tc.hasStatus)
	ctx.Step(`^"([^"]*)" shows (\d+) available and is stale$`, tc.showsAvailableAndIsStale)
	ctx.Step(`^checkout is blocked$`, tc.checkoutIsBlocked)
	ctx.Step(`^checkout is not blocked$`, tc.checkoutIsNotBlocked)
}

func TestReconciliationFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeReconciliationScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/reconciliation.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
