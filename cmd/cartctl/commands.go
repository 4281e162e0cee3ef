package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/checkout"
	"github.com/your-org/storefront-cart/internal/domain/stock"
	"github.com/your-org/storefront-cart/internal/infrastructure/messaging"
)

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "stock":
		return a.stock(ctx, args)
	}

	if err := a.resume(ctx); err != nil {
		return err
	}
	store := a.session.Active()

	switch command {
	case "list":
		a.printItems(store)
		return nil
	case "add":
		return a.add(ctx, store, args)
	case "set":
		return a.set(ctx, store, args)
	case "remove":
		if err := needArgs(args, 2, "remove <product> <size>"); err != nil {
			return err
		}
		return settle(ctx, store, store.Remove(ctx, a.key(args[0], args[1])))
	case "clear":
		return settle(ctx, store, store.Clear(ctx))
	case "purge":
		return a.purge(ctx, store)
	case "reconcile":
		report := a.reconciler.Reconcile(ctx, store)
		printReport(report)
		return report.LookupErr
	case "watch":
		return a.watch(ctx)
	case "totals":
		a.printTotals(store)
		return nil
	case "checkout":
		return a.checkoutCart(ctx, store)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "login <token>"); err != nil {
		return err
	}
	report, err := a.session.Login(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.files.Write(sessionKey, []byte(args[0])); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	reportMigration(report)
	fmt.Printf("Signed in, %d item(s) in cart\n", len(a.session.Active().List()))
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.files.Write(sessionKey, nil); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Printf("Signed out, %d item(s) in guest cart\n", len(a.session.Active().List()))
	return nil
}

func (a *app) add(ctx context.Context, store cart.Store, args []string) error {
	if err := needArgs(args, 3, "add <product> <size> <qty>"); err != nil {
		return err
	}
	quantity, err := strconv.Atoi(args[2])
	if err != nil {
		return cart.Errorf(cart.KindValidation, "add", cart.Key{}, "quantity %q is not a number", args[2])
	}
	price, err := decimal.NewFromString(a.opts.price)
	if err != nil {
		return cart.Errorf(cart.KindValidation, "add", cart.Key{}, "price %q is not a number", a.opts.price)
	}

	// refresh stock so the quantity is clamped against current availability
	a.reconciler.Reconcile(ctx, store)

	err = store.Add(ctx, cart.CartItem{
		ProductID:   args[0],
		Size:        args[1],
		Color:       a.opts.color,
		Quantity:    quantity,
		UnitPrice:   price,
		DisplayName: a.opts.name,
	})
	if err := settle(ctx, store, err); err != nil {
		return err
	}
	a.printItems(store)
	return nil
}

func (a *app) set(ctx context.Context, store cart.Store, args []string) error {
	if err := needArgs(args, 3, "set <product> <size> <qty>"); err != nil {
		return err
	}
	quantity, err := strconv.Atoi(args[2])
	if err != nil {
		return cart.Errorf(cart.KindValidation, "set_quantity", cart.Key{}, "quantity %q is not a number", args[2])
	}
	if err := settle(ctx, store, store.SetQuantity(ctx, a.key(args[0], args[1]), quantity)); err != nil {
		return err
	}
	a.printItems(store)
	return nil
}

func (a *app) purge(ctx context.Context, store cart.Store) error {
	// flag items the catalog no longer offers before purging them
	a.reconciler.Reconcile(ctx, store)

	report := cart.PurgeInvalid(ctx, store)
	for _, key := range report.Removed {
		fmt.Printf("removed %s\n", key)
	}
	for key, err := range report.Failed {
		fmt.Printf("could not remove %s: %v\n", key, err)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d invalid item(s) could not be removed", len(report.Failed))
	}
	return nil
}

func (a *app) stock(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "stock <product>"); err != nil {
		return err
	}
	snapshot, err := a.reconciler.Check(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s  %d in stock\n", snapshot.ProductID, snapshot.CountInStock)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIZE\tAVAILABLE")
	for _, size := range snapshot.Sizes {
		fmt.Fprintf(w, "%s\t%d\n", size, snapshot.AvailableFor(size))
	}
	return w.Flush()
}

// watch reconciles the active cart on the configured interval until interrupted
func (a *app) watch(ctx context.Context) error {
	err := a.reconciler.Run(ctx, a.session, a.cfg.Stock.ReconcileInterval)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) checkoutCart(ctx context.Context, store cart.Store) error {
	report := a.reconciler.Reconcile(ctx, store)
	printReport(report)

	var publisher checkout.Publisher = printPublisher{}
	if a.opts.publish {
		kafka, err := messaging.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.CheckoutTopic, a.log)
		if err != nil {
			return err
		}
		defer kafka.Close()
		publisher = kafka
	}

	service := checkout.NewService(a.calculator, a.reconciler.Index(), publisher, a.cfg.Stock.StaleGracePeriod, a.log)
	handoff, err := service.Prepare(store, checkout.Request{
		ShippingAddress: checkout.Address{
			FullName:   a.opts.shipName,
			Line1:      a.opts.shipLine1,
			City:       a.opts.shipCity,
			PostalCode: a.opts.shipPostal,
			Country:    a.opts.shipCountry,
		},
		PaymentMethod: a.opts.payment,
	})
	if err != nil {
		return err
	}
	return service.Submit(ctx, handoff)
}

const settleAttempts = 2

// settle retries an unconfirmed mutation under its own id. Repeating the
// command instead would send a new mutation.
func settle(ctx context.Context, store cart.Store, err error) error {
	retrier, ok := store.(cart.Retrier)
	id := cart.MutationIDOf(err)
	for attempt := 0; ok && id != "" && attempt < settleAttempts && cart.IsPending(err); attempt++ {
		err = retrier.Retry(ctx, id)
	}
	return err
}

func (a *app) key(productID, size string) cart.Key {
	return cart.Key{ProductID: productID, Size: size, Color: a.opts.color}
}

func (a *app) printItems(store cart.Store) {
	items := store.List()
	fmt.Printf("%s cart, %d item(s)\n", store.Mode(), len(items))
	if len(items) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tQTY\tPRICE\tLINE\tSTATUS")
	for _, item := range items {
		status := "-"
		if entry, ok := a.reconciler.Index().Get(item.Key()); ok {
			status = string(entry.Status)
			if entry.Stale {
				status += " (stale)"
			}
		}
		if item.Invalid {
			status = string(stock.StatusInvalid)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", item.Key(), item.Quantity,
			item.UnitPrice.StringFixed(2), item.LineTotal().StringFixed(2), status)
	}
	w.Flush()
}

func (a *app) printTotals(store cart.Store) {
	totals := a.calculator.Calculate(store.List()).Display()
	fmt.Printf("Subtotal  %s\nShipping  %s\nTax       %s\nTotal     %s\n",
		totals.Subtotal, totals.Shipping, totals.Tax, totals.Total)
}

func printReport(report *stock.Report) {
	for _, c := range report.Corrections {
		fmt.Printf("%s reduced from %d to %d (%d available)\n", c.Key, c.From, c.To, c.Available)
	}
	for _, key := range report.Invalid {
		fmt.Printf("%s is no longer available\n", key)
	}
	for _, key := range report.Pending {
		fmt.Printf("%s stock not checked yet\n", key)
	}
	if report.Stale {
		fmt.Println("stock data could not be refreshed; showing last known values")
	}
	for key, err := range report.Failures {
		fmt.Printf("%s could not be corrected: %v\n", key, err)
	}
	if report.Blocked() {
		fmt.Println("checkout is blocked until these items are resolved")
	}
}

func reportMigration(report cart.MigrationReport) {
	if len(report.Migrated) > 0 {
		fmt.Printf("moved %d guest item(s) into your cart\n", len(report.Migrated))
	}
	for _, f := range report.Failed {
		fmt.Printf("kept %s in the guest cart: %v\n", f.Key, f.Err)
	}
	for _, p := range report.Pending {
		fmt.Printf("%s may not have reached your cart; it will be resent on the next login\n", p.Key)
	}
	if report.CleanupErr != nil {
		fmt.Printf("guest cart cleanup failed: %v\n", report.CleanupErr)
	}
}

func needArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return cart.Errorf(cart.KindValidation, "args", cart.Key{}, "usage: cartctl %s", usage)
	}
	return nil
}

// printPublisher writes the handoff to stdout for local use
type printPublisher struct{}

func (printPublisher) Publish(_ context.Context, h *checkout.Handoff) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(h)
}
