// cmd/cartctl/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/your-org/storefront-cart/internal/config"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/pricing"
	"github.com/your-org/storefront-cart/internal/domain/stock"
	"github.com/your-org/storefront-cart/internal/infrastructure/cartapi"
	"github.com/your-org/storefront-cart/internal/infrastructure/catalog"
	"github.com/your-org/storefront-cart/internal/infrastructure/database/redis"
	"github.com/your-org/storefront-cart/internal/infrastructure/persistence"
	"github.com/your-org/storefront-cart/internal/pkg/logger"
)

const usage = `Usage: cartctl [flags] <command> [args]

Commands:
  list                              show cart items
  add <product> <size> <qty>        add an item (--color, --price, --name)
  set <product> <size> <qty>        change an item's quantity (--color)
  remove <product> <size>           remove an item (--color)
  clear                             empty the cart
  purge                             remove items flagged invalid
  reconcile                         check items against catalog stock
  watch                             reconcile repeatedly until interrupted
  stock <product>                   show a product's per-size stock
  totals                            show subtotal, shipping, tax and total
  login <token>                     switch to the user cart, migrating guest items
  logout                            switch back to the guest cart
  checkout                          validate and hand the cart to order placement

Flags:
`

const (
	sessionKey = "session"
	guestIDKey = "guest_id"
)

type options struct {
	stateDir string
	store    string
	apiURL   string
	token    string
	logLevel string

	color string
	price string
	name  string

	shipName    string
	shipLine1   string
	shipCity    string
	shipPostal  string
	shipCountry string
	payment     string
	publish     bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cartctl:", err)
		os.Exit(2)
	}

	opts, args := parseFlags(cfg)
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logCfg := cfg.Logging
	logCfg.Level = opts.logLevel
	logCfg.Format = "text"
	log := logger.NewWithWriter(logCfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, opts, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cartctl:", err)
		os.Exit(1)
	}

	err = app.run(ctx, args[0], args[1:])
	app.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cartctl:", err)
		switch {
		case cart.IsPending(err) && cart.MutationIDOf(err) != "":
			fmt.Fprintln(os.Stderr, "cartctl: the change may still reach the server; run list before repeating it")
		case cart.IsRetryable(err):
			fmt.Fprintln(os.Stderr, "cartctl: the operation can be retried")
		}
		os.Exit(1)
	}
}

func parseFlags(cfg *config.Config) (*options, []string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	opts := &options{}
	flag.StringVar(&opts.stateDir, "state", filepath.Join(home, ".cartctl"), "directory holding the guest cart and session")
	flag.StringVar(&opts.store, "store", "file", "guest cart storage: file, redis or memory")
	flag.StringVar(&opts.apiURL, "api", cfg.Cart.BackendURL, "cart and catalog API base URL")
	flag.StringVar(&opts.token, "token", "", "access token; overrides the stored session")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	flag.StringVar(&opts.color, "color", "", "item color")
	flag.StringVar(&opts.price, "price", "0", "unit price for guest items")
	flag.StringVar(&opts.name, "name", "", "display name")

	flag.StringVar(&opts.shipName, "ship-name", "", "recipient name")
	flag.StringVar(&opts.shipLine1, "ship-line1", "", "street address")
	flag.StringVar(&opts.shipCity, "ship-city", "", "city")
	flag.StringVar(&opts.shipPostal, "ship-postal", "", "postal code")
	flag.StringVar(&opts.shipCountry, "ship-country", "", "two-letter country code")
	flag.StringVar(&opts.payment, "payment", "card", "payment method")
	flag.BoolVar(&opts.publish, "publish", false, "publish the checkout handoff to Kafka instead of printing it")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	return opts, flag.Args()
}

type app struct {
	cfg        *config.Config
	opts       *options
	log        logrus.FieldLogger
	files      *persistence.File
	reconciler *stock.Reconciler
	session    *cart.Session
	calculator *pricing.Calculator
	closers    []func() error
}

func newApp(cfg *config.Config, opts *options, log *logrus.Logger) (*app, error) {
	files, err := persistence.NewFile(opts.stateDir)
	if err != nil {
		return nil, err
	}

	catalogURL := cfg.Cart.CatalogURL
	if flag.CommandLine.Changed("api") {
		catalogURL = opts.apiURL
	}
	catalogClient := catalog.New(catalogURL, cfg.Cart.RequestTimeout, nil, log)
	reconciler := stock.NewReconciler(catalogClient, stock.NewIndex(), stock.Options{
		LowStockThreshold: cfg.Stock.LowStockThreshold,
		// only watch runs periodic passes
		OnReport: printReport,
	}, log.WithField("component", "reconciler"))

	a := &app{
		cfg:        cfg,
		opts:       opts,
		log:        log,
		files:      files,
		reconciler: reconciler,
		calculator: pricing.NewCalculator(pricing.RulesFromConfig(cfg.Pricing)),
	}

	guestStorage, err := a.guestPersistence()
	if err != nil {
		a.close()
		return nil, err
	}
	guest, err := cart.NewGuestStore(guestStorage, cfg.Cart.GuestStorageKey, reconciler, log)
	if err != nil {
		a.close()
		return nil, err
	}

	connect := func(token string) *cart.ServerStore {
		client := cartapi.New(opts.apiURL, token, cartapi.Options{Timeout: cfg.Cart.RequestTimeout}, log)
		return cart.NewServerStore(client, reconciler, cfg.Cart.RequestTimeout, log)
	}

	a.session = cart.NewSession(guest, connect, cart.NewMigrator(log), log)
	return a, nil
}

// guestPersistence picks where the guest cart lives. The session and the
// redis guest id always stay in the state directory.
func (a *app) guestPersistence() (cart.Persistence, error) {
	switch a.opts.store {
	case "file":
		return a.files, nil
	case "memory":
		return persistence.NewMemory(), nil
	case "redis":
		client, err := redis.NewConnection(a.cfg, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)

		guestID, err := a.guestID()
		if err != nil {
			return nil, err
		}
		return persistence.NewRedis(client.Redis, guestID, a.cfg.Cart.GuestTTL), nil
	default:
		return nil, cart.Errorf(cart.KindValidation, "store", cart.Key{}, "unknown store %q", a.opts.store)
	}
}

// guestID returns this device's guest session id, creating one on first use
func (a *app) guestID() (string, error) {
	data, err := a.files.Read(guestIDKey)
	if err == nil && len(strings.TrimSpace(string(data))) > 0 {
		return strings.TrimSpace(string(data)), nil
	}
	if err != nil && !errors.Is(err, cart.ErrNotPersisted) {
		return "", err
	}

	id := uuid.NewString()
	if err := a.files.Write(guestIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to save guest id: %w", err)
	}
	return id, nil
}

func (a *app) close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.log.WithError(err).Warn("Failed to close connection")
		}
	}
}

// storedToken returns the token saved by login, if any
func (a *app) storedToken() (string, error) {
	data, err := a.files.Read(sessionKey)
	if errors.Is(err, cart.ErrNotPersisted) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// resume restores the user cart when a session token is available
func (a *app) resume(ctx context.Context) error {
	token := a.opts.token
	if token == "" {
		stored, err := a.storedToken()
		if err != nil {
			return err
		}
		token = stored
	}
	if token == "" {
		return nil
	}

	report, err := a.session.Login(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to load user cart: %w", err)
	}
	reportMigration(report)
	return nil
}
