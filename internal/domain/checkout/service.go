// internal/domain/checkout/service.go
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/pricing"
	"github.com/your-org/storefront-cart/internal/domain/stock"
)

// Address is the shipping destination handed to order placement
type Address struct {
	FullName   string `json:"fullName" validate:"required,max=100"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
}

// Request is what the shopper supplies at checkout
type Request struct {
	ShippingAddress Address `json:"shippingAddress" validate:"required"`
	PaymentMethod   string  `json:"paymentMethod" validate:"required,max=50"`
}

// Handoff is the payload consumed by order placement
type Handoff struct {
	ID    string          `json:"id"`
	Items []cart.CartItem `json:"items"`
	pricing.DisplayTotals
	ShippingAddress Address   `json:"shippingAddress"`
	PaymentMethod   string    `json:"paymentMethod"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Publisher delivers a handoff to order placement
type Publisher interface {
	Publish(ctx context.Context, h *Handoff) error
}

// Blocker is one reason an item cannot be checked out
type Blocker struct {
	Key    cart.Key `json:"key"`
	Reason string   `json:"reason"`
}

// BlockedError lists every item that keeps the cart from checkout
type BlockedError struct {
	Blockers []Blocker
}

func (e *BlockedError) Error() string {
	reasons := make([]string, len(e.Blockers))
	for i, b := range e.Blockers {
		reasons[i] = b.Key.String() + ": " + b.Reason
	}
	return "checkout blocked: " + strings.Join(reasons, "; ")
}

// ErrEmptyCart is returned when there is nothing to check out
var ErrEmptyCart = errors.New("cart is empty")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service gates checkout on stock status and hands the cart off
type Service struct {
	calculator *pricing.Calculator
	index      *stock.Index
	publisher  Publisher
	grace      time.Duration
	now        func() time.Time
	log        logrus.FieldLogger
}

// NewService creates a new checkout service
func NewService(calculator *pricing.Calculator, index *stock.Index, publisher Publisher, grace time.Duration, log logrus.FieldLogger) *Service {
	return &Service{
		calculator: calculator,
		index:      index,
		publisher:  publisher,
		grace:      grace,
		now:        time.Now,
		log:        log,
	}
}

// Blockers reports why each item of items cannot be checked out yet. Each line
// is judged on its own entry, never on a sibling that differs only by color.
func (s *Service) Blockers(items []cart.CartItem) []Blocker {
	var blockers []Blocker
	for _, item := range items {
		key := item.Key()
		if item.Invalid {
			blockers = append(blockers, Blocker{Key: key, Reason: "product is no longer available"})
			continue
		}

		entry, ok := s.index.Get(key)
		if !ok {
			blockers = append(blockers, Blocker{Key: key, Reason: "stock not checked yet"})
			continue
		}

		// judge the line's current quantity, which may have changed since the pass
		status := entry.Status
		if status != stock.StatusInvalid {
			status = stock.Classify(entry.AvailableStock, item.Quantity, stock.DefaultLowStockThreshold)
		}

		switch status {
		case stock.StatusInvalid:
			blockers = append(blockers, Blocker{Key: key, Reason: "product is no longer available"})
		case stock.StatusOutOfStock:
			blockers = append(blockers, Blocker{Key: key, Reason: "out of stock"})
		case stock.StatusInsufficient:
			blockers = append(blockers, Blocker{Key: key, Reason: fmt.Sprintf("only %d available", entry.AvailableStock)})
		default:
			if entry.Stale && s.now().Sub(entry.FetchedAt) > s.grace {
				blockers = append(blockers, Blocker{Key: key, Reason: "stock data is out of date"})
			}
		}
	}
	return blockers
}

// Prepare builds the handoff for the store's current items. It fails with a
// BlockedError while any item is blocked.
func (s *Service) Prepare(store cart.Store, req Request) (*Handoff, error) {
	if err := validate.Struct(req); err != nil {
		return nil, cart.NewError(cart.KindValidation, "checkout", cart.Key{}, err)
	}

	items := store.List()
	if len(items) == 0 {
		return nil, cart.NewError(cart.KindValidation, "checkout", cart.Key{}, ErrEmptyCart)
	}
	if blockers := s.Blockers(items); len(blockers) > 0 {
		return nil, &BlockedError{Blockers: blockers}
	}

	return &Handoff{
		ID:              uuid.NewString(),
		Items:           items,
		DisplayTotals:   s.calculator.Calculate(items).Display(),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		CreatedAt:       s.now().UTC(),
	}, nil
}

// Submit publishes the handoff. Order placement is irreversible, so a failure
// is never marked retryable.
func (s *Service) Submit(ctx context.Context, h *Handoff) error {
	if s.publisher == nil {
		return &cart.Error{Kind: cart.KindPersistence, Op: "checkout_submit", Err: errors.New("no checkout publisher configured")}
	}
	if err := s.publisher.Publish(ctx, h); err != nil {
		s.log.WithError(err).WithField("handoff_id", h.ID).Error("Checkout handoff failed")
		return &cart.Error{Kind: cart.KindPersistence, Op: "checkout_submit", Retryable: false, Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"handoff_id": h.ID,
		"items":      len(h.Items),
		"total":      h.Total,
	}).Info("Checkout handed off")
	return nil
}
