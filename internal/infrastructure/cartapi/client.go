// Package cartapi is the HTTP client a user-mode cart uses to reach the cart backend.
package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/your-org/storefront-cart/internal/domain/cart"
)

const maxErrorBody = 4 << 10

// Client implements cart.Backend over the cart REST API. Calls go through a
// circuit breaker that only counts transient failures.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[cart.RemoteCart]
	log     logrus.FieldLogger
}

// Options configures a Client
type Options struct {
	Timeout time.Duration
	// HTTPClient overrides the default client, e.g. in tests
	HTTPClient *http.Client
	// ConsecutiveFailures opens the breaker; 5 when zero
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open; 30s when zero
	OpenTimeout time.Duration
}

// New creates a client for the backend at baseURL acting with token
func New(baseURL, token string, opts Options, log logrus.FieldLogger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	log = log.WithField("component", "cart_api")
	threshold := opts.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker[cart.RemoteCart](gobreaker.Settings{
		Name:        "cart-backend",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !cart.IsKind(err, cart.KindTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    opts.HTTPClient,
		breaker: breaker,
		log:     log,
	}
}

type itemRequest struct {
	ProductID    string `json:"productId"`
	Size         string `json:"size"`
	Color        string `json:"color,omitempty"`
	Quantity     int    `json:"quantity"`
	DisplayName  string `json:"displayName,omitempty"`
	DisplayImage string `json:"displayImage,omitempty"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type envelope struct {
	Data cart.RemoteCart `json:"data"`
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// Fetch implements cart.Backend
func (c *Client) Fetch(ctx context.Context) (cart.RemoteCart, error) {
	return c.call(ctx, "fetch", cart.Key{}, http.MethodGet, "/api/v1/cart", "", nil)
}

// AddItem implements cart.Backend
func (c *Client) AddItem(ctx context.Context, mutationID string, item cart.CartItem) (cart.RemoteCart, error) {
	body := itemRequest{
		ProductID:    item.ProductID,
		Size:         item.Size,
		Color:        item.Color,
		Quantity:     item.Quantity,
		DisplayName:  item.DisplayName,
		DisplayImage: item.DisplayImage,
	}
	return c.call(ctx, "add", item.Key(), http.MethodPost, "/api/v1/cart/items", mutationID, body)
}

// UpdateItem implements cart.Backend
func (c *Client) UpdateItem(ctx context.Context, mutationID string, key cart.Key, quantity int) (cart.RemoteCart, error) {
	return c.call(ctx, "set_quantity", key, http.MethodPut, itemPath(key), mutationID, quantityRequest{Quantity: quantity})
}

// RemoveItem implements cart.Backend
func (c *Client) RemoveItem(ctx context.Context, mutationID string, key cart.Key) (cart.RemoteCart, error) {
	return c.call(ctx, "remove", key, http.MethodDelete, itemPath(key), mutationID, nil)
}

// ClearItems implements cart.Backend
func (c *Client) ClearItems(ctx context.Context, mutationID string) (cart.RemoteCart, error) {
	return c.call(ctx, "clear", cart.Key{}, http.MethodDelete, "/api/v1/cart", mutationID, nil)
}

func itemPath(key cart.Key) string {
	path := "/api/v1/cart/items/" + url.PathEscape(key.ProductID) + "/" + url.PathEscape(key.Size)
	if key.Color != "" {
		path += "?color=" + url.QueryEscape(key.Color)
	}
	return path
}

func (c *Client) call(ctx context.Context, op string, key cart.Key, method, path, mutationID string, body interface{}) (cart.RemoteCart, error) {
	remote, err := c.breaker.Execute(func() (cart.RemoteCart, error) {
		return c.do(ctx, op, key, method, path, mutationID, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return cart.RemoteCart{}, cart.NewError(cart.KindTransient, op, key, err)
	}
	return remote, err
}

func (c *Client) do(ctx context.Context, op string, key cart.Key, method, path, mutationID string, body interface{}) (cart.RemoteCart, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return cart.RemoteCart{}, cart.NewError(cart.KindValidation, op, key, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return cart.RemoteCart{}, cart.NewError(cart.KindValidation, op, key, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if mutationID != "" {
		req.Header.Set("Idempotency-Key", mutationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return cart.RemoteCart{}, cart.NewError(cart.KindTransient, op, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return cart.RemoteCart{}, cart.NewError(cart.KindPersistence, op, key, fmt.Errorf("invalid cart response: %w", err))
		}
		if env.Data.Items == nil {
			env.Data.Items = []cart.CartItem{}
		}
		return env.Data, nil
	}

	return cart.RemoteCart{}, c.statusError(op, key, resp)
}

func (c *Client) statusError(op string, key cart.Key, resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	cause := fmt.Errorf("%s (status %d)", body.Error, resp.StatusCode)

	var err *cart.Error
	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		err = cart.NewError(cart.KindValidation, op, key, cause)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		err = cart.NewError(cart.KindValidation, op, key, cause)
	case resp.StatusCode == http.StatusNotFound:
		err = cart.NewError(cart.KindNotFound, op, key, cause)
	case resp.StatusCode == http.StatusConflict:
		err = cart.NewError(cart.KindConflict, op, key, cause)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		err = cart.NewError(cart.KindTransient, op, key, cause)
	default:
		err = cart.NewError(cart.KindPersistence, op, key, cause)
	}
	if body.Retryable != nil {
		err.Retryable = *body.Retryable
	}

	c.log.WithFields(logrus.Fields{
		"op":     op,
		"status": resp.StatusCode,
		"kind":   err.Kind.String(),
	}).Debug("Cart backend rejected request")
	return err
}
