// Package catalog is the HTTP client for the catalog's stock endpoints.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/domain/inventory"
	"golang.org/x/sync/singleflight"
)

// Client fetches product stock snapshots. Identical lookups in flight at the
// same time share one request.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	group   singleflight.Group
	log     logrus.FieldLogger
}

// New creates a catalog client
func New(baseURL string, timeout time.Duration, httpClient *http.Client, log logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		log:     log.WithField("component", "catalog_client"),
	}
}

// Batch implements stock.Catalog. Products the catalog does not know are
// absent from the result.
func (c *Client) Batch(ctx context.Context, productIDs []string) ([]inventory.Snapshot, error) {
	if len(productIDs) == 0 {
		return []inventory.Snapshot{}, nil
	}

	query := url.Values{"ids": {strings.Join(productIDs, ",")}}
	v, err := c.shared(ctx, "batch:"+query.Encode(), func(ctx context.Context) (interface{}, error) {
		var out struct {
			Data []inventory.Snapshot `json:"data"`
		}
		if err := c.get(ctx, "/api/v1/catalog/stock?"+query.Encode(), &out); err != nil {
			return nil, err
		}
		return out.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]inventory.Snapshot), nil
}

// Single implements stock.Catalog
func (c *Client) Single(ctx context.Context, productID string) (inventory.Snapshot, error) {
	v, err := c.shared(ctx, "single:"+productID, func(ctx context.Context) (interface{}, error) {
		var out struct {
			Data inventory.Snapshot `json:"data"`
		}
		if err := c.get(ctx, "/api/v1/catalog/stock/"+url.PathEscape(productID), &out); err != nil {
			return nil, err
		}
		return out.Data, nil
	})
	if err != nil {
		return inventory.Snapshot{}, err
	}
	return v.(inventory.Snapshot), nil
}

// shared runs fn once per key among concurrent callers. fn runs detached from
// any single caller's cancellation; each caller still stops waiting on its own.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.log.WithField("key", key).Debug("Catalog lookup shared")
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) get(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return inventory.ErrProductNotFound
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid catalog response: %w", err)
	}
	return nil
}
