// Package collab holds thin HTTP clients for the platform services the coupon
// engine consumes: the catalog (prices for FREE_ITEM bonuses) and the order
// service (order counts for first-order-only checks).
//
// Both clients use short, bounded timeouts: they sit on the validation path
// and must never block a request indefinitely. Transport failures map to the
// domain's dependency errors so apply aborts cleanly with nothing written.
package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/catalog"
)

const defaultTimeout = 2 * time.Second

var _ catalog.Catalog = (*CatalogClient)(nil)

// CatalogClient resolves product prices from the catalog service.
type CatalogClient struct {
	base   string
	client *http.Client
}

// NewCatalogClient creates a client for the catalog service at baseURL.
func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		base:   baseURL,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Price fetches the current price of a SKU. A transport or server failure is
// catalog.ErrUnavailable: the caller must fail the operation rather than
// default the price to zero.
func (c *CatalogClient) Price(ctx context.Context, sku string) (decimal.Decimal, error) {
	var body struct {
		Price decimal.Decimal `json:"price"`
	}
	err := c.getJSON(ctx, c.base+"/v1/products/"+url.PathEscape(sku), &body)
	switch {
	case err == nil:
		return body.Price, nil
	case errors.Is(err, errNotFound):
		return decimal.Zero, errors.Wrapf(catalog.ErrProductNotFound, "sku %q", sku)
	default:
		return decimal.Zero, errors.Wrapf(catalog.ErrUnavailable, "price lookup: %s", err)
	}
}

// HistoryClient resolves customer order history from the order service.
type HistoryClient struct {
	base   string
	client *http.Client
}

// NewHistoryClient creates a client for the order service at baseURL.
func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{
		base:   baseURL,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// OrderCount returns how many completed orders the customer has.
func (c *HistoryClient) OrderCount(ctx context.Context, customerID string) (int, error) {
	var body struct {
		Count int `json:"count"`
	}
	err := c.getJSON(ctx, c.base+"/v1/customers/"+url.PathEscape(customerID)+"/orders/count", &body)
	if err != nil {
		return 0, errors.Wrap(err, "order count lookup")
	}
	return body.Count, nil
}

var errNotFound = errors.New("not found")

func (c *CatalogClient) getJSON(ctx context.Context, u string, out any) error {
	return getJSON(ctx, c.client, u, out)
}

func (c *HistoryClient) getJSON(ctx context.Context, u string, out any) error {
	return getJSON(ctx, c.client, u, out)
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// ZeroOrders is a CustomerHistory that reports no prior orders. Wired when no
// order service endpoint is configured: first-order-only coupons then treat
// every customer as new, which is the permissive behavior for development
// environments.
type ZeroOrders struct{}

// OrderCount always returns zero.
func (ZeroOrders) OrderCount(context.Context, string) (int, error) { return 0, nil }
