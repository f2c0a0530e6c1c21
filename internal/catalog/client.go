// Package catalog is the client for the remote product catalog service.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/httpclient"
)

// ErrProductNotFound is returned when the catalog has no usable record for a
// product: HTTP 404, or a response missing success or data.
var ErrProductNotFound = errors.New("catalog: product not found")

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client fetches products from GET {baseURL}/products/{id}.
type Client struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a catalog client. baseURL is the API root, for example
// http://catalog:8001/api/v1.
func NewClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// GetProduct returns the product with its stock and price fields.
func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	endpoint := c.baseURL + "/products/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}
	if env.Success == nil || !*env.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		c.logger.DebugContext(ctx, "catalog returned no product data", slog.String("product_id", id))
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}

	var product domain.Product
	if err := json.Unmarshal(env.Data, &product); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	if product.ID == "" {
		product.ID = id
	}

	return &product, nil
}
