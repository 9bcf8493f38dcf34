package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/httputil"
)

// DefaultTimeout bounds one classifier call.
const DefaultTimeout = 20 * time.Second

const maxResponseSize = 4 * 1024 * 1024

// HTTPClient calls a classifier service over HTTP. The service receives the
// image and the catalog and answers with the item JSON that ParseResponse
// validates.
type HTTPClient struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Client   httputil.HTTPClient
}

// NewHTTPClient returns a classifier bound to endpoint. A nil client uses
// http.DefaultClient.
func NewHTTPClient(endpoint string, client httputil.HTTPClient, timeout time.Duration) *HTTPClient {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{Endpoint: endpoint, Timeout: timeout, Client: client}
}

type catalogItem struct {
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	SKU       string   `json:"sku,omitempty"`
	Brand     string   `json:"brand,omitempty"`
	Synonyms  []string `json:"synonyms,omitempty"`
}

type classifyRequest struct {
	ImageB64 string        `json:"image_b64"`
	Catalog  []catalogItem `json:"catalog"`
	Effort   Effort        `json:"effort"`
}

// Classify posts the image and catalog to the classifier service.
func (c *HTTPClient) Classify(ctx context.Context, image []byte, products []catalog.Entry, effort Effort) (Result, error) {
	if effort == "" {
		effort = EffortLow
	}
	body := classifyRequest{
		ImageB64: base64.StdEncoding.EncodeToString(image),
		Catalog:  make([]catalogItem, 0, len(products)),
		Effort:   effort,
	}
	for _, p := range products {
		body.Catalog = append(body.Catalog, catalogItem(p))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode classify request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	return ParseResponse(raw), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
