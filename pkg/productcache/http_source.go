package productcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

// HTTPSource reads products from a JSON catalogue endpoint
type HTTPSource struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates an HTTPSource
func NewHTTPSource(baseURL string, client *http.Client, logger *logrus.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &HTTPSource{baseURL: baseURL, client: client, logger: logger}
}

// Fetch requests GET {base}/products/{id}
func (s *HTTPSource) Fetch(ctx context.Context, productID string) (Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/products/"+url.PathEscape(productID), nil)
	if err != nil {
		return Product{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Product{}, fmt.Errorf("%w: %s", ErrNotFound, productID)
	case resp.StatusCode >= 300:
		s.logger.WithFields(logrus.Fields{
			"method":      "Fetch",
			"product_id":  productID,
			"status_code": resp.StatusCode,
		}).Warn("Product source returned an error")
		return Product{}, fmt.Errorf("%w: status=%d", ErrUnreachable, resp.StatusCode)
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return Product{}, fmt.Errorf("%w: failed to decode product: %v", ErrUnreachable, err)
	}
	if product.ID == "" {
		product.ID = productID
	}
	return product, nil
}
