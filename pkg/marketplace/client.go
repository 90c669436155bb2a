package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// ClientOption allows for customization of the client
type ClientOption func(*HTTPClient)

// WithHTTPClient swaps the underlying transport
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// HTTPClient speaks the marketplace REST API
type HTTPClient struct {
	config *MarketplaceConfig
	http   *http.Client
	logger *logrus.Logger
}

// NewHTTPClient creates a new marketplace API client
func NewHTTPClient(config *MarketplaceConfig, opts ...ClientOption) (*HTTPClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := &HTTPClient{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: config.Logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// ListItems fetches one page of a seller's feed
func (c *HTTPClient) ListItems(ctx context.Context, req ListRequest) (Page, error) {
	query := url.Values{}
	query.Set("state", string(req.State))
	query.Set("limit", strconv.Itoa(req.PageSize))
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}

	endpoint := fmt.Sprintf("/sellers/%s/%ss?%s", url.PathEscape(req.SellerID), req.Channel, query.Encode())
	resp, err := c.makeRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return Page{}, err
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("failed to decode page: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":      "ListItems",
		"seller_id":   req.SellerID,
		"channel":     req.Channel,
		"state":       req.State,
		"items":       len(page.Items),
		"next_cursor": page.NextCursor,
	}).Debug("Fetched marketplace page")

	return page, nil
}

// SendReply publishes a reply to one interaction
func (c *HTTPClient) SendReply(ctx context.Context, sellerID string, channel models.Channel, externalID, text string) (Ack, error) {
	endpoint := fmt.Sprintf("/sellers/%s/%ss/%s/reply",
		url.PathEscape(sellerID), channel, url.PathEscape(externalID))

	resp, err := c.makeRequest(ctx, http.MethodPost, endpoint, map[string]string{"text": text})
	if err != nil {
		return Ack{}, err
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return Ack{}, err
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil && !errors.Is(err, io.EOF) {
		return Ack{}, fmt.Errorf("failed to decode reply ack: %w", err)
	}
	if ack.AcceptedAt.IsZero() {
		ack.AcceptedAt = time.Now().UTC()
	}

	c.logger.WithFields(logrus.Fields{
		"method":      "SendReply",
		"seller_id":   sellerID,
		"channel":     channel,
		"external_id": externalID,
		"reply_id":    ack.ReplyID,
	}).Info("Reply accepted by marketplace")

	return ack, nil
}

// handleResponse maps non-2xx responses onto TransientError or APIError
func (c *HTTPClient) handleResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read error response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"body":        string(body),
		}).Warn("Transient marketplace error")
		return &TransientError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%s", http.StatusText(resp.StatusCode)),
		}
	}

	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Code = errResp.Error.Code
		apiErr.Message = errResp.Error.Message
	}

	c.logger.WithFields(logrus.Fields{
		"status_code": apiErr.StatusCode,
		"error_code":  apiErr.Code,
		"message":     apiErr.Message,
	}).Error("Marketplace API error")

	return apiErr
}

func (c *HTTPClient) makeRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		c.logger.WithField("request_body", string(jsonBody)).Debug("Request payload")
	}

	fullURL := c.config.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, &TransientError{Err: fmt.Errorf("failed to make request: %w", err)}
	}

	return resp, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
