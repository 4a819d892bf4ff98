package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL    = "https://api.printful.com"
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	maxErrorBody      = 4 << 10
)

// ErrNotConfigured is returned when the client has no API token.
var ErrNotConfigured = errors.New("fulfillment: api token is not configured")

// APIError is a non-success response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fulfillment: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures the Printful client.
type Config struct {
	BaseURL    string
	APIToken   string
	StoreID    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    gax.Backoff
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Client reads sync products from the Printful API.
type Client struct {
	baseURL    string
	storeID    string
	http       *http.Client
	maxRetries int
	backoff    gax.Backoff
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewClient returns a client that authenticates every request with the API token.
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := http.DefaultTransport
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		base = cfg.HTTPClient.Transport
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff.Initial == 0 {
		backoff = gax.Backoff{Initial: 500 * time.Millisecond, Max: 8 * time.Second, Multiplier: 2}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Client{
		baseURL: baseURL,
		storeID: strings.TrimSpace(cfg.StoreID),
		http: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
				Base:   base,
			},
		},
		maxRetries: retries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// Paging is the provider's list cursor.
type Paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// SyncProduct is a store product summary.
type SyncProduct struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Variants   int    `json:"variants"`
	Synced     int    `json:"synced"`
	IsIgnored  bool   `json:"is_ignored"`
}

// SyncVariant is one purchasable variant of a store product.
type SyncVariant struct {
	ID          int64  `json:"id"`
	ExternalID  string `json:"external_id"`
	Name        string `json:"name"`
	RetailPrice string `json:"retail_price"`
	Currency    string `json:"currency"`
	Product     struct {
		Name string `json:"name"`
	} `json:"product"`
}

// Price parses the decimal retail price string.
func (v SyncVariant) Price() (float64, bool) {
	price, err := strconv.ParseFloat(strings.TrimSpace(v.RetailPrice), 64)
	if err != nil || price < 0 {
		return 0, false
	}
	return price, true
}

// SyncProductDetail is a product with its variants.
type SyncProductDetail struct {
	Product  SyncProduct   `json:"sync_product"`
	Variants []SyncVariant `json:"sync_variants"`
}

// ProductList is one page of store products.
type ProductList struct {
	Products []SyncProduct
	Paging   Paging
}

type envelope[T any] struct {
	Code   int    `json:"code"`
	Result T      `json:"result"`
	Paging Paging `json:"paging"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ListSyncProducts returns one page of store products.
func (c *Client) ListSyncProducts(ctx context.Context, offset, limit int) (ProductList, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(max(offset, 0)))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var env envelope[[]SyncProduct]
	if err := c.get(ctx, "/sync/products", query, &env); err != nil {
		return ProductList{}, err
	}
	return ProductList{Products: env.Result, Paging: env.Paging}, nil
}

// GetSyncProduct returns a product and its variants.
func (c *Client) GetSyncProduct(ctx context.Context, id int64) (SyncProductDetail, error) {
	var env envelope[SyncProductDetail]
	if err := c.get(ctx, "/sync/products/"+strconv.FormatInt(id, 10), url.Values{}, &env); err != nil {
		return SyncProductDetail{}, err
	}
	return env.Result, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c.storeID != "" {
		query.Set("store_id", c.storeID)
	}
	endpoint := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if attempt >= c.maxRetries || !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return err
		}
		pause := backoff.Pause()
		c.logger(ctx, "fulfillment.retry", map[string]any{
			"path":    path,
			"attempt": attempt + 1,
			"status":  apiErr.StatusCode,
			"pause":   pause.String(),
		})
		if err := gax.Sleep(ctx, pause); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("fulfillment: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fulfillment: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fulfillment: decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no response body"
	}
	return msg
}
