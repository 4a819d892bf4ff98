// Package geoip resolves an IP address to a two-letter country code through a
// chain of public geolocation services.
package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoCountry is returned when every provider failed or none reported a country.
var ErrNoCountry = errors.New("geoip: country not resolved")

// Provider describes one lookup service. URL holds a single %s for the IP.
type Provider struct {
	Name string
	URL  string
	// CountryField is the JSON key carrying the ISO country code.
	CountryField string
}

// DefaultProviders lists the services in the order they are attempted.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "ipapi.co", URL: "https://ipapi.co/%s/json/", CountryField: "country_code"},
		{Name: "ip-api.com", URL: "http://ip-api.com/json/%s?fields=status,countryCode", CountryField: "countryCode"},
		{Name: "ipwhois.app", URL: "https://ipwhois.app/json/%s", CountryField: "country_code"},
	}
}

// Client queries providers in order and returns the first acceptable country.
type Client struct {
	httpClient *http.Client
	providers  []Provider
	limiter    *rate.Limiter
	validate   func(code string) error
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithProviders replaces the provider chain.
func WithProviders(providers ...Provider) Option {
	return func(client *Client) {
		if len(providers) > 0 {
			client.providers = append([]Provider(nil), providers...)
		}
	}
}

// WithRateLimit throttles outbound calls across all providers.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(client *Client) {
		if perSecond <= 0 {
			client.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCountryValidator rejects provider answers the caller cannot use; the next
// provider is tried instead. Codes are always two letters before validate runs.
func WithCountryValidator(validate func(code string) error) Option {
	return func(client *Client) {
		client.validate = validate
	}
}

// WithLogger receives per-provider failures.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient builds a Client with the default providers and a 5 rps throttle.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		providers:  DefaultProviders(),
		limiter:    rate.NewLimiter(5, 10),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// LookupCountry returns the upper-case country code for ip.
func (c *Client) LookupCountry(ctx context.Context, ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return "", fmt.Errorf("geoip: non-routable ip %s", parsed)
	}

	var lastErr error
	for _, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		country, err := c.query(ctx, provider, parsed.String())
		if err == nil {
			return country, nil
		}
		lastErr = err
		c.log(ctx, "geoip.provider_failed", map[string]any{"provider": provider.Name, "error": err})
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if lastErr == nil {
		return "", ErrNoCountry
	}
	return "", fmt.Errorf("%w: %v", ErrNoCountry, lastErr)
}

func (c *Client) query(ctx context.Context, provider Provider, ip string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(provider.URL, ip), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%s responded %d", provider.Name, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("%s decode: %w", provider.Name, err)
	}
	code, _ := body[provider.CountryField].(string)
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("%s returned no country", provider.Name)
	}
	if !twoLetters(code) {
		return "", fmt.Errorf("%s returned malformed country %q", provider.Name, code)
	}
	if c.validate != nil {
		if err := c.validate(code); err != nil {
			return "", fmt.Errorf("%s returned unusable country %q: %w", provider.Name, code, err)
		}
	}
	return code, nil
}

func twoLetters(code string) bool {
	return len(code) == 2 && code[0] >= 'A' && code[0] <= 'Z' && code[1] >= 'A' && code[1] <= 'Z'
}

func (c *Client) log(ctx context.Context, event string, fields map[string]any) {
	if c.logger != nil {
		c.logger(ctx, event, fields)
	}
}
