package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/threadcraft/api/internal/platform/requestctx"
)

// GoogleCertsURL serves the keys Google signs service account ID tokens with.
const GoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

// RoleScheduler is granted to service accounts admitted by RequireServiceAccount.
const RoleScheduler = "scheduler"

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

var (
	ErrJWKSKeyNotFound = errors.New("auth: signing key not found")
	ErrJWKSFetchFailed = errors.New("auth: signing keys unavailable")
)

// JWKSCache fetches a JSON Web Key Set on demand and keeps it until the
// response's max-age runs out. An unknown kid forces one refetch.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time
	ttl    time.Duration

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

type JWKSOption func(*JWKSCache)

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		now:    time.Now,
		ttl:    15 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := c.keys == nil || !c.now().Before(c.expiry)
	if _, known := c.keys[kid]; stale || !known {
		if err := c.fetchLocked(ctx); err != nil {
			return nil, err
		}
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}
	return jwk.Key, nil
}

func (c *JWKSCache) fetchLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	ttl := c.ttl
	if maxAge, ok := maxAge(resp.Header.Get("Cache-Control")); ok {
		ttl = maxAge
	}
	c.keys = keys
	c.expiry = c.now().Add(ttl)
	return nil
}

func maxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		if !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// ServiceAccountVerifier admits Google-signed OIDC tokens, such as those Cloud
// Scheduler attaches, from an allow-list of service accounts.
type ServiceAccountVerifier struct {
	keys     *JWKSCache
	audience string
	allowed  []string
}

func NewServiceAccountVerifier(keys *JWKSCache, audience string, allowed []string) *ServiceAccountVerifier {
	emails := make([]string, 0, len(allowed))
	for _, email := range allowed {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			emails = append(emails, email)
		}
	}
	return &ServiceAccountVerifier{keys: keys, audience: strings.TrimSpace(audience), allowed: emails}
}

// Verify parses and checks a raw ID token, returning the caller as an Identity.
func (v *ServiceAccountVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	claims := &googleClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		var validation *jwt.ValidationError
		if errors.As(err, &validation) && validation.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	switch {
	case !slices.ContainsFunc(googleIssuers, func(iss string) bool { return claims.VerifyIssuer(iss, true) }):
		return nil, fmt.Errorf("%w: issuer %q", ErrTokenInvalid, claims.Issuer)
	case !claims.VerifyAudience(v.audience, true):
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	case !claims.EmailVerified || !slices.Contains(v.allowed, strings.ToLower(claims.Email)):
		return nil, fmt.Errorf("%w: service account %q not allowed", ErrTokenInvalid, claims.Email)
	}
	return &Identity{UID: claims.Subject, Email: claims.Email, Roles: []string{RoleScheduler}}, nil
}

// RequireServiceAccount guards internal routes. Every rejection is a 401.
func (v *ServiceAccountVerifier) RequireServiceAccount() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || v == nil || v.audience == "" {
				deny(ctx, w, "unauthenticated", "authorization header missing or invalid")
				return
			}
			identity, err := v.Verify(ctx, raw)
			if err != nil {
				code, message := "invalid_token", "service account token rejected"
				if errors.Is(err, ErrTokenExpired) {
					code, message = "token_expired", "service account token expired"
				}
				requestctx.Logger(ctx).Info("service account token rejected", zap.Error(err))
				deny(ctx, w, code, message)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}
