// Package config loads the API's runtime settings from the environment, an
// optional dotenv file and Secret Manager references.
package config

import "time"

// Storage backends for shipping rate overrides.
const (
	RatesBackendFirestore = "firestore"
	RatesBackendPostgres  = "postgres"
)

// Backends for small shared state such as the region cache and limiter logs.
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

const defaultFulfillmentBaseURL = "https://api.printful.com"

type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Shipping    ShippingConfig
	Region      RegionConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	Redis       RedisConfig
	Postgres    PostgresConfig
	PubSub      PubSubConfig
	PSP         PSPConfig
	Fulfillment FulfillmentConfig
	Security    SecurityConfig
	Internal    InternalConfig
}

type ServerConfig struct {
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	TrustForwardedFor bool
}

// FirebaseConfig controls admin token verification. CheckRevoked adds an Admin
// API round trip per admin request.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	VerifyTimeout   time.Duration
	CheckRevoked    bool
	RoleClaim       string
}

// FirestoreConfig falls back to the Firebase project when ProjectID is unset.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// ShippingConfig controls the rate table.
type ShippingConfig struct {
	RatesBackend string
	RateCacheTTL time.Duration
	Currency     string
}

// RegionConfig controls region detection and the per-client answer cache.
type RegionConfig struct {
	CacheBackend       string
	CacheTTL           time.Duration
	SourceTimeout      time.Duration
	GeoIPRatePerSecond float64
	GeoIPBurst         int
}

// RateLimitConfig throttles the public detect-region endpoint.
type RateLimitConfig struct {
	Backend            string
	DetectRegionLimit  int
	DetectRegionWindow time.Duration
}

type IdempotencyConfig struct {
	Backend string
	TTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
}

// PubSubConfig names the project and topic rate change events go to. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID       string
	RateEventsTopic string
}

type PSPConfig struct {
	StripeAPIKey string
}

// FulfillmentConfig configures the print-on-demand catalog client.
type FulfillmentConfig struct {
	BaseURL  string
	APIToken string
	StoreID  string
	PageSize int
	Timeout  time.Duration
}

// InternalConfig admits Google-signed service account tokens on the internal
// routes. An empty OIDCAudience leaves those routes unmounted.
type InternalConfig struct {
	OIDCAudience    string
	ServiceAccounts []string
	JWKSURL         string
}

type SecurityConfig struct {
	Environment string
}

// UsesRedis reports whether any shared-state concern is configured for Redis.
func (c Config) UsesRedis() bool {
	return c.Region.CacheBackend == StoreBackendRedis ||
		c.RateLimits.Backend == StoreBackendRedis ||
		c.Idempotency.Backend == StoreBackendRedis
}
