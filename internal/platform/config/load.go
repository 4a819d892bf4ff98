package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaults holds the fallback for every key Load reads. An empty value in any
// source also falls back here.
var defaults = map[string]string{
	"API_SERVER_PORT":                    "8080",
	"API_SERVER_READ_TIMEOUT":            "15s",
	"API_SERVER_WRITE_TIMEOUT":           "30s",
	"API_SERVER_IDLE_TIMEOUT":            "120s",
	"API_SERVER_TRUST_FORWARDED_FOR":     "true",
	"API_FIREBASE_VERIFY_TIMEOUT":        "5s",
	"API_FIREBASE_CHECK_REVOKED":         "false",
	"API_FIREBASE_ROLE_CLAIM":            "role",
	"API_SHIPPING_RATES_BACKEND":         RatesBackendFirestore,
	"API_SHIPPING_RATE_CACHE_TTL":        "1m",
	"API_SHIPPING_CURRENCY":              "usd",
	"API_REGION_CACHE_BACKEND":           StoreBackendMemory,
	"API_REGION_CACHE_TTL":               "168h",
	"API_REGION_SOURCE_TIMEOUT":          "3s",
	"API_REGION_GEOIP_RPS":               "5",
	"API_REGION_GEOIP_BURST":             "10",
	"API_RATELIMIT_BACKEND":              StoreBackendMemory,
	"API_RATELIMIT_DETECT_REGION_LIMIT":  "10",
	"API_RATELIMIT_DETECT_REGION_WINDOW": "10s",
	"API_IDEMPOTENCY_BACKEND":            StoreBackendMemory,
	"API_IDEMPOTENCY_TTL":                "24h",
	"API_REDIS_ADDR":                     "localhost:6379",
	"API_REDIS_DB":                       "0",
	"API_POSTGRES_MAX_OPEN_CONNS":        "10",
	"API_FULFILLMENT_BASE_URL":           defaultFulfillmentBaseURL,
	"API_FULFILLMENT_PAGE_SIZE":          "100",
	"API_FULFILLMENT_TIMEOUT":            "15s",
	"API_SECURITY_ENVIRONMENT":           "local",
	"API_INTERNAL_JWKS_URL":              "https://www.googleapis.com/oauth2/v3/certs",
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile points at a dotenv file. A missing file is ignored and "" disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names config fields, such as "PSP.StripeAPIKey", that must
// hold a non-empty value after resolution.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// newSource layers the sources in viper: defaults, then the dotenv file, then the
// process environment, then the explicit map.
func newSource(o loaderOptions, withDefaults bool) (*viper.Viper, error) {
	v := viper.New()
	if withDefaults {
		for key, value := range defaults {
			v.SetDefault(key, value)
		}
	}
	if o.envFile != "" {
		v.SetConfigFile(o.envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", o.envFile, err)
		}
	}
	if o.useSystemEnv {
		v.AutomaticEnv()
	}
	for key, value := range o.envMap {
		if value != "" {
			v.Set(key, value)
		}
	}
	return v, nil
}

// EnvironmentValues returns every variable visible to Load with the same
// precedence, including keys Load itself does not read. main uses it to build
// the secret resolver before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	o := newOptions(opts)
	values := make(map[string]string)

	dotenv, err := newSource(loaderOptions{envFile: o.envFile}, false)
	if err != nil {
		return nil, err
	}
	for _, key := range dotenv.AllKeys() {
		values[strings.ToUpper(key)] = dotenv.GetString(key)
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				values[key] = value
			}
		}
	}
	maps.Copy(values, o.envMap)
	return values, nil
}

// Load reads the configuration, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newOptions(opts)
	if o.secret == nil {
		o.secret = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}

	v, err := newSource(o, true)
	if err != nil {
		return Config{}, err
	}
	r := &reader{v: v}

	var cfg Config
	cfg.Server = ServerConfig{
		Port:              r.str("API_SERVER_PORT"),
		ReadTimeout:       r.duration("Server.ReadTimeout", "API_SERVER_READ_TIMEOUT"),
		WriteTimeout:      r.duration("Server.WriteTimeout", "API_SERVER_WRITE_TIMEOUT"),
		IdleTimeout:       r.duration("Server.IdleTimeout", "API_SERVER_IDLE_TIMEOUT"),
		TrustForwardedFor: r.boolean("Server.TrustForwardedFor", "API_SERVER_TRUST_FORWARDED_FOR"),
	}
	cfg.Firebase = FirebaseConfig{
		ProjectID:       r.str("API_FIREBASE_PROJECT_ID"),
		CredentialsFile: r.str("API_FIREBASE_CREDENTIALS_FILE"),
		VerifyTimeout:   r.duration("Firebase.VerifyTimeout", "API_FIREBASE_VERIFY_TIMEOUT"),
		CheckRevoked:    r.boolean("Firebase.CheckRevoked", "API_FIREBASE_CHECK_REVOKED"),
		RoleClaim:       r.str("API_FIREBASE_ROLE_CLAIM"),
	}
	cfg.Firestore = FirestoreConfig{
		ProjectID:    r.str("API_FIRESTORE_PROJECT_ID"),
		EmulatorHost: r.str("API_FIRESTORE_EMULATOR_HOST"),
	}
	cfg.Shipping = ShippingConfig{
		RatesBackend: r.lower("API_SHIPPING_RATES_BACKEND"),
		RateCacheTTL: r.duration("Shipping.RateCacheTTL", "API_SHIPPING_RATE_CACHE_TTL"),
		Currency:     r.lower("API_SHIPPING_CURRENCY"),
	}
	cfg.Region = RegionConfig{
		CacheBackend:       r.lower("API_REGION_CACHE_BACKEND"),
		CacheTTL:           r.duration("Region.CacheTTL", "API_REGION_CACHE_TTL"),
		SourceTimeout:      r.duration("Region.SourceTimeout", "API_REGION_SOURCE_TIMEOUT"),
		GeoIPRatePerSecond: r.float("Region.GeoIPRatePerSecond", "API_REGION_GEOIP_RPS"),
		GeoIPBurst:         r.integer("Region.GeoIPBurst", "API_REGION_GEOIP_BURST"),
	}
	cfg.RateLimits = RateLimitConfig{
		Backend:            r.lower("API_RATELIMIT_BACKEND"),
		DetectRegionLimit:  r.integer("RateLimits.DetectRegionLimit", "API_RATELIMIT_DETECT_REGION_LIMIT"),
		DetectRegionWindow: r.duration("RateLimits.DetectRegionWindow", "API_RATELIMIT_DETECT_REGION_WINDOW"),
	}
	cfg.Idempotency = IdempotencyConfig{
		Backend: r.lower("API_IDEMPOTENCY_BACKEND"),
		TTL:     r.duration("Idempotency.TTL", "API_IDEMPOTENCY_TTL"),
	}
	cfg.Redis = RedisConfig{
		Addr:     r.str("API_REDIS_ADDR"),
		Password: r.str("API_REDIS_PASSWORD"),
		DB:       r.integer("Redis.DB", "API_REDIS_DB"),
	}
	cfg.Postgres = PostgresConfig{
		DSN:          r.str("API_POSTGRES_DSN"),
		MaxOpenConns: r.integer("Postgres.MaxOpenConns", "API_POSTGRES_MAX_OPEN_CONNS"),
	}
	cfg.PubSub = PubSubConfig{
		ProjectID:       r.str("API_PUBSUB_PROJECT_ID"),
		RateEventsTopic: r.str("API_PUBSUB_RATE_EVENTS_TOPIC"),
	}
	cfg.PSP = PSPConfig{StripeAPIKey: r.str("API_PSP_STRIPE_API_KEY")}
	cfg.Fulfillment = FulfillmentConfig{
		BaseURL:  strings.TrimRight(r.str("API_FULFILLMENT_BASE_URL"), "/"),
		APIToken: r.str("API_FULFILLMENT_API_TOKEN"),
		StoreID:  r.str("API_FULFILLMENT_STORE_ID"),
		PageSize: r.integer("Fulfillment.PageSize", "API_FULFILLMENT_PAGE_SIZE"),
		Timeout:  r.duration("Fulfillment.Timeout", "API_FULFILLMENT_TIMEOUT"),
	}
	cfg.Security = SecurityConfig{Environment: r.lower("API_SECURITY_ENVIRONMENT")}
	cfg.Internal = InternalConfig{
		OIDCAudience:    r.str("API_INTERNAL_OIDC_AUDIENCE"),
		ServiceAccounts: r.list("API_INTERNAL_SERVICE_ACCOUNTS"),
		JWKSURL:         r.str("API_INTERNAL_JWKS_URL"),
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecrets(ctx, o.secret, map[string]*string{
		"PSP.StripeAPIKey":     &cfg.PSP.StripeAPIKey,
		"Redis.Password":       &cfg.Redis.Password,
		"Postgres.DSN":         &cfg.Postgres.DSN,
		"Fulfillment.APIToken": &cfg.Fulfillment.APIToken,
	})
	if err != nil {
		return Config{}, err
	}

	if err := validate(cfg, r.invalid); err != nil {
		return Config{}, err
	}

	if missing := missingSecrets(o.requiredSecrets, resolved); missing != nil {
		if o.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// reader pulls typed values out of a viper source. Values that do not parse are
// collected in invalid under their config field name.
type reader struct {
	v       *viper.Viper
	invalid []string
}

func (r *reader) str(key string) string {
	if value := strings.TrimSpace(r.v.GetString(key)); value != "" {
		return value
	}
	return defaults[key]
}

func (r *reader) lower(key string) string { return strings.ToLower(r.str(key)) }

// list splits a comma-separated value, dropping blanks.
func (r *reader) list(key string) []string {
	var out []string
	for _, item := range strings.Split(r.str(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (r *reader) duration(field, key string) time.Duration {
	d, err := time.ParseDuration(r.str(key))
	if err != nil {
		r.invalid = append(r.invalid, field)
	}
	return d
}

func (r *reader) integer(field, key string) int {
	n, err := strconv.Atoi(r.str(key))
	if err != nil {
		r.invalid = append(r.invalid, field)
	}
	return n
}

func (r *reader) float(field, key string) float64 {
	f, err := strconv.ParseFloat(r.str(key), 64)
	if err != nil {
		r.invalid = append(r.invalid, field)
	}
	return f
}

func (r *reader) boolean(field, key string) bool {
	switch strings.ToLower(r.str(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	r.invalid = append(r.invalid, field)
	return false
}
