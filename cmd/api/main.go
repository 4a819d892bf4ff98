package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"

	"github.com/threadcraft/api/internal/di"
	"github.com/threadcraft/api/internal/fulfillment"
	"github.com/threadcraft/api/internal/handlers"
	"github.com/threadcraft/api/internal/payments"
	"github.com/threadcraft/api/internal/platform/auth"
	"github.com/threadcraft/api/internal/platform/config"
	"github.com/threadcraft/api/internal/platform/database"
	pfirestore "github.com/threadcraft/api/internal/platform/firestore"
	"github.com/threadcraft/api/internal/platform/geoip"
	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/platform/idempotency"
	"github.com/threadcraft/api/internal/platform/jobs"
	"github.com/threadcraft/api/internal/platform/kvstore"
	"github.com/threadcraft/api/internal/platform/observability"
	"github.com/threadcraft/api/internal/platform/ratelimit"
	"github.com/threadcraft/api/internal/platform/secrets"
	"github.com/threadcraft/api/internal/repositories"
	firestoreRepo "github.com/threadcraft/api/internal/repositories/firestore"
	postgresRepo "github.com/threadcraft/api/internal/repositories/postgres"
	"github.com/threadcraft/api/internal/services"
)

const (
	redisKeyPrefix        = "threadcraft:"
	detectRegionRoute     = "detect-region"
	regionLookupRoute     = "shipping-region"
	shutdownDrainDuration = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	events := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(logger.Named(name), zapcore.InfoLevel)
	}

	var (
		closers []func(context.Context) error
		checks  []repositories.DependencyCheck
	)

	var firestoreOpts []pfirestore.ProviderOption
	if credentials := strings.TrimSpace(cfg.Firebase.CredentialsFile); credentials != "" && cfg.Firestore.EmulatorHost == "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	closers = append(closers, firestoreProvider.Close)
	checks = append(checks, repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   firestoreProvider.Ping,
	})

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	rateRepo, err := openRateRepository(ctx, cfg, logger, firestoreProvider, &closers, &checks)
	if err != nil {
		logger.Fatal("failed to initialise shipping rate store", zap.String("backend", cfg.Shipping.RatesBackend), zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}

	infra := di.Infrastructure{
		Rates:       rateRepo,
		Products:    productRepo,
		RegionCache: regionCacheStore(cfg, redisClient),
		Locator: geoip.NewClient(
			geoip.WithRateLimit(cfg.Region.GeoIPRatePerSecond, cfg.Region.GeoIPBurst),
			geoip.WithLogger(events("geoip")),
			geoip.WithCountryValidator(func(code string) error {
				_, err := services.CountryToRegion(code)
				return err
			}),
		),
		Build:  buildInfo,
		Logger: logger,
		Clock:  time.Now,
	}

	metrics, err := observability.NewRegionMetrics()
	if err != nil {
		logger.Warn("region metrics unavailable", zap.Error(err))
	} else {
		infra.Metrics = metrics
	}

	if topicName := strings.TrimSpace(cfg.PubSub.RateEventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		publisher, err := jobs.NewPubSubRateEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise rate event publisher", zap.Error(err))
		}
		infra.Publisher = publisher
		closers = append(closers, func(context.Context) error {
			publisher.Stop()
			return pubsubClient.Close()
		})
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topicName)
				}
				return nil
			},
		})
	} else {
		logger.Info("rate events topic not configured; override changes will not be published")
	}

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		registrar, err := payments.NewStripeShippingRates(payments.StripeShippingRatesConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: payments.StripeLogger(events("stripe")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe shipping rates", zap.Error(err))
		}
		infra.Registrar = registrar
	} else {
		logger.Warn("stripe api key not configured; checkout shipping options disabled")
	}

	if strings.TrimSpace(cfg.Fulfillment.APIToken) != "" {
		client, err := fulfillment.NewClient(fulfillment.Config{
			BaseURL:  cfg.Fulfillment.BaseURL,
			APIToken: cfg.Fulfillment.APIToken,
			StoreID:  cfg.Fulfillment.StoreID,
			Timeout:  cfg.Fulfillment.Timeout,
			Logger:   events("fulfillment"),
		})
		if err != nil {
			logger.Fatal("failed to initialise fulfillment client", zap.Error(err))
		}
		infra.Catalog = fulfillment.NewCatalogSource(client)
	} else {
		logger.Warn("fulfillment api token not configured; catalog sync disabled")
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}
	infra.Health = healthRepo

	container, err := di.NewContainer(cfg, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	for _, fn := range closers {
		container.OnClose(fn)
	}

	verifierOpts := []auth.FirebaseOption{auth.WithFirebaseTimeout(cfg.Firebase.VerifyTimeout)}
	if cfg.Firebase.CheckRevoked {
		verifierOpts = append(verifierOpts, auth.WithRevocationCheck())
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, verifierOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithRoleClaim(cfg.Firebase.RoleClaim))

	limiter, err := ratelimit.New(rateLimitStore(cfg, redisClient), ratelimit.Policy{
		Limit:  cfg.RateLimits.DetectRegionLimit,
		Window: cfg.RateLimits.DetectRegionWindow,
	}, ratelimit.WithPrefix(detectRegionRoute))
	if err != nil {
		logger.Fatal("failed to initialise detect-region limiter", zap.Error(err))
	}
	detectLimit := ratelimit.Middleware(limiter,
		ratelimit.WithKeyFunc(ratelimit.ClientIPFromContext),
		ratelimit.OnRejected(func(ctx context.Context, _ *http.Request) {
			metrics.RecordRateLimited(ctx, detectRegionRoute)
		}),
	)
	lookupLimiter, err := ratelimit.New(rateLimitStore(cfg, redisClient), ratelimit.Policy{
		Limit:  cfg.RateLimits.DetectRegionLimit,
		Window: cfg.RateLimits.DetectRegionWindow,
	}, ratelimit.WithPrefix(regionLookupRoute))
	if err != nil {
		logger.Fatal("failed to initialise region lookup limiter", zap.Error(err))
	}
	lookupLimit := ratelimit.Middleware(lookupLimiter,
		ratelimit.WithKeyFunc(ratelimit.ClientIPFromContext),
		ratelimit.OnRejected(func(ctx context.Context, _ *http.Request) {
			metrics.RecordRateLimited(ctx, regionLookupRoute)
		}),
	)
	checkoutReplay := idempotency.Middleware(idempotencyStore(cfg, redisClient), idempotency.WithTTL(cfg.Idempotency.TTL))

	svc := container.Services
	regionHandlers := handlers.NewRegionHandlers(svc.Regions, detectLimit, handlers.WithRegionLookupLimit(lookupLimit))
	shippingHandlers := handlers.NewShippingHandlers(svc.Quotes, svc.Regions, handlers.WithCheckoutMiddlewares(checkoutReplay))
	adminRoutes := []handlers.RouteRegistrar{handlers.NewAdminShippingRateHandlers(svc.Rates).Routes}
	var internalRoutes []handlers.RouteRegistrar
	if svc.CatalogSync != nil {
		catalogHandlers := handlers.NewAdminCatalogHandlers(svc.CatalogSync)
		adminRoutes = append(adminRoutes, catalogHandlers.Routes)
		if cfg.Internal.OIDCAudience != "" {
			internalRoutes = append(internalRoutes, catalogHandlers.Routes)
		}
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		httpx.ClientMiddleware(cfg.Server.TrustForwardedFor),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(regionHandlers.PublicRoutes),
		handlers.WithShippingRoutes(handlers.Compose(regionHandlers.Routes, shippingHandlers.Routes)),
		handlers.WithAdminRoutes(handlers.Compose(adminRoutes...)),
		handlers.WithAdminMiddlewares(authenticator.RequireAdmin()),
	}
	if len(internalRoutes) > 0 {
		schedulerAuth := auth.NewServiceAccountVerifier(
			auth.NewJWKSCache(cfg.Internal.JWKSURL),
			cfg.Internal.OIDCAudience,
			cfg.Internal.ServiceAccounts,
		)
		routerOpts = append(routerOpts,
			handlers.WithInternalRoutes(handlers.Compose(internalRoutes...)),
			handlers.WithInternalMiddlewares(schedulerAuth.RequireServiceAccount()),
		)
	}
	router := handlers.NewRouter(routerOpts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("threadcraft shipping api listening",
			zap.String("ratesBackend", cfg.Shipping.RatesBackend),
			zap.Bool("redis", redisClient != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainDuration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

// openRateRepository selects the override store and registers its readiness probe.
func openRateRepository(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	provider *pfirestore.Provider,
	closers *[]func(context.Context) error,
	checks *[]repositories.DependencyCheck,
) (repositories.ShippingRateRepository, error) {
	switch cfg.Shipping.RatesBackend {
	case config.RatesBackendPostgres:
		db, err := database.OpenPostgres(cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func(context.Context) error { return database.Close(db) })
		*checks = append(*checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return database.Ping(ctx, db)
			},
		})
		repo, err := postgresRepo.NewShippingRateRepository(db, time.Now)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate shipping rates: %w", err)
		}
		return repo, nil
	default:
		repo, err := firestoreRepo.NewShippingRateRepository(provider)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}

func regionCacheStore(cfg config.Config, client *redis.Client) kvstore.Store {
	if cfg.Region.CacheBackend == config.StoreBackendRedis && client != nil {
		return kvstore.NewRedis(client, redisKeyPrefix)
	}
	return kvstore.NewMemory(time.Now)
}

func rateLimitStore(cfg config.Config, client *redis.Client) ratelimit.Store {
	if cfg.RateLimits.Backend == config.StoreBackendRedis && client != nil {
		return ratelimit.NewRedisStore(client)
	}
	return ratelimit.NewMemoryStore()
}

func idempotencyStore(cfg config.Config, client *redis.Client) idempotency.Store {
	if cfg.Idempotency.Backend == config.StoreBackendRedis && client != nil {
		return idempotency.NewRedisStore(client, redisKeyPrefix+"idempotency:")
	}
	return idempotency.NewMemoryStore(time.Now)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	localFile := lookup("API_SECRET_FALLBACK_FILE")
	if localFile == "" {
		localFile = ".secrets.local"
	}

	var clientOpts []option.ClientOption
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}

	return secrets.NewResolver(ctx, clientOpts,
		secrets.WithProject(project),
		secrets.WithLocalFile(localFile),
		secrets.WithLogger(logger.Named("secrets")),
	)
}

// requiredSecretNames lists secrets that must resolve before the server starts.
// API_REQUIRED_SECRETS adds comma-separated config field names.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["API_SHIPPING_RATES_BACKEND"]), config.RatesBackendPostgres) {
		required = append(required, "Postgres.DSN")
	}
	if strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	required = append(required, strings.Split(env["API_REQUIRED_SECRETS"], ",")...)
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
