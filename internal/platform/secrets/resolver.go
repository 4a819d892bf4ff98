// Package secrets resolves secret:// references (API tokens, DSNs) through
// Google Secret Manager, with an optional local file for development.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultLocalFile = ".secrets.local"
	meterName        = "github.com/threadcraft/api/internal/platform/secrets"
)

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Resolver looks up secret values once and serves later reads from memory.
type Resolver struct {
	client     accessClient
	ownsClient bool
	projectID  string
	localPath  string
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]string

	localOnce sync.Once
	local     map[string]string

	lookups metric.Int64Counter
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithProject sets the project used when a reference carries no ?project= override.
func WithProject(projectID string) Option {
	return func(r *Resolver) { r.projectID = strings.TrimSpace(projectID) }
}

// WithLocalFile points at a KEY=VALUE file consulted when Secret Manager is unreachable.
func WithLocalFile(path string) Option {
	return func(r *Resolver) { r.localPath = strings.TrimSpace(path) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClient injects a Secret Manager client, mostly for tests.
func WithClient(client accessClient) Option {
	return func(r *Resolver) { r.client = client }
}

// NewResolver builds a Resolver. When no client is injected one is dialled with
// opts; a dial failure leaves the resolver in local-file mode.
func NewResolver(ctx context.Context, options []option.ClientOption, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		localPath: defaultLocalFile,
		logger:    zap.NewNop(),
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	counter, err := otel.Meter(meterName).Int64Counter("secrets.lookups",
		metric.WithDescription("Secret lookups by source"))
	if err != nil {
		r.logger.Warn("secrets: metric registration failed", zap.Error(err))
	}
	r.lookups = counter

	if r.client == nil {
		client, err := newAccessClient(ctx, options...)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable, using local file only", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver dialled it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	value, ok := r.cache[parsed.key()]
	r.mu.RUnlock()
	if ok {
		r.count(ctx, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = r.projectID
	}
	if project != "" && r.client != nil {
		value, err := r.access(ctx, project, parsed)
		if err == nil {
			r.store(parsed.key(), value)
			r.count(ctx, "remote")
			return value, nil
		}
		if !localFallbackAllowed(err) {
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, err)
		}
		r.logger.Debug("secrets: remote lookup failed, trying local file", zap.String("secret", parsed.name), zap.Error(err))
	}

	value, ok = r.lookupLocal(parsed)
	if !ok {
		return "", fmt.Errorf("secrets: %s not found", parsed.name)
	}
	r.store(parsed.key(), value)
	r.count(ctx, "local")
	return value, nil
}

func (r *Resolver) access(ctx context.Context, project string, ref secretRef) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
}

func (r *Resolver) count(ctx context.Context, source string) {
	if r.lookups == nil {
		return
	}
	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (r *Resolver) lookupLocal(ref secretRef) (string, bool) {
	r.localOnce.Do(func() {
		r.local = readLocalFile(r.localPath, r.logger)
	})
	if v, ok := r.local[ref.key()]; ok {
		return v, true
	}
	v, ok := r.local[ref.name]
	return v, ok
}

// readLocalFile parses lines of the form secret://name=value or name=value.
func readLocalFile(path string, logger *zap.Logger) map[string]string {
	values := map[string]string{}
	if path == "" {
		return values
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("secrets: local file unreadable", zap.String("path", path), zap.Error(err))
		}
		return values
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if ref, err := parseRef(key); err == nil {
			values[ref.key()] = value
			values[ref.name] = value
			continue
		}
		if key != "" {
			values[key] = value
		}
	}
	return values
}

func localFallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type secretRef struct {
	name    string
	version string
	project string
}

func (s secretRef) key() string {
	return s.project + "/" + s.name + "#" + s.version
}

// parseRef accepts secret://name?version=3&project=p and the legacy sm:// scheme.
func parseRef(ref string) (secretRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" && u.Scheme != "sm" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	q := u.Query()
	version := strings.TrimSpace(q.Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{name: name, version: version, project: strings.TrimSpace(q.Get("project"))}, nil
}
