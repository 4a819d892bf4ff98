package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeAccessClient) Close() error { return nil }

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	name := "projects/shop/secrets/printful_token/versions/latest"
	client.values[name] = "pf-token"

	resolver, err := NewResolver(ctx, nil, WithClient(client), WithProject("shop"), WithLocalFile(""))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://printful_token")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if got != "pf-token" {
			t.Fatalf("expected pf-token, got %q", got)
		}
	}
	if client.calls[name] != 1 {
		t.Fatalf("expected one remote call, got %d", client.calls[name])
	}
}

func TestResolveSecretHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.values["projects/other/secrets/pg_dsn/versions/4"] = "postgres://x"

	resolver, _ := NewResolver(ctx, nil, WithClient(client), WithProject("shop"), WithLocalFile(""))
	got, err := resolver.ResolveSecret(ctx, "sm://pg_dsn?version=4&project=other")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "postgres://x" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestResolveSecretFallsBackToLocalFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("# dev\nsecret://stripe_key=sk_local\nredis_password = pw\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	client := newFakeAccessClient()
	client.errs["projects/shop/secrets/stripe_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	resolver, _ := NewResolver(ctx, nil, WithClient(client), WithProject("shop"), WithLocalFile(path))

	got, err := resolver.ResolveSecret(ctx, "secret://stripe_key")
	if err != nil || got != "sk_local" {
		t.Fatalf("expected local fallback, got %q %v", got, err)
	}
	got, err = resolver.ResolveSecret(ctx, "secret://redis_password")
	if err != nil || got != "pw" {
		t.Fatalf("expected plain key fallback, got %q %v", got, err)
	}
}

func TestResolveSecretPropagatesHardErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.errs["projects/shop/secrets/k/versions/latest"] = status.Error(codes.InvalidArgument, "bad")
	resolver, _ := NewResolver(ctx, nil, WithClient(client), WithProject("shop"), WithLocalFile(""))
	if _, err := resolver.ResolveSecret(ctx, "secret://k"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := resolver.ResolveSecret(ctx, "https://k"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
