//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
	pconfig "github.com/threadcraft/api/internal/platform/config"
	pfirestore "github.com/threadcraft/api/internal/platform/firestore"
	"github.com/threadcraft/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestShippingRateRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "shipping-rates-test")

	clock := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	repo, err := NewShippingRateRepository(provider, WithShippingRateClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	key := domain.ShippingRateKey{Category: domain.CategoryBasicShirt, Region: domain.RegionUK}
	if _, err := repo.Get(ctx, key); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found before upsert, got %v", err)
	}

	first, err := repo.Upsert(ctx, domain.ShippingRate{Category: key.Category, Region: key.Region, BaseRate: 5.5, AdditionalItemRate: 2})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !first.CreatedAt.Equal(clock) {
		t.Fatalf("unexpected created_at %s", first.CreatedAt)
	}

	clock = clock.Add(time.Hour)
	second, err := repo.Upsert(ctx, domain.ShippingRate{Category: key.Category, Region: key.Region, BaseRate: 6, AdditionalItemRate: 2.5})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.Equal(clock) {
		t.Fatalf("expected created_at preserved and updated_at bumped, got %+v", second)
	}

	if _, err := repo.Upsert(ctx, domain.ShippingRate{Category: domain.CategoryAOPLight, Region: domain.RegionUSA, BaseRate: 3, AdditionalItemRate: 1}); err != nil {
		t.Fatalf("upsert aop: %v", err)
	}

	rates, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 overrides (unique per key), got %d", len(rates))
	}
	if rates[0].Category != domain.CategoryAOPLight || rates[1].BaseRate != 6 {
		t.Fatalf("unexpected ordering or values %+v", rates)
	}

	if err := repo.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be idempotent: %v", err)
	}
	if _, err := repo.Get(ctx, key); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestProductRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "products-test")
	repo, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	weight := 0.8
	written, err := repo.UpsertMany(ctx, []domain.Product{
		{ID: "p-1", ExternalID: "101", Name: "Classic Tee", Category: domain.CategoryBasicShirt, ShippingType: domain.ShippingTypeFlatRate, RetailPrice: 25},
		{ID: "p-2", ExternalID: "102", Name: "Hoodie", Category: domain.CategoryHeavyOuterwear, WeightKg: &weight, Dimensions: &domain.Dimensions{LengthCm: 30, WidthCm: 25, HeightCm: 8}, ShippingType: domain.ShippingTypeFree, RetailPrice: 80},
	})
	if err != nil || written != 2 {
		t.Fatalf("upsert many: %d %v", written, err)
	}

	products, err := repo.GetMany(ctx, []string{"p-1", "p-2", "missing"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	hoodie := products["p-2"]
	if hoodie.WeightKg == nil || *hoodie.WeightKg != 0.8 || hoodie.Dimensions == nil || hoodie.ShippingType != domain.ShippingTypeFree {
		t.Fatalf("unexpected hoodie %+v", hoodie)
	}
}

func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	endpoint := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if endpoint == "" {
		if _, err := exec.LookPath("docker"); err != nil {
			t.Skip("docker not available: " + err.Error())
		}
		ensureDockerDaemon(t)
		port := freePort(t)
		endpoint = fmt.Sprintf("127.0.0.1:%d", port)
		containerID := startFirestoreEmulator(t, port)
		t.Cleanup(func() { stopContainer(containerID) })
		waitForEndpoint(t, endpoint, 30*time.Second)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}
	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
