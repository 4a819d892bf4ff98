package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  atomic.Int32
	gate   chan struct{}
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.report, s.err
}

func TestSystemServiceStampsBuildInfo(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"rate_store": {Status: domain.HealthStatusOK},
				"pubsub":     {Status: domain.HealthStatusDegraded},
			},
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing %+v", report)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
}

func TestSystemServiceReusesRecentReport(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		ReportTTL:        time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	for range 3 {
		if _, err := svc.HealthReport(context.Background()); err != nil {
			t.Fatalf("HealthReport: %v", err)
		}
	}
	if got := repo.calls.Load(); got != 1 {
		t.Fatalf("expected one collection within ttl, got %d", got)
	}

	now = now.Add(time.Second)
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if got := repo.calls.Load(); got != 2 {
		t.Fatalf("expected a fresh collection after ttl, got %d", got)
	}
}

func TestSystemServiceCoalescesConcurrentProbes(t *testing.T) {
	repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}, gate: make(chan struct{})}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, ReportTTL: -1})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.HealthReport(context.Background()); err != nil {
				t.Errorf("HealthReport: %v", err)
			}
		}()
	}
	for repo.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	if got := repo.calls.Load(); got != 1 {
		t.Fatalf("expected concurrent probes to share one collection, got %d", got)
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("boom")}
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	repo.err = nil
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("failed collections must not be cached: %v", err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected missing repository error")
	}
}
