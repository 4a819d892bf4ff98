package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	domain "github.com/threadcraft/api/internal/domain"
)

func healthy(context.Context) error { return nil }

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCollectAggregatesStatus(t *testing.T) {
	refused := errors.New("dial tcp 10.0.0.3:6379: connect: connection refused")

	tests := []struct {
		name   string
		checks []DependencyCheck
		status string
		want   map[string]string // check name -> detail
	}{
		{
			name:   "all healthy",
			checks: []DependencyCheck{{Name: "firestore", Check: healthy}, {Name: "redis", Check: healthy}},
			status: domain.HealthStatusOK,
			want:   map[string]string{"firestore": "ok", "redis": "ok"},
		},
		{
			name: "required failure",
			checks: []DependencyCheck{
				{Name: "redis", Check: func(context.Context) error { return refused }},
				{Name: "pubsub", Optional: true, Check: healthy},
			},
			status: domain.HealthStatusError,
			want:   map[string]string{"redis": "unreachable", "pubsub": "ok"},
		},
		{
			name: "required timeout",
			checks: []DependencyCheck{
				{Name: "postgres", Timeout: 5 * time.Millisecond, Check: blockUntilDone},
			},
			status: domain.HealthStatusError,
			want:   map[string]string{"postgres": "timeout"},
		},
		{
			name: "optional timeout degrades",
			checks: []DependencyCheck{
				{Name: "firestore", Check: healthy},
				{Name: "fulfillment", Optional: true, Timeout: 5 * time.Millisecond, Check: blockUntilDone},
			},
			status: domain.HealthStatusDegraded,
			want:   map[string]string{"firestore": "ok", "fulfillment": "timeout"},
		},
		{
			name: "error outranks degraded",
			checks: []DependencyCheck{
				{Name: "pubsub", Optional: true, Check: func(context.Context) error { return refused }},
				{Name: "firestore", Check: func(context.Context) error { return refused }},
			},
			status: domain.HealthStatusError,
			want:   map[string]string{"pubsub": "unreachable", "firestore": "unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tt.checks)
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tt.status {
				t.Errorf("report status = %s, want %s", report.Status, tt.status)
			}
			got := make(map[string]string, len(report.Checks))
			for name, check := range report.Checks {
				got[name] = check.Detail
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("check details mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollectRecordsFailureDetail(t *testing.T) {
	at := time.Date(2025, time.May, 4, 9, 30, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{
			{Name: "pubsub", Optional: true, Check: func(context.Context) error { return errors.New("topic not found") }},
		},
		WithDependencyClock(func() time.Time { return at }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := domain.SystemHealthCheck{
		Status:    domain.HealthStatusDegraded,
		Detail:    "unreachable",
		Error:     "topic not found",
		CheckedAt: at,
	}
	if diff := cmp.Diff(want, report.Checks["pubsub"]); diff != "" {
		t.Fatalf("pubsub check mismatch (-want +got):\n%s", diff)
	}
	if !report.GeneratedAt.Equal(at) {
		t.Fatalf("generatedAt = %s, want %s", report.GeneratedAt, at)
	}
}

func TestCollectCancelledContext(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore", Check: blockUntilDone}})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := repo.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := report.Checks["firestore"]; got.Detail != "cancelled" || got.Status != domain.HealthStatusError {
		t.Fatalf("expected cancelled error, got %+v", got)
	}
}

func TestNewDependencyHealthRepositoryRejectsBadChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":      nil,
		"blank name": {{Name: " ", Check: healthy}},
		"no probe":   {{Name: "redis"}},
		"duplicate":  {{Name: "redis", Check: healthy}, {Name: "redis", Check: healthy}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
