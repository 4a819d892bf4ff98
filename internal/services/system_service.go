package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/repositories"
)

const defaultHealthReportTTL = 2 * time.Second

// BuildInfo is the deploy metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemService reports process and dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// ReportTTL reuses a collected report for this long so frequent readiness
	// probes do not fan out to every dependency. Zero means 2s; negative disables.
	ReportTTL time.Duration
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
	ttl    time.Duration

	probes singleflight.Group
	mu     sync.Mutex
	last   domain.SystemHealthReport
	lastAt time.Time
}

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	svc := &systemService{
		health: deps.HealthRepository,
		now:    func() time.Time { return now().UTC() },
		build:  deps.Build,
		ttl:    deps.ReportTTL,
	}
	if svc.ttl == 0 {
		svc.ttl = defaultHealthReportTTL
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport returns the dependency report stamped with build metadata.
// Concurrent callers share one collection.
func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	if report, ok := s.cached(); ok {
		return s.stamp(report), nil
	}
	v, err, _ := s.probes.Do("report", func() (any, error) {
		report, err := s.health.Collect(ctx)
		if err != nil {
			return domain.SystemHealthReport{}, err
		}
		s.mu.Lock()
		s.last, s.lastAt = report, s.now()
		s.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return domain.SystemHealthReport{}, err
	}
	return s.stamp(v.(domain.SystemHealthReport)), nil
}

func (s *systemService) cached() (domain.SystemHealthReport, bool) {
	if s.ttl < 0 {
		return domain.SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAt.IsZero() || s.now().Sub(s.lastAt) >= s.ttl {
		return domain.SystemHealthReport{}, false
	}
	return s.last, true
}

func (s *systemService) stamp(report domain.SystemHealthReport) domain.SystemHealthReport {
	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = orDefault(report.Version, s.build.Version)
	report.CommitSHA = orDefault(report.CommitSHA, s.build.CommitSHA)
	report.Environment = orDefault(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Status == "" {
		report.Status = worstStatus(report.Checks)
	}
	return report
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
