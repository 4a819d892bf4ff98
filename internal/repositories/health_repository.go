package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/threadcraft/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. A failing Optional dependency (Pub/Sub,
// the fulfillment API) only degrades the report.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

type DependencyHealthOption func(*dependencyProber)

// WithDependencyClock replaces time.Now for latency and timestamps.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *dependencyProber) {
		if clock != nil {
			p.now = clock
		}
	}
}

type dependencyProber struct {
	checks []DependencyCheck
	now    func() time.Time
}

var _ HealthRepository = (*dependencyProber)(nil)

// NewDependencyHealthRepository probes every check concurrently on each Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks")
	}
	seen := make(map[string]bool, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		case seen[name]:
			return nil, fmt.Errorf("health repository: duplicate check %q", name)
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: check %q has no probe", name)
		}
		seen[name] = true
	}

	p := &dependencyProber{checks: append([]DependencyCheck(nil), checks...), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *dependencyProber) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: nil context")
	}

	// Each goroutine owns one slot, and probes never fail the group.
	outcomes := make([]domain.SystemHealthCheck, len(p.checks))
	var g errgroup.Group
	for i, check := range p.checks {
		g.Go(func() error {
			outcomes[i] = p.probe(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(outcomes)),
		GeneratedAt: p.now(),
	}
	for i, outcome := range outcomes {
		report.Checks[p.checks[i].Name] = outcome
		report.Status = worse(report.Status, outcome.Status)
	}
	return report, nil
}

func (p *dependencyProber) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.now()
	err := check.Check(probeCtx)
	if err == nil {
		// A probe that ignores its context still fails once the deadline passed.
		err = probeCtx.Err()
	}
	finished := p.now()

	outcome := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return outcome
	}

	outcome.Status = domain.HealthStatusError
	if check.Optional {
		outcome.Status = domain.HealthStatusDegraded
	}
	outcome.Error = err.Error()
	outcome.Detail = "unreachable"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome.Detail = "timeout"
	} else if errors.Is(err, context.Canceled) {
		outcome.Detail = "cancelled"
	}
	return outcome
}

func worse(a, b string) string {
	rank := map[string]int{domain.HealthStatusOK: 0, domain.HealthStatusDegraded: 1, domain.HealthStatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
