package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/ticketgate/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe checks one dependency, such as the order backend or the session store.
type Probe struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// ProbeHealthOption customises NewProbeHealthRepository.
type ProbeHealthOption func(*probeHealthRepository)

// WithProbeTimeout sets the timeout for probes that do not declare one.
func WithProbeTimeout(timeout time.Duration) ProbeHealthOption {
	return func(r *probeHealthRepository) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithProbeClock injects the clock used for latency and timestamps.
func WithProbeClock(clock func() time.Time) ProbeHealthOption {
	return func(r *probeHealthRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

type probeHealthRepository struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository validates probes up front and returns a HealthRepository that runs
// them concurrently on every Collect.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeHealthOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	for _, p := range probes {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, errors.New("health repository: probe missing name")
		}
		if p.Check == nil {
			return nil, fmt.Errorf("health repository: probe %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate probe %s", name)
		}
		seen[name] = struct{}{}
	}

	repo := &probeHealthRepository{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	var mu sync.Mutex
	results := make(map[string]domain.SystemHealthCheck, len(r.probes))
	group, groupCtx := errgroup.WithContext(ctx)
	for _, probe := range r.probes {
		probe := probe
		group.Go(func() error {
			check := r.run(groupCtx, probe)
			mu.Lock()
			results[strings.TrimSpace(probe.Name)] = check
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	status := domain.HealthStatusOK
	for _, probe := range r.probes {
		switch results[strings.TrimSpace(probe.Name)].Status {
		case domain.HealthStatusError:
			if !probe.Optional {
				status = domain.HealthStatusError
			} else if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}

	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *probeHealthRepository) run(ctx context.Context, probe Probe) domain.SystemHealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(probeCtx)
	end := r.now()

	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		check.Status, check.Detail, check.Error = domain.HealthStatusError, "timeout", err.Error()
	case errors.Is(err, context.Canceled):
		check.Status, check.Detail, check.Error = domain.HealthStatusError, "cancelled", err.Error()
	default:
		check.Status, check.Detail, check.Error = domain.HealthStatusError, "unreachable", err.Error()
	}
	return check
}
