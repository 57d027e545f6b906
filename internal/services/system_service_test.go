package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func TestSystemServiceHealthReportStampsBuildInfo(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"backend": {Status: domain.HealthStatusOK}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "0.4.0", CommitSHA: "f00d", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "0.4.0" || report.CommitSHA != "f00d" || report.Environment != "staging" {
		t.Fatalf("unexpected build metadata: %+v", report)
	}
	if report.Uptime != 90*time.Second {
		t.Fatalf("expected uptime 90s, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect, got %d", repo.calls)
	}
}

func TestSystemServiceHealthReportKeepsProbeVersion(t *testing.T) {
	repo := &stubHealthRepository{report: domain.SystemHealthReport{Version: "probe"}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Build: BuildInfo{Version: "build"}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "probe" {
		t.Fatalf("expected probe version kept, got %s", report.Version)
	}
	if report.Checks == nil {
		t.Fatalf("expected empty checks map")
	}
}

func TestSystemServiceHealthReportStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{name: "empty", want: domain.HealthStatusOK},
		{name: "degraded", checks: map[string]domain.SystemHealthCheck{
			"pubsub":  {Status: domain.HealthStatusDegraded},
			"backend": {Status: domain.HealthStatusOK},
		}, want: domain.HealthStatusDegraded},
		{name: "error wins", checks: map[string]domain.SystemHealthCheck{
			"pubsub":  {Status: domain.HealthStatusDegraded},
			"backend": {Status: domain.HealthStatusError},
		}, want: domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}},
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceHealthReportError(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}
