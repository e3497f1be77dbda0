package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
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

func TestSystemServiceFillsBuildMetadata(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	started := now.Add(-90 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "production",
			StartedAt:   started,
		},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := service.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}

	if repo.calls != 1 {
		t.Fatalf("expected one collect, got %d", repo.calls)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc1234" || report.Environment != "production" {
		t.Fatalf("expected build metadata filled, got %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("expected uptime derived from start, got %v", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated timestamp defaulted, got %v", report.GeneratedAt)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected derived ok status, got %q", report.Status)
	}
}

func TestSystemServiceKeepsCollectedValues(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	generated := now.Add(-time.Minute)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			Version:     "collector-says-2.0",
			Uptime:      5 * time.Minute,
			GeneratedAt: generated,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Detail: "slow publish"},
			},
		},
	}

	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", StartedAt: now.Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := service.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}

	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("collected status must win, got %q", report.Status)
	}
	if report.Version != "collector-says-2.0" {
		t.Fatalf("collected version must win, got %q", report.Version)
	}
	if report.Uptime != 5*time.Minute {
		t.Fatalf("collected uptime must win, got %v", report.Uptime)
	}
	if !report.GeneratedAt.Equal(generated) {
		t.Fatalf("collected timestamp must win, got %v", report.GeneratedAt)
	}
}

func TestSystemServiceDerivesWorstStatus(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore":  {Status: domain.HealthStatusOK},
				"storefront": {Status: domain.HealthStatusDegraded},
				"pubsub":     {Status: domain.HealthStatusError, Error: "topic missing"},
			},
		},
	}

	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := service.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("error check must dominate, got %q", report.Status)
	}
}

func TestSystemServicePropagatesCollectorFailure(t *testing.T) {
	wantErr := errors.New("collector offline")
	repo := &stubHealthRepository{err: wantErr}

	service, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	if _, err := service.HealthReport(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected collector failure surfaced, got %v", err)
	}
}
