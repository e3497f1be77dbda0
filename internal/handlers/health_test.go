package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestHealthHandlersHealthzAlwaysOK(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	handler := NewHealthHandlers(WithHealthClock(fixedClock(now)))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
	if payload.Timestamp != "2026-03-01T08:00:00Z" {
		t.Fatalf("unexpected timestamp: %q", payload.Timestamp)
	}
}

func TestHealthHandlersReadyzWithoutSystemService(t *testing.T) {
	handler := NewHealthHandlers()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
}

func TestHealthHandlersReadyzReportsDependencies(t *testing.T) {
	generated := time.Date(2026, 3, 1, 8, 15, 0, 0, time.UTC)
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "production",
			Uptime:      90 * time.Minute,
			GeneratedAt: generated,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				"storefront": {
					Status: domain.HealthStatusDegraded,
					Detail: "elevated latency",
				},
			},
		},
	}

	handler := NewHealthHandlers(WithSystemService(system))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected degraded to stay 200, got %d", rr.Code)
	}

	var payload readinessResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %q", payload.Status)
	}
	if payload.Version != "1.4.0" || payload.CommitSHA != "abc1234" || payload.Environment != "production" {
		t.Fatalf("unexpected build metadata: %#v", payload)
	}
	if payload.Uptime != "1h30m0s" {
		t.Fatalf("unexpected uptime: %q", payload.Uptime)
	}
	if payload.GeneratedAt != "2026-03-01T08:15:00Z" {
		t.Fatalf("unexpected generatedAt: %q", payload.GeneratedAt)
	}
	if len(payload.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(payload.Checks))
	}
	if payload.Checks["firestore"].Latency != "12ms" {
		t.Fatalf("unexpected firestore latency: %q", payload.Checks["firestore"].Latency)
	}
	if payload.Checks["storefront"].Detail != "elevated latency" {
		t.Fatalf("unexpected storefront detail: %q", payload.Checks["storefront"].Detail)
	}
}

func TestHealthHandlersReadyzErrorStatusIs503(t *testing.T) {
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError, Error: "rpc error: unavailable"},
			},
		},
	}

	handler := NewHealthHandlers(WithSystemService(system))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var payload readinessResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Checks["firestore"].Error == "" {
		t.Fatalf("expected check error to surface, got %#v", payload)
	}
}

func TestHealthHandlersReadyzCollectorFailure(t *testing.T) {
	system := &stubSystemService{err: errors.New("collector exploded")}
	handler := NewHealthHandlers(WithSystemService(system))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "health_check_failed" {
		t.Fatalf("unexpected error code: %#v", payload["error"])
	}
}
