package handlers

import (
	"net/http"
	"time"

	"github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/platform/httpx"
	"github.com/merchantdesk/api/internal/services"
)

// HealthHandlers exposes liveness and readiness probes. Liveness never touches
// dependencies; readiness consults the system service when one is wired.
type HealthHandlers struct {
	system services.SystemService
	clock  func() time.Time
	start  time.Time
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithSystemService wires dependency probing into the readiness endpoint.
func WithSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthClock overrides the time source, primarily for testing.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.start = h.clock().UTC()
	return h
}

type healthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

type readinessResponse struct {
	Status      string                   `json:"status"`
	Version     string                   `json:"version,omitempty"`
	CommitSHA   string                   `json:"commitSha,omitempty"`
	Environment string                   `json:"environment,omitempty"`
	Uptime      string                   `json:"uptime,omitempty"`
	Checks      map[string]checkResponse `json:"checks,omitempty"`
	GeneratedAt string                   `json:"generatedAt,omitempty"`
}

type checkResponse struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:    domain.HealthStatusOK,
		Uptime:    now.Sub(h.start).String(),
		Timestamp: now.Format(time.RFC3339),
	})
}

// Readyz reports dependency readiness. Without a system service the process
// is considered ready as soon as it serves traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.system == nil {
		now := h.clock().UTC()
		writeJSONResponse(w, http.StatusOK, healthResponse{
			Status:    domain.HealthStatusOK,
			Uptime:    now.Sub(h.start).String(),
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", "unable to collect dependency health", http.StatusServiceUnavailable))
		return
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, status, buildReadinessResponse(report))
}

func buildReadinessResponse(report domain.SystemHealthReport) readinessResponse {
	response := readinessResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		GeneratedAt: formatTime(report.GeneratedAt),
	}
	if report.Uptime > 0 {
		response.Uptime = report.Uptime.String()
	}
	if len(report.Checks) > 0 {
		response.Checks = make(map[string]checkResponse, len(report.Checks))
		for name, check := range report.Checks {
			entry := checkResponse{
				Status: check.Status,
				Detail: check.Detail,
				Error:  check.Error,
			}
			if check.Latency > 0 {
				entry.Latency = check.Latency.String()
			}
			response.Checks[name] = entry
		}
	}
	return response
}
