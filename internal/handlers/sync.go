package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/platform/auth"
	"github.com/merchantdesk/api/internal/platform/httpx"
	"github.com/merchantdesk/api/internal/services"
)

const (
	maxTriggerBodySize = 4 * 1024

	schedulerActor = "scheduler"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

type triggerSyncRequest struct {
	PageSize int `json:"pageSize"`
}

type pushStatusRequest struct {
	ExternalID int64  `json:"externalId"`
	Status     string `json:"status"`
}

type backfillRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Price     int64  `json:"price"`
}

type syncReportResponse struct {
	Success                     bool   `json:"success"`
	NewOrders                   int    `json:"newOrders"`
	UpdatedOrders               int    `json:"updatedOrders"`
	OrdersWithUnidentifiedItems int    `json:"ordersWithUnidentifiedItems"`
	NewClients                  int    `json:"newClients"`
	UpdatedClients              int    `json:"updatedClients"`
	Failed                      int    `json:"failed"`
	StartedAt                   string `json:"startedAt,omitempty"`
	FinishedAt                  string `json:"finishedAt,omitempty"`
}

type pushStatusResponse struct {
	Success    bool   `json:"success"`
	ExternalID int64  `json:"externalId"`
	Status     string `json:"status"`
}

type backfillResponse struct {
	Success       bool `json:"success"`
	OrdersScanned int  `json:"ordersScanned"`
	OrdersUpdated int  `json:"ordersUpdated"`
}

// SyncHandlers exposes the storefront synchronization triggers. The staff
// routes sit behind Firebase auth; the internal route is mounted separately
// behind the scheduler's OIDC middleware.
type SyncHandlers struct {
	authn      *auth.Authenticator
	sync       services.SyncService
	backfill   services.BackfillService
	statusPush services.StatusPushService
	throttle   *triggerThrottle
}

// SyncOption tunes optional behaviour of the sync handlers.
type SyncOption func(*syncOptions)

type syncOptions struct {
	triggerLimit  int
	triggerWindow time.Duration
	clock         func() time.Time
}

// WithTriggerLimit caps manual sync triggers at limit starts per actor within
// the window. Zero values leave the triggers unthrottled.
func WithTriggerLimit(limit int, window time.Duration) SyncOption {
	return func(o *syncOptions) {
		o.triggerLimit = limit
		o.triggerWindow = window
	}
}

// WithTriggerClock overrides the throttle clock.
func WithTriggerClock(clock func() time.Time) SyncOption {
	return func(o *syncOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewSyncHandlers constructs a new SyncHandlers instance.
func NewSyncHandlers(authn *auth.Authenticator, sync services.SyncService, backfill services.BackfillService, statusPush services.StatusPushService, opts ...SyncOption) *SyncHandlers {
	options := syncOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &SyncHandlers{
		authn:      authn,
		sync:       sync,
		backfill:   backfill,
		statusPush: statusPush,
		throttle:   newTriggerThrottle(options.triggerLimit, options.triggerWindow, options.clock),
	}
}

// Routes registers the staff-facing /sync endpoints.
func (h *SyncHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/orders", h.triggerSync)
	r.Post("/orders/status", h.pushStatus)
	r.Post("/backfill", h.runBackfill)
}

// InternalRoutes registers the scheduler-facing endpoints.
func (h *SyncHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sync/orders", h.scheduledSync)
}

func (h *SyncHandlers) triggerSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sync_service_unavailable", "sync service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := staffActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if allowed, wait := h.throttle.allow(actor); !allowed {
		writeThrottledError(ctx, w, wait)
		return
	}

	req, err := decodeTriggerSyncRequest(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	h.runSync(ctx, w, services.SyncCommand{Actor: actor, PageSize: req.PageSize})
}

func (h *SyncHandlers) scheduledSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sync_service_unavailable", "sync service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, err := decodeTriggerSyncRequest(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	h.runSync(ctx, w, services.SyncCommand{Actor: schedulerActor, PageSize: req.PageSize})
}

func (h *SyncHandlers) runSync(ctx context.Context, w http.ResponseWriter, cmd services.SyncCommand) {
	report, err := h.sync.Sync(ctx, cmd)
	if err != nil {
		writeSyncError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildSyncReportResponse(report))
}

func (h *SyncHandlers) pushStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.statusPush == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sync_service_unavailable", "status push service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := staffActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req pushStatusRequest
	body, err := readLimitedBody(r, maxTriggerBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.PushStatusCommand{
		ExternalID: req.ExternalID,
		Status:     domain.OrderStatus(strings.TrimSpace(req.Status)),
		Actor:      actor,
	}
	if err := h.statusPush.Push(ctx, cmd); err != nil {
		writeSyncError(ctx, w, err)
		return
	}

	status, _ := domain.NormalizeStatus(req.Status)
	writeJSONResponse(w, http.StatusOK, pushStatusResponse{
		Success:    true,
		ExternalID: req.ExternalID,
		Status:     string(status),
	})
}

func (h *SyncHandlers) runBackfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.backfill == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sync_service_unavailable", "backfill service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := staffActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req backfillRequest
	body, err := readLimitedBody(r, maxTriggerBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.BackfillCommand{
		ProductID: strings.TrimSpace(req.ProductID),
		Name:      strings.TrimSpace(req.Name),
		SKU:       strings.TrimSpace(req.SKU),
		Price:     req.Price,
		Actor:     actor,
	}

	report, err := h.backfill.Backfill(ctx, cmd)
	if err != nil {
		writeBackfillError(ctx, w, err, report)
		return
	}

	writeJSONResponse(w, http.StatusOK, backfillResponse{
		Success:       true,
		OrdersScanned: report.OrdersScanned,
		OrdersUpdated: report.OrdersUpdated,
	})
}

func buildSyncReportResponse(report domain.SyncReport) syncReportResponse {
	return syncReportResponse{
		Success:                     true,
		NewOrders:                   report.NewOrders,
		UpdatedOrders:               report.UpdatedOrders,
		OrdersWithUnidentifiedItems: report.OrdersWithUnidentifiedItems,
		NewClients:                  report.NewClients,
		UpdatedClients:              report.UpdatedClients,
		Failed:                      report.Failed,
		StartedAt:                   formatTime(report.StartedAt),
		FinishedAt:                  formatTime(report.FinishedAt),
	}
}

// staffActor derives the activity actor from the authenticated identity. The
// email is preferred because staff recognise each other by it in the trail.
func staffActor(ctx context.Context) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return "", false
	}
	if email := strings.TrimSpace(identity.Email); email != "" {
		return email, true
	}
	if uid := strings.TrimSpace(identity.UID); uid != "" {
		return uid, true
	}
	return "", false
}

func decodeTriggerSyncRequest(r *http.Request) (triggerSyncRequest, error) {
	var req triggerSyncRequest
	body, err := readLimitedBody(r, maxTriggerBodySize)
	if errors.Is(err, errEmptyBody) {
		return req, nil
	}
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	return req, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeThrottledError(ctx context.Context, w http.ResponseWriter, wait time.Duration) {
	retryAfter := int((wait + time.Second - 1) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httpx.WriteError(ctx, w, httpx.NewError("too_many_requests", "a sync was already requested; retry shortly", http.StatusTooManyRequests))
}

func writeSyncError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPlatformNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("platform_not_configured", "storefront platform is not configured", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPlatformUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("platform_unavailable", "storefront platform is unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrExternalIDRequired),
		errors.Is(err, services.ErrUnknownStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("sync_failed", "failed to process sync request", http.StatusInternalServerError))
	}
}

func writeBackfillError(ctx context.Context, w http.ResponseWriter, err error, report domain.BackfillReport) {
	switch {
	case errors.Is(err, services.ErrBackfillProductRequired),
		errors.Is(err, services.ErrBackfillMatchKey):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.
			NewError("backfill_incomplete", "backfill stopped before finishing the scan", http.StatusBadGateway).
			WithDetails(map[string]any{
				"ordersScanned": report.OrdersScanned,
				"ordersUpdated": report.OrdersUpdated,
			}))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxTriggerBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
