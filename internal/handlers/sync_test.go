package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/platform/auth"
	"github.com/merchantdesk/api/internal/services"
)

type stubSyncService struct {
	syncFn func(context.Context, services.SyncCommand) (services.SyncReport, error)
}

func (s *stubSyncService) Sync(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
	if s.syncFn != nil {
		return s.syncFn(ctx, cmd)
	}
	return services.SyncReport{}, errors.New("not implemented")
}

type stubBackfillService struct {
	backfillFn func(context.Context, services.BackfillCommand) (services.BackfillReport, error)
}

func (s *stubBackfillService) Backfill(ctx context.Context, cmd services.BackfillCommand) (services.BackfillReport, error) {
	if s.backfillFn != nil {
		return s.backfillFn(ctx, cmd)
	}
	return services.BackfillReport{}, errors.New("not implemented")
}

type stubStatusPushService struct {
	pushFn func(context.Context, services.PushStatusCommand) error
}

func (s *stubStatusPushService) Push(ctx context.Context, cmd services.PushStatusCommand) error {
	if s.pushFn != nil {
		return s.pushFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func newSyncRouter(handler *SyncHandlers) *chi.Mux {
	router := chi.NewRouter()
	router.Route("/sync", handler.Routes)
	router.Route("/internal", handler.InternalRoutes)
	return router
}

func staffRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Email: "ops@merchantdesk.test"}))
}

func TestSyncHandlersTriggerSyncSuccess(t *testing.T) {
	started := time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC)

	var captured services.SyncCommand
	service := &stubSyncService{
		syncFn: func(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
			captured = cmd
			return services.SyncReport{
				NewOrders:                   3,
				UpdatedOrders:               1,
				OrdersWithUnidentifiedItems: 2,
				NewClients:                  1,
				UpdatedClients:              2,
				Failed:                      1,
				StartedAt:                   started,
				FinishedAt:                  started.Add(2 * time.Second),
			}, nil
		},
	}

	handler := NewSyncHandlers(nil, service, nil, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders", `{"pageSize":25}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor != "ops@merchantdesk.test" {
		t.Fatalf("expected actor from identity email, got %q", captured.Actor)
	}
	if captured.PageSize != 25 {
		t.Fatalf("expected page size 25, got %d", captured.PageSize)
	}

	var resp syncReportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success true")
	}
	if resp.NewOrders != 3 || resp.UpdatedOrders != 1 || resp.Failed != 1 {
		t.Fatalf("unexpected order counts: %#v", resp)
	}
	if resp.OrdersWithUnidentifiedItems != 2 {
		t.Fatalf("expected 2 orders with unidentified items, got %d", resp.OrdersWithUnidentifiedItems)
	}
	if resp.NewClients != 1 || resp.UpdatedClients != 2 {
		t.Fatalf("unexpected client counts: %#v", resp)
	}
	if resp.StartedAt != "2026-02-27T09:00:00Z" {
		t.Fatalf("unexpected startedAt: %q", resp.StartedAt)
	}
	if resp.FinishedAt != "2026-02-27T09:00:02Z" {
		t.Fatalf("unexpected finishedAt: %q", resp.FinishedAt)
	}
}

func TestSyncHandlersTriggerSyncAllowsEmptyBody(t *testing.T) {
	var captured services.SyncCommand
	service := &stubSyncService{
		syncFn: func(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
			captured = cmd
			return services.SyncReport{}, nil
		},
	}

	handler := NewSyncHandlers(nil, service, nil, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PageSize != 0 {
		t.Fatalf("expected default page size, got %d", captured.PageSize)
	}
}

func TestSyncHandlersTriggerSyncInvalidJSON(t *testing.T) {
	handler := NewSyncHandlers(nil, &stubSyncService{}, nil, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders", `{"pageSize":`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSyncHandlersTriggerSyncBodyTooLarge(t *testing.T) {
	handler := NewSyncHandlers(nil, &stubSyncService{}, nil, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders", `{"pad":"`+strings.Repeat("x", maxTriggerBodySize+16)+`"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestSyncHandlersTriggerSyncUnauthenticated(t *testing.T) {
	handler := NewSyncHandlers(nil, &stubSyncService{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/sync/orders", nil)
	rr := httptest.NewRecorder()
	handler.triggerSync(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestSyncHandlersTriggerSyncServiceUnavailable(t *testing.T) {
	handler := NewSyncHandlers(nil, nil, nil, nil)

	req := staffRequest(http.MethodPost, "/sync/orders", "")
	rr := httptest.NewRecorder()
	handler.triggerSync(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestSyncHandlersTriggerSyncPlatformNotConfigured(t *testing.T) {
	service := &stubSyncService{
		syncFn: func(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
			return services.SyncReport{}, services.ErrPlatformNotConfigured
		},
	}
	handler := NewSyncHandlers(nil, service, nil, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "platform_not_configured" {
		t.Fatalf("unexpected error code: %#v", payload["error"])
	}
}

func TestSyncHandlersTriggerSyncPlatformUnavailable(t *testing.T) {
	service := &stubSyncService{
		syncFn: func(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
			return services.SyncReport{}, services.ErrPlatformUnavailable
		},
	}
	handler := NewSyncHandlers(nil, service, nil, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "platform_unavailable" {
		t.Fatalf("unexpected error code: %#v", payload["error"])
	}
}

func TestSyncHandlersScheduledSyncUsesSchedulerActor(t *testing.T) {
	var captured services.SyncCommand
	service := &stubSyncService{
		syncFn: func(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
			captured = cmd
			return services.SyncReport{NewOrders: 1}, nil
		},
	}

	handler := NewSyncHandlers(nil, service, nil, nil)
	router := newSyncRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/internal/sync/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor != "scheduler" {
		t.Fatalf("expected scheduler actor, got %q", captured.Actor)
	}
}

func TestSyncHandlersPushStatusSuccess(t *testing.T) {
	var captured services.PushStatusCommand
	service := &stubStatusPushService{
		pushFn: func(ctx context.Context, cmd services.PushStatusCommand) error {
			captured = cmd
			return nil
		},
	}

	handler := NewSyncHandlers(nil, nil, nil, service)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders/status", `{"externalId":101,"status":"shipped"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ExternalID != 101 {
		t.Fatalf("expected external id 101, got %d", captured.ExternalID)
	}
	if captured.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected status: %q", captured.Status)
	}
	if captured.Actor != "ops@merchantdesk.test" {
		t.Fatalf("unexpected actor: %q", captured.Actor)
	}

	var resp pushStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.ExternalID != 101 || resp.Status != "shipped" {
		t.Fatalf("unexpected payload: %#v", resp)
	}
}

func TestSyncHandlersPushStatusEchoesCanonicalAlias(t *testing.T) {
	service := &stubStatusPushService{
		pushFn: func(ctx context.Context, cmd services.PushStatusCommand) error {
			return nil
		},
	}

	handler := NewSyncHandlers(nil, nil, nil, service)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders/status", `{"externalId":7,"status":"Ready"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp pushStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(domain.OrderStatusPrepared) {
		t.Fatalf("expected canonical status prepared, got %q", resp.Status)
	}
}

func TestSyncHandlersPushStatusRequiresBody(t *testing.T) {
	handler := NewSyncHandlers(nil, nil, nil, &stubStatusPushService{})
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders/status", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSyncHandlersPushStatusRejectsUnknownStatus(t *testing.T) {
	service := &stubStatusPushService{
		pushFn: func(ctx context.Context, cmd services.PushStatusCommand) error {
			return services.ErrUnknownStatus
		},
	}

	handler := NewSyncHandlers(nil, nil, nil, service)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders/status", `{"externalId":7,"status":"teleported"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "invalid_request" {
		t.Fatalf("unexpected error code: %#v", payload["error"])
	}
}

func TestSyncHandlersPushStatusPlatformNotConfigured(t *testing.T) {
	service := &stubStatusPushService{
		pushFn: func(ctx context.Context, cmd services.PushStatusCommand) error {
			return services.ErrPlatformNotConfigured
		},
	}

	handler := NewSyncHandlers(nil, nil, nil, service)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/orders/status", `{"externalId":7,"status":"shipped"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestSyncHandlersBackfillSuccess(t *testing.T) {
	var captured services.BackfillCommand
	service := &stubBackfillService{
		backfillFn: func(ctx context.Context, cmd services.BackfillCommand) (services.BackfillReport, error) {
			captured = cmd
			return services.BackfillReport{OrdersScanned: 4, OrdersUpdated: 2}, nil
		},
	}

	handler := NewSyncHandlers(nil, nil, service, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/backfill", `{"productId":" pr_keyboard ","name":"Mechanical Keyboard","sku":" KB-100 ","price":12500}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "pr_keyboard" || captured.SKU != "KB-100" {
		t.Fatalf("expected trimmed identifiers, got %#v", captured)
	}
	if captured.Name != "Mechanical Keyboard" || captured.Price != 12500 {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.Actor != "ops@merchantdesk.test" {
		t.Fatalf("unexpected actor: %q", captured.Actor)
	}

	var resp backfillResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.OrdersScanned != 4 || resp.OrdersUpdated != 2 {
		t.Fatalf("unexpected payload: %#v", resp)
	}
}

func TestSyncHandlersBackfillValidationError(t *testing.T) {
	service := &stubBackfillService{
		backfillFn: func(ctx context.Context, cmd services.BackfillCommand) (services.BackfillReport, error) {
			return services.BackfillReport{}, services.ErrBackfillProductRequired
		},
	}

	handler := NewSyncHandlers(nil, nil, service, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/backfill", `{"name":"Mechanical Keyboard"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSyncHandlersBackfillPartialFailure(t *testing.T) {
	service := &stubBackfillService{
		backfillFn: func(ctx context.Context, cmd services.BackfillCommand) (services.BackfillReport, error) {
			return services.BackfillReport{OrdersScanned: 3, OrdersUpdated: 1}, errors.New("list unidentified orders: deadline exceeded")
		},
	}

	handler := NewSyncHandlers(nil, nil, service, nil)
	router := newSyncRouter(handler)

	req := staffRequest(http.MethodPost, "/sync/backfill", `{"productId":"pr_keyboard","sku":"KB-100","price":12500}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "backfill_incomplete" {
		t.Fatalf("unexpected error code: %#v", payload["error"])
	}
	if payload["ordersScanned"] != float64(3) || payload["ordersUpdated"] != float64(1) {
		t.Fatalf("expected partial progress in payload, got %#v", payload)
	}
}

func TestSyncHandlersTriggerSyncThrottled(t *testing.T) {
	now := time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC)
	service := &stubSyncService{
		syncFn: func(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
			return services.SyncReport{}, nil
		},
	}

	handler := NewSyncHandlers(nil, service, nil, nil,
		WithTriggerLimit(1, time.Minute),
		WithTriggerClock(func() time.Time { return now }),
	)
	router := newSyncRouter(handler)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, staffRequest(http.MethodPost, "/sync/orders", ""))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first trigger to pass, got %d: %s", first.Code, first.Body.String())
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, staffRequest(http.MethodPost, "/sync/orders", ""))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", second.Code)
	}
	if got := second.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(second.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "too_many_requests" {
		t.Fatalf("unexpected error code: %#v", payload["error"])
	}
}

func TestSyncHandlersScheduledSyncBypassesThrottle(t *testing.T) {
	service := &stubSyncService{
		syncFn: func(ctx context.Context, cmd services.SyncCommand) (services.SyncReport, error) {
			return services.SyncReport{}, nil
		},
	}

	handler := NewSyncHandlers(nil, service, nil, nil, WithTriggerLimit(1, time.Minute))
	router := newSyncRouter(handler)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/sync/orders", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("scheduled run %d: expected status 200, got %d", i+1, rr.Code)
		}
	}
}
