package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/platform/commerce"
	"github.com/merchantdesk/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	defaultSyncPageSize = 50
	maxSyncPageSize     = 100

	actionOrderSyncCreate  = "order.sync.create"
	actionOrderSyncUpdate  = "order.sync.update"
	actionOrdersSyncBatch  = "orders.sync.completed"
	eventOrdersSyncDone    = "orders.sync.completed"
	syncActivityEntityType = "order"
)

var (
	errSyncActorRequired     = errors.New("sync: actor is required")
	errPlatformNotConfigured = errors.New("sync: storefront platform not configured")
	errPlatformUnavailable   = errors.New("sync: storefront platform unavailable")
)

var (
	// ErrPlatformNotConfigured indicates storefront credentials are absent or incomplete.
	ErrPlatformNotConfigured = errPlatformNotConfigured
	// ErrPlatformUnavailable indicates the storefront rejected or never received the batch fetch.
	ErrPlatformUnavailable = errPlatformUnavailable
)

// SyncServiceDeps bundles the collaborators required to construct a sync service.
type SyncServiceDeps struct {
	Orders      repositories.OrderRepository
	Converter   OrderConverter
	Resolver    ClientResolver
	Reconciler  StatsReconciler
	Gateway     StorefrontGateway
	Credentials CredentialsSource
	Events      SyncEventPublisher
	Activity    ActivityService
	UnitOfWork  repositories.UnitOfWork
	PageSize    int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type syncService struct {
	orders      repositories.OrderRepository
	converter   OrderConverter
	resolver    ClientResolver
	reconciler  StatsReconciler
	gateway     StorefrontGateway
	credentials CredentialsSource
	events      SyncEventPublisher
	activity    ActivityService
	unitOfWork  repositories.UnitOfWork
	pageSize    int
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

var _ SyncService = (*syncService)(nil)

// NewSyncService wires dependencies into a concrete SyncService implementation.
func NewSyncService(deps SyncServiceDeps) (SyncService, error) {
	if deps.Orders == nil {
		return nil, errors.New("sync service: order repository is required")
	}
	if deps.Converter == nil {
		return nil, errors.New("sync service: order converter is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("sync service: client resolver is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("sync service: stats reconciler is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("sync service: storefront gateway is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("sync service: credentials source is required")
	}

	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultSyncPageSize
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &syncService{
		orders:      deps.Orders,
		converter:   deps.Converter,
		resolver:    deps.Resolver,
		reconciler:  deps.Reconciler,
		gateway:     deps.Gateway,
		credentials: deps.Credentials,
		events:      deps.Events,
		activity:    deps.Activity,
		unitOfWork:  deps.UnitOfWork,
		pageSize:    pageSize,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Sync pulls one page of storefront orders and upserts each by its external
// id. A single bad order is logged and counted, never fatal; only a missing
// configuration or a failed batch fetch aborts the run. Every run finishes
// with a full aggregate reconcile so counting errors self-heal.
func (s *syncService) Sync(ctx context.Context, cmd SyncCommand) (domain.SyncReport, error) {
	if ctx == nil {
		return domain.SyncReport{}, errors.New("sync service: context is required")
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return domain.SyncReport{}, errSyncActorRequired
	}

	report := domain.SyncReport{StartedAt: s.clock()}

	creds := s.credentials(ctx)
	if !creds.Configured() {
		return report, errPlatformNotConfigured
	}

	pageSize := cmd.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	if pageSize > maxSyncPageSize {
		pageSize = maxSyncPageSize
	}

	externalOrders, err := s.gateway.ListOrders(ctx, commerce.ListOrdersRequest{
		Credentials: creds,
		Page:        1,
		PageSize:    pageSize,
	})
	if err != nil {
		return report, mapGatewayError(err)
	}

	for _, external := range externalOrders {
		if err := s.syncOne(ctx, actor, external, &report); err != nil {
			report.Failed++
			s.logger(ctx, "sync.order.failed", map[string]any{
				"externalId": external.ID,
				"error":      err.Error(),
			})
		}
	}

	if _, err := s.reconciler.ReconcileAll(ctx); err != nil {
		s.logger(ctx, "sync.reconcile.failed", map[string]any{
			"error": err.Error(),
		})
	}

	report.FinishedAt = s.clock()

	s.publishCompleted(ctx, actor, report)
	s.recordBatchActivity(ctx, actor, report)

	return report, nil
}

// syncOne upserts a single storefront order. The external id is the natural
// key: a duplicate id later in the same batch finds the order persisted
// moments earlier and flows through the update path instead of inserting
// twice.
func (s *syncService) syncOne(ctx context.Context, actor string, external commerce.Order, report *domain.SyncReport) error {
	existing, err := s.orders.FindByExternalID(ctx, domain.SourceExternalPlatform, external.ID)
	if err != nil && !isNotFound(err) {
		return err
	}

	converted, convErr := s.converter.Convert(ctx, external)
	if convErr != nil {
		return convErr
	}

	if isNotFound(err) {
		return s.insertOrder(ctx, actor, converted, report)
	}
	return s.updateOrder(ctx, actor, existing, converted, report)
}

func (s *syncService) insertOrder(ctx context.Context, actor string, converted ConvertedOrder, report *domain.SyncReport) error {
	client, _, err := s.resolver.Resolve(ctx, converted.Client)
	if err != nil {
		return err
	}

	order := converted.Order
	order.ID = s.nextOrderID()
	if client != nil {
		clientID := client.ID
		order.ClientID = &clientID
	}

	err = s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Insert(ctx, order); err != nil {
			return err
		}
		if client == nil {
			return nil
		}
		_, err := s.reconciler.LinkOrder(ctx, client.ID, order.ID, order.Totals.Total, order.OrderedAt)
		return err
	})
	if err != nil {
		return err
	}

	if client != nil {
		// The resolver pre-increments a freshly created client to one, so a
		// count at or below one means this order is the client's first.
		if client.TotalOrders <= 1 {
			report.NewClients++
		} else {
			report.UpdatedClients++
		}
	}

	report.NewOrders++
	if order.HasUnidentifiedItems {
		report.OrdersWithUnidentifiedItems++
	}

	s.recordOrderActivity(ctx, actor, actionOrderSyncCreate, order)
	s.logger(ctx, "sync.order.created", map[string]any{
		"orderId":    order.ID,
		"externalId": external64(order.ExternalID),
		"status":     string(order.Status),
	})
	return nil
}

func (s *syncService) updateOrder(ctx context.Context, actor string, existing domain.Order, converted ConvertedOrder, report *domain.SyncReport) error {
	client, _, err := s.resolver.Resolve(ctx, converted.Client)
	if err != nil {
		return err
	}

	patch, clientChanged, changed := buildOrderPatch(existing, converted.Order, client, s.clock())
	if !changed {
		return nil
	}

	if err := s.orders.Patch(ctx, existing.ID, patch); err != nil {
		return err
	}

	if clientChanged && client != nil {
		if _, err := s.reconciler.LinkOrder(ctx, client.ID, existing.ID, converted.Order.Totals.Total, converted.Order.OrderedAt); err != nil {
			return err
		}
	}

	updated := existing
	updated.Status = converted.Order.Status
	updated.Totals = converted.Order.Totals
	updated.HasUnidentifiedItems = converted.Order.HasUnidentifiedItems

	report.UpdatedOrders++

	s.recordOrderActivity(ctx, actor, actionOrderSyncUpdate, updated)
	s.logger(ctx, "sync.order.updated", map[string]any{
		"orderId":    existing.ID,
		"externalId": external64(existing.ExternalID),
	})
	return nil
}

// buildOrderPatch diffs the freshly converted order against the stored one
// across the fields a storefront change can legitimately move. Picked flags
// are warehouse state, not storefront state, so item comparison ignores them;
// a genuine line-item change still resets them with the new items.
func buildOrderPatch(existing domain.Order, latest domain.Order, client *domain.Client, now time.Time) (repositories.OrderPatch, bool, bool) {
	patch := repositories.OrderPatch{UpdatedAt: now}
	changed := false
	clientChanged := false

	if existing.Status.Canonical() != latest.Status {
		status := latest.Status
		patch.Status = &status
		changed = true
	}
	if !equalOrderItems(existing.Items, latest.Items) {
		items := slices.Clone(latest.Items)
		patch.Items = &items
		changed = true
	}
	if !slices.Equal(existing.UnidentifiedItems, latest.UnidentifiedItems) {
		unidentified := slices.Clone(latest.UnidentifiedItems)
		patch.UnidentifiedItems = &unidentified
		changed = true
	}
	if existing.HasUnidentifiedItems != latest.HasUnidentifiedItems {
		flag := latest.HasUnidentifiedItems
		patch.HasUnidentifiedItems = &flag
		changed = true
	}
	if existing.Totals != latest.Totals {
		totals := latest.Totals
		patch.Totals = &totals
		changed = true
	}
	if client != nil {
		currentID := ""
		if existing.ClientID != nil {
			currentID = *existing.ClientID
		}
		if currentID != client.ID {
			clientID := client.ID
			patch.ClientID = &clientID
			changed = true
			clientChanged = true
		}
	}

	return patch, clientChanged, changed
}

// equalOrderItems compares line items while ignoring the warehouse Picked flag.
func equalOrderItems(a []domain.OrderItem, b []domain.OrderItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		left, right := a[i], b[i]
		left.Picked = false
		right.Picked = false
		if left != right {
			return false
		}
	}
	return true
}

func (s *syncService) publishCompleted(ctx context.Context, actor string, report domain.SyncReport) {
	if s.events == nil {
		return
	}
	event := SyncEvent{
		Type:       eventOrdersSyncDone,
		Actor:      actor,
		Report:     report,
		OccurredAt: report.FinishedAt,
	}
	if err := s.events.PublishSyncEvent(ctx, event); err != nil {
		s.logger(ctx, "sync.event.publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *syncService) recordOrderActivity(ctx context.Context, actor string, action string, order domain.Order) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, ActivityCommand{
		Actor:      actor,
		Action:     action,
		EntityType: syncActivityEntityType,
		EntityID:   order.ID,
		EntityName: order.Number,
		Metadata: map[string]any{
			"externalId":           external64(order.ExternalID),
			"status":               string(order.Status),
			"total":                order.Totals.Total,
			"hasUnidentifiedItems": order.HasUnidentifiedItems,
		},
	})
}

func (s *syncService) recordBatchActivity(ctx context.Context, actor string, report domain.SyncReport) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, ActivityCommand{
		Actor:      actor,
		Action:     actionOrdersSyncBatch,
		EntityType: "sync",
		EntityID:   "orders",
		Metadata: map[string]any{
			"newOrders":                   report.NewOrders,
			"updatedOrders":               report.UpdatedOrders,
			"ordersWithUnidentifiedItems": report.OrdersWithUnidentifiedItems,
			"newClients":                  report.NewClients,
			"updatedClients":              report.UpdatedClients,
			"failed":                      report.Failed,
		},
	})
}

func (s *syncService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *syncService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, commerce.ErrNotConfigured):
		return errors.Join(errPlatformNotConfigured, err)
	default:
		return errors.Join(errPlatformUnavailable, err)
	}
}

func external64(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
