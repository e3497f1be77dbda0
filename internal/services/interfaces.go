package services

import (
	"context"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/platform/commerce"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	UnidentifiedItem   = domain.UnidentifiedItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	Address            = domain.Address
	Client             = domain.Client
	Product            = domain.Product
	ActivityRecord     = domain.ActivityRecord
	SyncReport         = domain.SyncReport
	ReconcileReport    = domain.ReconcileReport
	BackfillReport     = domain.BackfillReport
	SystemHealthReport = domain.SystemHealthReport
)

// SyncService pulls one page of storefront orders and upserts them into the
// back office, reconciling client aggregates after every run.
type SyncService interface {
	Sync(ctx context.Context, cmd SyncCommand) (SyncReport, error)
}

// BackfillService re-matches unidentified order lines after a catalog product
// is created.
type BackfillService interface {
	Backfill(ctx context.Context, cmd BackfillCommand) (BackfillReport, error)
}

// StatusPushService pushes an internal status change back to the storefront.
// Best effort: a failure never touches internal state.
type StatusPushService interface {
	Push(ctx context.Context, cmd PushStatusCommand) error
}

// SystemService aggregates utility endpoints (health checks, build metadata).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ActivityService appends immutable back-office activity entries. Failures are
// logged, never surfaced, so activity writes cannot interrupt a sync run.
type ActivityService interface {
	Record(ctx context.Context, cmd ActivityCommand)
}

// CatalogMatcher resolves storefront SKUs against the product catalog.
type CatalogMatcher interface {
	FindBySKU(ctx context.Context, sku string) (Product, bool, error)
}

// OrderConverter maps one storefront payload into the internal order model
// plus the client-resolution intent derived from the billing contact.
type OrderConverter interface {
	Convert(ctx context.Context, source commerce.Order) (ConvertedOrder, error)
}

// ClientResolver finds or creates the client a converted order belongs to.
type ClientResolver interface {
	Resolve(ctx context.Context, intent *ClientIntent) (*Client, bool, error)
}

// StatsReconciler owns the transactional order-to-client linkage and the
// self-healing aggregate recompute.
type StatsReconciler interface {
	LinkOrder(ctx context.Context, clientID string, orderID string, total int64, at time.Time) (bool, error)
	ReconcileAll(ctx context.Context) (ReconcileReport, error)
}

// StorefrontGateway is the commerce API surface the sync engine consumes.
type StorefrontGateway interface {
	ListOrders(ctx context.Context, req commerce.ListOrdersRequest) ([]commerce.Order, error)
	UpdateOrderStatus(ctx context.Context, creds commerce.Credentials, externalID int64, status string) error
}

// CredentialsSource resolves the storefront credentials at call time so a
// settings change is picked up on the next run without a restart.
type CredentialsSource func(ctx context.Context) commerce.Credentials

// SyncEventPublisher broadcasts sync lifecycle events for downstream consumers.
type SyncEventPublisher interface {
	PublishSyncEvent(ctx context.Context, event SyncEvent) error
}

// Command and DTO definitions ------------------------------------------------

type SyncCommand struct {
	Actor    string
	PageSize int
}

type BackfillCommand struct {
	ProductID string
	Name      string
	SKU       string
	Price     int64
	Actor     string
}

type PushStatusCommand struct {
	ExternalID int64
	Status     OrderStatus
	Actor      string
}

type ActivityCommand struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	EntityName string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ConvertedOrder pairs the converted order with the intent used to resolve its
// client. Client is nil when the payload carried no billing email.
type ConvertedOrder struct {
	Order  Order
	Client *ClientIntent
}

// ClientIntent carries the client profile fields extractable from one
// storefront order.
type ClientIntent struct {
	Name    string
	Email   string
	Phone   string
	Company string
	Address *Address
}

// SyncEvent is published after a sync run completes.
type SyncEvent struct {
	Type       string
	Actor      string
	Report     SyncReport
	OccurredAt time.Time
}
