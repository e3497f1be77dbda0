package repositories

import (
	"context"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Clients() ClientRepository
	Products() ProductRepository
	Activity() ActivityRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and the query helpers the sync
// engine upserts through.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Patch(ctx context.Context, orderID string, patch OrderPatch) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByExternalID resolves the natural upsert key for storefront orders.
	FindByExternalID(ctx context.Context, source domain.OrderSource, externalID int64) (domain.Order, error)
	// ListUnidentified pages through orders still flagged as carrying
	// unidentified items, oldest first so backfill reaches the backlog.
	ListUnidentified(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// GetByIDs fetches the given orders, silently dropping ids that no longer
	// resolve to a document.
	GetByIDs(ctx context.Context, orderIDs []string) ([]domain.Order, error)
}

// OrderPatch carries the mutable order fields written during sync updates and
// backfill. Nil fields are left untouched.
type OrderPatch struct {
	Status               *domain.OrderStatus
	Items                *[]domain.OrderItem
	UnidentifiedItems    *[]domain.UnidentifiedItem
	HasUnidentifiedItems *bool
	Totals               *domain.OrderTotals
	ClientID             *string
	UpdatedAt            time.Time
}

// ClientRepository persists CRM client documents keyed by email lookups and
// owns the transactional order linkage.
type ClientRepository interface {
	Insert(ctx context.Context, client domain.Client) error
	Patch(ctx context.Context, clientID string, patch ClientPatch) error
	FindByID(ctx context.Context, clientID string) (domain.Client, error)
	FindByEmail(ctx context.Context, email string) (domain.Client, error)
	// LinkOrder appends the order id and bumps the aggregates in one
	// transaction. Returns false without writing when the id is already
	// linked.
	LinkOrder(ctx context.Context, clientID string, orderID string, total int64, at time.Time) (bool, error)
	// ListWithOrders pages through clients whose cached order count is
	// positive, the candidate set for aggregate reconciliation.
	ListWithOrders(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Client], error)
	// OverwriteAggregates replaces the cached aggregate fields wholesale with
	// values recomputed from the linked orders.
	OverwriteAggregates(ctx context.Context, clientID string, aggregates ClientAggregates) error
}

// ClientPatch carries the profile fields the resolver may refresh from
// storefront data. Nil fields are left untouched; blank values never land
// here.
type ClientPatch struct {
	Name      *string
	Phone     *string
	Company   *string
	Address   *domain.Address
	UpdatedAt time.Time
}

// ClientAggregates is the recomputed cache written by reconciliation.
type ClientAggregates struct {
	OrderIDs          []string
	TotalOrders       int
	TotalSpent        int64
	AverageOrderValue int64
	LastOrderAt       *time.Time
	UpdatedAt         time.Time
}

// ProductRepository reads the catalog collection maintained by the product
// CRUD screens.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindBySKU runs an indexed equality query on the barcode field with
	// limit 1; the first of any duplicates wins.
	FindBySKU(ctx context.Context, sku string) (domain.Product, error)
}

// ActivityRepository appends immutable back-office activity entries. The sync
// engine only writes here; the feed is read by screens outside this service.
type ActivityRepository interface {
	Append(ctx context.Context, record domain.ActivityRecord) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
