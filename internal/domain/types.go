package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage wraps one page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderSource records where an order originated.
type OrderSource string

const (
	// SourceManual marks orders entered by staff through the back-office forms.
	SourceManual OrderSource = "manual"
	// SourceExternalPlatform marks orders pulled from the storefront integration.
	SourceExternalPlatform OrderSource = "external-platform"
)

// Order is the internal representation of a customer order. Orders pulled from
// the storefront carry an ExternalID used as the natural upsert key; manual
// orders leave it nil.
type Order struct {
	ID                   string
	ExternalID           *int64
	Number               string
	CustomerName         string
	CustomerEmail        string
	Status               OrderStatus
	Currency             string
	OrderedAt            time.Time
	Items                []OrderItem
	UnidentifiedItems    []UnidentifiedItem
	HasUnidentifiedItems bool
	ShippingAddress      *Address
	BillingAddress       *Address
	Totals               OrderTotals
	Source               OrderSource
	ClientID             *string
	CustomerNote         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NormalizeUnidentified recomputes the HasUnidentifiedItems flag from the
// unidentified list. Call before every write.
func (o *Order) NormalizeUnidentified() {
	o.HasUnidentifiedItems = len(o.UnidentifiedItems) > 0
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderItem is a line item matched to a catalog product. Prices snapshot the
// catalog product at conversion time, not the storefront line price.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
	Picked    bool
}

// UnidentifiedItem is a storefront line item that matched no catalog product
// by SKU. It keeps the storefront's own price and totals verbatim so nothing
// is lost before a later backfill resolves it.
type UnidentifiedItem struct {
	ExternalProductID int64
	SKU               string
	Name              string
	Quantity          int
	UnitPrice         int64
	Total             int64
}

// Address mirrors the storefront contact shape shared by billing and shipping.
type Address struct {
	FirstName  string
	LastName   string
	Company    string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// IsZero reports whether no component of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Client is a CRM customer record. OrderIDs lists the orders already counted
// toward the aggregate fields; the list is the source of truth and the
// aggregates are a cache rebuilt by reconciliation.
type Client struct {
	ID                string
	Name              string
	Email             string
	Phone             string
	Company           string
	Address           *Address
	Active            bool
	Source            OrderSource
	TotalOrders       int
	TotalSpent        int64
	AverageOrderValue int64
	LastOrderAt       *time.Time
	OrderIDs          []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasOrder reports whether the given order id is already linked to the client.
func (c Client) HasOrder(orderID string) bool {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false
	}
	for _, id := range c.OrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// Product is the catalog record consulted when matching storefront line items.
// The SKU field doubles as the barcode scanned in the warehouse.
type Product struct {
	ID        string
	Name      string
	SKU       string
	Price     int64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActivityRecord is one append-only entry in the back-office activity log.
type ActivityRecord struct {
	ID         string
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	EntityName string
	Metadata   map[string]any
	OccurredAt time.Time
}

// SyncReport summarises one storefront sync run for the caller.
type SyncReport struct {
	NewOrders                   int
	UpdatedOrders               int
	OrdersWithUnidentifiedItems int
	NewClients                  int
	UpdatedClients              int
	Failed                      int
	StartedAt                   time.Time
	FinishedAt                  time.Time
}

// ReconcileReport summarises one aggregate reconciliation pass.
type ReconcileReport struct {
	ClientsChecked  int
	ClientsRepaired int
}

// BackfillReport summarises one unidentified-item backfill pass.
type BackfillReport struct {
	OrdersScanned int
	OrdersUpdated int
}
