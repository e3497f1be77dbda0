package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/merchantdesk/api/internal/domain"
	pfirestore "github.com/merchantdesk/api/internal/platform/firestore"
	"github.com/merchantdesk/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents and the lookups the sync engine
// upserts through.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Patch applies the non-nil fields of the patch to the stored order.
func (r *OrderRepository) Patch(ctx context.Context, orderID string, patch repositories.OrderPatch) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	updates := make([]firestore.Update, 0, 8)
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(patch.Status.Canonical())})
	}
	if patch.Items != nil {
		updates = append(updates, firestore.Update{Path: "items", Value: encodeOrderItems(*patch.Items)})
	}
	if patch.UnidentifiedItems != nil {
		updates = append(updates, firestore.Update{Path: "unidentifiedItems", Value: encodeUnidentifiedItems(*patch.UnidentifiedItems)})
	}
	if patch.HasUnidentifiedItems != nil {
		updates = append(updates, firestore.Update{Path: "hasUnidentifiedItems", Value: *patch.HasUnidentifiedItems})
	}
	if patch.Totals != nil {
		updates = append(updates, firestore.Update{Path: "totals", Value: encodeOrderTotals(*patch.Totals)})
	}
	if patch.ClientID != nil {
		updates = append(updates, firestore.Update{Path: "clientId", Value: strings.TrimSpace(*patch.ClientID)})
	}
	if len(updates) == 0 {
		return nil
	}

	updatedAt := patch.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt})

	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("orders.patch", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByExternalID resolves the (source, externalId) natural key used to
// upsert storefront orders.
func (r *OrderRepository) FindByExternalID(ctx context.Context, source domain.OrderSource, externalID int64) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if externalID <= 0 {
		return domain.Order{}, errors.New("order repository: external id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("source", "==", string(source)).
			Where("externalId", "==", externalID).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_external_id", status.Error(codes.NotFound, "order not found"))
	}
	doc := docs[0]
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListUnidentified pages through orders still carrying unidentified items,
// oldest first so repeated backfill passes drain the backlog front to back.
func (r *OrderRepository) ListUnidentified(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeScanToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("hasUnidentifiedItems", "==", true).
			OrderBy("orderedAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.OrderedAt
		if tokenTime.IsZero() {
			tokenTime = last.UpdateTime
		}
		nextToken = encodeScanToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// GetByIDs fetches the given orders in one round trip. IDs that no longer
// resolve to a document are dropped, which is what lets reconciliation shed
// dangling references.
func (r *OrderRepository) GetByIDs(ctx context.Context, orderIDs []string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if len(orderIDs) == 0 {
		return nil, nil
	}

	docs, err := r.base.GetAll(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return orders, nil
}

type orderDocument struct {
	ExternalID           *int64                     `firestore:"externalId,omitempty"`
	Number               string                     `firestore:"number"`
	CustomerName         string                     `firestore:"customerName"`
	CustomerEmail        string                     `firestore:"customerEmail"`
	Status               string                     `firestore:"status"`
	Currency             string                     `firestore:"currency"`
	OrderedAt            time.Time                  `firestore:"orderedAt"`
	Items                []orderItemDocument        `firestore:"items"`
	UnidentifiedItems    []unidentifiedItemDocument `firestore:"unidentifiedItems"`
	HasUnidentifiedItems bool                       `firestore:"hasUnidentifiedItems"`
	ShippingAddress      *addressDocument           `firestore:"shippingAddress,omitempty"`
	BillingAddress       *addressDocument           `firestore:"billingAddress,omitempty"`
	Totals               orderTotalsDocument        `firestore:"totals"`
	Source               string                     `firestore:"source"`
	ClientID             string                     `firestore:"clientId,omitempty"`
	CustomerNote         string                     `firestore:"customerNote,omitempty"`
	CreatedAt            time.Time                  `firestore:"createdAt"`
	UpdatedAt            time.Time                  `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
	Picked    bool   `firestore:"picked"`
}

type unidentifiedItemDocument struct {
	ExternalProductID int64  `firestore:"externalProductId"`
	SKU               string `firestore:"sku,omitempty"`
	Name              string `firestore:"name"`
	Quantity          int    `firestore:"quantity"`
	UnitPrice         int64  `firestore:"unitPrice"`
	Total             int64  `firestore:"total"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type addressDocument struct {
	FirstName  string `firestore:"firstName,omitempty"`
	LastName   string `firestore:"lastName,omitempty"`
	Company    string `firestore:"company,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ExternalID:           order.ExternalID,
		Number:               strings.TrimSpace(order.Number),
		CustomerName:         strings.TrimSpace(order.CustomerName),
		CustomerEmail:        strings.TrimSpace(order.CustomerEmail),
		Status:               string(order.Status.Canonical()),
		Currency:             strings.TrimSpace(order.Currency),
		OrderedAt:            order.OrderedAt.UTC(),
		Items:                encodeOrderItems(order.Items),
		UnidentifiedItems:    encodeUnidentifiedItems(order.UnidentifiedItems),
		HasUnidentifiedItems: len(order.UnidentifiedItems) > 0,
		ShippingAddress:      encodeAddress(order.ShippingAddress),
		BillingAddress:       encodeAddress(order.BillingAddress),
		Totals:               encodeOrderTotals(order.Totals),
		Source:               string(order.Source),
		CustomerNote:         order.CustomerNote,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
	}
	if order.ClientID != nil {
		doc.ClientID = strings.TrimSpace(*order.ClientID)
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	status, _ := domain.NormalizeStatus(doc.Status)
	order := domain.Order{
		ID:                strings.TrimSpace(id),
		ExternalID:        doc.ExternalID,
		Number:            strings.TrimSpace(doc.Number),
		CustomerName:      strings.TrimSpace(doc.CustomerName),
		CustomerEmail:     strings.TrimSpace(doc.CustomerEmail),
		Status:            status,
		Currency:          strings.TrimSpace(doc.Currency),
		OrderedAt:         doc.OrderedAt.UTC(),
		Items:             decodeOrderItems(doc.Items),
		UnidentifiedItems: decodeUnidentifiedItems(doc.UnidentifiedItems),
		ShippingAddress:   decodeAddress(doc.ShippingAddress),
		BillingAddress:    decodeAddress(doc.BillingAddress),
		Totals:            decodeOrderTotals(doc.Totals),
		Source:            domain.OrderSource(strings.TrimSpace(doc.Source)),
		CustomerNote:      doc.CustomerNote,
		CreatedAt:         chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:         chooseTime(doc.UpdatedAt, updatedAt),
	}
	if clientID := strings.TrimSpace(doc.ClientID); clientID != "" {
		order.ClientID = &clientID
	}
	order.NormalizeUnidentified()
	return order
}

func encodeOrderItems(items []domain.OrderItem) []orderItemDocument {
	if len(items) == 0 {
		return []orderItemDocument{}
	}
	docs := make([]orderItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
			Picked:    item.Picked,
		})
	}
	return docs
}

func decodeOrderItems(docs []orderItemDocument) []domain.OrderItem {
	if len(docs) == 0 {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(doc.ProductID),
			Name:      strings.TrimSpace(doc.Name),
			Quantity:  doc.Quantity,
			UnitPrice: doc.UnitPrice,
			Total:     doc.Total,
			Picked:    doc.Picked,
		})
	}
	return items
}

func encodeUnidentifiedItems(items []domain.UnidentifiedItem) []unidentifiedItemDocument {
	if len(items) == 0 {
		return []unidentifiedItemDocument{}
	}
	docs := make([]unidentifiedItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, unidentifiedItemDocument{
			ExternalProductID: item.ExternalProductID,
			SKU:               strings.TrimSpace(item.SKU),
			Name:              strings.TrimSpace(item.Name),
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			Total:             item.Total,
		})
	}
	return docs
}

func decodeUnidentifiedItems(docs []unidentifiedItemDocument) []domain.UnidentifiedItem {
	if len(docs) == 0 {
		return nil
	}
	items := make([]domain.UnidentifiedItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.UnidentifiedItem{
			ExternalProductID: doc.ExternalProductID,
			SKU:               strings.TrimSpace(doc.SKU),
			Name:              strings.TrimSpace(doc.Name),
			Quantity:          doc.Quantity,
			UnitPrice:         doc.UnitPrice,
			Total:             doc.Total,
		})
	}
	return items
}

func encodeOrderTotals(totals domain.OrderTotals) orderTotalsDocument {
	return orderTotalsDocument{
		Subtotal: totals.Subtotal,
		Discount: totals.Discount,
		Shipping: totals.Shipping,
		Tax:      totals.Tax,
		Total:    totals.Total,
	}
}

func decodeOrderTotals(doc orderTotalsDocument) domain.OrderTotals {
	return domain.OrderTotals{
		Subtotal: doc.Subtotal,
		Discount: doc.Discount,
		Shipping: doc.Shipping,
		Tax:      doc.Tax,
		Total:    doc.Total,
	}
}

func encodeAddress(addr *domain.Address) *addressDocument {
	if addr == nil || addr.IsZero() {
		return nil
	}
	return &addressDocument{
		FirstName:  strings.TrimSpace(addr.FirstName),
		LastName:   strings.TrimSpace(addr.LastName),
		Company:    strings.TrimSpace(addr.Company),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}

func decodeAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	addr := domain.Address{
		FirstName:  strings.TrimSpace(doc.FirstName),
		LastName:   strings.TrimSpace(doc.LastName),
		Company:    strings.TrimSpace(doc.Company),
		Line1:      strings.TrimSpace(doc.Line1),
		Line2:      strings.TrimSpace(doc.Line2),
		City:       strings.TrimSpace(doc.City),
		State:      strings.TrimSpace(doc.State),
		PostalCode: strings.TrimSpace(doc.PostalCode),
		Country:    strings.TrimSpace(doc.Country),
		Phone:      strings.TrimSpace(doc.Phone),
	}
	if addr.IsZero() {
		return nil
	}
	return &addr
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	if value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func encodeScanToken(at time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", at.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeScanToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}
