package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/merchantdesk/api/internal/domain"
	pfirestore "github.com/merchantdesk/api/internal/platform/firestore"
	"github.com/merchantdesk/api/internal/repositories"
)

const clientsCollection = "clients"

// ClientRepository persists CRM client documents. Order linkage runs inside a
// Firestore transaction so the orderIds append and the aggregate bump can
// never diverge under concurrent syncs.
type ClientRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[clientDocument]
}

// NewClientRepository constructs a Firestore-backed client repository.
func NewClientRepository(provider *pfirestore.Provider) (*ClientRepository, error) {
	if provider == nil {
		return nil, errors.New("client repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[clientDocument](provider, clientsCollection, nil, nil)
	return &ClientRepository{provider: provider, base: base}, nil
}

// Insert stores a new client document. The ID must be unique.
func (r *ClientRepository) Insert(ctx context.Context, client domain.Client) error {
	if r == nil || r.base == nil {
		return errors.New("client repository not initialised")
	}
	clientID := strings.TrimSpace(client.ID)
	if clientID == "" {
		return errors.New("client repository: client id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, clientID)
	if err != nil {
		return err
	}
	doc := encodeClientDocument(client)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("clients.insert", err)
	}
	return nil
}

// Patch applies the non-nil profile fields to the stored client.
func (r *ClientRepository) Patch(ctx context.Context, clientID string, patch repositories.ClientPatch) error {
	if r == nil || r.base == nil {
		return errors.New("client repository not initialised")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return errors.New("client repository: client id is required")
	}

	updates := make([]firestore.Update, 0, 5)
	if patch.Name != nil {
		updates = append(updates, firestore.Update{Path: "name", Value: strings.TrimSpace(*patch.Name)})
	}
	if patch.Phone != nil {
		updates = append(updates, firestore.Update{Path: "phone", Value: strings.TrimSpace(*patch.Phone)})
	}
	if patch.Company != nil {
		updates = append(updates, firestore.Update{Path: "company", Value: strings.TrimSpace(*patch.Company)})
	}
	if patch.Address != nil {
		updates = append(updates, firestore.Update{Path: "address", Value: encodeAddress(patch.Address)})
	}
	if len(updates) == 0 {
		return nil
	}

	updatedAt := patch.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt})

	docRef, err := r.base.DocumentRef(ctx, clientID)
	if err != nil {
		return err
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("clients.patch", err)
	}
	return nil
}

// FindByID fetches a single client.
func (r *ClientRepository) FindByID(ctx context.Context, clientID string) (domain.Client, error) {
	if r == nil || r.base == nil {
		return domain.Client{}, errors.New("client repository not initialised")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.Client{}, errors.New("client repository: client id is required")
	}
	doc, err := r.base.Get(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	return decodeClientDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByEmail resolves a client by exact email match. Emails are stored
// lowercased so the query stays a single indexed equality.
func (r *ClientRepository) FindByEmail(ctx context.Context, email string) (domain.Client, error) {
	if r == nil || r.base == nil {
		return domain.Client{}, errors.New("client repository not initialised")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Client{}, errors.New("client repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.Client{}, err
	}
	if len(docs) == 0 {
		return domain.Client{}, pfirestore.WrapError("clients.find_by_email", status.Error(codes.NotFound, "client not found"))
	}
	doc := docs[0]
	return decodeClientDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// LinkOrder appends the order id to the client and bumps the cached
// aggregates in one transaction. An id that is already linked leaves the
// document untouched and returns false, which is what makes repeated syncs
// over the same order safe.
func (r *ClientRepository) LinkOrder(ctx context.Context, clientID string, orderID string, total int64, at time.Time) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("client repository not initialised")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return false, errors.New("client repository: client id is required")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, errors.New("client repository: order id is required")
	}
	at = at.UTC()

	var linked bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		linked = false

		ref, err := r.base.DocumentRef(ctx, clientID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc clientDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore clients decode %s: %w", clientID, err)
		}

		for _, id := range doc.OrderIDs {
			if id == orderID {
				return nil
			}
		}

		orderIDs := append(append([]string(nil), doc.OrderIDs...), orderID)
		totalOrders := doc.TotalOrders + 1
		totalSpent := doc.TotalSpent + total
		average := int64(0)
		if totalOrders > 0 {
			average = totalSpent / int64(totalOrders)
		}

		updates := []firestore.Update{
			{Path: "orderIds", Value: orderIDs},
			{Path: "totalOrders", Value: totalOrders},
			{Path: "totalSpent", Value: totalSpent},
			{Path: "averageOrderValue", Value: average},
			{Path: "lastOrderAt", Value: at},
			{Path: "updatedAt", Value: at},
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		linked = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("clients.link_order", err)
	}
	return linked, nil
}

// ListWithOrders pages through clients whose cached order count is positive,
// ordered so the cursor is stable across reconciliation passes.
func (r *ClientRepository) ListWithOrders(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Client], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Client]{}, errors.New("client repository not initialised")
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
		tokenCount, tokenID, err := decodeClientScanToken(token)
		if err != nil {
			return domain.CursorPage[domain.Client]{}, fmt.Errorf("client repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenCount, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		// The range filter forces totalOrders to lead the ordering.
		q = q.Where("totalOrders", ">", 0).
			OrderBy("totalOrders", firestore.Asc).
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
		return domain.CursorPage[domain.Client]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeClientScanToken(last.Data.TotalOrders, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Client, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeClientDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Client]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// OverwriteAggregates replaces the cached aggregate fields wholesale with the
// recomputed values.
func (r *ClientRepository) OverwriteAggregates(ctx context.Context, clientID string, aggregates repositories.ClientAggregates) error {
	if r == nil || r.base == nil {
		return errors.New("client repository not initialised")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return errors.New("client repository: client id is required")
	}

	orderIDs := aggregates.OrderIDs
	if orderIDs == nil {
		orderIDs = []string{}
	}
	updatedAt := aggregates.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	updates := []firestore.Update{
		{Path: "orderIds", Value: orderIDs},
		{Path: "totalOrders", Value: aggregates.TotalOrders},
		{Path: "totalSpent", Value: aggregates.TotalSpent},
		{Path: "averageOrderValue", Value: aggregates.AverageOrderValue},
		{Path: "updatedAt", Value: updatedAt},
	}
	if aggregates.LastOrderAt != nil && !aggregates.LastOrderAt.IsZero() {
		updates = append(updates, firestore.Update{Path: "lastOrderAt", Value: aggregates.LastOrderAt.UTC()})
	} else {
		updates = append(updates, firestore.Update{Path: "lastOrderAt", Value: firestore.Delete})
	}

	docRef, err := r.base.DocumentRef(ctx, clientID)
	if err != nil {
		return err
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("clients.overwrite_aggregates", err)
	}
	return nil
}

type clientDocument struct {
	Name              string           `firestore:"name"`
	Email             string           `firestore:"email"`
	Phone             string           `firestore:"phone,omitempty"`
	Company           string           `firestore:"company,omitempty"`
	Address           *addressDocument `firestore:"address,omitempty"`
	Active            bool             `firestore:"active"`
	Source            string           `firestore:"source"`
	TotalOrders       int              `firestore:"totalOrders"`
	TotalSpent        int64            `firestore:"totalSpent"`
	AverageOrderValue int64            `firestore:"averageOrderValue"`
	LastOrderAt       *time.Time       `firestore:"lastOrderAt,omitempty"`
	OrderIDs          []string         `firestore:"orderIds"`
	CreatedAt         time.Time        `firestore:"createdAt"`
	UpdatedAt         time.Time        `firestore:"updatedAt"`
}

func encodeClientDocument(client domain.Client) clientDocument {
	orderIDs := client.OrderIDs
	if orderIDs == nil {
		orderIDs = []string{}
	}
	return clientDocument{
		Name:              strings.TrimSpace(client.Name),
		Email:             strings.ToLower(strings.TrimSpace(client.Email)),
		Phone:             strings.TrimSpace(client.Phone),
		Company:           strings.TrimSpace(client.Company),
		Address:           encodeAddress(client.Address),
		Active:            client.Active,
		Source:            string(client.Source),
		TotalOrders:       client.TotalOrders,
		TotalSpent:        client.TotalSpent,
		AverageOrderValue: client.AverageOrderValue,
		LastOrderAt:       normalizeTimePointer(client.LastOrderAt),
		OrderIDs:          orderIDs,
		CreatedAt:         client.CreatedAt.UTC(),
		UpdatedAt:         client.UpdatedAt.UTC(),
	}
}

func decodeClientDocument(id string, doc clientDocument, createdAt, updatedAt time.Time) domain.Client {
	return domain.Client{
		ID:                strings.TrimSpace(id),
		Name:              strings.TrimSpace(doc.Name),
		Email:             strings.ToLower(strings.TrimSpace(doc.Email)),
		Phone:             strings.TrimSpace(doc.Phone),
		Company:           strings.TrimSpace(doc.Company),
		Address:           decodeAddress(doc.Address),
		Active:            doc.Active,
		Source:            domain.OrderSource(strings.TrimSpace(doc.Source)),
		TotalOrders:       doc.TotalOrders,
		TotalSpent:        doc.TotalSpent,
		AverageOrderValue: doc.AverageOrderValue,
		LastOrderAt:       normalizeTimePointer(doc.LastOrderAt),
		OrderIDs:          append([]string(nil), doc.OrderIDs...),
		CreatedAt:         chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:         chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func encodeClientScanToken(totalOrders int, docID string) string {
	payload := fmt.Sprintf("%d|%s", totalOrders, docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeClientScanToken(token string) (int, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return 0, "", errors.New("invalid token structure")
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", err
	}
	return count, parts[1], nil
}
