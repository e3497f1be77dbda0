package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/repositories"
)

const clientIDPrefix = "cl_"

// ClientResolverDeps bundles the collaborators required to construct a client resolver.
type ClientResolverDeps struct {
	Clients     repositories.ClientRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type clientResolver struct {
	clients repositories.ClientRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ ClientResolver = (*clientResolver)(nil)

// NewClientResolver wires dependencies into a concrete ClientResolver implementation.
func NewClientResolver(deps ClientResolverDeps) (ClientResolver, error) {
	if deps.Clients == nil {
		return nil, errors.New("client resolver: client repository is required")
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

	return &clientResolver{
		clients: deps.Clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Resolve finds or creates the client for the given intent. A nil intent or a
// blank email resolves to no client without error; guest checkouts are
// expected, not exceptional. Existing clients are patched only where the
// intent carries a differing non-blank value.
func (r *clientResolver) Resolve(ctx context.Context, intent *ClientIntent) (*domain.Client, bool, error) {
	if ctx == nil {
		return nil, false, errors.New("client resolver: context is required")
	}
	if intent == nil {
		return nil, false, nil
	}

	email := normaliseEmail(intent.Email)
	if email == "" {
		return nil, false, nil
	}

	existing, err := r.clients.FindByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			return nil, false, err
		}
		return r.create(ctx, intent, email)
	}

	patch, changed := buildClientPatch(existing, intent, r.clock())
	if !changed {
		return &existing, false, nil
	}

	if err := r.clients.Patch(ctx, existing.ID, patch); err != nil {
		return nil, false, err
	}
	applyClientPatch(&existing, patch)

	r.logger(ctx, "client.resolve.updated", map[string]any{
		"clientId": existing.ID,
	})
	return &existing, false, nil
}

// create seeds the aggregate cache with TotalOrders=1 for the order that
// triggered the resolution. The linkage pass appends the order id once it is
// known and the reconcile pass corrects the count either way.
func (r *clientResolver) create(ctx context.Context, intent *ClientIntent, email string) (*domain.Client, bool, error) {
	now := r.clock()
	client := domain.Client{
		ID:          clientIDPrefix + r.newID(),
		Name:        strings.TrimSpace(intent.Name),
		Email:       email,
		Phone:       strings.TrimSpace(intent.Phone),
		Company:     strings.TrimSpace(intent.Company),
		Address:     copyAddress(intent.Address),
		Active:      true,
		Source:      domain.SourceExternalPlatform,
		TotalOrders: 1,
		OrderIDs:    []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.clients.Insert(ctx, client); err != nil {
		return nil, false, err
	}

	r.logger(ctx, "client.resolve.created", map[string]any{
		"clientId": client.ID,
	})
	return &client, true, nil
}

// buildClientPatch diffs the intent against the stored client. Blank intent
// values never overwrite stored data.
func buildClientPatch(existing domain.Client, intent *ClientIntent, now time.Time) (repositories.ClientPatch, bool) {
	patch := repositories.ClientPatch{UpdatedAt: now}
	changed := false

	if name := strings.TrimSpace(intent.Name); name != "" && name != existing.Name {
		patch.Name = &name
		changed = true
	}
	if phone := strings.TrimSpace(intent.Phone); phone != "" && phone != existing.Phone {
		patch.Phone = &phone
		changed = true
	}
	if company := strings.TrimSpace(intent.Company); company != "" && company != existing.Company {
		patch.Company = &company
		changed = true
	}
	if intent.Address != nil && !intent.Address.IsZero() {
		if existing.Address == nil || *existing.Address != *intent.Address {
			patch.Address = copyAddress(intent.Address)
			changed = true
		}
	}

	return patch, changed
}

func applyClientPatch(client *domain.Client, patch repositories.ClientPatch) {
	if patch.Name != nil {
		client.Name = *patch.Name
	}
	if patch.Phone != nil {
		client.Phone = *patch.Phone
	}
	if patch.Company != nil {
		client.Company = *patch.Company
	}
	if patch.Address != nil {
		client.Address = copyAddress(patch.Address)
	}
	client.UpdatedAt = patch.UpdatedAt
}

func copyAddress(address *domain.Address) *domain.Address {
	if address == nil {
		return nil
	}
	copied := *address
	return &copied
}
