package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/merchantdesk/api/internal/platform/firestore"
	"github.com/merchantdesk/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the typed
// accessors consumed by the service layer.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	clients  *ClientRepository
	products *ProductRepository
	activity *ActivityRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository against the shared provider. The
// health repository is assembled by the caller because its dependency probes
// reach beyond Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	if health == nil {
		return nil, errors.New("firestore registry: health repository is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	clients, err := NewClientRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	activity, err := NewActivityRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		clients:  clients,
		products: products,
		activity: activity,
		health:   health,
	}, nil
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Clients returns the client repository.
func (r *Registry) Clients() repositories.ClientRepository { return r.clients }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Activity returns the activity repository.
func (r *Registry) Activity() repositories.ActivityRepository { return r.activity }

// Health returns the health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// RunInTx executes fn as a single failure boundary. Multi-document atomicity
// is scoped inside the repositories that need it, so the sequence itself runs
// without a surrounding Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction func is required")
	}
	return fn(ctx)
}
