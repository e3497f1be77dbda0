package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/merchantdesk/api/internal/platform/config"
	"github.com/merchantdesk/api/internal/repositories"
	"github.com/merchantdesk/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Sync       services.SyncService
	Backfill   services.BackfillService
	StatusPush services.StatusPushService
	Activity   services.ActivityService
	System     services.SystemService
}

// Deps carries runtime collaborators whose lifecycle is owned by the caller:
// the storefront gateway, the credential source it draws from, and the
// optional event publisher backed by Pub/Sub.
type Deps struct {
	Gateway     services.StorefrontGateway
	Credentials services.CredentialsSource
	Events      services.SyncEventPublisher
	Build       services.BuildInfo
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("storefront gateway is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("credentials source is required")
	}

	svc, err := buildServices(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps Deps) (Services, error) {
	var svc Services

	if activityRepo := reg.Activity(); activityRepo != nil {
		activitySvc, err := services.NewActivityService(services.ActivityServiceDeps{
			Records: activityRepo,
			Clock:   time.Now,
			Logger:  deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build activity service: %w", err)
		}
		svc.Activity = activitySvc
	}

	statusPushSvc, err := services.NewStatusPushService(services.StatusPushServiceDeps{
		Gateway:     deps.Gateway,
		Credentials: deps.Credentials,
		Activity:    svc.Activity,
		Clock:       time.Now,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build status push service: %w", err)
	}
	svc.StatusPush = statusPushSvc

	ordersRepo := reg.Orders()
	clientsRepo := reg.Clients()
	productsRepo := reg.Products()

	if ordersRepo != nil && clientsRepo != nil && productsRepo != nil {
		matcher, err := services.NewCatalogMatcher(services.CatalogMatcherDeps{
			Products: productsRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog matcher: %w", err)
		}

		converter, err := services.NewOrderConverter(services.OrderConverterDeps{
			Matcher: matcher,
			Clock:   time.Now,
			Logger:  deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order converter: %w", err)
		}

		resolver, err := services.NewClientResolver(services.ClientResolverDeps{
			Clients: clientsRepo,
			Clock:   time.Now,
			Logger:  deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build client resolver: %w", err)
		}

		reconciler, err := services.NewStatsReconciler(services.StatsReconcilerDeps{
			Clients: clientsRepo,
			Orders:  ordersRepo,
			Clock:   time.Now,
			Logger:  deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stats reconciler: %w", err)
		}

		syncSvc, err := services.NewSyncService(services.SyncServiceDeps{
			Orders:      ordersRepo,
			Converter:   converter,
			Resolver:    resolver,
			Reconciler:  reconciler,
			Gateway:     deps.Gateway,
			Credentials: deps.Credentials,
			Events:      deps.Events,
			Activity:    svc.Activity,
			UnitOfWork:  reg,
			PageSize:    cfg.Commerce.PageSize,
			Clock:       time.Now,
			Logger:      deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build sync service: %w", err)
		}
		svc.Sync = syncSvc

		backfillSvc, err := services.NewBackfillService(services.BackfillServiceDeps{
			Orders:   ordersRepo,
			Activity: svc.Activity,
			Clock:    time.Now,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build backfill service: %w", err)
		}
		svc.Backfill = backfillSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
