package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/platform/commerce"
)

const actionOrderStatusPush = "order.status.push"

var (
	errPushActorRequired    = errors.New("status push: actor is required")
	errPushExternalIDNeeded = errors.New("status push: external order id is required")
	errPushUnknownStatus    = errors.New("status push: unknown order status")
)

var (
	// ErrUnknownStatus indicates the requested status is outside the order vocabulary.
	ErrUnknownStatus = errPushUnknownStatus
	// ErrExternalIDRequired indicates the command carried no storefront order id.
	ErrExternalIDRequired = errPushExternalIDNeeded
)

// StatusPushServiceDeps bundles the collaborators required to construct a status push service.
type StatusPushServiceDeps struct {
	Gateway     StorefrontGateway
	Credentials CredentialsSource
	Activity    ActivityService
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type statusPushService struct {
	gateway     StorefrontGateway
	credentials CredentialsSource
	activity    ActivityService
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

var _ StatusPushService = (*statusPushService)(nil)

// NewStatusPushService wires dependencies into a concrete StatusPushService implementation.
func NewStatusPushService(deps StatusPushServiceDeps) (StatusPushService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("status push service: storefront gateway is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("status push service: credentials source is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &statusPushService{
		gateway:     deps.Gateway,
		credentials: deps.Credentials,
		activity:    deps.Activity,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Push mirrors a back-office status change to the storefront. The internal
// record is already updated by the time this runs, so a storefront failure
// surfaces to the caller without touching internal state.
func (s *statusPushService) Push(ctx context.Context, cmd PushStatusCommand) error {
	if ctx == nil {
		return errors.New("status push service: context is required")
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return errPushActorRequired
	}
	if cmd.ExternalID <= 0 {
		return errPushExternalIDNeeded
	}
	status, ok := domain.NormalizeStatus(string(cmd.Status))
	if !ok {
		return errPushUnknownStatus
	}

	creds := s.credentials(ctx)
	if !creds.Configured() {
		return errPlatformNotConfigured
	}

	external := commerce.ExternalStatus(status)
	if err := s.gateway.UpdateOrderStatus(ctx, creds, cmd.ExternalID, external); err != nil {
		return mapGatewayError(err)
	}

	s.logger(ctx, "order.status.pushed", map[string]any{
		"externalId": cmd.ExternalID,
		"status":     string(status),
		"external":   external,
	})
	s.recordPushActivity(ctx, actor, cmd.ExternalID, status, external)
	return nil
}

func (s *statusPushService) recordPushActivity(ctx context.Context, actor string, externalID int64, status domain.OrderStatus, external string) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, ActivityCommand{
		Actor:      actor,
		Action:     actionOrderStatusPush,
		EntityType: syncActivityEntityType,
		EntityID:   strconv.FormatInt(externalID, 10),
		Metadata: map[string]any{
			"externalId": externalID,
			"status":     string(status),
			"external":   external,
		},
		OccurredAt: s.clock(),
	})
}
