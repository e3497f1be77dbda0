package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/repositories"
)

// reconcilePageSize bounds each page of the client scan so the repair pass
// never loads the whole collection at once.
const reconcilePageSize = 100

var (
	errLinkClientIDRequired = errors.New("stats reconciler: client id is required")
	errLinkOrderIDRequired  = errors.New("stats reconciler: order id is required")
)

// StatsReconcilerDeps bundles the collaborators required to construct a stats reconciler.
type StatsReconcilerDeps struct {
	Clients repositories.ClientRepository
	Orders  repositories.OrderRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type statsReconciler struct {
	clients repositories.ClientRepository
	orders  repositories.OrderRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ StatsReconciler = (*statsReconciler)(nil)

// NewStatsReconciler wires dependencies into a concrete StatsReconciler implementation.
func NewStatsReconciler(deps StatsReconcilerDeps) (StatsReconciler, error) {
	if deps.Clients == nil {
		return nil, errors.New("stats reconciler: client repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("stats reconciler: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &statsReconciler{
		clients: deps.Clients,
		orders:  deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// LinkOrder attributes one order to a client. The repository appends the order
// id and bumps the aggregates in a single transaction; an id that is already
// linked reports (false, nil) without writing, which is what makes repeated
// sync runs over the same order safe.
func (s *statsReconciler) LinkOrder(ctx context.Context, clientID string, orderID string, total int64, at time.Time) (bool, error) {
	if ctx == nil {
		return false, errors.New("stats reconciler: context is required")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return false, errLinkClientIDRequired
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, errLinkOrderIDRequired
	}
	if at.IsZero() {
		at = s.clock()
	}

	linked, err := s.clients.LinkOrder(ctx, clientID, orderID, total, at)
	if err != nil {
		return false, err
	}
	if linked {
		s.logger(ctx, "client.stats.linked", map[string]any{
			"clientId": clientID,
			"orderId":  orderID,
		})
	}
	return linked, nil
}

// ReconcileAll rebuilds every cached aggregate from the orders the client
// actually links to. Order ids whose documents no longer exist drop out of
// the list. The pass is a pure function of current order state, so running it
// at any time, any number of times, is safe.
func (s *statsReconciler) ReconcileAll(ctx context.Context) (domain.ReconcileReport, error) {
	if ctx == nil {
		return domain.ReconcileReport{}, errors.New("stats reconciler: context is required")
	}

	var report domain.ReconcileReport
	pager := domain.Pagination{PageSize: reconcilePageSize}

	for {
		page, err := s.clients.ListWithOrders(ctx, pager)
		if err != nil {
			return report, err
		}

		for _, client := range page.Items {
			report.ClientsChecked++

			// An empty list with a positive count is the resolver's
			// pre-increment awaiting its first link; leave it alone.
			if len(client.OrderIDs) == 0 {
				continue
			}

			orders, err := s.orders.GetByIDs(ctx, client.OrderIDs)
			if err != nil {
				s.logger(ctx, "client.stats.reconcile_fetch_failed", map[string]any{
					"clientId": client.ID,
					"error":    err.Error(),
				})
				continue
			}

			aggregates := computeAggregates(orders, s.clock())
			if !aggregatesDrifted(client, aggregates) {
				continue
			}

			if err := s.clients.OverwriteAggregates(ctx, client.ID, aggregates); err != nil {
				s.logger(ctx, "client.stats.reconcile_write_failed", map[string]any{
					"clientId": client.ID,
					"error":    err.Error(),
				})
				continue
			}

			report.ClientsRepaired++
			s.logger(ctx, "client.stats.repaired", map[string]any{
				"clientId":    client.ID,
				"totalOrders": aggregates.TotalOrders,
				"totalSpent":  aggregates.TotalSpent,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}

	return report, nil
}

func computeAggregates(orders []domain.Order, now time.Time) repositories.ClientAggregates {
	aggregates := repositories.ClientAggregates{
		OrderIDs:  make([]string, 0, len(orders)),
		UpdatedAt: now,
	}

	var lastOrderAt time.Time
	for _, order := range orders {
		aggregates.OrderIDs = append(aggregates.OrderIDs, order.ID)
		aggregates.TotalSpent += order.Totals.Total
		if order.OrderedAt.After(lastOrderAt) {
			lastOrderAt = order.OrderedAt
		}
	}

	aggregates.TotalOrders = len(orders)
	if aggregates.TotalOrders > 0 {
		aggregates.AverageOrderValue = aggregates.TotalSpent / int64(aggregates.TotalOrders)
	}
	if !lastOrderAt.IsZero() {
		at := lastOrderAt
		aggregates.LastOrderAt = &at
	}

	return aggregates
}

func aggregatesDrifted(client domain.Client, aggregates repositories.ClientAggregates) bool {
	if client.TotalOrders != aggregates.TotalOrders {
		return true
	}
	if client.TotalSpent != aggregates.TotalSpent {
		return true
	}
	if client.AverageOrderValue != aggregates.AverageOrderValue {
		return true
	}
	if !slices.Equal(client.OrderIDs, aggregates.OrderIDs) {
		return true
	}
	return !equalTimePointers(client.LastOrderAt, aggregates.LastOrderAt)
}

func equalTimePointers(a *time.Time, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
