package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/repositories"
)

const backfillPageSize = 100

const actionOrderBackfill = "order.backfill"

var (
	errBackfillActorRequired   = errors.New("backfill: actor is required")
	errBackfillProductRequired = errors.New("backfill: product id is required")
	errBackfillMatchKey        = errors.New("backfill: product sku or name is required")
)

var (
	// ErrBackfillProductRequired indicates the command carried no product id.
	ErrBackfillProductRequired = errBackfillProductRequired
	// ErrBackfillMatchKey indicates the command carried neither a sku nor a name to match on.
	ErrBackfillMatchKey = errBackfillMatchKey
)

// BackfillServiceDeps bundles the collaborators required to construct a backfill service.
type BackfillServiceDeps struct {
	Orders   repositories.OrderRepository
	Activity ActivityService
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type backfillService struct {
	orders   repositories.OrderRepository
	activity ActivityService
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ BackfillService = (*backfillService)(nil)

// NewBackfillService wires dependencies into a concrete BackfillService implementation.
func NewBackfillService(deps BackfillServiceDeps) (BackfillService, error) {
	if deps.Orders == nil {
		return nil, errors.New("backfill service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &backfillService{
		orders:   deps.Orders,
		activity: deps.Activity,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Backfill walks every order still carrying unidentified items and migrates
// the lines the new product accounts for into proper order items. Orders whose
// last unidentified line migrates drop their flag and leave the scan for good,
// so running the pass twice for the same product is a no-op. A mid-scan
// failure returns the partial report alongside the error so the caller can
// render what did complete.
func (s *backfillService) Backfill(ctx context.Context, cmd BackfillCommand) (domain.BackfillReport, error) {
	report := domain.BackfillReport{}

	if ctx == nil {
		return report, errors.New("backfill service: context is required")
	}

	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return report, errBackfillActorRequired
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return report, errBackfillProductRequired
	}
	sku := strings.TrimSpace(cmd.SKU)
	name := strings.TrimSpace(cmd.Name)
	if sku == "" && name == "" {
		return report, errBackfillMatchKey
	}

	pager := domain.Pagination{PageSize: backfillPageSize}
	for {
		page, err := s.orders.ListUnidentified(ctx, pager)
		if err != nil {
			return report, err
		}

		for _, order := range page.Items {
			report.OrdersScanned++

			migrated, remaining, moved := migrateUnidentified(order, productID, name, sku, cmd.Price)
			if moved == 0 {
				continue
			}

			flag := len(remaining) > 0
			patch := repositories.OrderPatch{
				Items:                &migrated,
				UnidentifiedItems:    &remaining,
				HasUnidentifiedItems: &flag,
				UpdatedAt:            s.clock(),
			}
			if err := s.orders.Patch(ctx, order.ID, patch); err != nil {
				return report, err
			}

			report.OrdersUpdated++
			s.recordBackfillActivity(ctx, actor, order, productID, moved)
			s.logger(ctx, "backfill.order.updated", map[string]any{
				"orderId":   order.ID,
				"productId": productID,
				"migrated":  moved,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}

	return report, nil
}

// migrateUnidentified partitions an order's unidentified items against the new
// product. A line matches on exact sku equality or case-insensitive name
// equality; matched lines become order items that snapshot the product's price
// while keeping the storefront quantity.
func migrateUnidentified(order domain.Order, productID string, name string, sku string, price int64) ([]domain.OrderItem, []domain.UnidentifiedItem, int) {
	items := make([]domain.OrderItem, 0, len(order.Items))
	items = append(items, order.Items...)
	remaining := make([]domain.UnidentifiedItem, 0, len(order.UnidentifiedItems))
	moved := 0

	for _, line := range order.UnidentifiedItems {
		if !matchesProduct(line, name, sku) {
			remaining = append(remaining, line)
			continue
		}
		itemName := name
		if itemName == "" {
			itemName = strings.TrimSpace(line.Name)
		}
		items = append(items, domain.OrderItem{
			ProductID: productID,
			Name:      itemName,
			Quantity:  line.Quantity,
			UnitPrice: price,
			Total:     price * int64(line.Quantity),
		})
		moved++
	}

	return items, remaining, moved
}

func matchesProduct(line domain.UnidentifiedItem, name string, sku string) bool {
	lineSKU := strings.TrimSpace(line.SKU)
	if sku != "" && lineSKU == sku {
		return true
	}
	lineName := strings.TrimSpace(line.Name)
	if name != "" && strings.EqualFold(lineName, name) {
		return true
	}
	return false
}

func (s *backfillService) recordBackfillActivity(ctx context.Context, actor string, order domain.Order, productID string, moved int) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, ActivityCommand{
		Actor:      actor,
		Action:     actionOrderBackfill,
		EntityType: syncActivityEntityType,
		EntityID:   order.ID,
		EntityName: order.Number,
		Metadata: map[string]any{
			"productId": productID,
			"migrated":  moved,
		},
	})
}
