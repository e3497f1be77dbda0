package services

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/platform/commerce"
)

// defaultCurrency substitutes missing or unknown ISO codes on storefront payloads.
const defaultCurrency = "EUR"

var errExternalOrderID = errors.New("order converter: external order id is required")

// OrderConverterDeps bundles the collaborators required to construct an order converter.
type OrderConverterDeps struct {
	Matcher CatalogMatcher
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type orderConverter struct {
	matcher    CatalogMatcher
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
	notePolicy *bluemonday.Policy
}

var _ OrderConverter = (*orderConverter)(nil)

// NewOrderConverter wires dependencies into a concrete OrderConverter implementation.
func NewOrderConverter(deps OrderConverterDeps) (OrderConverter, error) {
	if deps.Matcher == nil {
		return nil, errors.New("order converter: catalog matcher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderConverter{
		matcher: deps.Matcher,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:     logger,
		notePolicy: bluemonday.StrictPolicy(),
	}, nil
}

// Convert maps one storefront payload into the internal order shape. Malformed
// line data lands in UnidentifiedItems with best-effort fields; only a missing
// external id or a catalog lookup failure aborts the conversion.
func (c *orderConverter) Convert(ctx context.Context, source commerce.Order) (ConvertedOrder, error) {
	if ctx == nil {
		return ConvertedOrder{}, errors.New("order converter: context is required")
	}
	if source.ID <= 0 {
		return ConvertedOrder{}, errExternalOrderID
	}

	now := c.clock()

	status, known := commerce.InternalStatus(source.Status)
	if !known {
		c.logger(ctx, "order.convert.unknown_status", map[string]any{
			"externalId": source.ID,
			"status":     source.Status,
		})
	}

	orderedAt, ok := commerce.ParseTimestamp(source.DateCreated)
	if !ok {
		orderedAt = now
		if strings.TrimSpace(source.DateCreated) != "" {
			c.logger(ctx, "order.convert.invalid_timestamp", map[string]any{
				"externalId": source.ID,
				"value":      source.DateCreated,
			})
		}
	}

	items, unidentified, err := c.convertLines(ctx, source)
	if err != nil {
		return ConvertedOrder{}, err
	}

	externalID := source.ID
	order := domain.Order{
		ExternalID:        &externalID,
		Number:            orderNumber(source),
		CustomerName:      contactName(source.Billing),
		CustomerEmail:     normaliseEmail(source.Billing.Email),
		Status:            status,
		Currency:          c.normalizeCurrency(ctx, source),
		OrderedAt:         orderedAt,
		Items:             items,
		UnidentifiedItems: unidentified,
		ShippingAddress:   mergedShippingAddress(source.Shipping, source.Billing),
		BillingAddress:    contactAddress(source.Billing),
		Totals:            convertTotals(source),
		Source:            domain.SourceExternalPlatform,
		CustomerNote:      c.sanitizeNote(source.CustomerNote),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.NormalizeUnidentified()

	return ConvertedOrder{Order: order, Client: clientIntent(source.Billing)}, nil
}

// convertLines partitions storefront lines into matched items and unidentified
// leftovers. The catalog price wins for matched lines; unidentified lines keep
// the storefront's own amounts verbatim.
func (c *orderConverter) convertLines(ctx context.Context, source commerce.Order) ([]domain.OrderItem, []domain.UnidentifiedItem, error) {
	var (
		items        []domain.OrderItem
		unidentified []domain.UnidentifiedItem
	)

	for _, line := range source.LineItems {
		quantity := int(line.Quantity)

		product, matched, err := c.matcher.FindBySKU(ctx, line.SKU)
		if err != nil {
			return nil, nil, err
		}

		if matched && quantity > 0 {
			items = append(items, domain.OrderItem{
				ProductID: product.ID,
				Name:      product.Name,
				Quantity:  quantity,
				UnitPrice: product.Price,
				Total:     product.Price * int64(quantity),
			})
			continue
		}

		unidentified = append(unidentified, convertUnidentifiedLine(line))
	}

	return items, unidentified, nil
}

func convertUnidentifiedLine(line commerce.LineItem) domain.UnidentifiedItem {
	quantity := int(line.Quantity)

	unitPrice, _ := commerce.ParseAmount(line.Price.String())
	total, ok := commerce.ParseAmount(line.Total)
	if !ok {
		total, ok = commerce.ParseAmount(line.Subtotal)
	}
	if !ok && quantity > 0 {
		total = unitPrice * int64(quantity)
	}

	return domain.UnidentifiedItem{
		ExternalProductID: line.ProductID,
		SKU:               strings.TrimSpace(line.SKU),
		Name:              strings.TrimSpace(line.Name),
		Quantity:          quantity,
		UnitPrice:         unitPrice,
		Total:             total,
	}
}

func (c *orderConverter) normalizeCurrency(ctx context.Context, source commerce.Order) string {
	code := strings.TrimSpace(source.Currency)
	if code == "" {
		return defaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		c.logger(ctx, "order.convert.invalid_currency", map[string]any{
			"externalId": source.ID,
			"currency":   source.Currency,
		})
		return defaultCurrency
	}
	return unit.String()
}

// sanitizeNote strips all markup from the free-text storefront note.
func (c *orderConverter) sanitizeNote(note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(c.notePolicy.Sanitize(note)))
}

func orderNumber(source commerce.Order) string {
	if number := strings.TrimSpace(source.Number); number != "" {
		return number
	}
	return strconv.FormatInt(source.ID, 10)
}

func convertTotals(source commerce.Order) domain.OrderTotals {
	total, _ := commerce.ParseAmount(source.Total)
	shipping, _ := commerce.ParseAmount(source.ShippingTotal)
	tax, _ := commerce.ParseAmount(source.TotalTax)
	discount, _ := commerce.ParseAmount(source.DiscountTotal)

	return domain.OrderTotals{
		Subtotal: total - shipping - tax + discount,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    total,
	}
}

// mergedShippingAddress prefers shipping fields, falling back to billing per
// component so a half-filled shipping block still yields a usable address.
func mergedShippingAddress(shipping commerce.Contact, billing commerce.Contact) *domain.Address {
	merged := domain.Address{
		FirstName:  fallback(shipping.FirstName, billing.FirstName),
		LastName:   fallback(shipping.LastName, billing.LastName),
		Company:    fallback(shipping.Company, billing.Company),
		Line1:      fallback(shipping.Address1, billing.Address1),
		Line2:      fallback(shipping.Address2, billing.Address2),
		City:       fallback(shipping.City, billing.City),
		State:      fallback(shipping.State, billing.State),
		PostalCode: fallback(shipping.PostCode, billing.PostCode),
		Country:    fallback(shipping.Country, billing.Country),
		Phone:      fallback(shipping.Phone, billing.Phone),
	}
	if merged.IsZero() {
		return nil
	}
	return &merged
}

func contactAddress(contact commerce.Contact) *domain.Address {
	address := domain.Address{
		FirstName:  strings.TrimSpace(contact.FirstName),
		LastName:   strings.TrimSpace(contact.LastName),
		Company:    strings.TrimSpace(contact.Company),
		Line1:      strings.TrimSpace(contact.Address1),
		Line2:      strings.TrimSpace(contact.Address2),
		City:       strings.TrimSpace(contact.City),
		State:      strings.TrimSpace(contact.State),
		PostalCode: strings.TrimSpace(contact.PostCode),
		Country:    strings.TrimSpace(contact.Country),
		Phone:      strings.TrimSpace(contact.Phone),
	}
	if address.IsZero() {
		return nil
	}
	return &address
}

// contactName joins first and last name, falling back to the company field
// when the payload carries no person name.
func contactName(contact commerce.Contact) string {
	name := strings.TrimSpace(strings.TrimSpace(contact.FirstName) + " " + strings.TrimSpace(contact.LastName))
	if name != "" {
		return name
	}
	return strings.TrimSpace(contact.Company)
}

// clientIntent derives the client-resolution intent from the billing contact.
// Without a billing email there is nothing to resolve against, so the order
// proceeds unlinked.
func clientIntent(billing commerce.Contact) *ClientIntent {
	email := normaliseEmail(billing.Email)
	if email == "" {
		return nil
	}
	return &ClientIntent{
		Name:    contactName(billing),
		Email:   email,
		Phone:   strings.TrimSpace(billing.Phone),
		Company: strings.TrimSpace(billing.Company),
		Address: contactAddress(billing),
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func fallback(primary string, secondary string) string {
	if trimmed := strings.TrimSpace(primary); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(secondary)
}
