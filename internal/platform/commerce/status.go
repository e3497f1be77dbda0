package commerce

import (
	"strings"

	"github.com/merchantdesk/api/internal/domain"
)

// VendorStatusPrefix marks the custom statuses this application registered on
// the storefront. Standard storefront statuses travel unprefixed.
const VendorStatusPrefix = "md-"

var externalToInternal = map[string]domain.OrderStatus{
	"pending":    domain.OrderStatusPending,
	"processing": domain.OrderStatusProcessing,
	"on-hold":    domain.OrderStatusOnHold,
	"completed":  domain.OrderStatusCompleted,
	"cancelled":  domain.OrderStatusCancelled,
	"refunded":   domain.OrderStatusRefunded,
	"failed":     domain.OrderStatusFailed,
	"draft":      domain.OrderStatusDraft,

	VendorStatusPrefix + "received":    domain.OrderStatusReceived,
	VendorStatusPrefix + "prepared":    domain.OrderStatusPrepared,
	VendorStatusPrefix + "shipped":     domain.OrderStatusShipped,
	VendorStatusPrefix + "refused":     domain.OrderStatusRefused,
	VendorStatusPrefix + "unfulfilled": domain.OrderStatusUnfulfilled,
}

var customInternal = map[domain.OrderStatus]struct{}{
	domain.OrderStatusReceived:    {},
	domain.OrderStatusPrepared:    {},
	domain.OrderStatusShipped:     {},
	domain.OrderStatusRefused:     {},
	domain.OrderStatusUnfulfilled: {},
}

// InternalStatus translates a storefront status into the internal vocabulary.
// The mapping is total: unrecognised values fall back to processing and the
// boolean turns false so the caller can warn-log the raw value. Neither
// direction enforces transition validity; that belongs to fulfillment.
func InternalStatus(external string) (domain.OrderStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(external))
	if status, ok := externalToInternal[key]; ok {
		return status, true
	}
	return domain.OrderStatusProcessing, false
}

// ExternalStatus translates an internal status into the storefront
// vocabulary. Custom statuses gain the vendor prefix; standard statuses pass
// through unchanged. The deprecated alias resolves to its canonical form
// first, so it maps to the prefixed prepared status.
func ExternalStatus(internal domain.OrderStatus) string {
	canonical := internal.Canonical()
	if _, ok := customInternal[canonical]; ok {
		return VendorStatusPrefix + string(canonical)
	}
	return string(canonical)
}
