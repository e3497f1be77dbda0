package domain

import "strings"

// OrderStatus enumerates the internal order lifecycle vocabulary. The first
// block mirrors the storefront's standard statuses; the second block holds the
// fulfillment statuses the back-office adds on top.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment or confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment cleared and work can begin.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusOnHold indicates the order is paused pending manual review.
	OrderStatusOnHold OrderStatus = "on-hold"
	// OrderStatusCompleted indicates the order is fulfilled and closed.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled before fulfillment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusFailed indicates payment failed or the order errored upstream.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusDraft indicates an order that was never confirmed.
	OrderStatusDraft OrderStatus = "draft"

	// OrderStatusReceived indicates the order reached the warehouse queue.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusPrepared indicates all items are picked and packed.
	OrderStatusPrepared OrderStatus = "prepared"
	// OrderStatusShipped indicates the package was handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusRefused indicates the customer refused delivery.
	OrderStatusRefused OrderStatus = "refused"
	// OrderStatusUnfulfilled indicates fulfillment was abandoned.
	OrderStatusUnfulfilled OrderStatus = "unfulfilled"

	// OrderStatusReady is a deprecated alias for OrderStatusPrepared kept for
	// records written before the vocabulary was renamed.
	OrderStatusReady OrderStatus = "ready"
)

var knownOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:     {},
	OrderStatusProcessing:  {},
	OrderStatusOnHold:      {},
	OrderStatusCompleted:   {},
	OrderStatusCancelled:   {},
	OrderStatusRefunded:    {},
	OrderStatusFailed:      {},
	OrderStatusDraft:       {},
	OrderStatusReceived:    {},
	OrderStatusPrepared:    {},
	OrderStatusShipped:     {},
	OrderStatusRefused:     {},
	OrderStatusUnfulfilled: {},
	OrderStatusReady:       {},
}

// NormalizeStatus trims and lowercases the raw value and collapses the
// deprecated alias. The boolean reports whether the value belongs to the
// vocabulary at all.
func NormalizeStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if status == OrderStatusReady {
		return OrderStatusPrepared, true
	}
	_, ok := knownOrderStatuses[status]
	return status, ok
}

// Canonical returns the status with the deprecated alias collapsed.
func (s OrderStatus) Canonical() OrderStatus {
	if s == OrderStatusReady {
		return OrderStatusPrepared
	}
	return s
}
