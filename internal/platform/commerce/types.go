// Package commerce talks to the external storefront. It owns the wire schema
// for the storefront's order payloads, the bidirectional status vocabulary
// mapping, and the authenticated HTTP gateway used by the sync services.
package commerce

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials carries the storefront connection settings. They are resolved
// by the caller at the start of each sync or push and passed in explicitly;
// the gateway itself holds no ambient credential state.
type Credentials struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
}

// Configured reports whether all three settings are present.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" &&
		strings.TrimSpace(c.ConsumerKey) != "" &&
		strings.TrimSpace(c.ConsumerSecret) != ""
}

// Order is one order as the storefront serialises it. Monetary fields arrive
// as decimal strings and timestamps as naive GMT strings; both are parsed
// defensively downstream rather than trusted here.
type Order struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	Status        string     `json:"status"`
	Currency      string     `json:"currency"`
	DateCreated   string     `json:"date_created_gmt"`
	Total         string     `json:"total"`
	ShippingTotal string     `json:"shipping_total"`
	TotalTax      string     `json:"total_tax"`
	DiscountTotal string     `json:"discount_total"`
	CustomerNote  string     `json:"customer_note"`
	Billing       Contact    `json:"billing"`
	Shipping      Contact    `json:"shipping"`
	LineItems     []LineItem `json:"line_items"`
}

// Contact is the storefront's address block. Email and phone are only
// populated on the billing variant.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	PostCode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// IsZero reports whether every address component is blank. Email and phone
// do not count; a billing block that only carries contact details still has
// no copyable address.
func (c Contact) IsZero() bool {
	return strings.TrimSpace(c.FirstName) == "" &&
		strings.TrimSpace(c.LastName) == "" &&
		strings.TrimSpace(c.Company) == "" &&
		strings.TrimSpace(c.Address1) == "" &&
		strings.TrimSpace(c.Address2) == "" &&
		strings.TrimSpace(c.City) == "" &&
		strings.TrimSpace(c.State) == "" &&
		strings.TrimSpace(c.PostCode) == "" &&
		strings.TrimSpace(c.Country) == ""
}

// LineItem is one line of a storefront order. Price is a json.Number because
// some storefront versions emit it as a bare number and others as a string.
type LineItem struct {
	ID        int64       `json:"id"`
	ProductID int64       `json:"product_id"`
	SKU       string      `json:"sku"`
	Name      string      `json:"name"`
	Quantity  int64       `json:"quantity"`
	Price     json.Number `json:"price"`
	Subtotal  string      `json:"subtotal"`
	Total     string      `json:"total"`
}

// ParseAmount converts a storefront decimal string into minor currency units.
// The boolean reports whether the input parsed; blank or malformed values
// yield zero so a bad monetary field degrades a single number instead of the
// whole order.
func ParseAmount(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	return d.Shift(2).Round(0).IntPart(), true
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the storefront's GMT timestamp strings. Naive values
// (no zone suffix) are interpreted as UTC, matching the `_gmt` field
// contract. The boolean reports whether any known layout matched.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
