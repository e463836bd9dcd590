package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CART
// =============================================================================

// Product is a catalog entry. Only ID, Name and Price feed the cart; the rest is
// carried through to the checkout request for line item display.
type Product struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image,omitempty"`
}

// LineItem is one product entry in the cart. Quantity is always >= 1.
type LineItem struct {
	ProductID   int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image,omitempty"`
	UnitPrice   decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// LineTotal returns UnitPrice × Quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart is an immutable snapshot of the cart store.
type Cart struct {
	Items    []LineItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Count    int             `json:"count"`
	Email    string          `json:"email,omitempty"`
}

// IsEmpty reports whether the cart has no line items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Total returns the subtotal plus the shipping surcharge.
// Client-side totals are display estimates; the checkout service recomputes.
func (c Cart) Total(s Shipping) decimal.Decimal {
	return c.Subtotal.Add(s.Surcharge())
}

// =============================================================================
// SHIPPING
// =============================================================================

// Shipping is the shopper's delivery speed selection.
type Shipping string

const (
	ShippingNone     Shipping = ""
	ShippingBudget   Shipping = "BUDGET"
	ShippingStandard Shipping = "STANDARD"
	ShippingExpress  Shipping = "EXPRESS"
	ShippingPriority Shipping = "PRIORITY"
)

var shippingSurcharges = map[Shipping]decimal.Decimal{
	ShippingBudget:   decimal.Zero,
	ShippingStandard: decimal.RequireFromString("5.80"),
	ShippingExpress:  decimal.RequireFromString("15.30"),
	ShippingPriority: decimal.RequireFromString("27.30"),
}

// ParseShipping accepts a case-insensitive shipping name. Empty input is
// ShippingNone, which is valid only when shipping is not required.
func ParseShipping(s string) (Shipping, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ShippingNone, nil
	}
	sh := Shipping(s)
	if _, ok := shippingSurcharges[sh]; !ok {
		return ShippingNone, NewValidationError("shipping", fmt.Sprintf("unknown option %q", s))
	}
	return sh, nil
}

// Surcharge returns the fixed shipping fee. ShippingNone costs nothing.
func (s Shipping) Surcharge() decimal.Decimal {
	if fee, ok := shippingSurcharges[s]; ok {
		return fee
	}
	return decimal.Zero
}

// ShippingDetails is what the client sends alongside a session request.
// Cost is a display estimate; the checkout service is authoritative.
type ShippingDetails struct {
	Method        Shipping        `json:"method"`
	EstimatedCost decimal.Decimal `json:"estimatedCost"`
}

// =============================================================================
// CHECKOUT
// =============================================================================

// CheckoutJob records one in-flight checkout attempt.
// It is the single source of truth for "is a checkout in flight".
type CheckoutJob struct {
	JobID     string    `json:"jobId"`
	OrderID   string    `json:"orderId"`
	ClientID  string    `json:"clientId"`
	StartTime time.Time `json:"startTime"`
}

// PaymentStatus is the classified result of a status poll.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentUnknown PaymentStatus = "UNKNOWN"
)

// ClientSecretPrefix marks a PaymentIntent-style session token.
const ClientSecretPrefix = "pi_"

var errSecretMissing = errors.New("no client secret returned")

// ValidateClientSecret checks a session token received from the network
// before it is trusted or handed to the payment widget.
func ValidateClientSecret(secret string) error {
	if secret == "" {
		return NewProtocolError(errSecretMissing)
	}
	if !strings.HasPrefix(secret, ClientSecretPrefix) || len(secret) == len(ClientSecretPrefix) {
		return NewProtocolError(fmt.Errorf("client secret does not start with %q", ClientSecretPrefix))
	}
	return nil
}

// =============================================================================
// WIRE TYPES (remote checkout service)
// =============================================================================

// SessionItem is one cart line as sent to POST /checkout. UnitAmount is the
// unit price in cents, which is what the payment processor charges.
type SessionItem struct {
	LineItem
	UnitAmount int64 `json:"unitAmount"`
}

// NewSessionItems converts cart lines to their wire form.
func NewSessionItems(items []LineItem) []SessionItem {
	out := make([]SessionItem, len(items))
	for i, item := range items {
		out[i] = SessionItem{LineItem: item, UnitAmount: ToMinorUnits(item.UnitPrice)}
	}
	return out
}

// SessionRequest is the body of POST /checkout.
type SessionRequest struct {
	Items           []SessionItem    `json:"items"`
	CustomerEmail   string           `json:"customerEmail"`
	ClientID        string           `json:"clientId"`
	ShippingDetails *ShippingDetails `json:"shippingDetails,omitempty"`
}

// Session is the decoded POST /checkout response.
type Session struct {
	JobID        string `json:"jobId"`
	OrderID      string `json:"orderId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// StatusResponse is the body of GET /payment-status.
type StatusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// PaidNotice is the body of POST /payment-success.
type PaidNotice struct {
	OrderID  string `json:"orderId"`
	JobID    string `json:"jobId"`
	ClientID string `json:"clientId"`
}

// ErrorResponse covers both error body shapes the checkout service uses.
type ErrorResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
