// Package adapter defines the port between the checkout orchestrator and the
// remote checkout service (order creation + payment status).
package adapter

import (
	"context"

	"storefront/internal/model"
)

// Gateway abstracts the remote checkout service.
//
// Implementations classify failures into the model error taxonomy:
// NetworkError for transport failures, APIError for non-success statuses,
// ProtocolError for malformed session responses and AuthorizationError for
// 401/403 while polling. They never retry on their own.
type Gateway interface {
	// CreateSession creates the order and its payment session with one request.
	// The returned session's ClientSecret has passed model.ValidateClientSecret.
	CreateSession(ctx context.Context, req *model.SessionRequest) (*model.Session, error)

	// PollStatus performs one bounded status check for an order.
	PollStatus(ctx context.Context, clientID, orderID string) (model.PaymentStatus, error)

	// NotifyPaid tells the service the widget confirmed payment locally.
	// Callers treat failure as non-fatal; the webhook remains authoritative.
	NotifyPaid(ctx context.Context, job model.CheckoutJob) error
}
