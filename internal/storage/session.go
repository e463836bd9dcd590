package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"storefront/internal/model"
)

// Persisted keys. Names match what earlier clients wrote so existing
// profiles keep working.
const (
	KeyClientID        = "clientId"        // durable, never cleared
	KeyCurrentCheckout = "currentCheckout" // tab
	KeyCartItems       = "cartItems"       // durable, transient
	KeyCustomerEmail   = "customerEmail"   // durable, transient
	KeyShipping        = "shippingDetails" // durable, transient
	KeyLastOrderID     = "lastOrderId"     // tab
)

// ClientIDPrefix starts every generated client identity.
const ClientIDPrefix = "client_"

// Session is the typed view over the durable and tab stores.
// The orchestrator is its only writer for job keys.
type Session struct {
	durable Store
	tab     Store
	logger  *slog.Logger
}

// NewSession binds a durable and a tab-scoped store.
func NewSession(durable, tab Store, logger *slog.Logger) *Session {
	return &Session{durable: durable, tab: tab, logger: logger}
}

// ClientID returns the profile's identity, generating and persisting one on
// first use.
func (s *Session) ClientID(ctx context.Context) (string, error) {
	id, err := s.durable.Get(ctx, KeyClientID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("load client id: %w", err)
	}

	id = ClientIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.durable.Set(ctx, KeyClientID, id); err != nil {
		return "", fmt.Errorf("save client id: %w", err)
	}
	s.logger.Info("generated client id", "client_id", id)
	return id, nil
}

// === Checkout job (tab scope) ===

// SaveJob persists the in-flight checkout job.
func (s *Session) SaveJob(ctx context.Context, job model.CheckoutJob) error {
	return s.putJSON(ctx, s.tab, KeyCurrentCheckout, job)
}

// LoadJob returns the persisted job, or nil when there is none. A record
// that no longer decodes is discarded.
func (s *Session) LoadJob(ctx context.Context) (*model.CheckoutJob, error) {
	var job model.CheckoutJob
	ok, err := s.getJSON(ctx, s.tab, KeyCurrentCheckout, &job)
	if err != nil || !ok {
		return nil, err
	}
	if job.JobID == "" || job.OrderID == "" {
		s.logger.Warn("discarding incomplete checkout job", "job", job)
		_ = s.tab.Delete(ctx, KeyCurrentCheckout)
		return nil, nil
	}
	return &job, nil
}

// ClearJob removes the in-flight job.
func (s *Session) ClearJob(ctx context.Context) error {
	return s.tab.Delete(ctx, KeyCurrentCheckout)
}

// === Last order (tab scope) ===

func (s *Session) SaveLastOrder(ctx context.Context, orderID string) error {
	return s.tab.Set(ctx, KeyLastOrderID, orderID)
}

func (s *Session) LoadLastOrder(ctx context.Context) (string, error) {
	v, err := s.tab.Get(ctx, KeyLastOrderID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (s *Session) ClearLastOrder(ctx context.Context) error {
	return s.tab.Delete(ctx, KeyLastOrderID)
}

// === Transient shopper state (durable scope) ===

// SaveCart persists the cart items. An empty cart removes the key.
func (s *Session) SaveCart(ctx context.Context, items []model.LineItem) error {
	if len(items) == 0 {
		return s.durable.Delete(ctx, KeyCartItems)
	}
	return s.putJSON(ctx, s.durable, KeyCartItems, items)
}

// LoadCart returns the persisted cart items, or nil.
func (s *Session) LoadCart(ctx context.Context) ([]model.LineItem, error) {
	var items []model.LineItem
	if _, err := s.getJSON(ctx, s.durable, KeyCartItems, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveEmail persists the captured email. Empty removes the key.
func (s *Session) SaveEmail(ctx context.Context, email string) error {
	if email == "" {
		return s.durable.Delete(ctx, KeyCustomerEmail)
	}
	return s.durable.Set(ctx, KeyCustomerEmail, email)
}

func (s *Session) LoadEmail(ctx context.Context) (string, error) {
	v, err := s.durable.Get(ctx, KeyCustomerEmail)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (s *Session) SaveShipping(ctx context.Context, details model.ShippingDetails) error {
	return s.putJSON(ctx, s.durable, KeyShipping, details)
}

// LoadShipping returns the persisted shipping selection, or nil.
func (s *Session) LoadShipping(ctx context.Context) (*model.ShippingDetails, error) {
	var details model.ShippingDetails
	ok, err := s.getJSON(ctx, s.durable, KeyShipping, &details)
	if err != nil || !ok {
		return nil, err
	}
	return &details, nil
}

// ClearTransient removes cart, email and shipping after a settled payment.
// The client identity is never touched.
func (s *Session) ClearTransient(ctx context.Context) error {
	var errs []error
	for _, key := range []string{KeyCartItems, KeyCustomerEmail, KeyShipping} {
		if err := s.durable.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Session) putJSON(ctx context.Context, store Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Set(ctx, key, string(data))
}

// getJSON decodes key into v. It reports false when the key is absent or
// held a value that no longer decodes (which is then deleted).
func (s *Session) getJSON(ctx context.Context, store Store, key string, v any) (bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.Warn("discarding corrupt stored value", "key", key, "error", err)
		_ = store.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}
