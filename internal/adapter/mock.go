package adapter

import (
	"context"
	"sync"

	"storefront/internal/model"
)

// Mock implements Gateway for testing.
// Each method can be configured via function fields; calls are counted.
type Mock struct {
	CreateSessionFunc func(ctx context.Context, req *model.SessionRequest) (*model.Session, error)
	PollStatusFunc    func(ctx context.Context, clientID, orderID string) (model.PaymentStatus, error)
	NotifyPaidFunc    func(ctx context.Context, job model.CheckoutJob) error

	mu    sync.Mutex
	calls map[string]int
}

// CreateSession calls the configured CreateSessionFunc or returns a valid session.
func (m *Mock) CreateSession(ctx context.Context, req *model.SessionRequest) (*model.Session, error) {
	m.record("CreateSession")
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, req)
	}
	return &model.Session{
		JobID:        "job_mock",
		OrderID:      "order_mock",
		ClientID:     req.ClientID,
		ClientSecret: "pi_mock_secret_123",
	}, nil
}

// PollStatus calls the configured PollStatusFunc or reports PENDING.
func (m *Mock) PollStatus(ctx context.Context, clientID, orderID string) (model.PaymentStatus, error) {
	m.record("PollStatus")
	if m.PollStatusFunc != nil {
		return m.PollStatusFunc(ctx, clientID, orderID)
	}
	return model.PaymentPending, nil
}

// NotifyPaid calls the configured NotifyPaidFunc or succeeds.
func (m *Mock) NotifyPaid(ctx context.Context, job model.CheckoutJob) error {
	m.record("NotifyPaid")
	if m.NotifyPaidFunc != nil {
		return m.NotifyPaidFunc(ctx, job)
	}
	return nil
}

// Calls returns how many times method was invoked.
func (m *Mock) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Verify Mock implements Gateway interface at compile time.
var _ Gateway = (*Mock)(nil)
