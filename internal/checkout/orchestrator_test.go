package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/adapter"
	"storefront/internal/cart"
	"storefront/internal/model"
	"storefront/internal/schedule"
	"storefront/internal/storage"
	"storefront/internal/widget"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	orch    *Orchestrator
	gw      *adapter.Mock
	host    *widget.FakeHost
	clock   *schedule.Manual
	cart    *cart.Store
	session *storage.Session
	durable *storage.MemoryStore
}

func newHarness(t *testing.T, gw *adapter.Mock, host *widget.FakeHost, cfg Config) *harness {
	t.Helper()
	if gw == nil {
		gw = &adapter.Mock{}
	}
	if host == nil {
		host = &widget.FakeHost{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	durable := storage.NewMemoryStore()
	session := storage.NewSession(durable, storage.NewMemoryStore(), logger)
	clock := schedule.NewManual(t0)
	c := cart.New()
	w := widget.New(host, widget.Config{ReturnURL: "https://shop.example/return"}, logger)

	o := New(gw, c, session, w, clock, cfg, logger)
	t.Cleanup(o.Close)
	return &harness{orch: o, gw: gw, host: host, clock: clock, cart: c, session: session, durable: durable}
}

func (h *harness) fillCart(t *testing.T) {
	t.Helper()
	h.cart.Add(model.Product{ID: 1, Name: "Autumn", Price: decimal.RequireFromString("0.50")})
	h.cart.Add(model.Product{ID: 1, Name: "Autumn", Price: decimal.RequireFromString("0.50")})
	h.cart.Add(model.Product{ID: 3, Name: "Stark", Price: decimal.RequireFromString("0.50")})
	_, err := h.cart.SetEmail("shopper@example.com")
	require.NoError(t, err)
}

// mounted runs a checkout up to WidgetMounted.
func (h *harness) mounted(t *testing.T) {
	t.Helper()
	h.fillCart(t)
	require.NoError(t, h.orch.Start(context.Background(), model.ShippingStandard))
	require.Equal(t, WidgetMounted, h.orch.Snapshot().State)
}

func (h *harness) persistedJob(t *testing.T) *model.CheckoutJob {
	t.Helper()
	job, err := h.session.LoadJob(context.Background())
	require.NoError(t, err)
	return job
}

func pendingConfirm(context.Context, widget.ConfirmParams) (widget.Confirmation, error) {
	return widget.Confirmation{Status: "processing"}, nil
}

func TestStart_ReachesWidgetMounted(t *testing.T) {
	var got *model.SessionRequest
	gw := &adapter.Mock{CreateSessionFunc: func(_ context.Context, req *model.SessionRequest) (*model.Session, error) {
		got = req
		return &model.Session{JobID: "job_1", OrderID: "order_1", ClientSecret: "pi_1_secret_x"}, nil
	}}
	h := newHarness(t, gw, nil, Config{})
	h.mounted(t)

	require.NotNil(t, got)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, "shopper@example.com", got.CustomerEmail)
	require.NotNil(t, got.ShippingDetails)
	assert.Equal(t, model.ShippingStandard, got.ShippingDetails.Method)

	clientID, err := h.session.ClientID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clientID, got.ClientID)

	job := h.persistedJob(t)
	require.NotNil(t, job)
	assert.Equal(t, "job_1", job.JobID)
	assert.Equal(t, "order_1", job.OrderID)
	assert.Equal(t, clientID, job.ClientID, "empty clientId in response falls back to ours")
	assert.True(t, job.StartTime.Equal(t0))

	snap := h.orch.Snapshot()
	assert.True(t, snap.SubmitEnabled)
	assert.Equal(t, "1.50", model.FormatAmount(snap.Subtotal))
	assert.Equal(t, "7.30", model.FormatAmount(snap.Total))
	assert.Equal(t, []string{"pi_1_secret_x"}, h.host.Secrets())
	assert.Equal(t, 1, h.host.Mounts())
}

func TestBegin_Validation(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		shipping model.Shipping
		field    string
	}{
		{
			name:     "empty cart",
			setup:    func(h *harness) { _, _ = h.cart.SetEmail("shopper@example.com") },
			shipping: model.ShippingBudget,
			field:    "cart",
		},
		{
			name: "missing email",
			setup: func(h *harness) {
				h.cart.Add(model.Product{ID: 1, Price: decimal.RequireFromString("0.50")})
			},
			shipping: model.ShippingBudget,
			field:    "email",
		},
		{
			name: "missing shipping",
			setup: func(h *harness) {
				h.cart.Add(model.Product{ID: 1, Price: decimal.RequireFromString("0.50")})
				_, _ = h.cart.SetEmail("shopper@example.com")
			},
			shipping: model.ShippingNone,
			field:    "shipping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil, Config{RequireShipping: true})
			tt.setup(h)

			err := h.orch.Begin(context.Background(), tt.shipping)
			require.ErrorIs(t, err, model.ErrValidation)
			assert.Contains(t, err.Error(), tt.field)

			snap := h.orch.Snapshot()
			assert.Equal(t, Idle, snap.State)
			assert.NotEmpty(t, snap.Error)
			assert.Zero(t, h.gw.Calls("CreateSession"), "no network call on validation failure")
		})
	}
}

func TestBegin_ShippingOptionalByDefault(t *testing.T) {
	var got *model.SessionRequest
	gw := &adapter.Mock{CreateSessionFunc: func(_ context.Context, req *model.SessionRequest) (*model.Session, error) {
		got = req
		return &model.Session{JobID: "j", OrderID: "o", ClientSecret: "pi_ok"}, nil
	}}
	h := newHarness(t, gw, nil, Config{})
	h.fillCart(t)

	require.NoError(t, h.orch.Begin(context.Background(), model.ShippingNone))
	assert.Equal(t, SessionReady, h.orch.Snapshot().State)
	assert.Nil(t, got.ShippingDetails)
}

// Scenario B: the server rejects the session.
func TestBegin_SessionErrorKeepsCart(t *testing.T) {
	gw := &adapter.Mock{CreateSessionFunc: func(context.Context, *model.SessionRequest) (*model.Session, error) {
		return nil, model.NewAPIError(500, "Inventory service unavailable")
	}}
	h := newHarness(t, gw, nil, Config{})
	h.fillCart(t)

	err := h.orch.Start(context.Background(), model.ShippingBudget)
	require.ErrorIs(t, err, model.ErrAPI)

	snap := h.orch.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.Equal(t, "Inventory service unavailable", snap.Error)
	assert.Equal(t, "API_ERROR", snap.ErrorCode)
	assert.False(t, snap.Recoverable)
	assert.Nil(t, snap.Job)
	assert.Equal(t, 3, h.cart.Snapshot().Count, "cart is kept")
	assert.Nil(t, h.persistedJob(t))
	assert.Empty(t, h.host.Secrets())
}

func TestBegin_InvalidSecretNeverMounts(t *testing.T) {
	for _, secret := range []string{"", "seti_123_secret", "pi_"} {
		t.Run(secret, func(t *testing.T) {
			gw := &adapter.Mock{CreateSessionFunc: func(context.Context, *model.SessionRequest) (*model.Session, error) {
				return &model.Session{JobID: "job_1", OrderID: "order_1", ClientSecret: secret}, nil
			}}
			h := newHarness(t, gw, nil, Config{})
			h.fillCart(t)

			err := h.orch.Start(context.Background(), model.ShippingBudget)
			require.ErrorIs(t, err, model.ErrProtocol)

			snap := h.orch.Snapshot()
			assert.Equal(t, Failed, snap.State)
			assert.Equal(t, "invalid payment session", snap.Error)
			assert.Nil(t, h.persistedJob(t))
			assert.Empty(t, h.host.Secrets())
			assert.Zero(t, h.host.Mounts())
		})
	}
}

func TestBegin_InProgress(t *testing.T) {
	h := newHarness(t, nil, nil, Config{})
	h.mounted(t)

	err := h.orch.Begin(context.Background(), model.ShippingBudget)
	assert.ErrorIs(t, err, model.ErrCheckoutInProgress)
	assert.Equal(t, 1, h.gw.Calls("CreateSession"))
}

func TestBegin_SupersededResultIgnored(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	gw := &adapter.Mock{CreateSessionFunc: func(context.Context, *model.SessionRequest) (*model.Session, error) {
		close(entered)
		<-release
		return &model.Session{JobID: "late", OrderID: "late", ClientSecret: "pi_late"}, nil
	}}
	h := newHarness(t, gw, nil, Config{})
	h.fillCart(t)

	errc := make(chan error, 1)
	go func() { errc <- h.orch.Begin(context.Background(), model.ShippingBudget) }()

	<-entered
	h.orch.ReturnToShop()
	close(release)

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, Idle, h.orch.Snapshot().State)
	assert.Nil(t, h.persistedJob(t))
}

func TestMountWidget_MissingContainerRetries(t *testing.T) {
	host := &widget.FakeHost{Containers: map[string]bool{}}
	h := newHarness(t, nil, host, Config{})
	h.fillCart(t)

	err := h.orch.Start(context.Background(), model.ShippingBudget)
	require.ErrorIs(t, err, model.ErrMount)

	snap := h.orch.Snapshot()
	assert.Equal(t, SessionReady, snap.State)
	assert.True(t, snap.Recoverable)
	assert.NotNil(t, h.persistedJob(t), "job survives a mount error")

	host.AddContainer("#payment-element")
	require.NoError(t, h.orch.MountWidget(context.Background(), ""))

	snap = h.orch.Snapshot()
	assert.Equal(t, WidgetMounted, snap.State)
	assert.Empty(t, snap.Error)
	assert.Len(t, host.Secrets(), 1, "widget is not initialized twice")
}

func TestMountWidget_InitFailure(t *testing.T) {
	host := &widget.FakeHost{InitErr: errors.New("IntegrationError")}
	h := newHarness(t, nil, host, Config{})
	h.fillCart(t)

	err := h.orch.Start(context.Background(), model.ShippingBudget)
	require.ErrorIs(t, err, model.ErrWidget)
	assert.Equal(t, Failed, h.orch.Snapshot().State)
	assert.Nil(t, h.persistedJob(t))
}

func TestMountWidget_WrongState(t *testing.T) {
	h := newHarness(t, nil, nil, Config{})
	assert.ErrorIs(t, h.orch.MountWidget(context.Background(), ""), model.ErrNoCheckout)
}

// Scenario C: immediate success clears everything job related.
func TestSubmit_SuccessClearsState(t *testing.T) {
	h := newHarness(t, nil, nil, Config{})
	ctx := context.Background()
	require.NoError(t, h.session.SaveEmail(ctx, "shopper@example.com"))
	h.mounted(t)
	clientID, err := h.durable.Get(ctx, storage.KeyClientID)
	require.NoError(t, err)

	require.NoError(t, h.orch.Submit(ctx))

	snap := h.orch.Snapshot()
	assert.Equal(t, Succeeded, snap.State)
	assert.Nil(t, snap.Job)
	assert.True(t, h.cart.Snapshot().IsEmpty())
	assert.Empty(t, h.cart.Email())
	assert.Nil(t, h.persistedJob(t))

	lastOrder, err := h.session.LoadLastOrder(ctx)
	require.NoError(t, err)
	assert.Empty(t, lastOrder)
	email, err := h.session.LoadEmail(ctx)
	require.NoError(t, err)
	assert.Empty(t, email)
	shipping, err := h.session.LoadShipping(ctx)
	require.NoError(t, err)
	assert.Nil(t, shipping)

	stillThere, err := h.durable.Get(ctx, storage.KeyClientID)
	require.NoError(t, err)
	assert.Equal(t, clientID, stillThere, "client id is never cleared")
	assert.Equal(t, 1, h.gw.Calls("NotifyPaid"))
	assert.Zero(t, h.gw.Calls("PollStatus"))
}

// A confirm answer with neither an error nor a status is a success.
func TestSubmit_BareConfirmationSucceeds(t *testing.T) {
	host := &widget.FakeHost{ConfirmFunc: func(context.Context, widget.ConfirmParams) (widget.Confirmation, error) {
		return widget.Confirmation{}, nil
	}}
	h := newHarness(t, nil, host, Config{})
	ctx := context.Background()
	h.mounted(t)
	clientID, err := h.durable.Get(ctx, storage.KeyClientID)
	require.NoError(t, err)
	require.NotEmpty(t, clientID)

	require.NoError(t, h.orch.Submit(ctx))

	snap := h.orch.Snapshot()
	assert.Equal(t, Succeeded, snap.State)
	assert.Nil(t, snap.Job)
	assert.True(t, h.cart.Snapshot().IsEmpty())
	assert.Nil(t, h.persistedJob(t))

	stillThere, err := h.durable.Get(ctx, storage.KeyClientID)
	require.NoError(t, err)
	assert.Equal(t, clientID, stillThere)
	assert.Zero(t, h.gw.Calls("PollStatus"))
}

func TestSubmit_NotifyFailureIsIgnored(t *testing.T) {
	gw := &adapter.Mock{NotifyPaidFunc: func(context.Context, model.CheckoutJob) error {
		return model.NewNetworkError("notify", errors.New("connection refused"))
	}}
	h := newHarness(t, gw, nil, Config{})
	h.mounted(t)

	require.NoError(t, h.orch.Submit(context.Background()))
	assert.Equal(t, Succeeded, h.orch.Snapshot().State)
}

func TestSubmit_DeclineIsRecoverable(t *testing.T) {
	var calls int
	host := &widget.FakeHost{ConfirmFunc: func(context.Context, widget.ConfirmParams) (widget.Confirmation, error) {
		calls++
		if calls == 1 {
			return widget.Confirmation{ErrorMessage: "Your card was declined."}, nil
		}
		return widget.Confirmation{Status: "succeeded"}, nil
	}}
	h := newHarness(t, nil, host, Config{})
	h.mounted(t)

	err := h.orch.Submit(context.Background())
	require.ErrorIs(t, err, model.ErrWidget)

	snap := h.orch.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.True(t, snap.Recoverable)
	assert.True(t, snap.SubmitEnabled)
	assert.Equal(t, "Your card was declined.", snap.Error)
	assert.NotNil(t, snap.Job)
	assert.NotNil(t, h.persistedJob(t))
	assert.Equal(t, 3, h.cart.Snapshot().Count)

	require.NoError(t, h.orch.Submit(context.Background()))
	assert.Equal(t, Succeeded, h.orch.Snapshot().State)
	assert.Equal(t, 1, h.gw.Calls("CreateSession"), "retry reuses the session")
}

func TestBegin_RejectedInputKeepsRecoverableAttempt(t *testing.T) {
	var calls int
	host := &widget.FakeHost{ConfirmFunc: func(context.Context, widget.ConfirmParams) (widget.Confirmation, error) {
		calls++
		if calls == 1 {
			return widget.Confirmation{ErrorMessage: "Your card was declined."}, nil
		}
		return widget.Confirmation{Status: "succeeded"}, nil
	}}
	h := newHarness(t, nil, host, Config{RequireShipping: true})
	h.mounted(t)
	require.ErrorIs(t, h.orch.Submit(context.Background()), model.ErrWidget)

	err := h.orch.Begin(context.Background(), model.ShippingNone)
	require.ErrorIs(t, err, model.ErrValidation)

	snap := h.orch.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.True(t, snap.Recoverable)
	assert.True(t, snap.SubmitEnabled)
	assert.NotNil(t, snap.Job)
	assert.NotNil(t, h.persistedJob(t))

	require.NoError(t, h.orch.Submit(context.Background()))
	assert.Equal(t, Succeeded, h.orch.Snapshot().State)
	assert.Equal(t, 1, h.gw.Calls("CreateSession"))
}

func TestSubmit_DoubleSubmitRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	host := &widget.FakeHost{ConfirmFunc: func(context.Context, widget.ConfirmParams) (widget.Confirmation, error) {
		close(entered)
		<-release
		return widget.Confirmation{Status: "succeeded"}, nil
	}}
	h := newHarness(t, nil, host, Config{})
	h.mounted(t)

	errc := make(chan error, 1)
	go func() { errc <- h.orch.Submit(context.Background()) }()
	<-entered

	snap := h.orch.Snapshot()
	assert.Equal(t, PaymentSubmitted, snap.State)
	assert.False(t, snap.SubmitEnabled)
	assert.ErrorIs(t, h.orch.Submit(context.Background()), model.ErrCheckoutInProgress)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, host.Confirms())
}

func TestSubmit_WithoutCheckout(t *testing.T) {
	h := newHarness(t, nil, nil, Config{})
	assert.ErrorIs(t, h.orch.Submit(context.Background()), model.ErrNoCheckout)
}

func TestPolling_PaidSucceeds(t *testing.T) {
	var polls int
	gw := &adapter.Mock{PollStatusFunc: func(_ context.Context, clientID, orderID string) (model.PaymentStatus, error) {
		polls++
		assert.Equal(t, "order_mock", orderID)
		assert.NotEmpty(t, clientID)
		if polls < 3 {
			return model.PaymentPending, nil
		}
		return model.PaymentPaid, nil
	}}
	h := newHarness(t, gw, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{})
	h.mounted(t)

	require.NoError(t, h.orch.Submit(context.Background()))
	assert.Equal(t, AwaitingConfirmation, h.orch.Snapshot().State)

	h.clock.Advance(4 * time.Second)
	assert.Zero(t, polls, "first poll waits one interval")

	h.clock.Advance(11 * time.Second)
	assert.Equal(t, 3, polls)
	assert.Equal(t, Succeeded, h.orch.Snapshot().State)
	assert.True(t, h.cart.Snapshot().IsEmpty())
	assert.Equal(t, 1, h.gw.Calls("NotifyPaid"))
	assert.Zero(t, h.clock.Pending())
}

// Scenario D: twelve pending polls exhaust the budget at 60s.
func TestPolling_TimesOutAfterBudget(t *testing.T) {
	h := newHarness(t, nil, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{})
	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))

	h.clock.Advance(55 * time.Second)
	snap := h.orch.Snapshot()
	assert.Equal(t, AwaitingConfirmation, snap.State)
	assert.Equal(t, 11, snap.Attempts)
	assert.Equal(t, 55, snap.ElapsedSecs)

	h.clock.Advance(5 * time.Second)
	snap = h.orch.Snapshot()
	assert.Equal(t, TimedOut, snap.State)
	assert.Equal(t, 12, h.gw.Calls("PollStatus"))
	assert.Equal(t, 60*time.Second, snap.Elapsed)
	assert.NotEmpty(t, snap.Error)
	assert.Zero(t, h.clock.Pending(), "timers stop on timeout")

	assert.Nil(t, h.persistedJob(t))
	lastOrder, err := h.session.LoadLastOrder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order_mock", lastOrder, "timed out order kept for reconciliation")
	assert.Equal(t, 3, h.cart.Snapshot().Count)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 12, h.gw.Calls("PollStatus"))
}

// Scenario D, manual exit: returning to the shop stops every timer.
func TestPolling_ReturnToShopStopsTimers(t *testing.T) {
	h := newHarness(t, nil, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{})
	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))

	h.clock.Advance(12 * time.Second)
	require.Equal(t, 2, h.gw.Calls("PollStatus"))

	h.orch.ReturnToShop()
	snap := h.orch.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Job)
	assert.Zero(t, h.clock.Pending())
	assert.Nil(t, h.persistedJob(t))
	assert.Equal(t, 3, h.cart.Snapshot().Count, "cart kept")

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, h.gw.Calls("PollStatus"), "no further network calls")
}

// Scenario E: an authorization failure ends polling at once.
func TestPolling_AuthorizationTimesOut(t *testing.T) {
	gw := &adapter.Mock{PollStatusFunc: func(context.Context, string, string) (model.PaymentStatus, error) {
		return "", model.NewAuthorizationError(403)
	}}
	h := newHarness(t, gw, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{})
	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, TimedOut, h.orch.Snapshot().State)
	assert.Equal(t, 1, h.gw.Calls("PollStatus"))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.gw.Calls("PollStatus"))
}

func TestPolling_AuthorizationThreshold(t *testing.T) {
	var polls int
	gw := &adapter.Mock{PollStatusFunc: func(context.Context, string, string) (model.PaymentStatus, error) {
		polls++
		if polls == 2 {
			return model.PaymentPending, nil
		}
		return "", model.NewAuthorizationError(401)
	}}
	h := newHarness(t, gw, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{AuthThreshold: 2})
	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))

	// 401, pending (resets the streak), 401, 401.
	h.clock.Advance(15 * time.Second)
	assert.Equal(t, AwaitingConfirmation, h.orch.Snapshot().State)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, TimedOut, h.orch.Snapshot().State)
	assert.Equal(t, 4, polls)
}

func TestPolling_FailedStatus(t *testing.T) {
	gw := &adapter.Mock{PollStatusFunc: func(context.Context, string, string) (model.PaymentStatus, error) {
		return model.PaymentFailed, nil
	}}
	h := newHarness(t, gw, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{})
	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))

	h.clock.Advance(5 * time.Second)
	snap := h.orch.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.False(t, snap.Recoverable)
	assert.False(t, snap.SubmitEnabled)
	assert.Nil(t, h.persistedJob(t))
	assert.Equal(t, 3, h.cart.Snapshot().Count)
}

func TestPolling_ErrorsCountAsAttempts(t *testing.T) {
	var polls int
	gw := &adapter.Mock{PollStatusFunc: func(context.Context, string, string) (model.PaymentStatus, error) {
		polls++
		switch polls % 3 {
		case 0:
			return model.PaymentUnknown, nil
		case 1:
			return "", model.NewNetworkError("poll", context.DeadlineExceeded)
		default:
			return "", model.NewAPIError(503, "")
		}
	}}
	h := newHarness(t, gw, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{PollInterval: time.Second, PollAttempts: 6})
	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))

	h.clock.Advance(6 * time.Second)
	assert.Equal(t, TimedOut, h.orch.Snapshot().State)
	assert.Equal(t, 6, polls)
}

func TestSubmit_RedirectKeepsJobAndPolls(t *testing.T) {
	host := &widget.FakeHost{ConfirmFunc: func(context.Context, widget.ConfirmParams) (widget.Confirmation, error) {
		return widget.Confirmation{}, widget.ErrRedirected
	}}
	h := newHarness(t, nil, host, Config{})
	h.mounted(t)

	require.NoError(t, h.orch.Submit(context.Background()))
	assert.Equal(t, AwaitingConfirmation, h.orch.Snapshot().State)
	assert.NotNil(t, h.persistedJob(t))
}

func TestResume(t *testing.T) {
	gw := &adapter.Mock{PollStatusFunc: func(_ context.Context, clientID, orderID string) (model.PaymentStatus, error) {
		assert.Equal(t, "client_abc", clientID)
		assert.Equal(t, "order_9", orderID)
		return model.PaymentPaid, nil
	}}
	h := newHarness(t, gw, nil, Config{})
	ctx := context.Background()

	require.NoError(t, h.orch.Resume(ctx), "nothing to resume is not an error")
	assert.Equal(t, Idle, h.orch.Snapshot().State)

	require.NoError(t, h.session.SaveJob(ctx, model.CheckoutJob{JobID: "job_9", OrderID: "order_9", ClientID: "client_abc", StartTime: t0}))
	require.NoError(t, h.orch.Resume(ctx))
	snap := h.orch.Snapshot()
	assert.Equal(t, AwaitingConfirmation, snap.State)
	assert.Equal(t, "order_9", snap.LastOrderID)

	assert.ErrorIs(t, h.orch.Resume(ctx), model.ErrCheckoutInProgress)

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, Succeeded, h.orch.Snapshot().State)
	assert.Nil(t, h.persistedJob(t))
}

func TestReset(t *testing.T) {
	gw := &adapter.Mock{CreateSessionFunc: func(context.Context, *model.SessionRequest) (*model.Session, error) {
		return nil, model.NewNetworkError("create session", errors.New("dial tcp: refused"))
	}}
	h := newHarness(t, gw, nil, Config{})
	h.fillCart(t)

	require.Error(t, h.orch.Start(context.Background(), model.ShippingBudget))
	require.Equal(t, Failed, h.orch.Snapshot().State)

	require.NoError(t, h.orch.Reset())
	snap := h.orch.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Error)

	gw.CreateSessionFunc = nil
	require.NoError(t, h.orch.Start(context.Background(), model.ShippingBudget))
	assert.ErrorIs(t, h.orch.Reset(), model.ErrCheckoutInProgress)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, nil, nil, Config{})

	var mu sync.Mutex
	var got []State
	unsubscribe := h.orch.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.From != ev.To {
			got = append(got, ev.To)
		}
	})

	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))

	mu.Lock()
	assert.Equal(t, []State{SessionRequested, SessionReady, WidgetMounted, PaymentSubmitted, Succeeded}, got)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, h.orch.Reset())
	mu.Lock()
	assert.Len(t, got, 5)
	mu.Unlock()
}

func TestSubscribe_PollLabels(t *testing.T) {
	var polls int
	gw := &adapter.Mock{PollStatusFunc: func(context.Context, string, string) (model.PaymentStatus, error) {
		polls++
		if polls == 1 {
			return model.PaymentPending, nil
		}
		return model.PaymentPaid, nil
	}}
	h := newHarness(t, gw, &widget.FakeHost{ConfirmFunc: pendingConfirm}, Config{})

	var labels []string
	h.orch.Subscribe(func(ev Event) {
		if ev.Poll != "" {
			labels = append(labels, ev.Poll)
		}
	})

	h.mounted(t)
	require.NoError(t, h.orch.Submit(context.Background()))
	h.clock.Advance(10 * time.Second)

	assert.Equal(t, []string{"pending", "paid"}, labels)
}
