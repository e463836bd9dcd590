// Package checkout owns the checkout state machine: it creates the remote
// session, drives the payment widget and polls for asynchronous settlement.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"storefront/internal/adapter"
	"storefront/internal/cart"
	"storefront/internal/model"
	"storefront/internal/schedule"
	"storefront/internal/storage"
	"storefront/internal/validate"
	"storefront/internal/widget"
)

// ErrSuperseded is returned when an attempt was cancelled or replaced while
// its network call was in flight. The result was discarded.
var ErrSuperseded = errors.New("checkout attempt superseded")

// PaymentWidget is the subset of *widget.Widget the orchestrator drives.
type PaymentWidget interface {
	Initialize(ctx context.Context, clientSecret string) error
	Mount(ctx context.Context, container string) error
	Submit(ctx context.Context, billingEmail string) (widget.Outcome, error)
	Destroy(ctx context.Context)
}

// Config tunes polling and validation.
type Config struct {
	PollInterval    time.Duration // default 5s
	PollAttempts    int           // default 12
	AuthThreshold   int           // consecutive authorization failures before giving up; default 1
	ElapsedTick     time.Duration // default 1s
	NotifyTimeout   time.Duration // default 10s
	RequireShipping bool
	Container       string // default "#payment-element"
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 12
	}
	if c.AuthThreshold <= 0 {
		c.AuthThreshold = 1
	}
	if c.ElapsedTick <= 0 {
		c.ElapsedTick = time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	if c.Container == "" {
		c.Container = "#payment-element"
	}
}

// Orchestrator is the single owner of checkout state for one shopper.
//
// Transitions run under mu. Network and widget calls run outside it and
// re-acquire it to apply their result, discarding results whose generation
// or job no longer matches. Side effects on other components (cart, storage,
// widget teardown, listeners) run after mu is released.
type Orchestrator struct {
	gateway adapter.Gateway
	cart    *cart.Store
	session *storage.Session
	widget  PaymentWidget
	sched   schedule.Scheduler
	cfg     Config
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	gen          uint64
	job          *model.CheckoutJob
	secret       string
	shipping     model.Shipping
	widgetReady  bool
	err          error
	recoverable  bool
	attempts     int
	authFailures int
	polling      bool
	waitingSince time.Time
	elapsed      time.Duration
	lastOrderID  string

	listeners map[int]Listener
	nextSub   int
}

// New creates an idle orchestrator.
func New(gw adapter.Gateway, c *cart.Store, session *storage.Session, w PaymentWidget, sched schedule.Scheduler, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		gateway:   gw,
		cart:      c,
		session:   session,
		widget:    w,
		sched:     sched,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		state:     Idle,
		listeners: make(map[int]Listener),
	}
}

// Close stops all timers and abandons in-flight polls. Persisted job state
// is kept so a later process can Resume.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.gen++
	o.mu.Unlock()
	o.sched.StopAll()
	o.cancel()
}

// =============================================================================
// SESSION
// =============================================================================

// Start begins a checkout and mounts the widget in the configured container.
func (o *Orchestrator) Start(ctx context.Context, shipping model.Shipping) error {
	if err := o.Begin(ctx, shipping); err != nil {
		return err
	}
	return o.MountWidget(ctx, o.cfg.Container)
}

// Begin validates the cart and requests a checkout session.
func (o *Orchestrator) Begin(ctx context.Context, shipping model.Shipping) error {
	snap := o.cart.Snapshot()

	o.mu.Lock()
	if !o.state.canBegin() {
		state := o.state
		o.mu.Unlock()
		o.logger.Debug("begin rejected", "state", state)
		return model.ErrCheckoutInProgress
	}
	o.mu.Unlock()

	email, err := o.checkInputs(snap, shipping)
	if err != nil {
		// A held recoverable attempt stays submittable.
		o.mu.Lock()
		o.err = err
		o.mu.Unlock()
		return err
	}

	clientID, err := o.session.ClientID(ctx)
	if err != nil {
		return err
	}

	fx := &effects{}
	o.mu.Lock()
	if !o.state.canBegin() {
		o.mu.Unlock()
		return model.ErrCheckoutInProgress
	}
	if o.job != nil {
		// A recoverable failure still holds the previous attempt.
		fx.clearJob = true
		fx.destroyWidget = true
		o.job = nil
	}
	o.gen++
	gen := o.gen
	o.resetAttemptLocked()
	o.shipping = shipping
	o.transitionLocked(fx, SessionRequested)
	o.mu.Unlock()
	o.apply(fx)

	req := &model.SessionRequest{
		Items:         model.NewSessionItems(snap.Items),
		CustomerEmail: email,
		ClientID:      clientID,
	}
	if shipping != model.ShippingNone {
		details := model.ShippingDetails{Method: shipping, EstimatedCost: shipping.Surcharge()}
		req.ShippingDetails = &details
		if err := o.session.SaveShipping(ctx, details); err != nil {
			o.logger.Warn("saving shipping details", "error", err)
		}
	}

	o.logger.Info("requesting checkout session", "client_id", clientID, "items", len(snap.Items), "shipping", shipping)
	sess, err := o.gateway.CreateSession(ctx, req)
	if err == nil {
		err = model.ValidateClientSecret(sess.ClientSecret)
	}

	fx = &effects{}
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		o.failLocked(fx, err, false)
		o.mu.Unlock()
		o.apply(fx)
		o.logger.Warn("checkout session failed", "error", err)
		return err
	}

	if sess.ClientID == "" {
		sess.ClientID = clientID
	}
	job := model.CheckoutJob{
		JobID:     sess.JobID,
		OrderID:   sess.OrderID,
		ClientID:  sess.ClientID,
		StartTime: o.sched.Now().UTC(),
	}
	o.job = &job
	o.secret = sess.ClientSecret
	o.lastOrderID = job.OrderID
	fx.saveJob = &job
	o.transitionLocked(fx, SessionReady)
	o.mu.Unlock()
	o.apply(fx)

	o.logger.Info("checkout session ready", "job_id", job.JobID, "order_id", job.OrderID)
	return nil
}

func (o *Orchestrator) checkInputs(snap model.Cart, shipping model.Shipping) (string, error) {
	if snap.IsEmpty() {
		return "", model.NewValidationError("cart", "your cart is empty")
	}
	email, err := validate.Email(snap.Email)
	if err != nil {
		return "", err
	}
	if o.cfg.RequireShipping && shipping == model.ShippingNone {
		return "", model.NewValidationError("shipping", "please select a shipping option")
	}
	return email, nil
}

// MountWidget initializes the payment form with the session token and
// attaches it to container. A missing container leaves the orchestrator in
// SessionReady so the mount can be retried.
func (o *Orchestrator) MountWidget(ctx context.Context, container string) error {
	o.mu.Lock()
	if o.state != SessionReady {
		err := o.stateErrLocked()
		o.mu.Unlock()
		return err
	}
	gen, secret, ready := o.gen, o.secret, o.widgetReady
	o.mu.Unlock()

	if container == "" {
		container = o.cfg.Container
	}

	if !ready {
		if err := o.widget.Initialize(ctx, secret); err != nil {
			return o.widgetFailed(gen, err)
		}
		o.mu.Lock()
		if o.gen == gen {
			o.widgetReady = true
		}
		o.mu.Unlock()
	}

	if err := o.widget.Mount(ctx, container); err != nil {
		if errors.Is(err, model.ErrMount) {
			o.mu.Lock()
			if o.gen == gen {
				o.err = err
				o.recoverable = true
			}
			o.mu.Unlock()
			o.logger.Warn("payment container missing", "container", container)
			return err
		}
		return o.widgetFailed(gen, err)
	}

	fx := &effects{}
	o.mu.Lock()
	if o.gen != gen || o.state != SessionReady {
		o.mu.Unlock()
		return ErrSuperseded
	}
	o.err = nil
	o.recoverable = false
	o.transitionLocked(fx, WidgetMounted)
	o.mu.Unlock()
	o.apply(fx)
	return nil
}

func (o *Orchestrator) widgetFailed(gen uint64, err error) error {
	fx := &effects{}
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return ErrSuperseded
	}
	o.failLocked(fx, err, false)
	o.mu.Unlock()
	o.apply(fx)
	o.logger.Warn("payment form failed", "error", err)
	return err
}

// =============================================================================
// PAYMENT
// =============================================================================

// Submit confirms the payment through the mounted widget.
func (o *Orchestrator) Submit(ctx context.Context) error {
	fx := &effects{}
	o.mu.Lock()
	if !o.submitEnabledLocked() {
		err := o.stateErrLocked()
		o.mu.Unlock()
		return err
	}
	o.err = nil
	o.recoverable = false
	gen := o.gen
	jobID := o.job.JobID
	o.transitionLocked(fx, PaymentSubmitted)
	o.mu.Unlock()
	o.apply(fx)

	outcome, err := o.widget.Submit(ctx, o.cart.Email())

	fx = &effects{}
	o.mu.Lock()
	if !o.currentLocked(gen, jobID) || o.state != PaymentSubmitted {
		o.mu.Unlock()
		return ErrSuperseded
	}

	switch {
	case err != nil || outcome.Result == widget.ResultFailed:
		if err == nil {
			err = model.NewWidgetError(outcome.Message, nil)
		}
		o.failLocked(fx, err, true)
	case outcome.Result == widget.ResultSucceeded:
		o.succeedLocked(fx)
	default:
		// Pending and redirected both settle out of band.
		o.transitionLocked(fx, AwaitingConfirmation)
		o.startPollingLocked()
	}
	o.mu.Unlock()
	o.apply(fx)

	o.logger.Info("payment submitted", "job_id", jobID, "result", outcome.Result)
	return err
}

// =============================================================================
// POLLING
// =============================================================================

// startPollingLocked enters the polling loop with a fresh budget. The first
// poll fires one interval from now.
func (o *Orchestrator) startPollingLocked() {
	o.attempts = 0
	o.authFailures = 0
	o.polling = false
	o.waitingSince = o.sched.Now()
	o.elapsed = 0

	gen, jobID := o.gen, o.job.JobID
	o.sched.Every(o.cfg.ElapsedTick, func() { o.tick(gen, jobID) })
	o.sched.After(o.cfg.PollInterval, func() { o.poll(gen, jobID) })
}

func (o *Orchestrator) tick(gen uint64, jobID string) {
	fx := &effects{}
	o.mu.Lock()
	if !o.currentLocked(gen, jobID) || o.state != AwaitingConfirmation {
		o.mu.Unlock()
		return
	}
	o.elapsed = o.sched.Now().Sub(o.waitingSince)
	o.transitionLocked(fx, AwaitingConfirmation)
	o.mu.Unlock()
	o.apply(fx)
}

func (o *Orchestrator) poll(gen uint64, jobID string) {
	o.mu.Lock()
	if !o.currentLocked(gen, jobID) || o.state != AwaitingConfirmation || o.polling {
		o.mu.Unlock()
		return
	}
	o.polling = true
	o.attempts++
	attempt := o.attempts
	job := *o.job
	o.mu.Unlock()

	status, err := o.gateway.PollStatus(o.ctx, job.ClientID, job.OrderID)

	fx := &effects{}
	o.mu.Lock()
	defer func() {
		o.mu.Unlock()
		o.apply(fx)
	}()
	if !o.currentLocked(gen, jobID) || o.state != AwaitingConfirmation {
		return
	}
	o.polling = false
	o.elapsed = o.sched.Now().Sub(o.waitingSince)
	fx.poll = pollResult(status, err)

	log := o.logger.With("order_id", job.OrderID, "attempt", attempt)
	switch {
	case errors.Is(err, model.ErrAuthorization):
		o.authFailures++
		log.Warn("payment status not authorized", "consecutive", o.authFailures)
		if o.authFailures >= o.cfg.AuthThreshold {
			o.timeoutLocked(fx)
			return
		}
	case err != nil:
		o.authFailures = 0
		log.Warn("payment status poll failed", "error", err, "retryable", model.Retryable(err))
	case status == model.PaymentPaid:
		log.Info("payment confirmed")
		o.succeedLocked(fx)
		return
	case status == model.PaymentFailed:
		log.Info("payment failed")
		o.failLocked(fx, model.NewAPIError(http.StatusPaymentRequired, "Payment failed. Please try again."), false)
		return
	default:
		o.authFailures = 0
		log.Debug("payment still pending", "status", status)
	}

	if o.attempts >= o.cfg.PollAttempts {
		log.Info("payment confirmation timed out")
		o.timeoutLocked(fx)
		return
	}
	o.transitionLocked(fx, AwaitingConfirmation)
	o.sched.After(o.cfg.PollInterval, func() { o.poll(gen, jobID) })
}

// Resume re-enters AwaitingConfirmation for a job persisted by an earlier
// process or left behind by a redirect. It is a no-op when none is stored.
func (o *Orchestrator) Resume(ctx context.Context) error {
	job, err := o.session.LoadJob(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	fx := &effects{}
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return model.ErrCheckoutInProgress
	}
	o.gen++
	o.resetAttemptLocked()
	o.job = job
	o.lastOrderID = job.OrderID
	o.transitionLocked(fx, AwaitingConfirmation)
	o.startPollingLocked()
	o.mu.Unlock()
	o.apply(fx)

	o.logger.Info("resumed checkout", "job_id", job.JobID, "order_id", job.OrderID)
	return nil
}

// =============================================================================
// LEAVING
// =============================================================================

// ReturnToShop abandons the current attempt and goes back to Idle. Timers
// stop, the job is cleared and the cart is kept.
func (o *Orchestrator) ReturnToShop() {
	fx := &effects{}
	o.mu.Lock()
	if o.state == Idle && o.job == nil {
		o.mu.Unlock()
		return
	}
	o.gen++
	o.sched.StopAll()
	if o.job != nil {
		fx.clearJob = true
		o.job = nil
	}
	fx.destroyWidget = true
	o.resetAttemptLocked()
	o.err = nil
	o.transitionLocked(fx, Idle)
	o.mu.Unlock()
	o.apply(fx)
	o.logger.Info("returned to shop")
}

// Reset clears a terminal outcome and returns to Idle.
func (o *Orchestrator) Reset() error {
	fx := &effects{}
	o.mu.Lock()
	switch {
	case o.state == Idle:
		o.err = nil
		o.mu.Unlock()
		return nil
	case !o.state.Terminal():
		o.mu.Unlock()
		return model.ErrCheckoutInProgress
	}
	if o.job != nil {
		// Recoverable failure: the job is still held.
		fx.clearJob = true
		fx.destroyWidget = true
		o.job = nil
	}
	o.gen++
	o.resetAttemptLocked()
	o.err = nil
	o.transitionLocked(fx, Idle)
	o.mu.Unlock()
	o.apply(fx)
	return nil
}

// =============================================================================
// VIEW
// =============================================================================

// Snapshot returns the current view state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers fn for every transition and elapsed tick. The returned
// function removes it.
func (o *Orchestrator) Subscribe(fn Listener) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	c := o.cart.Snapshot()
	s := Snapshot{
		State:         o.state,
		Shipping:      o.shipping,
		Subtotal:      c.Subtotal,
		Total:         c.Total(o.shipping),
		Recoverable:   o.recoverable,
		SubmitEnabled: o.submitEnabledLocked(),
		Attempts:      o.attempts,
		MaxAttempts:   o.cfg.PollAttempts,
		Elapsed:       o.elapsed,
		ElapsedSecs:   int(o.elapsed / time.Second),
		LastOrderID:   o.lastOrderID,
	}
	if o.job != nil {
		job := *o.job
		s.Job = &job
	}
	if o.err != nil {
		s.Error = model.Message(o.err)
		var ce *model.CheckoutError
		if errors.As(o.err, &ce) {
			s.ErrorCode = ce.Code
		}
	}
	return s
}

// =============================================================================
// INTERNALS
// =============================================================================

func (o *Orchestrator) submitEnabledLocked() bool {
	return o.job != nil && (o.state == WidgetMounted || (o.state == Failed && o.recoverable))
}

func (o *Orchestrator) currentLocked(gen uint64, jobID string) bool {
	return o.gen == gen && o.job != nil && o.job.JobID == jobID
}

func (o *Orchestrator) stateErrLocked() error {
	switch o.state {
	case Idle, Succeeded, TimedOut, Failed:
		return model.ErrNoCheckout
	default:
		return model.ErrCheckoutInProgress
	}
}

func (o *Orchestrator) resetAttemptLocked() {
	o.secret = ""
	o.widgetReady = false
	o.recoverable = false
	o.attempts = 0
	o.authFailures = 0
	o.polling = false
	o.elapsed = 0
}

// succeedLocked settles the job: cart, job and transient keys are cleared,
// the client id stays.
func (o *Orchestrator) succeedLocked(fx *effects) {
	o.sched.StopAll()
	job := *o.job
	o.job = nil
	o.err = nil
	o.recoverable = false
	o.lastOrderID = ""
	fx.clearJob = true
	fx.clearLastOrder = true
	fx.clearCart = true
	fx.destroyWidget = true
	fx.notify = &job
	o.transitionLocked(fx, Succeeded)
}

// failLocked records err. A recoverable failure keeps the job and widget so
// the shopper can resubmit.
func (o *Orchestrator) failLocked(fx *effects, err error, recoverable bool) {
	o.sched.StopAll()
	o.err = err
	o.recoverable = recoverable
	if !recoverable {
		if o.job != nil {
			fx.clearJob = true
			o.job = nil
		}
		fx.clearLastOrder = true
		fx.destroyWidget = o.widgetReady
		o.lastOrderID = ""
		o.widgetReady = false
	}
	o.transitionLocked(fx, Failed)
}

// timeoutLocked gives up polling. lastOrderId survives for reconciliation.
func (o *Orchestrator) timeoutLocked(fx *effects) {
	o.sched.StopAll()
	o.err = model.NewAPIError(http.StatusRequestTimeout, "We could not confirm your payment yet. If you were charged, your order will be processed.")
	o.recoverable = false
	if o.job != nil {
		fx.clearJob = true
		o.job = nil
	}
	fx.destroyWidget = true
	o.transitionLocked(fx, TimedOut)
}

func (o *Orchestrator) transitionLocked(fx *effects, to State) {
	from := o.state
	o.state = to
	if from != to {
		o.logger.Debug("checkout transition", "from", from, "to", to)
	}
	fx.events = append(fx.events, Event{From: from, To: to, Snapshot: o.snapshotLocked()})
	if fx.listeners == nil {
		fx.listeners = make([]Listener, 0, len(o.listeners))
		for _, fn := range o.listeners {
			fx.listeners = append(fx.listeners, fn)
		}
	}
}

// effects collects work that must run after mu is released.
type effects struct {
	events         []Event
	listeners      []Listener
	saveJob        *model.CheckoutJob
	clearJob       bool
	clearLastOrder bool
	clearCart      bool
	destroyWidget  bool
	notify         *model.CheckoutJob
	poll           string // result label when the effects come from a status poll
}

func (o *Orchestrator) apply(fx *effects) {
	ctx := o.ctx
	if fx.saveJob != nil {
		if err := o.session.SaveJob(ctx, *fx.saveJob); err != nil {
			o.logger.Error("saving checkout job", "error", err)
		}
		if err := o.session.SaveLastOrder(ctx, fx.saveJob.OrderID); err != nil {
			o.logger.Warn("saving last order id", "error", err)
		}
	}
	if fx.clearJob {
		if err := o.session.ClearJob(ctx); err != nil {
			o.logger.Warn("clearing checkout job", "error", err)
		}
	}
	if fx.clearLastOrder {
		if err := o.session.ClearLastOrder(ctx); err != nil {
			o.logger.Warn("clearing last order id", "error", err)
		}
	}
	if fx.clearCart {
		o.cart.Clear()
		o.cart.ForgetEmail()
		if err := o.session.ClearTransient(ctx); err != nil {
			o.logger.Warn("clearing transient keys", "error", err)
		}
	}
	if fx.destroyWidget {
		o.widget.Destroy(ctx)
	}
	if fx.notify != nil {
		nctx, cancel := context.WithTimeout(ctx, o.cfg.NotifyTimeout)
		if err := o.gateway.NotifyPaid(nctx, *fx.notify); err != nil {
			o.logger.Warn("payment success notice failed", "order_id", fx.notify.OrderID, "error", err)
		}
		cancel()
	}
	for i, ev := range fx.events {
		if i == 0 {
			ev.Poll = fx.poll
		}
		for _, fn := range fx.listeners {
			fn(ev)
		}
	}
}

// pollResult labels one status poll for listeners.
func pollResult(status model.PaymentStatus, err error) string {
	switch {
	case errors.Is(err, model.ErrAuthorization):
		return "unauthorized"
	case err != nil:
		return "error"
	default:
		return strings.ToLower(string(status))
	}
}
