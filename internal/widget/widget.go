// Package widget adapts a third-party hosted payment form to a small state
// machine:
//
//	Uninitialized → Initializing → Mounted → Submitting → Settled(success|error)
//
// The hosted form itself lives behind Host (a browser page running the
// payment SDK in production, FakeHost in tests). The widget owns lifecycle
// and error classification only; it knows nothing about carts or orders.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"storefront/internal/model"
)

// ErrContainerNotFound is returned by Elements.Mount when the target
// container does not exist yet.
var ErrContainerNotFound = errors.New("mount container not found")

// ErrRedirected is returned by Elements.Confirm when the payment method sent
// the page elsewhere (bank authentication, wallet). The call never produces a
// local result; the payment resumes through the return URL.
var ErrRedirected = errors.New("confirmation redirected away from page")

// Appearance is passed through to the payment SDK.
type Appearance struct {
	Theme     string            `json:"theme"`
	Variables map[string]string `json:"variables,omitempty"`
}

// DefaultAppearance matches the storefront's look.
func DefaultAppearance() Appearance {
	return Appearance{
		Theme: "stripe",
		Variables: map[string]string{
			"colorPrimary":    "#0570de",
			"colorBackground": "#ffffff",
			"colorText":       "#30313d",
			"colorDanger":     "#df1b41",
			"fontFamily":      "Ideal Sans, system-ui, sans-serif",
			"borderRadius":    "4px",
		},
	}
}

// ConfirmParams are forwarded to the SDK's confirm call.
type ConfirmParams struct {
	ReturnURL    string
	BillingEmail string
}

// Confirmation is the raw SDK answer to a confirm call.
type Confirmation struct {
	Status       string // payment intent status, e.g. "succeeded", "processing"
	ErrorMessage string // set when the SDK reports an error
}

// Host loads the payment SDK and creates form instances.
type Host interface {
	// Load makes the SDK available and returns its version.
	Load(ctx context.Context) (version string, err error)
	// Elements creates a form bound to one session token.
	Elements(ctx context.Context, clientSecret string, appearance Appearance) (Elements, error)
}

// Elements is one hosted payment form.
type Elements interface {
	Mount(ctx context.Context, container string) error
	Confirm(ctx context.Context, params ConfirmParams) (Confirmation, error)
	Destroy(ctx context.Context) error
}

// State is the widget lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Mounted
	Submitting
	Settled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Mounted:
		return "mounted"
	case Submitting:
		return "submitting"
	case Settled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result classifies a submission.
type Result int

const (
	ResultSucceeded Result = iota + 1
	ResultPending          // needs out-of-band confirmation; poll the order
	ResultFailed           // definitive error; the form stays usable
	ResultRedirected       // page navigated away; resume via return URL
)

func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultPending:
		return "pending"
	case ResultFailed:
		return "failed"
	case ResultRedirected:
		return "redirected"
	default:
		return "unknown"
	}
}

// Outcome is what Submit reports.
type Outcome struct {
	Result  Result
	Message string // error text from the SDK when Result is ResultFailed
}

// Config holds widget settings.
type Config struct {
	MinSDKVersion string // e.g. "v3"; empty disables the check
	ReturnURL     string
	Appearance    Appearance
}

// Widget drives one payment form at a time. Safe for concurrent use, though
// the orchestrator calls it sequentially.
type Widget struct {
	host   Host
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	elements Elements
	last     Outcome
}

// New creates a widget bound to a host.
func New(host Host, cfg Config, logger *slog.Logger) *Widget {
	if cfg.Appearance.Theme == "" {
		cfg.Appearance = DefaultAppearance()
	}
	return &Widget{host: host, cfg: cfg, logger: logger}
}

// State returns the current lifecycle state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Initialize loads the SDK and creates a form for the session token.
// Any previous form is destroyed first. Failures are fatal for the attempt
// and leave the widget Uninitialized.
func (w *Widget) Initialize(ctx context.Context, clientSecret string) error {
	if err := model.ValidateClientSecret(clientSecret); err != nil {
		return err
	}

	w.mu.Lock()
	if w.state == Submitting {
		w.mu.Unlock()
		return model.NewWidgetError("payment is being submitted", nil)
	}
	prev := w.elements
	w.elements = nil
	w.state = Initializing
	w.mu.Unlock()

	if prev != nil {
		if err := prev.Destroy(ctx); err != nil {
			w.logger.Warn("destroying previous payment form", "error", err)
		}
	}

	version, err := w.host.Load(ctx)
	if err != nil {
		w.reset()
		return model.NewWidgetError("payment SDK unavailable", err)
	}
	if err := checkVersion(version, w.cfg.MinSDKVersion); err != nil {
		w.reset()
		return model.NewWidgetError("payment SDK unsupported", err)
	}

	elements, err := w.host.Elements(ctx, clientSecret, w.cfg.Appearance)
	if err != nil {
		w.reset()
		return model.NewWidgetError("Failed to initialize payment. Please refresh and try again.", err)
	}

	w.mu.Lock()
	w.elements = elements
	w.mu.Unlock()

	w.logger.Debug("payment form initialized", "sdk_version", version)
	return nil
}

// Mount attaches the form to container. A missing container is a MountError
// and the widget stays Initializing so Mount can be retried. Mounting an
// already mounted form is a no-op.
func (w *Widget) Mount(ctx context.Context, container string) error {
	w.mu.Lock()
	state, elements := w.state, w.elements
	w.mu.Unlock()

	switch {
	case state == Mounted || state == Settled:
		return nil
	case state != Initializing || elements == nil:
		return model.NewWidgetError("payment form not initialized", nil)
	}

	if err := elements.Mount(ctx, container); err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return model.NewMountError(container)
		}
		return model.NewWidgetError("Failed to display payment form: "+err.Error(), err)
	}

	w.mu.Lock()
	w.state = Mounted
	w.mu.Unlock()
	return nil
}

// Submit confirms the payment through the hosted form.
//
// ResultRedirected is the non-returning path: in a browser the page would
// have navigated away. The caller must keep its checkout job and resume from
// the return URL rather than treat the payment as failed.
//
// After ResultFailed the form is usable again and Submit may be retried.
func (w *Widget) Submit(ctx context.Context, billingEmail string) (Outcome, error) {
	w.mu.Lock()
	if w.state != Mounted && !(w.state == Settled && w.last.Result == ResultFailed) {
		state := w.state
		w.mu.Unlock()
		return Outcome{}, model.NewWidgetError(fmt.Sprintf("payment form not ready (%s)", state), nil)
	}
	w.state = Submitting
	elements := w.elements
	w.mu.Unlock()

	conf, err := elements.Confirm(ctx, ConfirmParams{ReturnURL: w.cfg.ReturnURL, BillingEmail: billingEmail})
	outcome := classify(conf, err)

	w.mu.Lock()
	w.state = Settled
	w.last = outcome
	w.mu.Unlock()

	if outcome.Result == ResultFailed && err != nil && !errors.Is(err, ErrRedirected) {
		// Transport-level failure talking to the form, not a payment decline.
		return outcome, model.NewWidgetError(outcome.Message, err)
	}
	return outcome, nil
}

// Destroy tears the form down and returns to Uninitialized.
func (w *Widget) Destroy(ctx context.Context) {
	w.mu.Lock()
	elements := w.elements
	w.elements = nil
	w.state = Uninitialized
	w.last = Outcome{}
	w.mu.Unlock()

	if elements != nil {
		if err := elements.Destroy(ctx); err != nil {
			w.logger.Warn("destroying payment form", "error", err)
		}
	}
}

func (w *Widget) reset() {
	w.mu.Lock()
	w.state = Uninitialized
	w.elements = nil
	w.mu.Unlock()
}

// classify maps the SDK's confirm answer onto a Result.
func classify(conf Confirmation, err error) Outcome {
	switch {
	case errors.Is(err, ErrRedirected):
		return Outcome{Result: ResultRedirected}
	case err != nil:
		return Outcome{Result: ResultFailed, Message: "Payment form error: " + err.Error()}
	case conf.ErrorMessage != "":
		return Outcome{Result: ResultFailed, Message: conf.ErrorMessage}
	}

	switch strings.ToLower(conf.Status) {
	case "", "succeeded":
		// No error and no pending flag means the payment went through.
		return Outcome{Result: ResultSucceeded}
	case "processing", "requires_action", "requires_capture", "requires_confirmation":
		// The bank or wallet still has to confirm out of band.
		return Outcome{Result: ResultPending}
	case "canceled", "requires_payment_method":
		return Outcome{Result: ResultFailed, Message: "Your payment was not completed. Please try another payment method."}
	default:
		return Outcome{Result: ResultPending}
	}
}

// checkVersion compares SDK versions with semver. "3" and "v3" are accepted.
func checkVersion(got, minimum string) error {
	if minimum == "" {
		return nil
	}
	g, m := canonical(got), canonical(minimum)
	if !semver.IsValid(g) {
		return fmt.Errorf("unrecognized SDK version %q", got)
	}
	if semver.Compare(g, m) < 0 {
		return fmt.Errorf("SDK version %s is older than required %s", g, m)
	}
	return nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}
