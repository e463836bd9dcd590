// Package chromehost runs the hosted payment SDK in a headless Chrome page
// driven over the DevTools protocol, so the storefront host can mount and
// confirm a real payment form without a user's browser.
package chromehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"storefront/internal/widget"
)

const defaultTimeout = 30 * time.Second

// Config configures the browser page.
type Config struct {
	PublishableKey string
	SDKURL         string // e.g. https://js.stripe.com/v3/
	RemoteURL      string // DevTools websocket of an existing Chrome; empty launches one
	NoSandbox      bool   // required when running as root in containers
	Timeout        time.Duration
}

// Host owns one browser tab hosting the payment SDK.
type Host struct {
	cfg    Config
	logger *slog.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu      sync.Mutex
	started bool
	loaded  bool
}

// New prepares the browser allocator. Chrome itself starts lazily on Load.
func New(cfg Config, logger *slog.Logger) (*Host, error) {
	if cfg.PublishableKey == "" {
		return nil, errors.New("publishable key is required")
	}
	if cfg.SDKURL == "" {
		cfg.SDKURL = "https://js.stripe.com/v3/"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	h := &Host{cfg: cfg, logger: logger}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}

	if cfg.RemoteURL != "" {
		h.allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		h.allocCtx, h.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	h.tabCtx, h.tabCancel = chromedp.NewContext(h.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	return h, nil
}

// Close shuts the tab and the browser down.
func (h *Host) Close() {
	h.tabCancel()
	h.allocCancel()
}

// pageTemplate is the document the SDK runs in. The container id matches
// the default mount target.
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><script src="{{.SDKURL}}"></script></head>
<body>
<form id="payment-form"><div id="payment-element"></div></form>
</body>
</html>`))

// Load injects the checkout page and waits for the SDK global.
func (h *Host) Load(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var doc strings.Builder
	if err := pageTemplate.Execute(&doc, struct{ SDKURL string }{h.cfg.SDKURL}); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}

	// The first Run binds the browser's lifetime to its context, so start it
	// on the long-lived tab context rather than a per-call deadline.
	if !h.started {
		if err := chromedp.Run(h.tabCtx); err != nil {
			return "", fmt.Errorf("start browser: %w", err)
		}
		h.started = true
	}

	var version string
	err := h.run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, doc.String()).Do(ctx)
		}),
		chromedp.Poll(`typeof window.Stripe === "function"`, nil, chromedp.WithPollingTimeout(h.cfg.Timeout)),
		chromedp.Evaluate(`String(window.Stripe.version || "3")`, &version),
	)
	if err != nil {
		return "", fmt.Errorf("load payment SDK: %w", err)
	}
	h.loaded = true
	return version, nil
}

// Elements creates the SDK instance and payment element for one session token.
func (h *Host) Elements(ctx context.Context, clientSecret string, appearance widget.Appearance) (widget.Elements, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return nil, errors.New("payment SDK not loaded")
	}

	args, err := jsArgs(h.cfg.PublishableKey, clientSecret, appearance)
	if err != nil {
		return nil, err
	}

	script := `(function(pk, clientSecret, appearance) {
		window.__sf = Stripe(pk);
		window.__elements = window.__sf.elements({ clientSecret: clientSecret, appearance: appearance });
		window.__payment = window.__elements.create("payment", {
			layout: { type: "tabs", defaultCollapsed: false },
			fields: { billingDetails: { email: "auto" } },
			paymentMethodOrder: ["card"]
		});
		return true;
	})(` + args + `)`

	var ok bool
	if err := h.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return nil, fmt.Errorf("create payment element: %w", err)
	}
	return &elements{host: h}, nil
}

func (h *Host) run(ctx context.Context, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	// Bind the tab to the caller's deadline.
	tab, tabCancel := context.WithCancel(h.tabCtx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	return chromedp.Run(tab, actions...)
}

type elements struct {
	host *Host
}

type mountResult struct {
	Found bool `json:"found"`
}

func (e *elements) Mount(ctx context.Context, container string) error {
	sel, err := json.Marshal(container)
	if err != nil {
		return err
	}
	script := `(function(sel) {
		if (!document.querySelector(sel)) { return { found: false }; }
		window.__payment.mount(sel);
		return { found: true };
	})(` + string(sel) + `)`

	var res mountResult
	if err := e.host.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		return fmt.Errorf("mount payment element: %w", err)
	}
	if !res.Found {
		return widget.ErrContainerNotFound
	}
	return nil
}

type confirmResult struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (e *elements) Confirm(ctx context.Context, params widget.ConfirmParams) (widget.Confirmation, error) {
	args, err := jsArgs(params.ReturnURL, params.BillingEmail)
	if err != nil {
		return widget.Confirmation{}, err
	}
	script := `(function(returnURL, email) {
		return window.__sf.confirmPayment({
			elements: window.__elements,
			confirmParams: {
				return_url: returnURL,
				payment_method_data: { billing_details: { email: email } }
			},
			redirect: "if_required"
		}).then(function(r) {
			return {
				status: r.paymentIntent ? r.paymentIntent.status : "",
				error: r.error ? r.error.message : ""
			};
		});
	})(` + args + `)`

	var res confirmResult
	err = e.host.run(ctx, chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		if isNavigation(err) {
			return widget.Confirmation{}, widget.ErrRedirected
		}
		return widget.Confirmation{}, fmt.Errorf("confirm payment: %w", err)
	}
	return widget.Confirmation{Status: res.Status, ErrorMessage: res.Error}, nil
}

func (e *elements) Destroy(ctx context.Context) error {
	return e.host.run(ctx, chromedp.Evaluate(`(function() {
		if (window.__payment) { window.__payment.destroy(); }
		window.__payment = null; window.__elements = null;
		return true;
	})()`, nil))
}

// isNavigation reports whether an evaluation died because the page left,
// which is how a redirect-style confirmation looks from here.
func isNavigation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "Inspected target navigated")
}

// jsArgs encodes values as a JavaScript argument list.
func jsArgs(values ...any) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode script argument: %w", err)
		}
		parts[i] = string(b)
	}
	return strings.Join(parts, ", "), nil
}

var _ widget.Host = (*Host)(nil)
