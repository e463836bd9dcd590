// Storefront host - runs the checkout orchestrator behind a REST and MCP API.
// Cart and profile state persist to a file or Redis; payments go through the
// remote checkout service and a browser-hosted payment form.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"storefront/internal/adapter"
	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/checkoutapi"
	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/metrics"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/schedule"
	"storefront/internal/storage"
	"storefront/internal/transport"
	"storefront/internal/widget"
	"storefront/internal/widget/chromehost"
)

// tabTTL bounds how long a Redis-backed tab scope outlives its process.
const tabTTL = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg)

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("checkout_api", cfg.Checkout.APIBaseURL),
		slog.String("transport", cfg.Checkout.Transport),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("profile", cfg.Storage.Profile),
		slog.String("widget_host", cfg.Widget.Host),
	)

	durable, tab, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStorage()
	session := storage.NewSession(durable, tab, logger)

	products, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	rec := metrics.New()

	c, err := restoreCart(ctx, session, logger)
	if err != nil {
		return fmt.Errorf("restoring cart: %w", err)
	}
	rec.ObserveCart(c.Snapshot())
	c.Subscribe(func(snap model.Cart) {
		// Listeners run outside the cart lock; persistence is best effort.
		if err := session.SaveCart(context.Background(), snap.Items); err != nil {
			logger.Warn("failed to persist cart", "error", err)
		}
		if err := session.SaveEmail(context.Background(), snap.Email); err != nil {
			logger.Warn("failed to persist email", "error", err)
		}
		rec.ObserveCart(snap)
	})

	gateway, err := createGateway(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating checkout client: %w", err)
	}

	host, closeHost, err := createWidgetHost(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating payment widget host: %w", err)
	}
	defer closeHost()
	form := widget.New(host, widget.Config{
		MinSDKVersion: cfg.Widget.MinSDKVersion,
		ReturnURL:     cfg.Widget.ReturnURL,
	}, logger)

	orch := checkout.New(gateway, c, session, form, schedule.NewReal(), checkout.Config{
		PollInterval:    cfg.Checkout.PollInterval.Std(),
		PollAttempts:    cfg.Checkout.PollAttempts,
		AuthThreshold:   cfg.Checkout.AuthThreshold,
		RequireShipping: cfg.Checkout.RequireShipping,
		Container:       cfg.Widget.Container,
	}, logger)
	defer orch.Close()
	orch.Subscribe(rec.ObserveCheckout)

	// A job left by an earlier process or a redirect picks up polling again.
	if err := orch.Resume(ctx); err != nil {
		logger.Warn("could not resume checkout", "error", err)
	}

	h := handler.New(products, c, orch, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.Handle("GET /metrics", rec.Handler())

	// Apply middleware chain: request id → recovery → metrics → logging → handler
	// Recovery must be outside logging to catch panics from it
	httpHandler := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Instrument(rec.ObserveRequest),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts. Submit may wait on the payment form.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// openStorage returns the durable and tab scoped stores for the profile.
// The file backend keeps the tab scope in memory; Redis keeps it under its own
// prefix with a short TTL so a restarted host can resume a pending payment.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Store, storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "redis":
		prefix := "storefront:" + cfg.Storage.Profile + ":"
		store, client, err := storage.NewRedisStore(ctx, cfg.Storage.RedisURL, prefix, cfg.Storage.RedisTTL.Std())
		if err != nil {
			return nil, nil, nil, err
		}
		tabStore := storage.NewRedisStoreWithClient(client, prefix+"tab:", tabTTL)
		return store, tabStore, func() { client.Close() }, nil
	default:
		path := filepath.Join(cfg.Storage.ProfileDir, cfg.Storage.Profile+".json")
		store, err := storage.OpenFileStore(path)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, storage.NewMemoryStore(), func() {}, nil
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogFile == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.CatalogFile)
}

// restoreCart rebuilds the cart from the durable profile.
func restoreCart(ctx context.Context, session *storage.Session, logger *slog.Logger) (*cart.Store, error) {
	items, err := session.LoadCart(ctx)
	if err != nil {
		return nil, err
	}
	email, err := session.LoadEmail(ctx)
	if err != nil {
		return nil, err
	}

	c := cart.New()
	snap := c.Restore(items, email)
	logger.Info("cart restored", "items", len(snap.Items), "count", snap.Count)
	return c, nil
}

// createGateway creates the remote checkout client with the configured transport.
func createGateway(cfg *config.Config, logger *slog.Logger) (adapter.Gateway, error) {
	rt, err := transport.New(transport.Kind(cfg.Checkout.Transport), cfg.Checkout.RequestTimeout.Std())
	if err != nil {
		return nil, err
	}
	return checkoutapi.NewClient(checkoutapi.Config{
		BaseURL:     cfg.Checkout.APIBaseURL,
		APIKey:      cfg.Checkout.APIKey,
		PollTimeout: cfg.Checkout.PollTimeout.Std(),
		Transport:   rt,
		Timeout:     cfg.Checkout.RequestTimeout.Std(),
	}, logger), nil
}

// createWidgetHost starts the browser that runs the payment SDK. The fake
// host is for development without a browser or payment account.
func createWidgetHost(cfg *config.Config, logger *slog.Logger) (widget.Host, func(), error) {
	switch cfg.Widget.Host {
	case "chrome":
		host, err := chromehost.New(chromehost.Config{
			PublishableKey: cfg.Widget.PublishableKey,
			SDKURL:         cfg.Widget.SDKURL,
			RemoteURL:      cfg.Widget.ChromeURL,
			NoSandbox:      cfg.Widget.NoSandbox,
			Timeout:        cfg.Checkout.RequestTimeout.Std(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return host, host.Close, nil
	case "fake":
		logger.Warn("using in-memory payment widget; payments always succeed")
		return &widget.FakeHost{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported widget host: %s", cfg.Widget.Host)
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
