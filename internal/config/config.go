// Package config handles loading and validation of host configuration.
// Supports both development (env vars or CONFIG_FILE) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"storefront/internal/validate"
)

// Config holds all host configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string `json:"port"`
	Environment string `json:"environment" validate:"oneof=development production"`
	LogLevel    string `json:"log_level" validate:"oneof=debug info warn error"`

	// GCP settings (required in production)
	GCPProject string `json:"gcp_project"`
	SecretName string `json:"secret_name"`

	// Product list; empty uses the built-in posters.
	CatalogFile string `json:"catalog_file"`

	Checkout CheckoutConfig `json:"checkout"`
	Storage  StorageConfig  `json:"storage"`
	Widget   WidgetConfig   `json:"widget"`
}

// CheckoutConfig configures the remote checkout service and polling.
type CheckoutConfig struct {
	APIBaseURL      string   `json:"api_base_url" validate:"required,url"`
	APIKey          string   `json:"api_key"`
	Transport       string   `json:"transport" validate:"oneof=standard chrome"`
	RequestTimeout  Duration `json:"request_timeout"`
	PollTimeout     Duration `json:"poll_timeout"`
	PollInterval    Duration `json:"poll_interval"`
	PollAttempts    int      `json:"poll_attempts" validate:"gte=1,lte=720"`
	AuthThreshold   int      `json:"auth_threshold" validate:"gte=1"`
	RequireShipping bool     `json:"require_shipping"`
}

// StorageConfig selects where the durable profile lives.
type StorageConfig struct {
	Backend    string   `json:"backend" validate:"oneof=file redis"`
	ProfileDir string   `json:"profile_dir"`
	Profile    string   `json:"profile" validate:"required,alphanumunicode"`
	RedisURL   string   `json:"redis_url" validate:"required_if=Backend redis"`
	RedisTTL   Duration `json:"redis_ttl"`
}

// WidgetConfig configures the payment form host.
type WidgetConfig struct {
	Host           string `json:"host" validate:"oneof=chrome fake"`
	PublishableKey string `json:"publishable_key" validate:"required_if=Host chrome"`
	SDKURL         string `json:"sdk_url" validate:"omitempty,url"`
	MinSDKVersion  string `json:"min_sdk_version"`
	ReturnURL      string `json:"return_url" validate:"omitempty,url"`
	ChromeURL      string `json:"chrome_url"`
	NoSandbox      bool   `json:"no_sandbox"`
	Container      string `json:"container"`
}

// secrets is the JSON payload stored in Secret Manager.
type secrets struct {
	APIKey         string `json:"api_key"`
	PublishableKey string `json:"publishable_key"`
}

// Duration is a time.Duration that reads "5s" style strings from JSON.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Plain numbers are seconds.
		var secs float64
		if err := json.Unmarshal(b, &secs); err != nil {
			return fmt.Errorf("duration must be a string like \"5s\": %s", b)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretName:  envOrDefault("API_KEY_SECRET", "storefront-checkout"),
		CatalogFile: os.Getenv("CATALOG_FILE"),
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading checkout secrets: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid many ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFromEnv reads the nested settings from individual environment variables.
func (c *Config) loadFromEnv() error {
	c.Checkout = CheckoutConfig{
		APIBaseURL:      os.Getenv("CHECKOUT_API_URL"),
		APIKey:          os.Getenv("CHECKOUT_API_KEY"),
		Transport:       os.Getenv("TRANSPORT"),
		RequireShipping: envBool("REQUIRE_SHIPPING"),
	}
	c.Storage = StorageConfig{
		Backend:    os.Getenv("STORAGE_BACKEND"),
		ProfileDir: os.Getenv("PROFILE_DIR"),
		Profile:    os.Getenv("PROFILE"),
		RedisURL:   os.Getenv("REDIS_URL"),
	}
	c.Widget = WidgetConfig{
		Host:           os.Getenv("WIDGET_HOST"),
		PublishableKey: os.Getenv("PUBLISHABLE_KEY"),
		SDKURL:         os.Getenv("PAYMENT_SDK_URL"),
		MinSDKVersion:  os.Getenv("MIN_SDK_VERSION"),
		ReturnURL:      os.Getenv("RETURN_URL"),
		ChromeURL:      os.Getenv("CHROME_URL"),
		NoSandbox:      envBool("CHROME_NO_SANDBOX"),
		Container:      os.Getenv("PAYMENT_CONTAINER"),
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"REQUEST_TIMEOUT", &c.Checkout.RequestTimeout},
		{"POLL_TIMEOUT", &c.Checkout.PollTimeout},
		{"POLL_INTERVAL", &c.Checkout.PollInterval},
		{"REDIS_TTL", &c.Storage.RedisTTL},
	}
	for _, d := range durations {
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.key, err)
		}
		*d.dst = Duration(parsed)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"POLL_ATTEMPTS", &c.Checkout.PollAttempts},
		{"AUTH_THRESHOLD", &c.Checkout.AuthThreshold},
	}
	for _, n := range ints {
		raw := os.Getenv(n.key)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", n.key, err)
		}
		*n.dst = parsed
	}
	return nil
}

// accessSecret fetches a secret payload. Replaced in tests.
var accessSecret = func(ctx context.Context, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return nil, fmt.Errorf("accessing secret %s: %w", name, err)
	}
	return result.Payload.Data, nil
}

// loadFromSecretManager fetches API credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_name}/versions/latest
// Values from the secret override the environment.
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.GCPProject, c.SecretName)
	data, err := accessSecret(ctx, name)
	if err != nil {
		return err
	}

	var s secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if s.APIKey != "" {
		c.Checkout.APIKey = s.APIKey
	}
	if s.PublishableKey != "" {
		c.Widget.PublishableKey = s.PublishableKey
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Port = withDefault(c.Port, "8080")
	c.Environment = withDefault(c.Environment, "development")
	c.LogLevel = withDefault(c.LogLevel, "info")
	c.Checkout.APIBaseURL = strings.TrimSuffix(c.Checkout.APIBaseURL, "/")
	c.Checkout.Transport = withDefault(c.Checkout.Transport, "standard")
	if c.Checkout.RequestTimeout == 0 {
		c.Checkout.RequestTimeout = Duration(15 * time.Second)
	}
	if c.Checkout.PollTimeout == 0 {
		c.Checkout.PollTimeout = Duration(10 * time.Second)
	}
	if c.Checkout.PollInterval == 0 {
		c.Checkout.PollInterval = Duration(5 * time.Second)
	}
	if c.Checkout.PollAttempts == 0 {
		c.Checkout.PollAttempts = 12
	}
	if c.Checkout.AuthThreshold == 0 {
		c.Checkout.AuthThreshold = 1
	}
	c.Storage.Backend = withDefault(c.Storage.Backend, "file")
	c.Storage.ProfileDir = withDefault(c.Storage.ProfileDir, ".storefront")
	c.Storage.Profile = withDefault(c.Storage.Profile, "default")
	if c.Widget.Host == "" {
		c.Widget.Host = "fake"
		if c.Widget.PublishableKey != "" {
			c.Widget.Host = "chrome"
		}
	}
	c.Widget.SDKURL = withDefault(c.Widget.SDKURL, "https://js.stripe.com/v3/")
	c.Widget.MinSDKVersion = withDefault(c.Widget.MinSDKVersion, "v3")
	c.Widget.Container = withDefault(c.Widget.Container, "#payment-element")
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Environment == "production" && c.Widget.Host == "fake" {
		return fmt.Errorf("invalid configuration: fake payment widget not allowed in production")
	}
	return nil
}

// IsProduction reports whether the host runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}
