package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"kaiden.app/licensing/internal/kvstore"
	"kaiden.app/licensing/internal/tier"
)

// ServerConfig configures the license issuing service.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"licenses.db"`

	LicenseSecret    string `envconfig:"LICENSE_SECRET"`
	LicenseValidDays int    `envconfig:"LICENSE_VALID_DAYS" default:"365"`
	DefaultTier      string `envconfig:"DEFAULT_TIER" default:"Starter Sync"`
	AdminAPIKey      string `envconfig:"ADMIN_API_KEY"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	TestMode            bool   `envconfig:"TEST_MODE" default:"false"`

	SMTPHost  string `envconfig:"SMTP_HOST"`
	SMTPPort  string `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser  string `envconfig:"SMTP_USER"`
	SMTPPass  string `envconfig:"SMTP_PASS"`
	EmailFrom string `envconfig:"EMAIL_FROM" default:"licenses@kaiden.app"`

	SentryDSN string `envconfig:"SENTRY_DSN"`

	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// Comma-separated list; empty allows every origin.
	CORSOrigins string `envconfig:"CORS_ORIGINS"`
}

// ClientConfig configures the local entitlement store used by licensectl.
type ClientConfig struct {
	// LicenseSecret verifies redeemed tokens.
	LicenseSecret string `envconfig:"LICENSE_SECRET"`

	EntitlementSecret        string `envconfig:"ENTITLEMENT_SECRET"`
	RequireEntitlementSecret bool   `envconfig:"REQUIRE_ENTITLEMENT_SECRET" default:"false"`
	PlaintextStore           bool   `envconfig:"PLAINTEXT_STORE" default:"false"`

	EntitlementStore     string `envconfig:"ENTITLEMENT_STORE" default:"file"`
	EntitlementStorePath string `envconfig:"ENTITLEMENT_STORE_PATH"`

	SessionStore string        `envconfig:"SESSION_STORE" default:"memory"`
	SessionTTL   time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	RedisURL string `envconfig:"REDIS_URL"`
}

// LoadEnvFiles reads .env style files into the environment. Missing files
// are skipped; variables already set win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// New reads and validates the server configuration.
func New() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *ServerConfig) Validate() error {
	var result *multierror.Error

	if c.LicenseSecret == "" {
		result = multierror.Append(result, errors.New("LICENSE_SECRET environment variable is required"))
	}
	if !c.TestMode {
		if c.StripeSecretKey == "" {
			result = multierror.Append(result, errors.New("STRIPE_SECRET_KEY environment variable is required"))
		}
		if c.StripeWebhookSecret == "" {
			result = multierror.Append(result, errors.New("STRIPE_WEBHOOK_SECRET environment variable is required"))
		}
	}
	if c.LicenseValidDays < 1 {
		result = multierror.Append(result, fmt.Errorf("LICENSE_VALID_DAYS must be at least 1, got %d", c.LicenseValidDays))
	}
	if _, ok := tier.Parse(c.DefaultTier); !ok {
		result = multierror.Append(result, fmt.Errorf("DEFAULT_TIER %q is not a known tier", c.DefaultTier))
	}
	if c.RateLimitRequests < 1 {
		result = multierror.Append(result, fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.RateLimitRequests))
	}
	if c.RateLimitWindow <= 0 {
		result = multierror.Append(result, fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow))
	}
	if c.SMTPHost != "" && (c.SMTPUser == "" || c.SMTPPass == "") {
		result = multierror.Append(result, errors.New("SMTP_USER and SMTP_PASS are required when SMTP_HOST is set"))
	}

	return result.ErrorOrNil()
}

// EmailEnabled reports whether issued tokens can be mailed to buyers.
func (c *ServerConfig) EmailEnabled() bool {
	return c.SMTPHost != ""
}

// DefaultTierValue is DefaultTier as a tier.Tier.
func (c *ServerConfig) DefaultTierValue() tier.Tier {
	t, ok := tier.Parse(c.DefaultTier)
	if !ok {
		return tier.Lowest
	}
	return t
}

// CORSOriginList returns the allowed origins, or ["*"] when none are set.
func (c *ServerConfig) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// NewClient reads and validates the client configuration.
func NewClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) Validate() error {
	var result *multierror.Error

	switch c.EntitlementStore {
	case kvstore.DriverMemory, kvstore.DriverFile, kvstore.DriverSQLite, kvstore.DriverBadger:
	case kvstore.DriverRedis:
		if c.RedisURL == "" {
			result = multierror.Append(result, errors.New("REDIS_URL is required when ENTITLEMENT_STORE=redis"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("ENTITLEMENT_STORE %q is not one of memory, file, sqlite, badger, redis", c.EntitlementStore))
	}

	switch c.SessionStore {
	case kvstore.DriverMemory:
	case kvstore.DriverRedis:
		if c.RedisURL == "" {
			result = multierror.Append(result, errors.New("REDIS_URL is required when SESSION_STORE=redis"))
		}
		if c.SessionTTL <= 0 {
			result = multierror.Append(result, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("SESSION_STORE %q is not one of memory, redis", c.SessionStore))
	}

	if c.RequireEntitlementSecret && c.EntitlementSecret == "" && !c.PlaintextStore {
		result = multierror.Append(result, errors.New("ENTITLEMENT_SECRET is required when REQUIRE_ENTITLEMENT_SECRET is set"))
	}

	return result.ErrorOrNil()
}

// StoreOptions describes the persistent entitlement store.
func (c *ClientConfig) StoreOptions() kvstore.Options {
	return kvstore.Options{
		Driver:    c.EntitlementStore,
		Path:      c.storePath(),
		RedisURL:  c.RedisURL,
		KeyPrefix: "licensing:entitlement:",
	}
}

// SessionOptions describes the volatile store caching a generated secret.
func (c *ClientConfig) SessionOptions() kvstore.Options {
	return kvstore.Options{
		Driver:    c.SessionStore,
		RedisURL:  c.RedisURL,
		KeyPrefix: "licensing:session:",
		TTL:       c.SessionTTL,
	}
}

func (c *ClientConfig) storePath() string {
	if c.EntitlementStorePath != "" {
		return c.EntitlementStorePath
	}

	name := map[string]string{
		kvstore.DriverFile:   "entitlements.json",
		kvstore.DriverSQLite: "entitlements.db",
		kvstore.DriverBadger: "entitlements",
	}[c.EntitlementStore]
	if name == "" {
		return ""
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "kaiden", name)
}
