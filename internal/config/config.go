package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/layer-3/warden/service"
)

// Config is the process configuration read from WARDEN_* variables.
type Config struct {
	ListenAddr      string        `env:"WARDEN_LISTEN_ADDR"      envDefault:":9000"`
	LogLevel        string        `env:"WARDEN_LOG_LEVEL"        envDefault:"info"`
	ShutdownTimeout time.Duration `env:"WARDEN_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// RedisURL selects the Redis adapters when set; memory adapters otherwise.
	RedisURL    string `env:"WARDEN_REDIS_URL"`
	RedisPrefix string `env:"WARDEN_REDIS_PREFIX" envDefault:"warden:"`
	SQLitePath  string `env:"WARDEN_SQLITE_PATH"  envDefault:"warden.db"`

	// SigningKeyPath points at a PEM encoded P-256 key. A key is generated at
	// startup when empty, which invalidates tokens on every restart.
	SigningKeyPath string `env:"WARDEN_SIGNING_KEY_PATH"`
	Issuer         string `env:"WARDEN_ISSUER"           envDefault:"warden"`
	Domain         string `env:"WARDEN_DOMAIN"           envDefault:"localhost"`

	AccessTTL       time.Duration `env:"WARDEN_ACCESS_TTL"        envDefault:"15m"`
	RefreshTTL      time.Duration `env:"WARDEN_REFRESH_TTL"       envDefault:"336h"`
	ChallengeTTL    time.Duration `env:"WARDEN_CHALLENGE_TTL"     envDefault:"5m"`
	PendingLoginTTL time.Duration `env:"WARDEN_PENDING_LOGIN_TTL" envDefault:"10m"`
	FamilyRetention time.Duration `env:"WARDEN_FAMILY_RETENTION"  envDefault:"720h"`

	TwoFactorTTL      time.Duration `env:"WARDEN_TWOFACTOR_TTL"             envDefault:"2m"`
	TwoFactorAttempts int           `env:"WARDEN_TWOFACTOR_ATTEMPTS"        envDefault:"5"`
	ResendCooldown    time.Duration `env:"WARDEN_TWOFACTOR_RESEND_COOLDOWN" envDefault:"30s"`
	DeliveryTimeout   time.Duration `env:"WARDEN_TWOFACTOR_DELIVERY_TIMEOUT" envDefault:"5s"`

	RateDefault service.Rule `env:"WARDEN_RATE_DEFAULT" envDefault:"60/1m"`
	RateStrict  service.Rule `env:"WARDEN_RATE_STRICT"  envDefault:"10/1m"`
	// RateRoutes overrides single routes, e.g. "login.credential=5/1m,token.refresh=30/1m".
	RateRoutes map[string]string `env:"WARDEN_RATE_ROUTES" envKeyValSeparator:"="`

	PruneInterval time.Duration `env:"WARDEN_PRUNE_INTERVAL" envDefault:"1m"`
}

// Load reads an optional .env file followed by the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"WARDEN_ACCESS_TTL":        c.AccessTTL,
		"WARDEN_REFRESH_TTL":       c.RefreshTTL,
		"WARDEN_CHALLENGE_TTL":     c.ChallengeTTL,
		"WARDEN_PENDING_LOGIN_TTL": c.PendingLoginTTL,
		"WARDEN_TWOFACTOR_TTL":     c.TwoFactorTTL,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("WARDEN_REFRESH_TTL must exceed WARDEN_ACCESS_TTL")
	}
	if c.TwoFactorAttempts <= 0 {
		return errors.New("WARDEN_TWOFACTOR_ATTEMPTS must be positive")
	}
	if c.ResendCooldown < 0 {
		return errors.New("WARDEN_TWOFACTOR_RESEND_COOLDOWN must not be negative")
	}
	if c.PruneInterval <= 0 {
		return errors.New("WARDEN_PRUNE_INTERVAL must be positive")
	}
	if c.Domain == "" {
		return errors.New("WARDEN_DOMAIN is required")
	}
	_, err := c.RateRules()
	return err
}

// RateRules expands the strict rule over the strict routes and applies the
// per-route overrides on top.
func (c *Config) RateRules() (map[string]service.Rule, error) {
	rules := make(map[string]service.Rule, len(service.StrictRoutes)+len(c.RateRoutes))
	for _, route := range service.StrictRoutes {
		rules[route] = c.RateStrict
	}
	for route, raw := range c.RateRoutes {
		route = strings.TrimSpace(route)
		rule, err := service.ParseRule(raw)
		if err != nil {
			return nil, fmt.Errorf("WARDEN_RATE_ROUTES %s: %w", route, err)
		}
		rules[route] = rule
	}
	return rules, nil
}

// TwoFactor returns the controller settings.
func (c *Config) TwoFactor() service.TwoFactorSettings {
	return service.TwoFactorSettings{
		TTL:             c.TwoFactorTTL,
		Attempts:        c.TwoFactorAttempts,
		DeliveryTimeout: c.DeliveryTimeout,
	}
}
