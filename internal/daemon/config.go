// Package daemon loads creditd configuration and wires the running service.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/emailfixer/creditd/internal/app/checkout"
	"github.com/emailfixer/creditd/internal/app/reconcile"
	"github.com/emailfixer/creditd/internal/infra/logging"
	"github.com/emailfixer/creditd/internal/security"
)

// Config is the contents of config.toml.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Paddle   PaddleConfig   `toml:"paddle"`
	Credits  CreditsConfig  `toml:"credits"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Log      logging.Config `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig selects the ledger backend.
type DatabaseConfig struct {
	Driver string `toml:"driver"` // sqlite|postgres
	Path   string `toml:"path"`   // sqlite directory (default: $CREDITD_HOME)
	DSN    string `toml:"dsn"`    // postgres connection string
}

// PaddleConfig holds payment provider credentials. Secrets are normally
// supplied through CREDITD_PADDLE_API_KEY and CREDITD_PADDLE_WEBHOOK_SECRET.
type PaddleConfig struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	PriceID         string `toml:"price_id"`
	WebhookSecret   string `toml:"webhook_secret"`
	SignatureScheme string `toml:"signature_scheme"` // paddle|base64|hex
	Timeout         string `toml:"timeout"`
}

type CreditsConfig struct {
	Min int64 `toml:"min"`
	Max int64 `toml:"max"`
}

type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
	MaxAge   string `toml:"max_age"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8085,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Paddle: PaddleConfig{
			BaseURL:         "https://api.paddle.com",
			SignatureScheme: "paddle",
			Timeout:         "15s",
		},
		Credits: CreditsConfig{
			Min: 100,
			Max: 100_000,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: "10m",
			MaxAge:   "1h",
		},
		Log: logging.Config{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Home returns the creditd data directory: $CREDITD_HOME or ~/.creditd.
func Home() string {
	if h := os.Getenv("CREDITD_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".creditd"
	}
	return filepath.Join(home, ".creditd")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads path over the defaults, then applies CREDITD_* environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CREDITD_API_HOST":                &cfg.API.Host,
		"CREDITD_DATABASE_DRIVER":         &cfg.Database.Driver,
		"CREDITD_DATABASE_PATH":           &cfg.Database.Path,
		"CREDITD_DATABASE_DSN":            &cfg.Database.DSN,
		"CREDITD_PADDLE_API_KEY":          &cfg.Paddle.APIKey,
		"CREDITD_PADDLE_BASE_URL":         &cfg.Paddle.BaseURL,
		"CREDITD_PADDLE_PRICE_ID":         &cfg.Paddle.PriceID,
		"CREDITD_PADDLE_WEBHOOK_SECRET":   &cfg.Paddle.WebhookSecret,
		"CREDITD_PADDLE_SIGNATURE_SCHEME": &cfg.Paddle.SignatureScheme,
		"CREDITD_LOG_LEVEL":               &cfg.Log.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("CREDITD_API_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CREDITD_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v, ok := lookup("CREDITD_LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CREDITD_LOG_PRETTY: %w", err)
		}
		cfg.Log.Pretty = b
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Credits.Min <= 0 || c.Credits.Max < c.Credits.Min {
		return fmt.Errorf("credits range [%d, %d] is invalid", c.Credits.Min, c.Credits.Max)
	}
	if _, err := security.SchemeByName(c.Paddle.SignatureScheme); err != nil {
		return fmt.Errorf("paddle.signature_scheme: %w", err)
	}
	for name, v := range map[string]string{
		"paddle.timeout":   c.Paddle.Timeout,
		"sweeper.interval": c.Sweeper.Interval,
		"sweeper.max_age":  c.Sweeper.MaxAge,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	// A checkout still waiting on the provider must never be swept.
	timeout := mustDuration(c.Paddle.Timeout)
	if timeout == 0 {
		timeout = checkout.DefaultConfig().ProviderTimeout
	}
	maxAge := mustDuration(c.Sweeper.MaxAge)
	if maxAge == 0 {
		maxAge = reconcile.DefaultSweeperConfig().MaxAge
	}
	if maxAge <= timeout {
		return fmt.Errorf("sweeper.max_age %s must exceed paddle.timeout %s", maxAge, timeout)
	}
	return nil
}

// ValidateServe adds the checks that only matter when serving traffic.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Paddle.WebhookSecret == "" {
		return errors.New("paddle.webhook_secret is required (or CREDITD_PADDLE_WEBHOOK_SECRET)")
	}
	if c.Paddle.APIKey == "" {
		return errors.New("paddle.api_key is required (or CREDITD_PADDLE_API_KEY)")
	}
	if c.Paddle.PriceID == "" {
		return errors.New("paddle.price_id is required")
	}
	return nil
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseDuration accepts Go durations; empty means zero (use the default).
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
