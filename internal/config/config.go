// Package config loads the server configuration from environment variables.
//
// A .env file in the working directory is read first when present, so local
// development does not need exported variables. Real environment variables
// always win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Application
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Where the browser app lives; used for Stripe return URLs.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	// Web app to proxy guarded pages to. Empty renders the built-in shell
	// from TemplateDir.
	FrontendURL string `env:"FRONTEND_URL"`
	TemplateDir string `env:"TEMPLATE_DIR" envDefault:"web/templates"`

	// Profile store
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"data/reroom.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Seen-session store. Empty keeps it in memory.
	RedisURL string        `env:"REDIS_URL"`
	SeenTTL  time.Duration `env:"SEEN_TTL" envDefault:"24h"`

	// Identity provider (Supabase GoTrue)
	SupabaseURL       string        `env:"SUPABASE_URL,required"`
	SupabaseAnonKey   string        `env:"SUPABASE_ANON_KEY,required"`
	SupabaseJWTSecret string        `env:"SUPABASE_JWT_SECRET"`
	GoTrueTimeout     time.Duration `env:"GOTRUE_TIMEOUT" envDefault:"10s"`

	// Google OAuth. All three or none.
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Stripe. Both or none.
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	// bcrypt hash of the X-Internal-Key accepted from internal services.
	// Generate with cmd/keyhash. Empty disables internal callers.
	InternalAPIKeyHash string `env:"INTERNAL_API_KEY_HASH"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`

	// Comma-separated list of allowed origins.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`

	// Sign-in/sign-up attempts allowed per client IP per window.
	AuthRateLimit  int           `env:"AUTH_RATE_LIMIT" envDefault:"10"`
	AuthRateWindow time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"1m"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// StripeEnabled reports whether checkout and webhooks are configured.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate checks the combinations env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}

	google := []string{c.GoogleClientID, c.GoogleClientSecret, c.GoogleRedirectURL}
	if set := countSet(google); set != 0 && set != len(google) {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL must be set together"))
	}

	if (c.StripeSecretKey == "") != (c.StripeWebhookSecret == "") {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET must be set together"))
	}

	if c.IsProduction() && c.SupabaseJWTSecret == "" {
		errs = append(errs, errors.New("SUPABASE_JWT_SECRET is required in production"))
	}

	if c.AuthRateLimit <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT must be positive"))
	}

	return errors.Join(errs...)
}

func countSet(values []string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}

// Load reads the optional dotenv files (".env" when none are given), then
// parses and validates the environment.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read dotenv file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
