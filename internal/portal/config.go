package portal

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the portal backend.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	BaseURL             string
	SessionKey          string // base64 or raw, >= 32 bytes decoded
	StripeAPIKey        string
	StripeWebhookSecret string
	PostmarkToken       string // optional; if empty, emails are logged
	EmailFrom           string
	PublicMetrics       bool
}

// LoadConfig loads portal configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("PORTAL_PORT", 8090)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("PORTAL_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("PORTAL_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("PORTAL_ADMIN_KEY")),
		BaseURL:             strings.TrimSpace(os.Getenv("PORTAL_BASE_URL")),
		SessionKey:          strings.TrimSpace(os.Getenv("PORTAL_SESSION_KEY")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		PostmarkToken:       strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("PORTAL_EMAIL_FROM", "guides@impota.com"),
		PublicMetrics:       envOrDefaultBool("PORTAL_PUBLIC_METRICS", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate portal config: %w", err)
	}
	return cfg, nil
}

// SessionKeyBytes decodes the configured session signing key. The key may be
// standard base64 or raw bytes; either way it must yield at least 32 bytes.
// A raw key can also happen to be valid base64 that decodes to something
// shorter, so the decoded form is only used when it meets the length
// requirement on its own.
func (c *Config) SessionKeyBytes() ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(c.SessionKey); err == nil && len(decoded) >= 32 {
		return decoded, nil
	}
	if len(c.SessionKey) >= 32 {
		return []byte(c.SessionKey), nil
	}
	return nil, fmt.Errorf("PORTAL_SESSION_KEY must be at least 32 bytes, got %d", len(c.SessionKey))
}

// SecureCookies reports whether session cookies should carry the Secure flag,
// derived from the deployment scheme.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "PORTAL_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "PORTAL_BASE_URL")
	}
	if c.SessionKey == "" {
		missing = append(missing, "PORTAL_SESSION_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORTAL_PORT must be between 1 and 65535, got %d", c.Port)
	}

	if _, err := c.SessionKeyBytes(); err != nil {
		return err
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("PORTAL_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("PORTAL_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("PORTAL_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}
