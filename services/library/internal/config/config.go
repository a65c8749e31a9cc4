package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when LIBRARY_CONFIG is unset.
const ConfigPath = "config.yaml"

const (
	defaultSessionCookieName = "__session"
	defaultSessionTTL        = 5 * 24 * time.Hour
	defaultPrimaryModel      = "gemini-2.5-flash"
	defaultFallbackModel     = "gemini-2.5-flash-lite"
	defaultMaxAvatarBytes    = 2 << 20
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	SessionCookieName          string   `yaml:"sessionCookieName"`
	SessionCookieSecure        bool     `yaml:"sessionCookieSecure"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	SessionPrivateKeyPath      string   `yaml:"sessionPrivateKeyPath"`
	SessionKeyID               string   `yaml:"sessionKeyId"`
	IdentityProjectID          string   `yaml:"identityProjectId"`
	IdentityJWKSURL            string   `yaml:"identityJwksURL"`
	IdentityIssuer             string   `yaml:"identityIssuer"`
	SuperUserEmails            []string `yaml:"superUserEmails"`
	GeminiAPIKey               string   `yaml:"geminiApiKey"`
	GeminiPrimaryModel         string   `yaml:"geminiPrimaryModel"`
	GeminiFallbackModel        string   `yaml:"geminiFallbackModel"`
	StripeSecretKey            string   `yaml:"stripeSecretKey"`
	StripeWebhookSecret        string   `yaml:"stripeWebhookSecret"`
	StripePriceID              string   `yaml:"stripePriceId"`
	AppURL                     string   `yaml:"appURL"`
	MinioEndpoint              string   `yaml:"minioEndpoint"`
	MinioAccessKey             string   `yaml:"minioAccessKey"`
	MinioSecretKey             string   `yaml:"minioSecretKey"`
	MinioBucket                string   `yaml:"minioBucket"`
	MinioUseSSL                bool     `yaml:"minioUseSSL"`
	MaxAvatarBytes             int64    `yaml:"maxAvatarBytes"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	AllowedOrigins             []string `yaml:"allowedOrigins"`
	SessionRateLimitPerMinute  int      `yaml:"sessionRateLimitPerMinute"`
	GenerateRateLimitPerMinute int      `yaml:"generateRateLimitPerMinute"`
	CheckoutRateLimitPerMinute int      `yaml:"checkoutRateLimitPerMinute"`
}

// Load reads config from path (LIBRARY_CONFIG, then config.yaml when empty),
// applies environment overrides and validates the result. A missing file is
// fine when the environment supplies everything.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("LIBRARY_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.SessionCookieName, "LIBRARY_SESSION_COOKIE_NAME")
	overrideBool(&cfg.SessionCookieSecure, "LIBRARY_SESSION_COOKIE_SECURE")
	overrideString(&cfg.SessionTTL, "LIBRARY_SESSION_TTL")
	overrideString(&cfg.SessionPrivateKeyPath, "LIBRARY_SESSION_PRIVATE_KEY_PATH")
	overrideString(&cfg.SessionKeyID, "LIBRARY_SESSION_KEY_ID")
	overrideString(&cfg.IdentityProjectID, "IDENTITY_PROJECT_ID")
	overrideString(&cfg.IdentityJWKSURL, "IDENTITY_JWKS_URL")
	overrideString(&cfg.IdentityIssuer, "IDENTITY_ISSUER")
	if v := os.Getenv("SUPER_USER_EMAILS"); v != "" {
		cfg.SuperUserEmails = splitCSV(v)
	}
	overrideString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	overrideString(&cfg.GeminiPrimaryModel, "GEMINI_PRIMARY_MODEL")
	overrideString(&cfg.GeminiFallbackModel, "GEMINI_FALLBACK_MODEL")
	overrideString(&cfg.StripeSecretKey, "STRIPE_SECRET_KEY")
	overrideString(&cfg.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	overrideString(&cfg.StripePriceID, "STRIPE_PRICE_ID")
	overrideString(&cfg.AppURL, "APP_URL")
	overrideString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.MinioBucket, "MINIO_BUCKET")
	overrideBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	if v := os.Getenv("LIBRARY_MAX_AVATAR_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxAvatarBytes = n
		}
	}
	if v := os.Getenv("LIBRARY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("LIBRARY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	overrideInt(&cfg.SessionRateLimitPerMinute, "LIBRARY_SESSION_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.GenerateRateLimitPerMinute, "LIBRARY_GENERATE_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.CheckoutRateLimitPerMinute, "LIBRARY_CHECKOUT_RATE_LIMIT_PER_MINUTE")

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = defaultSessionCookieName
	}
	if cfg.GeminiPrimaryModel == "" {
		cfg.GeminiPrimaryModel = defaultPrimaryModel
	}
	if cfg.GeminiFallbackModel == "" {
		cfg.GeminiFallbackModel = defaultFallbackModel
	}
	if cfg.MaxAvatarBytes == 0 {
		cfg.MaxAvatarBytes = defaultMaxAvatarBytes
	}
	for i, email := range cfg.SuperUserEmails {
		cfg.SuperUserEmails[i] = strings.ToLower(strings.TrimSpace(email))
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for session revocation and rate limiting")
	}
	if strings.TrimSpace(cfg.IdentityProjectID) == "" && strings.TrimSpace(cfg.IdentityIssuer) == "" {
		return errors.New("config: identityProjectId is required (set in config.yaml or IDENTITY_PROJECT_ID)")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if cfg.AppURL != "" {
		if u, err := url.Parse(cfg.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: appURL %q must be an absolute URL", cfg.AppURL)
		}
	}
	if cfg.StripeSecretKey != "" && (cfg.StripePriceID == "" || cfg.AppURL == "") {
		return errors.New("config: stripePriceId and appURL are required when stripeSecretKey is set")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if cfg.MaxAvatarBytes < 0 {
		return errors.New("config: maxAvatarBytes must be >= 0")
	}
	if cfg.SessionRateLimitPerMinute < 0 || cfg.GenerateRateLimitPerMinute < 0 || cfg.CheckoutRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseSessionTTL parses sessionTTL, defaulting to five days.
func ParseSessionTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultSessionTTL, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid sessionTTL: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: sessionTTL must be positive")
	}
	return d, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func overrideBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
