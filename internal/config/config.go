package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	// WebhookSecrets maps provider name to its inbound HMAC shared secret.
	// A missing entry means webhooks for that provider cannot be verified.
	WebhookSecrets map[string]string
	// ReplayWindow bounds how old a signed webhook timestamp may be.
	ReplayWindow time.Duration

	PublicLinkSecret string
	PublicLinkTTL    time.Duration

	Webpay WebpayConfig
	Flow   FlowConfig

	// PollInterval drives the background status poller for in-flight
	// payments; zero disables it.
	PollInterval  time.Duration
	PollBatchSize int
	PollMinAge    time.Duration

	// SeedDemo loads a demo company with open invoices on startup.
	SeedDemo bool
}

// WebpayConfig carries commerce credentials for the synchronous redirect
// gateway. Empty credentials put the adapter in simulation mode.
type WebpayConfig struct {
	CommerceCode string
	APIKey       string
	BaseURL      string
}

// FlowConfig carries credentials for the asynchronous token gateway.
// Empty credentials put the adapter in simulation mode.
type FlowConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "facturante"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "facturante"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		WebhookSecrets:    loadWebhookSecrets(),
		ReplayWindow:      time.Duration(getenvInt("WEBHOOK_REPLAY_WINDOW_SECONDS", 300)) * time.Second,
		PublicLinkSecret:  strings.TrimSpace(getenv("PUBLIC_LINK_SECRET", "")),
		PublicLinkTTL:     time.Duration(getenvInt("PUBLIC_LINK_TTL_SECONDS", 7*24*3600)) * time.Second,
		Webpay: WebpayConfig{
			CommerceCode: strings.TrimSpace(getenv("WEBPAY_COMMERCE_CODE", "")),
			APIKey:       strings.TrimSpace(getenv("WEBPAY_API_KEY", "")),
			BaseURL:      getenv("WEBPAY_BASE_URL", "https://webpay3g.transbank.cl"),
		},
		Flow: FlowConfig{
			APIKey:    strings.TrimSpace(getenv("FLOW_API_KEY", "")),
			SecretKey: strings.TrimSpace(getenv("FLOW_SECRET_KEY", "")),
			BaseURL:   getenv("FLOW_BASE_URL", "https://www.flow.cl/api"),
		},
		PollInterval:  time.Duration(getenvInt("PAYMENT_POLL_INTERVAL_SECONDS", 0)) * time.Second,
		PollBatchSize: getenvInt("PAYMENT_POLL_BATCH_SIZE", 50),
		PollMinAge:    time.Duration(getenvInt("PAYMENT_POLL_MIN_AGE_SECONDS", 60)) * time.Second,
		SeedDemo:      getenvBool("SEED_DEMO", false),
	}

	return cfg
}

// loadWebhookSecrets reads WEBHOOK_SECRET (deployment-wide default) and
// WEBHOOK_SECRET_<PROVIDER> overrides.
func loadWebhookSecrets() map[string]string {
	secrets := map[string]string{}
	if def := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET")); def != "" {
		secrets["*"] = def
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		const prefix = "WEBHOOK_SECRET_"
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		provider := strings.ToLower(strings.TrimPrefix(key, prefix))
		if provider == "" || strings.TrimSpace(value) == "" {
			continue
		}
		secrets[provider] = strings.TrimSpace(value)
	}
	return secrets
}

// WebhookSecret resolves the shared secret for a provider, falling back
// to the deployment-wide default.
func (c Config) WebhookSecret(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if secret, ok := c.WebhookSecrets[provider]; ok {
		return secret
	}
	return c.WebhookSecrets["*"]
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewProviderCatalog),
)
