package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/vodstream/vod-backend/pkg/enums"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Stripe       StripeConfig
	Frontend     FrontendConfig
	Webhooks     WebhooksConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Stripe.validatePrices(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VOD_APP_ENV" required:"true"`
	Port         string `envconfig:"VOD_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VOD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VOD_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"VOD_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VOD_DB_DSN"`
	Driver string `envconfig:"VOD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VOD_DB_HOST"`
	LegacyPort     int    `envconfig:"VOD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VOD_DB_USER"`
	LegacyPassword string `envconfig:"VOD_DB_PASSWORD"`
	LegacyName     string `envconfig:"VOD_DB_NAME"`
	LegacySSLMode  string `envconfig:"VOD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VOD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VOD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VOD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VOD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"VOD_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VOD_REDIS_ADDR"`
	Password     string        `envconfig:"VOD_REDIS_PASSWORD"`
	DB           int           `envconfig:"VOD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VOD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VOD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VOD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VOD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VOD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AuthConfig holds the identity provider's token verification settings.
type AuthConfig struct {
	JWTSecret string `envconfig:"VOD_AUTH_JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"VOD_AUTH_JWT_ISSUER"`
	Audience  string `envconfig:"VOD_AUTH_JWT_AUDIENCE" default:"authenticated"`
}

type StripeConfig struct {
	APIKey          string `envconfig:"VOD_STRIPE_API_KEY"`
	WebhookSecret   string `envconfig:"VOD_STRIPE_WEBHOOK_SECRET"`
	Env             string `envconfig:"VOD_STRIPE_ENV" default:"test"`
	PriceIDBasic    string `envconfig:"VOD_STRIPE_PRICE_ID_BASIC"`
	PriceIDStandard string `envconfig:"VOD_STRIPE_PRICE_ID_STANDARD"`
	PriceIDPremium  string `envconfig:"VOD_STRIPE_PRICE_ID_PREMIUM"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PriceTable returns the configured price id bindings keyed by price id.
// Unset price ids are omitted so an empty id can never resolve to a paid tier.
func (s StripeConfig) PriceTable() map[string]enums.SubscriptionTier {
	table := make(map[string]enums.SubscriptionTier, 3)
	for tier, id := range map[enums.SubscriptionTier]string{
		enums.SubscriptionTierBasic:    s.PriceIDBasic,
		enums.SubscriptionTierStandard: s.PriceIDStandard,
		enums.SubscriptionTierPremium:  s.PriceIDPremium,
	} {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			table[trimmed] = tier
		}
	}
	return table
}

func (s StripeConfig) validatePrices() error {
	seen := map[string]string{}
	for env, id := range map[string]string{
		EnvStripePriceBasic:    s.PriceIDBasic,
		EnvStripePriceStandard: s.PriceIDStandard,
		EnvStripePricePremium:  s.PriceIDPremium,
	} {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if prev, ok := seen[trimmed]; ok {
			return fmt.Errorf("%s and %s share price id %q", prev, env, trimmed)
		}
		seen[trimmed] = env
	}
	return nil
}

type FrontendConfig struct {
	BaseURL string `envconfig:"VOD_FRONTEND_URL" default:"http://localhost:3000"`
}

// URL joins the frontend base with the provided path.
func (f FrontendConfig) URL(path string) string {
	base := strings.TrimRight(strings.TrimSpace(f.BaseURL), "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"VOD_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type RateLimitConfig struct {
	Window  time.Duration `envconfig:"VOD_RATE_LIMIT_WINDOW" default:"15m"`
	IPLimit int           `envconfig:"VOD_RATE_LIMIT_MAX_REQUESTS" default:"100"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VOD_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"VOD_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	EntitlementTopic string `envconfig:"VOD_PUBSUB_ENTITLEMENT_TOPIC" default:"vod-entitlement-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VOD_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VOD_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VOD_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"VOD_CRON_INTERVAL" default:"1h"`
	ReconcileLimit    int           `envconfig:"VOD_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"VOD_CRON_RECONCILE_LOOKBACK" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
