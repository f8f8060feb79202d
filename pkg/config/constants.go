package config

// EnvPrefix is passed to envconfig; every field carries an explicit VOD_* key.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "VOD_APP_ENV"
	EnvPort     = "VOD_APP_PORT"
	EnvLogLevel = "VOD_LOG_LEVEL"

	EnvDBDSN    = "VOD_DB_DSN"
	EnvDBDriver = "VOD_DB_DRIVER"
	EnvDBHost   = "VOD_DB_HOST"
	EnvDBUser   = "VOD_DB_USER"
	EnvDBName   = "VOD_DB_NAME"

	EnvRedisURL = "VOD_REDIS_URL"

	EnvAuthJWTSecret = "VOD_AUTH_JWT_SECRET"
	EnvAuthIssuer    = "VOD_AUTH_JWT_ISSUER"

	EnvStripeAPIKey        = "VOD_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "VOD_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv           = "VOD_STRIPE_ENV"
	EnvStripePriceBasic    = "VOD_STRIPE_PRICE_ID_BASIC"
	EnvStripePriceStandard = "VOD_STRIPE_PRICE_ID_STANDARD"
	EnvStripePricePremium  = "VOD_STRIPE_PRICE_ID_PREMIUM"

	EnvFrontendURL = "VOD_FRONTEND_URL"

	EnvGCPProjectID           = "VOD_GCP_PROJECT_ID"
	EnvPubSubEntitlementTopic = "VOD_PUBSUB_ENTITLEMENT_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
