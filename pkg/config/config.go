package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "QUOTEFLOW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "QUOTEFLOW_DB_DSN"
	EnvDBHost = "QUOTEFLOW_DB_HOST"
	EnvDBUser = "QUOTEFLOW_DB_USER"
	EnvDBName = "QUOTEFLOW_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Services     ServicesConfig
	Validation   ValidationConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"QUOTEFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"QUOTEFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"QUOTEFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"QUOTEFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"QUOTEFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"QUOTEFLOW_DB_DSN"`
	Driver string `envconfig:"QUOTEFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"QUOTEFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"QUOTEFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"QUOTEFLOW_DB_USER"`
	LegacyPassword string `envconfig:"QUOTEFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"QUOTEFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"QUOTEFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"QUOTEFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"QUOTEFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"QUOTEFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"QUOTEFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"QUOTEFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"QUOTEFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"QUOTEFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"QUOTEFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"QUOTEFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"QUOTEFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"QUOTEFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"QUOTEFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"QUOTEFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"QUOTEFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"QUOTEFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"QUOTEFLOW_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"QUOTEFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"QUOTEFLOW_AUTO_MIGRATE" default:"false"`
}

// PricingConfig carries the deterministic pricing knobs. Margin is a markup-on-cost
// fraction, stability threshold a fraction of supplier price variation.
type PricingConfig struct {
	MarginFraction     float64       `envconfig:"QUOTEFLOW_PRICING_MARGIN_FRACTION" default:"0.45"`
	MinMarginFraction  float64       `envconfig:"QUOTEFLOW_PRICING_MIN_MARGIN_FRACTION" default:"0.35"`
	MaxMarginFraction  float64       `envconfig:"QUOTEFLOW_PRICING_MAX_MARGIN_FRACTION" default:"0.45"`
	MinReferenceSales  int           `envconfig:"QUOTEFLOW_PRICING_MIN_REFERENCE_SALES" default:"3"`
	StabilityThreshold float64       `envconfig:"QUOTEFLOW_PRICING_STABILITY_THRESHOLD" default:"0.05"`
	TaxRate            float64       `envconfig:"QUOTEFLOW_PRICING_TAX_RATE" default:"0.20"`
	BaseCurrency       string        `envconfig:"QUOTEFLOW_PRICING_BASE_CURRENCY" default:"EUR"`
	CacheTTL           time.Duration `envconfig:"QUOTEFLOW_PRICING_CACHE_TTL" default:"5m"`
	CacheMaxEntries    int           `envconfig:"QUOTEFLOW_PRICING_CACHE_MAX_ENTRIES" default:"1024"`
}

func (p PricingConfig) validate() error {
	if p.MarginFraction < p.MinMarginFraction || p.MarginFraction > p.MaxMarginFraction {
		return fmt.Errorf("margin fraction %.4f outside [%.2f, %.2f]",
			p.MarginFraction, p.MinMarginFraction, p.MaxMarginFraction)
	}
	if p.MarginFraction >= 1 {
		return fmt.Errorf("margin fraction must be below 1")
	}
	if p.MinReferenceSales < 1 {
		return fmt.Errorf("minimum reference sales must be positive")
	}
	if p.StabilityThreshold <= 0 || p.StabilityThreshold >= 1 {
		return fmt.Errorf("stability threshold must be in (0, 1)")
	}
	if p.TaxRate < 0 || p.TaxRate >= 1 {
		return fmt.Errorf("tax rate must be in [0, 1)")
	}
	return nil
}

// ServicesConfig points at the external collaborator services consumed by the core.
type ServicesConfig struct {
	ReferenceBaseURL string        `envconfig:"QUOTEFLOW_SERVICES_REFERENCE_BASE_URL" required:"true"`
	HistoryBaseURL   string        `envconfig:"QUOTEFLOW_SERVICES_HISTORY_BASE_URL" required:"true"`
	CurrencyBaseURL  string        `envconfig:"QUOTEFLOW_SERVICES_CURRENCY_BASE_URL" required:"true"`
	DiscountBaseURL  string        `envconfig:"QUOTEFLOW_SERVICES_DISCOUNT_BASE_URL" required:"true"`
	TransportBaseURL string        `envconfig:"QUOTEFLOW_SERVICES_TRANSPORT_BASE_URL" required:"true"`
	CallTimeout      time.Duration `envconfig:"QUOTEFLOW_SERVICES_CALL_TIMEOUT" default:"8s"`
	APIToken         string        `envconfig:"QUOTEFLOW_SERVICES_API_TOKEN"`
}

type ValidationConfig struct {
	PendingTTL time.Duration `envconfig:"QUOTEFLOW_VALIDATION_PENDING_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"QUOTEFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"QUOTEFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"QUOTEFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	QuoteRequestTopic        string `envconfig:"QUOTEFLOW_PUBSUB_QUOTE_REQUEST_TOPIC" default:"qf-quote-requests"`
	QuoteRequestSubscription string `envconfig:"QUOTEFLOW_PUBSUB_QUOTE_REQUEST_SUBSCRIPTION"`
	DomainTopic              string `envconfig:"QUOTEFLOW_PUBSUB_DOMAIN_TOPIC" default:"qf-domain-events"`
	DomainSubscription       string `envconfig:"QUOTEFLOW_PUBSUB_DOMAIN_SUBSCRIPTION"`
	NotificationTopic        string `envconfig:"QUOTEFLOW_PUBSUB_NOTIFICATION_TOPIC" default:"qf-notifications"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"QUOTEFLOW_BIGQUERY_DATASET" default:"quoteflow"`
	PricingAuditTable  string `envconfig:"QUOTEFLOW_BIGQUERY_PRICING_AUDIT_TABLE" default:"pricing_decisions"`
	DecisionTraceTable string `envconfig:"QUOTEFLOW_BIGQUERY_DECISION_TRACE_TABLE" default:"decision_traces"`
	ExportBatchSize    int    `envconfig:"QUOTEFLOW_BIGQUERY_EXPORT_BATCH_SIZE" default:"200"`
	ExportIntervalSecs int    `envconfig:"QUOTEFLOW_BIGQUERY_EXPORT_INTERVAL_SECS" default:"60"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"QUOTEFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"QUOTEFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"QUOTEFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
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
