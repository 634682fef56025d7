package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/flexprice/billing/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var defaultConfigYAML []byte

type Configuration struct {
	Deployment   DeploymentConfig   `mapstructure:"deployment"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Events       EventsConfig       `mapstructure:"events"`
	Temporal     TemporalConfig     `mapstructure:"temporal"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Sentry       SentryConfig       `mapstructure:"sentry"`
	Profiling    ProfilingConfig    `mapstructure:"profiling"`
	Catalogue    HTTPServiceConfig  `mapstructure:"catalogue"`
	Customer     HTTPServiceConfig  `mapstructure:"customer"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	PaymentRetry PaymentRetryConfig `mapstructure:"payment_retry"`
}

type DeploymentMode string

const (
	ModeLocal  DeploymentMode = "local"
	ModeServer DeploymentMode = "server"
	ModeWorker DeploymentMode = "worker"
)

type DeploymentConfig struct {
	Mode DeploymentMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
)

type LoggingConfig struct {
	Level          LogLevel `mapstructure:"level"`
	FluentdEnabled bool     `mapstructure:"fluentd_enabled"`
	FluentdHost    string   `mapstructure:"fluentd_host"`
	FluentdPort    int      `mapstructure:"fluentd_port"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host" validate:"required"`
	Port                   int    `mapstructure:"port" validate:"required"`
	User                   string `mapstructure:"user" validate:"required"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname" validate:"required"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the lib/pq connection string.
func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	UseTLS   bool          `mapstructure:"use_tls"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Type    string        `mapstructure:"type" validate:"oneof=inmemory redis"`
	PlanTTL time.Duration `mapstructure:"plan_ttl"`
}

type KafkaConfig struct {
	Brokers       []string             `mapstructure:"brokers"`
	ClientID      string               `mapstructure:"client_id"`
	ConsumerGroup string               `mapstructure:"consumer_group"`
	TLS           bool                 `mapstructure:"tls"`
	UseSASL       bool                 `mapstructure:"use_sasl"`
	SASLMechanism sarama.SASLMechanism `mapstructure:"sasl_mechanism"`
	SASLUser      string               `mapstructure:"sasl_user"`
	SASLPassword  string               `mapstructure:"sasl_password"`
}

type EventBusType string

const (
	EventBusMemory EventBusType = "memory"
	EventBusKafka  EventBusType = "kafka"
)

type EventsConfig struct {
	Bus                EventBusType `mapstructure:"bus" validate:"oneof=memory kafka"`
	OutboundTopic      string       `mapstructure:"outbound_topic" validate:"required"`
	PaymentEventsTopic string       `mapstructure:"payment_events_topic" validate:"required"`
	ConsumerEnabled    bool         `mapstructure:"consumer_enabled"`
	ConsumerRateLimit  int64        `mapstructure:"consumer_rate_limit"`
	RelayBatchSize     int          `mapstructure:"relay_batch_size" validate:"min=1"`
	RelayMaxAttempts   int          `mapstructure:"relay_max_attempts"`
}

type TemporalConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type SchedulerMode string

const (
	SchedulerModeNone     SchedulerMode = "none"
	SchedulerModeCron     SchedulerMode = "cron"
	SchedulerModeTemporal SchedulerMode = "temporal"
)

type SchedulerConfig struct {
	Mode                    SchedulerMode `mapstructure:"mode" validate:"oneof=none cron temporal"`
	TrialExpirySchedule     string        `mapstructure:"trial_expiry_schedule"`
	RenewalSchedule         string        `mapstructure:"renewal_schedule"`
	PeriodEndCancelSchedule string        `mapstructure:"period_end_cancel_schedule"`
	PaymentRetrySchedule    string        `mapstructure:"payment_retry_schedule"`
	PaymentRetryCleanup     string        `mapstructure:"payment_retry_cleanup_schedule"`
	OutboxRelaySchedule     string        `mapstructure:"outbox_relay_schedule"`
}

// Schedules maps each sweep to its cron expression. Sweeps with an empty
// expression are not scheduled.
func (c SchedulerConfig) Schedules() map[types.BillingSweep]string {
	return map[types.BillingSweep]string{
		types.BillingSweepTrialExpiry:           c.TrialExpirySchedule,
		types.BillingSweepRenewal:               c.RenewalSchedule,
		types.BillingSweepPeriodEndCancellation: c.PeriodEndCancelSchedule,
		types.BillingSweepPaymentRetry:          c.PaymentRetrySchedule,
		types.BillingSweepPaymentRetryCleanup:   c.PaymentRetryCleanup,
		types.BillingSweepOutboxRelay:           c.OutboxRelaySchedule,
	}
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

type HTTPServiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	APIKey  string        `mapstructure:"api_key"`
}

type PaymentProvider string

const (
	PaymentProviderHTTP   PaymentProvider = "http"
	PaymentProviderStripe PaymentProvider = "stripe"
)

type PaymentConfig struct {
	Provider        PaymentProvider   `mapstructure:"provider" validate:"oneof=http stripe"`
	HTTP            HTTPServiceConfig `mapstructure:"http"`
	StripeSecretKey string            `mapstructure:"stripe_secret_key"`
}

type SubscriptionConfig struct {
	ProrationThreshold decimal.Decimal `mapstructure:"proration_threshold"`
	RenewalLookAhead   time.Duration   `mapstructure:"renewal_look_ahead"`
	SweepBatchSize     int             `mapstructure:"sweep_batch_size" validate:"min=1"`
}

type PaymentRetryConfig struct {
	InitialDelay    time.Duration `mapstructure:"initial_delay" validate:"required"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxDelay        time.Duration `mapstructure:"max_delay" validate:"required"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"min=1"`
	GracePeriodDays int           `mapstructure:"grace_period_days" validate:"min=1"`
	BatchSize       int           `mapstructure:"batch_size" validate:"min=1"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RetentionDays   int           `mapstructure:"retention_days" validate:"min=1"`
	BatchLockKey    string        `mapstructure:"batch_lock_key"`
	ClaimTimeout    time.Duration `mapstructure:"claim_timeout"`
}

// NewConfig loads the embedded defaults, an optional .env file and
// FLEXPRICE_* environment overrides.
func NewConfig() (*Configuration, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultConfigYAML)); err != nil {
		return nil, fmt.Errorf("failed to read default config: %w", err)
	}

	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.AddConfigPath("./internal/config")
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	v.SetEnvPrefix("FLEXPRICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Configuration
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetDefaultConfig returns the embedded defaults and never fails. Used by
// the package-level logger and by tests.
func GetDefaultConfig() *Configuration {
	v := viper.New()
	v.SetConfigType("yaml")
	_ = v.ReadConfig(bytes.NewReader(defaultConfigYAML))

	var cfg Configuration
	_ = v.Unmarshal(&cfg, viper.DecodeHook(decodeHook()))
	return &cfg
}

func (c *Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
