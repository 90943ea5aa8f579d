package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DBConfig holds postgres connection settings
type DBConfig struct {
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         string `env:"PORT" envDefault:"5432"`
	User         string `env:"USER"`
	Password     string `env:"PASSWORD"`
	Name         string `env:"NAME" envDefault:"venturemarket"`
	SSLMode      string `env:"SSLMODE" envDefault:"disable"`
	TimeZone     string `env:"TIMEZONE" envDefault:"UTC"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS" envDefault:"50"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"200"`

	// AutoMigrate syncs tables from the models on startup. Disable it when
	// the schema is managed with ledgerctl migrate.
	AutoMigrate bool `env:"AUTO_MIGRATE" envDefault:"true"`
}

// DSN renders the postgres connection string
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode, c.TimeZone)
}

// RabbitMQConfig holds broker settings. An empty host disables messaging.
type RabbitMQConfig struct {
	Host     string `env:"HOST"`
	Port     string `env:"PORT" envDefault:"5672"`
	User     string `env:"USER" envDefault:"guest"`
	Password string `env:"PASSWORD" envDefault:"guest"`
}

func (c RabbitMQConfig) Enabled() bool { return c.Host != "" }

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.User, c.Password, c.Host, c.Port)
}

// GenerationConfig points at the OpenAI-compatible generation service
type GenerationConfig struct {
	BaseURL           string        `env:"BASE_URL" envDefault:"http://localhost:1234/v1"`
	APIKey            string        `env:"API_KEY"`
	Model             string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	Timeout           time.Duration `env:"TIMEOUT" envDefault:"120s"`
	MaxRetries        uint          `env:"MAX_RETRIES" envDefault:"5"`
	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"2"`
}

// StripeConfig holds payment gateway settings
type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	Currency      string `env:"CURRENCY" envDefault:"usd"`
	SuccessURL    string `env:"SUCCESS_URL" envDefault:"http://localhost:3000/jobs/success"`
	CancelURL     string `env:"CANCEL_URL" envDefault:"http://localhost:3000/jobs/cancel"`
}

// Enabled reports whether a Stripe key is configured
func (c StripeConfig) Enabled() bool { return c.SecretKey != "" }

// LedgerConfig holds venture economics. The venture fee is kept apart from
// the job fee on purpose; they belong to different economic contexts.
type LedgerConfig struct {
	VentureFeeRate decimal.Decimal `env:"VENTURE_FEE_RATE" envDefault:"0.05"`
}

// JobsConfig holds job pipeline settings
type JobsConfig struct {
	FeeRate        decimal.Decimal `env:"JOB_FEE_RATE" envDefault:"0.15"`
	MaxRevisions   int             `env:"JOB_MAX_REVISIONS" envDefault:"3"`
	PeerReview     bool            `env:"JOB_PEER_REVIEW" envDefault:"true"`
	StalledTimeout time.Duration   `env:"STALLED_JOB_TIMEOUT" envDefault:"30m"`
	Workers        int             `env:"JOB_WORKERS" envDefault:"4"`
}

// ArbiterConfig holds the scanner schedule
type ArbiterConfig struct {
	ScanCron    string `env:"ARBITER_CRON" envDefault:"0 */10 * * * *"`
	DisputeCron string `env:"DISPUTE_CRON" envDefault:"30 */5 * * * *"`
	SweepCron   string `env:"SWEEP_CRON" envDefault:"0 * * * * *"`
}

// Config is the process configuration, read from the environment
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	MigrationsPath string   `env:"MIGRATIONS_PATH" envDefault:"migrations"`

	DB         DBConfig         `envPrefix:"DB_"`
	RabbitMQ   RabbitMQConfig   `envPrefix:"RABBITMQ_"`
	Generation GenerationConfig `envPrefix:"GENERATION_"`
	Stripe     StripeConfig     `envPrefix:"STRIPE_"`
	Ledger     LedgerConfig
	Jobs       JobsConfig
	Arbiter    ArbiterConfig
}

// Load parses configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// ConfigureLogger applies the configured level to the standard logrus logger
func (c *Config) ConfigureLogger() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Warnf("Unknown LOG_LEVEL %q, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
