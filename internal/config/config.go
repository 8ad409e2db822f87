// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Nested structs carry
// the env prefix of their concern (BOOKING_, JOBS_, FLOW_, ...).
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"dev" validate:"oneof=dev test prod"`
	Port     string `env:"APP_PORT" envDefault:"8080" validate:"required,numeric"`
	Timezone string `env:"APP_TIMEZONE" envDefault:"UTC" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`

	DB DBConfig `validate:"-"`

	JWTSecret    string `env:"JWT_SECRET"`
	AccessTTLMin int    `env:"ACCESS_TOKEN_TTL_MIN" envDefault:"60" validate:"min=1"`
	// AdminKeyHash is the bcrypt hash of the X-Admin-Key header value.
	AdminKeyHash string `env:"ADMIN_API_KEY_HASH"`

	Booking   BookingConfig   `envPrefix:"BOOKING_"`
	Jobs      JobsConfig      `envPrefix:"JOBS_"`
	Flow      FlowConfig      `envPrefix:"FLOW_"`
	Notify    NotifyConfig    `envPrefix:"NOTIFY_"`
	Twilio    TwilioConfig    `envPrefix:"TWILIO_"`
	Telegram  TelegramConfig  `envPrefix:"TELEGRAM_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
	OTel      OTelConfig      `envPrefix:"OTEL_"`
}

// DBConfig is validated separately by RequireDB so commands that never
// touch MySQL (token, hash-key, server --memory) start without it.
type DBConfig struct {
	User string `env:"DB_USER" validate:"required"`
	Pass string `env:"DB_PASS"`
	Host string `env:"DB_HOST" validate:"required"`
	Port string `env:"DB_PORT" envDefault:"3306" validate:"required,numeric"`
	Name string `env:"DB_NAME" validate:"required"`
}

type BookingConfig struct {
	PendingTimeout       time.Duration `env:"PENDING_TIMEOUT" envDefault:"30m" validate:"gt=0"`
	CancellationDeadline time.Duration `env:"CANCELLATION_DEADLINE" envDefault:"24h" validate:"gte=0"`
}

type JobsConfig struct {
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m" validate:"gt=0"`
	FarReminderInterval  time.Duration `env:"FAR_REMINDER_INTERVAL" envDefault:"1h" validate:"gt=0"`
	NearReminderInterval time.Duration `env:"NEAR_REMINDER_INTERVAL" envDefault:"15m" validate:"gt=0"`
	BatchSize            int           `env:"BATCH_SIZE" envDefault:"200" validate:"min=1,max=5000"`
}

type FlowConfig struct {
	StateTTL  time.Duration `env:"STATE_TTL" envDefault:"10m" validate:"gt=0"`
	LockTTL   time.Duration `env:"LOCK_TTL" envDefault:"5s" validate:"gt=0"`
	DedupeTTL time.Duration `env:"DEDUPE_TTL" envDefault:"24h" validate:"gt=0"`
}

// NotifyConfig picks how booking notifications leave the engine: sent
// inline through the gateways, or published to RabbitMQ for the consume
// command.
type NotifyConfig struct {
	Mode        string `env:"MODE" envDefault:"direct" validate:"oneof=direct queue"`
	RabbitMQURL string `env:"RABBITMQ_URL" validate:"required_if=Mode queue"`
	Queue       string `env:"QUEUE" envDefault:"booking.notifications" validate:"required"`
}

type TwilioConfig struct {
	AccountSID        string `env:"ACCOUNT_SID"`
	AuthToken         string `env:"AUTH_TOKEN"`
	From              string `env:"FROM"`
	WebhookURL        string `env:"WEBHOOK_URL" validate:"omitempty,url"`
	ValidateSignature bool   `env:"VALIDATE_SIGNATURE" envDefault:"true"`
	APIBase           string `env:"API_BASE" validate:"omitempty,url"`
}

// Enabled reports whether WhatsApp delivery is configured.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.From != ""
}

type TelegramConfig struct {
	Token         string `env:"TOKEN"`
	WebhookSecret string `env:"WEBHOOK_SECRET" validate:"required_with=Token"`
}

type OTelConfig struct {
	Endpoint    string `env:"ENDPOINT" validate:"omitempty,url"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"resort-booking"`
}

// IsDev reports whether the app runs in the development environment.
func (c Config) IsDev() bool { return c.Env == "dev" }

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

var validate = validator.New()

// Load reads .env when present, parses the environment and validates the
// result.  A missing .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.RateLimit.normalize()
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireDB validates the MySQL settings.
func (c Config) RequireDB() error {
	if err := validate.Struct(c.DB); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	return nil
}

// RequireJWT checks that tokens can be signed and verified.
func (c Config) RequireJWT() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	return nil
}
