package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Leganyst/consultation-slots/internal/model"
)

// Config: все настройки сервиса.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	GRPCAddr string `mapstructure:"GRPC_ADDR"`

	DB         DBConfig         `mapstructure:",squash"`
	Schedule   ScheduleConfig   `mapstructure:",squash"`
	Outbox     OutboxConfig     `mapstructure:",squash"`
	ChangeFeed ChangeFeedConfig `mapstructure:",squash"`
	Redis      RedisConfig      `mapstructure:",squash"`
	Kafka      KafkaConfig      `mapstructure:",squash"`
	Payment    PaymentConfig    `mapstructure:",squash"`

	SentryDSN string `mapstructure:"SENTRY_DSN"`
}

// ScheduleConfig: рабочее окно, длительность слота и политики записи.
type ScheduleConfig struct {
	TimeZone          string        `mapstructure:"SCHEDULE_TIMEZONE"`
	OpenHour          int           `mapstructure:"SCHEDULE_OPEN_HOUR"`
	CloseHour         int           `mapstructure:"SCHEDULE_CLOSE_HOUR"`
	SlotDurationMin   int           `mapstructure:"SLOT_DURATION_MIN"`
	BlockDeletePolicy string        `mapstructure:"BLOCK_DELETE_POLICY"`
	PendingPaymentTTL time.Duration `mapstructure:"PENDING_PAYMENT_TTL"`
	SweepSpec         string        `mapstructure:"PENDING_PAYMENT_SWEEP_SPEC"`
}

func (c ScheduleConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

func (c ScheduleConfig) DeletePolicy() model.BlockDeletePolicy {
	p, err := model.ParseBlockDeletePolicy(c.BlockDeletePolicy)
	if err != nil {
		return model.DeletePolicyKeepOccupied
	}
	return p
}

type OutboxConfig struct {
	PollSpec    string        `mapstructure:"OUTBOX_POLL_SPEC"`
	BatchSize   int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	MaxAttempts int           `mapstructure:"OUTBOX_MAX_ATTEMPTS"`
	BaseBackoff time.Duration `mapstructure:"OUTBOX_BASE_BACKOFF"`
	MaxBackoff  time.Duration `mapstructure:"OUTBOX_MAX_BACKOFF"`
	RatePerSec  float64       `mapstructure:"OUTBOX_RATE_PER_SEC"`
	RateBurst   int           `mapstructure:"OUTBOX_RATE_BURST"`
	SendTimeout time.Duration `mapstructure:"OUTBOX_SEND_TIMEOUT"`
}

type ChangeFeedConfig struct {
	Channel      string        `mapstructure:"CHANGEFEED_CHANNEL"`
	PollInterval time.Duration `mapstructure:"CHANGEFEED_POLL_INTERVAL"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"REDIS_ADDR"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type KafkaConfig struct {
	Brokers    string `mapstructure:"KAFKA_BROKERS"`
	SMSTopic   string `mapstructure:"KAFKA_SMS_TOPIC"`
	EmailTopic string `mapstructure:"KAFKA_EMAIL_TOPIC"`
}

// BrokerList разбирает список брокеров через запятую.
func (c KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type PaymentConfig struct {
	StripeKey string `mapstructure:"STRIPE_KEY"`
	Currency  string `mapstructure:"PAYMENT_CURRENCY"`
}

// Load читает config.yaml из рабочего каталога или ./config, затем переменные окружения.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GRPC_ADDR", ":50051")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "postgres")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "booking")
	v.SetDefault("DB_PASSWORD", "booking")
	v.SetDefault("DB_NAME", "booking_db")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_SQLITE_PATH", "slots.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MIN", 30)

	v.SetDefault("SCHEDULE_TIMEZONE", "UTC")
	v.SetDefault("SCHEDULE_OPEN_HOUR", 8)
	v.SetDefault("SCHEDULE_CLOSE_HOUR", 17)
	v.SetDefault("SLOT_DURATION_MIN", 60)
	v.SetDefault("BLOCK_DELETE_POLICY", string(model.DeletePolicyKeepOccupied))
	v.SetDefault("PENDING_PAYMENT_TTL", time.Duration(0))
	v.SetDefault("PENDING_PAYMENT_SWEEP_SPEC", "@every 15m")

	v.SetDefault("OUTBOX_POLL_SPEC", "@every 10s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 8)
	v.SetDefault("OUTBOX_BASE_BACKOFF", 30*time.Second)
	v.SetDefault("OUTBOX_MAX_BACKOFF", time.Hour)
	v.SetDefault("OUTBOX_RATE_PER_SEC", 20.0)
	v.SetDefault("OUTBOX_RATE_BURST", 5)
	v.SetDefault("OUTBOX_SEND_TIMEOUT", 10*time.Second)

	v.SetDefault("CHANGEFEED_CHANNEL", "bookings:changed")
	v.SetDefault("CHANGEFEED_POLL_INTERVAL", 30*time.Second)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_SMS_TOPIC", "notifications.sms")
	v.SetDefault("KAFKA_EMAIL_TOPIC", "notifications.email")

	v.SetDefault("STRIPE_KEY", "")
	v.SetDefault("PAYMENT_CURRENCY", "usd")

	v.SetDefault("SENTRY_DSN", "")
}

// Validate проверяет связи между полями, которые viper не выражает.
func (c *Config) Validate() error {
	if err := c.DB.validate(); err != nil {
		return err
	}

	s := c.Schedule
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("invalid schedule timezone %q: %w", s.TimeZone, err)
	}
	if s.OpenHour < 0 || s.CloseHour > 24 || s.OpenHour >= s.CloseHour {
		return fmt.Errorf("invalid operating window %d..%d", s.OpenHour, s.CloseHour)
	}
	if s.SlotDurationMin <= 0 {
		return fmt.Errorf("slot duration must be positive, got %d", s.SlotDurationMin)
	}
	if _, err := model.ParseBlockDeletePolicy(s.BlockDeletePolicy); err != nil {
		return err
	}
	if s.PendingPaymentTTL < 0 {
		return fmt.Errorf("pending payment ttl must not be negative")
	}

	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("outbox max attempts must be positive")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("outbox batch size must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
