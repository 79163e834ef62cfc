package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type Monnify struct {
	BaseURL       string
	APIKey        string
	SecretKey     string
	ContractCode  string
	WebhookSecret string
	RedirectURL   string
	SourceAccount string
	Timeout       time.Duration
}

// Enabled reports whether credentials for the live gateway are configured.
func (m Monnify) Enabled() bool {
	return m.APIKey != "" && m.SecretKey != ""
}

type Config struct {
	Env      string
	HTTPPort string
	Database Database
	Monnify  Monnify

	NATSURL      string
	EventBroker  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PaymentTTL        time.Duration
	SweepInterval     time.Duration
	ReferenceAttempts int
	LookupRetries     int
	LookupBackoff     time.Duration
	WriteRetries      int
	AgmFeePercentage  decimal.Decimal
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Env:      getString("APP_ENV", "development"),
		HTTPPort: getString("HTTP_PORT", "8001"),
		Database: Database{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     getString("DB_HOST", "127.0.0.1"),
			Port:     getString("DB_PORT", "3306"),
			Name:     getString("DB_NAME", "agm"),
		},
		Monnify: Monnify{
			BaseURL:       getString("MONNIFY_BASE_URL", "https://sandbox.monnify.com"),
			APIKey:        os.Getenv("MONNIFY_API_KEY"),
			SecretKey:     os.Getenv("MONNIFY_SECRET_KEY"),
			ContractCode:  os.Getenv("MONNIFY_CONTRACT_CODE"),
			WebhookSecret: os.Getenv("MONNIFY_WEBHOOK_SECRET"),
			RedirectURL:   os.Getenv("MONNIFY_REDIRECT_URL"),
			SourceAccount: os.Getenv("MONNIFY_SOURCE_ACCOUNT"),
			Timeout:       getDuration("MONNIFY_TIMEOUT", 15*time.Second),
		},
		NATSURL:           getString("NATS_URL", "nats://127.0.0.1:4222"),
		EventBroker:       strings.ToLower(getString("EVENT_BROKER", "nats")),
		KafkaBrokers:      splitList(getString("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        getString("KAFKA_TOPIC", "agm.payments"),
		KafkaGroup:        getString("KAFKA_GROUP", "agm-order-events"),
		PaymentTTL:        getDuration("PAYMENT_TTL", 24*time.Hour),
		SweepInterval:     getDuration("SWEEP_INTERVAL", time.Minute),
		ReferenceAttempts: getInt("REFERENCE_ATTEMPTS", 5),
		LookupRetries:     getInt("LOOKUP_RETRIES", 3),
		LookupBackoff:     getDuration("LOOKUP_BACKOFF", 200*time.Millisecond),
		WriteRetries:      getInt("WRITE_RETRIES", 3),
		AgmFeePercentage:  getDecimal("AGM_FEE_PERCENTAGE", decimal.NewFromFloat(1.5)),
	}
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("90s") or bare milliseconds ("200").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("Invalid decimal in environment, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
