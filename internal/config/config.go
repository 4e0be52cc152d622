package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"boxoffice/internal/cache"
	"boxoffice/internal/database"
	"boxoffice/internal/messaging"
	"boxoffice/internal/search"
	"boxoffice/internal/telemetry"
)

// Config is read from the environment. Nested sections are prefixed with
// their tag, e.g. DB_HOST or PUBLISHER_LEASE_TTL.
type Config struct {
	Port           string        `envconfig:"PORT" default:"8081"`
	GinMode        string        `envconfig:"GIN_MODE" default:"release"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"json"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	Database      database.Config      `envconfig:"DB"`
	Redis         cache.Config         `envconfig:"REDIS"`
	NATS          messaging.NATSConfig `envconfig:"NATS"`
	AMQP          messaging.AMQPConfig `envconfig:"AMQP"`
	Elasticsearch search.Config        `envconfig:"ELASTICSEARCH"`
	Telemetry     telemetry.Config     `envconfig:"OTEL"`

	Cart      CartConfig      `envconfig:"CART"`
	Refund    RefundConfig    `envconfig:"REFUND"`
	Publisher PublisherConfig `envconfig:"PUBLISHER"`
	Jobs      JobsConfig      `envconfig:"JOBS"`
}

type CartConfig struct {
	TTL time.Duration `envconfig:"TTL" default:"15m"`
}

type RefundConfig struct {
	// ResalePolicy is "resell" or "nullify".
	ResalePolicy string `envconfig:"RESALE_POLICY" default:"resell"`
	// RedeemedMode is "fee_only" or "reject".
	RedeemedMode string `envconfig:"REDEEMED_MODE" default:"fee_only"`
}

type PublisherConfig struct {
	LeaseTTL       time.Duration `envconfig:"LEASE_TTL" default:"60s"`
	BatchSize      int           `envconfig:"BATCH_SIZE" default:"100"`
	Interval       time.Duration `envconfig:"INTERVAL" default:"5s"`
	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	// Holder names this worker in lease columns; empty means a random id.
	Holder string `envconfig:"HOLDER"`
}

type JobsConfig struct {
	CartExpirationInterval time.Duration `envconfig:"CART_EXPIRATION_INTERVAL" default:"30s"`
	CartExpirationBatch    int           `envconfig:"CART_EXPIRATION_BATCH" default:"200"`
}

// Load reads envFile when it exists and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Refund.ResalePolicy {
	case "resell", "nullify":
	default:
		return fmt.Errorf("REFUND_RESALE_POLICY must be resell or nullify, got %q", c.Refund.ResalePolicy)
	}
	switch c.Refund.RedeemedMode {
	case "fee_only", "reject":
	default:
		return fmt.Errorf("REFUND_REDEEMED_MODE must be fee_only or reject, got %q", c.Refund.RedeemedMode)
	}
	if c.Cart.TTL <= 0 {
		return fmt.Errorf("CART_TTL must be positive")
	}
	if c.Publisher.LeaseTTL <= 0 {
		return fmt.Errorf("PUBLISHER_LEASE_TTL must be positive")
	}
	return nil
}
