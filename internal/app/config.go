package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage        string        `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Migrate        bool          `default:"true" usage:"Apply database migrations on start"`
	PricingFile    string        `usage:"YAML pricing tables: currency, tax and shipping" flag:"pricing-file"`
	PublicURL      string        `default:"http://localhost:8080" usage:"Public base URL of this service, used for gateway return URLs" flag:"public-url"`
	StorefrontURL  string        `usage:"Storefront base URL buyers are sent to after a payment return" flag:"storefront-url"`
	RequestTimeout time.Duration `default:"30s" usage:"Timeout of API requests" flag:"request-timeout"`
	Admin          AdminConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Payment        PaymentConfig
	Zarinpal       ZarinpalConfig
	Card           CardConfig
	Breaker        BreakerConfig
	Graceful       GracefulConfig
}

// AdminConfig protects the administrative routes.
type AdminConfig struct {
	Pepper    string   `usage:"HMAC pepper for admin key hashing" flag:"admin-pepper"`
	KeyHashes []string `usage:"Hex HMAC-SHA256 digests of accepted admin keys" flag:"admin-key-hashes"`
}

// RedisConfig enables webhook deduplication. Empty URL and Addr disable it.
type RedisConfig struct {
	URL      string        `usage:"Redis URL (SHOP_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Addr     string        `usage:"Redis address, used when URL is empty" flag:"redis-addr"`
	Password string        `usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database" flag:"redis-db"`
	DedupTTL time.Duration `default:"48h" usage:"How long processed webhook IDs are remembered" flag:"redis-dedup-ttl"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != "" || c.Addr != ""
}

// KafkaConfig enables the Kafka event publisher. Without brokers events are
// written to the log.
type KafkaConfig struct {
	Brokers  []string `usage:"Kafka brokers" flag:"kafka-brokers"`
	Topic    string   `default:"checkout.events" usage:"Topic for order and payment events" flag:"kafka-topic"`
	Producer string   `default:"storefront-checkout" usage:"Producer name stamped on events" flag:"kafka-producer"`
}

// PaymentConfig bounds gateway calls.
type PaymentConfig struct {
	HTTPTimeout    time.Duration `default:"30s" usage:"Upper bound of any gateway HTTP call" flag:"payment-http-timeout"`
	SessionTimeout time.Duration `default:"15s" usage:"Timeout of payment session creation" flag:"payment-session-timeout"`
	VerifyTimeout  time.Duration `default:"10s" usage:"Timeout of payment verification" flag:"payment-verify-timeout"`
	RefundTimeout  time.Duration `default:"15s" usage:"Timeout of gateway refunds" flag:"payment-refund-timeout"`
}

// ZarinpalConfig enables the zarinpal gateway when MerchantID is set.
type ZarinpalConfig struct {
	MerchantID string `usage:"Zarinpal merchant ID" flag:"zarinpal-merchant-id"`
	BaseURL    string `default:"https://payment.zarinpal.com" usage:"Zarinpal API base URL" flag:"zarinpal-base-url"`
}

// CardConfig enables the card gateway when APIKey is set.
type CardConfig struct {
	APIKey        string `usage:"Card provider secret API key" flag:"card-api-key"`
	BaseURL       string `usage:"Card provider API base URL" flag:"card-base-url"`
	WebhookSecret string `usage:"Card provider webhook signing secret" flag:"card-webhook-secret"`
}

// BreakerConfig tunes the per-gateway circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive unavailability errors that open the breaker" flag:"breaker-failures"`
	OpenTimeout         time.Duration `default:"30s" usage:"How long an open breaker rejects calls" flag:"breaker-open-timeout"`
	Interval            time.Duration `default:"1m" usage:"Failure count reset interval while closed" flag:"breaker-interval"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.Card.APIKey != "" {
		if c.Card.BaseURL == "" {
			return errors.New("card base URL is required when the card gateway is enabled")
		}
		if c.Card.WebhookSecret == "" {
			return errors.New("card webhook secret is required when the card gateway is enabled")
		}
	}
	if len(c.Admin.KeyHashes) > 0 && c.Admin.Pepper == "" {
		return errors.New("admin pepper is required with admin key hashes")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, REDIS_URL, PORT) onto the SHOP_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" && c.Redis.Addr == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	c.StorefrontURL = strings.TrimRight(c.StorefrontURL, "/")
}
