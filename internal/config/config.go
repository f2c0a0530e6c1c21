package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/utafrali/cartengine/internal/stock"
	pkgconfig "github.com/utafrali/cartengine/pkg/config"
	"github.com/utafrali/cartengine/pkg/database"
	"github.com/utafrali/cartengine/pkg/httpclient"
)

// Storage backends selectable with CART_STORAGE.
const (
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageFile     = "file"
	StorageMemory   = "memory"
)

// Config holds all configuration for the cart engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"CART_HTTP_PORT" envDefault:"8003"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Catalog collaborator
	CatalogServiceURL string `env:"CATALOG_SERVICE_URL" envDefault:"http://localhost:8001/api/v1"`
	CatalogTimeout    int    `env:"CATALOG_TIMEOUT_SECONDS" envDefault:"5"`
	CatalogMaxRetries int    `env:"CATALOG_MAX_RETRIES" envDefault:"1"`

	// Circuit breaker settings for catalog calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Stock check failure policy: fail_open or fail_closed
	StockCheckPolicy string `env:"STOCK_CHECK_POLICY" envDefault:"fail_open"`

	// Cart storage
	Storage          string `env:"CART_STORAGE" envDefault:"redis"`
	StorageNamespace string `env:"CART_STORAGE_NAMESPACE" envDefault:"storefront:cart"`
	CartTTL          int    `env:"CART_TTL_HOURS" envDefault:"0"`
	FileDir          string `env:"CART_FILE_DIR" envDefault:"./data/carts"`
	SessionIdleMins  int    `env:"CART_SESSION_IDLE_MINUTES" envDefault:"30"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"cart"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"cart_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"cart"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"1"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from the process environment unless opts say
// otherwise, then validates it.
func Load(opts ...pkgconfig.Option) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, opts...); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.CatalogServiceURL == "" {
		return fmt.Errorf("CATALOG_SERVICE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.CatalogServiceURL); err != nil {
		return fmt.Errorf("invalid CATALOG_SERVICE_URL %q: %w", c.CatalogServiceURL, err)
	}
	if c.CatalogTimeout < 1 {
		return fmt.Errorf("CATALOG_TIMEOUT_SECONDS must be positive, got %d", c.CatalogTimeout)
	}
	if c.CatalogMaxRetries < 0 {
		return fmt.Errorf("CATALOG_MAX_RETRIES must not be negative, got %d", c.CatalogMaxRetries)
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.CBFailureRatio)
	}
	if _, err := stock.ParsePolicy(c.StockCheckPolicy); err != nil {
		return fmt.Errorf("invalid STOCK_CHECK_POLICY: %w", err)
	}
	if c.CartTTL < 0 {
		return fmt.Errorf("CART_TTL_HOURS must not be negative, got %d", c.CartTTL)
	}
	if c.SessionIdleMins < 1 {
		return fmt.Errorf("CART_SESSION_IDLE_MINUTES must be positive, got %d", c.SessionIdleMins)
	}

	switch c.Storage {
	case StorageRedis:
		if _, _, err := splitAddr(c.RedisAddr); err != nil {
			return fmt.Errorf("invalid REDIS_ADDR %q: %w", c.RedisAddr, err)
		}
	case StoragePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StorageFile:
		if c.FileDir == "" {
			return fmt.Errorf("CART_FILE_DIR is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown CART_STORAGE %q (want redis, postgres, file or memory)", c.Storage)
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Policy returns the parsed stock check policy.
func (c *Config) Policy() stock.Policy {
	p, _ := stock.ParsePolicy(c.StockCheckPolicy)
	return p
}

// CatalogClientConfig returns the retrying HTTP client settings for catalog calls.
func (c *Config) CatalogClientConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = time.Duration(c.CatalogTimeout) * time.Second
	cfg.MaxRetries = c.CatalogMaxRetries
	return cfg
}

// CircuitBreakerConfig returns the breaker settings for catalog calls.
func (c *Config) CircuitBreakerConfig(name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  c.CBMaxRequests,
		Interval:     time.Duration(c.CBInterval) * time.Second,
		Timeout:      time.Duration(c.CBTimeout) * time.Second,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}

// RedisConfig returns the Redis connection settings.
func (c *Config) RedisConfig() database.RedisConfig {
	cfg := database.DefaultRedisConfig()
	if host, port, err := splitAddr(c.RedisAddr); err == nil {
		cfg.Host = host
		cfg.Port = port
	}
	cfg.Password = c.RedisPass
	cfg.DB = c.RedisDB
	return cfg
}

// PostgresConfig returns the PostgreSQL pool settings.
func (c *Config) PostgresConfig() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// CartTTLDuration returns the snapshot expiry; zero means snapshots never expire.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// SessionIdle returns how long an unused session stays in memory.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMins) * time.Minute
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
