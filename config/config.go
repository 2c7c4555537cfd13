package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Store       StoreConfig
	Log         LogConfig
	Dispatch    DispatchConfig
	Correlation CorrelationConfig
	Routes      RoutesConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `mapstructure:"SERVER_HOST"`
	Port             int           `mapstructure:"SERVER_PORT"`
	ReadTimeout      time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout     time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout      time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
	RateLimitPerMin  int           `mapstructure:"RATE_LIMIT_PER_MIN"`
	ShutdownTimeout  time.Duration `mapstructure:"SERVER_SHUTDOWN_TIMEOUT"`
	CORSAllowOrigins string        `mapstructure:"CORS_ALLOW_ORIGINS"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`

	// Migrate the schema to the newest version at startup.
	AutoMigrate   bool   `mapstructure:"POSTGRES_AUTO_MIGRATE"`
	MigrationsDir string `mapstructure:"POSTGRES_MIGRATIONS_DIR"`
}

// RedisConfig holds settings for the live-update broadcast channel.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"REDIS_ENABLED"`
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
	Channel  string `mapstructure:"REDIS_CHANNEL"`

	// Circuit breaker around PUBLISH.
	BreakerFailures uint32        `mapstructure:"REDIS_BREAKER_FAILURES"`
	BreakerTimeout  time.Duration `mapstructure:"REDIS_BREAKER_TIMEOUT"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"STORE_DRIVER"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"LOG_PRETTY"`
}

// DispatchConfig holds medical dispatch radii.
type DispatchConfig struct {
	RadiusKm       float64 `mapstructure:"DISPATCH_RADIUS_KM"`
	NearbyRadiusKm float64 `mapstructure:"NEARBY_RADIUS_KM"`
}

// CorrelationConfig holds missing/found matching settings.
type CorrelationConfig struct {
	MinScore       int           `mapstructure:"MATCH_MIN_SCORE"`
	PoolLimit      int           `mapstructure:"MATCH_POOL_LIMIT"`
	ConfirmRetries uint64        `mapstructure:"MATCH_CONFIRM_RETRIES"`
	RetryInterval  time.Duration `mapstructure:"MATCH_CONFIRM_RETRY_INTERVAL"`
}

// RoutesConfig points at the route/parking registry seed.
type RoutesConfig struct {
	SeedFile string `mapstructure:"ROUTES_SEED_FILE"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	viper.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "10s")
	viper.SetDefault("RATE_LIMIT_PER_MIN", 600)
	viper.SetDefault("CORS_ALLOW_ORIGINS", "*")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "crowdops")
	viper.SetDefault("POSTGRES_PASSWORD", "crowdops_secret")
	viper.SetDefault("POSTGRES_DB", "crowdops")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)
	viper.SetDefault("POSTGRES_AUTO_MIGRATE", false)
	viper.SetDefault("POSTGRES_MIGRATIONS_DIR", "migrations")

	viper.SetDefault("REDIS_ENABLED", true)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)
	viper.SetDefault("REDIS_CHANNEL", "crowdops:live")
	viper.SetDefault("REDIS_BREAKER_FAILURES", 5)
	viper.SetDefault("REDIS_BREAKER_TIMEOUT", "30s")

	viper.SetDefault("STORE_DRIVER", StorePostgres)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_PRETTY", false)

	viper.SetDefault("DISPATCH_RADIUS_KM", 10.0)
	viper.SetDefault("NEARBY_RADIUS_KM", 5.0)

	viper.SetDefault("MATCH_MIN_SCORE", 40)
	viper.SetDefault("MATCH_POOL_LIMIT", 10)
	viper.SetDefault("MATCH_CONFIRM_RETRIES", 3)
	viper.SetDefault("MATCH_CONFIRM_RETRY_INTERVAL", "50ms")

	viper.SetDefault("ROUTES_SEED_FILE", "config/routes.yaml")

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:             viper.GetString("SERVER_HOST"),
		Port:             viper.GetInt("SERVER_PORT"),
		ReadTimeout:      viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout:     viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:      viper.GetDuration("SERVER_IDLE_TIMEOUT"),
		RateLimitPerMin:  viper.GetInt("RATE_LIMIT_PER_MIN"),
		ShutdownTimeout:  viper.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		CORSAllowOrigins: viper.GetString("CORS_ALLOW_ORIGINS"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),

		AutoMigrate:   viper.GetBool("POSTGRES_AUTO_MIGRATE"),
		MigrationsDir: viper.GetString("POSTGRES_MIGRATIONS_DIR"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Enabled:         viper.GetBool("REDIS_ENABLED"),
		Host:            viper.GetString("REDIS_HOST"),
		Port:            viper.GetInt("REDIS_PORT"),
		Password:        viper.GetString("REDIS_PASSWORD"),
		DB:              viper.GetInt("REDIS_DB"),
		PoolSize:        viper.GetInt("REDIS_POOL_SIZE"),
		Channel:         viper.GetString("REDIS_CHANNEL"),
		BreakerFailures: viper.GetUint32("REDIS_BREAKER_FAILURES"),
		BreakerTimeout:  viper.GetDuration("REDIS_BREAKER_TIMEOUT"),
	}

	// ── Core ────────────────────────────────────────────
	cfg.Store = StoreConfig{
		Driver: strings.ToLower(viper.GetString("STORE_DRIVER")),
	}
	cfg.Log = LogConfig{
		Level:  viper.GetString("LOG_LEVEL"),
		Pretty: viper.GetBool("LOG_PRETTY"),
	}
	cfg.Dispatch = DispatchConfig{
		RadiusKm:       viper.GetFloat64("DISPATCH_RADIUS_KM"),
		NearbyRadiusKm: viper.GetFloat64("NEARBY_RADIUS_KM"),
	}
	cfg.Correlation = CorrelationConfig{
		MinScore:       viper.GetInt("MATCH_MIN_SCORE"),
		PoolLimit:      viper.GetInt("MATCH_POOL_LIMIT"),
		ConfirmRetries: viper.GetUint64("MATCH_CONFIRM_RETRIES"),
		RetryInterval:  viper.GetDuration("MATCH_CONFIRM_RETRY_INTERVAL"),
	}
	cfg.Routes = RoutesConfig{
		SeedFile: viper.GetString("ROUTES_SEED_FILE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("config: STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store.Driver)
	}
	if c.Dispatch.RadiusKm <= 0 || c.Dispatch.NearbyRadiusKm <= 0 {
		return fmt.Errorf("config: dispatch radii must be positive")
	}
	if c.Server.RateLimitPerMin < 0 {
		return fmt.Errorf("config: RATE_LIMIT_PER_MIN must not be negative")
	}
	return nil
}
