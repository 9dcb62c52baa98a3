package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord" envPrefix:"TK_DISCORD_"`
	Database       DatabaseConfig       `yaml:"database" envPrefix:"TK_DB_"`
	Server         ServerConfig         `yaml:"server" envPrefix:"TK_SERVER_"`
	Telemetry      TelemetryConfig      `yaml:"telemetry" envPrefix:"TK_OTEL_"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election" envPrefix:"TK_LEADER_"`
	Engine         EngineConfig         `yaml:"engine" envPrefix:"TK_ENGINE_"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Token   string `yaml:"token" env:"TOKEN"`
	GuildID string `yaml:"guild_id" env:"GUILD_ID"`
	// Players maps Discord user IDs to player IDs.
	Players map[string]int64 `yaml:"players"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	DBName   string `yaml:"dbname" env:"NAME"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE"`
	Driver   string `yaml:"driver" env:"DRIVER"` // "sqlx" or "memory"
	// Migrate applies pending schema migrations on startup.
	Migrate bool `yaml:"migrate" env:"MIGRATE"`
	// LockTimeout bounds how long a unit of work waits for a match row lock.
	LockTimeout time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
	// EventPageSize is the number of events fetched per page by ReadFrom.
	EventPageSize int `yaml:"event_page_size" env:"EVENT_PAGE_SIZE"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" env:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" env:"SERVICE_VERSION"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"ENDPOINT"`
	Insecure       bool   `yaml:"insecure" env:"INSECURE"`
	// MetricInterval is how often metrics are pushed. Zero keeps the SDK
	// default.
	MetricInterval time.Duration `yaml:"metric_interval" env:"METRIC_INTERVAL"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Identity names this replica in the lease. Defaults to POD_NAME, then
	// the hostname.
	Identity       string        `yaml:"identity" env:"IDENTITY"`
	LeaseName      string        `yaml:"lease_name" env:"LEASE_NAME"`
	LeaseNamespace string        `yaml:"lease_namespace" env:"LEASE_NAMESPACE"`
	LeaseDuration  time.Duration `yaml:"lease_duration" env:"LEASE_DURATION"`
	RenewDeadline  time.Duration `yaml:"renew_deadline" env:"RENEW_DEADLINE"`
	RetryPeriod    time.Duration `yaml:"retry_period" env:"RETRY_PERIOD"`
}

// EngineConfig tunes the match service.
type EngineConfig struct {
	// MaxRetries is how many times a command is retried after a concurrency conflict.
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	// VerifyInterval is how often the leader replays open matches. Zero disables it.
	VerifyInterval    time.Duration `yaml:"verify_interval" env:"VERIFY_INTERVAL"`
	VerifyConcurrency int           `yaml:"verify_concurrency" env:"VERIFY_CONCURRENCY"`
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			SSLMode:       "disable",
			Driver:        "sqlx",
			Migrate:       true,
			LockTimeout:   2 * time.Second,
			EventPageSize: 256,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "tkserver",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "tkserver-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Engine: EngineConfig{
			MaxRetries:        3,
			RetryBaseDelay:    20 * time.Millisecond,
			VerifyInterval:    5 * time.Minute,
			VerifyConcurrency: 4,
		},
	}
}

// Load reads a YAML configuration file from the given path, then applies
// variables from an optional .env file and the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"memory\"", c.Database.Driver)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0, got %d", c.Engine.MaxRetries)
	}
	if c.Engine.VerifyConcurrency < 1 {
		return fmt.Errorf("engine.verify_concurrency must be >= 1, got %d", c.Engine.VerifyConcurrency)
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return errors.New("discord.token is required when discord is enabled")
	}
	return nil
}
