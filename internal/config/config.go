// Package config provides environment-aware configuration management for
// the research engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ServerConfig controls the admin HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence. An empty DSN selects the in-memory
// store backend.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// BudgetConfig controls the Cost Governor's spend caps.
type BudgetConfig struct {
	DailyCapUSD   float64 `yaml:"daily_cap_usd" env:"BUDGET_DAILY_CAP_USD"`
	MonthlyCapUSD float64 `yaml:"monthly_cap_usd" env:"BUDGET_MONTHLY_CAP_USD"`
	PerJobCapUSD  float64 `yaml:"per_job_cap_usd" env:"BUDGET_PER_JOB_CAP_USD"`
	WarnThreshold float64 `yaml:"warn_threshold" env:"BUDGET_WARN_THRESHOLD"`
}

// RouterConfig controls provider selection.
type RouterConfig struct {
	ExploreRate        float64 `yaml:"explore_rate" env:"ROUTER_EXPLORE_RATE"`
	HealthWindow       int     `yaml:"health_window" env:"ROUTER_HEALTH_WINDOW"`
	UnhealthyThreshold float64 `yaml:"unhealthy_threshold" env:"ROUTER_UNHEALTHY_THRESHOLD"`
	DefaultProvider    string  `yaml:"default_provider" env:"ROUTER_DEFAULT_PROVIDER"`
}

// PollConfig controls the external-job reconciliation poller.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval" env:"POLL_INTERVAL"`
	MaxInFlight int           `yaml:"max_in_flight" env:"POLL_MAX_IN_FLIGHT"`
	LeaseTTL    time.Duration `yaml:"lease_ttl" env:"POLL_LEASE_TTL"`
}

// QueueConfig controls job queue behavior.
type QueueConfig struct {
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" env:"QUEUE_VISIBILITY_TIMEOUT"`
	MaxAttempts       int           `yaml:"max_attempts" env:"QUEUE_MAX_ATTEMPTS"`
}

// ArtifactConfig controls the artifact store.
type ArtifactConfig struct {
	RootDir string `yaml:"root_dir" env:"ARTIFACT_ROOT_DIR"`
}

// AuthConfig controls admin HTTP authentication.
type AuthConfig struct {
	Tokens []string `yaml:"tokens" env:"API_TOKENS"`
}

// ProviderConfig describes one configured adapter.
type ProviderConfig struct {
	Name       string  `yaml:"name"`
	Kind       string  `yaml:"kind"`
	APIKeyEnv  string  `yaml:"api_key_env"`
	BaseURL    string  `yaml:"base_url"`
	CostPerJob float64 `yaml:"cost_per_job"`
	RateLimit  float64 `yaml:"rate_limit_per_sec"`
	Burst      int     `yaml:"burst"`
}

// Config is the top-level configuration structure.
type Config struct {
	Env       Environment      `yaml:"env" env:"ENGINE_ENV"`
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Logging   LoggingConfig    `yaml:"logging"`
	Budget    BudgetConfig     `yaml:"budget"`
	Router    RouterConfig     `yaml:"router"`
	Poll      PollConfig       `yaml:"poll"`
	Queue     QueueConfig      `yaml:"queue"`
	Artifact  ArtifactConfig   `yaml:"artifact"`
	Auth      AuthConfig       `yaml:"auth"`
	Providers []ProviderConfig `yaml:"providers"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Env: Development,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Budget: BudgetConfig{
			DailyCapUSD:   50.0,
			MonthlyCapUSD: 1000.0,
			PerJobCapUSD:  5.0,
			WarnThreshold: 0.8,
		},
		Router: RouterConfig{
			ExploreRate:        0.1,
			HealthWindow:       20,
			UnhealthyThreshold: 0.5,
		},
		Poll: PollConfig{
			Interval:    15 * time.Second,
			MaxInFlight: 10,
			LeaseTTL:    2 * time.Minute,
		},
		Queue: QueueConfig{
			VisibilityTimeout: 5 * time.Minute,
			MaxAttempts:       5,
		},
		Artifact: ArtifactConfig{
			RootDir: "./data/artifacts",
		},
	}
}

// Load loads configuration from an optional file and environment overrides.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFile reads configuration from a YAML file only, skipping environment
// overrides. Used by tests and offline validation tools.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Router.ExploreRate < 0 {
		c.Router.ExploreRate = 0
	}
	if c.Router.ExploreRate > 1 {
		c.Router.ExploreRate = 1
	}
	if c.Budget.WarnThreshold <= 0 {
		c.Budget.WarnThreshold = 0.8
	}
}

// IsDevelopment reports whether the configuration targets development.
func (c *Config) IsDevelopment() bool {
	return c.Env == Development
}

// IsProduction reports whether the configuration targets production.
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate checks production-specific invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.IsProduction() && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required in production")
	}
	if c.Budget.DailyCapUSD <= 0 {
		return fmt.Errorf("budget.daily_cap_usd must be positive")
	}
	return nil
}
