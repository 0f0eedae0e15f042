package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for testdeck-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables or the
// credential env file managed by the credentials package.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional; enables cross-instance project locks)
	Redis RedisConfig `yaml:"redis"`

	// AI session lifecycle settings
	AI AIConfig `yaml:"ai"`

	// Workspace holds generated test artifacts (feature files, step definitions).
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"testdeck"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"testdeck"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis connection settings. An empty Host disables Redis.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"5m"`
}

// AIConfig holds settings for assistants, threads and run polling.
type AIConfig struct {
	// AssistantModel is the model every project assistant is created with.
	AssistantModel string `yaml:"assistant_model" env:"AI_ASSISTANT_MODEL" env-default:"gpt-4o"`

	// BaseURL overrides the provider endpoint (useful for proxies and tests).
	BaseURL string `yaml:"base_url" env:"AI_BASE_URL" env-default:""`

	// CredentialEnvFile is the .env file holding OPENAI_API_KEY.
	CredentialEnvFile string `yaml:"credential_env_file" env:"AI_CREDENTIAL_ENV_FILE" env-default:".env"`

	MaxMessagesPerThread int `yaml:"max_messages_per_thread" env:"AI_MAX_MESSAGES_PER_THREAD" env-default:"1000"`
	ThreadsToKeep        int `yaml:"threads_to_keep" env:"AI_THREADS_TO_KEEP" env-default:"3"`

	RunPollInterval time.Duration `yaml:"run_poll_interval" env:"AI_RUN_POLL_INTERVAL" env-default:"1s"`
	RunMaxWait      time.Duration `yaml:"run_max_wait" env:"AI_RUN_MAX_WAIT" env-default:"120s"`

	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" env:"AI_CIRCUIT_BREAKER_THRESHOLD" env-default:"5"`
	CircuitBreakerReset     time.Duration `yaml:"circuit_breaker_reset" env:"AI_CIRCUIT_BREAKER_RESET" env-default:"30s"`

	// ReconcileGracePeriod is how old an unreferenced remote assistant must be
	// before the reconciliation sweep deletes it.
	ReconcileGracePeriod time.Duration `yaml:"reconcile_grace_period" env:"AI_RECONCILE_GRACE_PERIOD" env-default:"24h"`
}

// WorkspaceConfig locates project directories on disk.
type WorkspaceConfig struct {
	// Root is prepended to relative project paths.
	Root string `yaml:"root" env:"WORKSPACE_ROOT" env-default:"."`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validate rejects values that would break the thread and polling invariants.
func (c *Config) validate() error {
	if c.AI.MaxMessagesPerThread <= 0 {
		return fmt.Errorf("ai.max_messages_per_thread must be positive")
	}
	if c.AI.ThreadsToKeep <= 0 {
		return fmt.Errorf("ai.threads_to_keep must be positive")
	}
	if c.AI.RunPollInterval <= 0 || c.AI.RunMaxWait <= 0 {
		return fmt.Errorf("ai.run_poll_interval and ai.run_max_wait must be positive")
	}
	if c.AI.RunPollInterval > c.AI.RunMaxWait {
		return fmt.Errorf("ai.run_poll_interval must not exceed ai.run_max_wait")
	}
	if c.Redis.Host != "" && c.Redis.LockTTL <= c.AI.RunMaxWait {
		return fmt.Errorf("redis.lock_ttl must exceed ai.run_max_wait")
	}
	return nil
}

// ResolveProjectPath joins a project's stored path onto the workspace root.
// Absolute project paths are returned unchanged.
func (w *WorkspaceConfig) ResolveProjectPath(projectPath string) string {
	if filepath.IsAbs(projectPath) {
		return filepath.Clean(projectPath)
	}
	return filepath.Join(w.Root, projectPath)
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form (required by golang-migrate).
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
