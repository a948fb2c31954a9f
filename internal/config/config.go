package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Validator ValidatorConfig `yaml:"validator"`
	Grader    GraderConfig    `yaml:"grader"`
	Queue     QueueConfig     `yaml:"queue"`
	Database  DatabaseConfig  `yaml:"database"`
	Problems  ProblemConfig   `yaml:"problems"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Security  SecurityConfig  `yaml:"security"`
}

// ProblemConfig locates problem definitions and their datasets on disk.
type ProblemConfig struct {
	Dir         string `yaml:"dir"`
	DatasetRoot string `yaml:"dataset_root"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type SandboxConfig struct {
	MemoryLimitMB int           `yaml:"memory_limit_mb"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	MaxResultRows int           `yaml:"max_result_rows"`
	MaxSandboxes  int           `yaml:"max_sandboxes"`
	MaxTables     int           `yaml:"max_tables"`
	StagingDir    string        `yaml:"staging_dir"`
}

type ValidatorConfig struct {
	MaxQueryLength int `yaml:"max_query_length"`
}

type GraderConfig struct {
	NumericEpsilon  float64 `yaml:"numeric_epsilon"`
	MaxDiffRows     int     `yaml:"max_diff_rows"`
	PerturbFraction float64 `yaml:"perturb_fraction"`
	PerturbEnabled  bool    `yaml:"perturb_enabled"`
}

type QueueConfig struct {
	RedisAddr       string        `yaml:"redis_addr"`
	RedisDB         int           `yaml:"redis_db"`
	ResultTTL       time.Duration `yaml:"result_ttl"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	Workers         int           `yaml:"workers"`
	RecoveryLockTTL time.Duration `yaml:"recovery_lock_ttl"`
	// StaleAfter is how long a claimed job may sit in the processing list
	// before recovery treats its worker as dead and requeues the job.
	StaleAfter time.Duration `yaml:"stale_after"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SecurityConfig struct {
	APIKeyHeader   string        `yaml:"api_key_header"`
	AllowedKeys    []string      `yaml:"allowed_keys"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	TestCacheTTL   time.Duration `yaml:"test_cache_ttl"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > max query timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Sandbox: SandboxConfig{
			MemoryLimitMB: 128,
			QueryTimeout:  30 * time.Second,
			MaxResultRows: 1000,
			MaxSandboxes:  50,
			MaxTables:     20,
			StagingDir:    os.TempDir(),
		},
		Validator: ValidatorConfig{
			MaxQueryLength: 10000,
		},
		Grader: GraderConfig{
			NumericEpsilon:  1e-6,
			MaxDiffRows:     5,
			PerturbFraction: 0.015,
			PerturbEnabled:  true,
		},
		Queue: QueueConfig{
			RedisAddr:       "localhost:6379",
			ResultTTL:       5 * time.Minute,
			PollTimeout:     2 * time.Second,
			Workers:         4,
			RecoveryLockTTL: 30 * time.Second,
			StaleAfter:      2 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Problems: ProblemConfig{
			Dir:         "problems",
			DatasetRoot: "data",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
			TestCacheTTL:   2 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Sandbox.MemoryLimitMB < 16 {
		return fmt.Errorf("sandbox.memory_limit_mb must be >= 16, got %d", c.Sandbox.MemoryLimitMB)
	}
	if c.Sandbox.QueryTimeout <= 0 {
		return fmt.Errorf("sandbox.query_timeout must be positive")
	}
	if c.Sandbox.MaxResultRows < 1 {
		return fmt.Errorf("sandbox.max_result_rows must be >= 1")
	}
	if c.Sandbox.MaxSandboxes < 1 {
		return fmt.Errorf("sandbox.max_sandboxes must be >= 1")
	}
	if c.Sandbox.MaxTables < 1 {
		return fmt.Errorf("sandbox.max_tables must be >= 1")
	}
	if c.Validator.MaxQueryLength < 1 {
		return fmt.Errorf("validator.max_query_length must be >= 1")
	}
	if c.Grader.NumericEpsilon < 0 {
		return fmt.Errorf("grader.numeric_epsilon must be >= 0")
	}
	if c.Grader.PerturbFraction <= 0 || c.Grader.PerturbFraction >= 1 {
		return fmt.Errorf("grader.perturb_fraction must be in (0, 1), got %g", c.Grader.PerturbFraction)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be >= 1")
	}
	if c.Queue.ResultTTL <= 0 {
		return fmt.Errorf("queue.result_ttl must be positive")
	}
	if c.Queue.PollTimeout <= 0 {
		return fmt.Errorf("queue.poll_timeout must be positive")
	}
	if c.Queue.StaleAfter <= 0 {
		return fmt.Errorf("queue.stale_after must be positive")
	}
	if c.Queue.StaleAfter <= c.Sandbox.QueryTimeout {
		return fmt.Errorf("queue.stale_after must exceed sandbox.query_timeout, got %s <= %s",
			c.Queue.StaleAfter, c.Sandbox.QueryTimeout)
	}
	if c.Problems.Dir == "" {
		return fmt.Errorf("problems.dir must not be empty")
	}
	if c.Problems.DatasetRoot == "" {
		return fmt.Errorf("problems.dataset_root must not be empty")
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
