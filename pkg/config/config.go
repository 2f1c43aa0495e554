// Package config loads typed configuration for the orchestrator from
// environment variables, an optional .env file, and an optional YAML
// overrides file.
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

// ServerConfig controls the control-plane HTTP server.
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port            int           `json:"port" yaml:"port" env:"SERVER_PORT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// UserSpec seeds a principal at startup (§6.7 admin_seed_login/admin_seed_password).
type UserSpec struct {
	Login    string `json:"login" yaml:"login"`
	Password string `json:"password" yaml:"password"`
	Role     string `json:"role" yaml:"role"`
}

// AuthConfig controls token issuance and the seed admin principal.
type AuthConfig struct {
	TokenSigningSecret string        `json:"-" yaml:"-" env:"TOKEN_SIGNING_SECRET"`
	TokenTTL           time.Duration `json:"token_ttl" yaml:"token_ttl" env:"TOKEN_TTL"`
	AdminSeedLogin     string        `json:"-" yaml:"-" env:"ADMIN_SEED_LOGIN"`
	AdminSeedPassword  string        `json:"-" yaml:"-" env:"ADMIN_SEED_PASSWORD"`
	Users              []UserSpec    `json:"users" yaml:"users"`
}

// QueueConfig controls the job queue's admission policy.
type QueueConfig struct {
	Capacity int `json:"capacity" yaml:"capacity" env:"QUEUE_CAPACITY"`
}

// WorkerConfig controls worker spawning and resource limits (§4.6).
type WorkerConfig struct {
	MaxParallelWorkers int           `json:"max_parallel_workers" yaml:"max_parallel_workers" env:"MAX_PARALLEL_WORKERS"`
	MemoryLimitBytes   int64         `json:"worker_memory_limit" yaml:"worker_memory_limit" env:"WORKER_MEMORY_LIMIT"`
	CPULimitCores      float64       `json:"worker_cpu_limit" yaml:"worker_cpu_limit" env:"WORKER_CPU_LIMIT"`
	ChunkTimeout       time.Duration `json:"chunk_timeout" yaml:"chunk_timeout" env:"CHUNK_TIMEOUT"`
	ScanTimeout        time.Duration `json:"scan_timeout" yaml:"scan_timeout" env:"SCAN_TIMEOUT"`
	DefaultChunkSize   int           `json:"default_chunk_size" yaml:"default_chunk_size" env:"DEFAULT_CHUNK_SIZE"`
	TerminationGrace   time.Duration `json:"termination_grace" yaml:"termination_grace" env:"WORKER_TERMINATION_GRACE"`
	ProfileRegistryFile string       `json:"profile_registry_file" yaml:"profile_registry_file" env:"WORKER_PROFILE_REGISTRY_FILE"`
}

// ArtifactConfig controls the shared artifact area and retention policy.
type ArtifactConfig struct {
	Root          string `json:"artifact_root" yaml:"artifact_root" env:"ARTIFACT_ROOT"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days" env:"RETENTION_DAYS"`
}

// RateLimitConfig controls per-bucket overrides for the Control API's rate
// limiter (§4.2). Zero values fall back to the named bucket's built-in
// default.
type RateLimitConfig struct {
	LoginPerMinute      int `json:"login_per_minute" yaml:"login_per_minute" env:"RATE_LIMIT_LOGIN_PER_MINUTE"`
	StartScanPerHour    int `json:"start_scan_per_hour" yaml:"start_scan_per_hour" env:"RATE_LIMIT_START_SCAN_PER_HOUR"`
	UploadPerHour       int `json:"upload_per_hour" yaml:"upload_per_hour" env:"RATE_LIMIT_UPLOAD_PER_HOUR"`
	DefaultPerMinute    int `json:"default_per_minute" yaml:"default_per_minute" env:"RATE_LIMIT_DEFAULT_PER_MINUTE"`
}

// MetricsConfig controls the Prometheus scrape listener.
type MetricsConfig struct {
	Port         int    `json:"port" yaml:"port" env:"METRICS_PORT"`
	SharedSecret string `json:"-" yaml:"-" env:"METRICS_SHARED_SECRET"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker"`
	Artifact  ArtifactConfig  `json:"artifact" yaml:"artifact"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Queue: QueueConfig{
			Capacity: 1024,
		},
		Worker: WorkerConfig{
			MaxParallelWorkers:  5,
			MemoryLimitBytes:    512 << 20,
			CPULimitCores:       0.5,
			ChunkTimeout:        8 * time.Minute,
			ScanTimeout:         30 * time.Minute,
			DefaultChunkSize:    4,
			TerminationGrace:    5 * time.Second,
			ProfileRegistryFile: "configs/worker-profiles.yaml",
		},
		Artifact: ArtifactConfig{
			Root:          "./data/artifacts",
			RetentionDays: 7,
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute:   5,
			StartScanPerHour: 10,
			UploadPerHour:    20,
			DefaultPerMinute: 100,
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// overrides file, and the process environment (which takes precedence).
// It is fatal-by-contract for the caller to proceed without a
// token_signing_secret (§6.7); Load does not enforce that itself so tests
// can exercise the loader without one, but Validate does.
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
		// envdecode errors when no tagged field is set in the environment;
		// treat that as "no overrides" so local runs work without exporting
		// every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, ignoring the environment.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
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
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// Validate enforces §6.7's "absence is fatal at startup" rule for
// token_signing_secret and sanity-checks the remaining policy knobs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.TokenSigningSecret) == "" {
		return fmt.Errorf("config: token_signing_secret is required")
	}
	if c.Worker.MaxParallelWorkers <= 0 {
		return fmt.Errorf("config: max_parallel_workers must be positive")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive")
	}
	if strings.TrimSpace(c.Artifact.Root) == "" {
		return fmt.Errorf("config: artifact_root is required")
	}
	return nil
}
