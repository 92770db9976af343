// Package config loads the orchestrator's configuration from a YAML file
// (if present) and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RegistryConfig controls the Template Registry (C1).
type RegistryConfig struct {
	Directories      []string      `json:"directories" yaml:"directories"`
	DebounceInterval time.Duration `json:"debounce_interval" yaml:"debounce_interval" env:"REGISTRY_DEBOUNCE"`
	ValidationTTL    time.Duration `json:"validation_ttl" yaml:"validation_ttl" env:"REGISTRY_VALIDATION_TTL"`
	CacheSize        int           `json:"cache_size" yaml:"cache_size" env:"REGISTRY_CACHE_SIZE"`
}

// LedgerConfig controls the Resource Ledger (C2).
type LedgerConfig struct {
	TotalCPUCores int     `json:"total_cpu_cores" yaml:"total_cpu_cores" env:"LEDGER_TOTAL_CPU_CORES"`
	TotalMemoryGB float64 `json:"total_memory_gb" yaml:"total_memory_gb" env:"LEDGER_TOTAL_MEMORY_GB"`
	TotalVRAMGB   float64 `json:"total_vram_gb" yaml:"total_vram_gb" env:"LEDGER_TOTAL_VRAM_GB"`
	TotalGPUCount int     `json:"total_gpu_count" yaml:"total_gpu_count" env:"LEDGER_TOTAL_GPU_COUNT"`
}

// PoolConfig controls the Worker Pool Manager (C6).
type PoolConfig struct {
	MinWorkers          int           `json:"min_workers" yaml:"min_workers" env:"POOL_MIN_WORKERS"`
	MaxWorkers          int           `json:"max_workers" yaml:"max_workers" env:"POOL_MAX_WORKERS"`
	ScaleUpThreshold    int           `json:"scale_up_threshold" yaml:"scale_up_threshold" env:"POOL_SCALE_UP_THRESHOLD"`
	ScaleDownThreshold  int           `json:"scale_down_threshold" yaml:"scale_down_threshold" env:"POOL_SCALE_DOWN_THRESHOLD"`
	IdleTimeout         time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"POOL_IDLE_TIMEOUT"`
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval" env:"POOL_HEALTH_CHECK_INTERVAL"`
	ScalingInterval     time.Duration `json:"scaling_interval" yaml:"scaling_interval" env:"POOL_SCALING_INTERVAL"`
}

// ProgressConfig controls the Progress Tracker (C5).
type ProgressConfig struct {
	RecordTTL    time.Duration `json:"record_ttl" yaml:"record_ttl" env:"PROGRESS_RECORD_TTL"`
	LogCap       int           `json:"log_cap" yaml:"log_cap" env:"PROGRESS_LOG_CAP"`
	ETACacheTTL  time.Duration `json:"eta_cache_ttl" yaml:"eta_cache_ttl" env:"PROGRESS_ETA_CACHE_TTL"`
	HistoryCount int           `json:"history_count" yaml:"history_count" env:"PROGRESS_HISTORY_COUNT"`
	HistoryTTL   time.Duration `json:"history_ttl" yaml:"history_ttl" env:"PROGRESS_HISTORY_TTL"`
}

// RecoveryConfig controls the Recovery Manager (C7).
type RecoveryConfig struct {
	BaseDelay       time.Duration `json:"base_delay" yaml:"base_delay" env:"RECOVERY_BASE_DELAY"`
	MaxDelay        time.Duration `json:"max_delay" yaml:"max_delay" env:"RECOVERY_MAX_DELAY"`
	Jitter          float64       `json:"jitter" yaml:"jitter" env:"RECOVERY_JITTER"`
	DefaultMaxRetry int           `json:"default_max_retry" yaml:"default_max_retry" env:"RECOVERY_DEFAULT_MAX_RETRY"`
	WaitTime        time.Duration `json:"wait_time" yaml:"wait_time" env:"RECOVERY_WAIT_TIME"`
	GuardWindow     time.Duration `json:"guard_window" yaml:"guard_window" env:"RECOVERY_GUARD_WINDOW"`
	GuardMaxErrors  int           `json:"guard_max_errors" yaml:"guard_max_errors" env:"RECOVERY_GUARD_MAX_ERRORS"`
}

// AnalyticsConfig controls Error Analytics (C10).
type AnalyticsConfig struct {
	WindowSize     int     `json:"window_size" yaml:"window_size" env:"ANALYTICS_WINDOW_SIZE"`
	CriticalErrors int     `json:"critical_errors" yaml:"critical_errors" env:"ANALYTICS_CRITICAL_ERRORS"`
	HighErrorRate  float64 `json:"high_error_rate" yaml:"high_error_rate" env:"ANALYTICS_HIGH_ERROR_RATE"`
	FrequentError  int     `json:"frequent_error" yaml:"frequent_error" env:"ANALYTICS_FREQUENT_ERROR"`
	BaselineRate   float64 `json:"baseline_rate" yaml:"baseline_rate" env:"ANALYTICS_BASELINE_RATE"`
	SpikeFactor    float64 `json:"spike_factor" yaml:"spike_factor" env:"ANALYTICS_SPIKE_FACTOR"`
}

// SelfHealingConfig controls the Self-Healing Loop (C9).
type SelfHealingConfig struct {
	Interval           time.Duration `json:"interval" yaml:"interval" env:"SELFHEAL_INTERVAL"`
	CPUPressure        float64       `json:"cpu_pressure" yaml:"cpu_pressure" env:"SELFHEAL_CPU_PRESSURE"`
	MemoryPressure     float64       `json:"memory_pressure" yaml:"memory_pressure" env:"SELFHEAL_MEMORY_PRESSURE"`
	DiskPressure       float64       `json:"disk_pressure" yaml:"disk_pressure" env:"SELFHEAL_DISK_PRESSURE"`
	WorkspacePressure  float64       `json:"workspace_pressure" yaml:"workspace_pressure" env:"SELFHEAL_WORKSPACE_PRESSURE"`
	BacklogWindowSecs  int           `json:"backlog_window_secs" yaml:"backlog_window_secs" env:"SELFHEAL_BACKLOG_WINDOW_SECS"`
}

// LoggingConfig controls application-wide logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// MetricsConfig controls the Prometheus metrics surface.
type MetricsConfig struct {
	ServiceName string `json:"service_name" yaml:"service_name" env:"METRICS_SERVICE_NAME"`
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
}

// StateConfig controls the shared state store backend (C5/C6 persistence).
type StateConfig struct {
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" env:"STATE_REDIS_ADDR"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db" env:"STATE_REDIS_DB"`
}

// Config is the top-level orchestrator configuration.
type Config struct {
	Registry    RegistryConfig    `json:"registry" yaml:"registry"`
	Ledger      LedgerConfig      `json:"ledger" yaml:"ledger"`
	Pool        PoolConfig        `json:"pool" yaml:"pool"`
	Progress    ProgressConfig    `json:"progress" yaml:"progress"`
	Recovery    RecoveryConfig    `json:"recovery" yaml:"recovery"`
	Analytics   AnalyticsConfig   `json:"analytics" yaml:"analytics"`
	SelfHealing SelfHealingConfig `json:"self_healing" yaml:"self_healing"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	State       StateConfig       `json:"state" yaml:"state"`
}

// New returns a Config populated with this service's stated defaults.
func New() *Config {
	return &Config{
		Registry: RegistryConfig{
			Directories:      []string{"templates"},
			DebounceInterval: time.Second,
			ValidationTTL:    10 * time.Minute,
			CacheSize:        512,
		},
		Ledger: LedgerConfig{
			TotalCPUCores: 8,
			TotalMemoryGB: 32,
			TotalVRAMGB:   24,
			TotalGPUCount: 1,
		},
		Pool: PoolConfig{
			MinWorkers:          1,
			MaxWorkers:          10,
			ScaleUpThreshold:    5,
			ScaleDownThreshold:  0,
			IdleTimeout:         300 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			ScalingInterval:     10 * time.Second,
		},
		Progress: ProgressConfig{
			RecordTTL:    24 * time.Hour,
			LogCap:       1000,
			ETACacheTTL:  time.Hour,
			HistoryCount: 100,
			HistoryTTL:   7 * 24 * time.Hour,
		},
		Recovery: RecoveryConfig{
			BaseDelay:       time.Second,
			MaxDelay:        60 * time.Second,
			Jitter:          0.1,
			DefaultMaxRetry: 3,
			WaitTime:        300 * time.Second,
			GuardWindow:     5 * time.Minute,
			GuardMaxErrors:  5,
		},
		Analytics: AnalyticsConfig{
			WindowSize:     1000,
			CriticalErrors: 3,
			HighErrorRate:  0.1,
			FrequentError:  10,
			BaselineRate:   0.05,
			SpikeFactor:    2.0,
		},
		SelfHealing: SelfHealingConfig{
			Interval:          60 * time.Second,
			CPUPressure:       0.90,
			MemoryPressure:    0.90,
			DiskPressure:      0.95,
			WorkspacePressure: 0.90,
			BacklogWindowSecs: 300,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{ServiceName: "orchestrator", Enabled: true},
		State:   StateConfig{RedisAddr: "", RedisDB: 0},
	}
}

// Load loads configuration from an optional YAML file (CONFIG_FILE env var
// or "configs/orchestrator.yaml" by default) and then applies environment
// variable overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/orchestrator.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile loads configuration from the named YAML file only (no env
// overrides); primarily used by tests and admin tooling.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
