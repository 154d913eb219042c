// Package config provides centralized configuration management for the data lake's
// components. Configuration loads from multiple sources (a JSON file, a .env file via
// godotenv, environment variables) in ascending priority, validation, and typed
// configuration structures for each component.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"log/slog"

	"github.com/joho/godotenv"
)

// AppConfig represents the complete application configuration.
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" env:"APP_NAME"`
	Version    string `json:"version" env:"VERSION"`
	ConfigPath string `json:"-" env:"CONFIG_PATH"`

	// Lake configuration (C1/C2/C3/C4)
	Lake LakeConfig `json:"lake"`

	// Exchange configuration (C5)
	Exchange ExchangeConfig `json:"exchange"`

	// Ingest configuration (C6/C7/C8)
	Ingest IngestConfig `json:"ingest"`

	// HTTP API configuration (§6 REST adapter)
	HTTP HTTPConfig `json:"http"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics"`

	// Error handling configuration
	ErrorHandling ErrorHandlingConfig `json:"error_handling"`
}

// LakeConfig configures the on-disk partitioned store and its manifest catalog.
type LakeConfig struct {
	DataRoot     string `json:"data_root" env:"DATA_ROOT"`         // root of the partitioned Parquet tree (C1)
	ManifestPath string `json:"manifest_path" env:"MANIFEST_PATH"` // SQLite manifest file (C4)
	ChecksumAlgo string `json:"checksum_algo" env:"CHECKSUM_ALGO"` // currently always "sha256"
}

// ExchangeConfig configures the exchange connector registry (C5).
type ExchangeConfig struct {
	Default     string                 `json:"default" env:"EXCHANGE_DEFAULT"` // default exchange for CLI commands that omit --exchange
	APIKey      string                 `json:"api_key" env:"API_KEY"`
	APISecret   string                 `json:"api_secret" env:"API_SECRET"`
	Sandbox     bool                   `json:"sandbox" env:"SANDBOX"`
	RateLimit   int                    `json:"rate_limit" env:"RATE_LIMIT"` // requests per second, token-bucket rate (golang.org/x/time/rate)
	Timeout     string                 `json:"timeout" env:"HTTP_TIMEOUT"`
	RetryPolicy RetryPolicyConfig      `json:"retry_policy"`
	Exchanges   map[string]interface{} `json:"exchanges"`
}

// IngestConfig configures the pipeline and its task supervisor (C6/C7/C8).
type IngestConfig struct {
	WorkerCount   int    `json:"worker_count" env:"WORKER_COUNT"`   // bounded pool size, default 4
	FetchLimit    int    `json:"fetch_limit" env:"FETCH_LIMIT"`     // candles per exchange page
	ChunkRows     int    `json:"chunk_rows" env:"CHUNK_ROWS"`       // CSV ingest chunk size, default 250,000
	RetryAttempts int    `json:"retry_attempts" env:"RETRY_ATTEMPTS"`
	JobTimeout    string `json:"job_timeout" env:"JOB_TIMEOUT"`
}

// HTTPConfig configures the REST adapter's listener.
type HTTPConfig struct {
	Enabled bool   `json:"enabled" env:"HTTP_ENABLED"`
	Addr    string `json:"addr" env:"HTTP_ADDR"`
}

// LoggingConfig configures structured logging output and rotation.
type LoggingConfig struct {
	Level         string            `json:"level" env:"LOG_LEVEL"`             // debug, info, warn, error
	Format        string            `json:"format" env:"LOG_FORMAT"`           // json, text
	Output        string            `json:"output" env:"LOG_OUTPUT"`           // stdout, stderr, file
	FilePath      string            `json:"file_path" env:"LOG_FILE_PATH"`
	MaxSize       int               `json:"max_size" env:"LOG_MAX_SIZE"`       // MB, lumberjack rotation threshold
	MaxBackups    int               `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAge        int               `json:"max_age" env:"LOG_MAX_AGE"`         // days
	Compress      bool              `json:"compress" env:"LOG_COMPRESS"`
	ContextFields map[string]string `json:"context_fields"`
}

// MetricsConfig configures the metrics/health HTTP sidecar.
type MetricsConfig struct {
	Enabled        bool     `json:"enabled" env:"METRICS_ENABLED"`
	Port           int      `json:"port" env:"METRICS_PORT"`
	Path           string   `json:"path" env:"METRICS_PATH"`
	UpdateInterval string   `json:"update_interval" env:"METRICS_UPDATE_INTERVAL"`
	EnabledMetrics []string `json:"enabled_metrics" env:"ENABLED_METRICS"`
}

// ErrorHandlingConfig configures retry/circuit-breaker defaults shared across components.
type ErrorHandlingConfig struct {
	GlobalRetryPolicy    RetryPolicyConfig            `json:"global_retry_policy"`
	ComponentPolicies    map[string]RetryPolicyConfig  `json:"component_policies"`
	FallbackBehavior     string                        `json:"fallback_behavior" env:"FALLBACK_BEHAVIOR"`
	EnableCircuitBreaker bool                          `json:"enable_circuit_breaker" env:"ENABLE_CIRCUIT_BREAKER"`
	CircuitBreakerConfig CircuitBreakerConfig          `json:"circuit_breaker_config"`
}

// RetryPolicyConfig configures cenkalti/backoff/v4's retry behavior for one component.
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts"`
	InitialDelay    string   `json:"initial_delay"`
	MaxDelay        string   `json:"max_delay"`
	BackoffStrategy string   `json:"backoff_strategy"` // fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors"`
	Jitter          bool     `json:"jitter"`
}

// CircuitBreakerConfig configures the trip/recovery thresholds for a component.
type CircuitBreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold"`
	RecoveryTimeout  string `json:"recovery_timeout"`
	HalfOpenRequests int    `json:"half_open_requests"`
}

// ConfigManager loads, validates, and watches the application configuration.
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
	watchers   []ConfigWatcher
	reloadChan chan struct{}
}

// ConfigWatcher is notified whenever the configuration is reloaded.
type ConfigWatcher interface {
	OnConfigUpdate(ctx context.Context, config *AppConfig) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
		reloadChan: make(chan struct{}, 1),
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority, including a .env file if present)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// godotenv populates os.Getenv for keys not already set in the process
	// environment; a missing .env file is not an error.
	_ = godotenv.Load()

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"data_root", config.Lake.DataRoot,
		"exchange_default", config.Exchange.Default,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file.
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv overlays environment variables onto config.
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("VERSION"); val != "" {
		config.Version = val
	}

	if val := os.Getenv("DATA_ROOT"); val != "" {
		config.Lake.DataRoot = val
	}
	if val := os.Getenv("MANIFEST_PATH"); val != "" {
		config.Lake.ManifestPath = val
	}

	if val := os.Getenv("EXCHANGE_DEFAULT"); val != "" {
		config.Exchange.Default = val
	}
	if val := os.Getenv("API_KEY"); val != "" {
		config.Exchange.APIKey = val
	}
	if val := os.Getenv("API_SECRET"); val != "" {
		config.Exchange.APISecret = val
	}
	if val := os.Getenv("SANDBOX"); val != "" {
		config.Exchange.Sandbox = val == "true"
	}
	if val := os.Getenv("RATE_LIMIT"); val != "" {
		if rateLimit, err := strconv.Atoi(val); err == nil {
			config.Exchange.RateLimit = rateLimit
		}
	}

	if val := os.Getenv("WORKER_COUNT"); val != "" {
		if workerCount, err := strconv.Atoi(val); err == nil {
			config.Ingest.WorkerCount = workerCount
		}
	}
	if val := os.Getenv("FETCH_LIMIT"); val != "" {
		if fetchLimit, err := strconv.Atoi(val); err == nil {
			config.Ingest.FetchLimit = fetchLimit
		}
	}
	if val := os.Getenv("CHUNK_ROWS"); val != "" {
		if chunkRows, err := strconv.Atoi(val); err == nil {
			config.Ingest.ChunkRows = chunkRows
		}
	}
	if val := os.Getenv("RETRY_ATTEMPTS"); val != "" {
		if retryAttempts, err := strconv.Atoi(val); err == nil {
			config.Ingest.RetryAttempts = retryAttempts
		}
	}

	if val := os.Getenv("HTTP_ENABLED"); val != "" {
		config.HTTP.Enabled = val == "true"
	}
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		config.HTTP.Addr = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		config.Metrics.Enabled = val == "true"
	}
	if val := os.Getenv("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Metrics.Port = port
		}
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields.
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errs []string

	if config.Lake.DataRoot == "" {
		errs = append(errs, "lake.data_root is required")
	}
	if config.Lake.ManifestPath == "" {
		errs = append(errs, "lake.manifest_path is required")
	}

	if config.Exchange.RateLimit <= 0 {
		errs = append(errs, "exchange.rate_limit must be greater than 0")
	}

	if config.Ingest.WorkerCount <= 0 {
		errs = append(errs, "ingest.worker_count must be greater than 0")
	}
	if config.Ingest.FetchLimit <= 0 {
		errs = append(errs, "ingest.fetch_limit must be greater than 0")
	}
	if config.Ingest.ChunkRows <= 0 {
		errs = append(errs, "ingest.chunk_rows must be greater than 0")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if config.Metrics.Enabled {
		if config.Metrics.Port <= 0 || config.Metrics.Port > 65535 {
			errs = append(errs, "metrics.port must be between 1 and 65535")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration.
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// RegisterWatcher registers a component to be notified of configuration changes.
func (cm *ConfigManager) RegisterWatcher(watcher ConfigWatcher) {
	cm.watchers = append(cm.watchers, watcher)
}

// NotifyWatchers notifies all registered watchers of configuration changes.
func (cm *ConfigManager) NotifyWatchers(ctx context.Context) error {
	for _, watcher := range cm.watchers {
		if err := watcher.OnConfigUpdate(ctx, cm.config); err != nil {
			cm.logger.Error("watcher failed to handle config update", "error", err)
			return fmt.Errorf("config update notification failed: %w", err)
		}
	}
	return nil
}

// SaveConfig saves the current configuration to the config file.
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "ohlcv-lake",
		Version: "1.0.0",
		Lake: LakeConfig{
			DataRoot:     "./data/lake",
			ManifestPath: "./data/lake/manifest.db",
			ChecksumAlgo: "sha256",
		},
		Exchange: ExchangeConfig{
			Default:   "coinbase",
			Sandbox:   false,
			RateLimit: 10,
			Timeout:   "30s",
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "1s",
				MaxDelay:        "30s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"timeout", "rate_limit", "server_error"},
				Jitter:          true,
			},
			Exchanges: make(map[string]interface{}),
		},
		Ingest: IngestConfig{
			WorkerCount:   4,
			FetchLimit:    1000,
			ChunkRows:     250_000,
			RetryAttempts: 3,
			JobTimeout:    "30m",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			ContextFields: map[string]string{
				"service": "ohlcv-lake",
				"version": "1.0.0",
			},
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Port:           9090,
			Path:           "/metrics",
			UpdateInterval: "30s",
			EnabledMetrics: []string{"partitions_written", "rows_ingested", "tasks_completed", "error_counts"},
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "1s",
				MaxDelay:        "60s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"timeout", "connection_error", "temporary_failure"},
				Jitter:          true,
			},
			ComponentPolicies:    make(map[string]RetryPolicyConfig),
			FallbackBehavior:     "log_and_continue",
			EnableCircuitBreaker: true,
			CircuitBreakerConfig: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  "30s",
				HalfOpenRequests: 3,
			},
		},
	}
}

// GetLakeConfig returns lake-specific configuration.
func (c *AppConfig) GetLakeConfig() LakeConfig {
	return c.Lake
}

// GetExchangeConfig returns exchange-specific configuration.
func (c *AppConfig) GetExchangeConfig() ExchangeConfig {
	return c.Exchange
}

// GetIngestConfig returns ingest-specific configuration.
func (c *AppConfig) GetIngestConfig() IngestConfig {
	return c.Ingest
}

// GetLoggingConfig returns logging-specific configuration.
func (c *AppConfig) GetLoggingConfig() LoggingConfig {
	return c.Logging
}

// GetMetricsConfig returns metrics-specific configuration.
func (c *AppConfig) GetMetricsConfig() MetricsConfig {
	return c.Metrics
}

// GetErrorHandlingConfig returns error handling configuration.
func (c *AppConfig) GetErrorHandlingConfig() ErrorHandlingConfig {
	return c.ErrorHandling
}

// String returns a string representation of the configuration, redacting credentials.
func (c *AppConfig) String() string {
	sanitized := *c
	sanitized.Exchange.APIKey = "[REDACTED]"
	sanitized.Exchange.APISecret = "[REDACTED]"

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
