package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lectorhq/docstract/internal/quality"
)

// Environment variables for pipeline configuration.
const (
	EnvVisionAPIBase   = "DOCSTRACT_VISION_API_URL" // e.g. "https://api.openai.com/v1"
	EnvVisionModel     = "DOCSTRACT_VISION_MODEL"   // e.g. "gpt-4o"
	EnvVisionAPIKey    = "DOCSTRACT_VISION_API_KEY" // API key for the vision provider
	EnvVisionTimeout   = "DOCSTRACT_VISION_TIMEOUT" // per-attempt timeout in seconds
	EnvVisionRateLimit = "DOCSTRACT_VISION_RPM"     // vision requests per minute

	EnvRetryMaxAttempts  = "DOCSTRACT_RETRY_MAX_ATTEMPTS"
	EnvRetryInitialDelay = "DOCSTRACT_RETRY_INITIAL_DELAY_MS"
	EnvRetryMaxDelay     = "DOCSTRACT_RETRY_MAX_DELAY_MS"

	EnvBreakerFailures  = "DOCSTRACT_BREAKER_FAILURES"
	EnvBreakerCooldown  = "DOCSTRACT_BREAKER_COOLDOWN_SECONDS"
	EnvBreakerSuccesses = "DOCSTRACT_BREAKER_HALF_OPEN_SUCCESSES"

	EnvBatchConcurrency = "DOCSTRACT_VISION_CONCURRENCY"
	EnvMaxFileSize      = "DOCSTRACT_MAX_FILE_SIZE" // in MB
	EnvCacheDir         = "DOCSTRACT_CACHE_DIR"
	EnvCacheEnabled     = "DOCSTRACT_CACHE_ENABLED"
	EnvCacheTTLHours    = "DOCSTRACT_CACHE_TTL_HOURS"
	EnvThresholdsFile   = "DOCSTRACT_THRESHOLDS_FILE"
)

// Default configuration values.
const (
	DefaultVisionTimeout    = 30 * time.Second
	DefaultVisionRPM        = 20
	DefaultRetryMaxAttempts = 3
	DefaultRetryInitialMS   = 1000
	DefaultRetryMaxMS       = 10000
	DefaultBreakerFailures  = 5
	DefaultBreakerCooldown  = 60 * time.Second
	DefaultBreakerSuccesses = 2
	DefaultConcurrency      = 3
	DefaultMaxFileSizeMB    = 100
	DefaultCacheTTL         = 7 * 24 * time.Hour
)

// Config holds the pipeline configuration.
type Config struct {
	// Vision service configuration
	VisionAPIBase   string
	VisionModel     string
	VisionAPIKey    string
	VisionTimeout   time.Duration
	VisionRateLimit int // requests per minute

	// Retry policy for vision calls
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// Circuit breaker tuning
	BreakerFailureThreshold  int
	BreakerOpenTimeout       time.Duration
	BreakerHalfOpenSuccesses int

	// Concurrency is the vision batch worker pool size
	Concurrency int

	// MaxFileSizeMB bounds document size
	MaxFileSizeMB int

	// Result cache
	CacheDir     string
	CacheEnabled bool
	CacheTTL     time.Duration

	// Thresholds is the quality scoring configuration
	Thresholds quality.Thresholds
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultCacheDir := filepath.Join(homeDir, ".docstract", "result-cache")

	return &Config{
		VisionTimeout:            DefaultVisionTimeout,
		VisionRateLimit:          DefaultVisionRPM,
		RetryMaxAttempts:         DefaultRetryMaxAttempts,
		RetryInitialDelay:        DefaultRetryInitialMS * time.Millisecond,
		RetryMaxDelay:            DefaultRetryMaxMS * time.Millisecond,
		BreakerFailureThreshold:  DefaultBreakerFailures,
		BreakerOpenTimeout:       DefaultBreakerCooldown,
		BreakerHalfOpenSuccesses: DefaultBreakerSuccesses,
		Concurrency:              DefaultConcurrency,
		MaxFileSizeMB:            DefaultMaxFileSizeMB,
		CacheDir:                 defaultCacheDir,
		CacheEnabled:             true,
		CacheTTL:                 DefaultCacheTTL,
		Thresholds:               quality.DefaultThresholds(),
	}
}

// LoadConfig loads configuration from environment variables on top of the
// defaults.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	cfg.VisionAPIBase = os.Getenv(EnvVisionAPIBase)
	cfg.VisionModel = os.Getenv(EnvVisionModel)
	cfg.VisionAPIKey = os.Getenv(EnvVisionAPIKey)

	if seconds := envInt(EnvVisionTimeout); seconds > 0 {
		cfg.VisionTimeout = time.Duration(seconds) * time.Second
	}
	if rpm := envInt(EnvVisionRateLimit); rpm > 0 {
		cfg.VisionRateLimit = rpm
	}

	if attempts := envInt(EnvRetryMaxAttempts); attempts > 0 {
		cfg.RetryMaxAttempts = attempts
	}
	if ms := envInt(EnvRetryInitialDelay); ms > 0 {
		cfg.RetryInitialDelay = time.Duration(ms) * time.Millisecond
	}
	if ms := envInt(EnvRetryMaxDelay); ms > 0 {
		cfg.RetryMaxDelay = time.Duration(ms) * time.Millisecond
	}

	if failures := envInt(EnvBreakerFailures); failures > 0 {
		cfg.BreakerFailureThreshold = failures
	}
	if seconds := envInt(EnvBreakerCooldown); seconds > 0 {
		cfg.BreakerOpenTimeout = time.Duration(seconds) * time.Second
	}
	if successes := envInt(EnvBreakerSuccesses); successes > 0 {
		cfg.BreakerHalfOpenSuccesses = successes
	}

	if concurrency := envInt(EnvBatchConcurrency); concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if sizeMB := envInt(EnvMaxFileSize); sizeMB > 0 {
		cfg.MaxFileSizeMB = sizeMB
	}

	if dir := os.Getenv(EnvCacheDir); dir != "" {
		cfg.CacheDir = dir
	}
	if enabled := os.Getenv(EnvCacheEnabled); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.CacheEnabled = parsed
		}
	}
	if hours := envInt(EnvCacheTTLHours); hours > 0 {
		cfg.CacheTTL = time.Duration(hours) * time.Hour
	}

	if path := os.Getenv(EnvThresholdsFile); path != "" {
		thresholds, err := quality.LoadThresholdsFile(path)
		if err != nil {
			return nil, fmt.Errorf("invalid thresholds file %s: %w", path, err)
		}
		cfg.Thresholds = thresholds
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be greater than 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("vision concurrency must be greater than 0")
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max file size must be greater than 0")
	}
	if c.CacheEnabled && c.CacheDir == "" {
		return fmt.Errorf("cache directory is required when caching is enabled")
	}
	return nil
}

// VisionConfigured reports whether the vision tier has credentials. A
// missing configuration skips tier 2 rather than failing extraction.
func (c *Config) VisionConfigured() bool {
	return c.VisionAPIBase != "" && c.VisionModel != "" && c.VisionAPIKey != ""
}

// MaxFileBytes returns the document size limit in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

func envInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
