package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Provider   ProviderConfig         `yaml:"provider"`
	Paths      PathsConfig            `yaml:"paths"`
	RateLimit  RateLimitConfig        `yaml:"rate_limit"`
	Processing ProcessingConfig       `yaml:"processing"`
	Batch      BatchConfig            `yaml:"batch"`
	Logging    LoggingConfig          `yaml:"logging"`
	Metrics    MetricsConfig          `yaml:"metrics"`
	Pricing    map[string]PriceConfig `yaml:"pricing,omitempty"`

	// Secrets, read from the environment only
	OpenAIAPIKey string `yaml:"-"`
}

// ProviderConfig selects the transcription provider and model
type ProviderConfig struct {
	Name            string  `yaml:"name"` // openai|vertex
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url,omitempty"`
	Project         string  `yaml:"project,omitempty"`
	Location        string  `yaml:"location,omitempty"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// PathsConfig holds input and output locations
type PathsConfig struct {
	InputDir   string `yaml:"input_dir"`
	OutputDir  string `yaml:"output_dir"`
	StateFile  string `yaml:"state_file"`
	PromptFile string `yaml:"prompt_file"`
	SchemaFile string `yaml:"schema_file"`
	BatchDir   string `yaml:"batch_dir"`
	JobsFile   string `yaml:"jobs_file"`
}

// RateLimitConfig holds the provider budgets
type RateLimitConfig struct {
	RequestsPerMinute         int `yaml:"requests_per_minute"`
	TokensPerMinute           int `yaml:"tokens_per_minute"`
	EstimatedTokensPerRequest int `yaml:"estimated_tokens_per_request"`
	TokensPerPage             int `yaml:"tokens_per_page"`
}

// ProcessingConfig controls the realtime worker pool
type ProcessingConfig struct {
	Workers                int     `yaml:"workers"` // 0 derives from the token budget
	BatchSize              int     `yaml:"batch_size"`
	CheckpointInterval     int     `yaml:"checkpoint_interval"`
	CheckpointRetention    int     `yaml:"checkpoint_retention"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	MaxRetries             int     `yaml:"max_retries"`
	BaseDelay              string  `yaml:"base_delay"`
	MaxDelay               string  `yaml:"max_delay"`
	Resume                 bool    `yaml:"resume"`
	RequireSchema          bool    `yaml:"require_schema"`
	PromptVersion          string  `yaml:"prompt_version"`
}

// BatchConfig controls the provider batch API path
type BatchConfig struct {
	MaxRequestsPerFile int    `yaml:"max_requests_per_file"`
	PollInterval       string `yaml:"poll_interval"`
	Timeout            string `yaml:"timeout"`
	CompletionWindow   string `yaml:"completion_window"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the Prometheus exporter
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// PriceConfig is a per-model price override in dollars per million tokens
type PriceConfig struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

const (
	MinWorkers = 1
	MaxWorkers = 32
)

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:            "openai",
			Model:           "gpt-4o",
			Location:        "us-central1",
			Temperature:     0.1,
			MaxOutputTokens: 16000,
		},
		Paths: PathsConfig{
			InputDir:   "documents",
			OutputDir:  "output/transcripts",
			StateFile:  "output/processing_state.json",
			PromptFile: "prompts/transcription_v1.txt",
			SchemaFile: "schemas/transcript_v1.json",
			BatchDir:   "output/batches",
			JobsFile:   "output/batches/batch_jobs.json",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute:         500,
			TokensPerMinute:           30000,
			EstimatedTokensPerRequest: 4000,
			TokensPerPage:             1000,
		},
		Processing: ProcessingConfig{
			Workers:                0,
			BatchSize:              50,
			CheckpointInterval:     100,
			CheckpointRetention:    5,
			LowConfidenceThreshold: 0.75,
			MaxRetries:             5,
			BaseDelay:              "2s",
			MaxDelay:               "60s",
			Resume:                 true,
			RequireSchema:          false,
			PromptVersion:          "v1",
		},
		Batch: BatchConfig{
			MaxRequestsPerFile: 50000,
			PollInterval:       "60s",
			Timeout:            "24h",
			CompletionWindow:   "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
	}
}

// AppDir returns the application directory (~/.docscribe)
func AppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docscribe"
	}
	return filepath.Join(home, ".docscribe")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(AppDir(), "config.yaml")
}

// EnsureDirs creates the output directories named by the config
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Paths.OutputDir,
		filepath.Dir(c.Paths.StateFile),
		c.Paths.BatchDir,
		filepath.Dir(c.Paths.JobsFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads config from file, returns default if not exists.
// Environment variables are applied on top; a .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		c.Provider.Project = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" {
		c.Provider.Location = v
	}
	if v := os.Getenv("DOCSCRIBE_PROVIDER"); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv("DOCSCRIBE_MODEL"); v != "" {
		c.Provider.Model = v
	}
}

// Save writes config to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks value ranges and duration formats
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "openai", "vertex":
	default:
		return fmt.Errorf("unknown provider: %q (use openai or vertex)", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return errors.New("provider.model is required")
	}
	if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.TokensPerMinute <= 0 {
		return errors.New("rate_limit budgets must be positive")
	}
	if c.RateLimit.EstimatedTokensPerRequest <= 0 {
		return errors.New("rate_limit.estimated_tokens_per_request must be positive")
	}
	if c.Processing.BatchSize <= 0 {
		return errors.New("processing.batch_size must be positive")
	}
	if c.Processing.Workers < 0 || c.Processing.Workers > MaxWorkers {
		return fmt.Errorf("processing.workers must be between 0 and %d", MaxWorkers)
	}
	if c.Processing.CheckpointInterval <= 0 {
		return errors.New("processing.checkpoint_interval must be positive")
	}
	if t := c.Processing.LowConfidenceThreshold; t < 0 || t > 1 {
		return errors.New("processing.low_confidence_threshold must be in [0, 1]")
	}
	if c.Processing.MaxRetries < 1 {
		return errors.New("processing.max_retries must be at least 1")
	}
	if c.Batch.MaxRequestsPerFile <= 0 {
		return errors.New("batch.max_requests_per_file must be positive")
	}

	durations := map[string]string{
		"processing.base_delay":   c.Processing.BaseDelay,
		"processing.max_delay":    c.Processing.MaxDelay,
		"batch.poll_interval":     c.Batch.PollInterval,
		"batch.timeout":           c.Batch.Timeout,
		"batch.completion_window": c.Batch.CompletionWindow,
	}
	for key, value := range durations {
		if _, err := ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// EffectiveWorkers returns the configured worker count, or one derived from
// the token budget when unset
func (c *Config) EffectiveWorkers() int {
	if c.Processing.Workers > 0 {
		return c.Processing.Workers
	}
	if c.RateLimit.EstimatedTokensPerRequest <= 0 {
		return MinWorkers
	}
	n := c.RateLimit.TokensPerMinute / c.RateLimit.EstimatedTokensPerRequest
	return min(max(n, MinWorkers), MaxWorkers)
}

// BaseDelay returns the first retry delay
func (c *Config) BaseDelay() time.Duration {
	return c.durationOr(c.Processing.BaseDelay, 2*time.Second)
}

// MaxDelay returns the retry delay cap
func (c *Config) MaxDelay() time.Duration {
	return c.durationOr(c.Processing.MaxDelay, time.Minute)
}

// PollInterval returns the batch poll interval
func (c *Config) PollInterval() time.Duration {
	return c.durationOr(c.Batch.PollInterval, time.Minute)
}

// PollTimeout returns the batch poll timeout
func (c *Config) PollTimeout() time.Duration {
	return c.durationOr(c.Batch.Timeout, 24*time.Hour)
}

func (c *Config) durationOr(s string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

var durationPattern = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

// ParseDuration parses duration strings like "30s", "15m", "24h", "7d"
func ParseDuration(s string) (time.Duration, error) {
	matches := durationPattern.FindStringSubmatch(s)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid duration format: %s (use format like 30s, 15m, 24h, 7d)", s)
	}

	value, _ := strconv.Atoi(matches[1])
	unit := matches[2]

	switch unit {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration unit: %s", unit)
	}
}
