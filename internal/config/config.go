package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hession/pepper/internal/logger"
	"github.com/hession/pepper/internal/memory"
	"gopkg.in/yaml.v3"
)

var (
	// configDir is the configuration directory path
	// Can be set via SetConfigDir before loading config
	configDir     string
	configDirInit bool
)

// SetConfigDir sets a custom configuration directory
// Must be called before any config loading functions
func SetConfigDir(dir string) {
	configDir = dir
	configDirInit = true
}

// GetConfigDir returns the configuration directory
// Priority: 1. Manually set via SetConfigDir, 2. ./config in current directory
func GetConfigDir() string {
	if !configDirInit {
		// Default to ./config in current working directory
		cwd, err := os.Getwd()
		if err == nil {
			configDir = filepath.Join(cwd, "config")
		}
		configDirInit = true
	}
	return configDir
}

// Config application configuration structure
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Memory MemoryConfig `yaml:"memory"`
	Log    LogConfig    `yaml:"log"`
}

// ModelConfig LLM model configuration
type ModelConfig struct {
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"` // 0 leaves the provider default
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
}

// MemoryConfig memory storage configuration
type MemoryConfig struct {
	Dir                  string  `yaml:"dir"`
	Backend              string  `yaml:"backend"`
	RecallMessages       int     `yaml:"recall_messages"`
	RecallDays           int     `yaml:"recall_days"`
	SummaryMaxChars      int     `yaml:"summary_max_chars"`
	SummaryBatchMessages int     `yaml:"summary_batch_messages"`
	AutoSummarizeEvery   int     `yaml:"auto_summarize_every"` // 0 disables
	SummaryTemperature   float64 `yaml:"summary_temperature"`
}

// LogConfig logging configuration
type LogConfig struct {
	Level   string `yaml:"level"`
	MaxDays int    `yaml:"max_days"`
	Console bool   `yaml:"console"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Model: ModelConfig{
			APIKey:         "",
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4.1-mini",
			Temperature:    0.4,
			MaxTokens:      0,
			TimeoutSeconds: 120,
			MaxRetries:     2,
		},
		Memory: MemoryConfig{
			Dir:                  filepath.Join(homeDir, ".pepper", "memory"),
			Backend:              memory.BackendJSONL,
			RecallMessages:       memory.DefaultRecallMessages,
			RecallDays:           memory.DefaultRecallDays,
			SummaryMaxChars:      memory.DefaultSummaryMaxChars,
			SummaryBatchMessages: memory.DefaultCompactionBatch,
			AutoSummarizeEvery:   memory.DefaultAutoSummarizeEvery,
			SummaryTemperature:   0.2,
		},
		Log: LogConfig{
			Level:   "info",
			MaxDays: 7,
			Console: false,
		},
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	dir := GetConfigDir()
	if dir == "" {
		return "", fmt.Errorf("failed to determine config directory")
	}
	return dir, nil
}

// LogDir returns the log directory path
func LogDir() string {
	dir := GetConfigDir()
	if dir == "" {
		return "logs"
	}
	return filepath.Join(dir, "logs")
}

// ConfigPath returns the configuration file path
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from file and merges with secrets
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create default config without secrets in it
		cfg := DefaultConfig()
		if err := Save(cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		cfg.applySecrets()
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse config
	cfg := DefaultConfig() // Use default values as base
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applySecrets()
	cfg.Memory.Dir = expandHome(cfg.Memory.Dir)

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applySecrets fills the API key from the environment or secrets files when
// the config file leaves it empty
func (c *Config) applySecrets() {
	if c.Model.APIKey != "" {
		return
	}
	if apiKey := strings.TrimSpace(os.Getenv(EnvAPIKey)); apiKey != "" {
		c.Model.APIKey = apiKey
		return
	}
	secrets, err := LoadSecrets()
	if err != nil {
		logger.Warn("Failed to read secrets: %v", err)
	}
	if apiKey := secrets.GetAPIKey(); apiKey != "" {
		c.Model.APIKey = apiKey
	}
}

// expandHome resolves a leading ~ in a path
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

// Save saves configuration to file
func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure config directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Serialize config
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	// Add header comment
	content := "# Pepper Configuration File\n# The API key may also come from OPENAI_API_KEY or a .env file.\n\n" + string(data)

	// Write file; it may hold an API key
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate model config
	if c.Model.BaseURL == "" {
		return fmt.Errorf("config error: model.base_url cannot be empty")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("config error: model.model cannot be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("config error: model.temperature must be between 0 and 2")
	}
	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("config error: model.max_tokens cannot be negative")
	}
	if c.Model.TimeoutSeconds <= 0 {
		return fmt.Errorf("config error: model.timeout_seconds must be greater than 0")
	}
	if c.Model.MaxRetries < 0 {
		return fmt.Errorf("config error: model.max_retries cannot be negative")
	}

	// Validate memory config
	if c.Memory.Dir == "" {
		return fmt.Errorf("config error: memory.dir cannot be empty")
	}
	switch strings.ToLower(c.Memory.Backend) {
	case "", memory.BackendJSONL, memory.BackendSQLite:
	default:
		return fmt.Errorf("config error: memory.backend must be %q or %q", memory.BackendJSONL, memory.BackendSQLite)
	}
	if c.Memory.RecallMessages < 0 {
		return fmt.Errorf("config error: memory.recall_messages cannot be negative")
	}
	if c.Memory.RecallDays < 0 {
		return fmt.Errorf("config error: memory.recall_days cannot be negative")
	}
	if c.Memory.SummaryMaxChars <= 0 {
		return fmt.Errorf("config error: memory.summary_max_chars must be greater than 0")
	}
	if c.Memory.SummaryBatchMessages <= 0 {
		return fmt.Errorf("config error: memory.summary_batch_messages must be greater than 0")
	}
	if c.Memory.AutoSummarizeEvery < 0 {
		return fmt.Errorf("config error: memory.auto_summarize_every cannot be negative (0 disables)")
	}
	if c.Memory.SummaryTemperature < 0 || c.Memory.SummaryTemperature > 2 {
		return fmt.Errorf("config error: memory.summary_temperature must be between 0 and 2")
	}

	// Validate log config
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config error: log.level: %w", err)
	}

	return nil
}

// IsAPIKeyConfigured checks if API key is configured
func (c *Config) IsAPIKeyConfigured() bool {
	return c.Model.APIKey != ""
}

// SummaryPath returns the summary file path
func (c *Config) SummaryPath() string {
	return filepath.Join(c.Memory.Dir, "summary.txt")
}

// String returns string representation of config (hides sensitive info)
func (c *Config) String() string {
	autoSummarize := fmt.Sprintf("every %d turns", c.Memory.AutoSummarizeEvery)
	if c.Memory.AutoSummarizeEvery == 0 {
		autoSummarize = "disabled"
	}

	return fmt.Sprintf(`Pepper Configuration:
  Model:
    API Key: %s
    Base URL: %s
    Model: %s
    Temperature: %.1f
    Max Tokens: %d
    Timeout Seconds: %d
    Max Retries: %d
  Memory:
    Dir: %s
    Backend: %s
    Recall Messages: %d
    Recall Days: %d
    Summary Max Chars: %d
    Summary Batch Messages: %d
    Auto Summarize: %s
    Summary Temperature: %.1f
  Log:
    Level: %s
    Max Days: %d
    Console: %v`,
		redactAPIKey(c.Model.APIKey),
		c.Model.BaseURL,
		c.Model.Model,
		c.Model.Temperature,
		c.Model.MaxTokens,
		c.Model.TimeoutSeconds,
		c.Model.MaxRetries,
		c.Memory.Dir,
		c.Memory.Backend,
		c.Memory.RecallMessages,
		c.Memory.RecallDays,
		c.Memory.SummaryMaxChars,
		c.Memory.SummaryBatchMessages,
		autoSummarize,
		c.Memory.SummaryTemperature,
		c.Log.Level,
		c.Log.MaxDays,
		c.Log.Console,
	)
}

func redactAPIKey(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if len(value) > 8 {
		return value[:8] + "..." // Only show first 8 chars
	}
	return "***"
}
