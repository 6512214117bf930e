package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.openai.com/v1", cfg.Model.BaseURL)
	assert.Equal(t, "gpt-4.1-mini", cfg.Model.Model)
	assert.Equal(t, 0.4, cfg.Model.Temperature)
	assert.Equal(t, 30, cfg.Memory.RecallMessages)
	assert.Equal(t, 3, cfg.Memory.RecallDays)
	assert.Equal(t, 4000, cfg.Memory.SummaryMaxChars)
	assert.Equal(t, "jsonl", cfg.Memory.Backend)
	assert.Contains(t, cfg.Memory.Dir, filepath.Join(".pepper", "memory"))
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "empty BaseURL",
			mutate:  func(c *Config) { c.Model.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "invalid Temperature",
			mutate:  func(c *Config) { c.Model.Temperature = 3.0 },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Memory.Backend = "redis" },
			wantErr: true,
		},
		{
			name:    "sqlite backend",
			mutate:  func(c *Config) { c.Memory.Backend = "sqlite" },
			wantErr: false,
		},
		{
			name:    "zero summary cap",
			mutate:  func(c *Config) { c.Memory.SummaryMaxChars = 0 },
			wantErr: true,
		},
		{
			name:    "auto summarize disabled",
			mutate:  func(c *Config) { c.Memory.AutoSummarizeEvery = 0 },
			wantErr: false,
		},
		{
			name:    "negative auto summarize",
			mutate:  func(c *Config) { c.Memory.AutoSummarizeEvery = -1 },
			wantErr: true,
		},
		{
			name:    "large recall window",
			mutate:  func(c *Config) { c.Memory.RecallMessages, c.Memory.RecallDays = 1 << 40, 1 << 30 },
			wantErr: false,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "chatty" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	configTestDir := filepath.Join(t.TempDir(), "config")
	SetConfigDir(configTestDir)

	cfg := DefaultConfig()
	cfg.Model.APIKey = "test-api-key"
	cfg.Memory.Backend = "sqlite"
	require.NoError(t, Save(cfg))

	configPath := filepath.Join(configTestDir, "config.yaml")
	require.FileExists(t, configPath)
	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loadedCfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Model.APIKey, loadedCfg.Model.APIKey)
	assert.Equal(t, "sqlite", loadedCfg.Memory.Backend)
}

func TestLoad_CreatesDefaultAndReadsEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	SetConfigDir(filepath.Join(tmpDir, "config"))
	t.Setenv(EnvAPIKey, "sk-from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)

	data, err := os.ReadFile(filepath.Join(tmpDir, "config", "config.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-from-env", "API key from environment must not be written to config.yaml")
}

func TestLoad_ExpandsHomeInMemoryDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	t.Setenv("HOME", tmpDir)
	t.Setenv(EnvAPIKey, "")
	SetConfigDir(filepath.Join(tmpDir, "config"))

	content := "model:\n  api_key: k\nmemory:\n  dir: ~/notes\n"
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config", "config.yaml"), []byte(content), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "notes"), cfg.Memory.Dir)
	// Unset fields keep their defaults
	assert.Equal(t, 3, cfg.Memory.RecallDays)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	SetConfigDir(tmpDir)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("memory:\n  backend: redis\n"), 0600))
	_, err := Load()
	assert.ErrorContains(t, err, "memory.backend")

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("model: [unclosed\n"), 0600))
	_, err = Load()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestIsAPIKeyConfigured(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.IsAPIKeyConfigured())

	cfg.Model.APIKey = "test-key"
	assert.True(t, cfg.IsAPIKeyConfigured())
}

func TestConfigString_RedactsAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-1234567890abcdef"

	s := cfg.String()
	assert.NotContains(t, s, "sk-1234567890abcdef")
	assert.Contains(t, s, "sk-12345...")

	cfg.Memory.AutoSummarizeEvery = 0
	assert.Contains(t, cfg.String(), "Auto Summarize: disabled")

	assert.Equal(t, "***", redactAPIKey("short"))
	assert.Equal(t, "(not configured)", redactAPIKey(""))
}

func TestPaths(t *testing.T) {
	SetConfigDir("/tmp/pepper-config")
	assert.Equal(t, filepath.Join("/tmp/pepper-config", "logs"), LogDir())

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/pepper-config", "config.yaml"), path)

	cfg := DefaultConfig()
	cfg.Memory.Dir = "/data/pepper"
	assert.Equal(t, filepath.Join("/data/pepper", "summary.txt"), cfg.SummaryPath())
}
