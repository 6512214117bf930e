package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hession/pepper/internal/memory"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when the configured language has no prompts
const DefaultLanguage = "en"

// PromptConfig prompt configuration structure
type PromptConfig struct {
	Language string                     `yaml:"language"`
	Prompts  map[string]LanguagePrompts `yaml:"prompts"`
}

// LanguagePrompts prompts for a specific language
type LanguagePrompts struct {
	System          string `yaml:"system"`
	SummaryPreamble string `yaml:"summary_preamble"`
	// Compaction may contain a single %d for the summary character cap
	Compaction  string `yaml:"compaction"`
	ErrorPrefix string `yaml:"error_prefix"`
}

// DefaultPromptConfig returns default prompt configuration
func DefaultPromptConfig() *PromptConfig {
	return &PromptConfig{
		Language: DefaultLanguage,
		Prompts: map[string]LanguagePrompts{
			"en": {
				System: `You are Pepper: calm, precise, thoughtful, and collaborative.
You acknowledge uncertainty when appropriate. You do not hallucinate.
You speak clearly, concisely, and with warmth.`,
				SummaryPreamble: memory.DefaultSummaryPreamble,
				Compaction:      memory.DefaultCompactionInstructions,
				ErrorPrefix:     "Error",
			},
		},
	}
}

// PromptConfigPath returns the prompt config file path
func PromptConfigPath() (string, error) {
	// First check if there's a config/prompt.yaml in current working directory
	cwd, err := os.Getwd()
	if err == nil {
		localPath := filepath.Join(cwd, "config", "prompt.yaml")
		if _, err := os.Stat(localPath); err == nil {
			return localPath, nil
		}
	}

	// Fall back to user config directory
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompt.yaml"), nil
}

// LoadPromptConfig loads prompt configuration from file
func LoadPromptConfig() (*PromptConfig, error) {
	configPath, err := PromptConfigPath()
	if err != nil {
		return DefaultPromptConfig(), nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultPromptConfig(), nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt config: %w", err)
	}

	// Parse config
	cfg := DefaultPromptConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse prompt config: %w", err)
	}

	return cfg, nil
}

// GetPrompts returns prompts for the configured language, with empty fields
// filled from the English defaults
func (p *PromptConfig) GetPrompts() LanguagePrompts {
	defaults := DefaultPromptConfig().Prompts[DefaultLanguage]

	prompts, ok := p.Prompts[p.Language]
	if !ok {
		prompts, ok = p.Prompts[DefaultLanguage]
	}
	if !ok {
		return defaults
	}

	if prompts.System == "" {
		prompts.System = defaults.System
	}
	if prompts.SummaryPreamble == "" {
		prompts.SummaryPreamble = defaults.SummaryPreamble
	}
	if prompts.Compaction == "" {
		prompts.Compaction = defaults.Compaction
	}
	if prompts.ErrorPrefix == "" {
		prompts.ErrorPrefix = defaults.ErrorPrefix
	}
	return prompts
}

// GetSystemPrompt returns the system prompt for the configured language
func (p *PromptConfig) GetSystemPrompt() string {
	return p.GetPrompts().System
}

// GetSummaryPreamble returns the text placed before the long-term summary
func (p *PromptConfig) GetSummaryPreamble() string {
	return p.GetPrompts().SummaryPreamble
}

// GetCompactionInstructions returns the summarizer instructions
func (p *PromptConfig) GetCompactionInstructions() string {
	return p.GetPrompts().Compaction
}

// GetErrorPrefix returns the error prefix for the configured language
func (p *PromptConfig) GetErrorPrefix() string {
	return p.GetPrompts().ErrorPrefix
}
