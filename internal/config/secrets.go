package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvAPIKey is the environment variable holding the API key
const EnvAPIKey = "OPENAI_API_KEY"

// Secrets sensitive configuration loaded from .secrets and .env files
type Secrets struct {
	values map[string]string
}

// NewSecrets creates a new Secrets instance
func NewSecrets() *Secrets {
	return &Secrets{
		values: make(map[string]string),
	}
}

// SecretsPath returns the secrets file path
func SecretsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".secrets"), nil
}

// DotEnvPath returns the .env path in the current working directory
func DotEnvPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, ".env"), nil
}

// LoadSecrets loads secrets from the .env file in the working directory and
// the .secrets file in the config directory. Values from .secrets win.
func LoadSecrets() (*Secrets, error) {
	secrets := NewSecrets()

	var errs []error
	for _, pathFn := range []func() (string, error){DotEnvPath, SecretsPath} {
		path, err := pathFn()
		if err != nil {
			continue // Skip sources whose location can't be determined
		}
		if err := secrets.loadFile(path); err != nil {
			errs = append(errs, err)
		}
	}

	return secrets, errors.Join(errs...)
}

// loadFile merges key=value pairs from path; a missing file is not an error
func (s *Secrets) loadFile(path string) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		// Parse key=value pairs
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := unquote(strings.TrimSpace(parts[1]))
			s.values[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// unquote strips one pair of matching single or double quotes
func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// Get returns the value for a key
func (s *Secrets) Get(key string) string {
	if s == nil || s.values == nil {
		return ""
	}
	return s.values[key]
}

// GetOrDefault returns the value for a key, or the default value if not found
func (s *Secrets) GetOrDefault(key, defaultValue string) string {
	if s == nil || s.values == nil {
		return defaultValue
	}
	if value, ok := s.values[key]; ok && value != "" {
		return value
	}
	return defaultValue
}

// Has checks if a key exists
func (s *Secrets) Has(key string) bool {
	if s == nil || s.values == nil {
		return false
	}
	_, ok := s.values[key]
	return ok
}

// GetAPIKey returns the OpenAI API key from secrets
func (s *Secrets) GetAPIKey() string {
	return s.Get(EnvAPIKey)
}
