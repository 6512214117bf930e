package memory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hession/pepper/internal/logger"
)

// DefaultSummaryMaxChars is the default summary cap in characters
const DefaultSummaryMaxChars = 4000

// SummaryStore persists the rolling long-term summary as one text file
type SummaryStore struct {
	path     string
	maxChars int
}

// NewSummaryStore creates a summary store for the file at path
func NewSummaryStore(path string, maxChars int) *SummaryStore {
	if maxChars <= 0 {
		maxChars = DefaultSummaryMaxChars
	}
	return &SummaryStore{path: path, maxChars: maxChars}
}

// Path returns the summary file path
func (s *SummaryStore) Path() string {
	return s.path
}

// MaxChars returns the cap C
func (s *SummaryStore) MaxChars() int {
	return s.maxChars
}

// Load returns the stored summary trimmed, or "" when there is none.
// Read failures are logged and treated as absence.
func (s *SummaryStore) Load() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to read summary %s: %v", s.path, err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save trims text, keeps only its trailing C characters and replaces the
// stored summary atomically. The kept tail is trimmed again so the file and
// the returned value always match what Load reads back.
func (s *SummaryStore) Save(text string) (string, error) {
	text = strings.TrimSpace(CapTail(strings.TrimSpace(text), s.maxChars))

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", newStorageError("create summary directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".summary-*.tmp")
	if err != nil {
		return "", newStorageError("create summary temp file", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.WriteString(text + "\n"); err != nil {
		cleanup()
		return "", newStorageError("write summary", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", newStorageError("sync summary", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", newStorageError("close summary", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		logger.Debug("Failed to chmod summary temp file: %v", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return "", newStorageError("replace summary", s.path, err)
	}
	return text, nil
}

// CapTail keeps the trailing max characters of text
func CapTail(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[len(runes)-max:])
}
