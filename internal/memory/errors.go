package memory

import (
	"errors"
	"fmt"
)

var (
	// Parse boundary errors; records failing with these are skipped on recall
	ErrMalformedRecord = errors.New("malformed record")
	ErrInvalidRole     = errors.New("invalid record role")
	ErrInvalidContent  = errors.New("record content is not text")

	// ErrBusy is returned when an operation is requested while another is in flight
	ErrBusy = errors.New("memory manager is busy")

	// ErrEmptySummary is returned when the summarization delegate produced no text
	ErrEmptySummary = errors.New("summarizer returned an empty summary")
)

// StorageError reports an unavailable directory, file or database
type StorageError struct {
	Op   string // operation name
	Path string // related file or database path
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage error [%s] path=%s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage error [%s]: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func newStorageError(op, path string, err error) *StorageError {
	return &StorageError{Op: op, Path: path, Err: err}
}

// CompactionError reports a failed summary refresh. The previous summary is kept.
type CompactionError struct {
	Err error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction failed, previous summary kept: %v", e.Err)
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err comes from the record parse boundary
func IsParseError(err error) bool {
	return errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrInvalidContent)
}

// IsStorageError reports whether err wraps a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
