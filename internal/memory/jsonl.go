package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const partitionExt = ".jsonl"

// FileBackend keeps one newline-delimited file per partition in a directory
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir.
// The directory is created lazily on first append.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+partitionExt)
}

// Keys lists partition files by their date key
func (b *FileBackend) Keys() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, newStorageError("list partitions", b.dir, err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, partitionExt) {
			continue
		}
		key := strings.TrimSuffix(name, partitionExt)
		// Ignore stray files that don't carry a date key
		if _, err := time.Parse(PartitionKeyLayout, key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Append writes one line and fsyncs before returning.
// If a previous crash left a partial last line, a newline is written first
// so the new record stays independently parseable.
func (b *FileBackend) Append(key string, line []byte) error {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return newStorageError("create partition directory", b.dir, err)
	}

	path := b.path(key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return newStorageError("open partition", path, err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+2)
	partial, err := endsWithPartialLine(f)
	if err != nil {
		return newStorageError("inspect partition", path, err)
	}
	if partial {
		buf = append(buf, '\n')
	}
	buf = append(buf, line...)
	buf = append(buf, '\n')

	// One write per record keeps a record whole or absent
	if _, err := f.Write(buf); err != nil {
		return newStorageError("append record", path, err)
	}
	if err := f.Sync(); err != nil {
		return newStorageError("sync partition", path, err)
	}
	return nil
}

// endsWithPartialLine reports whether a non-empty file lacks a final newline
func endsWithPartialLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return last[0] != '\n', nil
}

// Lines reads the partition file and splits it into lines
func (b *FileBackend) Lines(key string) ([][]byte, error) {
	path := b.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, newStorageError("read partition", path, err)
	}

	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Remove deletes the partition file
func (b *FileBackend) Remove(key string) error {
	path := b.path(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return newStorageError("remove partition", path, err)
	}
	return nil
}

// Location returns the partition directory
func (b *FileBackend) Location() string {
	return b.dir
}

// Close is a no-op for files
func (b *FileBackend) Close() error {
	return nil
}

// OpenBackend opens the named backend under the memory directory
func OpenBackend(name, memoryDir string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendJSONL:
		return NewFileBackend(filepath.Join(memoryDir, "events")), nil
	case BackendSQLite:
		return NewSQLiteBackend(filepath.Join(memoryDir, "events.db"))
	default:
		return nil, fmt.Errorf("unknown memory backend %q", name)
	}
}
