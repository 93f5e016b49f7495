package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Panels have small flash storage, so a daemon's log file is rotated when
// it is opened and already larger than DefaultMaxLogBytes.
const (
	DefaultMaxLogBytes   = 4 << 20
	DefaultMaxLogBackups = 3
)

// rotatingFile is a daemon log file with numbered backups: path.1 is the
// newest, path.<backups> the oldest.
type rotatingFile struct {
	path     string
	maxBytes int64
	backups  int
}

func newRotatingFile(path string, maxBytes int64, backups int) rotatingFile {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLogBytes
	}

	if backups <= 0 {
		backups = DefaultMaxLogBackups
	}

	return rotatingFile{path: filepath.Clean(path), maxBytes: maxBytes, backups: backups}
}

// open rotates the file if it is oversized and opens it for appending.
func (r rotatingFile) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return nil, fmt.Errorf("create log file directory: %w", err)
	}

	if err := r.rotate(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

func (r rotatingFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", r.path, n)
}

func (r rotatingFile) rotate() error {
	info, err := os.Stat(r.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat log file: %w", err)
	case info.Size() <= r.maxBytes:
		return nil
	}

	if err := os.Remove(r.backup(r.backups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove oldest log backup: %w", err)
	}

	for n := r.backups - 1; n >= 1; n-- {
		if err := os.Rename(r.backup(n), r.backup(n+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("shift log backup: %w", err)
		}
	}

	if err := os.Rename(r.path, r.backup(1)); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	return nil
}
