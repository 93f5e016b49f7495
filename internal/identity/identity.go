// Package identity persists the panel identity extracted from the serial
// console and lets the other daemons consume it.
//
// The identity file's whole content is the identity token, with no trailing
// newline. It is always replaced atomically, so a reader polling the path
// either finds no file or the complete token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quasar-panel/paneld/internal/atomicfile"
)

const filePerm = 0o644

var (
	// ErrPersist is returned when the identity file cannot be written.
	ErrPersist = errors.New("persist panel identity")
	// ErrEmpty is returned when the identity file exists but holds no token.
	ErrEmpty = errors.New("identity file is empty")
	// ErrUnavailable is returned by Wait when the file never became readable.
	ErrUnavailable = errors.New("panel identity unavailable")
)

// Write atomically replaces the identity file at path with id.
func Write(path, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: refusing to write empty identity", ErrPersist)
	}

	if err := atomicfile.Write(path, []byte(id), filePerm); err != nil {
		return fmt.Errorf("%w to %s: %w", ErrPersist, path, err)
	}

	return nil
}

// Read returns the identity stored at path.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from paneld configuration
	if err != nil {
		return "", fmt.Errorf("read identity file: %w", err)
	}

	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmpty)
	}

	return id, nil
}

// Wait polls path until it holds an identity, trying at most attempts times
// with interval between tries. It fails with ErrUnavailable once the attempts
// are exhausted, or with the context error if ctx ends first.
func Wait(ctx context.Context, path string, attempts int, interval time.Duration) (string, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		id, err := Read(path)
		if err == nil {
			return id, nil
		}

		lastErr = err

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, attempts, lastErr)
}
