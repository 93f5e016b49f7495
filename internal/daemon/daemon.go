// Package daemon runs paneld's long-lived processes detached from the
// invoking shell and tracks them with locked pid files.
//
// A running daemon holds an exclusive flock on its pid file for its whole
// lifetime. The kernel drops the lock when the process exits, however it
// exits, so a pid file without a lock is stale and never blocks a restart.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrLocked      = errors.New("daemon already running")
	ErrNotRunning  = errors.New("daemon not running")
	ErrStopTimeout = errors.New("daemon did not exit")
	ErrUnsupported = errors.New("daemon mode is not supported on this platform")
)

// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 10 * time.Second

const pollInterval = 100 * time.Millisecond

// LockedError reports the pid holding a pid file.
type LockedError struct {
	Path string
	PID  int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s is locked by pid %d", e.Path, e.PID)
}

func (e *LockedError) Unwrap() error {
	return ErrLocked
}

// State describes a daemon as seen through its pid file.
type State struct {
	PID     int  `json:"pid,omitempty"`
	Running bool `json:"running"`
	// Stale is set when a pid file exists but no process holds its lock.
	Stale bool `json:"stale,omitempty"`
}

// SpawnOptions configures a detached child.
type SpawnOptions struct {
	// Executable defaults to the running binary.
	Executable string
	Args       []string
	// LogFile receives the child's stdout and stderr.
	LogFile string
	// Env is appended to the parent's environment.
	Env []string
}

// ReadPID reads the pid recorded in path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}

		return 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}
