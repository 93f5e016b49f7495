//go:build unix

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// PIDFile is a pid file locked by the current process.
type PIDFile struct {
	path string
	f    *os.File
}

// maxLockAttempts bounds how often AcquirePIDFile retries after locking a
// pid file that a releasing daemon unlinked underneath it.
const maxLockAttempts = 5

// AcquirePIDFile creates path, locks it, and records the current pid. It
// returns a *LockedError when another live process holds the lock.
func AcquirePIDFile(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	for range maxLockAttempts {
		f, err := lockPath(path)
		if err != nil {
			return nil, err
		}

		if f == nil {
			continue
		}

		if err := writePID(f); err != nil {
			f.Close()
			return nil, err
		}

		return &PIDFile{path: path, f: f}, nil
	}

	return nil, fmt.Errorf("lock pid file %s: replaced %d times while locking", path, maxLockAttempts)
}

// lockPath opens and exclusively locks path. A nil file with a nil error
// means the locked inode is no longer the one at path and the caller
// should try again.
func lockPath(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			pid, _ := ReadPID(path)
			return nil, &LockedError{Path: path, PID: pid}
		}

		return nil, fmt.Errorf("lock pid file: %w", err)
	}

	if !stillAt(f, path) {
		f.Close()
		return nil, nil
	}

	return f, nil
}

// stillAt reports whether the open file f is the file currently at path.
func stillAt(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}

	onDisk, err := os.Stat(path)
	if err != nil {
		return false
	}

	return os.SameFile(held, onDisk)
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync pid file: %w", err)
	}

	return nil
}

// Path returns the pid file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Release removes the pid file and drops the lock. Safe to call twice.
func (p *PIDFile) Release() error {
	if p == nil || p.f == nil {
		return nil
	}

	// Remove while still locked. An Acquire that opened the old file before
	// the unlink will lock a dead inode and retry on the new one.
	removeErr := os.Remove(p.path)
	if os.IsNotExist(removeErr) {
		removeErr = nil
	}

	closeErr := p.f.Close()
	p.f = nil

	return errors.Join(removeErr, closeErr)
}

// Check reports whether a process holds the lock on path.
func Check(path string) (State, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}

		return State{}, fmt.Errorf("open pid file: %w", err)
	}
	defer f.Close()

	pid, _ := ReadPID(path)

	err = unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	switch {
	case errors.Is(err, unix.EWOULDBLOCK):
		return State{PID: pid, Running: true}, nil
	case err != nil:
		return State{}, fmt.Errorf("test pid file lock: %w", err)
	}

	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return State{PID: pid, Stale: true}, nil
}

// Stop sends SIGTERM to the daemon behind path, waits up to grace for it to
// release its lock, then sends SIGKILL. It returns the pid it signalled.
func Stop(ctx context.Context, path string, grace time.Duration) (int, error) {
	state, err := Check(path)
	if err != nil {
		return 0, err
	}

	if !state.Running {
		if state.Stale {
			removeUnlocked(path)
		}

		return 0, ErrNotRunning
	}

	if state.PID <= 0 {
		return 0, fmt.Errorf("pid file %s is locked but holds no pid", path)
	}

	if err := unix.Kill(state.PID, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return state.PID, nil
		}

		return state.PID, fmt.Errorf("signal pid %d: %w", state.PID, err)
	}

	termCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if waitReleased(termCtx, path) {
		return state.PID, nil
	}

	if ctx.Err() != nil {
		return state.PID, ctx.Err()
	}

	if err := unix.Kill(state.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return state.PID, fmt.Errorf("kill pid %d: %w", state.PID, err)
	}

	killCtx, cancelKill := context.WithTimeout(ctx, grace)
	defer cancelKill()

	if !waitReleased(killCtx, path) {
		return state.PID, fmt.Errorf("%w: pid %d", ErrStopTimeout, state.PID)
	}

	// The killed process could not clean up after itself.
	removeUnlocked(path)

	return state.PID, nil
}

// removeUnlocked deletes a pid file left by a dead daemon. It takes the
// lock first so a daemon that started in the meantime keeps its file.
func removeUnlocked(path string) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return
	}
	defer f.Close()

	if unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB) != nil {
		return
	}

	if stillAt(f, path) {
		_ = os.Remove(path)
	}
}

// WaitRunning polls until a process holds the lock on path.
func WaitRunning(ctx context.Context, path string) (State, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, err := Check(path)
		if err != nil {
			return State{}, err
		}

		if state.Running {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func waitReleased(ctx context.Context, path string) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if state, err := Check(path); err == nil && !state.Running {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Spawn starts a detached child in its own session with stdio redirected
// to the log file, and returns its pid without waiting for it.
func Spawn(opts SpawnOptions) (int, error) {
	exe := opts.Executable
	if exe == "" {
		var err error

		exe, err = os.Executable()
		if err != nil {
			return 0, fmt.Errorf("resolve executable: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
		return 0, fmt.Errorf("create log directory: %w", err)
	}

	logFile, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, opts.Args...) //nolint:gosec // re-exec of our own binary
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}

	pid := cmd.Process.Pid

	// The child outlives us; reaping is left to init.
	_ = cmd.Process.Release()

	return pid, nil
}
