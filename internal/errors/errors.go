// Package errors provides structured CLI error types for paneld.
//
// CLIError wraps errors with operator-facing messages, hints, and exit codes.
// The exit code is what a supervisor (systemd, an init script, a watchdog)
// sees when a daemon gives up, so each failure class gets its own code.
package errors

import (
	"errors"
	"fmt"
)

// Exit codes for CLI errors.
const (
	ExitSuccess   = 0  // Successful execution or orderly shutdown
	ExitGeneral   = 1  // General error
	ExitNetwork   = 3  // Broker or FTP server unreachable
	ExitConfig    = 4  // Configuration error
	ExitTimeout   = 5  // Bounded wait expired
	ExitTransport = 10 // Serial device could not be opened or failed
	ExitProtocol  = 11 // Console never produced a usable identity
	ExitPersist   = 12 // Identity file could not be written
	ExitDaemon    = 13 // Daemon lifecycle (pid file, start, stop) failure
	ExitUsage     = 64 // Command line usage error (BSD convention)
)

// CLIError represents an operator-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the process exit code.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// TransportOpenFailed returns an error for a serial device that cannot be opened.
func TransportOpenFailed(device string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Cannot open console device %s", device),
		Hint:    "Check the device exists, is not held by another process, and console.device is correct",
		Cause:   cause,
		Code:    ExitTransport,
	}
}

// TransportIOFailed returns an error for a serial failure after the device was opened.
func TransportIOFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Console transport failed",
		Hint:    "The device may have been unplugged; the supervisor will restart the daemon",
		Cause:   cause,
		Code:    ExitTransport,
	}
}

// IdentityAcquireFailed returns an error when the console never yields an identity.
func IdentityAcquireFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Failed to acquire panel identity from console",
		Hint:    "Check the console answers 'ip' at its debug prompt, or raise console.identity_lines",
		Cause:   cause,
		Code:    ExitProtocol,
	}
}

// IdentityPersistFailed returns an error when the identity file cannot be written.
func IdentityPersistFailed(path string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to write identity file %s", path),
		Hint:    "Check the directory exists and is writable, or set identity.file",
		Cause:   cause,
		Code:    ExitPersist,
	}
}

// IdentityUnavailable returns an error when a consumer gives up waiting for the identity.
func IdentityUnavailable(path string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Panel identity not available at %s", path),
		Hint:    "Start the console daemon first: 'paneld console start'",
		Cause:   cause,
		Code:    ExitTimeout,
	}
}

// DaemonAlreadyRunning returns an error when a daemon's pid file is held.
func DaemonAlreadyRunning(name string, pid int) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s daemon already running (pid %d)", name, pid),
		Hint:    fmt.Sprintf("Run 'paneld %s stop' first", name),
		Code:    ExitDaemon,
	}
}

// DaemonNotRunning returns an error when a daemon is expected but absent.
func DaemonNotRunning(name string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s daemon is not running", name),
		Hint:    fmt.Sprintf("Run 'paneld %s start' to start it", name),
		Code:    ExitDaemon,
	}
}

// DaemonStartFailed returns an error when a detached daemon does not come up.
func DaemonStartFailed(name, logFile string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to start %s daemon", name),
		Hint:    fmt.Sprintf("See %s for details", logFile),
		Cause:   cause,
		Code:    ExitDaemon,
	}
}

// BrokerConnectFailed returns an error when the MQTT broker cannot be reached.
func BrokerConnectFailed(addr string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Cannot connect to MQTT broker %s", addr),
		Hint:    "Check mqtt_broker.host, mqtt_broker.port and credentials, or run 'paneld doctor'",
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// ConfigMissing returns an error for a required configuration key left unset.
func ConfigMissing(key string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Missing configuration: %s", key),
		Hint:    fmt.Sprintf("Run 'paneld config set %s <value>' or set it in the config file", key),
		Code:    ExitConfig,
	}
}

// ConfigFailed returns an error for configuration load or save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check the config file syntax and permissions, or run 'paneld doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}
