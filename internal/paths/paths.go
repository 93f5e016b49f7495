// Package paths resolves where paneld keeps its configuration, state, logs,
// and runtime files.
//
// Panel images usually set nothing, so every root falls back to the
// service user's home directory.
package paths

import (
	"errors"
	"os"
	"path/filepath"
)

const appName = "paneld"

// Daemon names shared by pid files, log files, and the CLI.
const (
	DaemonConsole = "console"
	DaemonMQTT    = "mqtt"
	DaemonUpload  = "upload"
)

// SystemConfigDir is searched for a config file before the user config root.
const SystemConfigDir = "/etc/paneld"

// Default file names under the state root.
const (
	identityName = "panel_id"
	triggerName  = "send_logs.now"
	logsName     = "logs"
)

// root is one XDG base directory with its home-relative fallback.
type root struct {
	env      string
	osDir    func() (string, error)
	homeRel  string
	fallback func() (string, error)
}

var (
	configBase = root{env: "XDG_CONFIG_HOME", osDir: os.UserConfigDir, homeRel: ".config"}
	stateBase  = root{env: "XDG_STATE_HOME", homeRel: filepath.Join(".local", "state")}
	// Pid files live under the state root when there is no runtime dir.
	runtimeBase = root{env: "XDG_RUNTIME_DIR", fallback: func() (string, error) {
		return stateBase.join("run")
	}}
)

var errNoHome = errors.New("cannot resolve a home directory for paneld files")

func (r root) dir() (string, error) {
	if dir := os.Getenv(r.env); dir != "" && filepath.IsAbs(dir) {
		return filepath.Join(dir, appName), nil
	}

	if r.fallback != nil {
		return r.fallback()
	}

	if r.osDir != nil {
		if dir, err := r.osDir(); err == nil && dir != "" {
			return filepath.Join(dir, appName), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errNoHome
	}

	return filepath.Join(home, r.homeRel, appName), nil
}

func (r root) join(elem ...string) (string, error) {
	dir, err := r.dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// ConfigRoot returns the user config directory searched after
// SystemConfigDir.
func ConfigRoot() (string, error) { return configBase.dir() }

// StateRoot holds the identity file, the upload trigger, and logs.
func StateRoot() (string, error) { return stateBase.dir() }

// RunDir holds the daemons' pid files.
func RunDir() (string, error) { return runtimeBase.dir() }

func LogsDir() (string, error) { return stateBase.join(logsName) }

// DaemonLogFile is where a detached daemon writes its structured log.
func DaemonLogFile(daemon string) (string, error) {
	return stateBase.join(logsName, daemon+".log")
}

// PIDFile returns the pid file for daemon inside runDir, or inside RunDir()
// when runDir is empty.
func PIDFile(runDir, daemon string) (string, error) {
	if runDir != "" {
		return filepath.Join(runDir, daemon+".pid"), nil
	}

	return runtimeBase.join(daemon + ".pid")
}

// IdentityFile is the default location of the persisted panel identity.
func IdentityFile() (string, error) { return stateBase.join(identityName) }

// TriggerFile is the default location of the log upload trigger.
func TriggerFile() (string, error) { return stateBase.join(triggerName) }
