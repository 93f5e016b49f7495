//go:build unix

package main

import (
	"os"
	"path/filepath"
	"testing"

	clierrors "github.com/quasar-panel/paneld/internal/errors"
)

// isolateEnv points every paneld location at a temp dir and returns a
// config file inside it.
func isolateEnv(t *testing.T) (dir, configFile string) {
	t.Helper()

	dir = t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "run"))
	t.Setenv("PANELD_LOG_STDERR", "off")
	t.Setenv("PANELD_LOG_FILE", filepath.Join(dir, "paneld.log"))
	t.Setenv("PANELD_DAEMON_RUN_DIR", filepath.Join(dir, "run"))
	t.Setenv("PANELD_IDENTITY_FILE", filepath.Join(dir, "panel_id"))

	configFile = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configFile, []byte("console:\n  device: /dev/null\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	return dir, configFile
}

func execute(t *testing.T, args ...string) error {
	t.Helper()

	a := newApp()
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if closeErr := a.close(); closeErr != nil {
		t.Errorf("close after %v: %v", args, closeErr)
	}

	return err
}

func exitCode(err error) int {
	if err == nil {
		return clierrors.ExitSuccess
	}

	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		return cliErr.Code
	}

	return clierrors.ExitGeneral
}

func TestIdentityShow(t *testing.T) {
	dir, configFile := isolateEnv(t)

	err := execute(t, "identity", "show", "--quiet", "--config", configFile)
	if got := exitCode(err); got != clierrors.ExitTimeout {
		t.Fatalf("identity show without file: exit %d (%v), want %d", got, err, clierrors.ExitTimeout)
	}

	if err := os.WriteFile(filepath.Join(dir, "panel_id"), []byte("A1B2C3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := execute(t, "identity", "show", "--quiet", "--config", configFile); err != nil {
		t.Fatalf("identity show with file: %v", err)
	}
}

func TestDaemonStopWhenNotRunning(t *testing.T) {
	_, configFile := isolateEnv(t)

	for _, name := range []string{"console", "mqtt", "upload"} {
		err := execute(t, name, "stop", "--quiet", "--config", configFile)
		if got := exitCode(err); got != clierrors.ExitDaemon {
			t.Errorf("%s stop: exit %d (%v), want %d", name, got, err, clierrors.ExitDaemon)
		}
	}
}

func TestDaemonStatusAlwaysSucceeds(t *testing.T) {
	_, configFile := isolateEnv(t)

	if err := execute(t, "mqtt", "status", "--quiet", "--config", configFile); err != nil {
		t.Fatalf("mqtt status: %v", err)
	}
}

func TestMQTTRunRequiresBroker(t *testing.T) {
	_, configFile := isolateEnv(t)

	err := execute(t, "mqtt", "run", "--quiet", "--config", configFile)
	if got := exitCode(err); got != clierrors.ExitConfig {
		t.Fatalf("mqtt run without broker: exit %d (%v), want %d", got, err, clierrors.ExitConfig)
	}
}

func TestUploadRunRequiresHost(t *testing.T) {
	_, configFile := isolateEnv(t)

	err := execute(t, "upload", "run", "--quiet", "--config", configFile)
	if got := exitCode(err); got != clierrors.ExitConfig {
		t.Fatalf("upload run without host: exit %d (%v), want %d", got, err, clierrors.ExitConfig)
	}
}
