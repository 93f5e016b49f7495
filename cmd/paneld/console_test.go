//go:build unix

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/quasar-panel/paneld/internal/config"
	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/serialport"
	"github.com/quasar-panel/paneld/internal/shutdown"
)

// scriptedConsole answers ReadLine from a fixed script, then with read
// timeouts (or readErr once set). afterRead runs after every read.
type scriptedConsole struct {
	lines     []string
	readErr   error
	reads     int
	writes    []string
	closed    bool
	afterRead func(reads int)
}

func (s *scriptedConsole) WriteLine(line string) error {
	s.writes = append(s.writes, line)
	return nil
}

func (s *scriptedConsole) ReadLine() (string, error) {
	s.reads++

	if s.afterRead != nil {
		defer s.afterRead(s.reads)
	}

	if len(s.lines) > 0 {
		line := s.lines[0]
		s.lines = s.lines[1:]

		return line, nil
	}

	if s.readErr != nil {
		return "", s.readErr
	}

	return "", nil
}

func (s *scriptedConsole) Close() error {
	s.closed = true
	return nil
}

func withScriptedConsole(t *testing.T, sc *scriptedConsole) {
	t.Helper()

	prev := consoleTransportFactory
	consoleTransportFactory = func(serialport.Config) (consoleTransport, error) {
		return sc, nil
	}

	t.Cleanup(func() {
		consoleTransportFactory = prev
	})
}

func consoleEnv(t *testing.T, configFile string) (*daemonEnv, *shutdown.Flag) {
	t.Helper()

	cfg, err := config.Load(configFile)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	flag := &shutdown.Flag{}

	return &daemonEnv{cfg: cfg, flag: flag, logger: slog.New(slog.DiscardHandler)}, flag
}

func TestConsoleRun_MissingDeviceExitsTransport(t *testing.T) {
	_, configFile := isolateEnv(t)
	t.Setenv("PANELD_CONSOLE_DEVICE", "/dev/does-not-exist")

	err := execute(t, "console", "run", "--quiet", "--config", configFile)
	if got := exitCode(err); got != clierrors.ExitTransport {
		t.Fatalf("console run: exit %d (%v), want %d", got, err, clierrors.ExitTransport)
	}
}

func TestRunConsole_ExitCodes(t *testing.T) {
	tests := []struct {
		name         string
		lines        []string
		readErr      error
		stopAtRead   int
		identityFile func(t *testing.T, dir string) string
		wantCode     int
		wantIdentity string
	}{
		{
			name:         "identity stored then orderly stop",
			lines:        []string{"DEBUG> ", "IP: 10.0.0.5 netmask 255.255.255.0", "boot ok"},
			stopAtRead:   4,
			wantCode:     clierrors.ExitSuccess,
			wantIdentity: "10.0.0.5",
		},
		{
			name:       "shutdown during acquisition",
			lines:      []string{"DEBUG> "},
			stopAtRead: 2,
			wantCode:   clierrors.ExitSuccess,
		},
		{
			name:     "console never answers",
			lines:    []string{"DEBUG> "},
			wantCode: clierrors.ExitProtocol,
		},
		{
			name:     "reply without delimiter",
			lines:    []string{"DEBUG> ", "IP: 10.0.0.5"},
			wantCode: clierrors.ExitProtocol,
		},
		{
			name:  "identity file not writable",
			lines: []string{"DEBUG> ", "IP: 10.0.0.5 up"},
			identityFile: func(t *testing.T, dir string) string {
				blocker := filepath.Join(dir, "not-a-dir")
				if err := os.WriteFile(blocker, nil, 0o644); err != nil {
					t.Fatal(err)
				}

				return filepath.Join(blocker, "panel_id")
			},
			wantCode: clierrors.ExitPersist,
		},
		{
			name:         "device lost while relaying",
			lines:        []string{"DEBUG> ", "IP: 10.0.0.5 up"},
			readErr:      errors.New("read /dev/ttyUSB1: input/output error"),
			wantCode:     clierrors.ExitTransport,
			wantIdentity: "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, configFile := isolateEnv(t)
			t.Setenv("PANELD_CONSOLE_IDENTITY_LINES", "4")

			idPath := filepath.Join(dir, "panel_id")
			if tt.identityFile != nil {
				idPath = tt.identityFile(t, dir)
				t.Setenv("PANELD_IDENTITY_FILE", idPath)
			}

			env, flag := consoleEnv(t, configFile)

			sc := &scriptedConsole{lines: tt.lines, readErr: tt.readErr}
			sc.afterRead = func(reads int) {
				if tt.stopAtRead > 0 && reads >= tt.stopAtRead {
					flag.Set()
				}
			}

			withScriptedConsole(t, sc)

			err := runConsole(context.Background(), env)
			if got := exitCode(err); got != tt.wantCode {
				t.Fatalf("runConsole() exit %d (%v), want %d", got, err, tt.wantCode)
			}

			if !sc.closed {
				t.Error("console transport was not closed")
			}

			data, readErr := os.ReadFile(idPath)
			if tt.wantIdentity == "" {
				if readErr == nil {
					t.Errorf("identity file written with %q, want none", data)
				}

				return
			}

			if readErr != nil || string(data) != tt.wantIdentity {
				t.Errorf("identity file = %q, %v; want %q", data, readErr, tt.wantIdentity)
			}
		})
	}
}
