package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quasar-panel/paneld/internal/config"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()

	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))

	file := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(file)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	return cfg
}

type printerFuncs struct {
	success, warning, failure, muted func(string, ...any)
}

func (p printerFuncs) Success(format string, args ...any) { p.success(format, args...) }
func (p printerFuncs) Warning(format string, args ...any) { p.warning(format, args...) }
func (p printerFuncs) Failure(format string, args ...any) { p.failure(format, args...) }
func (p printerFuncs) Muted(format string, args ...any) { p.muted(format, args...) }

func byName(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.Name] = r
	}

	return m
}

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()

	idFile := filepath.Join(dir, "panel_id")
	if err := os.WriteFile(idFile, []byte("10.0.0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}

			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port

	cfg := loadConfig(t, fmt.Sprintf(`console:
  device: /dev/null
identity:
  file: %s
mqtt_broker:
  host: 127.0.0.1
  port: %d
daemon:
  run_dir: %s
`, idFile, port, filepath.Join(dir, "run")))

	results := byName(New(cfg).Run(context.Background()))

	tests := []struct {
		name   string
		status Status
		substr string
	}{
		{"Config file", StatusPass, "config.yaml"},
		{"Console device", StatusPass, "/dev/null"},
		{"Panel identity", StatusPass, "10.0.0.5"},
		{"console daemon", StatusWarn, "Not running"},
		{"mqtt daemon", StatusWarn, "Not running"},
		{"upload daemon", StatusWarn, "Not running"},
		{"MQTT broker", StatusPass, "127.0.0.1"},
		{"FTP server", StatusWarn, "Not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := results[tt.name]
			if !ok {
				t.Fatalf("no result for %q", tt.name)
			}

			if r.Status != tt.status {
				t.Errorf("status = %v, want %v (%s)", r.Status, tt.status, r.Message)
			}

			if !strings.Contains(r.Message, tt.substr) {
				t.Errorf("message = %q, want it to contain %q", r.Message, tt.substr)
			}
		})
	}
}

func TestRunner_Failures(t *testing.T) {
	dir := t.TempDir()

	regular := filepath.Join(dir, "not-a-tty")
	if err := os.WriteFile(regular, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	// Grab a free port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := loadConfig(t, fmt.Sprintf(`console:
  device: %s
identity:
  file: %s
upload:
  host: 127.0.0.1
  port: %d
`, regular, filepath.Join(dir, "missing"), port))

	results := byName(New(cfg).Run(context.Background()))

	if r := results["Console device"]; r.Status != StatusFail {
		t.Errorf("Console device = %+v, want fail", r)
	}

	if r := results["Panel identity"]; r.Status != StatusWarn {
		t.Errorf("Panel identity = %+v, want warn", r)
	}

	if r := results["FTP server"]; r.Status != StatusFail || r.Detail == "" {
		t.Errorf("FTP server = %+v, want fail with detail", r)
	}

	if tally := Count(New(cfg).Run(context.Background())); tally.Failed < 2 || tally.Passed < 1 {
		t.Errorf("Count() = %+v", tally)
	}
}

func TestCount(t *testing.T) {
	results := []Result{
		{Status: StatusPass},
		{Status: StatusPass},
		{Status: StatusWarn},
		{Status: StatusFail},
	}

	if got, want := Count(results), (Tally{Passed: 2, Failed: 1, Warnings: 1}); got != want {
		t.Errorf("Count() = %+v, want %+v", got, want)
	}
}

// Both endpoints are unreachable: the dials overlap, so Run takes about one
// dial, not two.
func TestRunner_EndpointsDialConcurrently(t *testing.T) {
	cfg := loadConfig(t, `mqtt_broker:
  host: broker.invalid
upload:
  host: ftp.invalid
`)

	r := New(cfg)

	var inFlight, peak atomic.Int32

	r.dial = func(ctx context.Context, _, addr string) (net.Conn, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}

		time.Sleep(100 * time.Millisecond)

		return nil, fmt.Errorf("dial %s: unreachable", addr)
	}

	results := r.Run(context.Background())

	if peak.Load() != 2 {
		t.Errorf("peak concurrent dials = %d, want 2", peak.Load())
	}

	names := make([]string, 0, len(results))
	for _, res := range results {
		names = append(names, res.Name)
	}

	if got := strings.Join(names, ","); !strings.HasSuffix(got, "MQTT broker,FTP server,Version") {
		t.Errorf("result order = %s", got)
	}
}

func TestRenderResults(t *testing.T) {
	var lines []string

	record := func(prefix string) func(string, ...any) {
		return func(format string, args ...any) {
			lines = append(lines, prefix+fmt.Sprintf(format, args...))
		}
	}

	RenderResults(printerFuncs{record("ok "), record("warn "), record("fail "), record("muted ")}, []Result{
		{Name: "Config file", Status: StatusPass, Message: "/etc/paneld/config.yaml"},
		{Name: "FTP server", Status: StatusFail, Message: "ftp:21", Detail: "connection refused"},
	})

	want := []string{
		"ok Config file    /etc/paneld/config.yaml",
		"fail FTP server     ftp:21",
		"muted     connection refused",
	}

	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("RenderResults() =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestResult_JSON(t *testing.T) {
	got, err := json.Marshal(Result{Name: "FTP server", Status: StatusWarn, Message: "Not configured"})
	if err != nil {
		t.Fatal(err)
	}

	if want := `{"name":"FTP server","status":"warn","message":"Not configured"}`; string(got) != want {
		t.Errorf("json = %s, want %s", got, want)
	}
}

func TestVersionResult(t *testing.T) {
	tests := []struct {
		version    string
		wantStatus Status
		wantPrefix string
	}{
		{"dev", StatusWarn, "Development build"},
		{"1.2.0", StatusPass, "paneld "},
		{"v1.2.0", StatusPass, "paneld "},
		{"1.3.0-rc.1", StatusWarn, "Pre-release 1.3.0-rc.1"},
		{"nightly", StatusWarn, "Unrecognized version"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got := versionResult(tt.version)
			if got.Status != tt.wantStatus {
				t.Errorf("versionResult(%q).Status = %v, want %v", tt.version, got.Status, tt.wantStatus)
			}

			if !strings.HasPrefix(got.Message, tt.wantPrefix) {
				t.Errorf("versionResult(%q).Message = %q, want prefix %q", tt.version, got.Message, tt.wantPrefix)
			}
		})
	}
}

func TestRenderResults_WideNames(t *testing.T) {
	var lines []string

	record := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	RenderResults(printerFuncs{record, record, record, record}, []Result{
		{Name: "Gerät", Status: StatusPass, Message: "a"},
		{Name: "端末", Status: StatusPass, Message: "b"},
	})

	want := []string{"Gerät    a", "端末     b"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("RenderResults() = %q, want %q", lines, want)
	}
}
