// Package doctor runs the health checks behind `paneld doctor`.
//
// Checks cover the local side of a panel (config file, console device,
// persisted identity, daemon pid files) and the remote endpoints the
// daemons depend on (MQTT broker, FTP server).
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/mattn/go-runewidth"

	"github.com/quasar-panel/paneld/internal/buildinfo"
	"github.com/quasar-panel/paneld/internal/config"
	"github.com/quasar-panel/paneld/internal/daemon"
	"github.com/quasar-panel/paneld/internal/identity"
	"github.com/quasar-panel/paneld/internal/paths"
)

// Status is the verdict of one check, as printed in JSON.
type Status string

const (
	StatusPass Status = "pass"
	// StatusWarn does not stop the daemons from working, or is expected
	// on a panel that has not been set up yet.
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

const dialTimeout = 3 * time.Second

// Result is the outcome of one check. Detail, when set, tells the installer
// what to do next.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Check inspects one aspect of the panel.
type Check func(ctx context.Context) Result

// DialFunc opens a network connection. Tests swap it for a local listener.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type check struct {
	name string
	run  Check
	// Remote checks dial out and run concurrently.
	remote bool
}

// Runner holds the checks for one panel configuration.
type Runner struct {
	cfg    *config.Config
	dial   DialFunc
	checks []check
}

// New returns the checks for cfg, local ones first.
func New(cfg *config.Config) *Runner {
	d := &net.Dialer{Timeout: dialTimeout}
	r := &Runner{cfg: cfg, dial: d.DialContext}

	r.checks = []check{
		{name: "Config file", run: r.checkConfigFile},
		{name: "Console device", run: r.checkConsoleDevice},
		{name: "Panel identity", run: r.checkIdentity},
	}

	for _, name := range []string{paths.DaemonConsole, paths.DaemonMQTT, paths.DaemonUpload} {
		r.checks = append(r.checks, check{name: name + " daemon", run: r.checkDaemon(name)})
	}

	r.checks = append(r.checks,
		check{name: "MQTT broker", run: r.checkEndpoint("mqtt_broker.host", cfg.MQTTHost(), cfg.MQTTPort()), remote: true},
		check{name: "FTP server", run: r.checkEndpoint("upload.host", cfg.UploadHost(), cfg.UploadPort()), remote: true},
		check{name: "Version", run: checkVersion},
	)

	return r
}

// Run executes every check. Results are in registration order; the
// endpoint dials overlap so an offline panel waits one dial timeout, not two.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, len(r.checks))

	var wg sync.WaitGroup

	for i, c := range r.checks {
		if c.remote {
			wg.Go(func() { results[i] = c.result(ctx) })
			continue
		}

		results[i] = c.result(ctx)
	}

	wg.Wait()

	return results
}

func (c check) result(ctx context.Context) Result {
	res := c.run(ctx)
	res.Name = c.name

	return res
}

// Tally counts results by status.
type Tally struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
}

func Count(results []Result) Tally {
	var t Tally

	for _, res := range results {
		switch res.Status {
		case StatusPass:
			t.Passed++
		case StatusWarn:
			t.Warnings++
		default:
			t.Failed++
		}
	}

	return t
}

func (r *Runner) checkConfigFile(context.Context) Result {
	file := r.cfg.File()
	if file == "" {
		return Result{
			Status:  StatusWarn,
			Message: "No config file, using defaults",
			Detail:  "Create " + paths.SystemConfigDir + "/config.yaml or run 'paneld config set'",
		}
	}

	return Result{Status: StatusPass, Message: file}
}

func (r *Runner) checkConsoleDevice(context.Context) Result {
	device := r.cfg.ConsoleDevice()

	info, err := os.Stat(device)
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: device + " not found",
			Detail:  "Check the cable, or set console.device",
		}
	}

	if info.Mode()&os.ModeCharDevice == 0 {
		return Result{
			Status:  StatusFail,
			Message: device + " is not a character device",
		}
	}

	return Result{Status: StatusPass, Message: device}
}

func (r *Runner) checkIdentity(context.Context) Result {
	path := r.cfg.IdentityFile()

	id, err := identity.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, identity.ErrEmpty) {
			return Result{
				Status:  StatusWarn,
				Message: "Not acquired yet",
				Detail:  "Start the console daemon: paneld console start",
			}
		}

		return Result{Status: StatusFail, Message: path, Detail: err.Error()}
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("%s (%s)", id, path)}
}

func (r *Runner) checkDaemon(name string) Check {
	return func(context.Context) Result {
		pidFile, err := paths.PIDFile(r.cfg.RunDir(), name)
		if err != nil {
			return Result{Status: StatusFail, Message: "Cannot resolve pid file", Detail: err.Error()}
		}

		state, err := daemon.Check(pidFile)
		if err != nil {
			return Result{Status: StatusWarn, Message: "Status unknown", Detail: err.Error()}
		}

		switch {
		case state.Running:
			return Result{Status: StatusPass, Message: fmt.Sprintf("Running (pid %d)", state.PID)}
		case state.Stale:
			return Result{
				Status:  StatusWarn,
				Message: fmt.Sprintf("Not running (stale pid %d)", state.PID),
				Detail:  "Restart with: paneld " + name + " start",
			}
		default:
			return Result{Status: StatusWarn, Message: "Not running"}
		}
	}
}

func (r *Runner) checkEndpoint(hostKey, host string, port int) Check {
	return func(ctx context.Context) Result {
		if host == "" {
			return Result{
				Status:  StatusWarn,
				Message: "Not configured",
				Detail:  "Set " + hostKey,
			}
		}

		addr := net.JoinHostPort(host, strconv.Itoa(port))
		start := time.Now()

		conn, err := r.dial(ctx, "tcp", addr)
		if err != nil {
			return Result{Status: StatusFail, Message: addr, Detail: err.Error()}
		}

		_ = conn.Close()

		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s (%dms)", addr, time.Since(start).Milliseconds()),
		}
	}
}

func checkVersion(context.Context) Result {
	return versionResult(buildinfo.Version)
}

func versionResult(version string) Result {
	if version == "dev" {
		return Result{Status: StatusWarn, Message: "Development build"}
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return Result{Status: StatusWarn, Message: fmt.Sprintf("Unrecognized version %q", version)}
	}

	if v.Prerelease() != "" {
		return Result{Status: StatusWarn, Message: "Pre-release " + v.String()}
	}

	return Result{Status: StatusPass, Message: buildinfo.String()}
}

// Printer receives rendered results. *output.Writer implements it.
type Printer interface {
	Success(format string, args ...any)
	Warning(format string, args ...any)
	Failure(format string, args ...any)
	Muted(format string, args ...any)
}

// RenderResults prints one line per result with messages aligned after
// the check names, and any Detail indented below.
func RenderResults(p Printer, results []Result) {
	width := 0
	for _, res := range results {
		width = max(width, runewidth.StringWidth(res.Name))
	}

	for _, res := range results {
		line := runewidth.FillRight(res.Name, width+4) + res.Message

		switch res.Status {
		case StatusPass:
			p.Success("%s", line)
		case StatusWarn:
			p.Warning("%s", line)
		default:
			p.Failure("%s", line)
		}

		if res.Detail != "" {
			p.Muted("    %s", res.Detail)
		}
	}
}
