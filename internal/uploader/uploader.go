// Package uploader ships panel log files to an FTP server when the upload
// trigger file appears.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/quasar-panel/paneld/internal/observability"
)

// DefaultPollInterval is how often the trigger file is checked.
const DefaultPollInterval = 10 * time.Second

const dialTimeout = 30 * time.Second

// ErrSession is returned when the FTP session cannot be established.
var ErrSession = errors.New("ftp session failed")

// Conn is the part of an FTP connection the uploader uses.
type Conn interface {
	Login(user, password string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// Dialer opens a Conn to addr.
type Dialer func(ctx context.Context, addr string) (Conn, error)

// FTPDialer dials with github.com/jlaffaye/ftp.
func FTPDialer(timeout time.Duration) Dialer {
	if timeout <= 0 {
		timeout = dialTimeout
	}

	return func(ctx context.Context, addr string) (Conn, error) {
		c, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
		if err != nil {
			return nil, err
		}

		return c, nil
	}
}

// Config holds upload settings.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	RemoteDir    string
	Patterns     []string
	TriggerFile  string
	PollInterval time.Duration
	DeleteAfter  bool
	PanelID      string
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Result summarizes one batch.
type Result struct {
	Uploaded []string `json:"uploaded"`
	Failed   []string `json:"failed,omitempty"`
}

// Uploader watches the trigger file and runs upload batches.
type Uploader struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger
}

// New creates an Uploader. A nil dial uses FTPDialer.
func New(cfg Config, dial Dialer, logger *slog.Logger) *Uploader {
	if dial == nil {
		dial = FTPDialer(0)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Uploader{cfg: cfg, dial: dial, logger: logger}
}

// Run polls for the trigger until ctx is cancelled. Failed batches leave
// the trigger in place and are retried on the next poll.
func (u *Uploader) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.cfg.PollInterval)
	defer ticker.Stop()

	u.logger.Info("uploader running",
		slog.String("trigger", u.cfg.TriggerFile),
		slog.Duration("poll_interval", u.cfg.PollInterval),
	)

	for {
		if u.Triggered() {
			if _, err := u.Batch(ctx); err != nil {
				u.logger.Error("upload batch failed", slog.String("error", err.Error()))
			}
		}

		select {
		case <-ctx.Done():
			u.logger.Info("uploader stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Triggered reports whether the trigger file exists.
func (u *Uploader) Triggered() bool {
	_, err := os.Stat(u.cfg.TriggerFile)
	return err == nil
}

// Batch uploads every file matching the configured patterns into
// <remote_dir>/<panel id>. A file that fails is logged and skipped. The
// trigger is removed once the session completes, unless a new request
// replaced it meanwhile.
func (u *Uploader) Batch(ctx context.Context) (res Result, err error) {
	ctx, span := observability.Tracer("paneld/uploader").Start(ctx, "uploader.batch")
	defer func() {
		span.SetAttributes(
			attribute.Int("upload.files", len(res.Uploaded)),
			attribute.Int("upload.failed", len(res.Failed)),
		)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	served := u.snapshotTrigger()

	files, err := ExpandPatterns(u.cfg.Patterns)
	if err != nil {
		return res, err
	}

	if len(files) == 0 {
		u.logger.Info("upload triggered but no files match", slog.Any("patterns", u.cfg.Patterns))
		u.clearTrigger(served)

		return res, nil
	}

	conn, err := u.dial(ctx, u.cfg.Address())
	if err != nil {
		return res, fmt.Errorf("%w: dial %s: %w", ErrSession, u.cfg.Address(), err)
	}

	defer func() {
		if quitErr := conn.Quit(); quitErr != nil {
			u.logger.Debug("ftp quit failed", slog.String("error", quitErr.Error()))
		}
	}()

	if err := conn.Login(u.cfg.User, u.cfg.Password); err != nil {
		return res, fmt.Errorf("%w: login as %s: %w", ErrSession, u.cfg.User, err)
	}

	remote := u.remoteDir()
	u.ensureDir(conn, remote)

	for _, file := range files {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		target := path.Join(remote, filepath.Base(file))

		if err := store(conn, file, target); err != nil {
			u.logger.Warn("upload failed", slog.String("file", file), slog.String("error", err.Error()))
			res.Failed = append(res.Failed, file)

			continue
		}

		res.Uploaded = append(res.Uploaded, file)
		u.logger.Info("uploaded", slog.String("file", file), slog.String("remote", target))

		if u.cfg.DeleteAfter {
			if err := os.Remove(file); err != nil {
				u.logger.Warn("delete after upload failed", slog.String("file", file), slog.String("error", err.Error()))
			}
		}
	}

	u.clearTrigger(served)

	return res, nil
}

func (u *Uploader) remoteDir() string {
	base := u.cfg.RemoteDir
	if base == "" {
		base = "."
	}

	if u.cfg.PanelID == "" {
		return base
	}

	return path.Join(base, u.cfg.PanelID)
}

// ensureDir creates each component of dir. Servers answer MakeDir on an
// existing directory with an error, so failures only reach the debug log;
// a truly missing directory surfaces as a Stor failure.
func (u *Uploader) ensureDir(conn Conn, dir string) {
	if dir == "." || dir == "/" {
		return
	}

	var parts []string
	for d := dir; d != "." && d != "/"; d = path.Dir(d) {
		parts = append(parts, d)
	}

	slices.Reverse(parts)

	for _, d := range parts {
		if err := conn.MakeDir(d); err != nil {
			u.logger.Debug("ftp mkdir", slog.String("dir", d), slog.String("result", err.Error()))
		}
	}
}

// trigger is the upload request a batch is serving. A push_log that lands
// while the batch runs replaces the file (new inode, new timestamp) and
// must survive the batch.
type trigger struct {
	info os.FileInfo
	data []byte
}

func (u *Uploader) snapshotTrigger() trigger {
	info, err := os.Stat(u.cfg.TriggerFile)
	if err != nil {
		return trigger{}
	}

	data, err := os.ReadFile(u.cfg.TriggerFile)
	if err != nil {
		return trigger{}
	}

	return trigger{info: info, data: data}
}

func (t trigger) same(other trigger) bool {
	return t.info != nil && other.info != nil &&
		os.SameFile(t.info, other.info) &&
		t.info.ModTime().Equal(other.info.ModTime()) &&
		bytes.Equal(t.data, other.data)
}

// clearTrigger removes the trigger only if it is still the request served.
func (u *Uploader) clearTrigger(served trigger) {
	current := u.snapshotTrigger()
	if current.info == nil {
		return
	}

	if !served.same(current) {
		u.logger.Info("upload requested again during batch; keeping trigger",
			slog.String("trigger", u.cfg.TriggerFile),
			slog.String("requested_at", string(bytes.TrimSpace(current.data))),
		)

		return
	}

	if err := os.Remove(u.cfg.TriggerFile); err != nil && !os.IsNotExist(err) {
		u.logger.Warn("remove upload trigger failed", slog.String("error", err.Error()))
	}
}

func store(conn Conn, file, target string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	return conn.Stor(target, f)
}

// ExpandPatterns returns the regular files matching patterns, sorted and
// without duplicates.
func ExpandPatterns(patterns []string) ([]string, error) {
	var files []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad upload pattern %q: %w", pattern, err)
		}

		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				files = append(files, m)
			}
		}
	}

	slices.Sort(files)

	return slices.Compact(files), nil
}
