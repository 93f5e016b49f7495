package console

import (
	"errors"
	"log/slog"
	"slices"
	"testing"

	"github.com/quasar-panel/paneld/internal/shutdown"
)

// stopAfter sets flag once n reads have completed.
func stopAfter(flag *shutdown.Flag, n int) func(int) {
	return func(read int) {
		if read >= n {
			flag.Set()
		}
	}
}

func TestRelay_AlternatingLinesAndTimeouts(t *testing.T) {
	var flag shutdown.Flag

	reads := []string{"boot ok", "", "eth0 up", "", "", "dhcp lease"}
	tr := &scriptTransport{reads: slices.Clone(reads), onRead: stopAfter(&flag, len(reads))}
	h := &captureHandler{}

	if err := Relay(tr, NewController(tr, nil), &flag, slog.New(h)); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	want := []record{
		{slog.LevelInfo, "boot ok"},
		{slog.LevelWarn, MsgReadTimeout},
		{slog.LevelInfo, "eth0 up"},
		{slog.LevelWarn, MsgReadTimeout},
		{slog.LevelWarn, MsgReadTimeout},
		{slog.LevelInfo, "dhcp lease"},
		{slog.LevelInfo, MsgRelayStopped},
	}

	if got := h.snapshot(); !slices.Equal(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}

	if len(tr.writes) != 0 {
		t.Errorf("writes = %q, want none", tr.writes)
	}
}

func TestRelay_UnexpectedDebugPrompt(t *testing.T) {
	var flag shutdown.Flag

	reads := []string{"DEBUG> ", "sensor 1 ok", "sensor 2 ok"}
	tr := &scriptTransport{reads: slices.Clone(reads), onRead: stopAfter(&flag, len(reads))}
	h := &captureHandler{}
	ctrl := NewController(tr, nil)

	if err := Relay(tr, ctrl, &flag, slog.New(h)); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	if !slices.Equal(tr.writes, []string{CmdExitDebug}) {
		t.Errorf("writes = %q, want exactly one exit-debug", tr.writes)
	}

	want := []record{
		{slog.LevelInfo, "sensor 1 ok"},
		{slog.LevelInfo, "sensor 2 ok"},
		{slog.LevelInfo, MsgRelayStopped},
	}

	if got := h.snapshot(); !slices.Equal(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}

	if ctrl.Mode() != ModeStreaming {
		t.Errorf("mode = %v, want streaming", ctrl.Mode())
	}
}

func TestRelay_StopsWithinOneRead(t *testing.T) {
	var flag shutdown.Flag

	tr := &scriptTransport{onRead: stopAfter(&flag, 1)}
	h := &captureHandler{}

	if err := Relay(tr, NewController(tr, nil), &flag, slog.New(h)); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	if tr.nread != 1 {
		t.Errorf("reads after shutdown = %d, want 1", tr.nread)
	}

	got := h.snapshot()

	stopped := 0
	for _, r := range got {
		if r.msg == MsgRelayStopped {
			stopped++
		}
	}

	if stopped != 1 || got[len(got)-1].msg != MsgRelayStopped {
		t.Errorf("records = %v, want exactly one final stop record", got)
	}
}

func TestRelay_AlreadyStopped(t *testing.T) {
	var flag shutdown.Flag
	flag.Set()

	tr := &scriptTransport{}
	h := &captureHandler{}

	if err := Relay(tr, NewController(tr, nil), &flag, slog.New(h)); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	if tr.nread != 0 {
		t.Errorf("reads = %d, want 0", tr.nread)
	}

	want := []record{{slog.LevelInfo, MsgRelayStopped}}
	if got := h.snapshot(); !slices.Equal(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}
}

func TestRelay_TransportErrorIsFatal(t *testing.T) {
	boom := errors.New("usb disconnect")
	tr := &scriptTransport{readErr: boom}
	h := &captureHandler{}

	err := Relay(tr, NewController(tr, nil), &shutdown.Flag{}, slog.New(h))
	if !errors.Is(err, ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("Relay error = %v, want ErrTransport wrapping cause", err)
	}

	if got := h.snapshot(); len(got) != 0 {
		t.Errorf("records = %v, want none on fatal error", got)
	}
}
