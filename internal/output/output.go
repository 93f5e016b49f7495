// Package output prints what an operator sees from paneld commands.
//
// The daemons themselves log through log/slog. This package serves the
// lifecycle, doctor, identity, and config commands, which are run from a
// console session or an init script: status lines with an optional color
// mark, aligned detail blocks, JSON for scripts, and a spinner while a
// daemon comes up or goes down.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/quasar-panel/paneld/internal/terminal"
)

// Marks prefixed to status lines.
const (
	CheckMark   = "✓"
	XMark       = "✗"
	WarningMark = "⚠"
	InfoMark    = "ℹ"
)

type tone int

const (
	toneSuccess tone = iota
	toneFailure
	toneWarning
	toneInfo
	toneMuted
)

var tones = map[tone]struct {
	mark  string
	color color.Attribute
}{
	toneSuccess: {CheckMark, color.FgGreen},
	toneFailure: {XMark, color.FgRed},
	toneWarning: {WarningMark, color.FgYellow},
	toneInfo:    {InfoMark, color.FgCyan},
	toneMuted:   {"", color.FgHiBlack},
}

// Writer prints command output. JSON selects machine output in the
// commands; Quiet silences everything but failures and JSON.
type Writer struct {
	Out   io.Writer
	Err   io.Writer
	JSON  bool
	Quiet bool

	term   *terminal.Info
	colors map[tone]*color.Color
}

type writerKey struct{}

// Default writes to the process's stdout and stderr.
func Default() *Writer {
	return NewWriter(os.Stdout, os.Stderr, terminal.Detect())
}

// NewWriter returns a Writer on out and err for the given terminal.
func NewWriter(out, err io.Writer, term *terminal.Info) *Writer {
	w := &Writer{Out: out, Err: err, term: term, colors: make(map[tone]*color.Color, len(tones))}

	for t, style := range tones {
		w.colors[t] = color.New(style.color)
	}

	if !term.ColorEnabled() {
		color.NoColor = true
	}

	return w
}

// WithContext returns ctx carrying w.
func (w *Writer) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, writerKey{}, w)
}

// FromContext returns the Writer stored by WithContext, or Default().
func FromContext(ctx context.Context) *Writer {
	if w, ok := ctx.Value(writerKey{}).(*Writer); ok {
		return w
	}

	return Default()
}

func (w *Writer) Terminal() *terminal.Info {
	return w.term
}

// SetNoColor applies --no-color.
func (w *Writer) SetNoColor(disabled bool) {
	w.term.ForceFlag = disabled
	if disabled {
		color.NoColor = true
	}
}

func (w *Writer) Print(format string, args ...any) {
	if !w.Quiet {
		fmt.Fprintf(w.Out, format, args...)
	}
}

func (w *Writer) Println(args ...any) {
	if !w.Quiet {
		fmt.Fprintln(w.Out, args...)
	}
}

// PrintJSON writes v as indented JSON, even in quiet mode.
func (w *Writer) PrintJSON(v any) error {
	enc := json.NewEncoder(w.Out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func (w *Writer) Success(format string, args ...any) {
	w.status(toneSuccess, format, args...)
}

// Failure goes to stderr and is printed in quiet mode too.
func (w *Writer) Failure(format string, args ...any) {
	w.status(toneFailure, format, args...)
}

func (w *Writer) Warning(format string, args ...any) {
	w.status(toneWarning, format, args...)
}

func (w *Writer) Info(format string, args ...any) {
	w.status(toneInfo, format, args...)
}

// Muted prints secondary detail such as file locations, without a mark.
func (w *Writer) Muted(format string, args ...any) {
	w.status(toneMuted, format, args...)
}

func (w *Writer) status(t tone, format string, args ...any) {
	dst := w.Out
	if t == toneFailure {
		dst = w.Err
	} else if w.Quiet {
		return
	}

	msg := fmt.Sprintf(format, args...)
	mark := tones[t].mark

	if !w.term.ColorEnabled() {
		if mark != "" {
			msg = mark + " " + msg
		}

		fmt.Fprintln(dst, msg)

		return
	}

	c := w.colors[t]

	if mark == "" {
		c.Fprintln(dst, msg)
		return
	}

	c.Fprint(dst, mark+" ")
	fmt.Fprintln(dst, msg)
}

// Field is one labeled line of a Details block.
type Field struct {
	Label string
	Value any
}

// Details prints fields as an indented block with the values aligned:
//
//	  commit: abc123
//	  built:  2026-01-02
func (w *Writer) Details(fields ...Field) {
	if w.Quiet {
		return
	}

	width := 0
	for _, f := range fields {
		width = max(width, runewidth.StringWidth(f.Label))
	}

	var b strings.Builder

	for _, f := range fields {
		fmt.Fprintf(&b, "  %s %v\n", runewidth.FillRight(f.Label+":", width+1), f.Value)
	}

	fmt.Fprint(w.Out, b.String())
}

// Spinner shows message while a daemon starts or stops. Without a TTY, or
// in quiet mode, it prints "message... done" instead of animating.
func (w *Writer) Spinner(message string) *Spinner {
	s := &Spinner{message: message, w: w}

	if w.Quiet || !w.term.SpinnersEnabled() {
		return s
	}

	s.anim = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.anim.Writer = w.Out
	s.anim.Suffix = " " + message

	return s
}

// Spinner is created by Writer.Spinner. A nil anim means plain output.
type Spinner struct {
	anim    *spinner.Spinner
	message string
	w       *Writer
}

func (s *Spinner) Start() {
	if s.anim == nil {
		s.w.Print("%s... ", s.message)
		return
	}

	s.anim.Start()
}

// StopWithSuccess ends the wait and, if message is set, prints it as a
// success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.stop("done")

	if message != "" {
		s.w.Success("%s", message)
	}
}

// StopWithFailure ends the wait and, if message is set, prints it as a
// failure line.
func (s *Spinner) StopWithFailure(message string) {
	s.stop("failed")

	if message != "" {
		s.w.Failure("%s", message)
	}
}

func (s *Spinner) stop(result string) {
	if s.anim == nil {
		s.w.Println(result)
		return
	}

	s.anim.Stop()
}
