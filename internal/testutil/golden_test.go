package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// recordingTB captures failures so AssertGolden can be tested without
// failing the enclosing test.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(string, ...any) { r.failed = true }

func (r *recordingTB) Fatalf(string, ...any) { r.failed = true }

func (r *recordingTB) Logf(string, ...any) {}

func TestAssertGolden(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := os.WriteFile(filepath.Join("testdata", "relay.golden"), []byte("boot ok\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	t.Run("matching content passes", func(t *testing.T) {
		rec := &recordingTB{TB: t}
		AssertGolden(rec, "boot ok\n", "relay.golden")

		if rec.failed {
			t.Error("AssertGolden failed on matching content")
		}
	})

	t.Run("mismatched content fails", func(t *testing.T) {
		rec := &recordingTB{TB: t}
		AssertGolden(rec, "something else\n", "relay.golden")

		if !rec.failed {
			t.Error("AssertGolden passed on mismatched content")
		}
	})
}

func TestGoldenPath(t *testing.T) {
	if got, want := GoldenPath("x.golden"), filepath.Join("testdata", "x.golden"); got != want {
		t.Errorf("GoldenPath() = %q, want %q", got, want)
	}
}
