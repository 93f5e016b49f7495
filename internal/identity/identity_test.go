package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel_id")

	if err := Write(path, "10.0.0.5"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(raw) != "10.0.0.5" {
		t.Errorf("file content = %q, want exactly %q", raw, "10.0.0.5")
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got != "10.0.0.5" {
		t.Errorf("Read = %q, want %q", got, "10.0.0.5")
	}
}

func TestWrite_RejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel_id")

	err := Write(path, "  ")
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("Write error = %v, want ErrPersist", err)
	}

	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("identity file exists after rejected write: %v", statErr)
	}
}

func TestWrite_PersistFailure(t *testing.T) {
	dir := t.TempDir()

	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := Write(filepath.Join(blocker, "panel_id"), "10.0.0.5")
	if !errors.Is(err, ErrPersist) {
		t.Errorf("Write error = %v, want ErrPersist", err)
	}
}

func TestRead_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel_id")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := Read(path); !errors.Is(err, ErrEmpty) {
		t.Errorf("Read error = %v, want ErrEmpty", err)
	}
}

// TestWrite_ConcurrentReaderNeverSeesPartial polls the identity path while
// it is rewritten and checks every observed value is one complete token.
func TestWrite_ConcurrentReaderNeverSeesPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel_id")
	tokens := map[string]bool{
		"10.0.0.5":        true,
		"192.168.100.200": true,
	}

	var (
		stop     atomic.Bool
		bad      atomic.Value
		wg       sync.WaitGroup
		observed atomic.Int64
	)

	wg.Go(func() {
		for !stop.Load() {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}

			observed.Add(1)

			if !tokens[string(data)] {
				bad.Store(string(data))
			}
		}
	})

	for i := range 200 {
		token := "10.0.0.5"
		if i%2 == 1 {
			token = "192.168.100.200"
		}

		if err := Write(path, token); err != nil {
			stop.Store(true)
			wg.Wait()
			t.Fatalf("Write #%d: %v", i, err)
		}
	}

	stop.Store(true)
	wg.Wait()

	if v := bad.Load(); v != nil {
		t.Fatalf("reader observed partial identity %q", v)
	}

	if observed.Load() == 0 {
		t.Log("reader never observed the file; atomicity not exercised")
	}
}

func TestWait(t *testing.T) {
	t.Run("already present", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "panel_id")
		if err := Write(path, "panel-7"); err != nil {
			t.Fatalf("Write: %v", err)
		}

		got, err := Wait(t.Context(), path, 1, time.Millisecond)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}

		if got != "panel-7" {
			t.Errorf("Wait = %q, want %q", got, "panel-7")
		}
	})

	t.Run("appears later", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "panel_id")

		done := make(chan struct{})
		go func() {
			defer close(done)
			time.Sleep(30 * time.Millisecond)
			_ = Write(path, "panel-8")
		}()

		got, err := Wait(t.Context(), path, 200, 5*time.Millisecond)
		<-done

		if err != nil {
			t.Fatalf("Wait: %v", err)
		}

		if got != "panel-8" {
			t.Errorf("Wait = %q, want %q", got, "panel-8")
		}
	})

	t.Run("bounded attempts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing")

		_, err := Wait(t.Context(), path, 3, time.Millisecond)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Wait error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := Wait(ctx, filepath.Join(t.TempDir(), "missing"), 5, time.Hour)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait error = %v, want context.Canceled", err)
		}
	})
}
