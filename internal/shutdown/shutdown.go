// Package shutdown provides the process-wide termination flag shared by the
// paneld daemons.
//
// The flag is monotonic: once set it stays set. Signal delivery only flips
// the flag; loops observe it at their iteration boundaries (after a bounded
// blocking read returns), so shutdown latency is bounded by one read timeout.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Flag is a one-way false-to-true broadcast. The zero value is ready to use.
type Flag struct {
	set  atomic.Bool
	once sync.Once
	mu   sync.Mutex
	done chan struct{}
}

// Set requests shutdown. Calling it more than once has no further effect.
func (f *Flag) Set() {
	f.set.Store(true)
	f.once.Do(func() {
		close(f.channel())
	})
}

// Requested reports whether shutdown has been requested.
func (f *Flag) Requested() bool {
	return f.set.Load()
}

// Done returns a channel that is closed once the flag is set.
func (f *Flag) Done() <-chan struct{} {
	return f.channel()
}

// Context returns a child of parent that is cancelled once the flag is set.
// It lets context-driven loops (MQTT, uploads) share the same flag as the
// console relay.
func (f *Flag) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		select {
		case <-f.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func (f *Flag) channel() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done == nil {
		f.done = make(chan struct{})
	}

	return f.done
}

// Notify sets flag when any of sigs is delivered. With no signals given it
// listens for SIGTERM and SIGINT. The returned function stops delivery.
func Notify(flag *Flag, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	quit := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				flag.Set()
			case <-quit:
				return
			}
		}
	}()

	var stopOnce sync.Once

	return func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
