//go:build !unix

package daemon

import (
	"context"
	"time"
)

// PIDFile is unavailable on this platform.
type PIDFile struct{}

func AcquirePIDFile(string) (*PIDFile, error) { return nil, ErrUnsupported }

func (p *PIDFile) Path() string { return "" }

func (p *PIDFile) Release() error { return nil }

func Check(string) (State, error) { return State{}, ErrUnsupported }

func Stop(context.Context, string, time.Duration) (int, error) { return 0, ErrUnsupported }

func WaitRunning(context.Context, string) (State, error) { return State{}, ErrUnsupported }

func Spawn(SpawnOptions) (int, error) { return 0, ErrUnsupported }
