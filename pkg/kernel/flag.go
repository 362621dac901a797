package kernel

import (
	"context"
	"time"
)

// Flag is a coalescing event flag. Signal never blocks so it is safe to
// raise from interrupt callbacks, multiple signals before a Wait collapse
// into one wake-up.
type Flag struct {
	ch chan struct{}
}

// NewFlag creates a Flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{}, 1)}
}

// Signal raises the flag.
func (f *Flag) Signal() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// Clear drops a pending signal.
func (f *Flag) Clear() {
	select {
	case <-f.ch:
	default:
	}
}

// C exposes the flag for select statements.
func (f *Flag) C() <-chan struct{} {
	return f.ch
}

// Wait blocks until the flag is raised or ctx is done.
func (f *Flag) Wait(ctx context.Context) error {
	select {
	case <-f.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep suspends the calling task for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
