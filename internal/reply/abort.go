// Package reply accumulates a streaming answer and forwards live increments
// to the caller.
package reply

import (
	"sync"
	"sync/atomic"
)

// AbortSignal is a one-way cancellation flag shared between the caller and
// an in-flight streaming call. The zero value is not usable; use NewAbortSignal.
// A nil *AbortSignal never aborts.
type AbortSignal struct {
	once    sync.Once
	ch      chan struct{}
	aborted atomic.Bool
}

// NewAbortSignal creates an unset abort signal.
func NewAbortSignal() *AbortSignal {
	return &AbortSignal{ch: make(chan struct{})}
}

// Abort sets the flag. Repeated calls are no-ops.
func (a *AbortSignal) Abort() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.aborted.Store(true)
		close(a.ch)
	})
}

// Aborted reports whether Abort has been called.
func (a *AbortSignal) Aborted() bool {
	return a != nil && a.aborted.Load()
}

// Done returns a channel closed on Abort. It is nil for a nil signal, so a
// select on it blocks forever.
func (a *AbortSignal) Done() <-chan struct{} {
	if a == nil {
		return nil
	}
	return a.ch
}
