// Package retrytest provides a fake backoff timer for tests.
package retrytest

import (
	"sync"
	"time"
)

// FakeTimer records requested waits and fires immediately.
// It is safe to share between goroutines.
type FakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	fired chan time.Time
}

// NewFakeTimer creates a FakeTimer.
func NewFakeTimer() *FakeTimer {
	fired := make(chan time.Time)
	close(fired)

	return &FakeTimer{fired: fired}
}

// Start records the requested wait.
func (ft *FakeTimer) Start(duration time.Duration) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.waits = append(ft.waits, duration)
}

// Stop is a no-op.
func (ft *FakeTimer) Stop() {}

// C returns a channel that is always ready.
func (ft *FakeTimer) C() <-chan time.Time {
	return ft.fired
}

// Waits returns a copy of every wait requested so far.
func (ft *FakeTimer) Waits() []time.Duration {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	out := make([]time.Duration, len(ft.waits))
	copy(out, ft.waits)

	return out
}
