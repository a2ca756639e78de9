// Package watchdog implements the deadline-bound cancellation timer
// described in §4.6. Rather than the Java original's thread interrupt, a
// registration's fired action cancels a context.CancelFunc recorded at
// start time, per the core's §9 Design Note ("the watchdog schedules a
// cancel delivery rather than a thread interrupt").
package watchdog

import (
	"sync"
	"time"

	"github.com/contentbridge/adaptor/errkind"
)

// Watchdog is a single timer-backed registry of deadlines keyed by an
// opaque token. At most one active registration exists per token at a
// time.
type Watchdog struct {
	mu    sync.Mutex
	timer map[interface{}]*time.Timer
}

// New returns an empty Watchdog.
func New() *Watchdog {
	return &Watchdog{timer: make(map[interface{}]*time.Timer)}
}

// Start schedules cancel to be invoked after timeout unless Complete(token)
// is called first. Starting a token that is already registered is an
// INVALID_STATE error.
func (w *Watchdog) Start(token interface{}, timeout time.Duration, cancel func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.timer[token]; exists {
		return errkind.New(errkind.InvalidState, "watchdog: token already has an active registration")
	}
	w.timer[token] = time.AfterFunc(timeout, cancel)
	return nil
}

// Complete cancels the pending interrupt for token and releases its
// registration. Completing a token with no active registration is an
// INVALID_STATE error. Cancellation is atomic with respect to firing: if
// the timer has already fired, Complete still succeeds in releasing the
// registration (the fired cancel has already run, which is not lost); the
// returned error does not show whether the timer had fired.
func (w *Watchdog) Complete(token interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, exists := w.timer[token]
	if !exists {
		return errkind.New(errkind.InvalidState, "watchdog: complete called without a matching start")
	}
	t.Stop()
	delete(w.timer, token)
	return nil
}
