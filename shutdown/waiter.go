// Package shutdown implements ShutdownWaiter (§4.7): tracking of
// in-flight workers so that a coordinated shutdown can cancel them and
// wait, up to a deadline, for them all to finish.
package shutdown

import (
	"sync"
	"time"

	"github.com/contentbridge/adaptor/errkind"
)

// Worker is anything a shutdown can interrupt.
type Worker interface {
	Interrupt()
}

// Waiter tracks registered workers and coordinates a bounded shutdown.
type Waiter struct {
	mu      sync.Mutex
	workers map[Worker]struct{}
	wg      sync.WaitGroup
	closed  bool
}

// New returns a Waiter accepting new registrations.
func New() *Waiter {
	return &Waiter{workers: make(map[Worker]struct{})}
}

// ProcessingStarting registers w as in-flight. It fails with SHUT_DOWN if
// shutdown has already begun.
func (w *Waiter) ProcessingStarting(worker Worker) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errkind.New(errkind.ShutDown, "shutdown: rejecting new work after shutdown")
	}
	w.workers[worker] = struct{}{}
	w.wg.Add(1)
	return nil
}

// ProcessingCompleted deregisters worker.
func (w *Waiter) ProcessingCompleted(worker Worker) {
	w.mu.Lock()
	_, ok := w.workers[worker]
	if ok {
		delete(w.workers, worker)
	}
	w.mu.Unlock()
	if ok {
		w.wg.Done()
	}
}

// Shutdown marks the Waiter closed, interrupts every currently registered
// worker, and waits up to timeout for them all to deregister. It returns
// true iff every worker deregistered before the deadline.
func (w *Waiter) Shutdown(timeout time.Duration) bool {
	w.mu.Lock()
	w.closed = true
	workers := make([]Worker, 0, len(w.workers))
	for worker := range w.workers {
		workers = append(workers, worker)
	}
	w.mu.Unlock()

	for _, worker := range workers {
		worker.Interrupt()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
