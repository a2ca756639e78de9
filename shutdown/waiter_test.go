package shutdown

import (
	"testing"
	"time"
)

type fakeWorker struct {
	interrupted chan struct{}
}

func newFakeWorker() *fakeWorker { return &fakeWorker{interrupted: make(chan struct{}, 1)} }
func (f *fakeWorker) Interrupt()  { f.interrupted <- struct{}{} }

func TestShutdownInterruptsRegisteredWorkers(t *testing.T) {
	w := New()
	worker := newFakeWorker()
	if err := w.ProcessingStarting(worker); err != nil {
		t.Fatalf("processingStarting: %v", err)
	}

	go func() {
		<-worker.interrupted
		w.ProcessingCompleted(worker)
	}()

	if ok := w.Shutdown(time.Second); !ok {
		t.Error("expected shutdown to succeed once the worker deregisters")
	}
}

func TestShutdownTimesOutWhenWorkerNeverCompletes(t *testing.T) {
	w := New()
	worker := newFakeWorker()
	w.ProcessingStarting(worker)

	if ok := w.Shutdown(20 * time.Millisecond); ok {
		t.Error("expected shutdown to time out when the worker never deregisters")
	}
}

func TestProcessingStartingRejectedAfterShutdown(t *testing.T) {
	w := New()
	go w.Shutdown(20 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if err := w.ProcessingStarting(newFakeWorker()); err == nil {
		t.Error("expected SHUT_DOWN after shutdown has begun")
	}
}
