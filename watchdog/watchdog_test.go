package watchdog

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTripFiresAfterTimeout(t *testing.T) {
	w := New()
	var tripped int32
	if err := w.Start("token", time.Millisecond, func() { atomic.StoreInt32(&tripped, 1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&tripped) != 1 {
		t.Error("expected watchdog to fire after timeout elapsed")
	}
	if err := w.Complete("token"); err != nil {
		t.Errorf("complete after fire should still succeed: %v", err)
	}
}

func TestCompleteBeforeTimeoutPreventsFire(t *testing.T) {
	w := New()
	var tripped int32
	if err := w.Start("token", 50*time.Millisecond, func() { atomic.StoreInt32(&tripped, 1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Complete("token"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&tripped) != 0 {
		t.Error("watchdog should not fire once completed before its deadline")
	}
}

func TestDoubleStartIsInvalidState(t *testing.T) {
	w := New()
	if err := w.Start("token", time.Second, func() {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Complete("token")
	if err := w.Start("token", time.Second, func() {}); err == nil {
		t.Error("expected INVALID_STATE on double start")
	}
}

func TestCompleteWithoutStartIsInvalidState(t *testing.T) {
	w := New()
	if err := w.Complete("token"); err == nil {
		t.Error("expected INVALID_STATE on complete without start")
	}
}
