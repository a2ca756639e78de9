package app

import (
	"testing"
	"time"
)

func TestParseScheduleEmptyDisables(t *testing.T) {
	d, err := parseSchedule("")
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	if d != 0 {
		t.Fatalf("expected zero duration, got %v", d)
	}
}

func TestParseScheduleDurationString(t *testing.T) {
	d, err := parseSchedule("90m")
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	if d != 90*time.Minute {
		t.Fatalf("expected 90m, got %v", d)
	}
}

func TestParseScheduleBareSeconds(t *testing.T) {
	d, err := parseSchedule("120")
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	if d != 120*time.Second {
		t.Fatalf("expected 120s, got %v", d)
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	if _, err := parseSchedule("whenever"); err == nil {
		t.Fatal("expected an error for an unparseable schedule")
	}
}

func TestSchedulerStopsWithoutFiringWhenIntervalIsZero(t *testing.T) {
	fired := false
	s := &scheduler{interval: 0, fn: func() { fired = true }}
	stop := make(chan struct{})
	close(stop)
	s.run(stop)
	if fired {
		t.Fatal("a zero-interval scheduler must never fire")
	}
}

func TestSchedulerFiresAndStops(t *testing.T) {
	count := 0
	s := &scheduler{interval: 10 * time.Millisecond, fn: func() { count++ }}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.run(stop)
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	close(stop)
	<-done
	if count == 0 {
		t.Fatal("expected the scheduler to have fired at least once")
	}
}
