package journal

import (
	"testing"
	"time"
)

func TestRecordStartedRequiresIdle(t *testing.T) {
	j := New(nil)
	if err := j.RecordStarted(FullPush); err != nil {
		t.Fatalf("RecordStarted: %v", err)
	}
	if err := j.RecordStarted(FullPush); err == nil {
		t.Error("expected INVALID_STATE starting an already in-progress job")
	}
}

func TestTerminalTransitionsRequireInProgress(t *testing.T) {
	j := New(nil)
	if err := j.RecordSuccessful(FullPush); err == nil {
		t.Error("expected INVALID_STATE recording success without a started job")
	}
	if err := j.RecordStarted(FullPush); err != nil {
		t.Fatalf("RecordStarted: %v", err)
	}
	if err := j.RecordSuccessful(FullPush); err != nil {
		t.Fatalf("RecordSuccessful: %v", err)
	}
	if got := j.StatusOf(FullPush); got != Success {
		t.Errorf("got %v, want SUCCESS", got)
	}
}

func TestIndependentJobKinds(t *testing.T) {
	j := New(nil)
	if err := j.RecordStarted(FullPush); err != nil {
		t.Fatalf("RecordStarted(full): %v", err)
	}
	if err := j.RecordStarted(IncrementalPush); err != nil {
		t.Fatalf("RecordStarted(incremental) should not be blocked by full: %v", err)
	}
}

func TestGetSnapshotCountersNeverDecrease(t *testing.T) {
	j := New(nil)
	j.RecordDocIdsPushed([]string{"a", "b"}, time.Millisecond)
	first := j.GetSnapshot()
	j.RecordDocIdsPushed([]string{"b", "c"}, time.Millisecond)
	second := j.GetSnapshot()

	if second.TotalDocIdsPushed < first.TotalDocIdsPushed {
		t.Error("TotalDocIdsPushed must never decrease across snapshots")
	}
	if second.UniqueDocIdsPushed != 3 {
		t.Errorf("expected 3 unique docIds (a,b,c), got %d", second.UniqueDocIdsPushed)
	}
	if second.TotalDocIdsPushed != 4 {
		t.Errorf("expected 4 total pushed, got %d", second.TotalDocIdsPushed)
	}
}

func TestRetrieverErrorRate(t *testing.T) {
	j := New(nil)
	if rate := j.GetRetrieverErrorRate(); rate != 0 {
		t.Errorf("expected 0 rate with no observations, got %f", rate)
	}
	j.RecordRetrieverOutcome(true)
	j.RecordRetrieverOutcome(false)
	j.RecordRetrieverOutcome(false)
	j.RecordRetrieverOutcome(false)
	if rate := j.GetRetrieverErrorRate(); rate != 0.25 {
		t.Errorf("got %f, want 0.25", rate)
	}
}

func TestHasGsaCrawledWithinLastDay(t *testing.T) {
	current := time.Now()
	j := New(func() time.Time { return current })
	if j.HasGsaCrawledWithinLastDay() {
		t.Error("expected false before any indexer request")
	}
	j.RecordRequest(true)
	if !j.HasGsaCrawledWithinLastDay() {
		t.Error("expected true immediately after an indexer request")
	}
	current = current.Add(25 * time.Hour)
	if j.HasGsaCrawledWithinLastDay() {
		t.Error("expected false once the last indexer request is more than 24h old")
	}
}

func TestMinuteRingRotatesAndZeroesStaleBuckets(t *testing.T) {
	current := time.Now()
	j := New(func() time.Time { return current })
	j.RecordDocIdsPushed([]string{"a"}, time.Millisecond)
	snap := j.GetSnapshot()
	last := snap.MinuteStats[len(snap.MinuteStats)-1]
	if last.Count != 1 {
		t.Fatalf("expected the current minute bucket to record 1, got %d", last.Count)
	}

	current = current.Add(2 * time.Minute)
	j.RecordDocIdsPushed([]string{"b"}, time.Millisecond)
	snap2 := j.GetSnapshot()
	newLast := snap2.MinuteStats[len(snap2.MinuteStats)-1]
	if newLast.Count != 1 {
		t.Errorf("expected the new current bucket to start fresh at 1, got %d", newLast.Count)
	}
}
