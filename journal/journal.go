// Package journal implements Journal (§4.13): monotonic push/request
// counters, ring-buffered time-bucketed stats at minute/hour/day
// granularity, and a per-job-kind completion-status state machine.
package journal

import (
	"sync"
	"time"

	"github.com/contentbridge/adaptor/errkind"
)

// Status is a completion-status state in the IDLE -> IN_PROGRESS ->
// {SUCCESS, FAILURE, INTERRUPTION} -> IDLE machine.
type Status int

const (
	Idle Status = iota
	InProgress
	Success
	Failure
	Interruption
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case InProgress:
		return "IN_PROGRESS"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	case Interruption:
		return "INTERRUPTION"
	default:
		return "UNKNOWN"
	}
}

// JobKind identifies which scheduled activity a completion-status machine
// tracks.
type JobKind string

const (
	FullPush        JobKind = "full"
	IncrementalPush JobKind = "incremental"
	GroupPush       JobKind = "group"
)

// Bucket is one time-bucketed stat accumulator.
type Bucket struct {
	Count       int64
	DurationSum time.Duration
	MaxDuration time.Duration
	BucketEnd   time.Time
}

// Throughput returns Count per second covered by this bucket's period, or
// 0 if period is not positive.
func (b Bucket) Throughput(period time.Duration) float64 {
	if period <= 0 {
		return 0
	}
	return float64(b.Count) / period.Seconds()
}

type ring struct {
	period  time.Duration
	buckets []Bucket
}

func newRing(period time.Duration, size int) *ring {
	return &ring{period: period, buckets: make([]Bucket, size)}
}

func (r *ring) record(now time.Time, d time.Duration) {
	r.rotate(now)
	b := &r.buckets[len(r.buckets)-1]
	b.Count++
	b.DurationSum += d
	if d > b.MaxDuration {
		b.MaxDuration = d
	}
}

// rotate advances the ring so the last bucket's end covers now, zeroing
// any bucket whose period has fully elapsed.
func (r *ring) rotate(now time.Time) {
	last := &r.buckets[len(r.buckets)-1]
	if last.BucketEnd.IsZero() {
		last.BucketEnd = now.Add(r.period)
		return
	}
	for now.After(last.BucketEnd) {
		copy(r.buckets, r.buckets[1:])
		r.buckets[len(r.buckets)-1] = Bucket{BucketEnd: last.BucketEnd.Add(r.period)}
		last = &r.buckets[len(r.buckets)-1]
	}
}

func (r *ring) snapshot() []Bucket {
	out := make([]Bucket, len(r.buckets))
	copy(out, r.buckets)
	return out
}

// Snapshot is an immutable capture of the journal's counters and recent
// stats, per spec: successive snapshots' monotonic counters never
// decrease.
type Snapshot struct {
	UniqueDocIdsPushed int64
	TotalDocIdsPushed  int64
	GroupPushes        int64
	IndexerRequests    int64
	NonIndexerRequests int64

	MinuteStats []Bucket
	HourStats   []Bucket
	DayStats    []Bucket

	Statuses map[JobKind]Status

	LastIndexerRequest time.Time
}

// errorWindow is a fixed-size ring of recent retriever outcomes used by
// GetRetrieverErrorRate.
type errorWindow struct {
	size    int
	results []bool
	next    int
	filled  bool
}

func newErrorWindow(size int) *errorWindow {
	return &errorWindow{size: size, results: make([]bool, size)}
}

func (w *errorWindow) record(failed bool) {
	w.results[w.next] = failed
	w.next = (w.next + 1) % w.size
	if w.next == 0 {
		w.filled = true
	}
}

func (w *errorWindow) rate() float64 {
	n := w.next
	if w.filled {
		n = w.size
	}
	if n == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if w.results[i] {
			failures++
		}
	}
	return float64(failures) / float64(n)
}

// Journal is the process-wide push/serving activity tracker.
type Journal struct {
	mu sync.Mutex

	uniqueDocIds map[string]struct{}
	totalPushed  int64
	groupPushes  int64

	indexerRequests    int64
	nonIndexerRequests int64
	lastIndexerReq     time.Time

	minute *ring
	hour   *ring
	day    *ring

	statuses map[JobKind]Status

	retrieverErrors *errorWindow

	now func() time.Time
}

// New returns an empty Journal. now, if nil, defaults to time.Now; tests
// may override it to control bucket rotation deterministically.
func New(now func() time.Time) *Journal {
	if now == nil {
		now = time.Now
	}
	return &Journal{
		uniqueDocIds:    make(map[string]struct{}),
		minute:          newRing(time.Minute, 60),
		hour:            newRing(time.Hour, 24),
		day:             newRing(24*time.Hour, 30),
		statuses:        make(map[JobKind]Status),
		retrieverErrors: newErrorWindow(200),
		now:             now,
	}
}

// RecordDocIdsPushed records a push of docIds that took elapsed; ids not
// seen before are added to the journal's unique total.
func (j *Journal) RecordDocIdsPushed(docIds []string, elapsed time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, id := range docIds {
		j.uniqueDocIds[id] = struct{}{}
	}
	j.totalPushed += int64(len(docIds))
	now := j.now()
	j.minute.record(now, elapsed)
	j.hour.record(now, elapsed)
	j.day.record(now, elapsed)
}

// RecordGroupPush records one group-definitions push.
func (j *Journal) RecordGroupPush() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.groupPushes++
}

// RecordRequest records an HTTP content request, indexer identifying
// whether the User-Agent matched the configured indexer substring.
func (j *Journal) RecordRequest(indexer bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if indexer {
		j.indexerRequests++
		j.lastIndexerReq = j.now()
	} else {
		j.nonIndexerRequests++
	}
}

// RecordRetrieverOutcome feeds the rolling retriever error rate.
func (j *Journal) RecordRetrieverOutcome(failed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.retrieverErrors.record(failed)
}

// GetRetrieverErrorRate returns failures/total over the most recent
// window observations (the window's capacity, not elapsed time). Zero
// when there have been no observations.
func (j *Journal) GetRetrieverErrorRate() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.retrieverErrors.rate()
}

// HasGsaCrawledWithinLastDay reports whether the most recent indexer
// request was less than 24h ago.
func (j *Journal) HasGsaCrawledWithinLastDay() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastIndexerReq.IsZero() {
		return false
	}
	return j.now().Sub(j.lastIndexerReq) < 24*time.Hour
}

// RecordStarted transitions kind's status IDLE -> IN_PROGRESS. Fails
// INVALID_STATE if kind is not currently IDLE.
func (j *Journal) RecordStarted(kind JobKind) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.statuses[kind] != Idle {
		return errkind.New(errkind.InvalidState, "journal: "+string(kind)+" push already in progress")
	}
	j.statuses[kind] = InProgress
	return nil
}

func (j *Journal) recordTerminal(kind JobKind, status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.statuses[kind] != InProgress {
		return errkind.New(errkind.InvalidState, "journal: "+string(kind)+" push not in progress")
	}
	j.statuses[kind] = status
	return nil
}

// RecordSuccessful transitions kind's status IN_PROGRESS -> SUCCESS.
func (j *Journal) RecordSuccessful(kind JobKind) error { return j.recordTerminal(kind, Success) }

// RecordFailed transitions kind's status IN_PROGRESS -> FAILURE.
func (j *Journal) RecordFailed(kind JobKind) error { return j.recordTerminal(kind, Failure) }

// RecordInterrupted transitions kind's status IN_PROGRESS -> INTERRUPTION.
func (j *Journal) RecordInterrupted(kind JobKind) error { return j.recordTerminal(kind, Interruption) }

// Reset returns kind's status to IDLE from any terminal state.
func (j *Journal) Reset(kind JobKind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses[kind] = Idle
}

// StatusOf returns kind's current completion status.
func (j *Journal) StatusOf(kind JobKind) Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.statuses[kind]
}

// GetSnapshot returns a consistent, immutable capture of the journal's
// counters and recent stats.
func (j *Journal) GetSnapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	statuses := make(map[JobKind]Status, len(j.statuses))
	for k, v := range j.statuses {
		statuses[k] = v
	}
	return Snapshot{
		UniqueDocIdsPushed: int64(len(j.uniqueDocIds)),
		TotalDocIdsPushed:  j.totalPushed,
		GroupPushes:        j.groupPushes,
		IndexerRequests:    j.indexerRequests,
		NonIndexerRequests: j.nonIndexerRequests,
		MinuteStats:        j.minute.snapshot(),
		HourStats:          j.hour.snapshot(),
		DayStats:           j.day.snapshot(),
		Statuses:           statuses,
		LastIndexerRequest: j.lastIndexerReq,
	}
}
