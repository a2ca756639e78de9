package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// RingHook is a logrus hook that keeps the last N formatted lines in
// memory, adapted from the teacher's LogrusHook (which forwarded entries
// to an external aggregator); here the "aggregator" is the in-process
// dashboard.
type RingHook struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	next     int
	full     bool
	minLevel logrus.Level
	fmt      logrus.Formatter
}

// NewRingHook creates a hook retaining up to capacity formatted lines at
// minLevel or more severe.
func NewRingHook(capacity int, minLevel logrus.Level) *RingHook {
	return &RingHook{
		lines:    make([]string, capacity),
		capacity: capacity,
		minLevel: minLevel,
		fmt:      &logrus.TextFormatter{FullTimestamp: true},
	}
}

func (h *RingHook) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, lvl := range logrus.AllLevels {
		if lvl <= h.minLevel {
			levels = append(levels, lvl)
		}
	}
	return levels
}

func (h *RingHook) Fire(entry *logrus.Entry) error {
	b, err := h.fmt.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[h.next] = string(b)
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Lines returns the buffered lines in chronological order.
func (h *RingHook) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]string, h.next)
		copy(out, h.lines[:h.next])
		return out
	}
	out := make([]string, h.capacity)
	copy(out, h.lines[h.next:])
	copy(out[h.capacity-h.next:], h.lines[:h.next])
	return out
}
