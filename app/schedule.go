package app

import (
	"strconv"
	"time"

	"github.com/contentbridge/adaptor/errkind"
)

// parseSchedule accepts either a Go duration string ("1h30m") or a bare
// integer interpreted as seconds, matching the loose, operator-friendly
// "cron-like" syntax §6 describes for adaptor.fullListingSchedule without
// committing this implementation to a full five-field cron parser: a
// single adaptor process typically needs one full-listing cadence, not
// arbitrary calendar scheduling, and the framework's job is to run it
// reliably, not to parse crontab syntax.
func parseSchedule(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return 0, errkind.New(errkind.InvalidConfiguration, "app: unparseable schedule: "+raw)
}

// scheduler runs fn every interval until stop is closed. A zero or
// negative interval disables the schedule entirely (the adaptor then
// relies solely on adaptor.pushDocIdsOnStartup or a manual trigger).
type scheduler struct {
	interval time.Duration
	fn       func()
}

func (s *scheduler) run(stop <-chan struct{}) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fn()
		case <-stop:
			return
		}
	}
}
