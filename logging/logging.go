// Package logging provides the adaptor framework's structured logging
// setup. It is built on logrus, with a custom writer that routes
// error-level lines to stderr and everything else to stdout so that
// container log collectors can treat the two streams differently, and a
// ring-buffer hook that feeds the dashboard's getLog RPC without requiring
// a second read of the process's log files.
package logging

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// level, adapted from the teacher's stream-separation writer.
type OutputSplitter struct {
	stdout, stderr func([]byte) (int, error)
}

func newOutputSplitter(stdout, stderr func([]byte) (int, error)) *OutputSplitter {
	return &OutputSplitter{stdout: stdout, stderr: stderr}
}

// errorMarkers are the byte sequences an error/fatal line carries under
// each of the two formatters Configure can select: logrus's key=value
// TextFormatter and its JSONFormatter.
var errorMarkers = [][]byte{
	[]byte("level=error"), []byte("level=fatal"),
	[]byte(`"level":"error"`), []byte(`"level":"fatal"`),
}

func (o *OutputSplitter) Write(p []byte) (int, error) {
	for _, marker := range errorMarkers {
		if bytes.Contains(p, marker) {
			return o.stderr(p)
		}
	}
	return o.stdout(p)
}

var (
	once   sync.Once
	global *logrus.Logger
	hook   *RingHook
)

// Logger returns the process-wide logger, configuring it on first use.
func Logger() *logrus.Logger {
	once.Do(func() {
		global = logrus.New()
		hook = NewRingHook(500, logrus.InfoLevel)
		global.AddHook(hook)
	})
	return global
}

// Configure applies deployment settings (level, format, output streams) to
// the process-wide logger. Safe to call once during Application boot.
func Configure(level logrus.Level, jsonFormat bool, stdout, stderr func([]byte) (int, error)) {
	l := Logger()
	l.SetLevel(level)
	if jsonFormat {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if stdout != nil && stderr != nil {
		l.SetOutput(newOutputSplitter(stdout, stderr))
	}
}

// RecentLines returns the buffered log lines for the dashboard's getLog
// RPC, most recent last.
func RecentLines() []string {
	Logger()
	return hook.Lines()
}

// WithJob returns an entry pre-populated with the job-kind field the
// journal and dashboard correlate push activity by.
func WithJob(jobKind string) *logrus.Entry {
	return Logger().WithField("job", jobKind)
}

// WithDocID returns an entry pre-populated with a document identifier.
func WithDocID(docID string) *logrus.Entry {
	return Logger().WithField("docId", docID)
}

// WithRequest returns an entry pre-populated with HTTP request correlation
// fields.
func WithRequest(method, path, remoteAddr string) *logrus.Entry {
	return Logger().WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"remote": remoteAddr,
	})
}
