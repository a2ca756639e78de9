package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestOutputSplitterRoutesTextFormatterErrorToStderr(t *testing.T) {
	var out, errOut []byte
	s := newOutputSplitter(
		func(p []byte) (int, error) { out = append(out, p...); return len(p), nil },
		func(p []byte) (int, error) { errOut = append(errOut, p...); return len(p), nil },
	)
	if _, err := s.Write([]byte(`time="now" level=error msg="boom"` + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(errOut) == 0 || len(out) != 0 {
		t.Fatalf("expected a text-formatted error line routed to stderr only, got out=%q errOut=%q", out, errOut)
	}
}

func TestOutputSplitterRoutesJSONFormatterErrorToStderr(t *testing.T) {
	var out, errOut []byte
	s := newOutputSplitter(
		func(p []byte) (int, error) { out = append(out, p...); return len(p), nil },
		func(p []byte) (int, error) { errOut = append(errOut, p...); return len(p), nil },
	)
	if _, err := s.Write([]byte(`{"level":"error","msg":"boom"}` + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(errOut) == 0 || len(out) != 0 {
		t.Fatalf("expected a JSON-formatted error line routed to stderr only, got out=%q errOut=%q", out, errOut)
	}
}

func TestOutputSplitterRoutesInfoToStdout(t *testing.T) {
	var out, errOut []byte
	s := newOutputSplitter(
		func(p []byte) (int, error) { out = append(out, p...); return len(p), nil },
		func(p []byte) (int, error) { errOut = append(errOut, p...); return len(p), nil },
	)
	if _, err := s.Write([]byte(`{"level":"info","msg":"fine"}` + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(out) == 0 || len(errOut) != 0 {
		t.Fatalf("expected an info line routed to stdout only, got out=%q errOut=%q", out, errOut)
	}
}

func TestConfigureWithJSONFormatStillSeparatesStreams(t *testing.T) {
	var out, errOut []byte
	Configure(logrus.InfoLevel, true, func(p []byte) (int, error) {
		out = append(out, p...)
		return len(p), nil
	}, func(p []byte) (int, error) {
		errOut = append(errOut, p...)
		return len(p), nil
	})

	Logger().Error("json formatted failure")
	if len(errOut) == 0 {
		t.Fatal("expected Configure(..., jsonFormat=true, ...) to still route Error lines to stderr")
	}
	if len(out) != 0 {
		t.Fatalf("expected no stdout output for an error-level line, got %q", out)
	}
}
