package httpserve

import (
	"net/http"
	"net/url"

	"github.com/contentbridge/adaptor/logging"
)

// statusRecorder captures the first status code an inner http.Handler
// writes while passing the response through to the real client, so
// HeartbeatHandler can log an unhealthy probe.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.status = http.StatusOK
		s.wrote = true
	}
	return s.ResponseWriter.Write(b)
}

// HeartbeatHandler is a metadata-only probe delegating to DocumentHandler
// (§6's liveness convention): it drives the full
// decode/authenticate/authorize/dispatch path for a fixed, operator-
// configured probe document using HEAD semantics, and surfaces the
// resolved status to the caller without exposing document content.
type HeartbeatHandler struct {
	Inner *Handler
	// ProbePath is the content-endpoint path (e.g. "/doc/heartbeat") of a
	// document the adaptor is expected to always be able to serve.
	ProbePath string
}

var _ http.Handler = (*HeartbeatHandler)(nil)

func (h *HeartbeatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	probe := r.Clone(r.Context())
	probe.Method = http.MethodHead
	probe.URL = &url.URL{Path: h.ProbePath}

	rec := &statusRecorder{ResponseWriter: w}
	h.Inner.ServeHTTP(rec, probe)

	if rec.status >= http.StatusInternalServerError {
		logging.Logger().WithField("probePath", h.ProbePath).WithField("status", rec.status).
			Warn("httpserve: heartbeat probe unhealthy")
	}
}
