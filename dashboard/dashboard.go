// Package dashboard implements RpcHandler (§4's RpcHandler + Dashboard
// RPCs table row, §6 "Dashboard RPC"): the XSRF-guarded JSON-RPC surface
// the status UI polls for logs, effective config, throughput stats, and
// job completion statuses. Routing follows the teacher's echo-based
// dashboard/API idiom rather than the content endpoint's raw net/http
// (§9 Design Note: the content path needs the exact first-byte state
// transition a framework's Context would obscure; this one doesn't).
package dashboard

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/contentbridge/adaptor/config"
	"github.com/contentbridge/adaptor/journal"
	"github.com/contentbridge/adaptor/logging"
	"github.com/contentbridge/adaptor/version"
)

// CookieName is the session cookie RpcHandler uses to track which XSRF
// token a browser has been issued.
const CookieName = "adaptor-dashboard-session"

// Request is one JSON-RPC call body, per §6.
type Request struct {
	ID     interface{}            `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// Response is the JSON-RPC reply shape, per §6.
type Response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// xsrfChallenge is returned (with HTTP 409) when the caller has not yet
// been issued an XSRF token.
type xsrfChallenge struct {
	Token string `json:"token"`
}

// RpcHandler serves the dashboard's "/r" JSON-RPC endpoint.
type RpcHandler struct {
	Config  *config.Config
	Journal *journal.Journal

	mu     sync.Mutex
	tokens map[string]string // session id -> issued XSRF token

	// sensitiveKeySubstrings masks a getConfig value when its key
	// contains any of these, case-insensitively (password/secret/key
	// material an operator would not want rendered in the dashboard).
	sensitiveKeySubstrings []string
}

// New returns an RpcHandler serving cfg and j.
func New(cfg *config.Config, j *journal.Journal) *RpcHandler {
	return &RpcHandler{
		Config:                 cfg,
		Journal:                j,
		tokens:                 make(map[string]string),
		sensitiveKeySubstrings: []string{"password", "secret", "privatekey", "passphrase"},
	}
}

// Register wires the dashboard RPC route onto e.
func (h *RpcHandler) Register(e *echo.Echo) {
	e.POST("/r", h.handlePost)
	e.GET("/r", func(c echo.Context) error { return c.NoContent(http.StatusMethodNotAllowed) })
}

func (h *RpcHandler) handlePost(c echo.Context) error {
	sessionID, token, fresh := h.sessionFor(c)
	if fresh {
		c.SetCookie(&http.Cookie{
			Name:     CookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			Expires:  time.Now().Add(24 * time.Hour),
		})
		return c.JSON(http.StatusConflict, xsrfChallenge{Token: token})
	}
	if c.Request().Header.Get("X-XSRF-Token") != token {
		return c.NoContent(http.StatusForbidden)
	}

	var req Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, Response{Error: "malformed JSON-RPC request"})
	}

	result, err := h.dispatch(req.Method, req.Params)
	if err != nil {
		return c.JSON(http.StatusOK, Response{ID: req.ID, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, Response{ID: req.ID, Result: result})
}

// sessionFor returns the caller's session id and its issued XSRF token.
// fresh is true when no valid session cookie was presented, in which
// case a new session and token have just been minted and must still be
// sent to the client (the 409 challenge), per §6.
func (h *RpcHandler) sessionFor(c echo.Context) (sessionID, token string, fresh bool) {
	cookie, err := c.Cookie(CookieName)
	if err == nil {
		h.mu.Lock()
		tok, ok := h.tokens[cookie.Value]
		h.mu.Unlock()
		if ok {
			return cookie.Value, tok, false
		}
	}

	id := uuid.NewString()
	tok := uuid.NewString()
	h.mu.Lock()
	h.tokens[id] = tok
	h.mu.Unlock()
	return id, tok, true
}

func (h *RpcHandler) dispatch(method string, params map[string]interface{}) (interface{}, error) {
	switch method {
	case "getLog":
		return h.getLog(), nil
	case "getConfig":
		return h.getConfig(), nil
	case "getStats":
		return h.getStats(), nil
	case "getStatuses":
		return h.getStatuses(), nil
	case "getVersion":
		return version.GetBuildInfo(), nil
	default:
		return nil, errUnknownMethod(method)
	}
}

type errUnknownMethod string

func (e errUnknownMethod) Error() string { return "dashboard: unknown RPC method: " + string(e) }

// getLog returns the recent in-process log lines, per §1's logging
// ring-buffer hook.
func (h *RpcHandler) getLog() []string {
	return logging.RecentLines()
}

// getConfig returns the effective config, masking values whose key names
// suggest they carry secrets.
func (h *RpcHandler) getConfig() map[string]string {
	snap := h.Config.Snapshot()
	out := make(map[string]string, len(snap))
	for k, v := range snap {
		lower := strings.ToLower(k)
		masked := false
		for _, needle := range h.sensitiveKeySubstrings {
			if strings.Contains(lower, needle) {
				masked = true
				break
			}
		}
		if masked && v != "" {
			out[k] = "***"
		} else {
			out[k] = v
		}
	}
	return out
}

// statBucket is a dashboard-friendly, human-readable rendering of a
// journal.Bucket.
type statBucket struct {
	Count       int64  `json:"count"`
	DurationSum string `json:"durationSum"`
	MaxDuration string `json:"maxDuration"`
	BucketEnd   string `json:"bucketEnd"`
}

func renderBuckets(period time.Duration, buckets []journal.Bucket) []statBucket {
	out := make([]statBucket, 0, len(buckets))
	for _, b := range buckets {
		if b.Count == 0 && b.BucketEnd.IsZero() {
			continue
		}
		out = append(out, statBucket{
			Count:       b.Count,
			DurationSum: b.DurationSum.String(),
			MaxDuration: b.MaxDuration.String(),
			BucketEnd:   b.BucketEnd.UTC().Format(time.RFC3339),
		})
	}
	return out
}

type statsReply struct {
	UniqueDocIdsPushed string       `json:"uniqueDocIdsPushed"`
	TotalDocIdsPushed  string       `json:"totalDocIdsPushed"`
	GroupPushes        string       `json:"groupPushes"`
	IndexerRequests    string       `json:"indexerRequests"`
	NonIndexerRequests string       `json:"nonIndexerRequests"`
	RetrieverErrorRate float64      `json:"retrieverErrorRate"`
	MinuteStats        []statBucket `json:"minuteStats"`
	HourStats          []statBucket `json:"hourStats"`
	DayStats           []statBucket `json:"dayStats"`
}

// getStats renders the journal snapshot with humanized counts, matching
// the teacher's use of go-humanize for operator-facing throughput
// figures.
func (h *RpcHandler) getStats() statsReply {
	snap := h.Journal.GetSnapshot()
	return statsReply{
		UniqueDocIdsPushed: humanize.Comma(snap.UniqueDocIdsPushed),
		TotalDocIdsPushed:  humanize.Comma(snap.TotalDocIdsPushed),
		GroupPushes:        humanize.Comma(snap.GroupPushes),
		IndexerRequests:    humanize.Comma(snap.IndexerRequests),
		NonIndexerRequests: humanize.Comma(snap.NonIndexerRequests),
		RetrieverErrorRate: h.Journal.GetRetrieverErrorRate(),
		MinuteStats:        renderBuckets(time.Minute, snap.MinuteStats),
		HourStats:          renderBuckets(time.Hour, snap.HourStats),
		DayStats:           renderBuckets(24*time.Hour, snap.DayStats),
	}
}

type statusesReply struct {
	Statuses             map[string]string `json:"statuses"`
	HasGsaCrawledLastDay bool              `json:"hasGsaCrawledWithinLastDay"`
}

// getStatuses surfaces the journal's per-job completion-status machine
// and the crawl-recency flag, the UI-facing feature implied (but not
// spelled out by name) in §4.13.
func (h *RpcHandler) getStatuses() statusesReply {
	kinds := []journal.JobKind{journal.FullPush, journal.IncrementalPush, journal.GroupPush}
	statuses := make(map[string]string, len(kinds))
	for _, k := range kinds {
		statuses[string(k)] = h.Journal.StatusOf(k).String()
	}
	return statusesReply{
		Statuses:             statuses,
		HasGsaCrawledLastDay: h.Journal.HasGsaCrawledWithinLastDay(),
	}
}
