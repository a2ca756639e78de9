// Package httpserve implements DocumentHandler (§4.10): the HTTP
// GET/HEAD entry point that decodes a DocId, authenticates and
// authorizes the caller, invokes the adaptor's content provider under a
// watchdog deadline, and shapes the response (side-channel headers,
// compression, transforms, 204-vs-304 resolution).
package httpserve

import (
	"compress/gzip"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/adaptor"
	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/journal"
	"github.com/contentbridge/adaptor/logging"
	"github.com/contentbridge/adaptor/shutdown"
	"github.com/contentbridge/adaptor/transform"
	"github.com/contentbridge/adaptor/watchdog"
)

// Authenticator resolves a request's identity from its session, per
// §4.11's session/SAML service provider. It is an interface so httpserve
// does not need to import the saml/session packages directly.
type Authenticator interface {
	// Identity returns the caller's identity and true if the request
	// carries an authenticated session.
	Identity(r *http.Request) (acl.Identity, bool)
	// BeginAuthn redirects an interactive client to the AuthnHandler to
	// start a SAML authentication attempt.
	BeginAuthn(w http.ResponseWriter, r *http.Request)
}

// Handler serves the content endpoint for one Adaptor.
type Handler struct {
	Adaptor adaptor.Adaptor
	Codec   docid.Codec

	Authn Authenticator

	// FullAccessHosts skip authentication entirely when the request's
	// remote address matches, per §4.10 step 2.
	FullAccessHosts []string

	// IndexerUserAgent is the substring that identifies the indexer's
	// crawler for the 204-vs-304 and request-accounting decisions.
	IndexerUserAgent string
	// SecMgrUserAgent identifies machine-to-machine Security Manager
	// clients, which get 403 instead of a redirect when unauthenticated.
	SecMgrUserAgent string

	HeaderTimeout  time.Duration
	ContentTimeout time.Duration
	Watchdog       *watchdog.Watchdog
	ShutdownWaiter *shutdown.Waiter

	Journal   *journal.Journal
	Transform *transform.Pipeline

	// SendDocControls suppresses X-Gsa-Doc-Controls entirely when false.
	SendDocControls bool
}

var _ http.Handler = (*Handler)(nil)

// requestWorker is registered with ShutdownWaiter as a Worker. It must be
// handed around by pointer: shutdown.Waiter keys its registration on
// worker identity, and a struct holding a func field is unhashable, so
// only *requestWorker (not requestWorker) is usable as a map key.
type requestWorker struct{ cancel context.CancelFunc }

func (w *requestWorker) Interrupt() { w.cancel() }

// requestURL reconstructs the absolute URL a request targeted, so it can
// be matched against a docid.Codec's configured base (which is always
// absolute). The adaptor's server.hostname config key is expected to
// agree with what clients actually send as r.Host.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func (h *Handler) isIndexer(userAgent string) bool {
	return h.IndexerUserAgent != "" && strings.Contains(userAgent, h.IndexerUserAgent)
}

func (h *Handler) isSecMgr(userAgent string) bool {
	return h.SecMgrUserAgent != "" && strings.Contains(userAgent, h.SecMgrUserAgent)
}

func (h *Handler) isFullAccessHost(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	for _, allowed := range h.FullAccessHosts {
		if allowed == host {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := h.Codec.Decode(requestURL(r))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	identity, hasAuthn := acl.Identity{}, false
	if !h.isFullAccessHost(r.RemoteAddr) {
		if h.Authn != nil {
			identity, hasAuthn = h.Authn.Identity(r)
		}
		if !hasAuthn && !h.Adaptor.MarkAllPublic {
			if h.isSecMgr(r.UserAgent()) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if h.Authn != nil {
				h.Authn.BeginAuthn(w, r)
				return
			}
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if h.Adaptor.MarkAllPublic && h.isSecMgr(r.UserAgent()) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	if h.Adaptor.Authorizer != nil {
		decisions, err := h.Adaptor.Authorizer.IsUserAuthorized(r.Context(), identity, []docid.DocId{id})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch decisions[id] {
		case acl.Indeterminate:
			w.WriteHeader(http.StatusNotFound)
			return
		case acl.Deny:
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	resp := NewResponseWriter()
	req := &adaptor.Request{
		DocID:      id,
		HasAuthn:   hasAuthn,
		Identity:   identity,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}

	if h.Adaptor.Retriever == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	status := h.dispatch(r, req, resp)
	h.writeResponse(w, r, resp, status)
}

// dispatch invokes the adaptor's GetDocContent under the header watchdog,
// recovering a panic'd *errkind.Error from the Response facade and
// mapping a watchdog interrupt to 403, per §4.10 steps 4 and 8.
func (h *Handler) dispatch(r *http.Request, req *adaptor.Request, resp *ResponseWriter) (status int) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	token := new(int)
	timeout := h.HeaderTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if h.Watchdog != nil {
		_ = h.Watchdog.Start(token, timeout, cancel)
		defer func() { _ = h.Watchdog.Complete(token) }()
	}

	worker := &requestWorker{cancel: cancel}
	if h.ShutdownWaiter != nil {
		if err := h.ShutdownWaiter.ProcessingStarting(worker); err != nil {
			return http.StatusServiceUnavailable
		}
		defer h.ShutdownWaiter.ProcessingCompleted(worker)
	}

	status = http.StatusOK
	func() {
		defer func() {
			if p := recover(); p != nil {
				if _, ok := p.(*errkind.Error); ok {
					status = http.StatusInternalServerError
					if h.Journal != nil {
						h.Journal.RecordRetrieverOutcome(true)
					}
					return
				}
				panic(p)
			}
		}()
		err := h.Adaptor.Retriever.GetDocContent(ctx, req, resp)
		if ctx.Err() != nil {
			status = http.StatusForbidden
			logging.WithDocID(req.DocID.String()).Warn("httpserve: watchdog deadline exceeded")
			if h.Journal != nil {
				h.Journal.RecordRetrieverOutcome(true)
			}
			return
		}
		if err != nil {
			status = http.StatusInternalServerError
			logging.WithDocID(req.DocID.String()).WithError(err).Error("httpserve: retriever failed")
			if h.Journal != nil {
				h.Journal.RecordRetrieverOutcome(true)
			}
			return
		}
		if h.Journal != nil {
			h.Journal.RecordRetrieverOutcome(false)
		}
	}()
	return status
}

func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, resp *ResponseWriter, dispatchStatus int) {
	if h.Journal != nil {
		h.Journal.RecordRequest(h.isIndexer(r.UserAgent()))
	}

	if dispatchStatus != http.StatusOK {
		w.WriteHeader(dispatchStatus)
		return
	}

	indexer := h.isIndexer(r.UserAgent())
	switch resp.Terminal() {
	case TerminalNotModified:
		w.WriteHeader(http.StatusNotModified)
		return
	case TerminalNotFound:
		w.WriteHeader(http.StatusNotFound)
		return
	case TerminalNoContent:
		if indexer {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(http.StatusNotModified)
		}
		return
	}

	body := resp.Body()
	if h.Transform != nil && len(body) > 0 {
		transformed, err := h.Transform.Run(body, nil)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body = transformed
	}

	compress := strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") && len(body) > 0
	h.writeHeaders(w, resp, indexer, len(body), compress)
	if compress {
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if compress {
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(body)
		_ = gz.Close()
		return
	}
	_, _ = w.Write(body)
}

// writeHeaders sets the response headers. Content-Length is only set when
// the body will be sent as-is: once gzip compression is applied the
// encoded length differs from bodyLen, and Go's net/http server already
// switches to chunked transfer encoding when no Content-Length is set.
func (h *Handler) writeHeaders(w http.ResponseWriter, resp *ResponseWriter, indexer bool, bodyLen int, compressed bool) {
	header := w.Header()
	header.Set("Content-Type", resp.ContentType())
	if !compressed {
		header.Set("Content-Length", strconv.Itoa(bodyLen))
	}

	if lm, ok := resp.LastModified(); ok {
		header.Set("Last-Modified", lm.UTC().Format(http.TimeFormat))
	}

	var robots []string
	if resp.NoIndex() {
		robots = append(robots, "noindex")
	}
	if resp.NoFollow() {
		robots = append(robots, "nofollow")
	}
	if resp.NoArchive() {
		robots = append(robots, "noarchive")
	}
	if len(robots) > 0 {
		header.Set("X-Robots-Tag", strings.Join(robots, ", "))
	}

	if !indexer {
		return
	}

	if meta := resp.Metadata(); meta != nil {
		header.Set("X-Gsa-External-Metadata", encodeMetadata(meta))
	}
	if len(resp.Anchors()) > 0 {
		header.Set("X-Gsa-External-Anchor", encodeAnchors(resp.Anchors()))
	}
	if resp.Secure() {
		header.Set("X-Gsa-Serve-Security", "secure")
	}
	if h.SendDocControls {
		if controls := encodeDocControls(resp); controls != "" {
			header.Set("X-Gsa-Doc-Controls", controls)
		}
	}
}
