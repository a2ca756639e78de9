package httpserve

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/metadata"
)

// responseState is the linear SETUP -> HEADERS_SENT -> BODY -> CLOSED
// machine described in §4.10. Side-channel setters are only legal in
// SETUP; GetOutputStream moves straight to BODY (headers are finalized
// at that point since this implementation buffers body bytes in memory
// to run them through the transform pipeline before the real write).
type responseState int

const (
	stateSetup responseState = iota
	stateHeadersSent
	stateBody
	stateClosed
)

// Terminal identifies which terminal Respond* call (if any) an adaptor
// made, resolved to an actual HTTP status by Handler depending on
// whether the requester is the indexer (§4.10 step 5).
type Terminal int

const (
	TerminalNone Terminal = iota
	TerminalNotModified
	TerminalNoContent
	TerminalNotFound
)

// Anchor is one (uri, text) pair emitted in X-Gsa-External-Anchor.
type Anchor struct {
	URI  string
	Text string
}

// ResponseWriter implements adaptor.Response. Its Set* methods have no
// error return, matching the capability interface; a call made out of
// order panics with an *errkind.Error carrying ILLEGAL_RESPONSE_STATE,
// which Handler recovers from and maps to the appropriate status.
type ResponseWriter struct {
	mu sync.Mutex

	state    responseState
	terminal Terminal

	contentType  string
	lastModified time.Time
	hasLastMod   bool
	meta         *metadata.View
	acl          acl.Acl
	hasACL       bool
	anchors      []Anchor
	displayURL   string
	crawlOnce    bool
	lock         bool
	secure       bool
	noIndex      bool
	noFollow     bool
	noArchive    bool

	buf bytes.Buffer
}

// NewResponseWriter returns a fresh ResponseWriter in SETUP state.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{}
}

func illegalState(detail string) {
	panic(errkind.New(errkind.IllegalResponseState, "httpserve: "+detail))
}

func (r *ResponseWriter) requireSetup(what string) {
	if r.state != stateSetup {
		illegalState(what + " called outside SETUP state")
	}
}

func (r *ResponseWriter) SetContentType(ct string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetContentType")
	r.contentType = ct
}

func (r *ResponseWriter) SetLastModified(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetLastModified")
	r.lastModified = t
	r.hasLastMod = true
}

// SetMetadata accepts an interface{} at the adaptor.Response boundary (so
// that package does not need to import metadata); any value other than
// *metadata.View or nil is a contract violation.
func (r *ResponseWriter) SetMetadata(view interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetMetadata")
	if view == nil {
		r.meta = nil
		return
	}
	v, ok := view.(*metadata.View)
	if !ok {
		panic(errkind.New(errkind.ContractViolation, "httpserve: SetMetadata requires a *metadata.View"))
	}
	r.meta = v
}

func (r *ResponseWriter) SetAcl(a acl.Acl) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetAcl")
	r.acl = a
	r.hasACL = true
}

func (r *ResponseWriter) AddAnchor(uri, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("AddAnchor")
	r.anchors = append(r.anchors, Anchor{URI: uri, Text: text})
}

func (r *ResponseWriter) SetDisplayURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetDisplayURL")
	r.displayURL = url
}

func (r *ResponseWriter) SetCrawlOnce(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetCrawlOnce")
	r.crawlOnce = v
}

func (r *ResponseWriter) SetLock(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetLock")
	r.lock = v
}

func (r *ResponseWriter) SetSecure(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetSecure")
	r.secure = v
}

func (r *ResponseWriter) SetNoIndex(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetNoIndex")
	r.noIndex = v
}

func (r *ResponseWriter) SetNoFollow(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetNoFollow")
	r.noFollow = v
}

func (r *ResponseWriter) SetNoArchive(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireSetup("SetNoArchive")
	r.noArchive = v
}

func (r *ResponseWriter) respondTerminal(t Terminal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateSetup {
		return errkind.New(errkind.IllegalResponseState, "httpserve: terminal response called outside SETUP state")
	}
	r.terminal = t
	r.state = stateClosed
	return nil
}

func (r *ResponseWriter) RespondNotModified() error { return r.respondTerminal(TerminalNotModified) }
func (r *ResponseWriter) RespondNoContent() error    { return r.respondTerminal(TerminalNoContent) }
func (r *ResponseWriter) RespondNotFound() error     { return r.respondTerminal(TerminalNotFound) }

// GetOutputStream transitions SETUP -> HEADERS_SENT -> BODY (headers are
// considered finalized the moment the adaptor asks to write a body) and
// returns a buffer the framework later runs through the transform
// pipeline and the real network write. A second call, or one made after
// a terminal respond*, is ILLEGAL_RESPONSE_STATE.
func (r *ResponseWriter) GetOutputStream() (io.Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateSetup {
		return nil, errkind.New(errkind.IllegalResponseState, "httpserve: GetOutputStream called outside SETUP state")
	}
	r.state = stateBody
	return &r.buf, nil
}

// Snapshot below are read-only accessors Handler uses once the adaptor
// callback has returned; they take the lock defensively even though by
// that point the adaptor goroutine has finished writing.

func (r *ResponseWriter) State() responseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ResponseWriter) Terminal() Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

func (r *ResponseWriter) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Bytes()
}

func (r *ResponseWriter) ContentType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contentType == "" {
		return "text/plain"
	}
	return r.contentType
}

func (r *ResponseWriter) LastModified() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastModified, r.hasLastMod
}

func (r *ResponseWriter) Metadata() *metadata.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

func (r *ResponseWriter) Acl() (acl.Acl, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acl, r.hasACL
}

func (r *ResponseWriter) Anchors() []Anchor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anchors
}

func (r *ResponseWriter) DisplayURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayURL
}

func (r *ResponseWriter) CrawlOnce() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.crawlOnce
}

func (r *ResponseWriter) Lock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lock
}

func (r *ResponseWriter) Secure() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.secure
}

func (r *ResponseWriter) NoIndex() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noIndex
}

func (r *ResponseWriter) NoFollow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noFollow
}

func (r *ResponseWriter) NoArchive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noArchive
}
