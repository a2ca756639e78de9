// Package adaptor defines the capability interfaces an adaptor
// implementation (in-process Go code, or a subprocess driven by
// cmdstream) exposes to the framework, per the Design Note in §9: small,
// independently-optional interfaces rather than one monolithic type.
package adaptor

import (
	"context"
	"io"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/docid"
)

// Pusher is the callback surface GetDocIds and GetModifiedDocIds use to
// stream Records to the framework as they are discovered, rather than
// building the whole listing in memory first.
type Pusher interface {
	PushRecords(ctx context.Context, records []docid.Record) (docid.DocId, bool, error)
	PushGroupDefinitions(ctx context.Context, groups map[string][]acl.Principal, caseSensitive bool) error
	PushNamedResources(ctx context.Context, resources map[docid.DocId]acl.Acl) error
}

// DocIdProducer (the "Lister" role) supplies the full set of DocIds to
// push on a full-listing pass.
type DocIdProducer interface {
	GetDocIds(ctx context.Context, pusher Pusher) error
}

// PollingIncrementalLister is an optional capability: an adaptor that can
// report only what changed since the last poll, run on a separate,
// shorter schedule than the full listing.
type PollingIncrementalLister interface {
	GetModifiedDocIds(ctx context.Context, pusher Pusher) error
}

// Request is the inbound half of a content-serving exchange.
type Request struct {
	DocID      docid.DocId
	HasAuthn   bool
	Identity   acl.Identity
	RemoteAddr string
	UserAgent  string
}

// Response is the outbound half, per the DocumentHandler response-state
// machine (§4.10): the handler calls these in order, and at most one
// terminal Respond* call is permitted.
type Response interface {
	SetContentType(string)
	SetLastModified(time.Time)
	SetMetadata(view interface{})
	SetAcl(acl.Acl)
	AddAnchor(uri, text string)
	SetDisplayURL(string)
	SetCrawlOnce(bool)
	SetLock(bool)
	SetSecure(bool)
	SetNoIndex(bool)
	SetNoFollow(bool)
	SetNoArchive(bool)

	RespondNotModified() error
	RespondNoContent() error
	RespondNotFound() error

	GetOutputStream() (io.Writer, error)
}

// ContentProvider (the "Retriever" role) serves document content and
// metadata for a single DocId.
type ContentProvider interface {
	GetDocContent(ctx context.Context, req *Request, resp Response) error
}

// AuthzAuthority (the "Authorizer" role) is an optional capability: an
// adaptor that can answer batch authorization queries independent of
// GetDocContent's own authorization checks.
type AuthzAuthority interface {
	IsUserAuthorized(ctx context.Context, identity acl.Identity, docIDs []docid.DocId) (map[docid.DocId]Decision, error)
}

// Decision mirrors acl.Decision at the adaptor-capability boundary so
// this package does not need to re-export acl's type for callers that
// only import adaptor.
type Decision = acl.Decision

// Adaptor aggregates whichever capabilities a concrete implementation
// supports. Fields left nil mean "capability not offered"; callers type-
// assert or nil-check rather than relying on embedding a single big
// interface, matching the core's per-capability optionality.
type Adaptor struct {
	Lister        DocIdProducer
	Incremental   PollingIncrementalLister
	Retriever     ContentProvider
	Authorizer    AuthzAuthority
	MarkAllPublic bool
}

// NoopAuthzAuthority permits every request; adaptors that don't implement
// their own authorization can embed this to satisfy AuthzAuthority
// without writing a body.
type NoopAuthzAuthority struct{}

func (NoopAuthzAuthority) IsUserAuthorized(_ context.Context, _ acl.Identity, docIDs []docid.DocId) (map[docid.DocId]Decision, error) {
	out := make(map[docid.DocId]Decision, len(docIDs))
	for _, id := range docIDs {
		out[id] = acl.Permit
	}
	return out, nil
}
