// Package docid implements the opaque document identifier and the push
// Record it is carried in, per the core's data model (§3).
package docid

import (
	"fmt"
	"net/url"
	"strings"
)

// DocId is an opaque textual identifier in the back-end's namespace.
// Equality is exact string equality.
type DocId struct {
	id string
}

// New wraps a raw identifier string.
func New(id string) DocId { return DocId{id: id} }

// String returns the raw identifier.
func (d DocId) String() string { return d.id }

// Equal reports exact string equality.
func (d DocId) Equal(o DocId) bool { return d.id == o.id }

// Codec encodes/decodes DocIds into content-endpoint URLs by prepending a
// fixed base and percent-encoding the identifier.
type Codec struct {
	Base string // e.g. "https://adaptor.example.com/doc/"
}

// Encode returns the URL for id under this codec's base.
func (c Codec) Encode(id DocId) string {
	base := strings.TrimSuffix(c.Base, "/")
	return base + "/" + url.PathEscape(id.id)
}

// Decode inverts Encode; it fails if rawURL does not begin with this
// codec's base.
func (c Codec) Decode(rawURL string) (DocId, error) {
	base := strings.TrimSuffix(c.Base, "/") + "/"
	if !strings.HasPrefix(rawURL, base) {
		return DocId{}, fmt.Errorf("docid: url %q does not match base %q", rawURL, base)
	}
	encoded := strings.TrimPrefix(rawURL, base)
	raw, err := url.PathUnescape(encoded)
	if err != nil {
		return DocId{}, fmt.Errorf("docid: invalid percent-encoding: %w", err)
	}
	return DocId{id: raw}, nil
}
