// Package cmdstream parses the self-delimiting, token-oriented wire
// protocol a subprocess-based adaptor speaks to the framework, per §4.2.
package cmdstream

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/metadata"
)

// headerPrefixPattern matches "GSA Adaptor Data Version 1 " up to (not
// including) the opening '[' of the delimiter declaration.
var headerPrefixPattern = regexp.MustCompile(`^GSA Adaptor Data Version (\d+) $`)

// disallowedDelimChars matches a delimiter built exclusively from
// structural bytes, which the header grammar does not allow: a legal
// delimiter must contain at least one byte outside this set (ASCII
// letters, digits, and a small set of structural characters) so it can
// never be confused with ordinary body content.
var disallowedDelimChars = regexp.MustCompile(`^[A-Za-z0-9:/_\- =+\[\]]+$`)

// Parser reads a CommandStreamParser-formatted stream from r.
type Parser struct {
	r       *bufio.Reader
	delim   []byte
	version int
}

// NewParser reads and validates the header line, returning a Parser ready
// to read the body in one of the three modes below. An invalid header,
// unsupported version, or empty/disallowed delimiter fails with
// MALFORMED_STREAM.
//
// The header cannot be read with a plain line scan: the delimiter itself
// is free to contain a '\n' byte (a bare newline is in fact the common
// case), so the true end of the header is the first "]\n" byte pair that
// follows the opening '[', not the first '\n' in the stream.
func NewParser(r io.Reader) (*Parser, error) {
	br := bufio.NewReader(r)

	prefix, err := readUntilByte(br, '[')
	if err != nil {
		return nil, errkind.Wrap(errkind.MalformedStream, "cmdstream: read header prefix", err)
	}
	m := headerPrefixPattern.FindStringSubmatch(prefix)
	if m == nil {
		return nil, errkind.New(errkind.MalformedStream, "cmdstream: invalid header line: "+prefix)
	}
	version, err := strconv.Atoi(m[1])
	if err != nil || version != 1 {
		return nil, errkind.New(errkind.MalformedStream, "cmdstream: unsupported version: "+m[1])
	}

	delim, err := readDelimiterDeclaration(br)
	if err != nil {
		return nil, err
	}
	if len(delim) == 0 {
		return nil, errkind.New(errkind.MalformedStream, "cmdstream: empty delimiter")
	}
	if disallowedDelimChars.Match(delim) {
		return nil, errkind.New(errkind.MalformedStream, "cmdstream: delimiter must contain a non-structural byte: "+string(delim))
	}
	return &Parser{r: br, delim: delim, version: version}, nil
}

// readUntilByte reads and returns the bytes up to (excluding) the first
// occurrence of target, consuming target itself.
func readUntilByte(br *bufio.Reader, target byte) (string, error) {
	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == target {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}

// readDelimiterDeclaration reads the bytes of a "[<DELIM>]\n" declaration,
// having already consumed the opening '[', and returns <DELIM>. It scans
// for the first "]\n" byte pair rather than the first '\n' byte, since
// <DELIM> may itself contain one.
func readDelimiterDeclaration(br *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, errkind.Wrap(errkind.MalformedStream, "cmdstream: read header delimiter", err)
		}
		buf = append(buf, b)
		n := len(buf)
		if n >= 2 && buf[n-2] == ']' && buf[n-1] == '\n' {
			return buf[:n-2], nil
		}
	}
}

// token is one delimiter-separated body field, either "key=value" or a
// bare keyword.
type token struct {
	key   string
	value string
	bare  bool
}

// readRawToken reads up to (and consuming) the next occurrence of the
// delimiter, or to EOF. ok is false once the stream is exhausted with no
// further bytes.
func (p *Parser) readRawToken() (string, bool, error) {
	var buf []byte
	dlen := len(p.delim)
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if len(buf) == 0 {
					return "", false, nil
				}
				return string(buf), true, nil
			}
			return "", false, errkind.Wrap(errkind.MalformedStream, "cmdstream: read body", err)
		}
		buf = append(buf, b)
		if len(buf) >= dlen && bytesEqual(buf[len(buf)-dlen:], p.delim) {
			return string(buf[:len(buf)-dlen]), true, nil
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p *Parser) nextToken() (token, bool, error) {
	raw, ok, err := p.readRawToken()
	if err != nil || !ok {
		return token{}, ok, err
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] == '=' {
			return token{key: raw[:i], value: raw[i+1:]}, true, nil
		}
	}
	return token{key: raw, bare: true}, true, nil
}

// PushFunc receives decoded Records from ReadFromLister.
type PushFunc func(docid.Record) error

// ReadFromLister parses a full-listing body, invoking push for each
// completed Record as it is seen. A stray non-"id=" token before the
// first "id=" fails MALFORMED_STREAM. Supports an "id-list" block (bare
// id tokens until a blank token) interleaved with per-record attribute
// blocks.
func (p *Parser) ReadFromLister(push PushFunc) error {
	var current *docid.Builder
	haveID := false

	flush := func() error {
		if current != nil {
			return push(current.Build())
		}
		return nil
	}

	for {
		tok, ok, err := p.nextToken()
		if err != nil {
			return err
		}
		if !ok {
			return flush()
		}

		if tok.bare && tok.key == "id-list" {
			if err := flush(); err != nil {
				return err
			}
			current, haveID = nil, false
			if err := p.readIDList(push); err != nil {
				return err
			}
			continue
		}

		if tok.key == "id" {
			if err := flush(); err != nil {
				return err
			}
			current = docid.NewBuilder(docid.New(tok.value))
			haveID = true
			continue
		}

		if !haveID {
			return errkind.New(errkind.MalformedStream, "cmdstream: attribute before first id=: "+tok.key)
		}
		applyRecordAttribute(current, tok)
	}
}

// readIDList reads bare id tokens until an empty token (two consecutive
// delimiters), pushing a bare Record for each.
func (p *Parser) readIDList(push PushFunc) error {
	for {
		tok, ok, err := p.nextToken()
		if err != nil {
			return err
		}
		if !ok || tok.key == "" {
			return nil
		}
		if err := push(docid.NewBuilder(docid.New(tok.key)).Build()); err != nil {
			return err
		}
	}
}

func applyRecordAttribute(b *docid.Builder, tok token) {
	switch tok.key {
	case "delete":
		b.SetDeleteFromIndex(true)
	case "crawl-immediately":
		b.SetCrawlImmediately(true)
	case "crawl-once":
		b.SetCrawlOnce(true)
	case "lock":
		b.SetLock(true)
	case "last-modified":
		if secs, err := strconv.ParseInt(tok.value, 10, 64); err == nil {
			b.SetLastModified(time.Unix(secs, 0))
		}
	case "result-link":
		b.SetResultLink(tok.value)
	}
}

// RetrievalResponse is what ReadFromRetriever decodes: flags, metadata,
// and the raw content bytes.
type RetrievalResponse struct {
	UpToDate     bool
	Secure       bool
	NoIndex      bool
	NoFollow     bool
	NoArchive    bool
	CrawlOnce    bool
	Lock         bool
	DisplayURL   string
	LastModified time.Time
	Metadata     *metadata.Metadata
	AnchorURIs   []string
	AnchorTexts  []string
	Content      io.Reader
}

// ReadFromRetriever parses a single retrieval response: flags, optional
// display-url/last-modified, repeated meta-name/meta-value pairs,
// anchor-uri/anchor-text pairs, and finally a "content" token followed by
// a newline and the raw bytes to end of stream.
func (p *Parser) ReadFromRetriever() (*RetrievalResponse, error) {
	resp := &RetrievalResponse{Metadata: metadata.New()}
	var pendingMetaName string
	var pendingAnchorURI string

	for {
		// With a delimiter other than a newline, "content" is closed by its
		// own newline rather than by the delimiter.
		if string(p.delim) != "\n" {
			if b, err := p.r.Peek(8); err == nil && string(b) == "content\n" {
				p.r.Discard(8)
				resp.Content = p.r
				return resp, nil
			}
		}
		tok, ok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp, nil
		}
		switch tok.key {
		case "up-to-date":
			resp.UpToDate = true
		case "secure":
			resp.Secure = true
		case "no-index":
			resp.NoIndex = true
		case "no-follow":
			resp.NoFollow = true
		case "no-archive":
			resp.NoArchive = true
		case "crawl-once":
			resp.CrawlOnce = true
		case "lock":
			resp.Lock = true
		case "display-url":
			resp.DisplayURL = tok.value
		case "last-modified":
			if secs, err := strconv.ParseInt(tok.value, 10, 64); err == nil {
				resp.LastModified = time.Unix(secs, 0)
			}
		case "meta-name":
			pendingMetaName = tok.value
		case "meta-value":
			if pendingMetaName != "" {
				resp.Metadata.Add(pendingMetaName, tok.value)
				pendingMetaName = ""
			}
		case "anchor-uri":
			pendingAnchorURI = tok.value
		case "anchor-text":
			resp.AnchorURIs = append(resp.AnchorURIs, pendingAnchorURI)
			resp.AnchorTexts = append(resp.AnchorTexts, tok.value)
			pendingAnchorURI = ""
		case "content":
			// "content" is followed by a literal newline, then raw bytes
			// to end of stream (no further delimiter splitting applies).
			if b, err := p.r.Peek(1); err == nil && len(b) == 1 && b[0] == '\n' {
				p.r.Discard(1)
			}
			resp.Content = p.r
			return resp, nil
		}
	}
}

// AuthzDecision is the three-valued outcome ReadFromAuthorizer emits per
// DocId.
type AuthzDecision int

const (
	AuthzPermit AuthzDecision = iota
	AuthzDeny
	AuthzIndeterminate
)

// ReadFromAuthorizer parses a batch authorization response: a map from
// DocId to decision. A "repository-unavailable" directive fails
// UNAVAILABLE. A non-"id=" token before the first "id=" fails
// MALFORMED_STREAM. Unknown keys are ignored for forward compatibility.
func (p *Parser) ReadFromAuthorizer() (map[docid.DocId]AuthzDecision, error) {
	results := make(map[docid.DocId]AuthzDecision)
	var current *docid.DocId

	for {
		tok, ok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		if !ok {
			return results, nil
		}
		if tok.bare && tok.key == "repository-unavailable" {
			return nil, errkind.New(errkind.Unavailable, "cmdstream: repository-unavailable")
		}
		if tok.key == "id" {
			id := docid.New(tok.value)
			current = &id
			continue
		}
		if current == nil {
			return nil, errkind.New(errkind.MalformedStream, "cmdstream: attribute before first id=: "+tok.key)
		}
		switch tok.key {
		case "permit":
			results[*current] = AuthzPermit
		case "deny":
			results[*current] = AuthzDeny
		case "indeterminate":
			results[*current] = AuthzIndeterminate
		}
	}
}
