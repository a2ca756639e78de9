package saml

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/adaptor"
	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/feed"
)

// AuthzHandler implements SamlBatchAuthzHandler (§4.12): the SOAP PDP
// endpoint an indexer or security manager POSTs batches of
// AuthzDecisionQuery to.
type AuthzHandler struct {
	Authority adaptor.AuthzAuthority
	Codec     docid.Codec
	Issuer    string

	// ContentScheme and ContentHost (host[:port], compared with the
	// Resource URL's Host) gate which Resource URLs this adaptor will
	// answer for; a query for a foreign resource yields Indeterminate.
	ContentScheme string
	ContentHost   string
}

func (h *AuthzHandler) matchesContentEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if h.ContentScheme != "" && u.Scheme != h.ContentScheme {
		return false
	}
	return u.Host == h.ContentHost
}

func (h *AuthzHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var envelope authzEnvelope
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	queries := envelope.Body.Queries
	if len(queries) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	nameID := queries[0].Subject.NameID
	for _, q := range queries[1:] {
		if q.Subject.NameID != nameID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	identity := identityFromQueries(nameID, queries)

	type decided struct {
		id       string
		resource string
		decision acl.Decision
	}
	results := make([]decided, len(queries))

	// Resources this adaptor actually owns get batched into one
	// authority call; foreign resources are Indeterminate without
	// consulting the authority at all. ownedIdx is keyed by query index,
	// not DocId, so two queries naming the same resource each still get
	// their own decision instead of one collapsing onto the other.
	var owned []docid.DocId
	ownedIdx := make(map[int]docid.DocId)
	for i, q := range queries {
		results[i] = decided{id: q.ID, resource: q.Resource, decision: acl.Indeterminate}
		if !h.matchesContentEndpoint(q.Resource) {
			continue
		}
		id, err := h.Codec.Decode(q.Resource)
		if err != nil {
			continue
		}
		ownedIdx[i] = id
		owned = append(owned, id)
	}

	if len(owned) > 0 {
		decisions, err := h.callAuthority(r.Context(), identity, owned)
		for idx, id := range ownedIdx {
			if err != nil {
				results[idx].decision = acl.Deny
				continue
			}
			switch decisions[id] {
			case acl.Permit:
				results[idx].decision = acl.Permit
			default:
				results[idx].decision = acl.Deny
			}
		}
	}

	body := make([]authzResult, len(results))
	for i, res := range results {
		body[i] = authzResult{InResponseTo: res.id, Resource: res.resource, Decision: decisionString(res.decision)}
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, buildSOAPResponse(h.Issuer, body))
}

func (h *AuthzHandler) callAuthority(ctx context.Context, identity acl.Identity, ids []docid.DocId) (map[docid.DocId]adaptor.Decision, error) {
	if h.Authority == nil {
		out := make(map[docid.DocId]adaptor.Decision, len(ids))
		for _, id := range ids {
			out[id] = acl.Deny
		}
		return out, nil
	}
	return h.Authority.IsUserAuthorized(ctx, identity, ids)
}

func decisionString(d acl.Decision) string {
	switch d {
	case acl.Permit:
		return "Permit"
	case acl.Deny:
		return "Deny"
	default:
		return "Indeterminate"
	}
}

// identityFromQueries derives the subject identity from the shared
// NameID plus any SecmgrCredential extension carried on the first query
// that has one, per §4.12.
func identityFromQueries(nameID string, queries []authzDecisionQuery) acl.Identity {
	domain := ""
	var groups []acl.Principal
	username := nameID
	for _, q := range queries {
		if q.Extension == nil {
			continue
		}
		if q.Extension.Username != "" {
			username = q.Extension.Username
		}
		domain = q.Extension.Domain
		for _, g := range q.Extension.Groups {
			groups = append(groups, acl.Group(g, domain))
		}
		break
	}
	return acl.Identity{User: acl.User(username, domain), Groups: groups}
}

type authzResult struct {
	InResponseTo string
	Resource     string
	Decision     string
}

// buildSOAPResponse hand-assembles the SOAP envelope containing one
// saml2p:Response per query, matching the feed package's approach of
// exact hand-built XML rather than encoding/xml for outbound documents
// whose byte-for-byte shape is contractually significant.
func buildSOAPResponse(issuer string, results []authzResult) string {
	var b strings.Builder
	b.WriteString(`<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/"><soap-env:Body>`)
	now := time.Now().UTC().Format(time.RFC3339)
	for _, res := range results {
		responseID := "_" + uuid.NewString()
		assertionID := "_" + uuid.NewString()
		fmt.Fprintf(&b, `<saml2p:Response xmlns:saml2p="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion"`)
		fmt.Fprintf(&b, ` ID="%s" InResponseTo="%s" Version="2.0" IssueInstant="%s">`, feed.XMLEscape(responseID), feed.XMLEscape(res.InResponseTo), now)
		fmt.Fprintf(&b, `<saml2:Issuer>%s</saml2:Issuer>`, feed.XMLEscape(issuer))
		b.WriteString(`<saml2p:Status><saml2p:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></saml2p:Status>`)
		fmt.Fprintf(&b, `<saml2:Assertion ID="%s" Version="2.0" IssueInstant="%s">`, feed.XMLEscape(assertionID), now)
		fmt.Fprintf(&b, `<saml2:Issuer>%s</saml2:Issuer>`, feed.XMLEscape(issuer))
		fmt.Fprintf(&b, `<saml2:AuthzDecisionStatement Decision="%s" Resource="%s"/>`, feed.XMLEscape(res.Decision), feed.XMLEscape(res.Resource))
		b.WriteString(`</saml2:Assertion></saml2p:Response>`)
	}
	b.WriteString(`</soap-env:Body></soap-env:Envelope>`)
	return b.String()
}
