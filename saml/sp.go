package saml

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/feed"
)

// ServiceProvider is this adaptor's SAML 2.0 service provider identity:
// the peer IdP endpoints it talks to and the keypair it signs with, per
// §4.11.
type ServiceProvider struct {
	EntityID           string
	AssertionConsumerURL string
	IdPSSOURL          string
	IdPArtifactResolveURL string
	IdPEntityID        string

	KeyPair *KeyPair

	HTTPClient *http.Client
}

func (sp *ServiceProvider) httpClient() *http.Client {
	if sp.HTTPClient != nil {
		return sp.HTTPClient
	}
	return http.DefaultClient
}

// AuthnRequest is a constructed, ready-to-redirect SAML AuthnRequest.
type AuthnRequest struct {
	ID          string
	RedirectURL string
}

// NewAuthnRequest builds an AuthnRequest for relayState
// (typically the original request URI, so the user resumes where they
// left off) using the HTTP-Redirect binding: the request XML is
// DEFLATE-compressed, base64-encoded, and carried as the SAMLRequest
// query parameter alongside a detached RSA signature, per §6. The
// signature is added only when sp.KeyPair holds a private key; otherwise
// the request is unsigned.
func (sp *ServiceProvider) NewAuthnRequest(relayState string) (*AuthnRequest, error) {
	id := "_" + uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(`<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion"`)
	fmt.Fprintf(&b, ` ID="%s" Version="2.0" IssueInstant="%s"`, feed.XMLEscape(id), now)
	fmt.Fprintf(&b, ` AssertionConsumerServiceURL="%s" Destination="%s">`, feed.XMLEscape(sp.AssertionConsumerURL), feed.XMLEscape(sp.IdPSSOURL))
	fmt.Fprintf(&b, `<saml2:Issuer>%s</saml2:Issuer>`, feed.XMLEscape(sp.EntityID))
	b.WriteString(`</samlp:AuthnRequest>`)

	encoded, err := deflateAndEncode([]byte(b.String()))
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("SAMLRequest", encoded)
	query.Set("RelayState", relayState)

	if sp.KeyPair != nil && sp.KeyPair.PrivateKey != nil {
		query.Set("SigAlg", "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256")
		sig, err := signPayload(sp.KeyPair, []byte(query.Encode()))
		if err != nil {
			return nil, err
		}
		query.Set("Signature", base64.StdEncoding.EncodeToString(sig))
	}

	return &AuthnRequest{
		ID:          id,
		RedirectURL: sp.IdPSSOURL + "?" + query.Encode(),
	}, nil
}

func deflateAndEncode(raw []byte) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", errkind.Wrap(errkind.Unavailable, "saml: deflate authn request", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", errkind.Wrap(errkind.Unavailable, "saml: deflate authn request", err)
	}
	if err := w.Close(); err != nil {
		return "", errkind.Wrap(errkind.Unavailable, "saml: deflate authn request", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolvedIdentity is the outcome of a successfully resolved artifact:
// the caller's identity plus the original InResponseTo so the consumer
// can correlate it with the stored AuthnState.
type ResolvedIdentity struct {
	InResponseTo string
	Recipient    string
	NotOnOrAfter time.Time
	Identity     acl.Identity
}

// ResolveArtifact POSTs a soap:ArtifactResolve for artifact to the IdP's
// backchannel and returns the resolved identity. It checks both statuses
// and that the Issuer matches IdPEntityID; the InResponseTo, expiry and
// Recipient checks of §4.11 step (c)-(e) are left to the caller.
func (sp *ServiceProvider) ResolveArtifact(ctx context.Context, artifact string) (*ResolvedIdentity, error) {
	id := "_" + uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(`<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/"><soap-env:Body>`)
	b.WriteString(`<samlp:ArtifactResolve xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion"`)
	fmt.Fprintf(&b, ` ID="%s" Version="2.0" IssueInstant="%s">`, feed.XMLEscape(id), now)
	fmt.Fprintf(&b, `<saml2:Issuer>%s</saml2:Issuer>`, feed.XMLEscape(sp.EntityID))
	fmt.Fprintf(&b, `<samlp:Artifact>%s</samlp:Artifact>`, feed.XMLEscape(artifact))
	b.WriteString(`</samlp:ArtifactResolve></soap-env:Body></soap-env:Envelope>`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sp.IdPArtifactResolveURL, strings.NewReader(b.String()))
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "saml: build artifact resolve request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := sp.httpClient().Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientFailure, "saml: artifact resolve request failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientFailure, "saml: read artifact resolve response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.New(errkind.TransientFailure, fmt.Sprintf("saml: artifact resolve returned status %d", resp.StatusCode))
	}

	var envelope artifactResponseEnvelope
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		return nil, errkind.Wrap(errkind.MalformedStream, "saml: decode artifact response", err)
	}

	if envelope.Body.ArtifactResponse.Status.StatusCode.Value != statusSuccess {
		return nil, errkind.New(errkind.ContractViolation, "saml: artifact resolve status not Success")
	}
	inner := envelope.Body.ArtifactResponse.Response
	if inner == nil {
		return nil, errkind.New(errkind.ContractViolation, "saml: artifact response missing embedded Response")
	}
	if inner.Status.StatusCode.Value != statusSuccess {
		return nil, errkind.New(errkind.ContractViolation, "saml: embedded response status not Success")
	}
	if inner.Issuer != sp.IdPEntityID {
		return nil, errkind.New(errkind.ContractViolation, "saml: response issuer does not match configured peer")
	}
	if inner.Assertion == nil {
		return nil, errkind.New(errkind.ContractViolation, "saml: response missing assertion")
	}

	notOnOrAfter, err := time.Parse(time.RFC3339, inner.Assertion.Conditions.NotOnOrAfter)
	if err != nil {
		return nil, errkind.Wrap(errkind.MalformedStream, "saml: parse assertion NotOnOrAfter", err)
	}

	identity := identityFromAssertion(inner.Assertion)

	return &ResolvedIdentity{
		InResponseTo: inner.InResponseTo,
		Recipient:    inner.Assertion.Subject.SubjectConfirmation.SubjectConfirmationData.Recipient,
		NotOnOrAfter: notOnOrAfter,
		Identity:     identity,
	}, nil
}

// identityFromAssertion prefers the Security-Manager extension
// attribute, falling back to the bare NameID, per §4.11.
func identityFromAssertion(a *samlAssertion) acl.Identity {
	var username, domain string
	var groupNames []string
	for _, attr := range a.Attributes {
		switch attr.Name {
		case secmgrUsernameAttr:
			if len(attr.Values) > 0 {
				username = attr.Values[0]
			}
		case secmgrDomainAttr:
			if len(attr.Values) > 0 {
				domain = attr.Values[0]
			}
		case secmgrGroupsAttr:
			groupNames = attr.Values
		}
	}
	if username == "" {
		username = a.Subject.NameID
	}
	groups := make([]acl.Principal, 0, len(groupNames))
	for _, g := range groupNames {
		groups = append(groups, acl.Group(g, domain))
	}
	return acl.Identity{User: acl.User(username, domain), Groups: groups}
}
