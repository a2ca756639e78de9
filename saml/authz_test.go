package saml

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/docid"
)

type fakeAuthority struct {
	permit map[string]bool
}

func (f fakeAuthority) IsUserAuthorized(_ context.Context, _ acl.Identity, ids []docid.DocId) (map[docid.DocId]acl.Decision, error) {
	out := make(map[docid.DocId]acl.Decision, len(ids))
	for _, id := range ids {
		if f.permit[id.String()] {
			out[id] = acl.Permit
		} else {
			out[id] = acl.Deny
		}
	}
	return out, nil
}

const batchSOAPRequest = `<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/"><soap-env:Body>
<AuthzDecisionQuery ID="q1" Resource="http://localhost/doc/1234"><Subject><NameID>joe</NameID></Subject></AuthzDecisionQuery>
<AuthzDecisionQuery ID="q2" Resource="http://localhost/doc/1235"><Subject><NameID>joe</NameID></Subject></AuthzDecisionQuery>
</soap-env:Body></soap-env:Envelope>`

func TestAuthzHandlerBatchPermitAndDeny(t *testing.T) {
	h := &AuthzHandler{
		Authority:     fakeAuthority{permit: map[string]bool{"1234": true, "1235": false}},
		Codec:         docid.Codec{Base: "http://localhost/doc"},
		Issuer:        "https://adaptor.example.com",
		ContentScheme: "http",
		ContentHost:   "localhost",
	}

	req := httptest.NewRequest(http.MethodPost, "/saml-authz", strings.NewReader(batchSOAPRequest))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `InResponseTo="q1"`) || !strings.Contains(body, `InResponseTo="q2"`) {
		t.Fatalf("expected both queries echoed, got %s", body)
	}
	if !strings.Contains(body, `Decision="Permit" Resource="http://localhost/doc/1234"`) {
		t.Errorf("expected doc/1234 permitted, got %s", body)
	}
	if !strings.Contains(body, `Decision="Deny" Resource="http://localhost/doc/1235"`) {
		t.Errorf("expected doc/1235 denied, got %s", body)
	}
}

func TestAuthzHandlerForeignResourceIsIndeterminate(t *testing.T) {
	h := &AuthzHandler{
		Authority:     fakeAuthority{permit: map[string]bool{}},
		Codec:         docid.Codec{Base: "http://localhost/doc"},
		ContentScheme: "http",
		ContentHost:   "localhost",
	}
	const req = `<Envelope><Body><AuthzDecisionQuery ID="q1" Resource="http://other-host/doc/9"><Subject><NameID>joe</NameID></Subject></AuthzDecisionQuery></Body></Envelope>`
	r := httptest.NewRequest(http.MethodPost, "/saml-authz", strings.NewReader(req))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if !strings.Contains(rec.Body.String(), `Decision="Indeterminate"`) {
		t.Fatalf("expected Indeterminate for foreign resource, got %s", rec.Body.String())
	}
}

func TestAuthzHandlerMismatchedNameIDsRejected(t *testing.T) {
	h := &AuthzHandler{Codec: docid.Codec{Base: "http://localhost/doc"}}
	const req = `<Envelope><Body>
<AuthzDecisionQuery ID="q1" Resource="http://localhost/doc/1"><Subject><NameID>joe</NameID></Subject></AuthzDecisionQuery>
<AuthzDecisionQuery ID="q2" Resource="http://localhost/doc/2"><Subject><NameID>jane</NameID></Subject></AuthzDecisionQuery>
</Body></Envelope>`
	r := httptest.NewRequest(http.MethodPost, "/saml-authz", strings.NewReader(req))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched NameIDs, got %d", rec.Code)
	}
}

func TestAuthzHandlerAuthorityErrorDeniesAll(t *testing.T) {
	h := &AuthzHandler{
		Authority:     erroringAuthority{},
		Codec:         docid.Codec{Base: "http://localhost/doc"},
		ContentScheme: "http",
		ContentHost:   "localhost",
	}
	const req = `<Envelope><Body><AuthzDecisionQuery ID="q1" Resource="http://localhost/doc/1"><Subject><NameID>joe</NameID></Subject></AuthzDecisionQuery></Body></Envelope>`
	r := httptest.NewRequest(http.MethodPost, "/saml-authz", strings.NewReader(req))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if !strings.Contains(rec.Body.String(), `Decision="Deny"`) {
		t.Fatalf("expected Deny when authority errors, got %s", rec.Body.String())
	}
}

type erroringAuthority struct{}

func (erroringAuthority) IsUserAuthorized(_ context.Context, _ acl.Identity, ids []docid.DocId) (map[docid.DocId]acl.Decision, error) {
	return nil, context.DeadlineExceeded
}
