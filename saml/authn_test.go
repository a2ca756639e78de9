package saml

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentbridge/adaptor/session"
)

func newTestAuthnService(t *testing.T) *AuthnService {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &AuthnService{
		SP: &ServiceProvider{
			EntityID:             "https://adaptor.example.com",
			AssertionConsumerURL: "https://adaptor.example.com/saml-assertion-consumer",
			IdPSSOURL:            "https://idp.example.com/sso",
		},
		Sessions: session.NewManager(client, "sess:", 5*time.Minute),
	}
}

func TestBeginAuthnRedirectsToInitiatePathWithOriginalURI(t *testing.T) {
	a := newTestAuthnService(t)
	r := httptest.NewRequest(http.MethodGet, "/doc/1234?foo=bar", nil)
	w := httptest.NewRecorder()

	a.BeginAuthn(w, r)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, InitiatePath, loc.Path)
	assert.Equal(t, "/doc/1234?foo=bar", loc.Query().Get(returnParam))
}

func TestInitiateHandlerRejectsNonGetHead(t *testing.T) {
	a := newTestAuthnService(t)
	r := httptest.NewRequest(http.MethodPost, InitiatePath, nil)
	w := httptest.NewRecorder()

	a.InitiateHandler(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestInitiateHandlerRedirectsToIdPAndRecordsAttempt(t *testing.T) {
	a := newTestAuthnService(t)
	target := InitiatePath + "?" + url.Values{returnParam: {"/doc/1234"}}.Encode()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()

	a.InitiateHandler(w, r)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	assert.Contains(t, loc, a.SP.IdPSSOURL+"?")
	assert.Contains(t, loc, "SAMLRequest=")

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)

	state, ok, err := a.Sessions.Get(r.Context(), cookies[0].Value)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StartAttempt, state.Status)
	assert.Equal(t, "/doc/1234", state.OriginalURI)
}
