package saml

import (
	"net/http"
	"net/url"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/logging"
	"github.com/contentbridge/adaptor/session"
)

// CookieName is the session cookie AuthnService reads and sets.
const CookieName = "adaptor-session"

// InitiatePath is the §6 AuthnHandler route ("SAML authentication
// endpoints: GET /saml-authn (initiates)"). DocumentHandler redirects
// here rather than building the AuthnRequest itself, per §4.10 step 2.
const InitiatePath = "/saml-authn"

// returnParam carries the original content URL the caller was denied,
// across the DocumentHandler -> /saml-authn redirect, so InitiateHandler
// can still record it as the AuthnState's post-login destination.
const returnParam = "return"

// AuthnService implements httpserve.Authenticator: it resolves a
// request's identity from its session cookie, and when absent, starts a
// SAML authentication attempt by redirecting to the IdP.
type AuthnService struct {
	SP       *ServiceProvider
	Sessions *session.Manager

	// CookieSecure marks the session cookie Secure; set for HTTPS
	// deployments.
	CookieSecure bool
}

// Identity implements httpserve.Authenticator.
func (a *AuthnService) Identity(r *http.Request) (acl.Identity, bool) {
	return a.identity(r)
}

// BeginAuthn implements httpserve.Authenticator: per §4.10 step 2, an
// unauthenticated interactive client is redirected to the AuthnHandler
// endpoint (InitiatePath), carrying the original content URL along so
// InitiateHandler can send the user back there after login. It does not
// itself talk to the IdP; that happens once the client follows the
// redirect to InitiatePath.
func (a *AuthnService) BeginAuthn(w http.ResponseWriter, r *http.Request) {
	target := InitiatePath + "?" + url.Values{returnParam: {r.URL.RequestURI()}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// InitiateHandler serves GET|HEAD InitiatePath, per §4.11 and §6: any
// other method fails with 405. It allocates a fresh session, builds and
// signs the AuthnRequest, records a START_ATTEMPT naming the original
// content URL (carried in the returnParam query parameter) as the
// post-login destination, and 307-redirects to the IdP's SSO endpoint.
func (a *AuthnService) InitiateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	id := a.Sessions.NewSession()

	originalURI := r.URL.Query().Get(returnParam)
	if originalURI == "" {
		originalURI = "/"
	}

	authnReq, err := a.SP.NewAuthnRequest(originalURI)
	if err != nil {
		logging.Logger().WithError(err).Error("saml: failed to build AuthnRequest")
		http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := a.Sessions.BeginAttempt(ctx, id, authnReq.ID, originalURI); err != nil {
		logging.Logger().WithError(err).Error("saml: failed to record AuthnState")
		http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.CookieSecure,
		Expires:  time.Now().Add(10 * time.Minute),
	})
	http.Redirect(w, r, authnReq.RedirectURL, http.StatusTemporaryRedirect)
}

// ServeHTTP implements the GET|HEAD /saml-assertion-consumer endpoint:
// resolves the SAMLart artifact and, on success, transitions the
// session to AUTHENTICATED and redirects back to the original URI.
func (a *AuthnService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	ctx := r.Context()
	state, ok, err := a.Sessions.Get(ctx, cookie.Value)
	if err != nil || !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if state.Status == session.Authenticated {
		w.WriteHeader(http.StatusConflict)
		return
	}
	if state.Status != session.StartAttempt {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	artifact := r.URL.Query().Get("SAMLart")
	if artifact == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	resolved, err := a.SP.ResolveArtifact(ctx, artifact)
	if err != nil {
		logging.Logger().WithError(err).Warn("saml: artifact resolution failed")
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if resolved.InResponseTo != state.SamlRequestID {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if !resolved.NotOnOrAfter.After(time.Now()) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if resolved.Recipient != "" && resolved.Recipient != a.SP.AssertionConsumerURL {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if err := a.Sessions.Authenticate(ctx, cookie.Value, resolved.Identity); err != nil {
		logging.Logger().WithError(err).Error("saml: failed to store authenticated identity")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	redirectTo := state.OriginalURI
	if redirectTo == "" {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusTemporaryRedirect)
}

func (a *AuthnService) identity(r *http.Request) (identity acl.Identity, ok bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return identity, false
	}
	state, found, err := a.Sessions.Get(r.Context(), cookie.Value)
	if err != nil || !found || state.Status != session.Authenticated {
		return identity, false
	}
	return state.Identity, true
}
