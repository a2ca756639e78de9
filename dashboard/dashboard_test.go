package dashboard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/contentbridge/adaptor/config"
	"github.com/contentbridge/adaptor/journal"
)

func newTestHandler(t *testing.T) (*echo.Echo, *RpcHandler) {
	t.Helper()
	cfg := config.New()
	if err := cfg.AddKey("gsa.hostname", "gsa.example.com", true, nil); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := cfg.AddKey("feed.secret", "s3kr3t", true, nil); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	h := New(cfg, journal.New(nil))
	e := echo.New()
	h.Register(e)
	return e, h
}

func postRPC(e *echo.Echo, body, xsrf, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/r", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if xsrf != "" {
		req.Header.Set("X-XSRF-Token", xsrf)
	}
	if cookie != "" {
		req.Header.Set("Cookie", CookieName+"="+cookie)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestFirstRequestWithoutTokenGets409WithChallenge(t *testing.T) {
	e, _ := newTestHandler(t)
	rec := postRPC(e, `{"id":1,"method":"getConfig"}`, "", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var challenge xsrfChallenge
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.Token == "" {
		t.Fatal("expected a non-empty token")
	}
	if rec.Header().Get("Set-Cookie") == "" {
		t.Fatal("expected a session cookie to be set")
	}
}

func TestValidTokenAllowsGetConfigAndMasksSecrets(t *testing.T) {
	e, _ := newTestHandler(t)
	challenge := postRPC(e, `{"id":1,"method":"getConfig"}`, "", "")

	var setCookie string
	for _, c := range challenge.Result().Cookies() {
		if c.Name == CookieName {
			setCookie = c.Value
		}
	}
	var ch xsrfChallenge
	_ = json.Unmarshal(challenge.Body.Bytes(), &ch)

	rec := postRPC(e, `{"id":2,"method":"getConfig"}`, ch.Token, setCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	if result["gsa.hostname"] != "gsa.example.com" {
		t.Fatalf("expected hostname passthrough, got %v", result["gsa.hostname"])
	}
	if result["feed.secret"] != "***" {
		t.Fatalf("expected secret masked, got %v", result["feed.secret"])
	}
}

func TestMismatchedTokenIsForbidden(t *testing.T) {
	e, _ := newTestHandler(t)
	challenge := postRPC(e, `{"id":1,"method":"getConfig"}`, "", "")
	var setCookie string
	for _, c := range challenge.Result().Cookies() {
		if c.Name == CookieName {
			setCookie = c.Value
		}
	}
	rec := postRPC(e, `{"id":2,"method":"getConfig"}`, "wrong-token", setCookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetRIsMethodNotAllowed(t *testing.T) {
	e, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/r", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestGetVersionReturnsBuildInfo(t *testing.T) {
	e, _ := newTestHandler(t)
	challenge := postRPC(e, `{"id":1,"method":"getConfig"}`, "", "")
	var setCookie string
	for _, c := range challenge.Result().Cookies() {
		if c.Name == CookieName {
			setCookie = c.Value
		}
	}
	var ch xsrfChallenge
	_ = json.Unmarshal(challenge.Body.Bytes(), &ch)

	rec := postRPC(e, `{"id":4,"method":"getVersion"}`, ch.Token, setCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected RPC error: %s", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	if _, ok := result["goVersion"]; !ok {
		t.Fatal("expected goVersion field in build info")
	}
}

func TestUnknownMethodReturnsRPCError(t *testing.T) {
	e, _ := newTestHandler(t)
	challenge := postRPC(e, `{"id":1,"method":"getConfig"}`, "", "")
	var setCookie string
	for _, c := range challenge.Result().Cookies() {
		if c.Name == CookieName {
			setCookie = c.Value
		}
	}
	var ch xsrfChallenge
	_ = json.Unmarshal(challenge.Body.Bytes(), &ch)

	rec := postRPC(e, `{"id":3,"method":"doesNotExist"}`, ch.Token, setCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with RPC-level error, got %d", rec.Code)
	}
	var resp Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == "" {
		t.Fatal("expected an RPC error for unknown method")
	}
}
