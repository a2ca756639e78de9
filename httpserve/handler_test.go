package httpserve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/adaptor"
	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/journal"
	"github.com/contentbridge/adaptor/watchdog"
)

type fakeRetriever struct {
	respond func(ctx context.Context, resp adaptor.Response) error
}

func (f fakeRetriever) GetDocContent(ctx context.Context, _ *adaptor.Request, resp adaptor.Response) error {
	return f.respond(ctx, resp)
}

func newHandler(retriever adaptor.ContentProvider) *Handler {
	return &Handler{
		Adaptor: adaptor.Adaptor{Retriever: retriever, MarkAllPublic: true},
		Codec:   docid.Codec{Base: "https://adaptor.example.com/doc"},
		Journal: journal.New(nil),
	}
}

func TestHandlerServesContentBody(t *testing.T) {
	h := newHandler(fakeRetriever{respond: func(ctx context.Context, resp adaptor.Response) error {
		resp.SetContentType("text/plain")
		out, err := resp.GetOutputStream()
		if err != nil {
			return err
		}
		_, err = out.Write([]byte("hello world"))
		return err
	}})

	req := httptest.NewRequest(http.MethodGet, "https://adaptor.example.com/doc/abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello world" {
		t.Errorf("got body %q", rec.Body.String())
	}
}

func TestHandlerGzipResponseOmitsUncompressedContentLength(t *testing.T) {
	h := newHandler(fakeRetriever{respond: func(ctx context.Context, resp adaptor.Response) error {
		resp.SetContentType("text/plain")
		out, err := resp.GetOutputStream()
		if err != nil {
			return err
		}
		_, err = out.Write([]byte("hello world"))
		return err
	}})

	req := httptest.NewRequest(http.MethodGet, "https://adaptor.example.com/doc/abc", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip Content-Encoding, got %q", rec.Header().Get("Content-Encoding"))
	}
	if cl := rec.Header().Get("Content-Length"); cl != "" {
		t.Errorf("expected no Content-Length header on a gzip response (actual length differs from uncompressed), got %q", cl)
	}
}

func TestHandlerRespondNotModified(t *testing.T) {
	h := newHandler(fakeRetriever{respond: func(ctx context.Context, resp adaptor.Response) error {
		return resp.RespondNotModified()
	}})
	req := httptest.NewRequest(http.MethodGet, "https://adaptor.example.com/doc/abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec.Code)
	}
}

func TestHandlerRespondNoContentIndexerVsNonIndexer(t *testing.T) {
	h := newHandler(fakeRetriever{respond: func(ctx context.Context, resp adaptor.Response) error {
		return resp.RespondNoContent()
	}})
	h.IndexerUserAgent = "gsa-crawler"

	req := httptest.NewRequest(http.MethodGet, "https://adaptor.example.com/doc/abc", nil)
	req.Header.Set("User-Agent", "gsa-crawler/1.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for indexer request, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "https://adaptor.example.com/doc/abc", nil)
	req2.Header.Set("User-Agent", "Mozilla/5.0")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotModified {
		t.Errorf("expected 304 for non-indexer request, got %d", rec2.Code)
	}
}

func TestHandlerDecodeFailureReturns404(t *testing.T) {
	h := newHandler(fakeRetriever{respond: func(context.Context, adaptor.Response) error { return nil }})
	req := httptest.NewRequest(http.MethodGet, "https://other.example.com/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerAuthorizationDeny(t *testing.T) {
	h := newHandler(fakeRetriever{respond: func(context.Context, adaptor.Response) error { return nil }})
	h.Adaptor.Authorizer = denyAll{}
	req := httptest.NewRequest(http.MethodGet, "https://adaptor.example.com/doc/abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandlerWatchdogInterruptYields403(t *testing.T) {
	h := newHandler(fakeRetriever{respond: func(ctx context.Context, resp adaptor.Response) error {
		<-ctx.Done()
		return nil
	}})
	h.HeaderTimeout = 10 * time.Millisecond
	h.Watchdog = watchdog.New()

	req := httptest.NewRequest(http.MethodGet, "https://adaptor.example.com/doc/abc", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after watchdog deadline")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 on watchdog interrupt, got %d", rec.Code)
	}
}

type denyAll struct{}

func (denyAll) IsUserAuthorized(_ context.Context, _ acl.Identity, ids []docid.DocId) (map[docid.DocId]adaptor.Decision, error) {
	out := make(map[docid.DocId]adaptor.Decision, len(ids))
	for _, id := range ids {
		out[id] = acl.Deny
	}
	return out, nil
}
