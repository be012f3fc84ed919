package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/desertthunder/sptoken/internal/shared"
)

func TestBasicRouter(t *testing.T) {
	t.Run("method filtering", func(t *testing.T) {
		r := NewBasicRouter()
		r.HandleFunc("post", "/swap", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/swap", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swap", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.HandleFunc(http.MethodGet, "/", func(http.ResponseWriter, *http.Request) { order = append(order, "handler") })
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("patterns", func(t *testing.T) {
		r := NewBasicRouter()
		r.HandleFunc(http.MethodPost, "/swap", func(http.ResponseWriter, *http.Request) {})
		r.HandleFunc(http.MethodPost, "/refresh", func(http.ResponseWriter, *http.Request) {})

		got := r.Patterns()
		if len(got) != 2 || got[0] != "POST /refresh" || got[1] != "POST /swap" {
			t.Errorf("unexpected patterns %v", got)
		}
	})
}

func TestCallbackHandler(t *testing.T) {
	const redirect = "http://127.0.0.1:3000/callback"

	t.Run("forwards absolute url once", func(t *testing.T) {
		var got []*url.URL
		h, err := NewCallbackHandler(redirect, func(_ context.Context, u *url.URL) bool {
			got = append(got, u)
			return true
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if routes := h.Routes(); len(routes) != 1 || routes[0] != "/callback" {
			t.Fatalf("unexpected routes %v", routes)
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=xyz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if len(got) != 1 || got[0].String() != redirect+"?code=abc&state=xyz" {
			t.Errorf("unexpected forwarded url %v", got)
		}

		select {
		case <-h.Done():
		default:
			t.Error("expected done to be closed")
		}

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=again", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected replay to be rejected, got %d", rec.Code)
		}
		if len(got) != 1 {
			t.Errorf("replay should not be forwarded")
		}
	})

	t.Run("unclaimed callback", func(t *testing.T) {
		h, _ := NewCallbackHandler(redirect, func(context.Context, *url.URL) bool { return false })

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=abc", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}

		select {
		case <-h.Done():
			t.Error("done should stay open")
		default:
		}
	})

	t.Run("error page escapes", func(t *testing.T) {
		h, _ := NewCallbackHandler(redirect, func(context.Context, *url.URL) bool { return true })

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?error=%3Cscript%3E", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "<script>") {
			t.Error("error parameter must be escaped")
		}
	})
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, RequestID(r.Context()))
	})

	t.Run("request id generated and echoed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequestIDMiddleware()(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		id := rec.Header().Get(RequestIDHeader)
		if id == "" || id != rec.Body.String() {
			t.Errorf("expected generated id in header and context, got %q / %q", id, rec.Body.String())
		}
	})

	t.Run("request id reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc")
		rec := httptest.NewRecorder()
		RequestIDMiddleware()(ok).ServeHTTP(rec, req)

		if rec.Body.String() != "abc" {
			t.Errorf("expected incoming id, got %q", rec.Body.String())
		}
	})

	t.Run("logging", func(t *testing.T) {
		var buf bytes.Buffer
		h := LoggingMiddleware(shared.NewLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		if !strings.Contains(buf.String(), "status=418") {
			t.Errorf("expected status in log line, got %q", buf.String())
		}
	})

	t.Run("rate limit per client", func(t *testing.T) {
		h := RateLimitMiddleware(NewRateLimiter(2))(ok)
		do := func(ip string) int {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Forwarded-For", ip)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec.Code
		}

		if do("10.0.0.1") != http.StatusOK || do("10.0.0.1") != http.StatusOK {
			t.Fatal("expected burst to be allowed")
		}
		if code := do("10.0.0.1"); code != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", code)
		}
		if code := do("10.0.0.2"); code != http.StatusOK {
			t.Errorf("expected other client to be allowed, got %d", code)
		}
	})

	t.Run("no cache", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NoCacheMiddleware()(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Header().Get("Cache-Control") != "no-store" {
			t.Errorf("expected no-store, got %q", rec.Header().Get("Cache-Control"))
		}
	})
}

func TestListener(t *testing.T) {
	l, err := Listen("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	}))
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	resp, err := http.Get("http://" + l.Addr())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("unexpected body %q", body)
	}

	if err := l.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err, open := <-l.Err(); open {
		t.Errorf("unexpected serve error: %v", err)
	}
}
