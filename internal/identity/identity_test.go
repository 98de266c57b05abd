package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	if _, ok := Sanitize("sess_abc-123.X:y"); !ok {
		t.Fatalf("expected valid id to pass")
	}
	for _, bad := range []string{"", "  ", "has space", "sess/../../etc", strings.Repeat("a", 129)} {
		if _, ok := Sanitize(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestFromRequestPrefersHeader(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	r.Header.Set(SessionHeaderName, "from-header")
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-cookie"})

	if got := FromRequest(r); got != "from-header" {
		t.Fatalf("expected header to win, got %q", got)
	}

	r.Header.Del(SessionHeaderName)
	if got := FromRequest(r); got != "from-query" {
		t.Fatalf("expected query fallback, got %q", got)
	}
}

func TestMiddlewareMintsSessionID(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" || !strings.HasPrefix(seen, "sess_") {
		t.Fatalf("expected minted session id, got %q", seen)
	}
	cookie := rec.Result().Cookies()
	if len(cookie) != 1 || cookie[0].Name != SessionCookieName || cookie[0].Value != seen {
		t.Fatalf("expected cookie with minted id, got %+v", cookie)
	}
}

func TestMiddlewareKeepsExistingID(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(SessionHeaderName, "sess_existing")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if seen != "sess_existing" {
		t.Fatalf("expected existing id to be kept, got %q", seen)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("no cookie should be set when the client supplied an id")
	}
}
