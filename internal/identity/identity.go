// Package identity provides per-device conversation identity primitives.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionCookieName persists the conversation id across page loads for
	// browser clients.
	SessionCookieName = "concierge_session_id"
	// SessionHeaderName lets API clients pin the conversation id explicitly.
	SessionHeaderName = "X-Concierge-Session-ID"

	sessionCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// WithSessionID stores the conversation id on the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the conversation id from the context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// NewSessionID mints a fresh conversation id.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// Sanitize validates a client-supplied conversation id.
func Sanitize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// FromRequest resolves the conversation id from header, query, or cookie, in
// that order. Empty when none is present or valid.
func FromRequest(r *http.Request) string {
	for _, candidate := range []string{
		r.Header.Get(SessionHeaderName),
		r.URL.Query().Get("session_id"),
	} {
		if id, ok := Sanitize(candidate); ok {
			return id
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if id, ok := Sanitize(c.Value); ok {
			return id
		}
	}
	return ""
}

// Middleware injects a conversation id into the request context, minting and
// setting a cookie when the client has none.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromRequest(r)
			if id == "" {
				id = NewSessionID()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    id,
					Path:     "/",
					MaxAge:   int(sessionCookieMaxAge.Seconds()),
					Expires:  time.Now().Add(sessionCookieMaxAge),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					Secure:   !isDev,
				})
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting and request
// tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
