// Package session attaches the authenticated session to each request and
// keeps the browser cookie in step with auth state changes.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"piggybank/internal/auth"
	"piggybank/internal/core"
	applog "piggybank/internal/log"
)

type ctxKey string

const sessionKey ctxKey = "session"

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "piggybank_session"

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *core.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the request's session or nil.
func FromContext(ctx context.Context) *core.Session {
	s, _ := ctx.Value(sessionKey).(*core.Session)
	return s
}

// Authenticator resolves session tokens.
type Authenticator interface {
	GetSession(ctx context.Context, token string) (*core.Session, error)
}

type CookieConfig struct {
	Name   string
	Secure bool
}

// Gate decides per request between the application and the sign-in surface.
type Gate struct {
	auth    Authenticator
	cookie  CookieConfig
	signIn  http.Handler
	timeout time.Duration
	now     func() time.Time
}

// NewGate builds a gate. signIn renders the sign-in surface for full page
// requests that arrive without a session.
func NewGate(a Authenticator, cookie CookieConfig, signIn http.Handler, timeout time.Duration) *Gate {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	return &Gate{auth: a, cookie: cookie, signIn: signIn, timeout: timeout, now: time.Now}
}

// Load resolves the session cookie and attaches the session to the request
// context when it is valid. A cookie that fails to resolve is cleared. Load
// never blocks the request; Require does.
func (g *Gate) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(g.cookie.Name)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		lookupCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		sess, err := g.auth.GetSession(lookupCtx, c.Value)
		if err != nil {
			logger := applog.FromContext(ctx).WithComponent(applog.ComponentSession)
			if errors.Is(err, auth.ErrInvalidToken) {
				logger.DebugContext(ctx, "Discarding invalid session cookie", applog.FieldError, err)
			} else {
				logger.ErrorContext(ctx, "Session initialization failed", applog.FieldError, err)
			}
			g.ClearCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
	})
}

// Require lets the request through only with a session. Otherwise HTMX
// requests are redirected home and full page loads get the sign-in surface.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("HX-Request") == "true" {
			w.Header().Set("HX-Redirect", "/")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		g.signIn.ServeHTTP(w, r)
	})
}

// SetCookie stores the session token in the browser until the session expires.
func (g *Gate) SetCookie(w http.ResponseWriter, s *core.Session) {
	maxAge := int(s.ExpiresAt.Sub(g.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookie.Name,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func (g *Gate) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
