package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggybank/internal/auth"
	"piggybank/internal/core"
	applog "piggybank/internal/log"
)

type fakeAuth struct {
	sessions map[string]*core.Session
	err      error
	calls    int
}

func (f *fakeAuth) GetSession(_ context.Context, token string) (*core.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.sessions[token]; ok {
		return s, nil
	}
	return nil, auth.ErrInvalidToken
}

var signInSurface = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("sign-in"))
})

func newGate(a Authenticator) *Gate {
	return NewGate(a, CookieConfig{}, signInSurface, time.Second)
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	s := FromContext(r.Context())
	if s == nil {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte("user:" + s.UserID()))
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestGateAttachesValidSession(t *testing.T) {
	fa := &fakeAuth{sessions: map[string]*core.Session{
		"tok": {ID: "s1", User: core.User{ID: "u1"}, Token: "tok"},
	}}
	g := newGate(fa)
	h := g.Load(g.Require(http.HandlerFunc(echoUser)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user:u1", rec.Body.String())
	assert.Nil(t, cookieNamed(rec, DefaultCookieName))
}

func TestGateShowsSignInWithoutSession(t *testing.T) {
	fa := &fakeAuth{}
	g := newGate(fa)
	h := g.Load(g.Require(http.HandlerFunc(echoUser)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sign-in", rec.Body.String())
	assert.Zero(t, fa.calls, "no cookie means no auth lookup")
}

func TestGateRedirectsHTMXRequests(t *testing.T) {
	g := newGate(&fakeAuth{})
	called := false
	h := g.Load(g.Require(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })))

	req := httptest.NewRequest(http.MethodPost, "/goals", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("HX-Redirect"))
}

func TestGateRedirectsPlainPosts(t *testing.T) {
	g := newGate(&fakeAuth{})
	h := g.Load(g.Require(http.HandlerFunc(echoUser)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deposits", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestGateClearsBadCookie(t *testing.T) {
	tests := []struct {
		name string
		auth *fakeAuth
	}{
		{"invalid token", &fakeAuth{}},
		{"backend failure", &fakeAuth{err: errors.New("backend down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(tt.auth)
			h := g.Load(g.Require(http.HandlerFunc(echoUser)))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "stale"})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, "sign-in", rec.Body.String())
			c := cookieNamed(rec, DefaultCookieName)
			require.NotNil(t, c)
			assert.Equal(t, -1, c.MaxAge)
			assert.Equal(t, 1, tt.auth.calls, "no retry")
		})
	}
}

func TestSetCookie(t *testing.T) {
	g := NewGate(&fakeAuth{}, CookieConfig{Name: "sid", Secure: true}, signInSurface, 0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	g.SetCookie(rec, &core.Session{Token: "tok", ExpiresAt: now.Add(time.Hour)})

	c := cookieNamed(rec, "sid")
	require.NotNil(t, c)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, 3600, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

type fakeSubscriber struct {
	listener auth.Listener
}

func (f *fakeSubscriber) OnAuthStateChange(l auth.Listener) *auth.Subscription {
	f.listener = l
	return &auth.Subscription{}
}

type fakeCache struct{ invalidated []string }

func (f *fakeCache) InvalidateUser(userID string) { f.invalidated = append(f.invalidated, userID) }

func TestWatchDropsCacheOnSignOut(t *testing.T) {
	sub := &fakeSubscriber{}
	c := &fakeCache{}
	Watch(sub, c, applog.New(applog.DefaultConfig()))
	require.NotNil(t, sub.listener)

	ctx := context.Background()
	sub.listener(ctx, auth.StateChange{Event: auth.EventSignedIn, UserID: "u1"})
	sub.listener(ctx, auth.StateChange{Event: auth.EventUserUpdated, UserID: "u1"})
	assert.Empty(t, c.invalidated)

	sub.listener(ctx, auth.StateChange{Event: auth.EventSignedOut, UserID: "u1"})
	assert.Equal(t, []string{"u1"}, c.invalidated)
}
