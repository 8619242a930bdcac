package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"piggybank/internal/auth"
	"piggybank/internal/cache"
	"piggybank/internal/core"
	"piggybank/internal/events"
	applog "piggybank/internal/log"
	"piggybank/internal/services"
	"piggybank/internal/session"
	"piggybank/internal/store"
	"piggybank/internal/store/memory"
)

type harness struct {
	t      *testing.T
	srv    *Server
	store  *memory.Store
	auth   *auth.Service
	cache  *cache.QueryCache
	events *events.Recorder
	guard  *services.InFlight
	ready  error
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	logger := applog.New(applog.Config{Output: io.Discard})
	st := memory.New()
	authSvc := auth.NewService(st, auth.Options{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		SessionTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
		Logger:     logger,
	})
	h := &harness{
		t:      t,
		store:  st,
		auth:   authSvc,
		cache:  cache.NewQueryCache(100, time.Minute),
		events: &events.Recorder{},
		guard:  services.NewInFlight(),
	}
	sub := session.Watch(authSvc, h.cache, logger)
	t.Cleanup(sub.Unsubscribe)

	deps := Deps{
		Savings:    services.NewSavingsService(st, h.cache, h.events, h.guard, services.Options{Logger: logger}),
		Profile:    services.NewProfileService(authSvc, h.guard, logger),
		Accounts:   authSvc,
		Cookie:     session.CookieConfig{Name: session.DefaultCookieName},
		CacheStats: h.cache.Stats,
		Ready:      func(context.Context) error { return h.ready },
		Logger:     logger,
	}
	for _, m := range mutate {
		m(&deps)
	}
	h.srv = NewServer(":0", deps)
	return h
}

type reqOpt func(*http.Request)

func withCookie(c *http.Cookie) reqOpt { return func(r *http.Request) { r.AddCookie(c) } }

func asHTMX(r *http.Request) { r.Header.Set("HX-Request", "true") }

func (h *harness) do(method, target string, form url.Values, opts ...reqOpt) *httptest.ResponseRecorder {
	h.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "192.0.2.10:1234"
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			return c
		}
	}
	return nil
}

// signUp registers a user and returns the session cookie and user id.
func (h *harness) signUp(email string) (*http.Cookie, string) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/auth/signup", url.Values{"email": {email}, "password": {"secret123"}})
	require.Equal(h.t, http.StatusSeeOther, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(h.t, c)
	sess, err := h.auth.GetSession(context.Background(), c.Value)
	require.NoError(h.t, err)
	return c, sess.UserID()
}

func (h *harness) insertGoal(userID, title string, targetCents int64) core.SavingsGoal {
	h.t.Helper()
	g, err := h.store.InsertGoal(context.Background(), store.NewGoal{
		UserID: userID, Title: title, TargetAmount: core.Money{Cents: targetCents},
	})
	require.NoError(h.t, err)
	return g
}

func TestUnauthenticatedRequestsGetSignIn(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in")
	assert.NotContains(t, rec.Body.String(), "New savings goal")

	rec = h.do(http.MethodGet, "/ui/goals", nil, asHTMX)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("HX-Redirect"))

	rec = h.do(http.MethodPost, "/goals", url.Values{"title": {"x"}, "target_amount": {"1"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Empty(t, h.events.Changes())
}

func TestSignUpAndSignIn(t *testing.T) {
	h := newHarness(t)
	cookie, _ := h.signUp("ann@example.com")

	rec := h.do(http.MethodGet, "/", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "New savings goal")
	assert.Contains(t, rec.Body.String(), "ann@example.com")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = h.do(http.MethodPost, "/auth/signin", url.Values{"email": {"ann@example.com"}, "password": {"secret123"}}, asHTMX)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("HX-Redirect"))
	assert.NotNil(t, sessionCookie(rec))

	rec = h.do(http.MethodGet, "/auth", nil, withCookie(cookie))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestSignInInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.signUp("ann@example.com")

	rec := h.do(http.MethodPost, "/auth/signin", url.Values{"email": {"ann@example.com"}, "password": {"wrong-password"}}, asHTMX)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password")
	assert.Contains(t, rec.Header().Get("HX-Trigger"), "Invalid email or password")
	assert.Nil(t, sessionCookie(rec))
}

func TestSignUpValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/auth/signup", url.Values{"email": {"not-an-email"}, "password": {"123"}}, asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.MsgEmailInvalid)
	assert.Contains(t, rec.Body.String(), core.MsgPasswordTooShort)

	h.signUp("ann@example.com")
	rec = h.do(http.MethodPost, "/auth/signup", url.Values{"email": {"ann@example.com"}, "password": {"secret123"}}, asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), msgEmailTaken)
}

func TestCreateGoal(t *testing.T) {
	h := newHarness(t)
	cookie, userID := h.signUp("ann@example.com")

	rec := h.do(http.MethodPost, "/goals", url.Values{"title": {"  "}, "target_amount": {"-5"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.MsgTitleRequired)
	assert.Contains(t, rec.Body.String(), core.MsgTargetPositive)
	goals, err := h.store.ListGoals(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, goals)
	assert.Empty(t, h.events.Changes())

	rec = h.do(http.MethodPost, "/goals", url.Values{"title": {"Holiday"}, "target_amount": {"1500"}}, withCookie(cookie), asHTMX)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	trigger := rec.Header().Get("HX-Trigger")
	assert.Contains(t, trigger, EventGoalsChanged)
	assert.Contains(t, trigger, EventDepositsChanged)
	assert.Contains(t, trigger, msgGoalCreated)
	assert.NotContains(t, rec.Body.String(), "Holiday")

	rec = h.do(http.MethodGet, "/ui/goals", nil, withCookie(cookie), asHTMX)
	assert.Contains(t, rec.Body.String(), "Holiday")
	assert.Contains(t, rec.Body.String(), "$1,500.00")

	changes := h.events.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, events.TableSavingsGoals, changes[0].Table)
	assert.Equal(t, events.OpInsert, changes[0].Op)
}

func TestCreateGoalWhileInFlight(t *testing.T) {
	h := newHarness(t)
	cookie, userID := h.signUp("ann@example.com")

	release, err := h.guard.Acquire(userID, services.ActionCreateGoal)
	require.NoError(t, err)
	defer release()

	rec := h.do(http.MethodPost, "/goals", url.Values{"title": {"Car"}, "target_amount": {"100"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), `"type":"warning"`)
	goals, _ := h.store.ListGoals(context.Background(), userID)
	assert.Empty(t, goals)
}

func TestEditUpdateDeleteGoal(t *testing.T) {
	h := newHarness(t)
	cookie, userID := h.signUp("ann@example.com")
	g := h.insertGoal(userID, "Bike", 50000)

	rec := h.do(http.MethodGet, "/goals/"+g.ID+"/edit", nil, withCookie(cookie), asHTMX)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="Bike"`)
	assert.Contains(t, rec.Body.String(), `value="500.00"`)

	rec = h.do(http.MethodGet, "/goals/6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f/edit", nil, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgGoalFetchFailed)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), EventDialogClose)

	rec = h.do(http.MethodPut, "/goals/"+g.ID, url.Values{"title": {"Bike"}, "target_amount": {"abc"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.MsgTargetPositive)
	assert.Contains(t, rec.Body.String(), `value="abc"`)

	rec = h.do(http.MethodPut, "/goals/"+g.ID, url.Values{"title": {"E-bike"}, "target_amount": {"800"}}, withCookie(cookie), asHTMX)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgGoalUpdated)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), EventDialogClose)
	updated, err := h.store.GetGoal(context.Background(), userID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "E-bike", updated.Title)
	assert.Equal(t, int64(80000), updated.TargetAmount.Cents)

	rec = h.do(http.MethodPost, "/goals/"+g.ID+"/delete", nil, withCookie(cookie), asHTMX)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgGoalDeleted)
	assert.Empty(t, rec.Body.String())

	rec = h.do(http.MethodGet, "/ui/goals", nil, withCookie(cookie), asHTMX)
	assert.NotContains(t, rec.Body.String(), "E-bike")
	assert.Contains(t, rec.Body.String(), "No savings goals yet")
}

func TestUpdateGoalOfAnotherUser(t *testing.T) {
	h := newHarness(t)
	_, owner := h.signUp("ann@example.com")
	intruder, _ := h.signUp("bob@example.com")
	g := h.insertGoal(owner, "Private", 1000)

	rec := h.do(http.MethodPut, "/goals/"+g.ID, url.Values{"title": {"Mine"}, "target_amount": {"1"}}, withCookie(intruder), asHTMX)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgGoalUpdateFailed)

	rec = h.do(http.MethodPost, "/goals/"+g.ID+"/delete", nil, withCookie(intruder), asHTMX)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, err := h.store.GetGoal(context.Background(), owner, g.ID)
	assert.NoError(t, err)
}

func TestCreateDeposit(t *testing.T) {
	h := newHarness(t)
	cookie, userID := h.signUp("ann@example.com")
	g := h.insertGoal(userID, "Laptop", 100000)

	rec := h.do(http.MethodPost, "/deposits", url.Values{"goal_id": {"6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f"}, "amount": {"5"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.MsgGoalRequired)

	rec = h.do(http.MethodPost, "/deposits", url.Values{"goal_id": {g.ID}, "amount": {"1,000"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.MsgAmountPositive)
	assert.Contains(t, rec.Body.String(), `value="1,000"`)

	rec = h.do(http.MethodPost, "/deposits", url.Values{"goal_id": {g.ID}, "amount": {"12.50"}}, withCookie(cookie), asHTMX)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgDepositAdded)
	assert.Contains(t, rec.Body.String(), "Laptop")

	updated, err := h.store.GetGoal(context.Background(), userID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), updated.CurrentAmount.Cents)

	rec = h.do(http.MethodGet, "/ui/overview", nil, withCookie(cookie), asHTMX)
	assert.Contains(t, rec.Body.String(), "$12.50")

	rec = h.do(http.MethodGet, "/ui/deposits", nil, withCookie(cookie), asHTMX)
	assert.Contains(t, rec.Body.String(), "Laptop")
	assert.Contains(t, rec.Body.String(), "$12.50")

	rec = h.do(http.MethodGet, "/ui/deposit-form", nil, withCookie(cookie), asHTMX)
	assert.Contains(t, rec.Body.String(), g.ID)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t)
	cookie, userID := h.signUp("ann@example.com")
	h.insertGoal(userID, "Trip", 1000)

	rec := h.do(http.MethodGet, "/ui/goals", nil, withCookie(cookie), asHTMX)
	require.Contains(t, rec.Body.String(), "Trip")
	before := h.cache.Stats().Invalidations

	rec = h.do(http.MethodPost, "/auth/signout", nil, withCookie(cookie), asHTMX)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/?notice=signed-out", rec.Header().Get("HX-Redirect"))
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgSignedOut)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
	assert.Greater(t, h.cache.Stats().Invalidations, before)

	rec = h.do(http.MethodGet, "/?notice=signed-out", nil, withCookie(cookie))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), msgSignedOut)
	assert.Contains(t, rec.Body.String(), "Sign in")
}

func TestProfile(t *testing.T) {
	h := newHarness(t)
	cookie, userID := h.signUp("ann@example.com")

	rec := h.do(http.MethodGet, "/profile", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), userID)
	assert.Contains(t, rec.Body.String(), "ann@example.com")

	rec = h.do(http.MethodPost, "/profile/email", url.Values{"email": {"nope"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.MsgEmailInvalid)

	rec = h.do(http.MethodPost, "/profile/email", url.Values{"email": {"ann.new@example.com"}}, withCookie(cookie), asHTMX)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgEmailUpdated)
	assert.Contains(t, rec.Body.String(), "ann.new@example.com")

	rec = h.do(http.MethodPost, "/profile/password", url.Values{"password": {"123"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), core.MsgPasswordTooShort)

	rec = h.do(http.MethodPost, "/profile/password", url.Values{"password": {"new-secret"}}, withCookie(cookie), asHTMX)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), msgPasswordUpdated)

	_, err := h.auth.SignIn(context.Background(), "ann.new@example.com", "new-secret")
	assert.NoError(t, err)
}

func TestOpsEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = h.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.ready = errors.New("database is down")
	rec = h.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is down")

	rec = h.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	for _, name := range []string{"http_requests_total", "query_cache_hits_total", "suspicious_requests_total", "uptime_seconds"} {
		assert.Contains(t, rec.Body.String(), name)
	}
}

func TestMiddlewareChain(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/auth", nil)
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = h.do(http.MethodGet, "/.env", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/static/app.css", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
}

func TestMissingTemplates(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Templates = fstest.MapFS{} })

	rec := h.do(http.MethodGet, "/auth", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = h.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestBodyParser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/goals", strings.NewReader(`{"title": " Car ", "target_amount": 42.5}`))
	req.Header.Set("Content-Type", "application/json")
	p := NewRequestBodyParser(req)
	require.NoError(t, p.Parse())
	assert.True(t, p.IsJSON())
	assert.Equal(t, core.GoalForm{Title: "Car", TargetAmount: "42.5"}, goalFormFrom(p))

	req = httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader("email=+ann%40example.com&password=+pass+"))
	p = NewRequestBodyParser(req)
	require.NoError(t, p.Parse())
	assert.Equal(t, core.CredentialsForm{Email: "ann@example.com", Password: " pass "}, credentialsFrom(p))

	req = httptest.NewRequest(http.MethodPost, "/goals", strings.NewReader(strings.Repeat("a", maxBodyBytes+1)))
	_, resp := ParseBodyOrFail(req)
	assert.NotNil(t, resp)

	req = httptest.NewRequest(http.MethodPost, "/goals", strings.NewReader("{broken"))
	_, resp = ParseBodyOrFail(req)
	assert.NotNil(t, resp)
}

func TestRequireMethod(t *testing.T) {
	assert.Nil(t, RequireMethod(httptest.NewRequest(http.MethodPut, "/", nil), http.MethodPost, http.MethodPut))
	assert.NotNil(t, RequirePOST(httptest.NewRequest(http.MethodGet, "/", nil)))
}
