package http

import (
	"bytes"
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"piggybank/internal/cache"
	"piggybank/internal/core"
	applog "piggybank/internal/log"
	"piggybank/internal/middleware/security"
	"piggybank/internal/middleware/trace"
	"piggybank/internal/services"
	"piggybank/internal/session"
	appweb "piggybank/web"
)

// Savings is the goal and deposit data access the UI drives.
type Savings interface {
	LoadDashboard(ctx context.Context, sess *core.Session) (services.Dashboard, error)
	ListGoals(ctx context.Context, sess *core.Session) ([]core.SavingsGoal, error)
	ListDeposits(ctx context.Context, sess *core.Session) ([]core.Deposit, error)
	GetGoal(ctx context.Context, sess *core.Session, id string) (core.SavingsGoal, error)
	CreateGoal(ctx context.Context, sess *core.Session, form core.GoalForm) (core.SavingsGoal, error)
	UpdateGoal(ctx context.Context, sess *core.Session, id string, form core.GoalForm) (core.SavingsGoal, error)
	DeleteGoal(ctx context.Context, sess *core.Session, id string) error
	CreateDeposit(ctx context.Context, sess *core.Session, form core.DepositForm) (core.Deposit, error)
}

// Profile is the account page's write surface.
type Profile interface {
	UpdateEmail(ctx context.Context, sess *core.Session, email string) (*core.Session, error)
	UpdatePassword(ctx context.Context, sess *core.Session, password string) (*core.Session, error)
	SignOut(ctx context.Context, sess *core.Session) error
}

// Accounts authenticates credentials and resolves session tokens.
type Accounts interface {
	session.Authenticator
	SignIn(ctx context.Context, email, password string) (*core.Session, error)
	SignUp(ctx context.Context, email, password string) (*core.Session, error)
}

type Deps struct {
	Savings  Savings
	Profile  Profile
	Accounts Accounts
	Cookie   session.CookieConfig
	// SessionTimeout bounds the session lookup of every request.
	SessionTimeout time.Duration
	// CacheStats feeds /metrics. Optional.
	CacheStats func() cache.Stats
	// Ready reports backend reachability for /readyz. Optional.
	Ready  func(ctx context.Context) error
	Logger *applog.Logger
	// Templates overrides the embedded templates in tests.
	Templates fs.FS
}

type Server struct {
	http.Server
	templates *template.Template
	deps      Deps
	gate      *session.Gate
	trace     *trace.Middleware
	detector  *security.Detector
	logger    *applog.Logger
	started   time.Time
}

// NewServer parses the templates and wires routes and middleware. The
// returned server is ready to ListenAndServe.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.Config{Handler: slog.Default().Handler()})
	}
	logger := deps.Logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		deps:     deps,
		detector: security.NewDetector(),
		logger:   logger,
		started:  time.Now(),
	}
	s.trace = trace.NewMiddleware(s.detector.ClientIP, deps.Logger)
	s.gate = session.NewGate(deps.Accounts, deps.Cookie, http.HandlerFunc(s.handleAuthPage), deps.SessionTimeout)

	templatesFS := deps.Templates
	if templatesFS == nil {
		templatesFS = appweb.TemplatesFS
	}
	t, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", applog.FieldError, err)
	} else {
		s.templates = t
	}

	mux := http.NewServeMux()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Sign-in surface. Reachable without a session.
	mux.HandleFunc("GET /auth", s.handleAuthPage)
	mux.HandleFunc("/auth/signin", s.handleSignIn)
	mux.HandleFunc("/auth/signup", s.handleSignUp)

	app := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, security.NoStore(s.gate.Require(h)))
	}
	app("GET /{$}", s.handleIndex)
	app("/auth/signout", s.handleSignOut)
	app("GET /ui/overview", s.handleOverview)
	app("GET /ui/goals", s.handleGoals)
	app("GET /ui/deposits", s.handleDeposits)
	app("GET /ui/deposit-form", s.handleDepositForm)
	app("/goals", s.handleCreateGoal)
	app("GET /goals/{id}/edit", s.handleEditGoal)
	app("/goals/{id}", s.handleUpdateGoal)
	app("/goals/{id}/delete", s.handleDeleteGoal)
	app("/deposits", s.handleCreateDeposit)
	app("GET /profile", s.handleProfile)
	app("/profile/email", s.handleUpdateEmail)
	app("/profile/password", s.handleUpdatePassword)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = mux
	handler = s.gate.Load(handler)
	handler = s.detector.Middleware(handler)
	handler = s.trace.Middleware(handler)
	handler = headers.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// render executes a named template into a buffer first so a template error
// never leaves a half-written page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any, b *HTMXResponseBuilder) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded",
			applog.FieldPath, r.URL.Path,
			applog.FieldComponent, applog.ComponentTemplate)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			applog.FieldError, err,
			"template", name)
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
		return
	}
	if b == nil {
		b = NewHTMXResponse()
	}
	b.Status(status).BodyHTML(buf.String()).Write(w)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
