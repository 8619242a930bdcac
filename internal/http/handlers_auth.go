package http

import (
	"errors"
	"net/http"

	"piggybank/internal/auth"
	"piggybank/internal/core"
	applog "piggybank/internal/log"
	"piggybank/internal/session"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgSignInFailed       = "Sign in failed. Please try again."
	msgSignUpFailed       = "Sign up failed. Please try again."
	msgEmailTaken         = "An account with this email already exists"
	msgSignedOut          = "Logged out successfully"
	msgSignOutFailed      = "Failed to sign out. Please try again."

	noticeSignedOut = "signed-out"
)

const (
	authModeSignIn = "signin"
	authModeSignUp = "signup"
)

type authView struct {
	Mode    string
	Email   string
	Errors  core.FieldErrors
	Message string
	Notice  string
}

// renderAuth answers htmx with the form fragment and plain form posts with
// the whole page.
func (s *Server) renderAuth(w http.ResponseWriter, r *http.Request, status int, v authView, b *HTMXResponseBuilder) {
	name := "auth.html"
	if isHTMX(r) {
		name = "auth_form"
	}
	s.render(w, r, status, name, v, b)
}

// handleAuthPage is the sign-in surface. The session gate also renders it
// for full page loads without a session.
func (s *Server) handleAuthPage(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	v := authView{Mode: authModeSignIn}
	if r.URL.Query().Get("mode") == authModeSignUp {
		v.Mode = authModeSignUp
	}
	if r.URL.Query().Get("notice") == noticeSignedOut {
		v.Notice = msgSignedOut
	}
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, r, http.StatusOK, "auth.html", v, nil)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	p, resp := ParseBodyOrFail(r)
	if resp != nil {
		resp.Write(w)
		return
	}
	ctx := r.Context()
	creds := credentialsFrom(p)

	sess, err := s.deps.Accounts.SignIn(ctx, creds.Email, creds.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.renderAuth(w, r, http.StatusUnauthorized, authView{
			Mode:    authModeSignIn,
			Email:   creds.Email,
			Message: msgInvalidCredentials,
		}, NewHTMXResponse().TriggerErrorNotification(msgInvalidCredentials))
		return
	case err != nil:
		s.logger.ErrorContext(ctx, "Sign in failed", applog.FieldError, err, applog.FieldOperation, applog.OpSignIn)
		s.renderAuth(w, r, http.StatusInternalServerError, authView{
			Mode:    authModeSignIn,
			Email:   creds.Email,
			Message: msgSignInFailed,
		}, NewHTMXResponse().TriggerErrorNotification(msgSignInFailed))
		return
	}

	s.gate.SetCookie(w, sess)
	redirect(w, r, "/", nil)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	p, resp := ParseBodyOrFail(r)
	if resp != nil {
		resp.Write(w)
		return
	}
	ctx := r.Context()
	creds, errs := credentialsFrom(p).Validate()
	if !errs.Empty() {
		s.renderAuth(w, r, http.StatusUnprocessableEntity, authView{
			Mode:   authModeSignUp,
			Email:  creds.Email,
			Errors: errs,
		}, nil)
		return
	}

	sess, err := s.deps.Accounts.SignUp(ctx, creds.Email, creds.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		s.renderAuth(w, r, http.StatusUnprocessableEntity, authView{
			Mode:   authModeSignUp,
			Email:  creds.Email,
			Errors: core.FieldErrors{core.FieldEmail: msgEmailTaken},
		}, nil)
		return
	case err != nil:
		s.logger.ErrorContext(ctx, "Sign up failed", applog.FieldError, err, applog.FieldOperation, applog.OpSignUp)
		s.renderAuth(w, r, http.StatusInternalServerError, authView{
			Mode:    authModeSignUp,
			Email:   creds.Email,
			Message: msgSignUpFailed,
		}, NewHTMXResponse().TriggerErrorNotification(msgSignUpFailed))
		return
	}

	s.gate.SetCookie(w, sess)
	redirect(w, r, "/", nil)
}

// handleSignOut revokes the session. The SIGNED_OUT listener drops the
// user's cached queries; the response clears the cookie and goes home.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	ctx := r.Context()
	if err := s.deps.Profile.SignOut(ctx, session.FromContext(ctx)); err != nil {
		s.writeServiceError(w, r, err, msgSignOutFailed)
		return
	}
	s.gate.ClearCookie(w)
	redirect(w, r, "/?notice="+noticeSignedOut, NewHTMXResponse().TriggerSuccessNotification(msgSignedOut))
}
