package http

import (
	"errors"
	"net/http"

	"piggybank/internal/auth"
	"piggybank/internal/core"
	"piggybank/internal/session"
)

const (
	msgEmailUpdated         = "Email update initiated"
	msgEmailUpdateFailed    = "Failed to update email. Please try again."
	msgPasswordUpdated      = "Password updated"
	msgPasswordUpdateFailed = "Failed to update password. Please try again."
)

type profileView struct {
	User   core.User
	Email  string
	Errors core.FieldErrors
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	s.render(w, r, http.StatusOK, "profile.html", profileView{User: sess.User, Email: sess.User.Email}, nil)
}

func (s *Server) handleUpdateEmail(w http.ResponseWriter, r *http.Request) {
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
	sess := session.FromContext(ctx)
	email := p.Get(core.FieldEmail)

	invalid := func(msg string) {
		s.render(w, r, http.StatusUnprocessableEntity, "profile_email_form", profileView{
			User:   sess.User,
			Email:  email,
			Errors: core.FieldErrors{core.FieldEmail: msg},
		}, nil)
	}
	if _, ok := core.NormalizeEmail(email); !ok {
		invalid(core.MsgEmailInvalid)
		return
	}

	updated, err := s.deps.Profile.UpdateEmail(ctx, sess, email)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		invalid(msgEmailTaken)
		return
	case errors.Is(err, auth.ErrInvalidInput):
		invalid(core.MsgEmailInvalid)
		return
	case err != nil:
		s.writeServiceError(w, r, err, msgEmailUpdateFailed)
		return
	}

	s.render(w, r, http.StatusOK, "profile_email_form", profileView{
		User:  updated.User,
		Email: updated.User.Email,
	}, NewHTMXResponse().TriggerSuccessNotification(msgEmailUpdated))
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
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
	sess := session.FromContext(ctx)
	password := p.GetSecret(core.FieldPassword)

	invalid := func() {
		s.render(w, r, http.StatusUnprocessableEntity, "profile_password_form", profileView{
			User:   sess.User,
			Errors: core.FieldErrors{core.FieldPassword: core.MsgPasswordTooShort},
		}, nil)
	}
	if !core.ValidPassword(password) {
		invalid()
		return
	}

	_, err := s.deps.Profile.UpdatePassword(ctx, sess, password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		invalid()
		return
	case err != nil:
		s.writeServiceError(w, r, err, msgPasswordUpdateFailed)
		return
	}

	s.render(w, r, http.StatusOK, "profile_password_form", profileView{User: sess.User},
		NewHTMXResponse().TriggerFormReset().TriggerSuccessNotification(msgPasswordUpdated))
}
