package services

import (
	"context"
	"log/slog"

	"piggybank/internal/auth"
	"piggybank/internal/core"
	applog "piggybank/internal/log"
)

// Accounts is the part of the auth service the profile page uses.
type Accounts interface {
	UpdateUser(ctx context.Context, sess *core.Session, upd auth.UserUpdate) (*core.Session, error)
	SignOut(ctx context.Context, sess *core.Session) error
}

// ProfileService runs the profile writes under a single per-user guard.
type ProfileService struct {
	accounts Accounts
	guard    *InFlight
	logger   *applog.Logger
}

func NewProfileService(a Accounts, guard *InFlight, logger *applog.Logger) *ProfileService {
	if guard == nil {
		guard = NewInFlight()
	}
	if logger == nil {
		logger = applog.New(applog.Config{Handler: slog.Default().Handler()})
	}
	return &ProfileService{
		accounts: a,
		guard:    guard,
		logger:   logger.WithComponent(applog.ComponentProfile),
	}
}

// UpdateEmail changes the session user's email.
func (s *ProfileService) UpdateEmail(ctx context.Context, sess *core.Session, email string) (*core.Session, error) {
	return s.update(ctx, sess, auth.UserUpdate{Email: &email})
}

// UpdatePassword changes the session user's password.
func (s *ProfileService) UpdatePassword(ctx context.Context, sess *core.Session, password string) (*core.Session, error) {
	return s.update(ctx, sess, auth.UserUpdate{Password: &password})
}

func (s *ProfileService) update(ctx context.Context, sess *core.Session, upd auth.UserUpdate) (*core.Session, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	release, err := s.guard.Acquire(sess.UserID(), ActionProfile)
	if err != nil {
		return nil, err
	}
	defer release()

	updated, err := s.accounts.UpdateUser(ctx, sess, upd)
	if err != nil {
		s.logger.WarnContext(ctx, "Profile update failed",
			applog.FieldUserID, sess.UserID(),
			applog.FieldOperation, applog.OpUpdate,
			applog.FieldError, err)
		return nil, err
	}
	return updated, nil
}

// SignOut ends the session. Listeners of SIGNED_OUT drop the user's cache.
func (s *ProfileService) SignOut(ctx context.Context, sess *core.Session) error {
	if sess == nil {
		return ErrNoSession
	}
	release, err := s.guard.Acquire(sess.UserID(), ActionProfile)
	if err != nil {
		return err
	}
	defer release()

	if err := s.accounts.SignOut(ctx, sess); err != nil {
		s.logger.ErrorContext(ctx, "Sign out failed",
			applog.FieldUserID, sess.UserID(),
			applog.FieldOperation, applog.OpSignOut,
			applog.FieldError, err)
		return err
	}
	return nil
}
