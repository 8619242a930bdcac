// Package auth is the authentication subsystem: credentials, sessions and
// auth state change notifications.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"piggybank/internal/core"
	applog "piggybank/internal/log"
	"piggybank/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid credentials input")
)

// Store is the part of the backend the auth subsystem talks to.
type Store interface {
	store.UserStore
	store.SessionStore
}

// UserUpdate carries the optional changes of UpdateUser.
type UserUpdate struct {
	Email    *string
	Password *string
}

type Options struct {
	Secret     []byte
	SessionTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
	Logger     *applog.Logger
}

type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	logger *applog.Logger
	events broadcaster
}

func NewService(st Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 720 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.Config{Handler: slog.Default().Handler()})
	}
	return &Service{
		store:  st,
		secret: opts.Secret,
		ttl:    opts.SessionTTL,
		cost:   opts.BcryptCost,
		now:    opts.Now,
		logger: opts.Logger.WithComponent(applog.ComponentAuth),
	}
}

// OnAuthStateChange registers l for SIGNED_IN, SIGNED_OUT and USER_UPDATED.
func (s *Service) OnAuthStateChange(l Listener) *Subscription {
	return s.events.subscribe(l)
}

// SignUp creates the user and signs them in.
func (s *Service) SignUp(ctx context.Context, email, password string) (*core.Session, error) {
	creds, errs := core.CredentialsForm{Email: email, Password: password}.Validate()
	if !errs.Empty() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, errs)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, creds.Email, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "User signed up", applog.FieldUserID, user.ID)
	return s.startSession(ctx, user)
}

// SignIn checks the credentials and opens a new session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email, password string) (*core.Session, error) {
	normalized, ok := core.NormalizeEmail(email)
	if !ok || password == "" {
		return nil, ErrInvalidCredentials
	}
	rec, err := s.store.UserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// equalize timing with the found-user path
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "Failed sign-in", applog.FieldUserID, rec.ID)
		return nil, ErrInvalidCredentials
	}
	return s.startSession(ctx, rec.User)
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("piggybank-dummy-password"), bcrypt.MinCost)

func (s *Service) startSession(ctx context.Context, user core.User) (*core.Session, error) {
	now := s.now().UTC()
	rec := store.SessionRecord{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	token, err := GenerateToken(rec.ID, user.ID, s.secret, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	sess := &core.Session{
		ID:        rec.ID,
		User:      user,
		Token:     token,
		IssuedAt:  rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
	s.logger.InfoContext(ctx, "Session started", applog.FieldUserID, user.ID, applog.FieldSessionID, rec.ID)
	s.events.emit(ctx, StateChange{Event: EventSignedIn, UserID: user.ID, Session: sess})
	return sess, nil
}

// GetSession resolves a session token. A token is valid only if it verifies,
// has not expired and its session record still exists.
func (s *Service) GetSession(ctx context.Context, token string) (*core.Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	now := s.now()
	claims, err := ParseToken(token, s.secret, now)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.SessionByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: session revoked", ErrInvalidToken)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if rec.UserID != claims.Subject || !now.Before(rec.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	user, err := s.store.UserByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user removed", ErrInvalidToken)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &core.Session{
		ID:        rec.ID,
		User:      user.User,
		Token:     token,
		IssuedAt:  rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// SignOut revokes the session and emits SIGNED_OUT.
func (s *Service) SignOut(ctx context.Context, sess *core.Session) error {
	if sess == nil {
		return ErrInvalidToken
	}
	if err := s.store.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.InfoContext(ctx, "Signed out", applog.FieldUserID, sess.UserID(), applog.FieldSessionID, sess.ID)
	s.events.emit(ctx, StateChange{Event: EventSignedOut, UserID: sess.UserID()})
	return nil
}

// UpdateUser changes the email and/or password of the session user and
// emits USER_UPDATED with the refreshed session.
func (s *Service) UpdateUser(ctx context.Context, sess *core.Session, upd UserUpdate) (*core.Session, error) {
	if sess == nil {
		return nil, ErrInvalidToken
	}
	if upd.Email == nil && upd.Password == nil {
		return sess, nil
	}
	updated := *sess

	if upd.Email != nil {
		email, ok := core.NormalizeEmail(*upd.Email)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidInput, core.MsgEmailInvalid)
		}
		user, err := s.store.UpdateUserEmail(ctx, sess.UserID(), email)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, ErrEmailTaken
			}
			return nil, fmt.Errorf("update email: %w", err)
		}
		updated.User = user
	}

	if upd.Password != nil {
		if !core.ValidPassword(*upd.Password) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidInput, core.MsgPasswordTooShort)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*upd.Password), s.cost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		if err := s.store.UpdateUserPassword(ctx, sess.UserID(), string(hash)); err != nil {
			return nil, fmt.Errorf("update password: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "User updated", applog.FieldUserID, sess.UserID())
	s.events.emit(ctx, StateChange{Event: EventUserUpdated, UserID: sess.UserID(), Session: &updated})
	return &updated, nil
}

// PruneExpired deletes expired session records.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return n, nil
}
