package core

import (
	"errors"
	"time"
)

type (
	Money struct {
		Cents int64
	}

	// User is the identity issued by the auth subsystem. The password hash
	// never leaves the auth and storage layers.
	User struct {
		ID        string
		Email     string
		CreatedAt time.Time
	}

	// Session is the authenticated (user, session) pair attached to a request
	// and passed explicitly to every data-access call.
	Session struct {
		ID        string
		User      User
		Token     string
		IssuedAt  time.Time
		ExpiresAt time.Time
	}

	SavingsGoal struct {
		ID            string
		UserID        string
		Title         string
		TargetAmount  Money
		CurrentAmount Money // maintained by the store
		CreatedAt     time.Time
	}

	Deposit struct {
		ID        string
		GoalID    string
		UserID    string
		Amount    Money
		CreatedAt time.Time
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyTitle    = errors.New("empty title")
	ErrTitleTooLong  = errors.New("title too long")
	ErrEmptyUser     = errors.New("empty user id")
	ErrEmptyGoal     = errors.New("empty goal id")
)

// MaxTitleLength bounds goal titles in runes.
const MaxTitleLength = 120

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Add returns the sum of two amounts.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// UserID returns the session owner's id, or "" for a nil session.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

func (g SavingsGoal) Validate() error {
	if g.UserID == "" {
		return ErrEmptyUser
	}
	if err := validateTitle(g.Title); err != nil {
		return err
	}
	return g.TargetAmount.Validate()
}

func (d Deposit) Validate() error {
	if d.UserID == "" {
		return ErrEmptyUser
	}
	if d.GoalID == "" {
		return ErrEmptyGoal
	}
	return d.Amount.Validate()
}
