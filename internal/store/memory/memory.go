package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"piggybank/internal/core"
	"piggybank/internal/store"
)

// Store keeps every table in process memory. Deposit inserts raise the goal's
// current amount and goal deletes cascade, matching the SQL backends.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[string]store.UserRecord
	sessions map[string]store.SessionRecord
	goals    map[string]core.SavingsGoal
	deposits map[string]core.Deposit
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock is New with an injectable clock for created_at stamps.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		now:      now,
		users:    make(map[string]store.UserRecord),
		sessions: make(map[string]store.SessionRecord),
		goals:    make(map[string]core.SavingsGoal),
		deposits: make(map[string]core.Deposit),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// ListGoals returns the user's goals, newest first.
func (s *Store) ListGoals(ctx context.Context, userID string) ([]core.SavingsGoal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SavingsGoal, 0)
	for _, g := range s.goals {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *Store) GetGoal(ctx context.Context, userID, id string) (core.SavingsGoal, error) {
	if err := ctx.Err(); err != nil {
		return core.SavingsGoal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok || g.UserID != userID {
		return core.SavingsGoal{}, fmt.Errorf("goal %s: %w", id, store.ErrNotFound)
	}
	return g, nil
}

func (s *Store) InsertGoal(ctx context.Context, ng store.NewGoal) (core.SavingsGoal, error) {
	if err := ctx.Err(); err != nil {
		return core.SavingsGoal{}, err
	}
	g := core.SavingsGoal{
		ID:           uuid.NewString(),
		UserID:       ng.UserID,
		Title:        ng.Title,
		TargetAmount: ng.TargetAmount,
		CreatedAt:    s.now().UTC(),
	}
	if err := g.Validate(); err != nil {
		return core.SavingsGoal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[ng.UserID]; !ok {
		return core.SavingsGoal{}, fmt.Errorf("user %s: %w", ng.UserID, store.ErrNotFound)
	}
	s.goals[g.ID] = g
	return g, nil
}

func (s *Store) UpdateGoal(ctx context.Context, userID, id string, p store.GoalPatch) (core.SavingsGoal, error) {
	if err := ctx.Err(); err != nil {
		return core.SavingsGoal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok || g.UserID != userID {
		return core.SavingsGoal{}, fmt.Errorf("goal %s: %w", id, store.ErrNotFound)
	}
	g.Title = p.Title
	g.TargetAmount = p.TargetAmount
	if err := g.Validate(); err != nil {
		return core.SavingsGoal{}, err
	}
	s.goals[id] = g
	return g, nil
}

func (s *Store) DeleteGoal(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok || g.UserID != userID {
		return fmt.Errorf("goal %s: %w", id, store.ErrNotFound)
	}
	delete(s.goals, id)
	for did, d := range s.deposits {
		if d.GoalID == id {
			delete(s.deposits, did)
		}
	}
	return nil
}

// ListDeposits returns the user's deposits, newest first.
func (s *Store) ListDeposits(ctx context.Context, userID string) ([]core.Deposit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Deposit, 0)
	for _, d := range s.deposits {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *Store) InsertDeposit(ctx context.Context, nd store.NewDeposit) (core.Deposit, error) {
	if err := ctx.Err(); err != nil {
		return core.Deposit{}, err
	}
	d := core.Deposit{
		ID:        uuid.NewString(),
		GoalID:    nd.GoalID,
		UserID:    nd.UserID,
		Amount:    nd.Amount,
		CreatedAt: s.now().UTC(),
	}
	if err := d.Validate(); err != nil {
		return core.Deposit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[nd.GoalID]
	if !ok || g.UserID != nd.UserID {
		return core.Deposit{}, fmt.Errorf("goal %s: %w", nd.GoalID, store.ErrNotFound)
	}
	g.CurrentAmount = g.CurrentAmount.Add(d.Amount)
	s.goals[g.ID] = g
	s.deposits[d.ID] = d
	return d, nil
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (core.User, error) {
	if err := ctx.Err(); err != nil {
		return core.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userByEmailLocked(email); ok {
		return core.User{}, fmt.Errorf("user %s: %w", email, store.ErrConflict)
	}
	u := core.User{ID: uuid.NewString(), Email: email, CreatedAt: s.now().UTC()}
	s.users[u.ID] = store.UserRecord{User: u, PasswordHash: passwordHash}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (store.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.userByEmailLocked(email)
	if !ok {
		return store.UserRecord{}, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (store.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return store.UserRecord{}, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) UpdateUserEmail(ctx context.Context, id, email string) (core.User, error) {
	if err := ctx.Err(); err != nil {
		return core.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	if other, taken := s.userByEmailLocked(email); taken && other.ID != id {
		return core.User{}, fmt.Errorf("user %s: %w", email, store.ErrConflict)
	}
	rec.Email = email
	s.users[id] = rec
	return rec.User, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	rec.PasswordHash = passwordHash
	s.users[id] = rec
	return nil
}

func (s *Store) CreateSession(ctx context.Context, rec store.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.UserID]; !ok {
		return fmt.Errorf("user %s: %w", rec.UserID, store.ErrNotFound)
	}
	s.sessions[rec.ID] = rec
	return nil
}

func (s *Store) SessionByID(ctx context.Context, id string) (store.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.SessionRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.SessionRecord{}, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.sessions {
		if !now.Before(rec.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) userByEmailLocked(email string) (store.UserRecord, bool) {
	for _, rec := range s.users {
		if strings.EqualFold(rec.Email, email) {
			return rec, true
		}
	}
	return store.UserRecord{}, false
}

func newerFirst(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID > bID
}
