package services

import (
	"errors"
	"sync"
)

// ErrSubmissionInProgress rejects a write while the same user's previous
// write of the same kind has not returned.
var ErrSubmissionInProgress = errors.New("submission already in progress")

// Action names a guarded write.
type Action string

const (
	ActionCreateGoal    Action = "goal.create"
	ActionUpdateGoal    Action = "goal.update"
	ActionDeleteGoal    Action = "goal.delete"
	ActionCreateDeposit Action = "deposit.create"
	// ActionProfile is shared by every profile write.
	ActionProfile Action = "profile"
)

// InFlight is a per-user, per-action submission guard.
type InFlight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]struct{})}
}

// Acquire claims (userID, action). The returned release must be called once
// the write has finished; calling it more than once is harmless.
func (g *InFlight) Acquire(userID string, action Action) (release func(), err error) {
	key := userID + "|" + string(action)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return func() {}, ErrSubmissionInProgress
	}
	g.active[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether (userID, action) is currently claimed.
func (g *InFlight) Busy(userID string, action Action) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[userID+"|"+string(action)]
	return busy
}
