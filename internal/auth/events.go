package auth

import (
	"context"
	"sync"

	"piggybank/internal/core"
)

// Event is an auth state transition.
type Event string

const (
	EventSignedIn    Event = "SIGNED_IN"
	EventSignedOut   Event = "SIGNED_OUT"
	EventUserUpdated Event = "USER_UPDATED"
)

// StateChange is delivered to every subscriber. Session is nil for
// EventSignedOut.
type StateChange struct {
	Event   Event
	UserID  string
	Session *core.Session
}

// Listener receives auth state changes synchronously, in subscription order,
// on the goroutine that caused the change. It must not block.
type Listener func(ctx context.Context, change StateChange)

// Subscription is returned by OnAuthStateChange.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

type broadcaster struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]Listener
	order     []uint64
}

func (b *broadcaster) subscribe(l Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[uint64]Listener)
	}
	b.next++
	id := b.next
	b.listeners[id] = l
	b.order = append(b.order, id)
	return &Subscription{cancel: func() { b.remove(id) }}
}

func (b *broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *broadcaster) emit(ctx context.Context, change StateChange) {
	b.mu.RLock()
	ls := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		ls = append(ls, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range ls {
		l(ctx, change)
	}
}
