// Package events carries row change notifications between server instances
// and the ledger worker over a RabbitMQ fanout exchange.
package events

import (
	"context"
	"sync"
)

// Publisher sends change events.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
	Close() error
}

// Handler processes one delivered change. A returned error requeues it.
type Handler func(ctx context.Context, c Change) error

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Change) error { return nil }

func (NoopPublisher) Close() error { return nil }

// Recorder is an in-process Publisher that keeps every change.
type Recorder struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

// FailWith makes subsequent Publish calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Publish(ctx context.Context, c Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.changes = append(r.changes, c)
	return nil
}

// Changes returns a copy of the published changes.
func (r *Recorder) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *Recorder) Close() error { return nil }
