package session

import (
	"context"

	"piggybank/internal/auth"
	applog "piggybank/internal/log"
)

// Subscriber is the auth subsystem's state change feed.
type Subscriber interface {
	OnAuthStateChange(l auth.Listener) *auth.Subscription
}

// UserCache drops everything cached for a user.
type UserCache interface {
	InvalidateUser(userID string)
}

// Watch keeps the query cache consistent with auth state for the server's
// lifetime: a signed-out user's cached queries are dropped. The caller
// unsubscribes on shutdown.
func Watch(sub Subscriber, c UserCache, logger *applog.Logger) *auth.Subscription {
	logger = logger.WithComponent(applog.ComponentSession)
	return sub.OnAuthStateChange(func(ctx context.Context, change auth.StateChange) {
		switch change.Event {
		case auth.EventSignedOut:
			c.InvalidateUser(change.UserID)
			logger.DebugContext(ctx, "Cleared cached queries after sign-out", applog.FieldUserID, change.UserID)
		case auth.EventSignedIn, auth.EventUserUpdated:
			logger.DebugContext(ctx, "Auth state changed", applog.FieldEvent, string(change.Event), applog.FieldUserID, change.UserID)
		}
	})
}
