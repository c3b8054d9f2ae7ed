package fetchq

import (
	"context"
	"time"

	ikeys "github.com/UniQw/fetchq-go/internal/keys"
)

// Store is the queue engine a Worker consumes. Every call is scoped to a queue
// name; implementations must be safe for concurrent use by many workers.
type Store interface {
	// Pick leases up to limit due documents of the given schema version.
	// lock is the lease duration; zero selects the store default.
	Pick(ctx context.Context, queue string, version, limit int, lock time.Duration) ([]*Doc, error)
	// Reschedule plans the document again at next with payload replacing the old one.
	Reschedule(ctx context.Context, queue, subject string, next time.Time, payload any) error
	// Reject records a retryable failure.
	Reject(ctx context.Context, queue, subject, message string, details any, refID string) error
	// Kill marks the document as permanently failed.
	Kill(ctx context.Context, queue, subject string, payload any) error
	// Complete marks the document as processed.
	Complete(ctx context.Context, queue, subject string, payload any) error
	// Drop removes the document.
	Drop(ctx context.Context, queue, subject string) error
}

// Notifier delivers wake signals published on named channels.
type Notifier interface {
	// Subscribe calls fn every time something is published on channel until
	// the returned Subscription is closed.
	Subscribe(ctx context.Context, channel string, fn func()) (Subscription, error)
}

// Subscription is an active Notifier registration.
type Subscription interface {
	Close() error
}

// Maintainer is implemented by stores that need periodic housekeeping, such
// as returning expired leases to pending. Server drives it per queue.
type Maintainer interface {
	Maintain(ctx context.Context, queue string) error
}

// PendingChannel returns the notification channel for queue.
func PendingChannel(queue string) string { return ikeys.PendingChannel(queue) }

// DefaultLock is the lease applied by the shipped stores when Pick gets a zero lock.
const DefaultLock = 5 * time.Minute
