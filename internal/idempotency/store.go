package idempotency

import (
	"context"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// Record captures how a key was resolved. It is written when a message
// reaches a terminal status and read on enqueue to block duplicates.
type Record struct {
	MessageID   string        `json:"message_id"`
	Status      domain.Status `json:"status"`
	ProcessedAt time.Time     `json:"processed_at"`
}

// Store tracks resolved idempotency keys for the dedup TTL window.
//
// Lookups are best effort: when a store error prevents an answer the caller
// fails open and lets the message through. Marking a key twice overwrites the
// previous record.
type Store interface {
	// Check reports whether the key was resolved within the TTL window.
	Check(ctx context.Context, key string) (Record, bool, error)
	// MarkProcessed records the resolution of a key, resetting its TTL.
	MarkProcessed(ctx context.Context, key string, rec Record) error
	// PurgeExpired drops expired records where the backend does not expire
	// them on its own. Returns the number removed.
	PurgeExpired(ctx context.Context) (int, error)
}
