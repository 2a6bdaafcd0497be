package repository

import (
	"context"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// MessageRepository defines all persistence operations for messages and their
// delivery attempts. The pgx implementation is in pg_message_repo.go.
// Tests use a hand-written mock (mock_message_repo.go).
//
// Transition methods return false when the guard refused the write: a message
// in a terminal status (sent, expired, poisoned) is never overwritten, with
// one exception, expired may still be forced to poisoned when the retry count
// crosses the quarantine threshold. RecordAttempt likewise refuses once the
// message is terminal, which keeps attempt history frozen at resolution.
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	// Delete removes a message that never made it onto a queue, so the
	// enqueue path can roll back on queue overflow.
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByIdempotencyKey(ctx context.Context, key, window string) (*domain.Message, error)
	List(ctx context.Context, f domain.ListFilter) ([]*domain.Message, int, error)

	MarkSent(ctx context.Context, id string) (bool, error)
	MarkRetrying(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastErr string) (bool, error)
	MarkFinal(ctx context.Context, id string, status domain.Status, retryCount int, lastErr string) (bool, error)
	MarkPending(ctx context.Context, id string) (bool, error)
	ResetForRequeue(ctx context.Context, id string) (bool, error)

	RecordAttempt(ctx context.Context, a *domain.DeliveryAttempt) (bool, error)
	ListAttempts(ctx context.Context, messageID string) ([]*domain.DeliveryAttempt, error)

	ChannelStats(ctx context.Context, since time.Time) ([]domain.ChannelStat, error)
	LatencyStats(ctx context.Context, since time.Time) (domain.LatencyStats, error)
	SuccessRate(ctx context.Context, since time.Time) (float64, error)
	OldestUnresolved(ctx context.Context) (*time.Time, error)
	CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
