package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/idempotency"
	"github.com/eduanalytics/notify-relay/internal/queue"
	"github.com/eduanalytics/notify-relay/internal/repository"
)

// poisonMultiplier quarantines a message once its retry count reaches this
// multiple of maxRetries. The gap between maxRetries and the threshold
// absorbs duplicate failure reports from at-least-once delivery; crossing it
// means something is systematically re-feeding the message.
const poisonMultiplier = 2

// requeueBackoff is how long a promotion waits when its target queue is full.
const requeueBackoff = 30 * time.Second

// Orchestrator owns every message state transition. Producers hand messages
// in through Enqueue, workers take them out through Dequeue and report with
// MarkSuccess / MarkFailure / MarkExpired, the janitor drives PromoteDueRetries,
// and operators recover dead-lettered traffic with RequeueFromDeadLetter.
//
// All dependencies are injected; the orchestrator holds no global state.
type Orchestrator struct {
	repo   repository.MessageRepository
	queues *queue.Queues
	idem   idempotency.Store
	log    *zap.Logger
}

func NewOrchestrator(repo repository.MessageRepository, queues *queue.Queues, idem idempotency.Store, log *zap.Logger) *Orchestrator {
	return &Orchestrator{repo: repo, queues: queues, idem: idem, log: log}
}

// Enqueue runs the duplicate check, persists the message and places it on
// the main queue (or the delayed set for scheduled sends).
//
// The duplicate check is two-layered: the ephemeral idempotency store answers
// for keys resolved within the TTL window, the unique (key, window) constraint
// in the message store catches everything in flight. Store errors on the
// ephemeral layer fail open; a missed duplicate is tolerated, a false block
// is not.
func (o *Orchestrator) Enqueue(ctx context.Context, msg *domain.Message) (domain.Disposition, *domain.Message, error) {
	rec, found, err := o.idem.Check(ctx, msg.IdempotencyKey)
	if err != nil {
		o.log.Warn("idempotency check failed, continuing without it",
			zap.String("message_id", msg.ID), zap.Error(err))
	}
	if found {
		existing, err := o.repo.GetByID(ctx, rec.MessageID)
		if err == nil {
			return domain.DispositionDuplicate, existing, nil
		}
		o.log.Warn("idempotency record points at missing message, continuing",
			zap.String("message_id", rec.MessageID), zap.Error(err))
	}

	existing, err := o.repo.GetByIdempotencyKey(ctx, msg.IdempotencyKey, msg.KeyWindow)
	if err == nil {
		return domain.DispositionDuplicate, existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", nil, fmt.Errorf("duplicate lookup: %w", err)
	}

	if err := o.repo.Create(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Lost the race to a concurrent identical send.
			if existing, err := o.repo.GetByIdempotencyKey(ctx, msg.IdempotencyKey, msg.KeyWindow); err == nil {
				return domain.DispositionDuplicate, existing, nil
			}
		}
		return "", nil, err
	}

	now := time.Now().UTC()
	if msg.ScheduledAt != nil && msg.ScheduledAt.After(now) {
		o.queues.Schedule(msg, *msg.ScheduledAt)
		o.log.Debug("message scheduled",
			zap.String("message_id", msg.ID), zap.Time("scheduled_at", *msg.ScheduledAt))
		return domain.DispositionScheduled, msg, nil
	}

	if err := o.queues.PushMain(msg); err != nil {
		// Roll the row back so a later retry of the same request is not
		// mistaken for a duplicate of a message that never queued.
		if delErr := o.repo.Delete(ctx, msg.ID); delErr != nil {
			o.log.Error("rollback of unqueued message failed",
				zap.String("message_id", msg.ID), zap.Error(delErr))
		}
		return "", nil, err
	}
	return domain.DispositionQueued, msg, nil
}

// Dequeue hands the next deliverable message to a worker, blocking up to
// timeout. Returns (nil, false) on timeout or shutdown; the caller inspects
// its own context to tell the two apart.
func (o *Orchestrator) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Message, bool) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.queues.PopForDelivery(dctx)
}

// MarkSuccess records a successful attempt and finalizes the message as sent.
// The attempt row is written first, while the message is still unresolved;
// attempts never attach to terminal messages.
func (o *Orchestrator) MarkSuccess(ctx context.Context, msg *domain.Message, responseCode int, responseMsg string, latency time.Duration) error {
	now := time.Now().UTC()
	attempt := &domain.DeliveryAttempt{
		ID:              uuid.NewString(),
		MessageID:       msg.ID,
		AttemptNumber:   msg.RetryCount + 1,
		AttemptedAt:     now,
		Status:          domain.StatusSent,
		ResponseCode:    responseCode,
		ResponseMessage: responseMsg,
		LatencyMs:       latency.Milliseconds(),
	}
	recorded, err := o.repo.RecordAttempt(ctx, attempt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if !recorded {
		o.log.Debug("attempt on resolved message not recorded", zap.String("message_id", msg.ID))
	}

	ok, err := o.repo.MarkSent(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if !ok {
		// Late success on an already-resolved message; the recorded
		// resolution stands.
		o.log.Warn("success reported for resolved message", zap.String("message_id", msg.ID))
		return nil
	}

	msg.Status = domain.StatusSent
	o.markProcessed(ctx, msg, now)
	return nil
}

// MarkFailure records a failed attempt, advances the retry count and
// classifies the message: schedule another retry, evict to the dead-letter
// queue as expired, or quarantine as poisoned once the retry count reaches
// poisonMultiplier times maxRetries. Returns the resulting status.
func (o *Orchestrator) MarkFailure(ctx context.Context, msg *domain.Message, sendErr error, shouldRetry bool, responseCode int, latency time.Duration) (domain.Status, error) {
	now := time.Now().UTC()
	msg.RetryCount++
	errStr := sendErr.Error()
	msg.LastError = &errStr

	attempt := &domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		MessageID:     msg.ID,
		AttemptNumber: msg.RetryCount,
		AttemptedAt:   now,
		Status:        domain.StatusFailed,
		ResponseCode:  responseCode,
		LatencyMs:     latency.Milliseconds(),
		ErrorDetails:  &errStr,
	}
	recorded, err := o.repo.RecordAttempt(ctx, attempt)
	if err != nil {
		return "", fmt.Errorf("record attempt: %w", err)
	}
	if !recorded {
		o.log.Debug("attempt on resolved message not recorded", zap.String("message_id", msg.ID))
	}

	switch {
	case msg.RetryCount >= poisonMultiplier*msg.MaxRetries:
		landed, err := o.finalize(ctx, msg, domain.StatusPoisoned, errStr, now)
		if err != nil {
			return "", err
		}
		if landed {
			if err := o.queues.PushPoison(msg); err != nil {
				o.log.Warn("poison queue full, message parked in store only",
					zap.String("message_id", msg.ID))
			}
		}
		o.log.Error("message poisoned",
			zap.String("message_id", msg.ID),
			zap.String("channel", string(msg.Channel)),
			zap.Int("retry_count", msg.RetryCount))
		return domain.StatusPoisoned, nil

	case !shouldRetry || msg.RetryCount >= msg.MaxRetries:
		landed, err := o.finalize(ctx, msg, domain.StatusExpired, errStr, now)
		if err != nil {
			return "", err
		}
		if landed {
			if err := o.queues.PushDeadLetter(msg); err != nil {
				o.log.Warn("dead-letter queue full, message parked in store only",
					zap.String("message_id", msg.ID))
			}
			o.log.Warn("message evicted to dead-letter",
				zap.String("message_id", msg.ID),
				zap.String("channel", string(msg.Channel)),
				zap.Int("retry_count", msg.RetryCount),
				zap.Bool("should_retry", shouldRetry))
		}
		return domain.StatusExpired, nil

	default:
		delay := BackoffDelay(msg.RetryStrategy, msg.RetryCount)
		readyAt := now.Add(delay)
		msg.Status = domain.StatusRetrying
		msg.NextRetryAt = &readyAt

		ok, err := o.repo.MarkRetrying(ctx, msg.ID, msg.RetryCount, readyAt, errStr)
		if err != nil {
			return "", fmt.Errorf("mark retrying: %w", err)
		}
		if !ok {
			o.log.Warn("retry scheduling refused, message already resolved",
				zap.String("message_id", msg.ID))
			return msg.Status, nil
		}

		if delay == 0 {
			o.promote(ctx, msg, now)
		} else {
			o.queues.Schedule(msg, readyAt)
		}
		o.log.Info("retry scheduled",
			zap.String("message_id", msg.ID),
			zap.Int("retry_count", msg.RetryCount),
			zap.Duration("delay", delay))
		return domain.StatusRetrying, nil
	}
}

// MarkExpired finalizes a message whose TTL lapsed before any send was tried.
// No delivery attempt is recorded and the retry budget is untouched.
func (o *Orchestrator) MarkExpired(ctx context.Context, msg *domain.Message) error {
	now := time.Now().UTC()
	reason := "expired before delivery"
	ok, err := o.repo.MarkFinal(ctx, msg.ID, domain.StatusExpired, msg.RetryCount, reason)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if !ok {
		return nil
	}
	msg.Status = domain.StatusExpired
	msg.LastError = &reason
	if err := o.queues.PushDeadLetter(msg); err != nil {
		o.log.Warn("dead-letter queue full, message parked in store only",
			zap.String("message_id", msg.ID))
	}
	o.markProcessed(ctx, msg, now)
	o.log.Info("message expired before delivery",
		zap.String("message_id", msg.ID), zap.String("channel", string(msg.Channel)))
	return nil
}

// PromoteDueRetries moves every delayed message whose ready time has passed
// onto the retry queue. Called periodically by the janitor. Promotion is
// idempotent: popped entries that cannot be queued are re-delayed, never
// duplicated.
func (o *Orchestrator) PromoteDueRetries(ctx context.Context) int {
	now := time.Now().UTC()
	due := o.queues.PopDue(now)
	promoted := 0
	for _, msg := range due {
		if promotedOne := o.promote(ctx, msg, now); promotedOne {
			promoted++
		}
	}
	return promoted
}

func (o *Orchestrator) promote(ctx context.Context, msg *domain.Message, now time.Time) bool {
	ok, err := o.repo.MarkPending(ctx, msg.ID)
	if err != nil {
		o.log.Error("promotion status update failed, re-delaying",
			zap.String("message_id", msg.ID), zap.Error(err))
		o.queues.Schedule(msg, now.Add(requeueBackoff))
		return false
	}
	if !ok {
		// Resolved while waiting out backoff (operator action); drop it.
		o.log.Debug("skipping promotion of resolved message", zap.String("message_id", msg.ID))
		return false
	}
	msg.Status = domain.StatusPending
	if err := o.queues.PushRetry(msg); err != nil {
		o.queues.Schedule(msg, now.Add(requeueBackoff))
		o.log.Warn("retry queue full, promotion re-delayed", zap.String("message_id", msg.ID))
		return false
	}
	return true
}

// RequeueFromDeadLetter pops up to limit dead-lettered messages, resets their
// retry state and feeds them back through the main queue. Returns how many
// were requeued.
func (o *Orchestrator) RequeueFromDeadLetter(ctx context.Context, limit int) (int, error) {
	msgs := o.queues.PopDeadLetter(limit)
	requeued := 0
	for i, msg := range msgs {
		ok, err := o.repo.ResetForRequeue(ctx, msg.ID)
		if err != nil {
			o.log.Error("requeue reset failed", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		if !ok {
			o.log.Debug("message no longer eligible for requeue", zap.String("message_id", msg.ID))
			continue
		}
		msg.RetryCount = 0
		msg.Status = domain.StatusPending
		msg.LastError = nil
		msg.NextRetryAt = nil
		if err := o.queues.PushMain(msg); err != nil {
			// Put the rest back and stop; the operator can retry with a
			// smaller limit.
			for _, rest := range msgs[i:] {
				if pushErr := o.queues.PushDeadLetter(rest); pushErr != nil {
					o.log.Error("message dropped from dead-letter queue, recover via store",
						zap.String("message_id", rest.ID))
				}
			}
			return requeued, err
		}
		requeued++
		o.log.Info("message requeued from dead-letter", zap.String("message_id", msg.ID))
	}
	return requeued, nil
}

// Depths reports current queue backlogs.
func (o *Orchestrator) Depths() queue.Depths {
	return o.queues.Depths()
}

// finalize persists a terminal status. It reports whether the write landed;
// a refused write means the message was already resolved and the caller must
// not queue it again.
func (o *Orchestrator) finalize(ctx context.Context, msg *domain.Message, status domain.Status, lastErr string, now time.Time) (bool, error) {
	ok, err := o.repo.MarkFinal(ctx, msg.ID, status, msg.RetryCount, lastErr)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", status, err)
	}
	msg.Status = status
	if ok {
		o.markProcessed(ctx, msg, now)
	}
	return ok, nil
}

// markProcessed writes the idempotency record for a resolved message.
// Failures are logged and swallowed: the record is an optimization, the
// unique constraint in the store remains the authoritative duplicate check.
func (o *Orchestrator) markProcessed(ctx context.Context, msg *domain.Message, now time.Time) {
	rec := idempotency.Record{MessageID: msg.ID, Status: msg.Status, ProcessedAt: now}
	if err := o.idem.MarkProcessed(ctx, msg.IdempotencyKey, rec); err != nil {
		o.log.Warn("idempotency record write failed",
			zap.String("message_id", msg.ID), zap.Error(err))
	}
}
