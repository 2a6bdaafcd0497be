package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/dlq"
	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/ratelimiter"
	"github.com/eduanalytics/notify-relay/internal/sender"
)

// Hooks carries the metric callback functions injected by main.
// Using a struct keeps the worker constructor signature clean; nil fields
// become no-ops.
type Hooks struct {
	OnSent     func(channel domain.Channel, latency time.Duration)
	OnFailed   func(channel domain.Channel)
	OnRetried  func(channel domain.Channel)
	OnEvicted  func(channel domain.Channel)
	OnPoisoned func(channel domain.Channel)
}

func (h Hooks) normalized() Hooks {
	if h.OnSent == nil {
		h.OnSent = func(domain.Channel, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Channel) {}
	}
	if h.OnRetried == nil {
		h.OnRetried = func(domain.Channel) {}
	}
	if h.OnEvicted == nil {
		h.OnEvicted = func(domain.Channel) {}
	}
	if h.OnPoisoned == nil {
		h.OnPoisoned = func(domain.Channel) {}
	}
	return h
}

// Worker is a single goroutine that continuously pulls messages from the
// delivery queues, applies per-channel rate limiting, delivers through the
// sender registry and reports the outcome back to the orchestrator, which
// owns all retry and eviction decisions.
type Worker struct {
	id          int
	orch        *dlq.Orchestrator
	senders     *sender.Registry
	limiter     *ratelimiter.ChannelLimiters
	sendTimeout time.Duration
	pollTimeout time.Duration
	logger      *zap.Logger
	hooks       Hooks

	// Lifetime counters, read by the pool for the queue stats report.
	processed atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

func NewWorker(
	id int,
	orch *dlq.Orchestrator,
	senders *sender.Registry,
	limiter *ratelimiter.ChannelLimiters,
	sendTimeout, pollTimeout time.Duration,
	logger *zap.Logger,
	hooks Hooks,
) *Worker {
	return &Worker{
		id:          id,
		orch:        orch,
		senders:     senders,
		limiter:     limiter,
		sendTimeout: sendTimeout,
		pollTimeout: pollTimeout,
		logger:      logger,
		hooks:       hooks.normalized(),
	}
}

// Run blocks until ctx is cancelled, processing one message per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		msg, ok := w.orch.Dequeue(ctx, w.pollTimeout)
		if !ok {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping",
					zap.Int("id", w.id),
					zap.Uint64("processed", w.processed.Load()),
					zap.Uint64("succeeded", w.succeeded.Load()),
					zap.Uint64("failed", w.failed.Load()))
				return
			}
			continue
		}
		w.process(ctx, msg)
	}
}

func (w *Worker) process(ctx context.Context, msg *domain.Message) {
	start := time.Now()
	w.processed.Add(1)
	log := w.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("channel", string(msg.Channel)),
	)

	// TTL check comes before any provider work: an expired message is
	// evicted untouched, with its retry budget intact.
	if msg.Expired(start) {
		if err := w.orch.MarkExpired(ctx, msg); err != nil {
			log.Error("failed to expire message", zap.Error(err))
			return
		}
		w.hooks.OnEvicted(msg.Channel)
		return
	}

	// Block here until the per-channel rate limiter grants a token.
	if err := w.limiter.Wait(ctx, msg.Channel); err != nil {
		// ctx cancelled while waiting — worker is shutting down.
		return
	}

	sctx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	rec, err := w.send(sctx, msg)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the send; the outcome is unknown and
			// must not burn retry budget.
			log.Debug("send interrupted by shutdown")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("processing timeout after %s: %w", w.sendTimeout, err)
		}
		w.handleFailure(ctx, msg, err, elapsed, log)
		return
	}

	code, detail := 0, ""
	if rec != nil {
		code, detail = rec.Code, rec.Detail
	}
	if err := w.orch.MarkSuccess(ctx, msg, code, detail, elapsed); err != nil {
		log.Error("failed to mark as sent", zap.Error(err))
		return
	}
	w.succeeded.Add(1)
	w.hooks.OnSent(msg.Channel, elapsed)
	log.Info("message sent",
		zap.String("provider_detail", detail),
		zap.Int("attempt", msg.RetryCount+1),
		zap.Duration("latency", elapsed))
}

// send wraps the registry call with panic recovery. A panicking sender
// counts as a transient failure of that one attempt, not a worker crash.
func (w *Worker) send(ctx context.Context, msg *domain.Message) (rec *sender.Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return w.senders.Send(ctx, msg)
}

// handleFailure reports the failed attempt and routes the metric for the
// status the orchestrator decided on.
func (w *Worker) handleFailure(ctx context.Context, msg *domain.Message, sendErr error, elapsed time.Duration, log *zap.Logger) {
	shouldRetry := !sender.IsPermanent(sendErr)
	log.Warn("send failed",
		zap.Error(sendErr),
		zap.Int("retry_count", msg.RetryCount),
		zap.Bool("retryable", shouldRetry))

	status, err := w.orch.MarkFailure(ctx, msg, sendErr, shouldRetry, 0, elapsed)
	if err != nil {
		log.Error("failed to record failure", zap.Error(err))
		return
	}
	w.failed.Add(1)
	w.hooks.OnFailed(msg.Channel)
	switch status {
	case domain.StatusRetrying:
		w.hooks.OnRetried(msg.Channel)
	case domain.StatusExpired:
		w.hooks.OnEvicted(msg.Channel)
	case domain.StatusPoisoned:
		w.hooks.OnPoisoned(msg.Channel)
	}
}
