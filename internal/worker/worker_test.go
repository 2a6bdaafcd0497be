package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/config"
	"github.com/eduanalytics/notify-relay/internal/dlq"
	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/idempotency"
	"github.com/eduanalytics/notify-relay/internal/queue"
	"github.com/eduanalytics/notify-relay/internal/ratelimiter"
	"github.com/eduanalytics/notify-relay/internal/repository"
	"github.com/eduanalytics/notify-relay/internal/sender"
	"github.com/eduanalytics/notify-relay/internal/worker"
)

// fakeSender counts calls and replies with a canned receipt, error or panic.
type fakeSender struct {
	channel  domain.Channel
	mu       sync.Mutex
	calls    int
	rec      *sender.Receipt
	err      error
	panicMsg string
}

func (f *fakeSender) Channel() domain.Channel { return f.channel }

func (f *fakeSender) Send(_ context.Context, _ *domain.Message) (*sender.Receipt, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type env struct {
	repo   *repository.MockMessageRepository
	queues *queue.Queues
	orch   *dlq.Orchestrator
	fake   *fakeSender
}

func newEnv(fake *fakeSender) *env {
	repo := repository.NewMockMessageRepository()
	q := queue.New(queue.Config{})
	orch := dlq.NewOrchestrator(repo, q, idempotency.NewMemoryStore(time.Hour), zap.NewNop())
	return &env{repo: repo, queues: q, orch: orch, fake: fake}
}

// startWorker runs one worker against the env until the test ends.
func (e *env) startWorker(t *testing.T, hooks worker.Hooks) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w := worker.NewWorker(
		0, e.orch, sender.NewRegistry(e.fake), ratelimiter.New(1000),
		time.Second, 25*time.Millisecond,
		zap.NewNop(), hooks,
	)
	go w.Run(ctx)
}

func (e *env) enqueue(t *testing.T, msg *domain.Message) {
	t.Helper()
	disp, _, err := e.orch.Enqueue(context.Background(), msg)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if disp != domain.DispositionQueued {
		t.Fatalf("disposition = %s, want queued", disp)
	}
}

func newMsg(id string) *domain.Message {
	now := time.Now().UTC()
	return &domain.Message{
		ID:               id,
		IdempotencyKey:   "key-" + id,
		KeyWindow:        "20260305",
		RecipientID:      "student-1",
		Channel:          domain.ChannelEmail,
		RecipientAddress: "student@example.edu",
		Subject:          "Assignment graded",
		Body:             "Your submission was graded",
		Priority:         domain.PriorityDefault,
		MaxRetries:       3,
		RetryStrategy:    domain.StrategyExponential,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func waitFired(t *testing.T, ch <-chan domain.Channel, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWorker_DeliversAndMarksSent(t *testing.T) {
	e := newEnv(&fakeSender{channel: domain.ChannelEmail, rec: &sender.Receipt{Code: 250, Detail: "smtp-1"}})
	msg := newMsg("m1")
	e.enqueue(t, msg)

	sent := make(chan domain.Channel, 1)
	e.startWorker(t, worker.Hooks{OnSent: func(ch domain.Channel, _ time.Duration) { sent <- ch }})
	waitFired(t, sent, "delivery")

	stored, err := e.repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusSent {
		t.Errorf("status = %s, want sent", stored.Status)
	}
	attempts, err := e.repo.ListAttempts(context.Background(), "m1")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].AttemptNumber != 1 || attempts[0].Status != domain.StatusSent || attempts[0].ResponseCode != 250 {
		t.Errorf("unexpected attempt: %+v", attempts[0])
	}
	if e.fake.callCount() != 1 {
		t.Errorf("expected 1 provider call, got %d", e.fake.callCount())
	}
}

func TestWorker_TransientFailureSchedulesRetry(t *testing.T) {
	e := newEnv(&fakeSender{channel: domain.ChannelEmail, err: errors.New("connection refused")})
	msg := newMsg("m1")
	e.enqueue(t, msg)

	retried := make(chan domain.Channel, 1)
	e.startWorker(t, worker.Hooks{OnRetried: func(ch domain.Channel) { retried <- ch }})
	waitFired(t, retried, "retry scheduling")

	stored, err := e.repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusRetrying {
		t.Errorf("status = %s, want retrying", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", stored.RetryCount)
	}
	if stored.NextRetryAt == nil {
		t.Fatal("expected next retry time")
	}
	delay := time.Until(*stored.NextRetryAt)
	if delay < 55*time.Second || delay > 65*time.Second {
		t.Errorf("first exponential retry should wait about 60s, got %s", delay)
	}
}

func TestWorker_PermanentFailureEvicts(t *testing.T) {
	e := newEnv(&fakeSender{channel: domain.ChannelEmail, err: sender.Permanent(errors.New("mailbox does not exist"))})
	msg := newMsg("m1")
	e.enqueue(t, msg)

	evicted := make(chan domain.Channel, 1)
	e.startWorker(t, worker.Hooks{OnEvicted: func(ch domain.Channel) { evicted <- ch }})
	waitFired(t, evicted, "eviction")

	stored, err := e.repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
	attempts, _ := e.repo.ListAttempts(context.Background(), "m1")
	if len(attempts) != 1 {
		t.Errorf("permanent failure should record exactly one attempt, got %d", len(attempts))
	}
	if dead := e.queues.PopDeadLetter(10); len(dead) != 1 || dead[0].ID != "m1" {
		t.Errorf("expected m1 on the dead-letter queue, got %v", dead)
	}
}

func TestWorker_ExpiredMessageSkipsProvider(t *testing.T) {
	e := newEnv(&fakeSender{channel: domain.ChannelEmail, rec: &sender.Receipt{Code: 250}})
	msg := newMsg("m1")
	past := time.Now().UTC().Add(-time.Minute)
	msg.ExpiresAt = &past
	e.enqueue(t, msg)

	evicted := make(chan domain.Channel, 1)
	e.startWorker(t, worker.Hooks{OnEvicted: func(ch domain.Channel) { evicted <- ch }})
	waitFired(t, evicted, "expiry eviction")

	stored, err := e.repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("expiry must not touch the retry budget, retry count = %d", stored.RetryCount)
	}
	if attempts, _ := e.repo.ListAttempts(context.Background(), "m1"); len(attempts) != 0 {
		t.Errorf("expiry must not record attempts, got %d", len(attempts))
	}
	if e.fake.callCount() != 0 {
		t.Errorf("provider must not be called for an expired message, got %d calls", e.fake.callCount())
	}
}

func TestWorker_SenderPanicCountsAsTransientFailure(t *testing.T) {
	e := newEnv(&fakeSender{channel: domain.ChannelEmail, panicMsg: "nil template"})
	msg := newMsg("m1")
	e.enqueue(t, msg)

	retried := make(chan domain.Channel, 1)
	e.startWorker(t, worker.Hooks{OnRetried: func(ch domain.Channel) { retried <- ch }})
	waitFired(t, retried, "panic recovery")

	stored, err := e.repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusRetrying {
		t.Errorf("status = %s, want retrying", stored.Status)
	}
	attempts, _ := e.repo.ListAttempts(context.Background(), "m1")
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].ErrorDetails == nil || !strings.Contains(*attempts[0].ErrorDetails, "sender panic") {
		t.Errorf("attempt should carry the panic, got %v", attempts[0].ErrorDetails)
	}
}

func TestPool_GracefulStop(t *testing.T) {
	e := newEnv(&fakeSender{channel: domain.ChannelEmail, rec: &sender.Receipt{Code: 250}})
	cfg := &config.Config{WorkerCount: 3, SendTimeout: time.Second, PollTimeout: 20 * time.Millisecond}
	p := worker.NewPool(cfg, e.orch, sender.NewRegistry(e.fake), ratelimiter.New(1000), zap.NewNop(), worker.Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after context cancellation")
	}
}
