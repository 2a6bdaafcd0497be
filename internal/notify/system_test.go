package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/config"
	"github.com/eduanalytics/notify-relay/internal/dlq"
	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/idempotency"
	"github.com/eduanalytics/notify-relay/internal/notify"
	"github.com/eduanalytics/notify-relay/internal/queue"
	"github.com/eduanalytics/notify-relay/internal/ratelimiter"
	"github.com/eduanalytics/notify-relay/internal/repository"
	"github.com/eduanalytics/notify-relay/internal/sender"
	"github.com/eduanalytics/notify-relay/internal/worker"
)

type fakeSender struct {
	channel domain.Channel
	mu      sync.Mutex
	calls   int
	rec     *sender.Receipt
	err     error
}

func (f *fakeSender) Channel() domain.Channel { return f.channel }

func (f *fakeSender) Send(_ context.Context, _ *domain.Message) (*sender.Receipt, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

type env struct {
	sys    *notify.System
	repo   *repository.MockMessageRepository
	queues *queue.Queues
	orch   *dlq.Orchestrator
	idem   *idempotency.MemoryStore
}

// newEnv assembles a full system against in-memory backends. workers=0
// leaves delivery inert so facade behavior can be asserted in isolation.
func newEnv(workers int, snd sender.Sender, hooks worker.Hooks) *env {
	cfg := &config.Config{
		WorkerCount:       workers,
		SendTimeout:       time.Second,
		PollTimeout:       25 * time.Millisecond,
		BulkMaxRecipients: 10,
		BulkConcurrency:   4,
		PromoteSchedule:   "@every 100ms",
		PurgeSchedule:     "@every 1h",
	}
	repo := repository.NewMockMessageRepository()
	q := queue.New(queue.Config{})
	idem := idempotency.NewMemoryStore(time.Hour)
	orch := dlq.NewOrchestrator(repo, q, idem, zap.NewNop())
	if snd == nil {
		snd = &fakeSender{channel: domain.ChannelEmail, rec: &sender.Receipt{Code: 250}}
	}
	pool := worker.NewPool(cfg, orch, sender.NewRegistry(snd), ratelimiter.New(1000), zap.NewNop(), hooks)
	janitor := worker.NewJanitor(orch, idem, zap.NewNop())
	return &env{
		sys:    notify.New(cfg, repo, orch, pool, janitor, zap.NewNop()),
		repo:   repo,
		queues: q,
		orch:   orch,
		idem:   idem,
	}
}

func validReq() domain.SendRequest {
	return domain.SendRequest{
		RecipientID:      "student-7",
		Channel:          domain.ChannelEmail,
		RecipientAddress: "student7@example.edu",
		Subject:          "Quiz graded",
		Body:             "You scored 92%",
	}
}

func TestSendNotification_AppliesDefaults(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})

	res, err := e.sys.SendNotification(context.Background(), validReq())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Disposition != domain.DispositionQueued {
		t.Errorf("disposition = %s, want queued", res.Disposition)
	}
	if res.IdempotencyKey == "" {
		t.Error("expected a derived idempotency key")
	}

	stored, err := e.repo.GetByID(context.Background(), res.MessageID)
	if err != nil {
		t.Fatalf("stored message missing: %v", err)
	}
	if stored.Priority != domain.PriorityDefault {
		t.Errorf("priority = %d, want %d", stored.Priority, domain.PriorityDefault)
	}
	if stored.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", stored.MaxRetries)
	}
	if stored.RetryStrategy != domain.StrategyExponential {
		t.Errorf("strategy = %s, want exponential", stored.RetryStrategy)
	}
	if d := e.queues.Depths(); d.Main != 1 {
		t.Errorf("main depth = %d, want 1", d.Main)
	}
}

func TestSendNotification_Validation(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	afterExpiry := future.Add(time.Hour)

	tests := []struct {
		name    string
		mutate  func(*domain.SendRequest)
		wantErr error
	}{
		{"unknown channel", func(r *domain.SendRequest) { r.Channel = "fax" }, domain.ErrInvalidChannel},
		{"missing recipient", func(r *domain.SendRequest) { r.RecipientID = "" }, domain.ErrInvalidRecipient},
		{"missing address", func(r *domain.SendRequest) { r.RecipientAddress = "" }, domain.ErrMissingAddress},
		{"missing body and template", func(r *domain.SendRequest) { r.Body = "" }, domain.ErrInvalidBody},
		{"priority out of range", func(r *domain.SendRequest) { r.Priority = 9 }, domain.ErrInvalidPriority},
		{"unknown strategy", func(r *domain.SendRequest) { r.RetryStrategy = "random" }, domain.ErrInvalidStrategy},
		{"expires in past", func(r *domain.SendRequest) { r.ExpiresAt = &past }, domain.ErrExpiresInPast},
		{"scheduled after expiry", func(r *domain.SendRequest) {
			r.ExpiresAt = &future
			r.ScheduledAt = &afterExpiry
		}, domain.ErrScheduleAfterExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validReq()
			tt.mutate(&req)
			_, err := e.sys.SendNotification(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, total, _ := e.sys.List(context.Background(), domain.ListFilter{}); total != 0 {
		t.Errorf("rejected requests must not persist, found %d rows", total)
	}
}

func TestSendNotification_DuplicateBlocked(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})
	ctx := context.Background()

	first, err := e.sys.SendNotification(ctx, validReq())
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := e.sys.SendNotification(ctx, validReq())
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if second.Disposition != domain.DispositionDuplicate {
		t.Errorf("disposition = %s, want blocked_duplicate", second.Disposition)
	}
	if second.MessageID != first.MessageID {
		t.Errorf("duplicate should resolve to %s, got %s", first.MessageID, second.MessageID)
	}
	if _, total, _ := e.sys.List(ctx, domain.ListFilter{}); total != 1 {
		t.Errorf("expected exactly 1 stored message, got %d", total)
	}
}

func TestSendNotification_ExplicitKeyHonored(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})

	req := validReq()
	req.IdempotencyKey = "course-42:digest:2026-03-05"
	res, err := e.sys.SendNotification(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.IdempotencyKey != "course-42:digest:2026-03-05" {
		t.Errorf("key = %q, want the caller-supplied key", res.IdempotencyKey)
	}

	// Different content under the same key is still the same logical send.
	other := validReq()
	other.IdempotencyKey = req.IdempotencyKey
	other.Body = "You scored 93%"
	dup, err := e.sys.SendNotification(context.Background(), other)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if dup.Disposition != domain.DispositionDuplicate {
		t.Errorf("disposition = %s, want blocked_duplicate", dup.Disposition)
	}
}

func TestSendNotification_Scheduled(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})

	req := validReq()
	at := time.Now().UTC().Add(2 * time.Hour)
	req.ScheduledAt = &at
	res, err := e.sys.SendNotification(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Disposition != domain.DispositionScheduled {
		t.Errorf("disposition = %s, want scheduled", res.Disposition)
	}
	d := e.queues.Depths()
	if d.Main != 0 || d.Delayed != 1 {
		t.Errorf("depths = %+v, want delayed=1 main=0", d)
	}
}

func TestConvenienceWrappers(t *testing.T) {
	tests := []struct {
		name        string
		send        func(*notify.System) (*notify.SendResult, error)
		wantChannel domain.Channel
		wantAddress string
	}{
		{
			"email",
			func(s *notify.System) (*notify.SendResult, error) {
				return s.SendEmail(context.Background(), "u1", "u1@example.edu", "Welcome", "Hello")
			},
			domain.ChannelEmail, "u1@example.edu",
		},
		{
			"templated email",
			func(s *notify.System) (*notify.SendResult, error) {
				return s.SendTemplatedEmail(context.Background(), "u1", "u1@example.edu", "welcome_v2", map[string]string{"name": "Ada"})
			},
			domain.ChannelEmail, "u1@example.edu",
		},
		{
			"sms",
			func(s *notify.System) (*notify.SendResult, error) {
				return s.SendSMS(context.Background(), "u1", "+15550100", "Code 123456")
			},
			domain.ChannelSMS, "+15550100",
		},
		{
			"telegram",
			func(s *notify.System) (*notify.SendResult, error) {
				return s.SendTelegram(context.Background(), "u1", "987654", "Lecture moved")
			},
			domain.ChannelTelegram, "987654",
		},
		{
			"in-app",
			func(s *notify.System) (*notify.SendResult, error) {
				return s.CreateInApp(context.Background(), "u1", "New badge", "You earned a badge")
			},
			domain.ChannelInApp, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(0, nil, worker.Hooks{})
			res, err := tt.send(e.sys)
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			stored, err := e.repo.GetByID(context.Background(), res.MessageID)
			if err != nil {
				t.Fatalf("stored message missing: %v", err)
			}
			if stored.Channel != tt.wantChannel {
				t.Errorf("channel = %s, want %s", stored.Channel, tt.wantChannel)
			}
			if stored.RecipientAddress != tt.wantAddress {
				t.Errorf("address = %q, want %q", stored.RecipientAddress, tt.wantAddress)
			}
		})
	}
}

func TestSendBulk_MixedOutcomes(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})

	base := validReq()
	second := validReq()
	second.RecipientID = "student-8"
	second.RecipientAddress = "student8@example.edu"
	third := validReq()
	third.RecipientID = "student-9"
	third.RecipientAddress = "student9@example.edu"
	invalid := validReq()
	invalid.RecipientID = ""

	res, err := e.sys.SendBulk(context.Background(), domain.BulkRequest{
		Notifications: []domain.SendRequest{base, second, third, invalid, base},
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.Total != 5 {
		t.Errorf("total = %d, want 5", res.Total)
	}
	if res.Queued != 3 {
		t.Errorf("queued = %d, want 3", res.Queued)
	}
	if res.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", res.Duplicates)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if len(res.Items) != 5 {
		t.Fatalf("expected 5 item results, got %d", len(res.Items))
	}
	if res.Items[3].Error == "" {
		t.Error("invalid item should carry its validation error")
	}
	if _, total, _ := e.sys.List(context.Background(), domain.ListFilter{}); total != 3 {
		t.Errorf("expected 3 stored messages, got %d", total)
	}
}

func TestSendBulk_Limits(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})

	if _, err := e.sys.SendBulk(context.Background(), domain.BulkRequest{}); !errors.Is(err, domain.ErrBulkEmpty) {
		t.Errorf("empty bulk: err = %v, want ErrBulkEmpty", err)
	}

	reqs := make([]domain.SendRequest, 11)
	for i := range reqs {
		reqs[i] = validReq()
	}
	if _, err := e.sys.SendBulk(context.Background(), domain.BulkRequest{Notifications: reqs}); !errors.Is(err, domain.ErrBulkTooLarge) {
		t.Errorf("oversized bulk: err = %v, want ErrBulkTooLarge", err)
	}
}

func TestStatus_NotFound(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})
	_, _, err := e.sys.Status(context.Background(), "no-such-id")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueueStats(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})
	if _, err := e.sys.SendNotification(context.Background(), validReq()); err != nil {
		t.Fatalf("send: %v", err)
	}

	stats, err := e.sys.QueueStats(context.Background())
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats.Depths.Main != 1 {
		t.Errorf("main depth = %d, want 1", stats.Depths.Main)
	}
	if stats.SuccessRate != 1.0 {
		t.Errorf("success rate with no resolutions = %v, want 1.0", stats.SuccessRate)
	}
	if stats.StrandedPending != 0 {
		t.Errorf("stranded = %d, want 0", stats.StrandedPending)
	}
	if stats.OldestUnresolved == nil {
		t.Error("expected oldest unresolved timestamp")
	}
}

func TestMetrics_DefaultWindow(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})
	if _, err := e.sys.SendNotification(context.Background(), validReq()); err != nil {
		t.Fatalf("send: %v", err)
	}

	report, err := e.sys.Metrics(context.Background(), 0)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if report.WindowHours != 24 {
		t.Errorf("window = %d, want default 24", report.WindowHours)
	}
	if report.QueueDepths.Main != 1 {
		t.Errorf("main depth = %d, want 1", report.QueueDepths.Main)
	}
	var email *domain.ChannelStat
	for i := range report.Channels {
		if report.Channels[i].Channel == domain.ChannelEmail {
			email = &report.Channels[i]
		}
	}
	if email == nil || email.InFlight != 1 {
		t.Errorf("expected 1 in-flight email, got %+v", report.Channels)
	}
}

func TestRequeueDeadLetters(t *testing.T) {
	e := newEnv(0, nil, worker.Hooks{})
	ctx := context.Background()

	res, err := e.sys.SendNotification(ctx, validReq())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, ok := e.orch.Dequeue(ctx, time.Second)
	if !ok {
		t.Fatal("dequeue returned nothing")
	}
	if _, err := e.orch.MarkFailure(ctx, msg, errors.New("mailbox rejected"), false, 0, 0); err != nil {
		t.Fatalf("mark failure: %v", err)
	}

	n, err := e.sys.RequeueDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued = %d, want 1", n)
	}

	stored, _, err := e.sys.Status(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if stored.Status != domain.StatusPending || stored.RetryCount != 0 {
		t.Errorf("after requeue status=%s retries=%d, want pending/0", stored.Status, stored.RetryCount)
	}
}

func TestEndToEnd_SuccessfulDelivery(t *testing.T) {
	sent := make(chan domain.Channel, 1)
	fake := &fakeSender{channel: domain.ChannelSMS, rec: &sender.Receipt{Code: 202, Detail: "gw-7"}}
	e := newEnv(1, fake, worker.Hooks{OnSent: func(ch domain.Channel, _ time.Duration) { sent <- ch }})

	if err := e.sys.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.sys.Shutdown()

	res, err := e.sys.SendSMS(context.Background(), "student-7", "+15550100", "Your seat is confirmed")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	msg, attempts, err := e.sys.Status(context.Background(), res.MessageID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if msg.Status != domain.StatusSent {
		t.Errorf("status = %s, want sent", msg.Status)
	}
	if len(attempts) != 1 || attempts[0].AttemptNumber != 1 {
		t.Errorf("expected a single first attempt, got %+v", attempts)
	}
	if _, found, _ := e.idem.Check(context.Background(), res.IdempotencyKey); !found {
		t.Error("resolution should write an idempotency record")
	}
}
