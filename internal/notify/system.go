package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eduanalytics/notify-relay/internal/config"
	"github.com/eduanalytics/notify-relay/internal/dlq"
	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/idempotency"
	"github.com/eduanalytics/notify-relay/internal/queue"
	"github.com/eduanalytics/notify-relay/internal/repository"
	"github.com/eduanalytics/notify-relay/internal/worker"
)

const defaultMaxRetries = 3

// strandedCutoff is how long a message may sit in pending before the queue
// stats report it as stranded. Stranding happens when a worker dies between
// dequeue and outcome report; there is no lease mechanism reclaiming those.
const strandedCutoff = time.Hour

// System is the notification subsystem behind one façade. It is constructed
// once at process start with every dependency injected, and handed by
// reference to producers (HTTP handlers, application code) and operators.
// No package-level state, no import-time side effects.
type System struct {
	repo    repository.MessageRepository
	orch    *dlq.Orchestrator
	pool    *worker.Pool
	janitor *worker.Janitor
	log     *zap.Logger

	bulkMax     int
	bulkConc    int
	promoteSpec string
	purgeSpec   string

	cancel context.CancelFunc
}

func New(
	cfg *config.Config,
	repo repository.MessageRepository,
	orch *dlq.Orchestrator,
	pool *worker.Pool,
	janitor *worker.Janitor,
	log *zap.Logger,
) *System {
	return &System{
		repo:        repo,
		orch:        orch,
		pool:        pool,
		janitor:     janitor,
		log:         log,
		bulkMax:     cfg.BulkMaxRecipients,
		bulkConc:    cfg.BulkConcurrency,
		promoteSpec: cfg.PromoteSchedule,
		purgeSpec:   cfg.PurgeSchedule,
	}
}

// Start launches the worker pool and the janitor.
func (s *System) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pool.Start(runCtx)
	return s.janitor.Start(runCtx, s.promoteSpec, s.purgeSpec)
}

// Shutdown stops the janitor, cancels the workers and waits for in-flight
// deliveries to report their outcome.
func (s *System) Shutdown() {
	s.janitor.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.pool.Wait()
}

// SendResult is the synchronous answer to a send call. Delivery itself is
// asynchronous; callers learn the outcome through Status.
type SendResult struct {
	MessageID      string             `json:"message_id"`
	IdempotencyKey string             `json:"idempotency_key"`
	Disposition    domain.Disposition `json:"disposition"`
	Status         domain.Status      `json:"status"`
}

// SendNotification validates the request, derives its idempotency key and
// hands the message to the orchestrator. A request whose key already
// resolved returns the existing message with disposition blocked_duplicate.
func (s *System) SendNotification(ctx context.Context, req domain.SendRequest) (*SendResult, error) {
	now := time.Now().UTC()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	msg := s.buildMessage(req, now)
	disp, resolved, err := s.orch.Enqueue(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		MessageID:      resolved.ID,
		IdempotencyKey: resolved.IdempotencyKey,
		Disposition:    disp,
		Status:         resolved.Status,
	}, nil
}

// SendEmail sends a plain email notification.
func (s *System) SendEmail(ctx context.Context, recipientID, address, subject, body string) (*SendResult, error) {
	return s.SendNotification(ctx, domain.SendRequest{
		RecipientID:      recipientID,
		Channel:          domain.ChannelEmail,
		RecipientAddress: address,
		Subject:          subject,
		Body:             body,
	})
}

// SendTemplatedEmail sends an email rendered from a stored template.
// The template is opaque here; only its id and data feed the content hash.
func (s *System) SendTemplatedEmail(ctx context.Context, recipientID, address, templateID string, data map[string]string) (*SendResult, error) {
	return s.SendNotification(ctx, domain.SendRequest{
		RecipientID:      recipientID,
		Channel:          domain.ChannelEmail,
		RecipientAddress: address,
		TemplateID:       templateID,
		TemplateData:     data,
	})
}

// SendSMS sends a text message to a phone number.
func (s *System) SendSMS(ctx context.Context, recipientID, phone, body string) (*SendResult, error) {
	return s.SendNotification(ctx, domain.SendRequest{
		RecipientID:      recipientID,
		Channel:          domain.ChannelSMS,
		RecipientAddress: phone,
		Body:             body,
	})
}

// SendTelegram sends a message to a Telegram chat.
func (s *System) SendTelegram(ctx context.Context, recipientID, chatID, body string) (*SendResult, error) {
	return s.SendNotification(ctx, domain.SendRequest{
		RecipientID:      recipientID,
		Channel:          domain.ChannelTelegram,
		RecipientAddress: chatID,
		Body:             body,
	})
}

// CreateInApp creates an in-app notification. No address is needed; the
// recipient id locates the inbox.
func (s *System) CreateInApp(ctx context.Context, recipientID, subject, body string) (*SendResult, error) {
	return s.SendNotification(ctx, domain.SendRequest{
		RecipientID: recipientID,
		Channel:     domain.ChannelInApp,
		Subject:     subject,
		Body:        body,
	})
}

// BulkItem is the outcome of one request within a bulk send.
type BulkItem struct {
	Index       int                `json:"index"`
	MessageID   string             `json:"message_id,omitempty"`
	Disposition domain.Disposition `json:"disposition,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// BulkResult aggregates per-item outcomes of a bulk send.
type BulkResult struct {
	Total      int        `json:"total"`
	Queued     int        `json:"queued"`
	Scheduled  int        `json:"scheduled"`
	Duplicates int        `json:"duplicates"`
	Failed     int        `json:"failed"`
	Items      []BulkItem `json:"items"`
}

// SendBulk fans the requests out with bounded concurrency. Item failures
// never abort the batch; each lands in its slot of Items.
func (s *System) SendBulk(ctx context.Context, req domain.BulkRequest) (*BulkResult, error) {
	if len(req.Notifications) == 0 {
		return nil, domain.ErrBulkEmpty
	}
	if len(req.Notifications) > s.bulkMax {
		return nil, domain.ErrBulkTooLarge
	}

	items := make([]BulkItem, len(req.Notifications))
	var g errgroup.Group
	g.SetLimit(s.bulkConc)
	for i, r := range req.Notifications {
		// Pin per-iteration copies: the go directive is below 1.22, where
		// range variables are shared across iterations.
		i, r := i, r
		g.Go(func() error {
			res, err := s.SendNotification(ctx, r)
			if err != nil {
				items[i] = BulkItem{Index: i, Error: err.Error()}
				return nil
			}
			items[i] = BulkItem{Index: i, MessageID: res.MessageID, Disposition: res.Disposition}
			return nil
		})
	}
	_ = g.Wait()

	out := &BulkResult{Total: len(items), Items: items}
	for _, it := range items {
		switch it.Disposition {
		case domain.DispositionQueued:
			out.Queued++
		case domain.DispositionScheduled:
			out.Scheduled++
		case domain.DispositionDuplicate:
			out.Duplicates++
		default:
			out.Failed++
		}
	}
	s.log.Info("bulk send dispatched",
		zap.Int("total", out.Total),
		zap.Int("queued", out.Queued),
		zap.Int("duplicates", out.Duplicates),
		zap.Int("failed", out.Failed))
	return out, nil
}

// Status returns the message and its full attempt history.
func (s *System) Status(ctx context.Context, id string) (*domain.Message, []*domain.DeliveryAttempt, error) {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := s.repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}
	return msg, attempts, nil
}

// List returns a page of messages matching the filter plus the total count.
func (s *System) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, int, error) {
	return s.repo.List(ctx, filter)
}

// MetricsReport aggregates delivery health over a lookback window.
type MetricsReport struct {
	WindowHours int                  `json:"window_hours"`
	Channels    []domain.ChannelStat `json:"channels"`
	Latency     domain.LatencyStats  `json:"latency"`
	QueueDepths queue.Depths         `json:"queue_depths"`
}

// Metrics reads per-channel delivery stats and the attempt latency
// distribution for the past hours (default 24).
func (s *System) Metrics(ctx context.Context, hours int) (*MetricsReport, error) {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	channels, err := s.repo.ChannelStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("channel stats: %w", err)
	}
	latency, err := s.repo.LatencyStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("latency stats: %w", err)
	}
	return &MetricsReport{
		WindowHours: hours,
		Channels:    channels,
		Latency:     latency,
		QueueDepths: s.orch.Depths(),
	}, nil
}

// QueueStatsReport is the operator view of queue health.
type QueueStatsReport struct {
	Depths           queue.Depths  `json:"depths"`
	Workers          worker.Totals `json:"workers"`
	OldestUnresolved *time.Time    `json:"oldest_unresolved,omitempty"`
	SuccessRate      float64       `json:"success_rate_24h"`
	StrandedPending  int           `json:"stranded_pending"`
}

// QueueStats reports queue depths, the age of the oldest unresolved message,
// the 24h success rate and how many messages look stranded in pending.
func (s *System) QueueStats(ctx context.Context) (*QueueStatsReport, error) {
	now := time.Now().UTC()

	rate, err := s.repo.SuccessRate(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("success rate: %w", err)
	}
	oldest, err := s.repo.OldestUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("oldest unresolved: %w", err)
	}
	stranded, err := s.repo.CountPendingOlderThan(ctx, now.Add(-strandedCutoff))
	if err != nil {
		return nil, fmt.Errorf("stranded count: %w", err)
	}
	return &QueueStatsReport{
		Depths:           s.orch.Depths(),
		Workers:          s.pool.Totals(),
		OldestUnresolved: oldest,
		SuccessRate:      rate,
		StrandedPending:  stranded,
	}, nil
}

// RequeueDeadLetters feeds up to limit dead-lettered messages back through
// the main queue. Operator action only, never automatic.
func (s *System) RequeueDeadLetters(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.orch.RequeueFromDeadLetter(ctx, limit)
}

func (s *System) buildMessage(req domain.SendRequest, now time.Time) *domain.Message {
	priority := req.Priority
	if priority == 0 {
		priority = domain.PriorityDefault
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	strategy := req.RetryStrategy
	if strategy == "" {
		strategy = domain.StrategyExponential
	}

	return &domain.Message{
		ID:               uuid.New().String(),
		IdempotencyKey:   idempotency.KeyForRequest(&req),
		KeyWindow:        idempotency.WindowFor(req.ScheduledAt, now),
		RecipientID:      req.RecipientID,
		Channel:          req.Channel,
		RecipientAddress: req.RecipientAddress,
		Subject:          req.Subject,
		Body:             req.Body,
		TemplateID:       req.TemplateID,
		TemplateData:     req.TemplateData,
		Priority:         priority,
		MaxRetries:       maxRetries,
		RetryStrategy:    strategy,
		Status:           domain.StatusPending,
		Metadata:         req.Metadata,
		ScheduledAt:      req.ScheduledAt,
		ExpiresAt:        req.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
