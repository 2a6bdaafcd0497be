package queue

import (
	"context"
	"time"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

// Config sets the per-tier standard-band capacities. Zero values fall back
// to defaults sized for expected traffic ratios: main carries the bulk,
// retry and dead-letter stay small so saturation surfaces quickly, poison
// should be near empty in a healthy system.
type Config struct {
	MainSize       int
	RetrySize      int
	DeadLetterSize int
	PoisonSize     int
}

const (
	defaultMainSize       = 5000
	defaultRetrySize      = 2000
	defaultDeadLetterSize = 2000
	defaultPoisonSize     = 500
)

func (c Config) withDefaults() Config {
	if c.MainSize <= 0 {
		c.MainSize = defaultMainSize
	}
	if c.RetrySize <= 0 {
		c.RetrySize = defaultRetrySize
	}
	if c.DeadLetterSize <= 0 {
		c.DeadLetterSize = defaultDeadLetterSize
	}
	if c.PoisonSize <= 0 {
		c.PoisonSize = defaultPoisonSize
	}
	return c
}

// Queues is the in-memory multi-queue backing delivery. Messages cross its
// boundary as *domain.Message, whose JSON tags are the entry schema.
//
// Tiers:
//
//	main        — first delivery attempts
//	retry       — re-deliveries whose backoff has elapsed, and promoted scheduled sends
//	delayed     — time-ordered set waiting out a backoff or scheduled time
//	dead-letter — expired messages parked for operator requeue
//	poison      — quarantined messages, manual inspection only
type Queues struct {
	main       *fifo
	retry      *fifo
	deadLetter *fifo
	poison     *fifo
	delayed    *DelaySet
}

// Depths is a point-in-time snapshot of tier backlogs.
type Depths struct {
	Main       int `json:"main"`
	Retry      int `json:"retry"`
	Delayed    int `json:"delayed"`
	DeadLetter int `json:"dead_letter"`
	Poison     int `json:"poison"`
}

func New(cfg Config) *Queues {
	cfg = cfg.withDefaults()
	return &Queues{
		main:       newFifo(cfg.MainSize),
		retry:      newFifo(cfg.RetrySize),
		deadLetter: newFifo(cfg.DeadLetterSize),
		poison:     newFifo(cfg.PoisonSize),
		delayed:    NewDelaySet(),
	}
}

func (q *Queues) PushMain(msg *domain.Message) error       { return q.main.push(msg) }
func (q *Queues) PushRetry(msg *domain.Message) error      { return q.retry.push(msg) }
func (q *Queues) PushDeadLetter(msg *domain.Message) error { return q.deadLetter.push(msg) }
func (q *Queues) PushPoison(msg *domain.Message) error     { return q.poison.push(msg) }

// Schedule parks the message until readyAt, after which PopDue returns it.
func (q *Queues) Schedule(msg *domain.Message, readyAt time.Time) {
	q.delayed.Add(msg, readyAt)
}

// PopForDelivery blocks until a deliverable message is available or ctx is
// done. Main is always served before retry, and within each tier the express
// band before the standard one: a drain pass checks all four bands in order
// before the goroutine enters a fair blocking select across them.
//
// Returns (nil, false) when ctx is done (shutdown or dequeue timeout).
func (q *Queues) PopForDelivery(ctx context.Context) (*domain.Message, bool) {
	if msg, ok := q.main.tryPop(); ok {
		return msg, true
	}
	if msg, ok := q.retry.tryPop(); ok {
		return msg, true
	}

	select {
	case msg := <-q.main.express:
		return msg, true
	case msg := <-q.main.standard:
		return msg, true
	case msg := <-q.retry.express:
		return msg, true
	case msg := <-q.retry.standard:
		return msg, true
	case <-ctx.Done():
		return nil, false
	}
}

// PopDue removes every delayed message whose ready time has passed.
func (q *Queues) PopDue(now time.Time) []*domain.Message {
	return q.delayed.PopDue(now)
}

// PopDeadLetter drains up to max parked messages for an operator requeue.
// Non-blocking: returns fewer when the tier empties first.
func (q *Queues) PopDeadLetter(max int) []*domain.Message {
	var out []*domain.Message
	for len(out) < max {
		msg, ok := q.deadLetter.tryPop()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

// Depths returns the current backlog of every tier.
// Used by the queue-stats handler and the Prometheus depth gauges.
func (q *Queues) Depths() Depths {
	return Depths{
		Main:       q.main.depth(),
		Retry:      q.retry.depth(),
		Delayed:    q.delayed.Len(),
		DeadLetter: q.deadLetter.depth(),
		Poison:     q.poison.depth(),
	}
}
