package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/config"
	"github.com/eduanalytics/notify-relay/internal/dlq"
	"github.com/eduanalytics/notify-relay/internal/ratelimiter"
	"github.com/eduanalytics/notify-relay/internal/sender"
)

// Pool manages the lifecycle of all delivery workers.
// All workers share the same queues — the double-select pattern inside
// PopForDelivery handles tier and priority ordering.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates cfg.WorkerCount identical workers. Channel distinctions
// are handled by the rate limiter and the sender registry, not by
// dedicating workers to channels.
func NewPool(
	cfg *config.Config,
	orch *dlq.Orchestrator,
	senders *sender.Registry,
	limiter *ratelimiter.ChannelLimiters,
	logger *zap.Logger,
	hooks Hooks,
) *Pool {
	workers := make([]*Worker, cfg.WorkerCount)
	for i := range workers {
		workers[i] = NewWorker(
			i, orch, senders, limiter,
			cfg.SendTimeout, cfg.PollTimeout,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}
	return &Pool{workers: workers}
}

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight messages finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Totals is the pool-wide sum of the per-worker delivery counters.
type Totals struct {
	Processed uint64 `json:"processed"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// Totals sums the counters across all workers. Safe to call while the
// pool is running; the numbers are a snapshot, not a consistent cut.
func (p *Pool) Totals() Totals {
	var t Totals
	for _, w := range p.workers {
		t.Processed += w.processed.Load()
		t.Succeeded += w.succeeded.Load()
		t.Failed += w.failed.Load()
	}
	return t
}
