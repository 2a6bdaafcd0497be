package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/dlq"
	"github.com/eduanalytics/notify-relay/internal/idempotency"
)

// Janitor runs the periodic maintenance jobs: promoting delayed messages
// whose backoff or scheduled time has arrived, and purging expired
// idempotency records.
type Janitor struct {
	cron *cron.Cron
	orch *dlq.Orchestrator
	idem idempotency.Store
	log  *zap.Logger
}

func NewJanitor(orch *dlq.Orchestrator, idem idempotency.Store, log *zap.Logger) *Janitor {
	return &Janitor{cron: cron.New(), orch: orch, idem: idem, log: log}
}

// Start registers both jobs and begins the schedule. ctx bounds the work a
// job does per run, not the scheduler; call Stop to halt scheduling.
func (j *Janitor) Start(ctx context.Context, promoteSpec, purgeSpec string) error {
	if _, err := j.cron.AddFunc(promoteSpec, func() { j.promote(ctx) }); err != nil {
		return fmt.Errorf("schedule promote job: %w", err)
	}
	if _, err := j.cron.AddFunc(purgeSpec, func() { j.purge(ctx) }); err != nil {
		return fmt.Errorf("schedule purge job: %w", err)
	}
	j.cron.Start()
	j.log.Info("janitor started",
		zap.String("promote_schedule", promoteSpec),
		zap.String("purge_schedule", purgeSpec))
	return nil
}

// Stop halts scheduling and waits for any running job to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.log.Info("janitor stopped")
}

func (j *Janitor) promote(ctx context.Context) {
	if n := j.orch.PromoteDueRetries(ctx); n > 0 {
		j.log.Info("promoted due messages", zap.Int("count", n))
	}
}

func (j *Janitor) purge(ctx context.Context) {
	n, err := j.idem.PurgeExpired(ctx)
	if err != nil {
		j.log.Error("idempotency purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("purged idempotency records", zap.Int("count", n))
	}
}
