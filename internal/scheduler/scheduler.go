package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/railzwaylabs/deskbill/internal/clock"
	"github.com/railzwaylabs/deskbill/internal/config"
	"github.com/railzwaylabs/deskbill/internal/observability/metrics"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/deskbill/internal/subscription/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobResyncSweep       = "resync_sweep"
	JobCleanupWebhookLog = "cleanup_webhook_logs"

	defaultJobTimeout = 30 * time.Minute
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Sync       subscriptiondomain.Synchronizer
	Records    paymentdomain.EventRecordRepository
	BillingCfg *config.BillingConfigHolder
	Metrics    *metrics.Metrics `optional:"true"`
}

// Scheduler runs the periodic billing jobs: the safety-net sweep over dynamic
// subscriptions and webhook log retention.
type Scheduler struct {
	log        *zap.Logger
	clock      clock.Clock
	sync       subscriptiondomain.Synchronizer
	records    paymentdomain.EventRecordRepository
	billingCfg *config.BillingConfigHolder
	metrics    *metrics.Metrics

	mu       sync.Mutex
	cron     *cron.Cron
	entryIDs map[string]cron.EntryID
}

func New(p Params) *Scheduler {
	log := p.Log.Named("scheduler")
	return &Scheduler{
		log:        log,
		clock:      p.Clock,
		sync:       p.Sync,
		records:    p.Records,
		billingCfg: p.BillingCfg,
		metrics:    p.Metrics,
		cron:       newCron(log),
		entryIDs:   make(map[string]cron.EntryID),
	}
}

func newCron(log *zap.Logger) *cron.Cron {
	cronLog := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
}

// Start registers the configured jobs and starts the cron loop. An empty
// schedule disables that job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.billingCfg.Get().Scheduler
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{JobResyncSweep, cfg.ResyncSweepCron, s.ResyncSweepJob},
		{JobCleanupWebhookLog, cfg.RetentionCron, s.CleanupWebhookLogsJob},
	}

	for _, job := range jobs {
		if err := s.register(job.name, job.schedule, job.run); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.entryIDs)))
	return nil
}

// Stop waits for running jobs to finish or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) register(name, schedule string, run func(context.Context) error) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		s.log.Info("job disabled", zap.String("job", name))
		return nil
	}
	if _, exists := s.entryIDs[name]; exists {
		return nil
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.runJob(name, run)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}
	s.entryIDs[name] = id
	s.log.Info("job registered", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	defer cancel()

	started := time.Now()
	s.log.Info("job started", zap.String("job", name))
	err := run(ctx)
	s.metrics.ObserveJob(name, started, err)
	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Duration("duration", time.Since(started)), zap.Error(err))
		return
	}
	s.log.Info("job finished", zap.String("job", name), zap.Duration("duration", time.Since(started)))
}

// ResyncSweepJob reprices every dynamic subscription whose amount drifted from
// its next billing month. Webhooks remain the primary trigger; the sweep
// catches deliveries that never arrived.
func (s *Scheduler) ResyncSweepJob(ctx context.Context) error {
	summary, err := s.sync.SweepDynamicSubscriptions(ctx)
	if err != nil {
		return err
	}
	s.log.Info("resync sweep completed",
		zap.Int("scanned", summary.Scanned),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return nil
}

func (s *Scheduler) CleanupWebhookLogsJob(ctx context.Context) error {
	retentionDays := s.billingCfg.Get().WebhookRetentionDays
	if retentionDays <= 0 {
		s.log.Info("webhook log retention disabled", zap.Int("days", retentionDays))
		return nil
	}

	cutoff := s.clock.Now(ctx).AddDate(0, 0, -retentionDays)
	deleted, err := s.records.DeleteReceivedBefore(ctx, nil, cutoff)
	if err != nil {
		return err
	}

	s.log.Info("cleanup webhook logs completed", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
	return nil
}
