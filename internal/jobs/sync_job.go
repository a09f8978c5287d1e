package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/services"

	"github.com/sirupsen/logrus"
)

// CycleRunner runs one reconciliation cycle
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger models.TriggerType) (*models.SyncCycle, error)
	IsRunning() bool
}

// SyncJob schedules reconciliation cycles on a fixed interval and accepts
// manual triggers. At most one cycle runs at a time; a trigger that arrives
// while a cycle is queued or running is dropped.
type SyncJob struct {
	runner     CycleRunner
	logger     *logrus.Entry
	interval   time.Duration
	runOnStart bool

	triggers chan models.TriggerType
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	mu      sync.Mutex
	nextRun time.Time
}

// NewSyncJob creates a new sync job
func NewSyncJob(runner CycleRunner, interval time.Duration, runOnStart bool, logger *logrus.Entry) *SyncJob {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &SyncJob{
		runner:     runner,
		logger:     logger.WithField("component", "scheduler"),
		interval:   interval,
		runOnStart: runOnStart,
		triggers:   make(chan models.TriggerType, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the scheduling loop until Stop is called or ctx is cancelled
func (j *SyncJob) Start(ctx context.Context) {
	j.started.Store(true)
	defer close(j.done)
	j.logger.WithField("interval", j.interval.String()).Info("Sync job started")

	timer := time.NewTimer(j.interval)
	defer timer.Stop()
	j.setNextRun(time.Now().Add(j.interval))

	if j.runOnStart {
		j.run(ctx, models.TriggerStartup)
		resetTimer(timer, j.interval)
		j.scheduled()
	}

	for {
		select {
		case <-timer.C:
			j.run(ctx, models.TriggerScheduled)
			timer.Reset(j.interval)
			j.scheduled()
		case trigger := <-j.triggers:
			j.run(ctx, trigger)
			resetTimer(timer, j.interval)
			j.scheduled()
		case <-j.stopCh:
			j.logger.Info("Sync job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Sync job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop and waits for the running cycle to finish
func (j *SyncJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
	if j.started.Load() {
		<-j.done
	}
}

// Trigger queues a manual cycle. It returns services.ErrCycleInProgress
// when a cycle is already running or waiting to run.
func (j *SyncJob) Trigger(trigger models.TriggerType) error {
	if j.runner.IsRunning() {
		j.logger.Warn("An update is already running!")
		return services.ErrCycleInProgress
	}
	select {
	case j.triggers <- trigger:
		j.logger.WithField("trigger", string(trigger)).Info("Update requested")
		return nil
	default:
		j.logger.Warn("An update is already running!")
		return services.ErrCycleInProgress
	}
}

// NextRun returns when the next scheduled cycle is due
func (j *SyncJob) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextRun
}

func (j *SyncJob) run(ctx context.Context, trigger models.TriggerType) {
	cycle, err := j.runner.RunCycle(ctx, trigger)
	switch {
	case errors.Is(err, services.ErrCycleInProgress):
		j.logger.Warn("An update is already running!")
	case err != nil:
		j.logger.WithError(err).WithField("trigger", string(trigger)).Error("Update failed")
	case cycle != nil:
		j.logger.WithFields(logrus.Fields{
			"cycle_id": cycle.ID.String(),
			"status":   string(cycle.Status),
		}).Debug("Update completed")
	}
}

func (j *SyncJob) scheduled() {
	next := time.Now().Add(j.interval)
	j.setNextRun(next)
	j.logger.Infof("Next update at %s", next.Format("15:04:05"))
}

func (j *SyncJob) setNextRun(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextRun = t
}

// resetTimer restarts a timer that may or may not have fired
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
