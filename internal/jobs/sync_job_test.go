package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/services"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records triggers and can hold a cycle open
type fakeRunner struct {
	mu       sync.Mutex
	triggers []models.TriggerType
	running  bool
	block    chan struct{}
	entered  chan models.TriggerType
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{entered: make(chan models.TriggerType, 16)}
}

func (r *fakeRunner) RunCycle(ctx context.Context, trigger models.TriggerType) (*models.SyncCycle, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, services.ErrCycleInProgress
	}
	r.running = true
	r.triggers = append(r.triggers, trigger)
	block := r.block
	r.mu.Unlock()

	r.entered <- trigger
	if block != nil {
		<-block
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return &models.SyncCycle{ID: uuid.New(), Trigger: trigger, Status: models.CycleStatusNoChanges}, nil
}

func (r *fakeRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *fakeRunner) seen() []models.TriggerType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TriggerType(nil), r.triggers...)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func waitTrigger(t *testing.T, r *fakeRunner) models.TriggerType {
	t.Helper()
	select {
	case tr := <-r.entered:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle started")
		return ""
	}
}

func TestSyncJob_RunsOnStart(t *testing.T) {
	runner := newFakeRunner()
	job := NewSyncJob(runner, time.Hour, true, quietLogger())

	go job.Start(context.Background())
	defer job.Stop()

	assert.Equal(t, models.TriggerStartup, waitTrigger(t, runner))
}

func TestSyncJob_RunsOnInterval(t *testing.T) {
	runner := newFakeRunner()
	job := NewSyncJob(runner, 20*time.Millisecond, false, quietLogger())

	go job.Start(context.Background())
	defer job.Stop()

	assert.Equal(t, models.TriggerScheduled, waitTrigger(t, runner))
	assert.Equal(t, models.TriggerScheduled, waitTrigger(t, runner))
}

func TestSyncJob_ManualTrigger(t *testing.T) {
	runner := newFakeRunner()
	job := NewSyncJob(runner, time.Hour, false, quietLogger())

	go job.Start(context.Background())
	defer job.Stop()

	require.NoError(t, job.Trigger(models.TriggerManual))
	assert.Equal(t, models.TriggerManual, waitTrigger(t, runner))
	assert.WithinDuration(t, time.Now().Add(time.Hour), job.NextRun(), 5*time.Second)
}

func TestSyncJob_TriggerWhileRunningIsDropped(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	job := NewSyncJob(runner, time.Hour, true, quietLogger())

	go job.Start(context.Background())

	waitTrigger(t, runner)
	assert.ErrorIs(t, job.Trigger(models.TriggerManual), services.ErrCycleInProgress)

	close(runner.block)
	job.Stop()

	assert.Equal(t, []models.TriggerType{models.TriggerStartup}, runner.seen())
}

func TestSyncJob_SecondQueuedTriggerIsDropped(t *testing.T) {
	runner := newFakeRunner()
	job := NewSyncJob(runner, time.Hour, false, quietLogger())

	// Not started, so the first trigger stays queued
	require.NoError(t, job.Trigger(models.TriggerManual))
	assert.ErrorIs(t, job.Trigger(models.TriggerManual), services.ErrCycleInProgress)
}

func TestSyncJob_StopsOnContextCancel(t *testing.T) {
	runner := newFakeRunner()
	job := NewSyncJob(runner, time.Hour, false, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(finished)
	}()
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
	}
}

func TestSyncJob_StopWithoutStart(t *testing.T) {
	job := NewSyncJob(newFakeRunner(), time.Hour, false, quietLogger())
	assert.NotPanics(t, job.Stop)
}
