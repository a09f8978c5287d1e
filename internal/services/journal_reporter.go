package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"
	"catalog-sync-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	journalBufferSize = 1024
	journalBatchSize  = 50
	journalFlushEvery = time.Second
)

// JournalReporter persists cycle records as journal lines. Records are
// queued and written by a background goroutine; when the queue is full
// they are dropped so the cycle never waits on the database.
type JournalReporter struct {
	journal  repository.CycleJournal
	logger   *logrus.Entry
	records  chan report.Record
	dropped  atomic.Int64
	done     chan struct{}
	closeOne sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewJournalReporter creates a journal reporter; call Start to begin writing
func NewJournalReporter(journal repository.CycleJournal, logger *logrus.Entry) *JournalReporter {
	return &JournalReporter{
		journal: journal,
		logger:  logger.WithField("component", "journal"),
		records: make(chan report.Record, journalBufferSize),
		done:    make(chan struct{}),
	}
}

// Report queues a record. Records outside a cycle, or arriving after
// Close, are ignored.
func (j *JournalReporter) Report(rec report.Record) {
	if rec.CycleID == uuid.Nil {
		return
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.records <- rec:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded, either because the queue
// was full or because the reporter was closed
func (j *JournalReporter) Dropped() int64 {
	return j.dropped.Load()
}

// Start drains the queue until Close is called
func (j *JournalReporter) Start() {
	go j.run()
}

// Close stops accepting records and waits for the queue to be written
func (j *JournalReporter) Close() {
	j.closeOne.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.records)
		j.mu.Unlock()
		<-j.done
	})
}

func (j *JournalReporter) run() {
	defer close(j.done)

	ticker := time.NewTicker(journalFlushEvery)
	defer ticker.Stop()

	pending := make([]models.SyncCycleLog, 0, journalBatchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.journal.CreateLogs(ctx, pending); err != nil {
			j.logger.WithError(err).WithField("lines", len(pending)).Warn("Failed to write cycle journal")
		}
		pending = pending[:0]
	}

	for {
		select {
		case rec, ok := <-j.records:
			if !ok {
				flush()
				return
			}
			pending = append(pending, toLogLine(rec))
			if len(pending) >= journalBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func toLogLine(rec report.Record) models.SyncCycleLog {
	data := models.JSONB{}
	for k, v := range rec.Fields {
		data[k] = v
	}
	if rec.Err != nil {
		data["error"] = rec.Err.Error()
	}

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	return models.SyncCycleLog{
		ID:        uuid.New(),
		CycleID:   rec.CycleID,
		Level:     models.LogLevel(rec.Level),
		Kind:      string(rec.Kind()),
		Message:   rec.Message,
		Data:      data,
		CreatedAt: at,
	}
}
