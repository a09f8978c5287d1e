package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"catalog-sync-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

// fakeConn records published messages
type fakeConn struct {
	mu       sync.Mutex
	messages []message
	err      error
	flushed  bool
	closed   bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, message{subject: subject, data: data})
	return nil
}

func (c *fakeConn) FlushTimeout(time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestNewPublisher_WithoutURLIsNoop(t *testing.T) {
	p, err := NewPublisher("", quietLogger())
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	assert.NotPanics(t, func() {
		p.PublishCycleCompleted(context.Background(), &models.SyncCycle{ID: uuid.New()})
		p.PublishProductCreated(context.Background(), uuid.New(), models.Product{SKU: "A100"})
		p.Close()
	})
}

func TestPublisher_CycleCompleted(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{conn: fc, logger: quietLogger()}

	done := time.Now()
	cycle := &models.SyncCycle{
		ID:          uuid.New(),
		Trigger:     models.TriggerScheduled,
		Status:      models.CycleStatusCompleted,
		Created:     2,
		Updated:     5,
		Faults:      1,
		StartedAt:   done.Add(-time.Minute),
		CompletedAt: &done,
	}
	p.PublishCycleCompleted(context.Background(), cycle)
	p.Close()

	require.Len(t, fc.messages, 1)
	assert.Equal(t, SubjectCycleCompleted, fc.messages[0].subject)

	var event CycleCompletedEvent
	require.NoError(t, json.Unmarshal(fc.messages[0].data, &event))
	assert.Equal(t, cycle.ID.String(), event.CycleID)
	assert.Equal(t, "COMPLETED", event.Status)
	assert.Equal(t, "SCHEDULED", event.Trigger)
	assert.Equal(t, 2, event.Created)
	assert.Equal(t, 5, event.Updated)
	assert.True(t, fc.flushed)
	assert.True(t, fc.closed)
}

func TestPublisher_ProductCreated(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{conn: fc, logger: quietLogger()}
	cycleID := uuid.New()

	p.PublishProductCreated(context.Background(), cycleID, models.Product{
		RemoteID:      7,
		SKU:           "A100",
		Name:          "Widget",
		Price:         decimal.RequireFromString("10.5"),
		StockQuantity: 3,
		Images:        []models.ProductImage{{ID: 1}},
	})
	p.Close()

	require.Len(t, fc.messages, 1)
	assert.Equal(t, SubjectProductCreated, fc.messages[0].subject)

	var event ProductCreatedEvent
	require.NoError(t, json.Unmarshal(fc.messages[0].data, &event))
	assert.Equal(t, cycleID.String(), event.CycleID)
	assert.Equal(t, int64(7), event.RemoteID)
	assert.Equal(t, "10.5", event.Price)
	assert.Equal(t, 1, event.Images)
}

func TestPublisher_PublishErrorIsSwallowed(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := &Publisher{conn: fc, logger: quietLogger()}

	assert.NotPanics(t, func() {
		p.PublishCycleCompleted(context.Background(), &models.SyncCycle{ID: uuid.New()})
		p.Close()
	})
	assert.Empty(t, fc.messages)
}
