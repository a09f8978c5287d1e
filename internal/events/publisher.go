package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"catalog-sync-service/internal/models"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	SubjectCycleCompleted = "catalog.sync.completed"
	SubjectProductCreated = "catalog.product.created"
)

// CycleCompletedEvent is published after every reconciliation cycle
type CycleCompletedEvent struct {
	EventType      string     `json:"event_type"`
	CycleID        string     `json:"cycle_id"`
	Trigger        string     `json:"trigger"`
	Status         string     `json:"status"`
	Created        int        `json:"created"`
	Updated        int        `json:"updated"`
	Rejected       int        `json:"rejected"`
	ImagesAttached int        `json:"images_attached"`
	Faults         int        `json:"faults"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// ProductCreatedEvent is published for each product created on the remote catalog
type ProductCreatedEvent struct {
	EventType     string    `json:"event_type"`
	CycleID       string    `json:"cycle_id"`
	RemoteID      int64     `json:"remote_id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Price         string    `json:"price"`
	StockQuantity int       `json:"stock_quantity"`
	Images        int       `json:"images"`
	Timestamp     time.Time `json:"timestamp"`
}

// conn is the part of *nats.Conn the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher sends cycle events to NATS. A publisher without a connection
// drops every event.
type Publisher struct {
	conn   conn
	logger *logrus.Entry
	wg     sync.WaitGroup
}

// NewPublisher connects to natsURL. An empty URL returns a no-op publisher.
func NewPublisher(natsURL string, logger *logrus.Entry) (*Publisher, error) {
	p := &Publisher{logger: logger.WithField("component", "events.publisher")}
	if natsURL == "" {
		p.logger.Info("NATS_URL not set, events disabled")
		return p, nil
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("catalog-sync-service"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p.conn = nc
	p.logger.Info("Connected to NATS")
	return p, nil
}

// Enabled reports whether events are sent
func (p *Publisher) Enabled() bool {
	return p.conn != nil
}

// PublishCycleCompleted announces the outcome of a cycle
func (p *Publisher) PublishCycleCompleted(ctx context.Context, cycle *models.SyncCycle) {
	if cycle == nil {
		return
	}
	p.publish(SubjectCycleCompleted, CycleCompletedEvent{
		EventType:      SubjectCycleCompleted,
		CycleID:        cycle.ID.String(),
		Trigger:        string(cycle.Trigger),
		Status:         string(cycle.Status),
		Created:        cycle.Created,
		Updated:        cycle.Updated,
		Rejected:       cycle.Rejected,
		ImagesAttached: cycle.ImagesAttached,
		Faults:         cycle.Faults,
		Error:          cycle.ErrorMessage,
		StartedAt:      cycle.StartedAt,
		CompletedAt:    cycle.CompletedAt,
		Timestamp:      time.Now().UTC(),
	})
}

// PublishProductCreated announces a product created on the remote catalog
func (p *Publisher) PublishProductCreated(ctx context.Context, cycleID uuid.UUID, product models.Product) {
	p.publish(SubjectProductCreated, ProductCreatedEvent{
		EventType:     SubjectProductCreated,
		CycleID:       cycleID.String(),
		RemoteID:      product.RemoteID,
		SKU:           product.SKU,
		Name:          product.Name,
		Price:         product.Price.String(),
		StockQuantity: product.StockQuantity,
		Images:        len(product.Images),
		Timestamp:     time.Now().UTC(),
	})
}

// publish sends in the background so a slow broker never holds up a cycle
func (p *Publisher) publish(subject string, event interface{}) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("Failed to marshal event")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
			return
		}
		p.logger.WithField("subject", subject).Debug("Event published")
	}()
}

// Close waits for pending publishes, flushes and closes the connection
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	p.wg.Wait()
	if err := p.conn.FlushTimeout(10 * time.Second); err != nil {
		p.logger.WithError(err).Warn("Failed to flush NATS connection")
	}
	p.conn.Close()
}
