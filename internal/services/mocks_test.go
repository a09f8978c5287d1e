package services

import (
	"context"
	"sync"

	"catalog-sync-service/internal/clients"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"
	"catalog-sync-service/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// MockCatalogClient is a mock implementation of clients.CatalogClient
type MockCatalogClient struct {
	mock.Mock
}

var _ clients.CatalogClient = (*MockCatalogClient)(nil)

func (m *MockCatalogClient) FetchAllProducts(ctx context.Context) ([]models.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *MockCatalogClient) UploadBatch(ctx context.Context, batch models.Batch) (*models.BatchResult, error) {
	args := m.Called(ctx, batch)
	if fn, ok := args.Get(0).(func(context.Context, models.Batch) *models.BatchResult); ok {
		return fn(ctx, batch), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BatchResult), args.Error(1)
}

func (m *MockCatalogClient) UpdateProduct(ctx context.Context, patch models.ProductPatch) (*models.Product, error) {
	args := m.Called(ctx, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockCatalogClient) ProbeConnectivity(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockMediaClient is a mock implementation of clients.MediaClient
type MockMediaClient struct {
	mock.Mock
}

var _ clients.MediaClient = (*MockMediaClient)(nil)

func (m *MockMediaClient) UploadImage(ctx context.Context, sku string, data []byte) (*models.MediaRef, error) {
	args := m.Called(ctx, sku, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MediaRef), args.Error(1)
}

func (m *MockMediaClient) BindImage(ctx context.Context, mediaID, remoteID int64) error {
	args := m.Called(ctx, mediaID, remoteID)
	return args.Error(0)
}

func (m *MockMediaClient) ProbeConnectivity(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockSourceReader is a mock implementation of repository.SourceReader
type MockSourceReader struct {
	mock.Mock
}

var _ repository.SourceReader = (*MockSourceReader)(nil)

func (m *MockSourceReader) FetchAllProducts(ctx context.Context, r report.Reporter) ([]models.Product, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *MockSourceReader) FetchImages(ctx context.Context, sku string) ([][]byte, error) {
	args := m.Called(ctx, sku)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockSourceReader) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// memoryJournal is an in-memory repository.CycleJournal
type memoryJournal struct {
	mu     sync.Mutex
	cycles map[uuid.UUID]models.SyncCycle
	logs   []models.SyncCycleLog
}

var _ repository.CycleJournal = (*memoryJournal)(nil)

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{cycles: make(map[uuid.UUID]models.SyncCycle)}
}

func (j *memoryJournal) CreateCycle(ctx context.Context, cycle *models.SyncCycle) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cycles[cycle.ID] = *cycle
	return nil
}

func (j *memoryJournal) UpdateCycle(ctx context.Context, cycle *models.SyncCycle) error {
	return j.CreateCycle(ctx, cycle)
}

func (j *memoryJournal) GetCycle(ctx context.Context, id uuid.UUID) (*models.SyncCycle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cycles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (j *memoryJournal) ListCycles(ctx context.Context, opts repository.CycleListOptions) ([]models.SyncCycle, int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.SyncCycle, 0, len(j.cycles))
	for _, c := range j.cycles {
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

func (j *memoryJournal) CreateLogs(ctx context.Context, logs []models.SyncCycleLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logs = append(j.logs, logs...)
	return nil
}

func (j *memoryJournal) GetCycleLogs(ctx context.Context, cycleID uuid.UUID, opts repository.LogListOptions) ([]models.SyncCycleLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.SyncCycleLog
	for _, l := range j.logs {
		if l.CycleID == cycleID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (j *memoryJournal) GetStats(ctx context.Context) (*models.SyncStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return &models.SyncStats{TotalCycles: int64(len(j.cycles))}, nil
}

func (j *memoryJournal) logCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.logs)
}

// Helper functions to build products

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sourceProduct(sku string, price string, stock int) models.Product {
	return models.NewSourceProduct(sku, "Product "+sku, dec(price), stock, false)
}

func remoteProduct(remoteID int64, sku string, price string, stock int) models.Product {
	p := sourceProduct(sku, price, stock)
	p.RemoteID = remoteID
	p.Status = models.ProductPublish
	p.ManageStock = true
	return p
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
