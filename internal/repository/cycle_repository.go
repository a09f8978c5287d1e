package repository

import (
	"context"
	"errors"

	"catalog-sync-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a journal record does not exist
var ErrNotFound = errors.New("record not found")

// CycleJournal persists the history of sync cycles
type CycleJournal interface {
	CreateCycle(ctx context.Context, cycle *models.SyncCycle) error
	UpdateCycle(ctx context.Context, cycle *models.SyncCycle) error
	GetCycle(ctx context.Context, id uuid.UUID) (*models.SyncCycle, error)
	ListCycles(ctx context.Context, opts CycleListOptions) ([]models.SyncCycle, int64, error)
	CreateLogs(ctx context.Context, logs []models.SyncCycleLog) error
	GetCycleLogs(ctx context.Context, cycleID uuid.UUID, opts LogListOptions) ([]models.SyncCycleLog, error)
	GetStats(ctx context.Context) (*models.SyncStats, error)
}

// CycleListOptions contains options for listing cycles
type CycleListOptions struct {
	Status  string
	Trigger string
	Limit   int
	Offset  int
}

// LogListOptions contains options for listing logs
type LogListOptions struct {
	Level  string
	Kind   string
	Limit  int
	Offset int
}

// CycleRepository handles database operations for the cycle journal
type CycleRepository struct {
	db *gorm.DB
}

var _ CycleJournal = (*CycleRepository)(nil)

// NewCycleRepository creates a new cycle repository
func NewCycleRepository(db *gorm.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

// AutoMigrate creates or updates the journal tables
func (r *CycleRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.SyncCycle{}, &models.SyncCycleLog{})
}

// Ping checks the journal database is reachable
func (r *CycleRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateCycle creates a new cycle record
func (r *CycleRepository) CreateCycle(ctx context.Context, cycle *models.SyncCycle) error {
	return r.db.WithContext(ctx).Create(cycle).Error
}

// UpdateCycle saves an existing cycle record
func (r *CycleRepository) UpdateCycle(ctx context.Context, cycle *models.SyncCycle) error {
	return r.db.WithContext(ctx).Save(cycle).Error
}

// GetCycle retrieves a cycle by ID
func (r *CycleRepository) GetCycle(ctx context.Context, id uuid.UUID) (*models.SyncCycle, error) {
	var cycle models.SyncCycle
	err := r.db.WithContext(ctx).First(&cycle, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

// ListCycles retrieves cycles with pagination and filtering, newest first
func (r *CycleRepository) ListCycles(ctx context.Context, opts CycleListOptions) ([]models.SyncCycle, int64, error) {
	var cycles []models.SyncCycle
	var total int64

	query := cyclesQuery(r.db.WithContext(ctx), opts)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := paginate(query, opts.Limit, opts.Offset).Order("started_at DESC").Find(&cycles).Error; err != nil {
		return nil, 0, err
	}
	return cycles, total, nil
}

// CreateLogs inserts journal lines in one statement
func (r *CycleRepository) CreateLogs(ctx context.Context, logs []models.SyncCycleLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// GetCycleLogs retrieves the journal lines of a cycle in write order
func (r *CycleRepository) GetCycleLogs(ctx context.Context, cycleID uuid.UUID, opts LogListOptions) ([]models.SyncCycleLog, error) {
	var logs []models.SyncCycleLog
	err := logsQuery(r.db.WithContext(ctx), cycleID, opts).Find(&logs).Error
	return logs, err
}

// GetStats aggregates cycle outcomes and product counts
func (r *CycleRepository) GetStats(ctx context.Context) (*models.SyncStats, error) {
	stats := &models.SyncStats{}

	var counts []statusCount
	if err := statusCountsQuery(r.db.WithContext(ctx)).Scan(&counts).Error; err != nil {
		return nil, err
	}
	tallyStatuses(stats, counts)

	var totals productTotals
	if err := productTotalsQuery(r.db.WithContext(ctx)).Scan(&totals).Error; err != nil {
		return nil, err
	}
	stats.ProductsCreated = totals.Created
	stats.ProductsUpdated = totals.Updated

	var last models.SyncCycle
	err := r.db.WithContext(ctx).Order("started_at DESC").First(&last).Error
	if err == nil {
		stats.LastCycle = &last
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return stats, nil
}

type statusCount struct {
	Status string
	Count  int64
}

type productTotals struct {
	Created int64
	Updated int64
}

func cyclesQuery(tx *gorm.DB, opts CycleListOptions) *gorm.DB {
	query := tx.Model(&models.SyncCycle{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Trigger != "" {
		query = query.Where("trigger = ?", opts.Trigger)
	}
	return query
}

func logsQuery(tx *gorm.DB, cycleID uuid.UUID, opts LogListOptions) *gorm.DB {
	query := tx.Model(&models.SyncCycleLog{}).Where("cycle_id = ?", cycleID)
	if opts.Level != "" {
		query = query.Where("level = ?", opts.Level)
	}
	if opts.Kind != "" {
		query = query.Where("kind = ?", opts.Kind)
	}
	return paginate(query, opts.Limit, opts.Offset).Order("created_at ASC")
}

func paginate(query *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

func statusCountsQuery(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.SyncCycle{}).
		Select("status, count(*) as count").
		Group("status")
}

func productTotalsQuery(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.SyncCycle{}).
		Select("COALESCE(SUM(created), 0) as created, COALESCE(SUM(updated), 0) as updated")
}

// tallyStatuses folds per-status counts into stats. NO_CHANGES counts as completed.
func tallyStatuses(stats *models.SyncStats, counts []statusCount) {
	for _, sc := range counts {
		stats.TotalCycles += sc.Count
		switch models.CycleStatus(sc.Status) {
		case models.CycleStatusCompleted, models.CycleStatusNoChanges:
			stats.CompletedCycles += sc.Count
		case models.CycleStatusFailed:
			stats.FailedCycles += sc.Count
		case models.CycleStatusAborted:
			stats.AbortedCycles += sc.Count
		}
	}
}
