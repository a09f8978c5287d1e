package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType represents what started a cycle
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerStartup   TriggerType = "STARTUP"
)

// CycleStatus represents the outcome of a sync cycle
type CycleStatus string

const (
	CycleStatusRunning   CycleStatus = "RUNNING"
	CycleStatusCompleted CycleStatus = "COMPLETED"
	CycleStatusNoChanges CycleStatus = "NO_CHANGES"
	CycleStatusAborted   CycleStatus = "ABORTED"
	CycleStatusFailed    CycleStatus = "FAILED"
)

// CycleStage is the step a cycle has reached
type CycleStage string

const (
	StageConnectivity CycleStage = "CONNECTIVITY_CHECK"
	StageCache        CycleStage = "CACHE_DECISION"
	StageSourceFetch  CycleStage = "SOURCE_FETCH"
	StageDiff         CycleStage = "DIFF"
	StageUpload       CycleStage = "UPLOAD"
	StageImages       CycleStage = "IMAGE_ATTACH"
	StageMerge        CycleStage = "CACHE_MERGE"
	StageDone         CycleStage = "DONE"
)

// CacheAction records whether a cycle refreshed or reused the cache
type CacheAction string

const (
	CacheRefresh CacheAction = "REFRESH"
	CacheReuse   CacheAction = "REUSE"
)

// SyncCycle is the journal record of one reconciliation cycle
type SyncCycle struct {
	ID      uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Trigger TriggerType `gorm:"type:varchar(20);not null" json:"trigger"`
	Status  CycleStatus `gorm:"type:varchar(20);not null;default:'RUNNING';index:idx_sync_cycles_status" json:"status"`
	Stage   CycleStage  `gorm:"type:varchar(30)" json:"stage"`

	CacheAction   CacheAction `gorm:"type:varchar(20)" json:"cacheAction,omitempty"`
	CacheSize     int         `gorm:"default:0" json:"cacheSize"`
	CacheLifetime int         `gorm:"default:0" json:"cacheLifetime"`

	// Counters
	SourceRows     int `gorm:"default:0" json:"sourceRows"`
	Created        int `gorm:"default:0" json:"created"`
	Updated        int `gorm:"default:0" json:"updated"`
	Rejected       int `gorm:"default:0" json:"rejected"`
	ImagesAttached int `gorm:"default:0" json:"imagesAttached"`
	Faults         int `gorm:"default:0" json:"faults"`

	ErrorMessage string `gorm:"type:text" json:"errorMessage,omitempty"`

	StartedAt   time.Time  `gorm:"not null;index:idx_sync_cycles_started" json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for SyncCycle
func (SyncCycle) TableName() string {
	return "catalog_sync_cycles"
}

// IsFinished reports whether the cycle has reached a terminal status
func (c *SyncCycle) IsFinished() bool {
	return c.Status != CycleStatusRunning
}

// Duration returns how long the cycle ran, zero while running
func (c *SyncCycle) Duration() time.Duration {
	if c.CompletedAt == nil {
		return 0
	}
	return c.CompletedAt.Sub(c.StartedAt)
}

// LogLevel represents the severity level of a cycle log
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SyncCycleLog is a single journal line written during a cycle
type SyncCycleLog struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CycleID uuid.UUID `gorm:"type:uuid;not null;index:idx_sync_cycle_logs_cycle" json:"cycleId"`

	Level   LogLevel `gorm:"type:varchar(20);not null;default:'info';index:idx_sync_cycle_logs_level" json:"level"`
	Kind    string   `gorm:"type:varchar(30)" json:"kind,omitempty"`
	Message string   `gorm:"type:text;not null" json:"message"`
	Data    JSONB    `gorm:"type:jsonb;default:'{}'" json:"data,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for SyncCycleLog
func (SyncCycleLog) TableName() string {
	return "catalog_sync_cycle_logs"
}

// SyncStats aggregates the journal for the status endpoint
type SyncStats struct {
	TotalCycles     int64      `json:"totalCycles"`
	CompletedCycles int64      `json:"completedCycles"`
	FailedCycles    int64      `json:"failedCycles"`
	AbortedCycles   int64      `json:"abortedCycles"`
	ProductsCreated int64      `json:"productsCreated"`
	ProductsUpdated int64      `json:"productsUpdated"`
	LastCycle       *SyncCycle `json:"lastCycle,omitempty"`
}
