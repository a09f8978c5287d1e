package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"catalog-sync-service/internal/clients"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"
	"catalog-sync-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrCycleInProgress is returned when a cycle is requested while one is running
var ErrCycleInProgress = errors.New("an update is already running")

// Lease guards cycles across replicas
type Lease interface {
	// Acquire returns ok=false when another holder has the lease
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// EventPublisher announces cycle outcomes
type EventPublisher interface {
	PublishCycleCompleted(ctx context.Context, cycle *models.SyncCycle)
	PublishProductCreated(ctx context.Context, cycleID uuid.UUID, product models.Product)
}

// SyncConfig tunes the reconciliation cycle
type SyncConfig struct {
	BatchSize          int
	CacheLifespan      int
	ImageConcurrency   int
	CallTimeout        time.Duration
	FetchTimeout       time.Duration
	AbortOnEmptyRemote bool
	ImageTransform     ImageTransform
}

// ConnectivityStatus is the outcome of probing every collaborator
type ConnectivityStatus struct {
	Source    bool      `json:"source"`
	Catalog   bool      `json:"catalog"`
	Media     bool      `json:"media"`
	CheckedAt time.Time `json:"checkedAt"`
}

// OK reports whether every collaborator answered
func (c ConnectivityStatus) OK() bool {
	return c.Source && c.Catalog && c.Media
}

// StatusView is a point-in-time view of the service for the ops API
type StatusView struct {
	Running      bool                `json:"running"`
	Verified     bool                `json:"connectivityVerified"`
	Current      *models.SyncCycle   `json:"current,omitempty"`
	Last         *models.SyncCycle   `json:"last,omitempty"`
	Connectivity *ConnectivityStatus `json:"connectivity,omitempty"`
	Cache        CacheStats          `json:"cache"`
}

// SyncService runs reconciliation cycles one at a time
type SyncService struct {
	source    repository.SourceReader
	catalog   clients.CatalogClient
	media     clients.MediaClient
	journal   repository.CycleJournal
	cache     *CacheManager
	reporter  report.Reporter
	logger    *logrus.Entry
	lease     Lease
	publisher EventPublisher
	config    SyncConfig

	mu      sync.Mutex
	running bool
	current *models.SyncCycle
	last    *models.SyncCycle

	connMu       sync.Mutex
	verified     bool
	connectivity *ConnectivityStatus
}

// NewSyncService creates a new sync service. journal may be nil.
func NewSyncService(
	source repository.SourceReader,
	catalog clients.CatalogClient,
	media clients.MediaClient,
	journal repository.CycleJournal,
	reporter report.Reporter,
	logger *logrus.Entry,
	cfg SyncConfig,
) *SyncService {
	if reporter == nil {
		reporter = report.Nop
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Minute
	}
	return &SyncService{
		source:   source,
		catalog:  catalog,
		media:    media,
		journal:  journal,
		cache:    NewCacheManager(cfg.CacheLifespan, reporter),
		reporter: reporter,
		logger:   logger.WithField("component", "sync"),
		config:   cfg,
	}
}

// SetLease enables cross-replica exclusion
func (s *SyncService) SetLease(lease Lease) {
	s.lease = lease
}

// SetPublisher enables event publishing
func (s *SyncService) SetPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// Cache exposes the cache manager
func (s *SyncService) Cache() *CacheManager {
	return s.cache
}

// IsRunning reports whether a cycle is in progress
func (s *SyncService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// InvalidateCache makes the next cycle refresh the remote mirror
func (s *SyncService) InvalidateCache() {
	s.cache.Invalidate()
}

// ForceReverify makes the next cycle probe every collaborator again
func (s *SyncService) ForceReverify() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.verified = false
}

// Status returns the current state for the ops API
func (s *SyncService) Status() StatusView {
	view := StatusView{Cache: s.cache.Stats()}

	s.mu.Lock()
	view.Running = s.running
	view.Current = s.current
	view.Last = s.last
	s.mu.Unlock()

	s.connMu.Lock()
	view.Verified = s.verified
	if s.connectivity != nil {
		c := *s.connectivity
		view.Connectivity = &c
	}
	s.connMu.Unlock()

	return view
}

// VerifyConnectivity probes the source database, the catalog and the media
// host. The result is remembered until ForceReverify is called.
func (s *SyncService) VerifyConnectivity(ctx context.Context) (ConnectivityStatus, error) {
	return s.verifyConnectivity(ctx, s.reporter)
}

func (s *SyncService) verifyConnectivity(ctx context.Context, r report.Reporter) (ConnectivityStatus, error) {
	status := ConnectivityStatus{CheckedAt: time.Now()}
	var errs []error

	probe := func(name string, fn func(ctx context.Context) error) bool {
		callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()

		if err := fn(callCtx); err != nil {
			fault := &report.ConnectivityFault{Collaborator: name, Err: err}
			report.Fault(r, fault, map[string]interface{}{"collaborator": name})
			report.Warn(r, name+" connection: Failed", nil)
			errs = append(errs, fault)
			return false
		}
		report.Info(r, name+" connection: OK", nil)
		return true
	}

	status.Source = probe("DB", s.source.Ping)
	status.Catalog = probe("Store", s.catalog.ProbeConnectivity)
	status.Media = probe("Media", s.media.ProbeConnectivity)

	s.connMu.Lock()
	s.connectivity = &status
	s.verified = status.OK()
	s.connMu.Unlock()

	return status, errors.Join(errs...)
}

func (s *SyncService) ensureConnectivity(ctx context.Context, r report.Reporter) error {
	s.connMu.Lock()
	verified := s.verified
	s.connMu.Unlock()

	if verified {
		return nil
	}
	_, err := s.verifyConnectivity(ctx, r)
	return err
}

// cycleReporter stamps records with the cycle id and counts faults
type cycleReporter struct {
	cycleID uuid.UUID
	next    report.Reporter
	faults  atomic.Int64
}

func (c *cycleReporter) Report(rec report.Record) {
	rec.CycleID = c.cycleID
	if rec.Err != nil {
		c.faults.Add(1)
	}
	c.next.Report(rec)
}

// RunCycle performs one reconciliation cycle. It returns ErrCycleInProgress
// without doing anything if another cycle holds the service or the lease.
// The returned cycle describes the outcome; the error is set when the cycle
// did not complete.
func (s *SyncService) RunCycle(ctx context.Context, trigger models.TriggerType) (*models.SyncCycle, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		report.Warn(s.reporter, "An update is already running!", map[string]interface{}{"trigger": string(trigger)})
		return nil, ErrCycleInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.current = nil
		s.mu.Unlock()
	}()

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("Cycle lease unavailable, continuing with local exclusion")
		case !ok:
			report.Warn(s.reporter, "An update is already running on another replica!", map[string]interface{}{"trigger": string(trigger)})
			return nil, ErrCycleInProgress
		default:
			defer release()
		}
	}

	cycle := &models.SyncCycle{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    models.CycleStatusRunning,
		StartedAt: time.Now(),
	}
	snap := *cycle
	s.mu.Lock()
	s.current = &snap
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.CreateCycle(ctx, cycle); err != nil {
			s.logger.WithError(err).Warn("Failed to record cycle start")
		}
	}

	r := &cycleReporter{cycleID: cycle.ID, next: s.reporter}
	report.Info(r, "Update started", map[string]interface{}{"trigger": string(trigger)})

	err := s.runStages(ctx, cycle, r)
	s.finish(ctx, cycle, r, err)
	return cycle, err
}

// setStage moves the cycle on and publishes a copy for Status readers.
// Only the cycle goroutine touches cycle itself.
func (s *SyncService) setStage(cycle *models.SyncCycle, stage models.CycleStage) {
	cycle.Stage = stage
	snap := *cycle

	s.mu.Lock()
	s.current = &snap
	s.mu.Unlock()
}

func (s *SyncService) runStages(ctx context.Context, cycle *models.SyncCycle, r *cycleReporter) error {
	// Connectivity
	s.setStage(cycle, models.StageConnectivity)
	if err := s.ensureConnectivity(ctx, r); err != nil {
		cycle.Status = models.CycleStatusAborted
		return fmt.Errorf("connectivity check: %w", err)
	}

	// Cache decision
	s.setStage(cycle, models.StageCache)
	if s.cache.ShouldRefresh() {
		cycle.CacheAction = models.CacheRefresh
		report.Info(r, "Refreshing cache", nil)

		fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
		remote, err := s.catalog.FetchAllProducts(fetchCtx)
		cancel()
		if err != nil {
			cycle.Status = models.CycleStatusAborted
			report.Fault(r, &report.ConnectivityFault{Collaborator: "Store", Err: err}, nil)
			return fmt.Errorf("refresh cache: %w", err)
		}
		if len(remote) == 0 && s.config.AbortOnEmptyRemote {
			cycle.Status = models.CycleStatusAborted
			report.Warn(r, "Remote catalog is empty, cache not refreshed", nil)
			return fmt.Errorf("refresh cache: %w", clients.ErrEmptyResponse)
		}
		s.cache.Refresh(remote)
		report.Info(r, fmt.Sprintf("Cache refreshed with %d products", len(remote)), nil)
	} else {
		cycle.CacheAction = models.CacheReuse
		s.cache.DecrementLifetime()
	}
	stats := s.cache.Stats()
	cycle.CacheSize = stats.Size
	cycle.CacheLifetime = stats.Lifetime

	// Source fetch
	s.setStage(cycle, models.StageSourceFetch)
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	rows, err := s.source.FetchAllProducts(fetchCtx, r)
	cancel()
	if err != nil {
		cycle.Status = models.CycleStatusAborted
		report.Fault(r, &report.ConnectivityFault{Collaborator: "DB", Err: err}, nil)
		return fmt.Errorf("read source catalog: %w", err)
	}
	cycle.SourceRows = len(rows)

	// Diff
	s.setStage(cycle, models.StageDiff)
	batch := Diff(rows, s.cache.Snapshot(), r)
	report.Info(r, fmt.Sprintf("%d new and %d changed products", len(batch.Create), len(batch.Update)), map[string]interface{}{
		"create": len(batch.Create),
		"update": len(batch.Update),
	})
	if batch.IsEmpty() {
		cycle.Status = models.CycleStatusNoChanges
		return nil
	}

	// Upload
	s.setStage(cycle, models.StageUpload)
	uploader := NewBatchUploader(s.catalog, s.config.BatchSize, r).WithCallTimeout(s.config.CallTimeout)
	result, err := uploader.Upload(ctx, batch)
	if err != nil {
		cycle.Status = models.CycleStatusFailed
		report.Fault(r, err, nil)
		return err
	}
	for _, rejected := range result.Rejected {
		report.Skip(r, rejected.SKU, fmt.Sprintf("rejected by store: %s (%s)", rejected.Message, rejected.Code))
	}
	cycle.Rejected = len(result.Rejected)

	// Images
	s.setStage(cycle, models.StageImages)
	created := s.attachImages(ctx, cycle, result.Created, r)

	// Merge
	s.setStage(cycle, models.StageMerge)
	merged := s.cache.Merge(created, result.Updated)
	cycle.Created = len(result.Created)
	cycle.Updated = len(result.Updated)
	report.Info(r, fmt.Sprintf("Cache merged: %d inserted, %d overwritten", merged.Inserted, merged.Overwritten), nil)

	if s.publisher != nil {
		for _, p := range created {
			s.publisher.PublishProductCreated(ctx, cycle.ID, p)
		}
	}

	cycle.Status = models.CycleStatusCompleted
	return nil
}

// attachImages runs the image workflow for every created product and
// returns the created list with confirmed image-bearing records swapped in.
func (s *SyncService) attachImages(ctx context.Context, cycle *models.SyncCycle, created []models.Product, r report.Reporter) []models.Product {
	if len(created) == 0 {
		return created
	}

	attacher := NewImageAttacher(s.catalog, s.media, ImageAttacherConfig{
		Concurrency: s.config.ImageConcurrency,
		CallTimeout: s.config.CallTimeout,
		Transform:   s.config.ImageTransform,
	}, r)

	out := make([]models.Product, len(created))
	copy(out, created)

	for i, product := range created {
		fetchCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
		images, err := s.source.FetchImages(fetchCtx, product.SKU)
		cancel()
		if err != nil {
			report.Fault(r, &report.ImageFault{SKU: product.SKU, RemoteID: product.RemoteID, Index: -1, Phase: report.PhaseFetch, Err: err}, nil)
			continue
		}
		if len(images) == 0 {
			continue
		}

		if confirmed := attacher.Attach(ctx, product, images); confirmed != nil {
			cycle.ImagesAttached += len(confirmed.Images)
			if confirmed.SKU == "" {
				confirmed.SKU = product.SKU
			}
			out[i] = *confirmed
		}
	}
	return out
}

func (s *SyncService) finish(ctx context.Context, cycle *models.SyncCycle, r *cycleReporter, err error) {
	now := time.Now()
	cycle.CompletedAt = &now
	if err != nil {
		cycle.ErrorMessage = err.Error()
		if cycle.Status == models.CycleStatusRunning {
			cycle.Status = models.CycleStatusFailed
		}
	} else {
		s.setStage(cycle, models.StageDone)
	}
	cycle.Faults = int(r.faults.Load())

	fields := map[string]interface{}{
		"status":      string(cycle.Status),
		"created":     cycle.Created,
		"updated":     cycle.Updated,
		"faults":      cycle.Faults,
		"duration_ms": cycle.Duration().Milliseconds(),
	}
	if err != nil {
		report.Warn(r, "Update finished with errors: "+err.Error(), fields)
	} else {
		report.Info(r, "Update finished", fields)
	}

	// The outcome is recorded even when the cycle was cancelled
	ctx = context.WithoutCancel(ctx)
	if s.journal != nil {
		if jerr := s.journal.UpdateCycle(ctx, cycle); jerr != nil {
			s.logger.WithError(jerr).Warn("Failed to record cycle outcome")
		}
	}
	if s.publisher != nil {
		s.publisher.PublishCycleCompleted(ctx, cycle)
	}

	s.mu.Lock()
	last := *cycle
	s.last = &last
	s.mu.Unlock()
}

// GetCycle returns a journaled cycle
func (s *SyncService) GetCycle(ctx context.Context, id uuid.UUID) (*models.SyncCycle, error) {
	if s.journal == nil {
		return nil, repository.ErrNotFound
	}
	return s.journal.GetCycle(ctx, id)
}

// ListCycles returns journaled cycles, newest first
func (s *SyncService) ListCycles(ctx context.Context, opts repository.CycleListOptions) ([]models.SyncCycle, int64, error) {
	if s.journal == nil {
		return []models.SyncCycle{}, 0, nil
	}
	return s.journal.ListCycles(ctx, opts)
}

// GetCycleLogs returns the journal lines of a cycle
func (s *SyncService) GetCycleLogs(ctx context.Context, id uuid.UUID, opts repository.LogListOptions) ([]models.SyncCycleLog, error) {
	if s.journal == nil {
		return []models.SyncCycleLog{}, nil
	}
	return s.journal.GetCycleLogs(ctx, id, opts)
}

// GetStats aggregates the journal
func (s *SyncService) GetStats(ctx context.Context) (*models.SyncStats, error) {
	if s.journal == nil {
		return &models.SyncStats{LastCycle: s.Status().Last}, nil
	}
	return s.journal.GetStats(ctx)
}
