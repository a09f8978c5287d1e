package services

import (
	"sort"
	"sync"
	"time"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"
)

// DefaultCacheLifespan is the number of cycles a refreshed cache is reused for
const DefaultCacheLifespan = 20

// CacheView is a read-only view of the remote catalog mirror
type CacheView interface {
	Lookup(sku string) (models.Product, bool)
	Len() int
}

// snapshot is an immutable copy handed out by the cache manager
type snapshot map[string]models.Product

func (s snapshot) Lookup(sku string) (models.Product, bool) {
	p, ok := s[sku]
	return p, ok
}

func (s snapshot) Len() int { return len(s) }

// StaticView builds a CacheView over a fixed product list, keyed by sku
func StaticView(products ...models.Product) CacheView {
	s := make(snapshot, len(products))
	for _, p := range products {
		s[p.SKU] = p.Clone()
	}
	return s
}

// CacheStats describes the cache for the status endpoint
type CacheStats struct {
	Size          int        `json:"size"`
	Lifetime      int        `json:"lifetime"`
	Lifespan      int        `json:"lifespan"`
	LastRefreshAt *time.Time `json:"lastRefreshAt,omitempty"`
}

// MergeResult counts what a merge applied
type MergeResult struct {
	Inserted    int
	Overwritten int
	Faults      int
}

// CacheManager owns the in-memory mirror of the remote catalog.
// It is the only writer; everyone else reads snapshots.
type CacheManager struct {
	mu            sync.RWMutex
	entries       map[string]models.Product
	byRemoteID    map[int64]string
	lifespan      int
	lifetime      int
	lastRefreshAt time.Time
	reporter      report.Reporter
}

// NewCacheManager creates an empty cache
func NewCacheManager(lifespan int, reporter report.Reporter) *CacheManager {
	if lifespan <= 0 {
		lifespan = DefaultCacheLifespan
	}
	if reporter == nil {
		reporter = report.Nop
	}
	return &CacheManager{
		entries:    make(map[string]models.Product),
		byRemoteID: make(map[int64]string),
		lifespan:   lifespan,
		reporter:   reporter,
	}
}

// ShouldRefresh reports whether the cache is expired or empty
func (c *CacheManager) ShouldRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lifetime <= 0 || len(c.entries) == 0
}

// Refresh replaces the whole content with rows and resets the lifetime.
// Rows without a sku are reported and dropped; a repeated sku keeps the first row.
func (c *CacheManager) Refresh(rows []models.Product) {
	entries := make(map[string]models.Product, len(rows))
	byRemoteID := make(map[int64]string, len(rows))

	for _, p := range rows {
		if p.SKU == "" {
			report.Fault(c.reporter, &report.ConsistencyFault{RemoteID: p.RemoteID, Reason: "remote product has no sku"}, nil)
			continue
		}
		if _, exists := entries[p.SKU]; exists {
			report.Fault(c.reporter, &report.ConsistencyFault{SKU: p.SKU, RemoteID: p.RemoteID, Reason: "sku listed twice by remote"}, nil)
			continue
		}
		entries[p.SKU] = p.Clone()
		if p.HasRemoteID() {
			byRemoteID[p.RemoteID] = p.SKU
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.byRemoteID = byRemoteID
	c.lifetime = c.lifespan
	c.lastRefreshAt = time.Now()
	c.mu.Unlock()
}

// DecrementLifetime counts down one reuse of the cache
func (c *CacheManager) DecrementLifetime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifetime--
}

// Invalidate forces the next cycle to refresh
func (c *CacheManager) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifetime = 0
}

// Merge applies server-confirmed records. Creations are inserted by sku;
// updates overwrite the entry holding the same remote id. A record that
// does not fit is reported as a consistency fault and skipped.
func (c *CacheManager) Merge(created, updated []models.Product) MergeResult {
	var result MergeResult

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range created {
		if p.SKU == "" {
			c.fault(&result, &report.ConsistencyFault{RemoteID: p.RemoteID, Reason: "created product has no sku"})
			continue
		}
		if _, exists := c.entries[p.SKU]; exists {
			c.fault(&result, &report.ConsistencyFault{SKU: p.SKU, RemoteID: p.RemoteID, Reason: "created product already cached"})
			continue
		}
		c.entries[p.SKU] = p.Clone()
		if p.HasRemoteID() {
			c.byRemoteID[p.RemoteID] = p.SKU
		}
		result.Inserted++
	}

	for _, p := range updated {
		sku, ok := c.byRemoteID[p.RemoteID]
		if !p.HasRemoteID() || !ok {
			c.fault(&result, &report.ConsistencyFault{SKU: p.SKU, RemoteID: p.RemoteID, Reason: "updated product not in cache"})
			continue
		}
		if p.SKU != "" && p.SKU != sku {
			delete(c.entries, sku)
			sku = p.SKU
			c.byRemoteID[p.RemoteID] = sku
		}
		c.entries[sku] = p.Clone()
		result.Overwritten++
	}

	return result
}

func (c *CacheManager) fault(result *MergeResult, err error) {
	result.Faults++
	report.Fault(c.reporter, err, nil)
}

// Snapshot returns an immutable copy of the current content
func (c *CacheManager) Snapshot() CacheView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := make(snapshot, len(c.entries))
	for sku, p := range c.entries {
		s[sku] = p.Clone()
	}
	return s
}

// SKUs returns the cached skus in sorted order
func (c *CacheManager) SKUs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	skus := make([]string, 0, len(c.entries))
	for sku := range c.entries {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}

// Stats returns size and lifetime information
func (c *CacheManager) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		Size:     len(c.entries),
		Lifetime: c.lifetime,
		Lifespan: c.lifespan,
	}
	if !c.lastRefreshAt.IsZero() {
		t := c.lastRefreshAt
		stats.LastRefreshAt = &t
	}
	return stats
}
