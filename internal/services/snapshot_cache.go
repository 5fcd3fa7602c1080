package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/codyseavey/slab-market/internal/config"
	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
	"github.com/codyseavey/slab-market/internal/models"
)

const (
	defaultCacheTTL        = 7 * time.Minute
	defaultCacheSweep      = 10 * time.Minute
	defaultCacheMaxEntries = 5000
)

type snapshotEntry struct {
	snapshot *models.MarketSnapshot
	cachedAt time.Time
}

// SnapshotCache is a TTL cache of market snapshots keyed by item id and
// history options. Expired entries are dropped on read and by a periodic sweep.
//
// Every purge bumps a generation counter. Readers capture it before loading
// sales and store through SetIfCurrent, so a snapshot computed from sales read
// before a purge is never cached after it.
type SnapshotCache struct {
	entries       *lru.Cache[string, snapshotEntry]
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu         sync.Mutex
	generation uint64
}

func NewSnapshotCache(cfg config.CacheConfig) (*SnapshotCache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultCacheSweep
	}
	size := cfg.MaxEntries
	if size <= 0 {
		size = defaultCacheMaxEntries
	}

	entries, err := lru.New[string, snapshotEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &SnapshotCache{
		entries:       entries,
		ttl:           ttl,
		sweepInterval: sweep,
		now:           time.Now,
	}, nil
}

// cacheKey is "<item id>:<include history>:<history points>"
func cacheKey(id string, opts SnapshotOptions) string {
	opts = opts.Normalized()
	return fmt.Sprintf("%s:%t:%d", id, opts.IncludeHistory, opts.HistoryPoints)
}

// Get returns a fresh cached snapshot. Entries at or past the TTL are evicted.
func (c *SnapshotCache) Get(id string, opts SnapshotOptions) (*models.MarketSnapshot, bool) {
	key := cacheKey(id, opts)
	entry, ok := c.entries.Get(key)
	if ok && c.now().Sub(entry.cachedAt) < c.ttl {
		metrics.SnapshotCacheHits.Inc()
		snap := *entry.snapshot
		return &snap, true
	}
	if ok {
		c.entries.Remove(key)
		metrics.SnapshotCacheSize.Set(float64(c.entries.Len()))
	}
	metrics.SnapshotCacheMisses.Inc()
	return nil, false
}

// Set stores snapshot under the id and options it was computed for
func (c *SnapshotCache) Set(id string, opts SnapshotOptions, snapshot *models.MarketSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(id, opts, snapshot)
}

// Generation returns the current purge generation
func (c *SnapshotCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfCurrent stores snapshot only if no purge happened since gen was read
func (c *SnapshotCache) SetIfCurrent(id string, opts SnapshotOptions, snapshot *models.MarketSnapshot, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		metrics.SnapshotCacheStaleSets.Inc()
		return false
	}
	c.add(id, opts, snapshot)
	return true
}

func (c *SnapshotCache) add(id string, opts SnapshotOptions, snapshot *models.MarketSnapshot) {
	snap := *snapshot
	c.entries.Add(cacheKey(id, opts), snapshotEntry{snapshot: &snap, cachedAt: c.now()})
	metrics.SnapshotCacheSize.Set(float64(c.entries.Len()))
}

func (c *SnapshotCache) purge(cause string, match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.removeWhere(cause, match)
}

// PurgeIDs removes every cached variant of each id
func (c *SnapshotCache) PurgeIDs(ids []string) int {
	prefixes := make([]string, 0, len(ids))
	for _, id := range uniqueNonEmpty(ids) {
		prefixes = append(prefixes, id+":")
	}
	if len(prefixes) == 0 {
		return 0
	}
	return c.purge("id", func(key string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				return true
			}
		}
		return false
	})
}

// PurgePattern removes every entry whose key contains pattern
func (c *SnapshotCache) PurgePattern(pattern string) int {
	if pattern == "" {
		return 0
	}
	return c.purge("pattern", func(key string) bool {
		return strings.Contains(key, pattern)
	})
}

// Sweep removes expired entries without reading them
func (c *SnapshotCache) Sweep() int {
	now := c.now()
	return c.removeWhere("sweep", func(key string) bool {
		entry, ok := c.entries.Peek(key)
		return ok && now.Sub(entry.cachedAt) >= c.ttl
	})
}

// removeWhere iterates a snapshot of the keys so concurrent reads and writes
// never observe a half-mutated cache
func (c *SnapshotCache) removeWhere(cause string, match func(key string) bool) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		if match(key) && c.entries.Remove(key) {
			removed++
		}
	}
	if removed > 0 {
		metrics.SnapshotCachePurged.WithLabelValues(cause).Add(float64(removed))
	}
	metrics.SnapshotCacheSize.Set(float64(c.entries.Len()))
	return removed
}

// Len returns the number of cached entries, expired or not
func (c *SnapshotCache) Len() int {
	return c.entries.Len()
}

// Start sweeps expired entries every sweep interval until ctx is cancelled
func (c *SnapshotCache) Start(ctx context.Context) {
	logger.Info("Snapshot cache sweeper started",
		zap.Duration("ttl", c.ttl),
		zap.Duration("interval", c.sweepInterval))

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Snapshot cache sweeper stopping")
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				logger.Debug("Swept expired snapshots", zap.Int("removed", removed), zap.Int("remaining", c.Len()))
			}
		}
	}
}
