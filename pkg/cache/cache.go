package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/racksync/racksync/pkg/catalog"
)

// Config controls cache behavior.
type Config struct {
	// MaxEntries bounds the number of cached entries. Zero means unbounded.
	MaxEntries int

	// TTL maps catalog TTL classes to durations.
	TTL TTLConfig
}

// TTLConfig holds the per-class entry lifetimes and optional per-type
// overrides.
type TTLConfig struct {
	// Static applies to types that almost never change.
	Static time.Duration

	// Standard is the default lifetime.
	Standard time.Duration

	// Volatile applies to frequently changing types.
	Volatile time.Duration

	// Overrides replaces the class lifetime for specific types.
	Overrides map[catalog.ResourceType]time.Duration
}

// DefaultTTLConfig returns the stock lifetimes used when the configuration
// does not specify any.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Static:   30 * time.Minute,
		Standard: 5 * time.Minute,
		Volatile: 30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	// Hits counts successful lookups.
	Hits int64

	// Misses counts lookups that found nothing usable.
	Misses int64

	// Evictions counts entries removed by expiry or size pressure.
	Evictions int64

	// Invalidations counts entries removed by invalidation calls.
	Invalidations int64

	// Size is the current number of entries.
	Size int

	// MaxEntries echoes the configured bound, zero if unbounded.
	MaxEntries int
}

type entry struct {
	value      any
	expiresAt  time.Time
	insertedAt time.Time
}

// Cache is a TTL-bounded read cache partitioned by resource type. All
// operations run under one coarse mutex; this is not a hot path that needs
// sharding, and a single lock keeps invalidation atomic with respect to
// concurrent reads.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	cfg     Config

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
}

// New creates a cache. Call StartSweeper to enable background expiry; entries
// also expire passively on access.
func New(cfg Config) *Cache {
	if cfg.TTL.Static == 0 && cfg.TTL.Standard == 0 && cfg.TTL.Volatile == 0 && cfg.TTL.Overrides == nil {
		cfg.TTL = DefaultTTLConfig()
	}
	return &Cache{
		entries: make(map[string]entry),
		cfg:     cfg,
	}
}

// FilterKey normalizes filter parameters into a stable sub-key: parameters
// are sorted alphabetically and joined as k=v pairs, so identical filters
// produce identical keys regardless of caller ordering.
func FilterKey(filters map[string]string) string {
	if len(filters) == 0 {
		return "list:"
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + filters[k]
	}
	return "list:" + strings.Join(parts, "&")
}

// GetKey is the reserved sub-key for single-object fetches by identifier.
func GetKey(id int64) string {
	return fmt.Sprintf("get:%d", id)
}

func fullKey(rt catalog.ResourceType, sub string) string {
	return string(rt) + "|" + sub
}

// Get returns the cached payload for (resourceType, sub-key), or false on a
// miss. Expired entries are removed and counted as both a miss and an
// eviction. Safe to call on a nil cache, which always misses.
func (c *Cache) Get(rt catalog.ResourceType, sub string) (any, bool) {
	if c == nil {
		return nil, false
	}
	key := fullKey(rt, sub)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores a payload under (resourceType, sub-key) with the TTL configured
// for that type. A nil cache ignores the call.
func (c *Cache) Set(rt catalog.ResourceType, sub string, value any) {
	if c == nil {
		return
	}
	key := fullKey(rt, sub)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		if _, exists := c.entries[key]; !exists {
			c.makeRoomLocked(now)
		}
	}
	c.entries[key] = entry{
		value:      value,
		expiresAt:  now.Add(c.ttlFor(rt)),
		insertedAt: now,
	}
}

// makeRoomLocked frees at least one slot: expired entries first, then the
// oldest entry. Caller holds the lock.
func (c *Cache) makeRoomLocked(now time.Time) {
	removed := false
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			c.evictions++
			removed = true
		}
	}
	if removed {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.insertedAt.Before(oldest) {
			oldestKey = k
			oldest = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *Cache) ttlFor(rt catalog.ResourceType) time.Duration {
	if d, ok := c.cfg.TTL.Overrides[rt]; ok && d > 0 {
		return d
	}
	desc, err := catalog.Lookup(rt)
	if err != nil {
		return c.cfg.TTL.Standard
	}
	switch desc.TTLClass {
	case catalog.TTLStatic:
		return c.cfg.TTL.Static
	case catalog.TTLVolatile:
		return c.cfg.TTL.Volatile
	default:
		return c.cfg.TTL.Standard
	}
}

// InvalidatePattern removes every entry whose full key contains the
// substring and returns the number removed. Used to blanket-invalidate a
// resource type after a write.
func (c *Cache) InvalidatePattern(substring string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if strings.Contains(k, substring) {
			delete(c.entries, k)
			removed++
		}
	}
	c.invalidations += int64(removed)
	return removed
}

// InvalidateForObject removes the direct-fetch entry for the given id plus
// every listing entry for the type, since any listing may contain the
// object. Over-invalidation is safe; under-invalidation is not.
func (c *Cache) InvalidateForObject(rt catalog.ResourceType, id int64) int {
	if c == nil {
		return 0
	}
	getKey := fullKey(rt, GetKey(id))
	listPrefix := fullKey(rt, "list:")

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	if _, ok := c.entries[getKey]; ok {
		delete(c.entries, getKey)
		removed++
	}
	for k := range c.entries {
		if strings.HasPrefix(k, listPrefix) {
			delete(c.entries, k)
			removed++
		}
	}
	c.invalidations += int64(removed)
	return removed
}

// Clear drops every entry. Counters other than size are preserved.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations += int64(len(c.entries))
	c.entries = make(map[string]entry)
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Invalidations: c.invalidations,
		Size:          len(c.entries),
		MaxEntries:    c.cfg.MaxEntries,
	}
}

// HitRate returns the hit percentage over all lookups so far.
func (c *Cache) HitRate() float64 {
	s := c.Stats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// StartSweeper runs background expiry at the given interval until the
// context is cancelled. Expiry also happens passively on access, so the
// sweeper is optional.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if c == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			c.evictions++
		}
	}
}
