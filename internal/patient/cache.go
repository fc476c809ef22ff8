package patient

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultExpiry is how long a fetched record may be served from cache.
const DefaultExpiry = 5 * time.Minute

// RecordCache holds short-lived copies of patient records. Expiry is lazy:
// Get checks age at call time and deletes an expired entry before reporting a miss.
type RecordCache interface {
	Get(ctx context.Context, id string) (*Record, bool, error)
	Put(ctx context.Context, id string, rec *Record) error
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (CacheStats, error)
}

// EntryStats describes one cached record.
type EntryStats struct {
	AgeMinutes       float64 `json:"age_minutes"`
	ExpiresInMinutes float64 `json:"expires_in_minutes"`
	PatientName      string  `json:"patient_name"`
}

// CacheStats is the payload behind GET /cache/stats.
type CacheStats struct {
	ExpiryMinutes float64               `json:"cache_expiry_minutes"`
	TotalEntries  int                   `json:"total_entries"`
	Entries       map[string]EntryStats `json:"entries"`
}

// Keys returns the entry keys in sorted order.
func (s CacheStats) Keys() []string {
	keys := make([]string, 0, len(s.Entries))
	for k := range s.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func statsKey(id string) string {
	return "patient_" + id
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func entryStats(rec *Record, storedAt, now time.Time, expiry time.Duration) EntryStats {
	age := now.Sub(storedAt).Minutes()
	return EntryStats{
		AgeMinutes:       round2(age),
		ExpiresInMinutes: round2(expiry.Minutes() - age),
		PatientName:      rec.DisplayName("Unknown"),
	}
}

// isFresh is the single expiry rule shared by every backend. The boundary is expired.
func isFresh(storedAt, now time.Time, expiry time.Duration) bool {
	return now.Sub(storedAt) < expiry
}

type memoryEntry struct {
	record   *Record
	storedAt time.Time
}

// MemoryCache is the in-process cache. One mutex covers every operation so
// the read-check-delete in Get is atomic.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	expiry  time.Duration
	now     func() time.Time
}

// MemoryOption customises a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates an empty cache; a non-positive expiry uses DefaultExpiry.
func NewMemoryCache(expiry time.Duration, opts ...MemoryOption) *MemoryCache {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		expiry:  expiry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Expiry returns the configured validity window.
func (c *MemoryCache) Expiry() time.Duration {
	return c.expiry
}

// Get returns a fresh entry, deleting it first when it has expired.
func (c *MemoryCache) Get(_ context.Context, id string) (*Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	if !isFresh(entry.storedAt, c.now(), c.expiry) {
		delete(c.entries, id)
		return nil, false, nil
	}
	return entry.record, true, nil
}

// Put stores rec and restarts its expiry window.
func (c *MemoryCache) Put(_ context.Context, id string, rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id] = memoryEntry{record: rec, storedAt: c.now()}
	return nil
}

// Clear drops every entry and reports how many there were.
func (c *MemoryCache) Clear(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]memoryEntry)
	return n, nil
}

// Stats describes every stored entry, expired ones included until read.
func (c *MemoryCache) Stats(_ context.Context) (CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := CacheStats{
		ExpiryMinutes: c.expiry.Minutes(),
		TotalEntries:  len(c.entries),
		Entries:       make(map[string]EntryStats, len(c.entries)),
	}
	for id, entry := range c.entries {
		stats.Entries[statsKey(id)] = entryStats(entry.record, entry.storedAt, now, c.expiry)
	}
	return stats, nil
}
