package data

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"portfolio-backtest/internal/model"
)

// CacheEntry is a parsed rate file.
type CacheEntry struct {
	Bars      []model.Bar
	ExpiresAt time.Time
}

// RatesCache keeps parsed rate files in memory so repeated API runs over the
// same history skip parsing. Entries are keyed by path and modification
// time, so an edited file is parsed again.
type RatesCache struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
	ttl   time.Duration
	load  func(path string) ([]model.Bar, error)
}

var globalCache *RatesCache
var cacheOnce sync.Once

// GetCache returns the process-wide cache, or nil when BACKTEST_RATES_CACHE
// is "off". BACKTEST_RATES_CACHE_TTL overrides the one hour default.
func GetCache() *RatesCache {
	if os.Getenv("BACKTEST_RATES_CACHE") == "off" {
		return nil
	}
	cacheOnce.Do(func() {
		ttl := 1 * time.Hour
		if ttlStr := os.Getenv("BACKTEST_RATES_CACHE_TTL"); ttlStr != "" {
			if parsed, err := time.ParseDuration(ttlStr); err == nil {
				ttl = parsed
			}
		}
		globalCache = NewRatesCache(ttl)
		go globalCache.cleanup()
	})
	return globalCache
}

func NewRatesCache(ttl time.Duration) *RatesCache {
	return &RatesCache{
		store: make(map[string]*CacheEntry),
		ttl:   ttl,
		load:  LoadRates,
	}
}

// Load returns the bars of path, parsing the file only on a miss. A nil cache
// always parses.
func (c *RatesCache) Load(path string) ([]model.Bar, error) {
	if c == nil {
		return LoadRates(path)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrData, err)
	}
	key := GenerateCacheKey(path, st.ModTime())
	if bars, ok := c.Get(key); ok {
		return bars, nil
	}
	bars, err := c.load(path)
	if err != nil {
		return nil, err
	}
	c.Set(key, bars)
	return bars, nil
}

func (c *RatesCache) Get(key string) ([]model.Bar, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.store[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Bars, true
}

func (c *RatesCache) Set(key string, bars []model.Bar) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store[key] = &CacheEntry{
		Bars:      bars,
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

func (c *RatesCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*CacheEntry)
}

// cleanup periodically removes expired entries.
func (c *RatesCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, entry := range c.store {
			if now.After(entry.ExpiresAt) {
				delete(c.store, key)
			}
		}
		c.mu.Unlock()
	}
}

// GenerateCacheKey hashes a file path and its modification time.
func GenerateCacheKey(path string, modTime time.Time) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", path, modTime.UnixNano())))
	return hex.EncodeToString(hash[:])
}
