package extraction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ResultCache persists extraction results on disk, keyed by the document's
// identity and the options that shape the output. A re-run with the same
// document bytes and options is served from cache.
type ResultCache struct {
	dir     string
	enabled bool
	ttl     time.Duration
}

// cacheEntry is the on-disk envelope around a cached result.
type cacheEntry struct {
	Result    ExtractionResult `json:"result"`
	CacheKey  string           `json:"cache_key"`
	Timestamp time.Time        `json:"timestamp"`
	TTL       time.Duration    `json:"ttl"`
}

// CacheStats reports the cache's on-disk footprint.
type CacheStats struct {
	Enabled      bool   `json:"enabled"`
	Directory    string `json:"directory"`
	TotalFiles   int    `json:"total_files"`
	TotalSize    int64  `json:"total_size"`    // size in bytes
	ExpiredFiles int    `json:"expired_files"` // entries past their TTL
}

// NewResultCache creates a cache from the pipeline configuration.
func NewResultCache(cfg *Config) *ResultCache {
	return &ResultCache{
		dir:     cfg.CacheDir,
		enabled: cfg.CacheEnabled,
		ttl:     cfg.CacheTTL,
	}
}

// Key derives the cache key for a document and run options. The document's
// size and modification time are part of the key so an edited file never
// serves a stale result.
func (c *ResultCache) Key(path string, opts Options) string {
	keyData := struct {
		Source        string    `json:"source"`
		FileSize      int64     `json:"file_size"`
		ModTime       time.Time `json:"mod_time"`
		VisionEnabled bool      `json:"vision_enabled"`
	}{
		Source:        path,
		VisionEnabled: opts.VisionEnabled,
	}

	if info, err := os.Stat(path); err == nil {
		keyData.FileSize = info.Size()
		keyData.ModTime = info.ModTime()
	}

	jsonData, _ := json.Marshal(keyData)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// Get retrieves a cached result if present and unexpired.
func (c *ResultCache) Get(cacheKey string) (*ExtractionResult, bool) {
	if !c.enabled {
		return nil, false
	}

	data, err := os.ReadFile(c.entryPath(cacheKey))
	if err != nil {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}

	if c.expired(&entry) {
		_ = os.Remove(c.entryPath(cacheKey))
		return nil, false
	}

	entry.Result.Metadata.CacheHit = true
	return &entry.Result, true
}

// Set stores a result in the cache.
func (c *ResultCache) Set(cacheKey string, result *ExtractionResult) error {
	if !c.enabled {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	entry := cacheEntry{
		Result:    *result,
		CacheKey:  cacheKey,
		Timestamp: time.Now(),
		TTL:       c.ttl,
	}
	entry.Result.Metadata.CacheHit = false

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := os.WriteFile(c.entryPath(cacheKey), data, 0600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}

// Delete removes a cached result.
func (c *ResultCache) Delete(cacheKey string) error {
	if !c.enabled {
		return nil
	}

	if err := os.Remove(c.entryPath(cacheKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

// CleanExpired removes entries past their TTL.
func (c *ResultCache) CleanExpired() error {
	if !c.enabled {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}

	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if c.expired(&entry) {
			_ = os.Remove(match)
		}
	}

	return nil
}

// Stats reports the cache's current footprint.
func (c *ResultCache) Stats() (*CacheStats, error) {
	stats := &CacheStats{
		Enabled:   c.enabled,
		Directory: c.dir,
	}
	if !c.enabled {
		return stats, nil
	}

	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return stats, fmt.Errorf("failed to list cache files: %w", err)
	}
	stats.TotalFiles = len(matches)

	for _, match := range matches {
		if info, err := os.Stat(match); err == nil {
			stats.TotalSize += info.Size()
		}
		if data, err := os.ReadFile(match); err == nil {
			var entry cacheEntry
			if err := json.Unmarshal(data, &entry); err == nil && c.expired(&entry) {
				stats.ExpiredFiles++
			}
		}
	}

	return stats, nil
}

func (c *ResultCache) entryPath(cacheKey string) string {
	return filepath.Join(c.dir, cacheKey+".json")
}

func (c *ResultCache) expired(entry *cacheEntry) bool {
	if entry.TTL <= 0 {
		return false
	}
	return time.Now().After(entry.Timestamp.Add(entry.TTL))
}
