package extraction

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCacheConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.CacheEnabled = true
	cfg.CacheTTL = time.Hour
	return cfg
}

func sampleResult() *ExtractionResult {
	return &ExtractionResult{
		Success:    true,
		ID:         "test-id",
		Content:    "page one",
		PageTexts:  []string{"page one"},
		TotalPages: 1,
		Metadata:   ResultMetadata{Source: "/tmp/doc.pdf"},
	}
}

func TestResultCacheRoundTrip(t *testing.T) {
	cache := NewResultCache(testCacheConfig(t))

	key := cache.Key("/tmp/doc.pdf", Options{VisionEnabled: true})
	require.NoError(t, cache.Set(key, sampleResult()))

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, "test-id", got.ID)
	assert.Equal(t, "page one", got.Content)
	assert.True(t, got.Metadata.CacheHit, "cached reads are marked as hits")
}

func TestResultCacheMiss(t *testing.T) {
	cache := NewResultCache(testCacheConfig(t))

	_, ok := cache.Get(cache.Key("/tmp/never-stored.pdf", Options{}))
	assert.False(t, ok)
}

func TestResultCacheDisabled(t *testing.T) {
	cfg := testCacheConfig(t)
	cfg.CacheEnabled = false
	cache := NewResultCache(cfg)

	key := cache.Key("/tmp/doc.pdf", Options{})
	require.NoError(t, cache.Set(key, sampleResult()))

	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestResultCacheExpiry(t *testing.T) {
	cfg := testCacheConfig(t)
	cfg.CacheTTL = time.Nanosecond
	cache := NewResultCache(cfg)

	key := cache.Key("/tmp/doc.pdf", Options{})
	require.NoError(t, cache.Set(key, sampleResult()))

	time.Sleep(time.Millisecond)

	_, ok := cache.Get(key)
	assert.False(t, ok, "expired entries are misses")

	// The expired file was removed on read.
	_, err := os.Stat(filepath.Join(cfg.CacheDir, key+".json"))
	assert.True(t, os.IsNotExist(err))
}

func TestResultCacheKeyVariesWithOptionsAndFile(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(docPath, []byte("original"), 0600))

	cache := NewResultCache(testCacheConfig(t))

	base := cache.Key(docPath, Options{VisionEnabled: true})
	assert.NotEqual(t, base, cache.Key(docPath, Options{VisionEnabled: false}),
		"options are part of the key")

	// Changing the file changes the key.
	require.NoError(t, os.WriteFile(docPath, []byte("edited with more bytes"), 0600))
	assert.NotEqual(t, base, cache.Key(docPath, Options{VisionEnabled: true}))
}

func TestResultCacheDelete(t *testing.T) {
	cache := NewResultCache(testCacheConfig(t))

	key := cache.Key("/tmp/doc.pdf", Options{})
	require.NoError(t, cache.Set(key, sampleResult()))
	require.NoError(t, cache.Delete(key))

	_, ok := cache.Get(key)
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	assert.NoError(t, cache.Delete(key))
}

func TestResultCacheCleanExpiredAndStats(t *testing.T) {
	cfg := testCacheConfig(t)
	cache := NewResultCache(cfg)

	require.NoError(t, cache.Set(cache.Key("/tmp/a.pdf", Options{}), sampleResult()))

	expiring := NewResultCache(&Config{CacheDir: cfg.CacheDir, CacheEnabled: true, CacheTTL: time.Nanosecond})
	require.NoError(t, expiring.Set(expiring.Key("/tmp/b.pdf", Options{}), sampleResult()))
	time.Sleep(time.Millisecond)

	stats, err := cache.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, 1, stats.ExpiredFiles)
	assert.Positive(t, stats.TotalSize)

	require.NoError(t, cache.CleanExpired())

	stats, err = cache.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, 0, stats.ExpiredFiles)
}
