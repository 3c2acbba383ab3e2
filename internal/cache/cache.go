// Package cache stores finished MP4 files on disk, indexed by the SQLite
// transcode ledger.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"ugoira-transcoder/internal/database"
	"ugoira-transcoder/internal/filesystem"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/metrics"
)

const subdir = "transcoded"

// Cache maps illustration ids to finished MP4 files under
// {dir}/transcoded/{id}.mp4.
type Cache struct {
	dir   string
	db    *database.Database
	retry filesystem.RetryConfig

	// Held for writing by Put and Clear.
	mu sync.RWMutex
}

// New creates the cache directory if needed.
func New(dir string, db *database.Database) (*Cache, error) {
	root := filepath.Join(dir, subdir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{dir: root, db: db, retry: filesystem.DefaultRetryConfig()}, nil
}

// Dir returns the directory holding cached files.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) path(id int64) string {
	return filepath.Join(c.dir, strconv.FormatInt(id, 10)+".mp4")
}

// Get returns the cached file for id. ok is false on a miss; a ledger row
// whose file is gone or has the wrong size counts as a miss and is removed.
func (c *Cache) Get(ctx context.Context, id int64) (data []byte, rec *database.Transcode, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, err := c.db.GetTranscode(ctx, id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logging.Warn("cache: ledger lookup for %d failed: %v", id, err)
		}
		metrics.CacheMisses.Inc()
		return nil, nil, false
	}

	data, err = c.readChecked(id, rec.Size)
	if err != nil {
		logging.Warn("cache: dropping stale entry %d: %v", id, err)
		if delErr := c.db.DeleteTranscode(ctx, id); delErr != nil {
			logging.Warn("cache: failed to drop ledger row %d: %v", id, delErr)
		}
		metrics.CacheMisses.Inc()
		return nil, nil, false
	}

	metrics.CacheHits.Inc()
	return data, rec, true
}

// readChecked reads the file for id after confirming it has the size the
// ledger recorded.
func (c *Cache) readChecked(id, size int64) ([]byte, error) {
	info, err := filesystem.StatWithRetry(c.path(id), c.retry)
	if err != nil {
		return nil, err
	}
	if info.Size() != size {
		return nil, fmt.Errorf("size %d, ledger records %d", info.Size(), size)
	}
	data, err := filesystem.ReadFileWithRetry(c.path(id), c.retry)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("read %d bytes, ledger records %d", len(data), size)
	}
	return data, nil
}

// Put stores data for rec.ID and records it in the ledger. rec.Size is set
// from data.
func (c *Cache) Put(ctx context.Context, rec *database.Transcode, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec.Size = int64(len(data))
	if err := filesystem.WriteFileAtomic(c.path(rec.ID), data, 0o644, c.retry); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := c.db.RecordTranscode(ctx, rec); err != nil {
		_ = filesystem.RemoveWithRetry(c.path(rec.ID), c.retry)
		return fmt.Errorf("record transcode: %w", err)
	}
	return nil
}

// Clear removes every cached file and ledger row and returns the number of
// bytes freed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	var freedBytes int64
	for _, entry := range entries {
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logging.Warn("failed to get info for %s: %v", path, err)
			continue
		}
		if entry.IsDir() {
			continue
		}
		if err := filesystem.RemoveWithRetry(path, c.retry); err != nil {
			logging.Warn("failed to remove file %s: %v", path, err)
			continue
		}
		freedBytes += info.Size()
	}

	if _, err := c.db.DeleteAllTranscodes(ctx); err != nil {
		return freedBytes, fmt.Errorf("clear ledger: %w", err)
	}

	logging.Info("Cleared transcode cache: freed %d bytes", freedBytes)
	return freedBytes, nil
}

// GetStats implements metrics.StatsProvider.
func (c *Cache) GetStats() metrics.Stats {
	stats, err := c.db.Stats(context.Background())
	if err != nil {
		logging.Warn("cache: stats query failed: %v", err)
		return metrics.Stats{}
	}
	return metrics.Stats{CachedFiles: stats.Count, CachedBytes: stats.TotalBytes}
}
