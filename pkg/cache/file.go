package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matzehuels/diagramzoom/pkg/observability"
)

// FileCache stores one JSON file per key under dir, sharded by the first
// two hex digits of the key hash.
type FileCache struct {
	dir string
}

// NewFileCache opens (creating if needed) a file cache rooted at dir.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

type fileEntry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e fileEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Dir returns the cache root.
func (c *FileCache) Dir() string { return c.dir }

// Get implements Cache. Corrupt and expired entries are removed and
// reported as misses.
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	path := c.path(key)
	entry, err := readEntry(path)
	if errors.Is(err, fs.ErrNotExist) {
		observability.Cache().OnCacheMiss(ctx, keyType(key))
		return nil, false, nil
	}
	if err != nil || entry.expired(time.Now()) {
		_ = os.Remove(path)
		observability.Cache().OnCacheMiss(ctx, keyType(key))
		return nil, false, nil
	}
	observability.Cache().OnCacheHit(ctx, keyType(key))
	return entry.Data, true, nil
}

func readEntry(path string) (fileEntry, error) {
	var e fileEntry
	data, err := os.ReadFile(path)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(data, &e)
	return e, err
}

// Set implements Cache. Writes go through a temp file and rename so
// readers never observe a partial entry.
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	entry := fileEntry{Key: key, Data: data}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	observability.Cache().OnCacheSet(ctx, keyType(key), len(data))
	return nil
}

// Delete implements Cache.
func (c *FileCache) Delete(ctx context.Context, key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Close implements Cache.
func (c *FileCache) Close() error { return nil }

// EntryInfo describes a stored entry.
type EntryInfo struct {
	Key       string
	Size      int
	ExpiresAt time.Time
}

// Walk calls fn for every live entry whose key starts with prefix.
// Expired entries are pruned on the way.
func (c *FileCache) Walk(prefix string, fn func(EntryInfo) error) error {
	now := time.Now()
	return filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		e, err := readEntry(path)
		if err != nil || e.expired(now) {
			_ = os.Remove(path)
			return nil
		}
		if !strings.HasPrefix(e.Key, prefix) {
			return nil
		}
		return fn(EntryInfo{Key: e.Key, Size: len(e.Data), ExpiresAt: e.ExpiresAt})
	})
}

// Clear removes every entry whose key starts with prefix and returns the
// number removed. An empty prefix removes everything.
func (c *FileCache) Clear(prefix string) (int, error) {
	var keys []string
	err := c.Walk(prefix, func(e EntryInfo) error {
		keys = append(keys, e.Key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := c.Delete(context.Background(), k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (c *FileCache) path(key string) string {
	h := Hash([]byte(key))
	return filepath.Join(c.dir, h[:2], h[2:]+".json")
}

var _ Cache = (*FileCache)(nil)
