package sentiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Cache is a file-backed TTL cache. Every operation reads or rewrites
// the whole backing file, so it suits a handful of slow-changing keys,
// not hot paths.
type Cache struct {
	path string
	mu   sync.Mutex
}

type cacheEntry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp float64         `json:"timestamp"`
}

// NewCache returns a cache backed by the JSON file at path. The file is
// created on first Set.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Get decodes the entry under key into out when it exists and is
// younger than maxAge.
func (c *Cache) Get(key string, maxAge time.Duration, out any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.read()[key]
	if !ok {
		return false
	}
	written := time.Unix(0, int64(entry.Timestamp*float64(time.Second)))
	if time.Since(written) > maxAge {
		return false
	}
	return json.Unmarshal(entry.Value, out) == nil
}

// Set stores value under key with the current time.
func (c *Cache) Set(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	entries := c.read()
	entries[key] = cacheEntry{
		Value:     raw,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// read returns the decoded cache file; a missing or unreadable file is
// an empty cache.
func (c *Cache) read() map[string]cacheEntry {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return map[string]cacheEntry{}
	}
	var entries map[string]cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		return map[string]cacheEntry{}
	}
	return entries
}
