package core

// page_cache.go - two-tier cache for fetched pages: an LRU memory tier in
// front of a size-bounded disk tier. Disk entries are named by destination
// hash and flattened path so the cache survives restarts.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	maxCacheDiskSize = 10 * 1024 * 1024
	maxCacheAge      = 24 * time.Hour
	memoryCacheSize  = 256
)

// PageURL addresses one page: a destination hash plus a path on that node.
type PageURL struct {
	Dest Address
	Path string
}

// DefaultPagePath is requested when a URL names a node without a path.
const DefaultPagePath = "/page/index.mu"

// ParsePageURL parses "<32-hex-hash>:<path>". A missing path becomes
// DefaultPagePath.
func ParsePageURL(s string) (PageURL, error) {
	hashPart, pathPart, found := strings.Cut(s, ":")
	dest, err := ParseAddress(hashPart)
	if err != nil {
		return PageURL{}, fmt.Errorf("parse page url: %w", err)
	}
	if !found || pathPart == "" {
		pathPart = DefaultPagePath
	}
	return PageURL{Dest: dest, Path: pathPart}, nil
}

func (u PageURL) String() string {
	return u.Dest.Hex() + ":" + u.Path
}

// CachedPage is one cache hit.
type CachedPage struct {
	Content   string
	FetchedAt time.Time
}

// Age returns how long ago the page was fetched.
func (p CachedPage) Age() time.Duration {
	return time.Since(p.FetchedAt)
}

// IsStale reports whether the page is past the staleness horizon.
func (p CachedPage) IsStale() bool {
	return p.Age() > maxCacheAge
}

// PageCache stores fetched pages. Safe for use from one goroutine; the
// browser owns it.
type PageCache struct {
	dir      string
	memory   *lru.Cache[string, CachedPage]
	diskSize int64
}

// NewPageCache opens (or creates) a cache rooted at dir.
func NewPageCache(dir string) (*PageCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}
	memory, err := lru.New[string, CachedPage](memoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}
	c := &PageCache{dir: dir, memory: memory}
	c.diskSize, err = c.calculateDiskSize()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *PageCache) calculateDiskSize() (int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("page cache: %w", err)
	}
	var size int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil {
			size += info.Size()
		}
	}
	return size, nil
}

// Get returns the cached page for url, preferring the memory tier.
func (c *PageCache) Get(url PageURL) (CachedPage, bool, error) {
	if page, ok := c.memory.Get(url.String()); ok {
		return page, true, nil
	}
	path := c.urlToPath(url)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CachedPage{}, false, nil
		}
		return CachedPage{}, false, fmt.Errorf("page cache: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return CachedPage{}, false, fmt.Errorf("page cache: %w", err)
	}
	page := CachedPage{Content: string(raw), FetchedAt: info.ModTime()}
	c.memory.Add(url.String(), page)
	return page, true, nil
}

// Put stores content for url in both tiers, evicting old disk entries when
// the disk tier outgrows its budget.
func (c *PageCache) Put(url PageURL, content string) error {
	c.memory.Add(url.String(), CachedPage{Content: content, FetchedAt: time.Now()})

	path := c.urlToPath(url)
	var oldSize int64
	if info, err := os.Stat(path); err == nil {
		oldSize = info.Size()
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("page cache: %w", err)
	}
	c.diskSize += int64(len(content)) - oldSize

	if c.diskSize > maxCacheDiskSize {
		return c.evictOldest()
	}
	return nil
}

// evictOldest removes disk entries oldest first until the tier is back at
// half its budget.
func (c *PageCache) evictOldest() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("page cache: %w", err)
	}
	type diskEntry struct {
		path     string
		modified time.Time
		size     int64
	}
	files := make([]diskEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, diskEntry{
			path:     filepath.Join(c.dir, e.Name()),
			modified: info.ModTime(),
			size:     info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modified.Before(files[j].modified) })

	for _, f := range files {
		if c.diskSize <= maxCacheDiskSize/2 {
			break
		}
		if err := os.Remove(f.path); err != nil {
			return fmt.Errorf("page cache: %w", err)
		}
		c.diskSize -= f.size
	}
	return nil
}

// Clear drops both tiers.
func (c *PageCache) Clear() error {
	c.memory.Purge()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("page cache: %w", err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("page cache: %w", err)
		}
	}
	c.diskSize = 0
	return nil
}

// Stats returns the memory entry count and the disk tier size in bytes.
func (c *PageCache) Stats() (int, int64) {
	return c.memory.Len(), c.diskSize
}

func (c *PageCache) urlToPath(url PageURL) string {
	safe := strings.ReplaceAll(strings.TrimPrefix(url.Path, "/"), "/", "_")
	return filepath.Join(c.dir, url.Dest.Hex()+"_"+safe)
}
