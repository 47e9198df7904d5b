// Copyright 2007 Randy Rizun
// Copyright 2021 Yandex LLC
// Copyright 2026 s3fs-fuse contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"sort"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// TTLMode selects how a cache entry's age is measured against ExpireTime.
type TTLMode int

const (
	// TTLAbsolute expires an entry ExpireTime after it was added or last
	// refreshed by an explicit Add.
	TTLAbsolute TTLMode = iota
	// TTLIntervalFromAccess refreshes cache_date on every hit, so an entry
	// only expires after ExpireTime of consecutive silence.
	TTLIntervalFromAccess
)

// StatCacheConfig mirrors the tunables of the legacy singleton (cache.h),
// now threaded through as an explicit record owned by the filesystem
// instance per the "singleton replacement" design note.
type StatCacheConfig struct {
	CacheSize      int
	ExpireTime     time.Duration
	IsExpireTime   bool
	TTLMode        TTLMode
	NegativeCache  bool
}

type statEntry struct {
	attrs      Attributes
	hitCount   uint64
	cacheDate  time.Time
	isForce    bool
	noObjCache bool // negative entry: "known to not exist"
	noTruncate uint64
}

type symlinkEntry struct {
	target    string
	hitCount  uint64
	cacheDate time.Time
}

// noTruncateKey orders (parent, name) pairs so StatCache can hand back a
// parent's children in a stable order without a second map-of-slices.
type noTruncateKey struct {
	parent string
	name   string
}

func noTruncateLess(a, b noTruncateKey) bool {
	if a.parent != b.parent {
		return a.parent < b.parent
	}
	return a.name < b.name
}

// StatCache is the in-memory cache of object metadata keyed by path, with
// TTL, LRU-ish eviction, negative entries, and the symlink/no-truncate
// ancillary indices. Grounded on s3fs-fuse's StatCache (cache.h), turned
// from a process-wide singleton into an explicit object per the spec's
// "singleton replacement" design note.
//
// A single mutex guards all three containers; it is held only across
// in-memory operations and is never held while a remote call is made — the
// cache has no I/O of its own, its client performs the HEAD/GET and feeds
// the result back through Add.
type StatCache struct {
	mu sync.Mutex

	cfg StatCacheConfig

	stats    map[string]*statEntry
	symlinks map[string]*symlinkEntry

	// noTruncate is keyed by (parent, name) so a parent's child list is a
	// cheap ascending-order scan; entries exist only while the refcount in
	// the corresponding statEntry.noTruncate is positive.
	noTruncate *btree.BTreeG[noTruncateKey]
}

// Stats is the snapshot returned to the async cache-walk report (Control
// component); it exposes hit counters the distilled spec does not name but
// original_source carries on every entry.
type Stats struct {
	Entries        int
	SymlinkEntries int
	TotalHits      uint64
}

func NewStatCache(cfg StatCacheConfig) *StatCache {
	return &StatCache{
		cfg:        cfg,
		stats:      make(map[string]*statEntry),
		symlinks:   make(map[string]*symlinkEntry),
		noTruncate: btree.NewBTreeG(noTruncateLess),
	}
}

// GetResult is the outcome of Get: a hit carries Attributes and whether the
// entry is a negative (known-nonexistent) one; a miss carries neither.
type GetResult struct {
	Hit     bool
	Negative bool
	Attrs   Attributes
	Force   bool
}

// Get looks up path. overcheck, when true and the direct lookup misses on a
// path ending in "/", retries without the trailing slash (and vice versa):
// the backing store can represent a directory either way. If expectedETag
// is non-empty and does not match the cached entry's ETag, the lookup is
// treated as a miss.
func (c *StatCache) Get(path Path, overcheck bool, expectedETag string) GetResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.getLocked(string(path), expectedETag); ok {
		return r
	}
	if overcheck {
		var alt string
		if path.IsDirLike() {
			alt = string(path.WithoutTrailingSlash())
		} else {
			alt = string(path.WithTrailingSlash())
		}
		if r, ok := c.getLocked(alt, expectedETag); ok {
			return r
		}
	}
	return GetResult{}
}

func (c *StatCache) getLocked(key string, expectedETag string) (GetResult, bool) {
	e, ok := c.stats[key]
	if !ok {
		return GetResult{}, false
	}
	if c.expiredLocked(e.cacheDate) {
		c.delStatLocked(key)
		return GetResult{}, false
	}
	if expectedETag != "" && !e.noObjCache && e.attrs.ETag != expectedETag {
		return GetResult{}, false
	}
	e.hitCount++
	if c.cfg.TTLMode == TTLIntervalFromAccess {
		e.cacheDate = time.Now()
	}
	if e.noObjCache {
		return GetResult{Hit: true, Negative: true}, true
	}
	return GetResult{Hit: true, Attrs: e.attrs, Force: e.isForce}, true
}

func (c *StatCache) expiredLocked(cacheDate time.Time) bool {
	return c.cfg.IsExpireTime && time.Since(cacheDate) > c.cfg.ExpireTime
}

// Add inserts or replaces the entry for path with the caller-supplied
// attributes. After the insert, if the cache holds more than CacheSize
// entries, an eviction pass trims it back to CacheSize.
func (c *StatCache) Add(path Path, attrs Attributes, forceDir bool, noTruncate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(path)
	e := &statEntry{
		attrs:     attrs,
		cacheDate: time.Now(),
		isForce:   forceDir,
	}
	c.stats[key] = e
	if noTruncate {
		c.changeNoTruncateLocked(key, true)
	}
	if len(c.stats) > c.cfg.CacheSize {
		c.truncateStatsLocked()
	}
}

// AddNegative records path as known-to-not-exist. A no-op unless negative
// caching is enabled, or when the path currently carries a force-dir entry
// (a directory can never be negatively cached, matching s3fs's
// AddNoObjectCache guard).
func (c *StatCache) AddNegative(path Path) {
	if !c.cfg.NegativeCache {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(path)
	if e, ok := c.stats[key]; ok && e.isForce {
		return
	}
	c.stats[key] = &statEntry{noObjCache: true, cacheDate: time.Now()}
	if len(c.stats) > c.cfg.CacheSize {
		c.truncateStatsLocked()
	}
}

// UpdateMeta mutates an existing entry's attributes in place without
// bumping cache_date, so a metadata-only refresh does not reset the TTL
// clock the way a full Add does.
func (c *StatCache) UpdateMeta(path Path, attrs Attributes) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.stats[string(path)]
	if !ok || e.noObjCache {
		return false
	}
	e.attrs = attrs
	return true
}

// Del removes path's entry (and any no-truncate bookkeeping it held).
func (c *StatCache) Del(path Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delStatLocked(string(path))
}

func (c *StatCache) delStatLocked(key string) {
	if e, ok := c.stats[key]; ok && e.noTruncate > 0 {
		c.removeAllNoTruncateLocked(key)
	}
	delete(c.stats, key)
}

// GetSymlink, AddSymlink, DelSymlink are the parallel operations for the
// symlink cache: same container, same lock, same TTL/size budget as the
// stat cache, per cache.h's design note.
func (c *StatCache) GetSymlink(path Path) (target string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(path)
	e, ok := c.symlinks[key]
	if !ok {
		return "", false
	}
	if c.expiredLocked(e.cacheDate) {
		delete(c.symlinks, key)
		return "", false
	}
	e.hitCount++
	if c.cfg.TTLMode == TTLIntervalFromAccess {
		e.cacheDate = time.Now()
	}
	return e.target, true
}

func (c *StatCache) AddSymlink(path Path, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.symlinks[string(path)] = &symlinkEntry{target: target, cacheDate: time.Now()}
	if len(c.symlinks) > c.cfg.CacheSize {
		c.truncateSymlinksLocked()
	}
}

func (c *StatCache) DelSymlink(path Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.symlinks, string(path))
}

// ChangeNoTruncateFlag increments or decrements path's no-truncate pin
// counter. A 0→positive transition inserts path into its parent's
// no-truncate list; a positive→0 transition removes it. The counter, not a
// bool, allows multiple concurrent holds (e.g. two open handles on the same
// not-yet-uploaded path) to compose correctly.
func (c *StatCache) ChangeNoTruncateFlag(path Path, pin bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeNoTruncateLocked(string(path), pin)
}

func (c *StatCache) changeNoTruncateLocked(key string, pin bool) {
	e, ok := c.stats[key]
	if !ok {
		e = &statEntry{cacheDate: time.Now()}
		c.stats[key] = e
	}
	parent, name := splitParent(key)
	if pin {
		if e.noTruncate == 0 {
			c.noTruncate.Set(noTruncateKey{parent: parent, name: name})
		}
		e.noTruncate++
	} else if e.noTruncate > 0 {
		e.noTruncate--
		if e.noTruncate == 0 {
			c.noTruncate.Delete(noTruncateKey{parent: parent, name: name})
		}
	}
}

func (c *StatCache) removeAllNoTruncateLocked(key string) {
	parent, name := splitParent(key)
	c.noTruncate.Delete(noTruncateKey{parent: parent, name: name})
}

// GetNoTruncateList returns the ordered child names pinned against
// eviction under parentDir, so readdir can surface not-yet-uploaded
// entries that a size-based eviction pass would otherwise have dropped.
func (c *StatCache) GetNoTruncateList(parentDir Path) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	pivot := noTruncateKey{parent: string(parentDir)}
	c.noTruncate.Ascend(pivot, func(k noTruncateKey) bool {
		if k.parent != string(parentDir) {
			return false
		}
		names = append(names, k.name)
		return true
	})
	return names
}

// GetStats returns hit-counter and size totals for the async cache-walk
// report.
func (c *StatCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Entries: len(c.stats), SymlinkEntries: len(c.symlinks)}
	for _, e := range c.stats {
		s.TotalHits += e.hitCount
	}
	for _, e := range c.symlinks {
		s.TotalHits += e.hitCount
	}
	return s
}

// EvictExcess runs the normal CacheSize-based truncation immediately
// rather than waiting for the next Add/AddSymlink to notice the cache
// is over size, for MemoryMonitor's out-of-cycle eviction pass under
// memory pressure.
func (c *StatCache) EvictExcess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.truncateStatsLocked()
	c.truncateSymlinksLocked()
}

// truncateStatsLocked removes entries oldest-cache_date-first until the
// stat cache is back at CacheSize, skipping any entry pinned by a
// no-truncate count or marked force-dir. Mirrors StatCache::TruncateCache.
func (c *StatCache) truncateStatsLocked() {
	over := len(c.stats) - c.cfg.CacheSize
	if over <= 0 {
		return
	}
	type candidate struct {
		key  string
		date time.Time
	}
	cands := make([]candidate, 0, len(c.stats))
	for k, e := range c.stats {
		if e.noTruncate > 0 || e.isForce {
			continue
		}
		cands = append(cands, candidate{k, e.cacheDate})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].date.Before(cands[j].date) })
	for i := 0; i < len(cands) && over > 0; i++ {
		c.delStatLocked(cands[i].key)
		over--
	}
}

func (c *StatCache) truncateSymlinksLocked() {
	over := len(c.symlinks) - c.cfg.CacheSize
	if over <= 0 {
		return
	}
	type candidate struct {
		key  string
		date time.Time
	}
	cands := make([]candidate, 0, len(c.symlinks))
	for k, e := range c.symlinks {
		cands = append(cands, candidate{k, e.cacheDate})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].date.Before(cands[j].date) })
	for i := 0; i < len(cands) && over > 0; i++ {
		delete(c.symlinks, cands[i].key)
		over--
	}
}

func splitParent(key string) (parent, name string) {
	idx := -1
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "/", key
	}
	if idx == 0 {
		return "/", key[1:]
	}
	return key[:idx], key[idx+1:]
}
