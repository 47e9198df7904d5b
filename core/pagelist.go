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
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// page is a contiguous byte range [Start, Start+Size) with the three flags
// the spec tracks. Pages in a PageList never overlap; adjacent pages with
// identical flags are merged on insertion.
type page struct {
	Start    int64
	Size     int64
	Loaded   bool
	Modified bool
	Uploaded bool
	// touched records when Modified was most recently set, so
	// GetLastUpdateUntreated can find "the most recently dirtied
	// contiguous run" even though pages merge and split.
	touched time.Time
}

func (p page) end() int64 { return p.Start + p.Size }

func (p page) sameFlags(o page) bool {
	return p.Loaded == o.Loaded && p.Modified == o.Modified && p.Uploaded == o.Uploaded
}

func pageLess(a, b page) bool { return a.Start < b.Start }

// PageList is the per-open-file dirty-range tracker. Grounded on s3fs-fuse's
// Page/PageList concept (simpler than a full buffer-cache buddy allocator):
// pages carry no bytes, only flags over an offset range, since the actual
// bytes live in the handle's local buffer file.
//
// Invariant: after any operation, pages are non-overlapping, contiguous
// across [0, Size), and no two adjacent pages share an identical flag
// triple.
type PageList struct {
	mu    sync.Mutex
	size  int64
	pages *btree.BTreeG[page]
}

func NewPageList(size int64) *PageList {
	pl := &PageList{size: size, pages: btree.NewBTreeG(pageLess)}
	if size > 0 {
		pl.pages.Set(page{Start: 0, Size: size})
	}
	return pl
}

// Resize grows or shrinks the tracked extent, as on truncate/extend. New
// space beyond the old size starts with no flags set (unloaded, clean).
func (pl *PageList) Resize(newSize int64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if newSize == pl.size {
		return
	}
	if newSize < pl.size {
		pl.removeRangeLocked(newSize, pl.size-newSize)
		pl.size = newSize
		return
	}
	grown := newSize - pl.size
	pl.insertLocked(page{Start: pl.size, Size: grown})
	pl.size = newSize
}

func (pl *PageList) Size() int64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.size
}

func (pl *PageList) MarkDirty(start, size int64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.setFlagLocked(start, size, func(p *page) { p.Modified = true; p.Uploaded = false; p.touched = time.Now() })
}

func (pl *PageList) MarkLoaded(start, size int64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.setFlagLocked(start, size, func(p *page) { p.Loaded = true })
}

func (pl *PageList) MarkUploaded(start, size int64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.setFlagLocked(start, size, func(p *page) { p.Uploaded = true; p.Modified = false })
}

// Range is a (start,size) pair returned by the query operations.
type Range struct {
	Start int64
	Size  int64
}

// GetUntreated enumerates all pages with Modified && !Uploaded, coalescing
// adjacent matches into single ranges ordered by start offset.
func (pl *PageList) GetUntreated() []Range {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	var out []Range
	pl.pages.Scan(func(p page) bool {
		if p.Modified && !p.Uploaded {
			if n := len(out); n > 0 && out[n-1].Start+out[n-1].Size == p.Start {
				out[n-1].Size += p.Size
			} else {
				out = append(out, Range{p.Start, p.Size})
			}
		}
		return true
	})
	return out
}

// GetLastUpdateUntreated returns the most recently dirtied contiguous
// untreated run, used to drive boundary-aligned flushes while writes
// continue. Returns ok=false if there is no untreated data.
func (pl *PageList) GetLastUpdateUntreated() (r Range, ok bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	var bestTime time.Time
	var bestStart, bestEnd int64
	var have bool

	// Coalesce first, then pick the run containing the most recently
	// touched page, matching "most recently dirtied contiguous run" rather
	// than "page with the newest timestamp" (a run can span pages touched
	// at different times by adjacent writes).
	var curStart, curEnd int64
	var curTime time.Time
	var inRun bool

	flush := func() {
		if !inRun {
			return
		}
		if !have || curTime.After(bestTime) {
			bestTime = curTime
			bestStart, bestEnd = curStart, curEnd
			have = true
		}
		inRun = false
	}

	pl.pages.Scan(func(p page) bool {
		if p.Modified && !p.Uploaded {
			if inRun && curEnd == p.Start {
				curEnd = p.end()
				if p.touched.After(curTime) {
					curTime = p.touched
				}
			} else {
				flush()
				curStart, curEnd, curTime, inRun = p.Start, p.end(), p.touched, true
			}
		} else {
			flush()
		}
		return true
	})
	flush()

	if !have {
		return Range{}, false
	}
	return Range{Start: bestStart, Size: bestEnd - bestStart}, true
}

// ReplaceLastUpdateUntreated re-marks the leading and trailing fragments
// left over after a boundary-aligned slab was extracted from the last
// untreated run, returning them to untreated (Modified, !Uploaded) state.
// Either fragment may have Size == 0, meaning "nothing to restore".
func (pl *PageList) ReplaceLastUpdateUntreated(frontStart, frontSize, behindStart, behindSize int64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	now := time.Now()
	if frontSize > 0 {
		pl.setFlagLocked(frontStart, frontSize, func(p *page) { p.Modified = true; p.Uploaded = false; p.touched = now })
	}
	if behindSize > 0 {
		pl.setFlagLocked(behindStart, behindSize, func(p *page) { p.Modified = true; p.Uploaded = false; p.touched = now })
	}
}

// setFlagLocked applies mutate to every byte in [start, start+size),
// splitting boundary pages as needed, then re-coalesces adjacent pages
// with identical flag triples.
func (pl *PageList) setFlagLocked(start, size int64, mutate func(*page)) {
	if size <= 0 {
		return
	}
	pl.splitAtLocked(start)
	pl.splitAtLocked(start + size)

	var touched []page
	pl.pages.Scan(func(p page) bool {
		if p.Start >= start && p.end() <= start+size {
			touched = append(touched, p)
		}
		return true
	})
	for _, p := range touched {
		mutate(&p)
		pl.pages.Set(p)
	}
	pl.coalesceLocked()
}

// splitAtLocked ensures offset is a page boundary, splitting the page that
// straddles it (if any) into two pages with identical flags.
func (pl *PageList) splitAtLocked(offset int64) {
	if offset <= 0 || offset >= pl.size {
		return
	}
	var found page
	var ok bool
	pl.pages.Descend(page{Start: offset}, func(p page) bool {
		if p.Start <= offset && offset < p.end() {
			found, ok = p, true
		}
		return false
	})
	if !ok || found.Start == offset {
		return
	}
	left := found
	left.Size = offset - found.Start
	right := found
	right.Start = offset
	right.Size = found.end() - offset
	pl.pages.Set(left)
	pl.pages.Set(right)
}

func (pl *PageList) insertLocked(p page) {
	pl.pages.Set(p)
	pl.coalesceLocked()
}

func (pl *PageList) removeRangeLocked(start, size int64) {
	pl.splitAtLocked(start)
	pl.splitAtLocked(start + size)
	var toDelete []page
	pl.pages.Scan(func(p page) bool {
		if p.Start >= start && p.end() <= start+size {
			toDelete = append(toDelete, p)
		}
		return true
	})
	for _, p := range toDelete {
		pl.pages.Delete(p)
	}
}

func (pl *PageList) coalesceLocked() {
	var all []page
	pl.pages.Scan(func(p page) bool {
		all = append(all, p)
		return true
	})
	merged := make([]page, 0, len(all))
	for _, p := range all {
		if n := len(merged); n > 0 && merged[n-1].end() == p.Start && merged[n-1].sameFlags(p) {
			merged[n-1].Size += p.Size
			if p.touched.After(merged[n-1].touched) {
				merged[n-1].touched = p.touched
			}
		} else {
			merged = append(merged, p)
		}
	}
	pl.pages.Clear()
	for _, p := range merged {
		pl.pages.Set(p)
	}
}
