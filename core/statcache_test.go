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
	"time"

	. "gopkg.in/check.v1"
)

type StatCacheTest struct{}

var _ = Suite(&StatCacheTest{})

func (s *StatCacheTest) TestAddGet(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10})
	c.Add("/a", Attributes{Size: 5, ETag: "e1"}, false, false)

	r := c.Get("/a", true, "")
	t.Assert(r.Hit, Equals, true)
	t.Assert(r.Negative, Equals, false)
	t.Assert(r.Attrs.Size, Equals, int64(5))
}

func (s *StatCacheTest) TestOvercheckTrailingSlash(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10})
	c.Add("/dir/", Attributes{Mode: 0040755}, true, false)

	r := c.Get("/dir", true, "")
	t.Assert(r.Hit, Equals, true)
	t.Assert(r.Force, Equals, true)

	r2 := c.Get("/dir", false, "")
	t.Assert(r2.Hit, Equals, false)
}

func (s *StatCacheTest) TestEtagMismatchIsMiss(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10})
	c.Add("/a", Attributes{ETag: "e1"}, false, false)

	r := c.Get("/a", false, "e2")
	t.Assert(r.Hit, Equals, false)
}

func (s *StatCacheTest) TestNegativeCacheDisabledIsNoop(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10, NegativeCache: false})
	c.AddNegative("/missing")

	r := c.Get("/missing", false, "")
	t.Assert(r.Hit, Equals, false)
}

func (s *StatCacheTest) TestNegativeCacheHit(t *C) {
	// S6: StatCache negative caching scenario.
	c := NewStatCache(StatCacheConfig{CacheSize: 10, NegativeCache: true})

	r := c.Get("/missing", false, "")
	t.Assert(r.Hit, Equals, false)

	c.AddNegative("/missing")

	r2 := c.Get("/missing", false, "")
	t.Assert(r2.Hit, Equals, true)
	t.Assert(r2.Negative, Equals, true)
}

func (s *StatCacheTest) TestForceDirBlocksNegative(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10, NegativeCache: true})
	c.Add("/dir", Attributes{}, true, false)
	c.AddNegative("/dir")

	r := c.Get("/dir", false, "")
	t.Assert(r.Hit, Equals, true)
	t.Assert(r.Negative, Equals, false)
}

func (s *StatCacheTest) TestDelRemovesEntryPermanently(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10})
	c.Add("/a", Attributes{Size: 1}, false, false)
	c.Del("/a")

	r := c.Get("/a", false, "")
	t.Assert(r.Hit, Equals, false)
}

func (s *StatCacheTest) TestExpiryByTTL(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10, IsExpireTime: true, ExpireTime: time.Millisecond})
	c.Add("/a", Attributes{Size: 1}, false, false)
	time.Sleep(5 * time.Millisecond)

	r := c.Get("/a", false, "")
	t.Assert(r.Hit, Equals, false)

	// invariant 4: no entry is resurrected after its TTL has elapsed and it
	// has been evicted by a subsequent Get.
	r2 := c.Get("/a", false, "")
	t.Assert(r2.Hit, Equals, false)
}

func (s *StatCacheTest) TestEvictionSkipsNoTruncatePins(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 2})
	c.Add("/pinned", Attributes{}, false, true)
	c.Add("/b", Attributes{}, false, false)
	c.Add("/c", Attributes{}, false, false)

	t.Assert(c.Get("/pinned", false, "").Hit, Equals, true)
}

func (s *StatCacheTest) TestNoTruncateListOrdering(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10})
	c.ChangeNoTruncateFlag("/dir/b", true)
	c.ChangeNoTruncateFlag("/dir/a", true)
	c.ChangeNoTruncateFlag("/dir/c", true)

	names := c.GetNoTruncateList("/dir")
	t.Assert(names, DeepEquals, []string{"a", "b", "c"})

	c.ChangeNoTruncateFlag("/dir/b", false)
	names = c.GetNoTruncateList("/dir")
	t.Assert(names, DeepEquals, []string{"a", "c"})
}

func (s *StatCacheTest) TestSymlinkCache(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10})
	c.AddSymlink("/link", "/target")

	target, hit := c.GetSymlink("/link")
	t.Assert(hit, Equals, true)
	t.Assert(target, Equals, "/target")

	c.DelSymlink("/link")
	_, hit2 := c.GetSymlink("/link")
	t.Assert(hit2, Equals, false)
}

func (s *StatCacheTest) TestUpdateMetaDoesNotResetTTL(t *C) {
	c := NewStatCache(StatCacheConfig{CacheSize: 10, IsExpireTime: true, ExpireTime: time.Hour})
	c.Add("/a", Attributes{Size: 1}, false, false)
	ok := c.UpdateMeta("/a", Attributes{Size: 2})
	t.Assert(ok, Equals, true)

	r := c.Get("/a", false, "")
	t.Assert(r.Attrs.Size, Equals, int64(2))
}
