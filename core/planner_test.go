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

	. "gopkg.in/check.v1"
)

type PlannerTest struct{}

var _ = Suite(&PlannerTest{})

// S2: boundary-aligned streaming flush.
func (s *PlannerTest) TestBoundaryAlignedStreamingFlush(t *C) {
	toUpload, toCancel := PlanBoundaryFlush(0, 25, nil, 10)
	t.Assert(toCancel, IsNil)
	t.Assert(toUpload, DeepEquals, []PlanPart{{0, 10, 1}, {10, 10, 2}})
}

func (s *PlannerTest) TestBoundaryFlushNothingWhenBelowOneSlab(t *C) {
	toUpload, toCancel := PlanBoundaryFlush(20, 5, nil, 10)
	t.Assert(toUpload, IsNil)
	t.Assert(toCancel, IsNil)
}

func (s *PlannerTest) TestBoundaryFlushThirdPart(t *C) {
	toUpload, _ := PlanBoundaryFlush(20, 10, nil, 10)
	t.Assert(toUpload, DeepEquals, []PlanPart{{20, 10, 3}})
}

// S3: overwrite triggers cancel.
func (s *PlannerTest) TestOverwriteTriggersCancel(t *C) {
	uploaded := []UploadedPart{{Start: 0, Size: 10, PartNum: 1, InFlight: true}}
	plan := PlanUpload([]Range{{5, 3}}, uploaded, 10, 10, 5, false)

	t.Assert(plan.ToCancel, DeepEquals, []UploadedPart{{Start: 0, Size: 10, PartNum: 1, InFlight: true}})
	t.Assert(plan.WaitUploadComplete, Equals, true)
	t.Assert(plan.ToUpload, DeepEquals, []PlanPart{{0, 10, 1}})
}

// S4: copy reuse.
func (s *PlannerTest) TestCopyReuse(t *C) {
	// Remote object is 30 bytes; local write touched [10,15); max part 10.
	plan := PlanUpload([]Range{{10, 5}}, nil, 30, 10, 5, true)

	t.Assert(plan.ToCopy, DeepEquals, []PlanPart{{0, 10, 1}, {20, 10, 3}})
	t.Assert(plan.ToUpload, DeepEquals, []PlanPart{{10, 10, 2}})
	// the trailing gap [15,20) within slab 2 has nothing to absorb into
	// (absorption only reaches backward into an adjacent copy entry), so it
	// is downloaded rather than copied.
	t.Assert(plan.ToDownload, DeepEquals, []Range{{15, 5}})
}

func (s *PlannerTest) TestNoUseCopyDownloadsGaps(t *C) {
	plan := PlanUpload([]Range{{10, 5}}, nil, 30, 10, 5, false)

	t.Assert(plan.ToCopy, IsNil)
	t.Assert(plan.ToDownload, DeepEquals, []Range{{0, 10}, {15, 5}, {20, 10}})
	t.Assert(plan.ToUpload, DeepEquals, []PlanPart{{0, 10, 1}, {10, 10, 2}, {20, 10, 3}})
}

// invariant 2: concatenating to_upload ∪ to_copy ∪ already-uploaded in
// part-number order equals [0,size) exactly once.
func (s *PlannerTest) TestInvariantFullCoverage(t *C) {
	plan := PlanUpload([]Range{{10, 5}}, nil, 30, 10, 5, true)

	type part struct {
		Start, Size int64
		PartNum     int
	}
	var all []part
	for _, p := range plan.ToUpload {
		all = append(all, part{p.Start, p.Size, p.PartNum})
	}
	for _, p := range plan.ToCopy {
		all = append(all, part{p.Start, p.Size, p.PartNum})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PartNum < all[j].PartNum })

	var cursor int64
	for _, p := range all {
		t.Assert(p.Start, Equals, cursor)
		cursor += p.Size
	}
	t.Assert(cursor, Equals, int64(30))
}

// invariant 3, upper bound: every to_upload/to_copy entry has size <= max.
func (s *PlannerTest) TestInvariantPartSizeBounds(t *C) {
	plan := PlanUpload([]Range{{3, 4}, {17, 1}}, nil, 25, 10, 5, false)

	check := func(parts []PlanPart) {
		for _, p := range parts {
			t.Assert(p.Size <= 10, Equals, true)
		}
	}
	check(plan.ToUpload)
	check(plan.ToCopy)
}

func (s *PlannerTest) TestAlreadyUploadedSlabEmitsNothing(t *C) {
	uploaded := []UploadedPart{{Start: 0, Size: 10, PartNum: 1}}
	plan := PlanUpload(nil, uploaded, 10, 10, 5, false)

	t.Assert(plan.ToUpload, IsNil)
	t.Assert(plan.ToCopy, IsNil)
	t.Assert(plan.ToCancel, IsNil)
	t.Assert(plan.ToDownload, IsNil)
}
