// Copyright 2007 Randy Rizun
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

// MaxCopyPartSize is the store-imposed ceiling on a single server-side copy
// part (5 GiB for S3).
const MaxCopyPartSize int64 = 5 * 1024 * 1024 * 1024

// PlanPart is a planned byte range tagged with the multipart part number it
// will occupy.
type PlanPart struct {
	Start   int64
	Size    int64
	PartNum int
}

// UploadedPart is the planner's view of an existing part in the current
// session: a boundary-aligned slab already accepted by the store (or still
// in flight).
type UploadedPart struct {
	Start    int64
	Size     int64
	PartNum  int
	InFlight bool
}

// Plan is the pure output of UploadPlanner: four ordered lists plus the
// join requirement.
type Plan struct {
	ToUpload           []PlanPart
	ToCopy             []PlanPart
	ToDownload         []Range
	ToCancel           []UploadedPart
	WaitUploadComplete bool
}

// PlanUpload is the pure UploadPlanner of spec 4.3. It takes the untreated
// (dirty-not-yet-uploaded) ranges, the part list already accepted for this
// session, the current file size, the configured max part size, and
// whether server-side copy is available, and produces to_upload/to_copy/
// to_download/to_cancel. Ported from s3fs-fuse's
// PseudoFdInfo::ExtractUploadPartsFromAllArea, preserving its slab-walk
// structure and the copy-unification special case.
//
// minPartSize is the store's minimum part size (used only to bound the
// copy-unification gap absorption, matching the C++ MIN_MULTIPART_SIZE
// constant).
func PlanUpload(untreated []Range, uploaded []UploadedPart, fileSize, maxPartSize, minPartSize int64, useCopy bool) Plan {
	var plan Plan

	dup := append([]Range(nil), untreated...)
	uIdx := 0 // index into uploaded, walked monotonically like uploaded_iter

	for curStart, curSize := int64(0), int64(0); curStart < fileSize; curStart += curSize {
		if curStart+maxPartSize <= fileSize {
			curSize = maxPartSize
		} else {
			curSize = fileSize - curStart
		}
		curEnd := curStart + curSize
		partNum := int(curStart/maxPartSize) + 1

		// Extract untreated ranges overlapping [curStart, curEnd), consuming
		// fully-contained ones and clipping a partially-overlapping tail
		// back into dup for the next iteration.
		var curUntreated []Range
		for len(dup) > 0 {
			d := dup[0]
			if d.Start >= curEnd {
				break
			}
			if d.Start+d.Size <= curStart {
				dup = dup[1:]
				continue
			}
			start := d.Start
			size := d.Size
			if start < curStart {
				size -= curStart - start
				start = curStart
			}
			if start+size <= curEnd {
				curUntreated = append(curUntreated, Range{start, size})
				dup = dup[1:]
			} else {
				clipped := curEnd - start
				curUntreated = append(curUntreated, Range{start, clipped})
				dup[0] = Range{Start: start + clipped, Size: (d.Start + d.Size) - (start + clipped)}
				break
			}
		}

		// Find the (at most one) uploaded part overlapping this slab. The
		// uploaded list is assumed boundary-aligned so overlap implies
		// exact containment of the slab.
		var overlap *UploadedPart
		for uIdx < len(uploaded) {
			up := uploaded[uIdx]
			if curStart < up.Start+up.Size && up.Start < curEnd {
				overlap = &up
				uIdx++
				break
			}
			if curEnd-1 < up.Start {
				break
			}
			uIdx++
		}

		if len(curUntreated) == 0 {
			if overlap != nil {
				continue // already uploaded, nothing to do
			}
			if useCopy {
				plan.ToCopy = append(plan.ToCopy, PlanPart{curStart, curSize, partNum})
			} else {
				plan.ToDownload = append(plan.ToDownload, Range{curStart, curSize})
				plan.ToUpload = append(plan.ToUpload, PlanPart{curStart, curSize, partNum})
			}
			continue
		}

		if overlap != nil {
			if overlap.InFlight {
				plan.WaitUploadComplete = true
			}
			plan.ToCancel = append(plan.ToCancel, *overlap)
			plan.ToUpload = append(plan.ToUpload, PlanPart{curStart, curSize, partNum})
			continue
		}

		// No uploaded-part overlap: everything outside the untreated
		// sub-ranges within this slab must be downloaded, except a leading
		// gap may be absorbed into the immediately preceding to_copy entry
		// if contiguous and within the size bounds.
		tmpStart, tmpSize := curStart, curSize
		changedStart, changedSize := curStart, curSize
		firstArea := true
		for _, ut := range curUntreated {
			if tmpStart < ut.Start {
				absorbed := false
				if firstArea && useCopy && len(plan.ToCopy) > 0 {
					last := &plan.ToCopy[len(plan.ToCopy)-1]
					gap := ut.Start - tmpStart
					if last.Start+last.Size == tmpStart &&
						last.Size+gap <= MaxCopyPartSize &&
						(tmpStart+tmpSize)-ut.Start >= minPartSize {
						last.Size += gap
						changedSize -= ut.Start - changedStart
						changedStart = ut.Start
						absorbed = true
					}
				}
				if !absorbed {
					plan.ToDownload = append(plan.ToDownload, Range{tmpStart, ut.Start - tmpStart})
				}
			}
			tmpSize = (tmpStart + tmpSize) - (ut.Start + ut.Size)
			tmpStart = ut.Start + ut.Size
			firstArea = false
		}
		if tmpSize > 0 {
			plan.ToDownload = append(plan.ToDownload, Range{tmpStart, tmpSize})
		}
		plan.ToUpload = append(plan.ToUpload, PlanPart{changedStart, changedSize, partNum})
	}

	return plan
}

// PlanBoundaryFlush is the planner used by the hot-path partial flush
// (upload_boundary_last_untreated): it aligns a single untreated run to
// maxPartSize and emits whole aligned slabs, returning the cancel list for
// any already-uploaded slabs it had to reclaim. No entry is produced if the
// aligned run is smaller than one full slab. Ported from
// PseudoFdInfo::ExtractUploadPartsFromUntreatedArea.
func PlanBoundaryFlush(untreatedStart, untreatedSize int64, uploaded []UploadedPart, maxPartSize int64) (toUpload []PlanPart, toCancel []UploadedPart) {
	if untreatedStart < 0 || untreatedSize <= 0 {
		return nil, nil
	}

	alignedStart := (untreatedStart / maxPartSize) * maxPartSize
	alignedSize := untreatedSize + (untreatedStart - alignedStart)

	if alignedSize < maxPartSize {
		return nil, nil
	}

	for _, up := range uploaded {
		if up.Start+up.Size-1 < alignedStart || alignedStart+alignedSize-1 < up.Start {
			continue
		}
		if alignedStart+alignedSize-1 < up.Start+up.Size-1 {
			alignedSize += (up.Start + up.Size) - (alignedStart + alignedSize)
		}
		toCancel = append(toCancel, up)
	}

	for maxPartSize <= alignedSize {
		partNum := int(alignedStart/maxPartSize) + 1
		toUpload = append(toUpload, PlanPart{alignedStart, maxPartSize, partNum})
		alignedStart += maxPartSize
		alignedSize -= maxPartSize
	}

	return toUpload, toCancel
}
