// Copyright 2007 Takeshi Nakatani
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
	"context"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var pfLog = logrus.WithField("pkg", "pseudofd")

// filePart mirrors s3fs-fuse's filepart: a single slot in the session's
// ordered part list.
type filePart struct {
	start   int64
	size    int64
	partNum int
	isCopy  bool
	etag    *etagSlot
	inFlight bool
}

// PseudoFdInfo is the per-open-handle multipart upload coordinator.
// Ground truth: s3fs-fuse's PseudoFdInfo (fdcache_fdinfo.cpp). All
// session-mutating operations take a single per-handle lock; the lock is
// never held across an HTTP call — workers take it only to update counters
// and etag entities.
type PseudoFdInfo struct {
	mu sync.Mutex

	handle     HandleID
	localFile  *os.File // the physical local buffer file
	uploadFile *os.File // dup()'d descriptor workers pread from
	writable   bool

	uploadID   string
	uploadList []filePart
	arena      *etagArena

	instructCount int
	lastResult    error
	wg            sync.WaitGroup

	backend Backend
	path    Path
}

// NewPseudoFdInfo opens a coordinator over localFile for handle. writable
// must be true for O_WRONLY/O_RDWR opens, mirroring PseudoFdInfo::Writable.
func NewPseudoFdInfo(handle HandleID, path Path, localFile *os.File, writable bool, backend Backend) *PseudoFdInfo {
	return &PseudoFdInfo{
		handle:    handle,
		path:      path,
		localFile: localFile,
		writable:  writable,
		arena:     newEtagArena(),
		backend:   backend,
	}
}

func (p *PseudoFdInfo) Writable() bool { return p.writable }

// IsUploading reports whether a multipart session is currently open.
func (p *PseudoFdInfo) IsUploading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploadID != ""
}

// openUploadFdLocked lazily dup()s the local buffer's descriptor so
// workers can pread concurrently with the operation-delivery thread
// appending to the same file, satisfying the "positioned per-read"
// resource policy without additional locking.
func (p *PseudoFdInfo) openUploadFdLocked() error {
	if p.uploadFile != nil {
		return nil
	}
	if p.localFile == nil {
		return ErrMisuse("physical fd is not initialized")
	}
	fd, err := unix.Dup(int(p.localFile.Fd()))
	if err != nil {
		return ErrIO("dup upload fd: %v", err)
	}
	p.uploadFile = os.NewFile(uintptr(fd), p.localFile.Name())
	return nil
}

func (p *PseudoFdInfo) closeUploadFd() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploadFile != nil {
		p.uploadFile.Close()
		p.uploadFile = nil
	}
}

// PreMultipartUpload issues the store's initiate request and stores
// upload_id. Must be called exactly once per session before any part
// submission.
func (p *PseudoFdInfo) PreMultipartUpload(ctx context.Context, headers map[string]string) error {
	id, err := p.backend.Initiate(ctx, p.path, headers)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploadID = id
	p.uploadList = nil
	p.instructCount = 0
	p.lastResult = nil
	return nil
}

// AppendUploadPart appends a part whose start must equal the end of the
// previous part; part_number is assigned as list length + 1.
func (p *PseudoFdInfo) AppendUploadPart(start, size int64, isCopy bool) (*etagSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.uploadID == "" {
		return nil, ErrMisuse("multipart upload has not started yet")
	}
	var nextStart int64
	if n := len(p.uploadList); n > 0 {
		last := p.uploadList[n-1]
		nextStart = last.start + last.size
	}
	if start != nextStart {
		return nil, ErrInvariant("expected next part start %d, got %d", nextStart, start)
	}
	partNum := len(p.uploadList) + 1
	slot := p.arena.New(partNum)
	p.uploadList = append(p.uploadList, filePart{start: start, size: size, partNum: partNum, isCopy: isCopy, etag: slot})
	return slot, nil
}

// InsertUploadPart is the unordered insert the planner uses; the list is
// re-sorted by part_num after each insert.
func (p *PseudoFdInfo) InsertUploadPart(start, size int64, partNum int, isCopy bool) (*etagSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.uploadID == "" {
		return nil, ErrMisuse("multipart upload has not started yet")
	}
	if start < 0 || size <= 0 || partNum < 0 {
		return nil, ErrInvariant("insert upload part: bad parameters start=%d size=%d part_num=%d", start, size, partNum)
	}

	// A re-submitted part_num (the ToCancel case: a slab already
	// uploaded or in flight is superseded by a fresh write) replaces
	// the stale entry rather than sitting alongside it, since Commit
	// sends exactly one etag per part_num.
	kept := p.uploadList[:0]
	for _, fp := range p.uploadList {
		if fp.partNum != partNum {
			kept = append(kept, fp)
		}
	}
	p.uploadList = kept

	slot := p.arena.New(partNum)
	p.uploadList = append(p.uploadList, filePart{start: start, size: size, partNum: partNum, isCopy: isCopy, etag: slot})
	sort.Slice(p.uploadList, func(i, j int) bool { return p.uploadList[i].partNum < p.uploadList[j].partNum })
	return slot, nil
}

// UploadedSnapshot returns the planner's view of the session's current
// part list: boundary-aligned slabs already accepted or in flight. Used
// by both UploadBoundaryLastUntreatedArea and Engine.Flush to build the
// uploaded argument to PlanUpload/PlanBoundaryFlush.
func (p *PseudoFdInfo) UploadedSnapshot() []UploadedPart {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]UploadedPart, 0, len(p.uploadList))
	for _, fp := range p.uploadList {
		out = append(out, UploadedPart{Start: fp.start, Size: fp.size, PartNum: fp.partNum, InFlight: fp.etag.Get() == "" && !fp.isCopy})
	}
	return out
}

// ParallelMultipartUpload inserts each plan entry then dispatches a worker
// through pool that performs the HTTP upload/copy, fills the etag slot on
// success, and records the first failure into lastResult.
func (p *PseudoFdInfo) ParallelMultipartUpload(ctx context.Context, pool *WorkerPool, plan []PlanPart, isCopy bool, sourcePath Path) error {
	if len(plan) == 0 {
		return nil
	}
	p.mu.Lock()
	err := p.openUploadFdLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}

	for _, part := range plan {
		slot, err := p.InsertUploadPart(part.Start, part.Size, part.PartNum, isCopy)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.instructCount++
		p.mu.Unlock()
		p.wg.Add(1)

		part := part
		if err := pool.Submit(ctx, func() { p.runPartWorker(ctx, part, isCopy, sourcePath, slot) }); err != nil {
			p.mu.Lock()
			p.instructCount--
			p.mu.Unlock()
			p.wg.Done()
			return err
		}
	}
	return nil
}

// runPartWorker is the body dispatched onto the WorkerPool: it checks the
// cooperative cancellation checkpoint, performs the HTTP call, and signals
// completion by calling wg.Done() exactly once, the same WaitGroup
// WaitAllThreadsExit waits against — every path through this function,
// including the canceled checkpoint, must call it exactly once or a
// waiter blocks forever.
func (p *PseudoFdInfo) runPartWorker(ctx context.Context, part PlanPart, isCopy bool, sourcePath Path, slot *etagSlot) {
	defer p.wg.Done()

	p.mu.Lock()
	canceled := p.lastResult != nil && IsCanceled(p.lastResult)
	p.mu.Unlock()
	if canceled {
		p.mu.Lock()
		p.instructCount--
		p.mu.Unlock()
		return
	}

	var etag string
	var err error
	if isCopy {
		etag, err = p.backend.CopyPart(ctx, p.path, p.uploadID, part.PartNum, sourcePath, Range{part.Start, part.Size})
	} else {
		etag, err = p.backend.UploadPart(ctx, p.path, p.uploadID, part.PartNum, p.uploadFile, part.Start, part.Size)
	}

	p.mu.Lock()
	if err != nil {
		if p.lastResult == nil {
			p.lastResult = err
		}
	} else {
		slot.Set(etag)
	}
	p.instructCount--
	p.mu.Unlock()
}

// IsCanceled reports whether err is the cooperative-cancellation errno.
func IsCanceled(err error) bool {
	e, ok := err.(*Errno)
	return ok && e.Kind == KindCanceled
}

// WaitAllThreadsExit blocks until every worker dispatched since the last
// wait has called wg.Done() (see runPartWorker), mirroring
// wait_all_threads_exit's semaphore-acquire barrier without the pitfalls
// of a permit-counting semaphore: wg.Add happens-before the matching
// wg.Done for every dispatched part (ParallelMultipartUpload), and
// dispatch/wait never overlap for the same handle, so reuse across
// multiple flushes is safe. ctx cancellation unblocks the wait early
// without waiting for the WaitGroup itself, since sync.WaitGroup has no
// native cancellation.
func (p *PseudoFdInfo) WaitAllThreadsExit(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastResult
}

// CancelAllThreads sets lastResult to the cancellation errno if any worker
// is still outstanding (this is the advisory cancellation signal — a
// worker already past its checkpoint runs to completion) and then blocks
// until all workers have drained.
func (p *PseudoFdInfo) CancelAllThreads(ctx context.Context) error {
	p.mu.Lock()
	needCancel := p.instructCount > 0
	if needCancel {
		pfLog.Info("canceling outstanding part uploads")
		if p.lastResult == nil {
			p.lastResult = ErrCanceled("superseded by a later write")
		}
	}
	p.mu.Unlock()

	if needCancel {
		return p.WaitAllThreadsExit(ctx)
	}
	return nil
}

// UploadBoundaryLastUntreatedArea is the hot-path partial flush: it reads
// the last untreated run from pl, aligns it to maxPartSize, plans the
// slab(s) to upload, initiates the session if not active, submits parts in
// parallel, and restores the residual leading/trailing fragments to
// untreated state in pl.
func (p *PseudoFdInfo) UploadBoundaryLastUntreatedArea(ctx context.Context, pool *WorkerPool, pl *PageList, headers map[string]string, maxPartSize int64) error {
	last, ok := pl.GetLastUpdateUntreated()
	if !ok {
		return nil
	}

	// Align the run's start up to the next part boundary and keep only
	// whole parts after it; the bytes outside that slab stay untreated.
	alignedStart := ((last.Start + maxPartSize - 1) / maxPartSize) * maxPartSize
	consumed := ((last.Start + last.Size - alignedStart) / maxPartSize) * maxPartSize
	if consumed <= 0 {
		return nil
	}

	toUpload, toCancel := PlanBoundaryFlush(alignedStart, consumed, p.UploadedSnapshot(), maxPartSize)
	if len(toUpload) == 0 {
		return nil
	}

	for _, c := range toCancel {
		pfLog.WithField("part", c.PartNum).Debug("canceling uploaded part absorbed by new untreated area")
	}

	if !p.IsUploading() {
		if err := p.PreMultipartUpload(ctx, headers); err != nil {
			return err
		}
	}

	if err := p.ParallelMultipartUpload(ctx, pool, toUpload, false, ""); err != nil {
		return err
	}

	frontStart, frontSize := last.Start, alignedStart-last.Start
	behindStart := alignedStart + consumed
	behindSize := (last.Start + last.Size) - behindStart
	pl.MarkUploaded(alignedStart, consumed)
	pl.ReplaceLastUpdateUntreated(frontStart, frontSize, behindStart, behindSize)
	return nil
}

// Commit joins outstanding workers and, if none failed, issues the
// store's complete request with the ordered etag list; on failure it
// issues abort instead and returns the original error.
func (p *PseudoFdInfo) Commit(ctx context.Context) error {
	err := p.WaitAllThreadsExit(ctx)
	if err != nil {
		_ = p.backend.Abort(ctx, p.path, p.uploadID)
		return err
	}

	p.mu.Lock()
	parts := append([]filePart(nil), p.uploadList...)
	uploadID := p.uploadID
	p.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].partNum < parts[j].partNum })
	etags := make([]PartETag, 0, len(parts))
	for _, part := range parts {
		etags = append(etags, PartETag{PartNum: part.partNum, ETag: part.etag.Get()})
	}
	return p.backend.Complete(ctx, p.path, uploadID, etags)
}

// Abort joins outstanding workers then issues the store's abort request.
func (p *PseudoFdInfo) Abort(ctx context.Context) error {
	_ = p.CancelAllThreads(ctx)
	p.mu.Lock()
	uploadID := p.uploadID
	p.mu.Unlock()
	if uploadID == "" {
		return nil
	}
	return p.backend.Abort(ctx, p.path, uploadID)
}

// Close releases local resources. Per spec section 7, a close always
// releases local resources regardless of upload outcome.
func (p *PseudoFdInfo) Close() {
	p.closeUploadFd()
}
