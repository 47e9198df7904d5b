// Copyright 2015 - 2019 Ka-Hing Cheung
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
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/soitun/s3fs-fuse/cfg"
)

var sessionLog = logrus.WithField("pkg", "session")

// FileSession pairs the dirty-range tracker and the multipart
// coordinator for one open handle with its local buffer file. Grounded
// on the teacher's FileHandle/Inode pairing (goofys.go's fileHandles
// map plus each Inode's own BufferList), generalized away from the
// inode/directory-entry machinery the bridge layer (out of scope) owns.
type FileSession struct {
	path      Path
	localFile *os.File
	pages     *PageList
	pfd       *PseudoFdInfo
	size      int64
}

// Engine is the composition root a bridge implementation drives. It
// owns exactly one StatCache, one HandleRegistry, and the open
// FileSessions, wiring PageList + UploadPlanner + PseudoFdInfo +
// Backend + StatCache together for the operations the bridge needs.
// Grounded on core/goofys.go's Goofys struct, trimmed to the write-path
// surface (no inode tree, no FUSE op dispatch).
type Engine struct {
	cfg     *cfg.Config
	backend Backend
	stat    *StatCache
	handles *HandleRegistry
	pool    *WorkerPool

	mu       sync.Mutex
	sessions map[HandleID]*FileSession
}

// NewEngine wires the composition root from an explicit Config and a
// concrete Backend (normally *S3Backend), per DESIGN.md's "explicit
// record, not ambient singleton" decision.
func NewEngine(c *cfg.Config, backend Backend) *Engine {
	return &Engine{
		cfg:     c,
		backend: backend,
		stat: NewStatCache(StatCacheConfig{
			CacheSize:     c.CacheSize,
			ExpireTime:    c.CacheTTL,
			IsExpireTime:  c.CacheTTL > 0,
			TTLMode:       ttlMode(c.TTLFromAccess),
			NegativeCache: c.NegativeCache,
		}),
		handles:  NewHandleRegistry(),
		pool:     NewWorkerPool(c.UploadParallelism),
		sessions: make(map[HandleID]*FileSession),
	}
}

func ttlMode(fromAccess bool) TTLMode {
	if fromAccess {
		return TTLIntervalFromAccess
	}
	return TTLAbsolute
}

// Open creates a new handle over path, backed by a fresh local buffer
// file, and starts tracking size bytes as clean. writable governs
// whether a later Write is permitted (mirrors PseudoFdInfo::Writable).
func (e *Engine) Open(ctx context.Context, path Path, writable bool, size int64) (HandleID, error) {
	local, err := os.CreateTemp(e.cfg.CachePath, "s3wpefs-*")
	if err != nil {
		return 0, ErrIO("open local buffer for %s: %v", path, err)
	}
	if size > 0 {
		if err := local.Truncate(size); err != nil {
			local.Close()
			os.Remove(local.Name())
			return 0, ErrIO("size local buffer for %s: %v", path, err)
		}
	}

	handle := e.handles.Acquire()
	sess := &FileSession{
		path:      path,
		localFile: local,
		pages:     NewPageList(size),
		pfd:       NewPseudoFdInfo(handle, path, local, writable, e.backend),
		size:      size,
	}

	e.mu.Lock()
	e.sessions[handle] = sess
	e.mu.Unlock()
	return handle, nil
}

func (e *Engine) session(handle HandleID) (*FileSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[handle]
	if !ok {
		return nil, ErrMisuse("handle %d is not open", handle)
	}
	return sess, nil
}

// Write stores data at offset in the local buffer, marks the range
// dirty, and — if the newly dirtied run has reached one full part —
// triggers a boundary-aligned flush so a long-running write doesn't
// accumulate an unbounded local buffer or an unbounded final multipart
// commit. Mirrors the write-then-maybe-flush shape of s3fs-fuse's
// FdEntity::Write.
func (e *Engine) Write(ctx context.Context, handle HandleID, data []byte, offset int64) error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	if !sess.pfd.Writable() {
		return ErrMisuse("handle %d is not open for writing", handle)
	}

	if _, err := sess.localFile.WriteAt(data, offset); err != nil {
		return ErrIO("write local buffer for %s: %v", sess.path, err)
	}

	end := offset + int64(len(data))
	if end > sess.size {
		sess.pages.Resize(end)
		sess.size = end
		e.stat.UpdateMeta(sess.path, Attributes{Size: end})
	}
	sess.pages.MarkDirty(offset, int64(len(data)))

	last, ok := sess.pages.GetLastUpdateUntreated()
	if ok && last.Size >= e.cfg.MaxPartSize {
		if err := sess.pfd.UploadBoundaryLastUntreatedArea(ctx, e.pool, sess.pages, nil, e.cfg.MaxPartSize); err != nil {
			return err
		}
	}
	return nil
}

// Flush runs the full UploadPlanner pass over whatever is still
// untreated, executes to_download/to_copy/to_upload, joins, and
// commits the multipart session if one is open. Safe to call with
// nothing untreated (no-op). Mirrors Inode.TryFlush's "drain and
// commit" shape, generalized away from the flusher goroutine pool
// (out of scope here; callers decide when to flush).
func (e *Engine) Flush(ctx context.Context, handle HandleID) error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}

	corrID := uuid.New().String()
	flog := sessionLog.WithFields(logrus.Fields{"path": sess.path, "corr": corrID})

	untreated := sess.pages.GetUntreated()
	uploaded := sess.pfd.UploadedSnapshot()
	if len(untreated) == 0 && len(uploaded) == 0 {
		flog.Debug("flush: nothing to do")
		return nil
	}

	// A file whose whole size never exceeded the minimum part size never
	// earns a multipart session: it is cheaper to PUT it whole every
	// flush than to open, part-upload, and commit a single-part multipart
	// upload for it. Per spec.md's MultipartSession lifecycle ("created
	// on first flush that exceeds threshold"); once a session exists
	// (IsUploading) or parts already exist, the file has crossed that
	// threshold before and stays on the multipart path.
	if !sess.pfd.IsUploading() && len(uploaded) == 0 && sess.size <= e.cfg.MinPartSize {
		headers := e.stat.Get(sess.path, false, "").Attrs.Header
		etag, err := e.backend.Put(ctx, sess.path, headers, sess.localFile, sess.size)
		if err != nil {
			flog.WithError(err).Warn("flush: put failed")
			return err
		}
		sess.pages.MarkUploaded(0, sess.size)
		flog.WithField("etag", etag).Debug("flush: put committed")
		return nil
	}

	plan := PlanUpload(untreated, uploaded, sess.size, e.cfg.MaxPartSize, e.cfg.MinPartSize, e.cfg.UseCopyUpload)

	if plan.WaitUploadComplete {
		if err := sess.pfd.WaitAllThreadsExit(ctx); err != nil && !IsCanceled(err) {
			return err
		}
	}

	if len(plan.ToUpload) == 0 && len(plan.ToCopy) == 0 {
		flog.Debug("flush: plan is empty")
		return nil
	}

	if !sess.pfd.IsUploading() {
		headers := e.stat.Get(sess.path, false, "").Attrs.Header
		if err := sess.pfd.PreMultipartUpload(ctx, headers); err != nil {
			return err
		}
	}

	for _, r := range plan.ToDownload {
		if err := e.fetchRangeIntoLocal(ctx, sess, r); err != nil {
			return err
		}
	}

	if len(plan.ToCopy) > 0 {
		if err := sess.pfd.ParallelMultipartUpload(ctx, e.pool, plan.ToCopy, true, sess.path); err != nil {
			return err
		}
	}
	if len(plan.ToUpload) > 0 {
		if err := sess.pfd.ParallelMultipartUpload(ctx, e.pool, plan.ToUpload, false, ""); err != nil {
			return err
		}
	}

	if err := sess.pfd.Commit(ctx); err != nil {
		flog.WithError(err).Warn("flush: commit failed")
		return err
	}

	for _, r := range append(append([]Range{}, rangesOf(plan.ToUpload)...), rangesOf(plan.ToCopy)...) {
		sess.pages.MarkUploaded(r.Start, r.Size)
	}
	flog.Debug("flush: committed")
	return nil
}

func rangesOf(parts []PlanPart) []Range {
	out := make([]Range, len(parts))
	for i, p := range parts {
		out[i] = Range{Start: p.Start, Size: p.Size}
	}
	return out
}

// fetchRangeIntoLocal executes one to_download instruction: read r back
// from the store into the local buffer so it can be re-uploaded whole
// as part of the same slab as the dirty bytes next to it.
func (e *Engine) fetchRangeIntoLocal(ctx context.Context, sess *FileSession, r Range) error {
	body, err := e.backend.Download(ctx, sess.path, r)
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := io.Copy(io.NewOffsetWriter(sess.localFile, r.Start), body); err != nil {
		return ErrIO("download %s [%d,%d): %v", sess.path, r.Start, r.Start+r.Size, err)
	}
	sess.pages.MarkLoaded(r.Start, r.Size)
	return nil
}

// Release closes the handle, releasing the local buffer. Per spec
// section 7, local resources are released regardless of upload
// outcome; callers that need the upload result must Flush first.
func (e *Engine) Release(handle HandleID) error {
	e.mu.Lock()
	sess, ok := e.sessions[handle]
	if ok {
		delete(e.sessions, handle)
	}
	e.mu.Unlock()
	if !ok {
		return ErrMisuse("handle %d is not open", handle)
	}

	sess.pfd.Close()
	sess.localFile.Close()
	os.Remove(sess.localFile.Name())
	e.handles.Release(handle)
	return nil
}

// Lookup consults StatCache first, falling back to Backend.Head on a
// miss and populating the cache with the result (or a negative entry on
// not-found), mirroring FdEntity's stat-then-HEAD fallback.
func (e *Engine) Lookup(ctx context.Context, path Path) (Attributes, error) {
	res := e.stat.Get(path, false, "")
	if res.Negative {
		return Attributes{}, ErrNotFound("%s", path)
	}
	if res.Hit {
		return res.Attrs, nil
	}

	attrs, err := e.backend.Head(ctx, path)
	if err != nil {
		if IsNotFound(err) {
			e.stat.AddNegative(path)
		}
		return Attributes{}, err
	}
	e.stat.Add(path, attrs, false, false)
	return attrs, nil
}

// Invalidate drops or refreshes the cached metadata for path after a
// local mutation, per the "invalidated on every mutation that changes
// an attribute" control-flow note.
func (e *Engine) Invalidate(path Path, attrs *Attributes) {
	if attrs == nil {
		e.stat.Del(path)
		return
	}
	if !e.stat.UpdateMeta(path, *attrs) {
		e.stat.Add(path, *attrs, false, false)
	}
}

// Recover lists in-flight multipart uploads via the backend and aborts
// any whose age exceeds Config.MultipartAge, reconciling sessions
// orphaned by a crash between Initiate and Complete/Abort. Grounded on
// backend_s3.go's MultipartExpire; called once at process start.
func (e *Engine) Recover(ctx context.Context) error {
	if e.cfg.NoExpireMultipart {
		return nil
	}
	uploads, err := e.backend.ListMultipartUploads(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, u := range uploads {
		age := now.Sub(u.Initiated)
		if age < e.cfg.MultipartAge {
			sessionLog.WithField("path", u.Path).Debug("recover: keeping recent multipart session")
			continue
		}
		sessionLog.WithFields(logrus.Fields{"path": u.Path, "upload_id": u.UploadID}).Info("recover: aborting stale multipart session")
		if err := e.backend.Abort(ctx, u.Path, u.UploadID); err != nil {
			sessionLog.WithError(err).Warn("recover: abort failed")
		}
	}
	return nil
}

// Pool exposes the WorkerPool so MemoryMonitor can shed its
// parallelism under memory pressure.
func (e *Engine) Pool() *WorkerPool { return e.pool }

// StatCache exposes the cache so Control's cache-walk report and
// MemoryMonitor's out-of-cycle eviction pass can reach it.
func (e *Engine) StatCache() *StatCache { return e.stat }

// OldestUntreated returns the handle whose session holds the untreated
// page with the oldest modification time, for MemoryMonitor's "flush the
// file that has waited longest" policy. Returns ok=false if nothing is
// outstanding.
func (e *Engine) OldestUntreated() (handle HandleID, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var oldest time.Time
	var oldestHandle HandleID
	found := false
	for h, sess := range e.sessions {
		pl := sess.pages
		pl.mu.Lock()
		pl.pages.Scan(func(p page) bool {
			if p.Modified && !p.Uploaded && (!found || p.touched.Before(oldest)) {
				oldest, oldestHandle, found = p.touched, h, true
			}
			return true
		})
		pl.mu.Unlock()
	}
	return oldestHandle, found
}
