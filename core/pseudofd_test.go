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
	"fmt"
	"io"
	"os"
	"sync"

	. "gopkg.in/check.v1"
)

// fakeBackend is an in-memory stand-in for Backend, recording calls so
// tests can assert on part counts and ordering without any network
// dependency. Grounded on the teacher's goofys_test.go convention of a
// minimal fake backing store for unit-level coverage.
type fakeBackend struct {
	mu sync.Mutex

	uploadIDSeq int
	uploaded    []PartETag
	copied      []PartETag
	completed   bool
	aborted     bool

	puts []int64

	failUpload bool
}

func newFakeBackend() *fakeBackend { return &fakeBackend{} }

func (f *fakeBackend) Head(ctx context.Context, path Path) (Attributes, error) {
	return Attributes{}, ErrNotFound("%s", path)
}

func (f *fakeBackend) Download(ctx context.Context, path Path, r Range) (io.ReadCloser, error) {
	return io.NopCloser(bytesReaderOfSize(r.Size)), nil
}

func (f *fakeBackend) Put(ctx context.Context, path Path, headers map[string]string, src *os.File, size int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, size)
	return "put-etag", nil
}

func (f *fakeBackend) Initiate(ctx context.Context, path Path, headers map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadIDSeq++
	return fmt.Sprintf("upload-%d", f.uploadIDSeq), nil
}

func (f *fakeBackend) UploadPart(ctx context.Context, path Path, uploadID string, partNum int, src *os.File, start, size int64) (string, error) {
	if f.failUpload {
		return "", ErrIO("injected failure")
	}
	etag := fmt.Sprintf("etag-%d", partNum)
	f.mu.Lock()
	f.uploaded = append(f.uploaded, PartETag{PartNum: partNum, ETag: etag})
	f.mu.Unlock()
	return etag, nil
}

func (f *fakeBackend) CopyPart(ctx context.Context, path Path, uploadID string, partNum int, sourcePath Path, r Range) (string, error) {
	etag := fmt.Sprintf("copy-etag-%d", partNum)
	f.mu.Lock()
	f.copied = append(f.copied, PartETag{PartNum: partNum, ETag: etag})
	f.mu.Unlock()
	return etag, nil
}

func (f *fakeBackend) Complete(ctx context.Context, path Path, uploadID string, etags []PartETag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	return nil
}

func (f *fakeBackend) Abort(ctx context.Context, path Path, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return nil
}

func (f *fakeBackend) ListMultipartUploads(ctx context.Context) ([]MultipartUploadInfo, error) {
	return nil, nil
}

func bytesReaderOfSize(n int64) io.Reader {
	return io.LimitReader(zeroReader{}, n)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func newTestLocalFile(t *C, size int) *os.File {
	f, err := os.CreateTemp("", "pseudofd-test-")
	t.Assert(err, IsNil)
	if size > 0 {
		_, err = f.Write(make([]byte, size))
		t.Assert(err, IsNil)
	}
	return f
}

type PseudoFdInfoTest struct{}

var _ = Suite(&PseudoFdInfoTest{})

func (s *PseudoFdInfoTest) TestAppendUploadPartRequiresSession(t *C) {
	local := newTestLocalFile(t, 10)
	defer os.Remove(local.Name())
	p := NewPseudoFdInfo(HandleID(1), Path("/f"), local, true, newFakeBackend())

	_, err := p.AppendUploadPart(0, 5, false)
	t.Assert(err, NotNil)
}

func (s *PseudoFdInfoTest) TestAppendUploadPartEnforcesContiguity(t *C) {
	local := newTestLocalFile(t, 20)
	defer os.Remove(local.Name())
	p := NewPseudoFdInfo(HandleID(1), Path("/f"), local, true, newFakeBackend())

	t.Assert(p.PreMultipartUpload(context.Background(), nil), IsNil)
	_, err := p.AppendUploadPart(0, 10, false)
	t.Assert(err, IsNil)

	_, err = p.AppendUploadPart(15, 5, false)
	t.Assert(err, NotNil)

	_, err = p.AppendUploadPart(10, 10, false)
	t.Assert(err, IsNil)
}

func (s *PseudoFdInfoTest) TestParallelMultipartUploadThenCommit(t *C) {
	local := newTestLocalFile(t, 30)
	defer os.Remove(local.Name())
	backend := newFakeBackend()
	p := NewPseudoFdInfo(HandleID(1), Path("/f"), local, true, backend)
	pool := NewWorkerPool(4)

	t.Assert(p.PreMultipartUpload(context.Background(), nil), IsNil)
	plan := []PlanPart{
		{Start: 0, Size: 10, PartNum: 1},
		{Start: 10, Size: 10, PartNum: 2},
		{Start: 20, Size: 10, PartNum: 3},
	}
	t.Assert(p.ParallelMultipartUpload(context.Background(), pool, plan, false, ""), IsNil)
	t.Assert(p.WaitAllThreadsExit(context.Background()), IsNil)
	t.Assert(p.Commit(context.Background()), IsNil)

	t.Assert(backend.completed, Equals, true)
	t.Assert(len(backend.uploaded), Equals, 3)
}

func (s *PseudoFdInfoTest) TestFailedPartAbortsSession(t *C) {
	local := newTestLocalFile(t, 20)
	defer os.Remove(local.Name())
	backend := newFakeBackend()
	backend.failUpload = true
	p := NewPseudoFdInfo(HandleID(1), Path("/f"), local, true, backend)
	pool := NewWorkerPool(2)

	t.Assert(p.PreMultipartUpload(context.Background(), nil), IsNil)
	plan := []PlanPart{{Start: 0, Size: 10, PartNum: 1}}
	t.Assert(p.ParallelMultipartUpload(context.Background(), pool, plan, false, ""), IsNil)

	err := p.Commit(context.Background())
	t.Assert(err, NotNil)
	t.Assert(backend.aborted, Equals, true)
	t.Assert(backend.completed, Equals, false)
}

func (s *PseudoFdInfoTest) TestAbortWithoutWorkersIssuesAbort(t *C) {
	local := newTestLocalFile(t, 10)
	defer os.Remove(local.Name())
	backend := newFakeBackend()
	p := NewPseudoFdInfo(HandleID(1), Path("/f"), local, true, backend)

	t.Assert(p.PreMultipartUpload(context.Background(), nil), IsNil)
	err := p.Abort(context.Background())
	t.Assert(err, IsNil)
	t.Assert(backend.aborted, Equals, true)
}

// TestUploadBoundaryLastUntreatedAreaAlignsToPartSize exercises invariant
// 5 from the spec: a streaming boundary flush only ever dispatches
// whole-part-size slabs and leaves any remainder behind as untreated.
func (s *PseudoFdInfoTest) TestUploadBoundaryLastUntreatedAreaAlignsToPartSize(t *C) {
	local := newTestLocalFile(t, 25)
	defer os.Remove(local.Name())
	backend := newFakeBackend()
	p := NewPseudoFdInfo(HandleID(1), Path("/f"), local, true, backend)
	pool := NewWorkerPool(2)

	pl := NewPageList(25)
	pl.MarkDirty(0, 25)

	t.Assert(p.UploadBoundaryLastUntreatedArea(context.Background(), pool, pl, nil, 10), IsNil)
	t.Assert(p.WaitAllThreadsExit(context.Background()), IsNil)

	t.Assert(len(backend.uploaded), Equals, 2)

	last, ok := pl.GetLastUpdateUntreated()
	t.Assert(ok, Equals, true)
	t.Assert(last.Start, Equals, int64(20))
	t.Assert(last.Size, Equals, int64(5))
}
