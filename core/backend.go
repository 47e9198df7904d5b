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
	"time"
)

// PartETag is one entry of the ordered list Complete sends to the store,
// mirroring s3fs-fuse's etag_entity list at commit time.
type PartETag struct {
	PartNum int
	ETag    string
}

// MultipartUploadInfo describes one in-progress session as returned by
// ListMultipartUploads, used by Engine.Recover to find and abort sessions
// orphaned by a crash between Initiate and Complete/Abort.
type MultipartUploadInfo struct {
	Path      Path
	UploadID  string
	Initiated time.Time
}

// Backend is the HTTP-layer contract the CORE drives; it knows nothing
// about PageList, UploadPlanner, or PseudoFdInfo. Grounded on the method
// set s3fs-fuse drives through its S3fsCurl wrapper and on geesefs's
// *S3Backend (core/backend_s3.go), generalized into an interface so the
// session and upload-coordination layers never depend on aws-sdk-go
// types directly. *S3Backend is the concrete implementation.
type Backend interface {
	Head(ctx context.Context, path Path) (Attributes, error)
	// Download fetches r from the current remote object, for the
	// UploadPlanner's to_download instructions: a slab that overlaps
	// dirty data but has no reusable upload-part or copy source must
	// first be read back from the store into the local buffer before
	// it can be re-uploaded whole. Not one of the distilled spec's
	// named Backend methods, but required to actually execute
	// to_download — see DESIGN.md.
	Download(ctx context.Context, path Path, r Range) (io.ReadCloser, error)
	// Put uploads the first size bytes of src as a single object, for
	// files small enough that a multipart session is pure overhead.
	// Grounded on geesefs's PutBlob / s3fs-fuse's S3fsCurl::PutRequest.
	Put(ctx context.Context, path Path, headers map[string]string, src *os.File, size int64) (string, error)
	Initiate(ctx context.Context, path Path, headers map[string]string) (string, error)
	UploadPart(ctx context.Context, path Path, uploadID string, partNum int, src *os.File, start, size int64) (string, error)
	CopyPart(ctx context.Context, path Path, uploadID string, partNum int, sourcePath Path, r Range) (string, error)
	Complete(ctx context.Context, path Path, uploadID string, etags []PartETag) error
	Abort(ctx context.Context, path Path, uploadID string) error
	ListMultipartUploads(ctx context.Context) ([]MultipartUploadInfo, error)
}
