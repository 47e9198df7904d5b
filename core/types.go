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
	"strings"
	"time"
)

// Path is a UTF-8 string beginning with "/". Directories are inferred from
// a trailing "/" on listing keys, not from a distinct type here.
type Path string

func (p Path) IsDirLike() bool {
	return strings.HasSuffix(string(p), "/")
}

func (p Path) WithoutTrailingSlash() Path {
	return Path(strings.TrimSuffix(string(p), "/"))
}

func (p Path) WithTrailingSlash() Path {
	if p.IsDirLike() {
		return p
	}
	return Path(string(p) + "/")
}

// Attributes is the fixed record of object metadata cached by StatCache and
// carried to/from the store. Header is the opaque metadata map carried
// verbatim; callers that need typed fields (uid/gid/mode) parse them out of
// Header via the same convention the store itself uses (x-amz-meta-*).
type Attributes struct {
	Mode   uint32
	Uid    uint32
	Gid    uint32
	Size   int64
	Mtime  time.Time
	Atime  time.Time
	Ctime  time.Time
	// LinkTarget is non-empty only for a symlink entry; kept on Attributes
	// too so a caller that fetched full attributes doesn't need a second
	// cache lookup to learn it is a symlink.
	LinkTarget string
	ETag       string
	Header     map[string]string
}

func (a Attributes) IsDir() bool {
	return a.Mode&0040000 != 0 // S_IFDIR
}

func (a Attributes) IsSymlink() bool {
	return a.LinkTarget != ""
}
