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

import "sync"

// HandleID is an opaque, kernel-visible handle identifier, distinct from
// any local file descriptor so the same underlying local buffer can back
// multiple concurrent opens. Grounded on s3fs-fuse's PseudoFd indirection
// (referenced from fdcache_fdinfo.cpp's PseudoFdManager).
type HandleID int

// HandleRegistry allocates dense handle identifiers, always returning the
// smallest currently-unused id. Its own mutex is held only across
// allocation/release, never across I/O.
type HandleRegistry struct {
	mu   sync.Mutex
	used map[HandleID]bool
	next HandleID
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{used: make(map[HandleID]bool)}
}

// Acquire returns the smallest HandleID not currently in use.
func (r *HandleRegistry) Acquire() HandleID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := HandleID(0); ; id++ {
		if !r.used[id] {
			r.used[id] = true
			if id >= r.next {
				r.next = id + 1
			}
			return id
		}
	}
}

// Release frees id for reuse by a future Acquire.
func (r *HandleRegistry) Release(id HandleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.used, id)
}

// InUse reports whether id is currently allocated, for Misuse-error checks
// against a closed handle.
func (r *HandleRegistry) InUse(id HandleID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used[id]
}
