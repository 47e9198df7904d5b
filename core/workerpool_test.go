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
	"sync"
	"sync/atomic"

	. "gopkg.in/check.v1"
)

type WorkerPoolTest struct{}

var _ = Suite(&WorkerPoolTest{})

func (s *WorkerPoolTest) TestBoundedParallelism(t *C) {
	pool := NewWorkerPool(2)
	var cur, max int32
	var wg sync.WaitGroup
	block := make(chan struct{})

	for i := 0; i < 2; i++ {
		wg.Add(1)
		pool.Submit(context.Background(), func() {
			defer wg.Done()
			n := atomic.AddInt32(&cur, 1)
			for {
				old := atomic.LoadInt32(&max)
				if n <= old || atomic.CompareAndSwapInt32(&max, old, n) {
					break
				}
			}
			<-block
			atomic.AddInt32(&cur, -1)
		})
	}
	close(block)
	wg.Wait()

	t.Assert(max <= 2, Equals, true)
}

func (s *WorkerPoolTest) TestSubmittedCounter(t *C) {
	pool := NewWorkerPool(4)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		pool.Submit(context.Background(), func() { wg.Done() })
	}
	wg.Wait()
	t.Assert(pool.Submitted(), Equals, int64(3))
}
