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
	"time"

	. "gopkg.in/check.v1"
)

type MemoryMonitorTest struct{}

var _ = Suite(&MemoryMonitorTest{})

func (s *MemoryMonitorTest) TestPollThrottlesUnderPressureAndRestores(t *C) {
	e := NewEngine(testEngineConfig(), newFakeBackend())
	e.Pool().SetParallelism(5)

	var available uint64 = 100
	m := NewMemoryMonitor(e, 1000, time.Hour, 5)
	m.stat = func() (uint64, error) { return available, nil }

	m.poll(context.Background())
	t.Assert(m.throttled, Equals, true)

	available = 2000
	m.poll(context.Background())
	t.Assert(m.throttled, Equals, false)
}

func (s *MemoryMonitorTest) TestZeroLimitDisablesRun(t *C) {
	e := NewEngine(testEngineConfig(), newFakeBackend())
	m := NewMemoryMonitor(e, 0, time.Millisecond, 5)
	m.Run(context.Background())
	m.Stop()
}

func (s *MemoryMonitorTest) TestPollFlushesOldestUntreatedHandle(t *C) {
	backend := newFakeBackend()
	e := NewEngine(testEngineConfig(), backend)

	handle, err := e.Open(context.Background(), Path("/d"), true, 0)
	t.Assert(err, IsNil)
	t.Assert(e.Write(context.Background(), handle, []byte("hi"), 0), IsNil)

	m := NewMemoryMonitor(e, 1000, time.Hour, 5)
	m.stat = func() (uint64, error) { return 10, nil }

	m.poll(context.Background())
	t.Assert(backend.puts, DeepEquals, []int64{2})
}
