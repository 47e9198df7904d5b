// Copyright 2015 - 2017 Ka-Hing Cheung
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
	"sync"
	"time"

	"github.com/shirou/gopsutil/mem"
	"github.com/sirupsen/logrus"
)

var memLog = logrus.WithField("pkg", "memmonitor")

// memStatter is the seam MemoryMonitor polls through; satisfied by
// gopsutil/mem.VirtualMemory in production and a fake in tests, since
// the real call depends on the host's actual memory state.
type memStatter func() (availableBytes uint64, err error)

func systemMemStatter() (uint64, error) {
	m, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return m.Available, nil
}

// MemoryMonitor polls system memory and, when available memory drops
// under Config.MemoryLimit, sheds load: it caps the engine's
// WorkerPool at one concurrent upload, forces an out-of-cycle
// StatCache eviction, and flushes whichever open file has waited
// longest for a flush. Grounded on the teacher's BufferPool
// (internal/buffer_pool.go), which polls the same gopsutil/mem.
// VirtualMemory, generalized from a single buffer pool's allocation
// gate into a poller over the engine's several independent resources,
// since this CORE has no single buffer-pool object to gate allocation
// through.
type MemoryMonitor struct {
	engine *Engine
	limit  uint64
	period time.Duration
	stat   memStatter

	normalParallelism int

	mu       sync.Mutex
	throttled bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMemoryMonitor builds a monitor bound to engine. A zero limit
// disables throttling entirely (Run becomes a no-op), matching
// Config.MemoryLimit's documented "0 disables" convention.
func NewMemoryMonitor(engine *Engine, limit uint64, period time.Duration, parallelism int) *MemoryMonitor {
	return &MemoryMonitor{
		engine:            engine,
		limit:             limit,
		period:            period,
		stat:              systemMemStatter,
		normalParallelism: parallelism,
		done:              make(chan struct{}),
	}
}

// Run starts the poll loop. Stop must be called to release it.
func (m *MemoryMonitor) Run(ctx context.Context) {
	if m.limit == 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.poll(ctx)
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *MemoryMonitor) poll(ctx context.Context) {
	available, err := m.stat()
	if err != nil {
		memLog.WithError(err).Warn("could not read system memory")
		return
	}

	m.mu.Lock()
	wasThrottled := m.throttled
	m.throttled = available < m.limit
	nowThrottled := m.throttled
	m.mu.Unlock()

	if !nowThrottled {
		if wasThrottled {
			m.engine.Pool().SetParallelism(m.normalParallelism)
			memLog.Info("memory pressure relieved, restored upload parallelism")
		}
		return
	}

	memLog.WithField("available", available).Warn("memory pressure detected, shedding load")
	m.engine.Pool().SetParallelism(1)
	m.engine.StatCache().EvictExcess()

	if handle, ok := m.engine.OldestUntreated(); ok {
		if err := m.engine.Flush(ctx, handle); err != nil {
			memLog.WithError(err).Warn("memory pressure flush failed")
		}
	}
}

// Stop ends the poll loop and waits for it to exit.
func (m *MemoryMonitor) Stop() {
	close(m.done)
	m.wg.Wait()
}
