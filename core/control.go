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

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/soitun/s3fs-fuse/cfg"
)

var controlLog = logrus.WithField("pkg", "control")

// levelCycle is the order BumpLogLevel advances through on each call,
// wrapping back to the start. Grounded on S3fsLog::BumpupLogLevel's
// CRIT->ERR->WARN->INFO->DEBUG cycle; CRIT is folded into ERR since
// logrus has no separate critical level between error and panic.
var levelCycle = []logrus.Level{logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel}

// Control fields the three upcalls a bridge (or a signal handler it
// installs) delivers outside the normal filesystem operation flow.
// They are plain method calls here rather than signal handlers
// themselves, per the external-interfaces note that they are "accepted
// as upcalls ... not required to originate from OS signals" — a
// process entrypoint wires SIGUSR1/SIGUSR2/SIGHUP to these.
//
// Grounded on original_source/src/sighandlers.cpp's S3fsSignals: USR1
// triggers the cache-check worker, USR2 bumps the log level, HUP
// reopens the log file.
type Control struct {
	engine *Engine

	reportPath string
	trigger    chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup

	levelMu sync.Mutex
	level   int
}

// NewControl starts the async cache-report worker (mirroring
// S3fsSignals::CheckCacheWorker's semaphore-driven loop, here a
// buffered channel instead of a semaphore) and returns a Control bound
// to engine. reportPath is where TriggerCacheReport writes; empty
// means stdout.
func NewControl(engine *Engine, reportPath string) *Control {
	c := &Control{
		engine:     engine,
		reportPath: reportPath,
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.worker()
	return c
}

func (c *Control) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.trigger:
			c.writeReport()
		case <-c.done:
			return
		}
	}
}

// TriggerCacheReport requests an async cache-contents report, the
// upcall equivalent of SIGUSR1. A pending trigger is coalesced with
// any request already queued, matching try_acquire's "do not allow
// request queuing" drain in the original.
func (c *Control) TriggerCacheReport() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Control) writeReport() {
	stats := c.engine.StatCache().GetStats()

	out := os.Stdout
	if c.reportPath != "" {
		f, err := os.Create(c.reportPath)
		if err != nil {
			controlLog.WithError(err).Warn("cache report: could not open output file")
			return
		}
		defer f.Close()
		out = f
	}
	fmt.Fprintf(out, "entries=%d symlink_entries=%d total_hits=%d\n",
		stats.Entries, stats.SymlinkEntries, stats.TotalHits)
}

// BumpLogLevel advances every named logger one step more verbose,
// wrapping back to Error once Debug is reached. The upcall equivalent
// of SIGUSR2.
func (c *Control) BumpLogLevel() logrus.Level {
	c.levelMu.Lock()
	c.level = (c.level + 1) % len(levelCycle)
	lvl := levelCycle[c.level]
	c.levelMu.Unlock()

	cfg.BumpLevel(lvl)
	controlLog.WithField("level", lvl).Info("log level bumped")
	return lvl
}

// ReopenLog repoints every named logger's output at logFile, for
// logrotate-friendly daemons. The upcall equivalent of SIGHUP.
func (c *Control) ReopenLog(logFile string) error {
	return cfg.ReopenLogFile(logFile)
}

// Close stops the cache-report worker. Safe to call once.
func (c *Control) Close() {
	close(c.done)
	c.wg.Wait()
}
