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
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	. "gopkg.in/check.v1"
)

type ControlTest struct{}

var _ = Suite(&ControlTest{})

func (s *ControlTest) TestTriggerCacheReportWritesFile(t *C) {
	e := NewEngine(testEngineConfig(), newFakeBackend())
	e.StatCache().Add(Path("/x"), Attributes{Size: 5}, false, false)

	dir, err := os.MkdirTemp("", "control-test-")
	t.Assert(err, IsNil)
	defer os.RemoveAll(dir)
	reportPath := dir + "/report.txt"

	c := NewControl(e, reportPath)
	defer c.Close()

	c.TriggerCacheReport()

	var contents string
	for i := 0; i < 200; i++ {
		data, err := os.ReadFile(reportPath)
		if err == nil && len(data) > 0 {
			contents = string(data)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Assert(contents, Not(Equals), "")
	t.Assert(strings.Contains(contents, "entries=1"), Equals, true)
}

func (s *ControlTest) TestBumpLogLevelCyclesAndWraps(t *C) {
	e := NewEngine(testEngineConfig(), newFakeBackend())
	c := NewControl(e, "")
	defer c.Close()

	lvl := c.BumpLogLevel()
	t.Assert(lvl, Equals, logrus.WarnLevel)

	lvl = c.BumpLogLevel()
	t.Assert(lvl, Equals, logrus.InfoLevel)

	lvl = c.BumpLogLevel()
	t.Assert(lvl, Equals, logrus.DebugLevel)

	lvl = c.BumpLogLevel()
	t.Assert(lvl, Equals, logrus.ErrorLevel)
}

func (s *ControlTest) TestReopenLogSwitchesOutput(t *C) {
	e := NewEngine(testEngineConfig(), newFakeBackend())
	c := NewControl(e, "")
	defer c.Close()

	dir, err := os.MkdirTemp("", "control-test-")
	t.Assert(err, IsNil)
	defer os.RemoveAll(dir)
	logPath := dir + "/s3wpefs.log"
	t.Assert(c.ReopenLog(logPath), IsNil)

	logrus.WithField("pkg", "test").Info("irrelevant to this logger registry")

	_, err = os.Stat(logPath)
	t.Assert(err, IsNil)
}
