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

package cfg

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var mu sync.Mutex
var loggers = make(map[string]*LogHandle)
var currentLogFile string

// LogHandle is a named logrus.Logger with its own custom line format,
// so every package ("core", "backend", "session", ...) gets a
// distinguishable prefix without a separate logging framework.
// Grounded on the teacher's internal/cfg.LogHandle.
type LogHandle struct {
	logrus.Logger
	name string
}

func (l *LogHandle) Format(e *logrus.Entry) ([]byte, error) {
	const timeFormat = "2006/01/02 15:04:05.000000"
	str := fmt.Sprintf("%v %v.%v %v",
		e.Time.Format(timeFormat),
		l.name,
		strings.ToUpper(e.Level.String()),
		e.Message)
	if len(e.Data) != 0 {
		str += " " + fmt.Sprint(e.Data)
	}
	str += "\n"
	return []byte(str), nil
}

// GetLogger returns the named logger, creating it on first use. The
// same *LogHandle is reused across calls so level/output changes from
// BumpLogLevel/ReopenLog take effect everywhere at once.
func GetLogger(name string) *LogHandle {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}
	l := &LogHandle{name: name}
	l.Out = os.Stderr
	l.Formatter = l
	l.Level = logrus.InfoLevel
	l.Hooks = make(logrus.LevelHooks)
	loggers[name] = l
	return l
}

// InitLoggers parses level and points every logger at logFile (stderr
// if empty), for use at process startup from cfg.Config.
func InitLoggers(level, logFile string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	mu.Lock()
	for _, l := range loggers {
		l.Level = lvl
	}
	mu.Unlock()
	return ReopenLogFile(logFile)
}

// ReopenLogFile (re)opens logFile and repoints every known logger's
// output at it; called both at startup and from Control.ReopenLog on
// SIGHUP, mirroring logrotate-friendly daemons.
func ReopenLogFile(logFile string) error {
	mu.Lock()
	defer mu.Unlock()

	currentLogFile = logFile
	if logFile == "" || logFile == "stderr" || logFile == "/dev/stderr" {
		for _, l := range loggers {
			l.Out = os.Stderr
		}
		return nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", logFile, err)
	}
	for _, l := range loggers {
		l.Out = file
	}
	return nil
}

// BumpLevel sets every known logger's level to lvl (which may be lower
// than the current one when Control's cycle wraps), used by
// Control.BumpLogLevel on SIGUSR2.
func BumpLevel(lvl logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		l.Level = lvl
	}
}
