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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kardianos/osext"
	"github.com/moby/sys/mountinfo"
	daemon "github.com/sevlyar/go-daemon"
	"github.com/urfave/cli"

	"github.com/soitun/s3fs-fuse/cfg"
	"github.com/soitun/s3fs-fuse/core"
)

var log = cfg.GetLogger("main")

// messageArg0 rewrites os.Args[0] to an absolute path before daemonizing,
// since go-daemon re-execs the current binary and a relative path found
// through $PATH at the original invocation may not resolve the same way
// from the forked child's working directory. Ported from the teacher's
// messageArg0.
func messageArg0() {
	exe, err := osext.Executable()
	if err != nil {
		panic(fmt.Sprintf("unable to discover current executable: %v", err))
	}
	os.Args[0] = exe
}

var waitedForSignal os.Signal

// waitForSignal blocks a WaitGroup until the daemonized child reports
// back with SIGUSR1 (mounted) or SIGUSR2 (failed to mount), the same
// parent/child handshake the teacher uses around daemon.Context.Reborn.
func waitForSignal(wg *sync.WaitGroup) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGUSR2)
	wg.Add(1)
	go func() {
		waitedForSignal = <-signalChan
		wg.Done()
	}()
}

func kill(pid int, s os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	defer p.Release()
	return p.Signal(s)
}

// registerControlSignals wires the upcalls s3fs-fuse traditionally
// drives through USR1/USR2/HUP (cache report, log level bump, log
// reopen) to ctl, and SIGINT/SIGTERM to a graceful shutdown that stops
// the memory monitor and control worker before exiting. Grounded on
// original_source/src/sighandlers.cpp's S3fsSignals and generalized
// from a single global handler object into a method set on Control.
func registerControlSignals(ctl *core.Control, mon *core.MemoryMonitor, logFile string, cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for s := range ch {
			switch s {
			case syscall.SIGUSR1:
				ctl.TriggerCacheReport()
			case syscall.SIGUSR2:
				lvl := ctl.BumpLogLevel()
				log.Infof("log level now %v", lvl)
			case syscall.SIGHUP:
				if err := ctl.ReopenLog(logFile); err != nil {
					log.WithError(err).Warn("failed to reopen log file")
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received %v, shutting down", s)
				mon.Stop()
				ctl.Close()
				cancel()
				return
			}
		}
	}()
}

// runAction builds the cli.ActionFunc for app, closing over app so the
// usage message can name it without relying on a cli.Context carrying
// its own App back-reference. Mirrors the closure the teacher builds
// around its own app variable in main().
func runAction(app *cli.App) cli.ActionFunc {
	return func(c *cli.Context) error {
		if len(c.Args()) != 2 {
			fmt.Fprintf(os.Stderr, "Error: %s takes exactly two arguments: bucket and mountpoint.\n\n", app.Name)
			cli.ShowAppHelp(c)
			os.Exit(1)
		}
		bucket := c.Args()[0]
		mountPoint := c.Args()[1]

		config := cfg.FromFlags(c, bucket, mountPoint)

		mounted, err := mountinfo.Mounted(mountPoint)
		if err != nil {
			return fmt.Errorf("checking mount point %s: %w", mountPoint, err)
		}
		if mounted {
			return fmt.Errorf("%s is already a mount point", mountPoint)
		}

		var child *os.Process
		if !config.Foreground {
			var wg sync.WaitGroup
			waitForSignal(&wg)

			messageArg0()

			dctx := new(daemon.Context)
			switch config.LogFile {
			case "stderr", "/dev/stderr":
				dctx.LogFileName = "/dev/stderr"
			case "":
			default:
				dctx.LogFileName = config.LogFile
			}

			child, err = dctx.Reborn()
			if err != nil {
				return fmt.Errorf("unable to daemonize: %w", err)
			}

			if err := cfg.InitLoggers(config.LogLevel, config.LogFile); err != nil {
				return err
			}

			if child != nil {
				wg.Wait()
				if waitedForSignal == syscall.SIGUSR1 {
					return nil
				}
				return fmt.Errorf("child failed to start, see log for details")
			}
			kill(os.Getpid(), syscall.SIGUSR1)
			wg.Wait()
			defer dctx.Release()
		} else if err := cfg.InitLoggers(config.LogLevel, config.LogFile); err != nil {
			return err
		}

		backend, err := core.NewS3Backend(config)
		if err != nil {
			if !config.Foreground {
				kill(os.Getppid(), syscall.SIGUSR2)
			}
			return fmt.Errorf("building S3 backend: %w", err)
		}

		engine := core.NewEngine(config, backend)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if !config.NoExpireMultipart {
			if err := engine.Recover(ctx); err != nil {
				log.WithError(err).Warn("startup multipart recovery swept with errors")
			}
		}

		reportPath := config.CachePath
		if reportPath == "" {
			reportPath = os.TempDir()
		}
		ctl := core.NewControl(engine, reportPath+"/s3wpefs-cache-report.txt")
		mon := core.NewMemoryMonitor(engine, config.MemoryLimit, config.MemoryPollInterval, config.UploadParallelism)
		mon.Run(ctx)

		registerControlSignals(ctl, mon, config.LogFile, cancel)

		if !config.Foreground {
			kill(os.Getppid(), syscall.SIGUSR1)
		}
		log.Info("s3wpefs core engine is running")

		<-ctx.Done()
		log.Info("shut down")
		return nil
	}
}

func main() {
	app := cfg.NewApp()
	app.Action = runAction(app)

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("fatal error")
		os.Exit(1)
	}
}
