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
	"time"

	"github.com/urfave/cli"
)

const Version = "0.1.0"

// NewApp builds the CLI surface for s3wpefs. Grounded on the teacher's
// cfg.NewApp, trimmed to the flags that have a home in this CORE (no
// FUSE read-ahead tuning, no cluster-mode flags, no staged-write flags).
func NewApp() *cli.App {
	cli.AppHelpTemplate = `NAME:
   {{.Name}} - {{.Usage}}

USAGE:
   {{.Name}} {{if .Flags}}[global options]{{end}} bucket mountpoint
   {{if .Version}}
VERSION:
   {{.Version}}
   {{end}}
GLOBAL OPTIONS:
   {{range .Flags}}{{.}}
   {{end}}
`

	def := DefaultConfig()

	app := cli.NewApp()
	app.Name = "s3wpefs"
	app.Usage = "Mount an S3-compatible bucket as a local filesystem"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "f",
			Usage: "Run in foreground, don't daemonize",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "Write logs to this file instead of stderr",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: def.LogLevel,
			Usage: "panic, fatal, error, warn, info, or debug",
		},

		cli.StringFlag{
			Name:  "endpoint",
			Usage: "The S3 endpoint to connect to, e.g. https://s3.amazonaws.com",
		},
		cli.StringFlag{
			Name:  "region",
			Value: "us-east-1",
			Usage: "The region to connect to",
		},
		cli.StringFlag{
			Name:  "profile",
			Usage: "Use a named profile from $HOME/.aws/credentials instead of \"default\"",
		},
		cli.BoolFlag{
			Name:  "subdomain",
			Usage: "Use virtual-hosted-style bucket addressing instead of path-style",
		},
		cli.BoolFlag{
			Name:  "no-verify-ssl",
			Usage: "Skip TLS certificate verification",
		},
		cli.StringFlag{
			Name:  "storage-class",
			Value: def.StorageClass,
			Usage: "Storage class to use when writing objects",
		},
		cli.StringFlag{
			Name:  "acl",
			Usage: "Canned ACL to apply to new objects",
		},
		cli.BoolFlag{
			Name:  "sse",
			Usage: "Enable server-side encryption (SSE-S3) for all writes",
		},
		cli.StringFlag{
			Name:  "sse-kms",
			Usage: "Enable KMS encryption (SSE-KMS) using this key id",
		},
		cli.StringFlag{
			Name:  "sse-c",
			Usage: "Enable server-side encryption using this base64-encoded key",
		},

		cli.Int64Flag{
			Name:  "max-part-size",
			Value: def.MaxPartSize,
			Usage: "Maximum multipart part size in bytes",
		},
		cli.Int64Flag{
			Name:  "min-part-size",
			Value: def.MinPartSize,
			Usage: "Minimum multipart part size in bytes",
		},
		cli.IntFlag{
			Name:  "max-parts",
			Value: def.MaxParts,
			Usage: "Maximum number of parts per multipart upload",
		},
		cli.BoolTFlag{
			Name:  "use-copy-upload",
			Usage: "Reuse already-uploaded bytes via server-side copy instead of re-uploading",
		},
		cli.DurationFlag{
			Name:  "multipart-age",
			Value: def.MultipartAge,
			Usage: "Abort multipart sessions discovered at startup older than this",
		},
		cli.BoolFlag{
			Name:  "no-expire-multipart",
			Usage: "Disable the startup multipart session recovery sweep",
		},

		cli.IntFlag{
			Name:  "cache-size",
			Value: def.CacheSize,
			Usage: "Maximum number of stat cache entries",
		},
		cli.DurationFlag{
			Name:  "cache-ttl",
			Value: def.CacheTTL,
			Usage: "Stat cache entry time-to-live",
		},
		cli.BoolFlag{
			Name:  "ttl-from-access",
			Usage: "Reset cache TTL from last access instead of last fetch",
		},
		cli.BoolTFlag{
			Name:  "negative-cache",
			Usage: "Cache negative (not-found) lookups",
		},

		cli.IntFlag{
			Name:  "upload-parallelism",
			Value: def.UploadParallelism,
			Usage: "Maximum concurrent part uploads/copies per handle",
		},
		cli.Uint64Flag{
			Name:  "memory-limit",
			Usage: "Available-memory floor in bytes below which concurrency is shed (0 disables)",
		},

		cli.StringFlag{
			Name:  "cache-path",
			Value: def.CachePath,
			Usage: "Directory for local dirty-buffer files",
		},
	}
	return app
}

// FromFlags populates a Config from a parsed cli.Context, layering over
// DefaultConfig so unset flags keep their store-imposed defaults.
func FromFlags(c *cli.Context, bucket, mountPoint string) *Config {
	cfg := DefaultConfig()
	cfg.Bucket = bucket
	cfg.MountPoint = mountPoint

	cfg.Foreground = c.Bool("f")
	cfg.LogFile = c.String("log-file")
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	cfg.Endpoint = c.String("endpoint")
	if v := c.String("region"); v != "" {
		cfg.Region = v
	}
	cfg.Profile = c.String("profile")
	cfg.Subdomain = c.Bool("subdomain")
	cfg.NoVerifySSL = c.Bool("no-verify-ssl")
	if v := c.String("storage-class"); v != "" {
		cfg.StorageClass = v
	}
	cfg.ACL = c.String("acl")
	cfg.UseSSE = c.Bool("sse")
	if v := c.String("sse-kms"); v != "" {
		cfg.UseKMS = true
		cfg.KMSKeyID = v
	}
	cfg.SseC = c.String("sse-c")

	if v := c.Int64("max-part-size"); v > 0 {
		cfg.MaxPartSize = v
	}
	if v := c.Int64("min-part-size"); v > 0 {
		cfg.MinPartSize = v
	}
	if v := c.Int("max-parts"); v > 0 {
		cfg.MaxParts = v
	}
	cfg.UseCopyUpload = c.BoolT("use-copy-upload")
	if v := c.Duration("multipart-age"); v > 0 {
		cfg.MultipartAge = v
	}
	cfg.NoExpireMultipart = c.Bool("no-expire-multipart")

	if v := c.Int("cache-size"); v > 0 {
		cfg.CacheSize = v
	}
	if v := c.Duration("cache-ttl"); v > 0 {
		cfg.CacheTTL = v
	}
	cfg.TTLFromAccess = c.Bool("ttl-from-access")
	cfg.NegativeCache = c.BoolT("negative-cache")

	if v := c.Int("upload-parallelism"); v > 0 {
		cfg.UploadParallelism = v
	}
	cfg.MemoryLimit = c.Uint64("memory-limit")

	if v := c.String("cache-path"); v != "" {
		cfg.CachePath = v
	}

	if cfg.MemoryPollInterval == 0 {
		cfg.MemoryPollInterval = 5 * time.Second
	}
	return cfg
}
