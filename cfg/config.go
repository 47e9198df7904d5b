// Copyright 2015 - 2019 Ka-Hing Cheung
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

// Package cfg holds the explicit configuration record the write-path
// engine is built from, the CLI flags that populate it, and the logger
// it wires up. It does not import core; core imports this package for
// Config and the named loggers, so importing core also brings in
// urfave/cli through flags.go.
package cfg

import (
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

// Config is the single explicit record every component is constructed
// from, rather than each reading ambient globals. Grounded on the split
// between the teacher's cfg.FlagStorage (mount/tuning knobs) and
// cfg.S3Config (store credentials/behavior), folded into one record since
// this CORE has no staged-write mode, cluster mode, or external cache to
// carry separate structs for.
type Config struct {
	// Store connection
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Profile   string
	Subdomain bool
	NoVerifySSL bool

	// Object behavior
	StorageClass string
	ACL          string
	UseSSE       bool
	UseKMS       bool
	KMSKeyID     string
	SseC         string

	// Multipart layout, store-imposed constants with overridable defaults
	MaxPartSize  int64
	MinPartSize  int64
	MaxParts     int
	MaxCopyPartSize int64
	UseCopyUpload   bool

	// Multipart session recovery/expiry (Engine.Recover, backend_s3.go's
	// MultipartExpire equivalent)
	MultipartAge      time.Duration
	NoExpireMultipart bool

	// StatCache
	CacheSize    int
	CacheTTL     time.Duration
	TTLFromAccess bool
	NegativeCache bool

	// Concurrency / memory
	UploadParallelism int
	MemoryLimit       uint64 // bytes; 0 disables MemoryMonitor throttling
	MemoryPollInterval time.Duration

	// Mount / process
	MountPoint string
	Foreground bool
	LogFile    string
	LogLevel   string

	// CachePath is where the local dirty-buffer files live; defaults
	// under the user's home directory, mirroring the teacher's
	// CachePath / go-homedir use for default file locations.
	CachePath string
}

// DefaultConfig returns the store-imposed defaults named in the spec:
// 16 MiB parts, 5 MiB minimum, 10000 max parts, 5 GiB max copy-part size.
func DefaultConfig() *Config {
	home, _ := homedir.Dir()
	return &Config{
		StorageClass:       "STANDARD",
		MaxPartSize:        16 * 1024 * 1024,
		MinPartSize:        5 * 1024 * 1024,
		MaxParts:           10000,
		MaxCopyPartSize:    5 * 1024 * 1024 * 1024,
		UseCopyUpload:      true,
		MultipartAge:       24 * time.Hour,
		CacheSize:          100000,
		CacheTTL:           1 * time.Minute,
		NegativeCache:      true,
		UploadParallelism:  5,
		MemoryPollInterval: 5 * time.Second,
		LogLevel:           "info",
		CachePath:          home + "/.cache/s3fs-fuse",
	}
}

// MaxObjectSize is the largest object this configuration can fully
// upload as a multipart session: min_part_size * max_parts, bounded by
// the store's absolute 5 TiB ceiling.
func (c *Config) MaxObjectSize() int64 {
	const storeCeiling = 5 * 1024 * 1024 * 1024 * 1024
	limit := c.MinPartSize * int64(c.MaxParts)
	if limit > storeCeiling || limit <= 0 {
		return storeCeiling
	}
	return limit
}
