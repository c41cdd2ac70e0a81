// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package config holds the process-wide configuration for both the
// streaming ingest entry point and the batch exporter entry point, per
// spec.md §6's enumerated options.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// StorageBackend selects which StorageRepository implementation the
// exporter writes through.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// CursorBackend selects which Cursor implementation the stream task
// persists its offset through.
type CursorBackend string

const (
	CursorFile CursorBackend = "file"
	CursorSQL  CursorBackend = "sql"
)

// Config is the full set of user-visible configuration options, shared by
// both the streamsync and streamexport entry points; both binaries call the
// same Preflight, which validates every field.
type Config struct {
	// Filesystem layout.
	CacheRoot  string
	OutputRoot string

	// Upstream firehose.
	RelayHost                string
	FrameQueueCapacity       int
	ReconnectBackoffBaseSecs int
	ReconnectBackoffCapSecs  int

	// Registry.
	RegistrySourcePath             string
	RegistryRefreshIntervalSeconds int

	// Dispatcher / handler.
	MaxWriteRetries int

	// Cursor persistence.
	CursorBackend   CursorBackend
	CursorFilePath  string
	CursorSQLDSN    string
	CursorSQLTable  string
	CursorSQLKey    string

	// Exporter.
	ExporterIntervalSeconds int
	ExportClearFilepaths    bool
	ExportClearCache        bool
	ExporterSubtreeTimeoutSeconds int

	// Output storage.
	StorageBackend StorageBackend
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Prefix       string
}

// Bind registers every option as a flag, matching the teacher's
// pflag.FlagSet wiring in internal/source/server.Config.Bind.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.CacheRoot, "cacheRoot", "./var/cache",
		"base path for the JSON record cache")
	flags.StringVar(&c.OutputRoot, "outputRoot", "./var/output",
		"base path or URI for columnar output")

	flags.StringVar(&c.RelayHost, "relayHost", "wss://bsky.network",
		"websocket URL of the upstream relay firehose")
	flags.IntVar(&c.FrameQueueCapacity, "frameQueueCapacity", 1024,
		"bounded queue size between the firehose client and the dispatcher")
	flags.IntVar(&c.ReconnectBackoffBaseSecs, "reconnectBackoffBaseSeconds", 1,
		"initial reconnect backoff, in seconds")
	flags.IntVar(&c.ReconnectBackoffCapSecs, "reconnectBackoffCapSeconds", 60,
		"maximum reconnect backoff, in seconds")

	flags.StringVar(&c.RegistrySourcePath, "registrySource", "",
		"path or URI to the study-user registry snapshot (line-delimited JSON or Parquet)")
	flags.IntVar(&c.RegistryRefreshIntervalSeconds, "registryRefreshIntervalSeconds", 300,
		"period for external registry reloads, in seconds")

	flags.IntVar(&c.MaxWriteRetries, "maxWriteRetries", 3,
		"per-handler cache write attempts before a record is dropped")

	flags.StringVar((*string)(&c.CursorBackend), "cursorBackend", string(CursorFile),
		"cursor persistence backend: file or sql")
	flags.StringVar(&c.CursorFilePath, "cursorFilePath", "./var/cursor.json",
		"path to the cursor file, when cursorBackend=file")
	flags.StringVar(&c.CursorSQLDSN, "cursorSQLDSN", "",
		"data source name for the cursor table, when cursorBackend=sql")
	flags.StringVar(&c.CursorSQLTable, "cursorSQLTable", "public._stream_cursor",
		"schema-qualified cursor table name, when cursorBackend=sql")
	flags.StringVar(&c.CursorSQLKey, "cursorSQLKey", "firehose",
		"row key identifying this stream's cursor within the cursor table")

	flags.IntVar(&c.ExporterIntervalSeconds, "exporterIntervalSeconds", 600,
		"period for batch exports, in seconds")
	flags.BoolVar(&c.ExportClearFilepaths, "exportClearFilepaths", true,
		"delete source cache files after a successful export")
	flags.BoolVar(&c.ExportClearCache, "exportClearCache", false,
		"rebuild the cache directory tree after a successful export, instead of deleting files individually")
	flags.IntVar(&c.ExporterSubtreeTimeoutSeconds, "exporterSubtreeTimeoutSeconds", 300,
		"per-subtree deadline during a batch export, in seconds")

	flags.StringVar((*string)(&c.StorageBackend), "storageBackend", string(StorageLocal),
		"output storage backend: local or s3")
	flags.StringVar(&c.S3Endpoint, "s3Endpoint", "",
		"custom S3-compatible endpoint URL; empty selects AWS's default resolver")
	flags.StringVar(&c.S3Region, "s3Region", "us-east-1",
		"AWS region for the output bucket")
	flags.StringVar(&c.S3AccessKey, "s3AccessKey", "",
		"static access key for the output bucket; empty uses the default credential chain")
	flags.StringVar(&c.S3SecretKey, "s3SecretKey", "",
		"static secret key for the output bucket")
	flags.StringVar(&c.S3Bucket, "s3Bucket", "",
		"bucket name for columnar output, when storageBackend=s3")
	flags.StringVar(&c.S3Prefix, "s3Prefix", "",
		"key prefix within the output bucket")
}

// Preflight validates the configuration, matching the teacher's
// fail-fast-at-startup convention: config/setup failure is fatal, per
// spec.md §7.
func (c *Config) Preflight() error {
	if c.CacheRoot == "" {
		return errors.New("cacheRoot unset")
	}
	if c.OutputRoot == "" {
		return errors.New("outputRoot unset")
	}
	if c.FrameQueueCapacity <= 0 {
		return errors.New("frameQueueCapacity must be positive")
	}
	if c.MaxWriteRetries <= 0 {
		return errors.New("maxWriteRetries must be positive")
	}
	if c.ReconnectBackoffBaseSecs <= 0 || c.ReconnectBackoffCapSecs < c.ReconnectBackoffBaseSecs {
		return errors.New("reconnectBackoffBaseSeconds must be positive and no greater than reconnectBackoffCapSeconds")
	}
	if c.RegistryRefreshIntervalSeconds <= 0 {
		return errors.New("registryRefreshIntervalSeconds must be positive")
	}

	switch c.CursorBackend {
	case CursorFile:
		if c.CursorFilePath == "" {
			return errors.New("cursorFilePath unset for cursorBackend=file")
		}
	case CursorSQL:
		if c.CursorSQLDSN == "" {
			return errors.New("cursorSQLDSN unset for cursorBackend=sql")
		}
	default:
		return errors.Errorf("unknown cursorBackend %q", c.CursorBackend)
	}

	switch c.StorageBackend {
	case StorageLocal:
	case StorageS3:
		if c.S3Bucket == "" {
			return errors.New("s3Bucket unset for storageBackend=s3")
		}
	default:
		return errors.Errorf("unknown storageBackend %q", c.StorageBackend)
	}

	return nil
}

// ReconnectBackoffBase returns the configured base as a time.Duration.
func (c *Config) ReconnectBackoffBase() time.Duration {
	return time.Duration(c.ReconnectBackoffBaseSecs) * time.Second
}

// ReconnectBackoffCap returns the configured cap as a time.Duration.
func (c *Config) ReconnectBackoffCap() time.Duration {
	return time.Duration(c.ReconnectBackoffCapSecs) * time.Second
}

// RegistryRefreshInterval returns the configured interval as a time.Duration.
func (c *Config) RegistryRefreshInterval() time.Duration {
	return time.Duration(c.RegistryRefreshIntervalSeconds) * time.Second
}

// ExporterInterval returns the configured interval as a time.Duration.
func (c *Config) ExporterInterval() time.Duration {
	return time.Duration(c.ExporterIntervalSeconds) * time.Second
}

// ExporterSubtreeTimeout returns the configured per-subtree deadline as a
// time.Duration.
func (c *Config) ExporterSubtreeTimeout() time.Duration {
	return time.Duration(c.ExporterSubtreeTimeoutSeconds) * time.Second
}
