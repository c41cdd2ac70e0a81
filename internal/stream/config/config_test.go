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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		CacheRoot:                      "./var/cache",
		OutputRoot:                     "./var/output",
		FrameQueueCapacity:             1024,
		MaxWriteRetries:                3,
		ReconnectBackoffBaseSecs:       1,
		ReconnectBackoffCapSecs:        60,
		RegistryRefreshIntervalSeconds: 300,
		CursorBackend:                  CursorFile,
		CursorFilePath:                 "./var/cursor.json",
		StorageBackend:                 StorageLocal,
	}
}

func TestPreflightAcceptsValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Preflight())
}

func TestPreflightRejectsEmptyCacheRoot(t *testing.T) {
	c := validConfig()
	c.CacheRoot = ""
	assert.Error(t, c.Preflight())
}

func TestPreflightRejectsNonPositiveFrameQueueCapacity(t *testing.T) {
	c := validConfig()
	c.FrameQueueCapacity = 0
	assert.Error(t, c.Preflight())
}

func TestPreflightRejectsBackoffCapBelowBase(t *testing.T) {
	c := validConfig()
	c.ReconnectBackoffBaseSecs = 30
	c.ReconnectBackoffCapSecs = 10
	assert.Error(t, c.Preflight())
}

func TestPreflightRejectsSQLCursorWithoutDSN(t *testing.T) {
	c := validConfig()
	c.CursorBackend = CursorSQL
	c.CursorSQLDSN = ""
	assert.Error(t, c.Preflight())
}

func TestPreflightAcceptsSQLCursorWithDSN(t *testing.T) {
	c := validConfig()
	c.CursorBackend = CursorSQL
	c.CursorSQLDSN = "postgres://localhost/stream"
	assert.NoError(t, c.Preflight())
}

func TestPreflightRejectsUnknownCursorBackend(t *testing.T) {
	c := validConfig()
	c.CursorBackend = CursorBackend("carrier-pigeon")
	assert.Error(t, c.Preflight())
}

func TestPreflightRejectsS3StorageWithoutBucket(t *testing.T) {
	c := validConfig()
	c.StorageBackend = StorageS3
	c.S3Bucket = ""
	assert.Error(t, c.Preflight())
}

func TestPreflightAcceptsS3StorageWithBucket(t *testing.T) {
	c := validConfig()
	c.StorageBackend = StorageS3
	c.S3Bucket = "bluesky-research-output"
	assert.NoError(t, c.Preflight())
}

func TestDurationHelpersConvertSecondsToDuration(t *testing.T) {
	c := validConfig()
	c.ReconnectBackoffBaseSecs = 2
	c.ReconnectBackoffCapSecs = 30
	c.RegistryRefreshIntervalSeconds = 120
	c.ExporterIntervalSeconds = 600
	c.ExporterSubtreeTimeoutSeconds = 300

	assert.Equal(t, 2*time.Second, c.ReconnectBackoffBase())
	assert.Equal(t, 30*time.Second, c.ReconnectBackoffCap())
	assert.Equal(t, 120*time.Second, c.RegistryRefreshInterval())
	assert.Equal(t, 600*time.Second, c.ExporterInterval())
	assert.Equal(t, 300*time.Second, c.ExporterSubtreeTimeout())
}
