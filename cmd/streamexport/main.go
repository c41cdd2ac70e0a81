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

// Command streamexport runs a single BatchExporter pass over the JSON
// cache, writing columnar files to the configured StorageRepository and
// exits 0 on full success, 1 if any subtree failed, per spec.md §6's
// operator surface. A held cache lock from a concurrent run is reported
// on stderr and also exits 1, so an external scheduler can retry later.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/config"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/export"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/inject"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := &config.Config{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		fmt.Fprintln(os.Stderr, "streamexport: config error:", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	app, cleanup, err := inject.InitializeExportApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "streamexport: setup error:", err)
		return 1
	}
	defer cleanup()

	summary, err := app.Exporter.Run(ctx)
	if err != nil {
		if err == export.ErrLockHeld {
			fmt.Fprintln(os.Stderr, "streamexport: cache lock held by another run; retry later")
			return 1
		}
		fmt.Fprintln(os.Stderr, "streamexport: run failed:", err)
		return 1
	}

	exitCode := 0
	for _, s := range summary.Subtrees {
		entry := log.WithFields(log.Fields{
			"run_id":       summary.RunID,
			"handler":      s.Key,
			"files_read":   s.FilesRead,
			"rows_written": s.RowsWritten,
			"quarantined":  s.Quarantined,
		})
		if s.Err != nil {
			entry.WithError(s.Err).Error("streamexport: subtree failed")
			fmt.Fprintf(os.Stderr, "streamexport: subtree %s failed: %v\n", s.Key, s.Err)
			exitCode = 1
			continue
		}
		entry.Info("streamexport: subtree exported")
	}

	return exitCode
}
