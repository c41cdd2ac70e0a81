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

//go:build wireinject
// +build wireinject

// Package inject wires the two composition roots streamsync and
// streamexport depend on. This file declares the provider sets for `go
// generate`'s wire codegen; wire_gen.go carries the hand-expanded result
// actually compiled into the binaries.
package inject

import (
	"context"

	"github.com/google/wire"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/config"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/cursor"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/dirmanager"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/dispatcher"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/export"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/firehose"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/handler"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/processor"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/registry"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/backoff"
)

var streamSet = wire.NewSet(
	provideDirManager,
	provideHandlerRegistry,
	provideGenericHandler,
	provideCursor,
	provideRegistry,
	provideProcessors,
	provideDispatcher,
	provideBackoffPolicy,
	provideFirehoseClient,
	wire.Bind(new(firehose.Dispatch), new(*dispatcher.Dispatcher)),
)

var exportSet = wire.NewSet(
	provideDirManager,
	provideHandlerRegistry,
	provideStorageRepository,
	provideExporter,
)

// InitializeStreamApp builds the ingest composition root.
func InitializeStreamApp(ctx context.Context, cfg *config.Config) (*StreamApp, func(), error) {
	wire.Build(streamSet, wire.Struct(new(StreamApp), "*"))
	return nil, nil, nil
}

// InitializeExportApp builds the export composition root.
func InitializeExportApp(ctx context.Context, cfg *config.Config) (*ExportApp, func(), error) {
	wire.Build(exportSet, wire.Struct(new(ExportApp), "*"))
	return nil, nil, nil
}
