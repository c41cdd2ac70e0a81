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

// Package inject wires the two composition roots streamsync and
// streamexport depend on: InitializeStreamApp (wire_gen.go) and
// InitializeExportApp. This file holds the result types shared by both
// the wireinject-tagged provider declarations and the hand-expanded
// generated code, matching the teacher's split between an injector file
// and its wire_gen.go output.
package inject

import (
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/export"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/firehose"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/registry"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
)

// StreamApp bundles everything cmd/streamsync needs to run the ingest
// pipeline.
type StreamApp struct {
	Firehose *firehose.Client
	Registry *registry.Registry
	Cursor   types.Cursor
}

// ExportApp bundles everything cmd/streamexport needs to run one batch.
type ExportApp struct {
	Exporter *export.Exporter
}
