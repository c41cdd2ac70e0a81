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

// Package export implements BatchExporter and StorageRepository: the
// periodic job that drains the JSON cache into partitioned columnar
// output, per spec.md §4.6-§4.7.
package export

import "context"

// OutputFileID identifies one emitted columnar file.
type OutputFileID string

// Row is one output record, already flattened to the columns the Arrow
// writer understands: every field present in a NormalizedRecord plus the
// synctimestamp/partition_date enrichment columns.
type Row map[string]any

// StorageRepository abstracts the partitioned columnar sink, per spec.md
// §4.7. Implementations choose file format and compression; writes are
// atomic from the caller's perspective.
type StorageRepository interface {
	// ExportDataframe writes rows as one columnar file under
	// {dataset}/partition_date={partitionDate}/part-{runID}-{seq}.parquet
	// and returns the file identifier (a path or object key) plus the
	// number of bytes written.
	ExportDataframe(ctx context.Context, dataset, partitionDate, runID string, seq int, rows []Row) (OutputFileID, int64, error)
}
