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

package export

// Manifest records one emitted columnar file's provenance, per spec.md
// §3's ExportManifest entity. For local output it is written alongside its
// output file as an immutable JSON sidecar, named identically with a
// ".manifest.json" suffix in place of ".parquet"; object-store output gets
// no manifest.
type Manifest struct {
	Dataset       string       `json:"dataset"`
	PartitionDate string       `json:"partition_date"`
	FileID        OutputFileID `json:"file_id"`
	RecordCount   int          `json:"record_count"`
	SourceFiles   []string     `json:"source_files"`
	RunID         string       `json:"run_id"`
}
