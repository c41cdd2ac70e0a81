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

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalStorage implements StorageRepository against a local filesystem
// root, using the temp-file + rename + fsync-directory idiom fsutil uses
// for the JSON cache, per spec.md §4.7's local FS adapter.
type LocalStorage struct {
	Root string
}

var _ StorageRepository = (*LocalStorage)(nil)

// NewLocalStorage returns a LocalStorage rooted at root.
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{Root: root}
}

// ExportDataframe implements StorageRepository.
func (l *LocalStorage) ExportDataframe(_ context.Context, dataset, partitionDate, runID string, seq int, rows []Row) (OutputFileID, int64, error) {
	dir := filepath.Join(l.Root, dataset, fmt.Sprintf("partition_date=%s", partitionDate))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, errors.Wrap(err, "export: create output dir")
	}

	name := fmt.Sprintf("part-%s-%d.parquet", runID, seq)
	full := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", 0, errors.Wrap(err, "export: create temp output file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := writeParquet(tmp, rows)
	if err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, errors.Wrap(err, "export: fsync temp output file")
	}
	if err := tmp.Close(); err != nil {
		return "", 0, errors.Wrap(err, "export: close temp output file")
	}
	if err := os.Rename(tmpName, full); err != nil {
		return "", 0, errors.Wrap(err, "export: rename output file into place")
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}

	return OutputFileID(full), n, nil
}
