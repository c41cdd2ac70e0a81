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

// Package cursor implements types.Cursor: durable storage of the upstream
// stream's last-committed position. Two backends are provided: a
// single-file local backend for development and single-instance
// deployments, and a Postgres/CockroachDB-backed upsert backend
// for deployments sharing a staging database with the rest of the
// research platform.
package cursor

import (
	"context"
	"os"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/fsutil"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/pkg/errors"
)

// FileStore persists a single StreamOffset as the contents of a file,
// using fsutil's atomic write so that a crash mid-write never leaves a
// corrupt cursor. This is the "object store (single-object write)"
// backend named in spec.md §6.
type FileStore struct {
	Path string
}

var _ types.Cursor = (*FileStore)(nil)

// NewFileStore returns a FileStore persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Get implements types.Cursor.
func (f *FileStore) Get(_ context.Context) (types.StreamOffset, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "cursor: read file store")
	}
	return types.StreamOffset(data), nil
}

// Set implements types.Cursor.
func (f *FileStore) Set(_ context.Context, offset types.StreamOffset) error {
	if err := fsutil.WriteFileAtomic(f.Path, []byte(offset)); err != nil {
		return errors.Wrap(err, "cursor: write file store")
	}
	return nil
}
