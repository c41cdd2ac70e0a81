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

// Package fsutil implements the JSON write/read/list/delete/move
// primitives (single JSON documents only; there are no JSONL helpers) the cache and exporter build on, with atomic-rename write
// semantics: every write lands in a temporary sibling file, is fsync'd,
// then renamed into place, then the containing directory is fsync'd. This
// is the same durability idiom stdpool uses when tearing down a
// connection pool goroutine, generalized here to file writes.
package fsutil

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteJSON marshals v and atomically writes it to path: write to a
// temp sibling, fsync the file, rename into place, fsync the containing
// directory. The parent directory must already exist.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "fsutil: marshal")
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path using the temp+fsync+rename+fsync-dir
// sequence. Two concurrent writers racing on the same path with identical
// content are safe: the final state is the same content either way.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "fsutil: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fsutil: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fsutil: fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "fsutil: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "fsutil: rename into place")
	}
	return fsyncDir(dir)
}

// ReadJSON reads path and unmarshals it into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "fsutil: read file")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "fsutil: unmarshal")
	}
	return nil
}

// ListJSON returns the absolute paths of every *.json file directly inside
// dir (non-recursive). Missing directories return an empty slice, not an
// error, since a subtree that was never written to is a valid empty state.
func ListJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fsutil: list %s", dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".json" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// ListDirs returns the absolute paths of every subdirectory directly
// inside dir (non-recursive). Missing directories return an empty slice.
func ListDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fsutil: list dirs %s", dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// Delete removes path. A missing file is not an error: deletes are
// expected to be idempotent so that a crash between export and cache
// truncation can simply be retried.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "fsutil: delete %s", path)
	}
	return nil
}

// Move renames src to dst, creating dst's parent directory if needed. Used
// to relocate a cache file into the quarantine tree.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "fsutil: create quarantine parent")
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "fsutil: move %s to %s", src, dst)
	}
	return nil
}

// fsyncDir fsyncs a directory's metadata, ensuring a rename into it is
// durable. Not supported on all platforms for all filesystems, but is the
// standard idiom for atomic file publication on POSIX systems.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "fsutil: open dir %s for fsync", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "fsutil: fsync dir %s", dir)
	}
	return nil
}
