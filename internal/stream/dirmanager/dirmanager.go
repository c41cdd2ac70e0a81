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

// Package dirmanager creates, verifies, and tears down the JSON cache's
// directory tree.
package dirmanager

import (
	"os"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/pkg/errors"
)

// Layout is the fixed set of cache subtrees the stream engine writes into,
// matching spec.md §6's filesystem cache layout.
var Layout = []types.HandlerKey{
	types.HandlerPost,
	types.HandlerFollowFollower,
	types.HandlerFollowFollowee,
	types.HandlerDelete,
	types.HandlerInNetworkPost,
}

// Manager creates and tears down the cache directory tree rooted at Root.
// Nested subtrees (like/, like_on_user_post/, reply_to_user_post/) are
// created lazily by handlers as their nested segments are first observed,
// since their leaf directories are a function of record content.
type Manager struct {
	Root string
}

// New returns a Manager rooted at root.
func New(root string) *Manager {
	return &Manager{Root: root}
}

// EnsureLayout creates the cache root and every static subtree named in
// Layout, if they do not already exist.
func (m *Manager) EnsureLayout() error {
	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return errors.Wrap(err, "dirmanager: create cache root")
	}
	for _, key := range Layout {
		dir := subtreePath(m.Root, key)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "dirmanager: create subtree %s", key)
		}
	}
	return nil
}

// EnsureDir creates the given absolute directory path, including any
// missing parents.
func (m *Manager) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "dirmanager: create dir %s", dir)
	}
	return nil
}

// Verify checks that the cache root and every static subtree exist and are
// directories.
func (m *Manager) Verify() error {
	if err := verifyDir(m.Root); err != nil {
		return err
	}
	for _, key := range Layout {
		if err := verifyDir(subtreePath(m.Root, key)); err != nil {
			return err
		}
	}
	return nil
}

// RebuildSubtree removes a subtree and recreates it empty, used by
// BatchExporter when configured with export_clear_cache=true.
func (m *Manager) RebuildSubtree(key types.HandlerKey) error {
	dir := subtreePath(m.Root, key)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "dirmanager: remove subtree %s", key)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "dirmanager: recreate subtree %s", key)
	}
	return nil
}

func subtreePath(root string, key types.HandlerKey) string {
	return root + string(os.PathSeparator) + joinSlashes(string(key))
}

func joinSlashes(key string) string {
	out := make([]byte, len(key))
	copy(out, key)
	for i, c := range out {
		if c == '/' {
			out[i] = os.PathSeparator
		}
	}
	return string(out)
}

func verifyDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "dirmanager: verify %s", dir)
	}
	if !info.IsDir() {
		return errors.Errorf("dirmanager: %s is not a directory", dir)
	}
	return nil
}
