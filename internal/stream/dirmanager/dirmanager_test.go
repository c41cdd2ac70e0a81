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

package dirmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
)

func TestEnsureLayoutCreatesEveryStaticSubtree(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.EnsureLayout())
	require.NoError(t, m.Verify())
}

func TestVerifyFailsWhenSubtreeMissing(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.EnsureLayout())
	require.NoError(t, os.RemoveAll(filepath.Join(root, "study_user_activity", "create", "post")))

	assert.Error(t, m.Verify())
}

func TestRebuildSubtreeRemovesFilesButKeepsDir(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.EnsureLayout())

	dir := filepath.Join(root, "study_user_activity", "create", "post")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rec.json"), []byte("{}"), 0o644))

	require.NoError(t, m.RebuildSubtree(types.HandlerPost))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsureDirCreatesMissingParents(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, m.EnsureDir(nested))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
