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

package cursor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
)

func TestFileStoreGetUnwritten(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cursor"))
	offset, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, offset.Zero())
}

func TestFileStoreSetThenGet(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cursor"))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, types.StreamOffset("42")))

	offset, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StreamOffset("42"), offset)
}

func TestFileStoreSetOverwrites(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cursor"))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, types.StreamOffset("1")))
	require.NoError(t, store.Set(ctx, types.StreamOffset("2")))

	offset, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StreamOffset("2"), offset)
}
