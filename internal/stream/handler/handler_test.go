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

package handler

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/dirmanager"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/fsutil"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
)

func TestRegistryLookupKnownAndUnknown(t *testing.T) {
	r := NewRegistry()

	cfg, ok := r.Lookup(types.HandlerPost)
	require.True(t, ok)
	assert.Equal(t, "study_user_activity_post", cfg.Dataset)

	_, ok = r.Lookup(types.HandlerKey("nonexistent"))
	assert.False(t, ok)
}

func TestRegistryAllCoversEveryHandlerKey(t *testing.T) {
	r := NewRegistry()
	all := r.All()
	assert.Len(t, all, 8)
}

func newTestHandler(t *testing.T) *GenericHandler {
	root := t.TempDir()
	dirs := dirmanager.New(root)
	require.NoError(t, dirs.EnsureLayout())
	return NewGenericHandler(root, dirs)
}

func TestGenericHandlerWriteThenRead(t *testing.T) {
	h := newTestHandler(t)
	cfg, _ := NewRegistry().Lookup(types.HandlerPost)
	rec := types.NormalizedRecord{
		AuthorID:  "did:plc:study1",
		RecordURI: "at://did:plc:study1/app.bsky.feed.post/p1",
	}

	require.NoError(t, h.Write(context.Background(), cfg, rec))

	full, err := os.ReadFile(h.CacheRoot + "/study_user_activity/create/post/author_id=did:plc:study1_record_key=p1.json")
	require.NoError(t, err)
	assert.Contains(t, string(full), "did:plc:study1")
}

func TestGenericHandlerWriteIsIdempotent(t *testing.T) {
	h := newTestHandler(t)
	cfg, _ := NewRegistry().Lookup(types.HandlerPost)
	rec := types.NormalizedRecord{
		AuthorID:  "did:plc:study1",
		RecordURI: "at://did:plc:study1/app.bsky.feed.post/p1",
	}

	require.NoError(t, h.Write(context.Background(), cfg, rec))
	require.NoError(t, h.Write(context.Background(), cfg, rec))

	files, err := fsutil.ListJSON(h.CacheRoot + "/study_user_activity/create/post")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestGenericHandlerWriteRejectsMissingSubjectURI(t *testing.T) {
	h := newTestHandler(t)
	cfg, _ := NewRegistry().Lookup(types.HandlerLike)
	rec := types.NormalizedRecord{
		AuthorID:  "did:plc:study1",
		RecordURI: "at://did:plc:study1/app.bsky.feed.like/l1",
	}

	err := h.Write(context.Background(), cfg, rec)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestGenericHandlerWriteRejectsMissingFollowStatus(t *testing.T) {
	h := newTestHandler(t)
	cfg, _ := NewRegistry().Lookup(types.HandlerFollowFollower)
	rec := types.NormalizedRecord{
		AuthorID:  "did:plc:study1",
		RecordURI: "at://did:plc:study1/app.bsky.graph.follow/f1",
	}

	err := h.Write(context.Background(), cfg, rec)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestIsFatalFalseForNilOrGenericError(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(os.ErrClosed))
}
