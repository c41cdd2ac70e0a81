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

package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
)

type fakeSnapshot struct {
	studyUsers     map[string]struct{}
	inNetworkUsers map[string]struct{}
	postIndex      map[string]string
}

func (s fakeSnapshot) IsStudyUser(actorID string) bool {
	_, ok := s.studyUsers[actorID]
	return ok
}

func (s fakeSnapshot) IsInNetworkUser(actorID string) bool {
	_, ok := s.inNetworkUsers[actorID]
	return ok
}

func (s fakeSnapshot) StudyUserPostAuthor(postURI string) string {
	return s.postIndex[postURI]
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testClock = fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

func TestPostProcessorStudyUserPost(t *testing.T) {
	p := &PostProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:study1"}
	op := types.RawOp{Kind: types.OpCreate, Collection: types.CollectionPost, RecordKey: "p1"}
	snap := fakeSnapshot{studyUsers: map[string]struct{}{"did:plc:study1": {}}}

	decisions, err := p.Process(context.Background(), frame, op, snap)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, types.HandlerPost, decisions[0].HandlerKey)
	assert.Equal(t, "2026-03-01", decisions[0].Record.PartitionDate)
}

func TestPostProcessorInNetworkAndStudyBothFire(t *testing.T) {
	p := &PostProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:study1"}
	op := types.RawOp{Kind: types.OpCreate, Collection: types.CollectionPost, RecordKey: "p1"}
	snap := fakeSnapshot{
		studyUsers:     map[string]struct{}{"did:plc:study1": {}},
		inNetworkUsers: map[string]struct{}{"did:plc:study1": {}},
	}

	decisions, err := p.Process(context.Background(), frame, op, snap)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	keys := []types.HandlerKey{decisions[0].HandlerKey, decisions[1].HandlerKey}
	assert.Contains(t, keys, types.HandlerPost)
	assert.Contains(t, keys, types.HandlerInNetworkPost)
}

func TestPostProcessorReplyToStudyUserPost(t *testing.T) {
	p := &PostProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:stranger"}
	op := types.RawOp{
		Kind: types.OpCreate, Collection: types.CollectionPost, RecordKey: "r1",
		Payload: map[string]any{
			"reply": map[string]any{
				"parent": map[string]any{"uri": "at://did:plc:study1/app.bsky.feed.post/p1"},
			},
		},
	}
	snap := fakeSnapshot{
		postIndex: map[string]string{"at://did:plc:study1/app.bsky.feed.post/p1": "did:plc:study1"},
	}

	decisions, err := p.Process(context.Background(), frame, op, snap)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, types.HandlerReplyToUserPost, decisions[0].HandlerKey)
	assert.Equal(t, "at://did:plc:study1/app.bsky.feed.post/p1", decisions[0].Record.ParentURI)
}

func TestPostProcessorDeleteRoutesToDeleteHandler(t *testing.T) {
	p := &PostProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:study1"}
	op := types.RawOp{Kind: types.OpDelete, Collection: types.CollectionPost, RecordKey: "p1"}

	decisions, err := p.Process(context.Background(), frame, op, fakeSnapshot{})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, types.HandlerDelete, decisions[0].HandlerKey)
	assert.Equal(t, types.RecordDelete, decisions[0].Record.Op)
}

func TestPostProcessorNonMemberSkipped(t *testing.T) {
	p := &PostProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:stranger"}
	op := types.RawOp{Kind: types.OpCreate, Collection: types.CollectionPost, RecordKey: "p1"}

	decisions, err := p.Process(context.Background(), frame, op, fakeSnapshot{})
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestLikeProcessorLikeOnUserPost(t *testing.T) {
	p := &LikeProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:stranger"}
	op := types.RawOp{
		Kind: types.OpCreate, Collection: types.CollectionLike, RecordKey: "l1",
		Payload: map[string]any{"subject": map[string]any{"uri": "at://did:plc:study1/app.bsky.feed.post/p1"}},
	}
	snap := fakeSnapshot{postIndex: map[string]string{"at://did:plc:study1/app.bsky.feed.post/p1": "did:plc:study1"}}

	decisions, err := p.Process(context.Background(), frame, op, snap)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, types.HandlerLikeOnUserPost, decisions[0].HandlerKey)
}

func TestLikeProcessorBothDirectionsFire(t *testing.T) {
	p := &LikeProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:study1"}
	op := types.RawOp{
		Kind: types.OpCreate, Collection: types.CollectionLike, RecordKey: "l1",
		Payload: map[string]any{"subject": map[string]any{"uri": "at://did:plc:study1/app.bsky.feed.post/p1"}},
	}
	snap := fakeSnapshot{
		studyUsers: map[string]struct{}{"did:plc:study1": {}},
		postIndex:  map[string]string{"at://did:plc:study1/app.bsky.feed.post/p1": "did:plc:study1"},
	}

	decisions, err := p.Process(context.Background(), frame, op, snap)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)
}

func TestFollowProcessorBidirectional(t *testing.T) {
	p := &FollowProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:study1"}
	op := types.RawOp{
		Kind: types.OpCreate, Collection: types.CollectionFollow, RecordKey: "f1",
		Payload: map[string]any{"subject": "did:plc:study2"},
	}
	snap := fakeSnapshot{studyUsers: map[string]struct{}{"did:plc:study1": {}, "did:plc:study2": {}}}

	decisions, err := p.Process(context.Background(), frame, op, snap)
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	var statuses []types.FollowStatus
	for _, d := range decisions {
		statuses = append(statuses, d.Record.FollowStatus)
	}
	assert.Contains(t, statuses, types.FollowStatusFollower)
	assert.Contains(t, statuses, types.FollowStatusFollowee)
}

func TestFollowProcessorFollowerOnly(t *testing.T) {
	p := &FollowProcessor{Clock: testClock}
	frame := types.CommitFrame{ActorID: "did:plc:study1"}
	op := types.RawOp{
		Kind: types.OpCreate, Collection: types.CollectionFollow, RecordKey: "f1",
		Payload: map[string]any{"subject": "did:plc:stranger"},
	}
	snap := fakeSnapshot{studyUsers: map[string]struct{}{"did:plc:study1": {}}}

	decisions, err := p.Process(context.Background(), frame, op, snap)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, types.HandlerFollowFollower, decisions[0].HandlerKey)
}
