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

// Package processor implements the per-record-type RecordProcessors:
// functions from a RawOp plus a RegistrySnapshot to zero or more routing
// decisions. Each processor attaches synctimestamp and partition_date
// before returning. They have no side effects except PostProcessor, which
// records study-user posts in the registry overlay.
package processor

import (
	"context"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/registry"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
)

// replyParent extracts the optional reply-parent URI from a RawOp's
// payload, if present, following the AT Protocol lexicon shape
// `{"reply": {"parent": {"uri": "..."}}}`.
func replyParent(payload map[string]any) string {
	reply, ok := payload["reply"].(map[string]any)
	if !ok {
		return ""
	}
	parent, ok := reply["parent"].(map[string]any)
	if !ok {
		return ""
	}
	uri, _ := parent["uri"].(string)
	return uri
}

// subjectURI extracts the `subject.uri` field a LIKE or FOLLOW record
// carries.
func subjectURI(payload map[string]any) string {
	switch subj := payload["subject"].(type) {
	case map[string]any:
		uri, _ := subj["uri"].(string)
		return uri
	case string:
		return subj
	default:
		return ""
	}
}

func stamp(rec types.NormalizedRecord, clock types.Clock) types.NormalizedRecord {
	rec.SyncTimestamp = clock.Now()
	rec.PartitionDate = types.PartitionDate(rec.SyncTimestamp)
	return rec
}

func baseRecord(op types.RawOp, frame types.CommitFrame, recordType types.RecordType) types.NormalizedRecord {
	opKind := types.RecordCreate
	if op.Kind == types.OpDelete {
		opKind = types.RecordDelete
	}
	return types.NormalizedRecord{
		Op:         opKind,
		RecordType: recordType,
		AuthorID:   frame.ActorID,
		RecordURI:  op.URI(frame.ActorID),
		RawFields:  op.Payload,
	}
}

// PostProcessor handles app.bsky.feed.post, including replies, per
// spec.md §4.3's POST and REPLY contracts: a reply is treated as a post for
// in-network/study-user classification, with an additional
// REPLY_TO_USER_POST decision when the parent is a study user's post.
type PostProcessor struct {
	Clock    types.Clock
	Registry *registry.Registry
}

var _ types.RecordProcessor = (*PostProcessor)(nil)

// Collection implements types.RecordProcessor.
func (p *PostProcessor) Collection() string { return types.CollectionPost }

// Process implements types.RecordProcessor.
func (p *PostProcessor) Process(_ context.Context, frame types.CommitFrame, op types.RawOp, snap types.RegistrySnapshot) ([]types.RoutingDecision, error) {
	if op.Kind == types.OpDelete {
		return []types.RoutingDecision{{
			Record:     stamp(baseRecord(op, frame, types.RecordTypePost), p.Clock),
			HandlerKey: types.HandlerDelete,
		}}, nil
	}

	var decisions []types.RoutingDecision
	isStudyUser := snap.IsStudyUser(frame.ActorID)
	isInNetwork := snap.IsInNetworkUser(frame.ActorID)

	if isStudyUser {
		rec := stamp(baseRecord(op, frame, types.RecordTypePost), p.Clock)
		decisions = append(decisions, types.RoutingDecision{Record: rec, HandlerKey: types.HandlerPost})
		if p.Registry != nil {
			p.Registry.InsertStudyUserPost(rec.RecordURI, rec.AuthorID)
		}
	}
	if isInNetwork {
		rec := stamp(baseRecord(op, frame, types.RecordTypeInNetworkPost), p.Clock)
		decisions = append(decisions, types.RoutingDecision{Record: rec, HandlerKey: types.HandlerInNetworkPost})
	}

	if parent := replyParent(op.Payload); parent != "" {
		if author := snap.StudyUserPostAuthor(parent); author != "" {
			rec := stamp(baseRecord(op, frame, types.RecordTypeReplyToUserPost), p.Clock)
			rec.ParentURI = parent
			decisions = append(decisions, types.RoutingDecision{Record: rec, HandlerKey: types.HandlerReplyToUserPost})
		}
	}
	return decisions, nil
}

// LikeProcessor handles app.bsky.feed.like per spec.md §4.3's LIKE
// contract.
type LikeProcessor struct {
	Clock types.Clock
}

var _ types.RecordProcessor = (*LikeProcessor)(nil)

// Collection implements types.RecordProcessor.
func (p *LikeProcessor) Collection() string { return types.CollectionLike }

// Process implements types.RecordProcessor.
func (p *LikeProcessor) Process(_ context.Context, frame types.CommitFrame, op types.RawOp, snap types.RegistrySnapshot) ([]types.RoutingDecision, error) {
	if op.Kind == types.OpDelete {
		return []types.RoutingDecision{{
			Record:     stamp(baseRecord(op, frame, types.RecordTypeLike), p.Clock),
			HandlerKey: types.HandlerDelete,
		}}, nil
	}

	var decisions []types.RoutingDecision
	subject := subjectURI(op.Payload)

	if snap.IsStudyUser(frame.ActorID) {
		rec := stamp(baseRecord(op, frame, types.RecordTypeLike), p.Clock)
		rec.SubjectURI = subject
		decisions = append(decisions, types.RoutingDecision{Record: rec, HandlerKey: types.HandlerLike})
	}
	if subject != "" {
		if author := snap.StudyUserPostAuthor(subject); author != "" {
			rec := stamp(baseRecord(op, frame, types.RecordTypeLikeOnUserPost), p.Clock)
			rec.SubjectURI = subject
			decisions = append(decisions, types.RoutingDecision{Record: rec, HandlerKey: types.HandlerLikeOnUserPost})
		}
	}
	return decisions, nil
}

// FollowProcessor handles app.bsky.graph.follow per spec.md §4.3's FOLLOW
// contract: either or both directions may fire, tagged by follow_status.
type FollowProcessor struct {
	Clock types.Clock
}

var _ types.RecordProcessor = (*FollowProcessor)(nil)

// Collection implements types.RecordProcessor.
func (p *FollowProcessor) Collection() string { return types.CollectionFollow }

// Process implements types.RecordProcessor.
func (p *FollowProcessor) Process(_ context.Context, frame types.CommitFrame, op types.RawOp, snap types.RegistrySnapshot) ([]types.RoutingDecision, error) {
	if op.Kind == types.OpDelete {
		return []types.RoutingDecision{{
			Record:     stamp(baseRecord(op, frame, types.RecordTypeFollow), p.Clock),
			HandlerKey: types.HandlerDelete,
		}}, nil
	}

	var decisions []types.RoutingDecision
	subject := subjectURI(op.Payload)

	if snap.IsStudyUser(frame.ActorID) {
		rec := stamp(baseRecord(op, frame, types.RecordTypeFollow), p.Clock)
		rec.SubjectURI = subject
		rec.FollowStatus = types.FollowStatusFollower
		decisions = append(decisions, types.RoutingDecision{Record: rec, HandlerKey: types.HandlerFollowFollower})
	}
	if subject != "" && snap.IsStudyUser(subject) {
		rec := stamp(baseRecord(op, frame, types.RecordTypeFollow), p.Clock)
		rec.SubjectURI = subject
		rec.FollowStatus = types.FollowStatusFollowee
		decisions = append(decisions, types.RoutingDecision{Record: rec, HandlerKey: types.HandlerFollowFollowee})
	}
	return decisions, nil
}
