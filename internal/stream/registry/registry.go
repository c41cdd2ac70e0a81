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

// Package registry implements StudyUserRegistry: an in-memory, atomically
// swapped membership oracle answering whether an actor is a study user, is
// in-network, and whether a post URI belongs to a study user. Snapshots
// are published via notify.Var, the same pointer-swap idiom the teacher
// uses for resolver.marked/resolver.retirements, so readers classifying a
// frame never block the background refresher and vice versa.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/metrics"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/notify"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/stopper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Source loads the external membership data: the set of study user actor
// ids, the set of in-network actor ids, and the known study-user post
// index, per spec.md §6's "Study-user registry source" contract.
type Source interface {
	Load(ctx context.Context) (studyUsers, inNetworkUsers map[string]struct{}, postIndex map[string]string, err error)
}

// snapshot is the immutable value published through notify.Var. The
// overlay map is merged into base at publish time so that a reader sees
// one consistent, already-merged view (spec.md invariant 4).
type snapshot struct {
	studyUsers    map[string]struct{}
	inNetworkUsers map[string]struct{}
	postIndex     map[string]string
}

var _ types.RegistrySnapshot = (*snapshot)(nil)

func (s *snapshot) IsStudyUser(actorID string) bool {
	_, ok := s.studyUsers[actorID]
	return ok
}

func (s *snapshot) IsInNetworkUser(actorID string) bool {
	_, ok := s.inNetworkUsers[actorID]
	return ok
}

func (s *snapshot) StudyUserPostAuthor(postURI string) string {
	return s.postIndex[postURI]
}

// Registry is the StudyUserRegistry implementation.
type Registry struct {
	source   Source
	interval time.Duration

	published notify.Var[*snapshot]

	overlayMu sync.Mutex
	overlay   map[string]string // post uri -> author id, merged into every new snapshot
}

func newEmptySnapshot() *snapshot {
	return &snapshot{
		studyUsers:     map[string]struct{}{},
		inNetworkUsers: map[string]struct{}{},
		postIndex:      map[string]string{},
	}
}

// New returns a Registry that refreshes from source every interval. The
// registry starts with an empty snapshot; call Start to perform the
// initial load and begin the background refresh loop.
func New(source Source, interval time.Duration) *Registry {
	r := &Registry{source: source, interval: interval, overlay: map[string]string{}}
	r.published.Set(newEmptySnapshot())
	return r
}

// Snapshot returns the current immutable snapshot, to be used for the
// duration of exactly one CommitFrame's classification (spec.md invariant
// 4).
func (r *Registry) Snapshot() types.RegistrySnapshot {
	s, _ := r.published.Get()
	return s
}

// InsertStudyUserPost records a just-seen study-user post in the overlay,
// merged into a newly published snapshot so that likes/replies against it
// in later frames classify correctly without waiting for the next external
// refresh (spec.md §4.5). Ops later in the same frame are classified against
// the snapshot taken when that frame's dispatch began, which does not
// contain the new entry.
func (r *Registry) InsertStudyUserPost(postURI, authorID string) {
	r.overlayMu.Lock()
	cur, _ := r.published.Get()
	if _, known := cur.postIndex[postURI]; known {
		// The external source already reports this post; there is nothing
		// for the overlay to fill in.
		delete(r.overlay, postURI)
	} else {
		r.overlay[postURI] = authorID
	}
	merged := mergeOverlay(cur, r.overlay)
	r.overlayMu.Unlock()
	r.published.Set(merged)
}

// Start performs an initial load, then starts the background refresh loop
// under the given stopper.Context. A failed initial load is fatal to
// startup, matching spec.md §7's "Config/setup failure" policy.
func (r *Registry) Start(ctx *stopper.Context) error {
	if err := r.refresh(ctx); err != nil {
		return errors.Wrap(err, "registry: initial load")
	}
	ctx.Go(func() error {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.refresh(ctx); err != nil {
					metrics.RegistryRefreshErrors.Inc()
					log.WithError(err).Warn("registry: refresh failed, serving last good snapshot")
				}
			case <-ctx.Stopping():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return nil
}

func (r *Registry) refresh(ctx context.Context) error {
	studyUsers, inNetwork, postIndex, err := r.source.Load(ctx)
	if err != nil {
		return err
	}
	next := &snapshot{
		studyUsers:     studyUsers,
		inNetworkUsers: inNetwork,
		postIndex:      postIndex,
	}

	r.overlayMu.Lock()
	for k := range r.overlay {
		if _, ok := next.postIndex[k]; ok {
			// This successful external refresh independently reports k now,
			// so it supersedes the overlay entry, per spec.md §4.5.
			delete(r.overlay, k)
		}
	}
	merged := mergeOverlay(next, r.overlay)
	r.overlayMu.Unlock()

	r.published.Set(merged)
	log.WithFields(log.Fields{
		"study_users":  len(studyUsers),
		"in_network":   len(inNetwork),
		"known_posts":  len(postIndex),
	}).Info("registry: refreshed snapshot")
	return nil
}

// mergeOverlay copies base and fills in only the overlay entries base
// doesn't already know about, implementing the copy-on-write delta
// described in spec.md §9. The overlay is a gap-filler for posts seen
// in-process since the last external refresh, not a standing override: an
// external refresh that independently reports a post wins over whatever
// the overlay says for it, per spec.md §4.5's "until the next successful
// external refresh supersedes them."
func mergeOverlay(base *snapshot, overlay map[string]string) *snapshot {
	merged := &snapshot{
		studyUsers:     base.studyUsers,
		inNetworkUsers: base.inNetworkUsers,
		postIndex:      make(map[string]string, len(base.postIndex)+len(overlay)),
	}
	for k, v := range base.postIndex {
		merged.postIndex[k] = v
	}
	for k, v := range overlay {
		if _, ok := merged.postIndex[k]; ok {
			continue
		}
		merged.postIndex[k] = v
	}
	return merged
}
