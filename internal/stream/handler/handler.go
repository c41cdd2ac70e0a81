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

// Package handler implements HandlerRegistry and GenericHandler: the
// config-driven writers that persist a NormalizedRecord to its cache
// subtree, per spec.md §4.4.
package handler

import (
	"context"
	"path/filepath"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/dirmanager"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/fsutil"
	streampath "github.com/METResearchGroup/bluesky-research-sub004/internal/stream/path"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/metrics"
	"github.com/pkg/errors"
)

// ReadStrategy tags how BatchExporter should enumerate a subtree.
type ReadStrategy string

// The read strategies named in spec.md §4.4.
const (
	ReadFlat              ReadStrategy = "flat"
	ReadNestedByURI        ReadStrategy = "nested_by_uri"
	ReadSplitByFollowStatus ReadStrategy = "split_by_follow_status"
	ReadSplitByAuthor      ReadStrategy = "split_by_author"
)

// InvalidRecordError marks a record missing a required field. It is fatal
// for the decision that produced it and is never retried by the
// dispatcher.
type InvalidRecordError struct {
	Reason string
}

func (e *InvalidRecordError) Error() string { return "handler: invalid record: " + e.Reason }

// PathViolationError wraps streampath.ErrPathViolation with handler
// context. Fatal, logged, discarded — never retried.
type PathViolationError struct {
	Key types.HandlerKey
	Err error
}

func (e *PathViolationError) Error() string {
	return "handler: path violation in " + string(e.Key) + ": " + e.Err.Error()
}
func (e *PathViolationError) Unwrap() error { return e.Err }

// IsFatal reports whether err should never be retried by the dispatcher:
// invalid records and path violations are caller mistakes, not transient
// conditions.
func IsFatal(err error) bool {
	var invalid *InvalidRecordError
	var violation *PathViolationError
	return errors.As(err, &invalid) || errors.As(err, &violation)
}

// Config describes one HandlerKey's write behavior, mirroring spec.md
// §4.4's HandlerConfig fields. PathStrategy/NestedPathExtractor are
// implicit in streampath.Segments/Filename; Config instead carries the
// validation and read-strategy metadata that varies per subtree.
type Config struct {
	Key                   types.HandlerKey
	Dataset               string
	ReadStrategy          ReadStrategy
	RequiresFollowStatus  bool
	RequiresSubjectURI    bool
	RequiresParentURI     bool
}

// Registry maps HandlerKey to Config and is consulted by both the
// dispatcher (to find a GenericHandler) and the exporter (to find a
// ReadStrategy and Dataset).
type Registry struct {
	configs map[types.HandlerKey]Config
}

// NewRegistry returns a Registry populated with the static handler
// configuration named in spec.md §6's cache layout and §6's dataset
// mapping.
func NewRegistry() *Registry {
	r := &Registry{configs: map[types.HandlerKey]Config{
		types.HandlerPost: {
			Key: types.HandlerPost, Dataset: "study_user_activity_post", ReadStrategy: ReadFlat,
		},
		types.HandlerLike: {
			Key: types.HandlerLike, Dataset: "study_user_activity_like", ReadStrategy: ReadNestedByURI,
			RequiresSubjectURI: true,
		},
		types.HandlerFollowFollower: {
			Key: types.HandlerFollowFollower, Dataset: "scraped_user_social_network", ReadStrategy: ReadSplitByFollowStatus,
			RequiresFollowStatus: true,
		},
		types.HandlerFollowFollowee: {
			Key: types.HandlerFollowFollowee, Dataset: "scraped_user_social_network", ReadStrategy: ReadSplitByFollowStatus,
			RequiresFollowStatus: true,
		},
		types.HandlerLikeOnUserPost: {
			Key: types.HandlerLikeOnUserPost, Dataset: "study_user_activity_like_on_user_post", ReadStrategy: ReadNestedByURI,
			RequiresSubjectURI: true,
		},
		types.HandlerReplyToUserPost: {
			Key: types.HandlerReplyToUserPost, Dataset: "study_user_activity_reply_to_user_post", ReadStrategy: ReadNestedByURI,
			RequiresParentURI: true,
		},
		types.HandlerDelete: {
			Key: types.HandlerDelete, Dataset: "", ReadStrategy: ReadFlat,
		},
		types.HandlerInNetworkPost: {
			Key: types.HandlerInNetworkPost, Dataset: "in_network_user_activity", ReadStrategy: ReadSplitByAuthor,
		},
	}}
	return r
}

// Lookup returns the Config for key, or false if no handler is configured
// for it (a classification miss, per spec.md §7).
func (r *Registry) Lookup(key types.HandlerKey) (Config, bool) {
	c, ok := r.configs[key]
	return c, ok
}

// All returns every configured HandlerKey, used by BatchExporter to
// enumerate subtrees.
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	return out
}

// GenericHandler writes a NormalizedRecord to its configured cache
// subtree under cacheRoot, per spec.md §4.4's write algorithm.
type GenericHandler struct {
	CacheRoot string
	Dirs      *dirmanager.Manager
}

// NewGenericHandler returns a GenericHandler rooted at cacheRoot.
func NewGenericHandler(cacheRoot string, dirs *dirmanager.Manager) *GenericHandler {
	return &GenericHandler{CacheRoot: cacheRoot, Dirs: dirs}
}

// Write validates cfg's required-field constraints, computes the
// deterministic path, and performs the atomic write. Errors are either
// *InvalidRecordError, *PathViolationError (both fatal, never retried by
// the dispatcher), or a wrapped transient I/O error (retried).
func (h *GenericHandler) Write(_ context.Context, cfg Config, rec types.NormalizedRecord) error {
	if err := validate(cfg, rec); err != nil {
		return err
	}

	full, err := streampath.FullPath(h.CacheRoot, cfg.Key, rec)
	if err != nil {
		return &PathViolationError{Key: cfg.Key, Err: err}
	}

	if err := h.Dirs.EnsureDir(filepath.Dir(full)); err != nil {
		return errors.Wrap(err, "handler: ensure dir")
	}

	if err := fsutil.WriteJSON(full, rec); err != nil {
		return errors.Wrap(err, "handler: write record")
	}
	metrics.RecordsWritten.WithLabelValues(string(cfg.Key)).Inc()
	return nil
}

func validate(cfg Config, rec types.NormalizedRecord) error {
	if rec.AuthorID == "" {
		return &InvalidRecordError{Reason: "missing author_id"}
	}
	if rec.RecordURI == "" {
		return &InvalidRecordError{Reason: "missing record_uri"}
	}
	if cfg.RequiresFollowStatus && rec.FollowStatus == types.FollowStatusNone {
		return &InvalidRecordError{Reason: "missing follow_status"}
	}
	if cfg.RequiresSubjectURI && rec.SubjectURI == "" {
		return &InvalidRecordError{Reason: "missing subject_uri"}
	}
	if cfg.RequiresParentURI && rec.ParentURI == "" {
		return &InvalidRecordError{Reason: "missing parent_uri"}
	}
	return nil
}
