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

// Package path computes cache-relative paths from a NormalizedRecord. Every
// function here is pure: the same record always maps to the same path,
// satisfying spec.md invariant 1.
package path

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
)

// ErrPathViolation is returned when a nested segment would escape the
// configured subtree, e.g. an author id or record key that contains a path
// separator or is "." or "..".
var ErrPathViolation = fmt.Errorf("path: nested segment escapes subtree")

// Segments returns the directory segments (relative to the cache root) that
// a NormalizedRecord, routed under the given HandlerKey, should be written
// under — not including the filename.
func Segments(key types.HandlerKey, rec types.NormalizedRecord) ([]string, error) {
	base := strings.Split(string(key), "/")

	switch key {
	case types.HandlerLike, types.HandlerLikeOnUserPost:
		suffix, err := uriSuffix(rec.SubjectURI)
		if err != nil {
			return nil, err
		}
		return append(base, suffix), nil
	case types.HandlerReplyToUserPost:
		suffix, err := uriSuffix(rec.ParentURI)
		if err != nil {
			return nil, err
		}
		return append(base, suffix), nil
	case types.HandlerFollowFollower, types.HandlerFollowFollowee:
		return base, nil
	case types.HandlerInNetworkPost:
		aid, err := sanitizeSegment(rec.AuthorID)
		if err != nil {
			return nil, err
		}
		return append(base, aid), nil
	default:
		return base, nil
	}
}

// Filename returns the deterministic filename (not including directory)
// for a record. It is a pure function of the record's content so that
// replays overwrite the same file rather than accumulating duplicates,
// satisfying spec.md invariant 1.
func Filename(key types.HandlerKey, rec types.NormalizedRecord) (string, error) {
	aid, err := sanitizeSegment(rec.AuthorID)
	if err != nil {
		return "", err
	}
	rk, err := sanitizeSegment(rec.RecordKey())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("author_id=%s_record_key=%s.json", aid, rk), nil
}

// FullPath composes cacheRoot, Segments and Filename into a single path,
// joined with filepath.Join (OS-specific separators).
func FullPath(cacheRoot string, key types.HandlerKey, rec types.NormalizedRecord) (string, error) {
	segs, err := Segments(key, rec)
	if err != nil {
		return "", err
	}
	name, err := Filename(key, rec)
	if err != nil {
		return "", err
	}
	parts := append([]string{cacheRoot}, segs...)
	parts = append(parts, name)
	return filepath.Join(parts...), nil
}

// SubtreeRoot returns the root directory of a HandlerKey's subtree, joined
// onto cacheRoot, e.g. "{cacheRoot}/study_user_activity/create/post".
func SubtreeRoot(cacheRoot string, key types.HandlerKey) string {
	return filepath.Join(append([]string{cacheRoot}, strings.Split(string(key), "/")...)...)
}

// uriSuffix derives a filesystem-safe nested directory segment from an
// AT-URI, used to shard like/reply subtrees by subject or parent. The
// suffix is a hex digest of the full URI so that two different URIs never
// collide and the result never contains path separators.
func uriSuffix(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("path: empty uri for nested segment")
	}
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:16]), nil
}

// sanitizeSegment rejects any path component that could escape the
// configured subtree (path separators or "..") and returns the original
// value otherwise, per spec.md's PathViolationError contract.
func sanitizeSegment(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("path: empty path segment")
	}
	if strings.ContainsAny(s, "/\\") || s == ".." || s == "." {
		return "", ErrPathViolation
	}
	return s, nil
}
