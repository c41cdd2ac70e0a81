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

package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// membershipRow is one line of the registry snapshot, per spec.md §6's
// "line-delimited JSON" format. in_network and study are not mutually
// exclusive: a study user is always also in-network, but the two sets are
// tracked independently per spec.md invariant 3.
type membershipRow struct {
	ActorID        string `json:"actor_id"`
	Study          bool   `json:"study"`
	InNetwork      bool   `json:"in_network"`
	PostURI        string `json:"post_uri,omitempty"`
}

// FileSource loads a membership snapshot from a line-delimited JSON file
// on disk (or a mounted object-store path), per spec.md §6.
type FileSource struct {
	Path string
}

var _ Source = (*FileSource)(nil)

// NewFileSource returns a FileSource reading from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Load implements Source.
func (s *FileSource) Load(_ context.Context) (studyUsers, inNetworkUsers map[string]struct{}, postIndex map[string]string, err error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "registry: open snapshot file")
	}
	defer f.Close()

	studyUsers = map[string]struct{}{}
	inNetworkUsers = map[string]struct{}{}
	postIndex = map[string]string{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row membershipRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "registry: parse snapshot line %d", lineNo)
		}
		if row.ActorID == "" {
			continue
		}
		if row.Study {
			studyUsers[row.ActorID] = struct{}{}
		}
		if row.InNetwork {
			inNetworkUsers[row.ActorID] = struct{}{}
		}
		if row.PostURI != "" {
			postIndex[row.PostURI] = row.ActorID
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, nil, errors.Wrap(err, "registry: scan snapshot file")
	}
	return studyUsers, inNetworkUsers, postIndex, nil
}
