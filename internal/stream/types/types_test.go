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

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamOffsetZero(t *testing.T) {
	assert.True(t, StreamOffset("").Zero())
	assert.False(t, StreamOffset("100").Zero())
}

func TestRawOpURIBuildsAtURI(t *testing.T) {
	op := RawOp{Collection: CollectionPost, RecordKey: "p1"}
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/p1", op.URI("did:plc:abc"))
}

func TestNormalizedRecordRecordKeyExtractsLastSegment(t *testing.T) {
	r := NormalizedRecord{RecordURI: "at://did:plc:abc/app.bsky.feed.post/xyz"}
	assert.Equal(t, "xyz", r.RecordKey())
}

func TestNormalizedRecordRecordKeyWithNoSlashReturnsWholeString(t *testing.T) {
	r := NormalizedRecord{RecordURI: "xyz"}
	assert.Equal(t, "xyz", r.RecordKey())
}

func TestDispatchResultAddAccumulates(t *testing.T) {
	d := DispatchResult{Written: 1, Skipped: 2, Errors: 3}
	d.Add(DispatchResult{Written: 10, Skipped: 20, Errors: 30})
	assert.Equal(t, DispatchResult{Written: 11, Skipped: 22, Errors: 33}, d)
}

func TestPartitionDateUsesUTCCalendarDay(t *testing.T) {
	// 11pm Pacific on Feb 28 is already Mar 1 in UTC.
	loc := time.FixedZone("PST", -8*60*60)
	local := time.Date(2026, 2, 28, 23, 0, 0, 0, loc)
	assert.Equal(t, "2026-03-01", PartitionDate(local))
}

func TestRealClockNowIsUTC(t *testing.T) {
	now := RealClock{}.Now()
	assert.Equal(t, time.UTC, now.Location())
}
