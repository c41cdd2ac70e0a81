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

package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsZeroValueBeforeAnySet(t *testing.T) {
	var v Var[int]
	val, _ := v.Get()
	assert.Equal(t, 0, val)
}

func TestSetThenGetReturnsLatestValue(t *testing.T) {
	var v Var[string]
	v.Set("first")
	val, _ := v.Get()
	assert.Equal(t, "first", val)

	v.Set("second")
	val, _ = v.Get()
	assert.Equal(t, "second", val)
}

func TestChangedChannelClosesOnSet(t *testing.T) {
	var v Var[int]
	_, changed := v.Get()

	done := make(chan struct{})
	go func() {
		<-changed
		close(done)
	}()

	v.Set(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("changed channel did not close after Set")
	}
}

func TestEachGetReceivesItsOwnChannel(t *testing.T) {
	var v Var[int]
	v.Set(1)
	_, c1 := v.Get()

	v.Set(2)
	_, c2 := v.Get()

	select {
	case <-c1:
	default:
		t.Fatal("channel from before the second Set should already be closed")
	}

	select {
	case <-c2:
		t.Fatal("channel from after the second Set should still be open")
	default:
	}
	require.NotEqual(t, c1, c2)
}
