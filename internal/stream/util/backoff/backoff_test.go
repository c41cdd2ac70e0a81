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

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextNeverExceedsCap(t *testing.T) {
	p := NewPolicy(time.Second, 10*time.Second)
	for i := 0; i < 20; i++ {
		d := p.Next()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Second+1)
	}
}

func TestResetRestartsFromBase(t *testing.T) {
	p := NewPolicy(time.Second, 60*time.Second)
	for i := 0; i < 10; i++ {
		p.Next()
	}
	p.Reset()
	d := p.Next()
	assert.Less(t, d, 2*time.Second)
}
