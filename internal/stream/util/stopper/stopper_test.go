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

package stopper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStopClosesStoppingAndCancelsContext(t *testing.T) {
	ctx := WithContext(context.Background())
	ctx.Stop(time.Second)

	select {
	case <-ctx.Stopping():
	default:
		t.Fatal("Stopping channel should be closed after Stop")
	}
	assert.Error(t, ctx.Err())
}

func TestWaitReturnsFirstGoroutineError(t *testing.T) {
	ctx := WithContext(context.Background())
	boom := errors.New("boom")
	ctx.Go(func() error { return boom })
	ctx.Go(func() error { return nil })

	err := ctx.Wait()
	assert.Equal(t, boom, err)
}

func TestWaitIgnoresContextCanceled(t *testing.T) {
	ctx := WithContext(context.Background())
	ctx.Go(func() error { return context.Canceled })

	assert.NoError(t, ctx.Wait())
}

func TestStopWaitsForRunningGoroutines(t *testing.T) {
	ctx := WithContext(context.Background())
	started := make(chan struct{})
	finished := make(chan struct{})
	ctx.Go(func() error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	})

	<-started
	ctx.Stop(time.Second)

	select {
	case <-finished:
	default:
		t.Fatal("Stop should have waited for the running goroutine")
	}
}
