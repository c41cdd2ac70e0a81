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

// Package dispatcher implements OperationsDispatcher: converts one
// CommitFrame into zero or more NormalizedRecord writes, then advances the
// cursor, per spec.md §4.2. A single Dispatcher instance is meant to be
// driven by exactly one goroutine; it is not safe for concurrent Dispatch
// calls.
package dispatcher

import (
	"context"
	"time"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/handler"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/registry"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MaxWriteRetries is the default per-handler write attempt budget named in
// spec.md §6's max_write_retries option.
const MaxWriteRetries = 3

// WriteRetryBackoff is the fixed linear backoff between inline write
// retries, per spec.md §4.2.
const WriteRetryBackoff = 50 * time.Millisecond

// CursorPersistenceError wraps a failed cursor_store.set call. It is
// fatal to the dispatcher per spec.md §7, since the frame's writes cannot
// be proven durable without a recorded cursor advance to bound replay.
type CursorPersistenceError struct {
	Offset types.StreamOffset
	Err    error
}

func (e *CursorPersistenceError) Error() string {
	return "dispatcher: cursor persistence failed at offset " + string(e.Offset) + ": " + e.Err.Error()
}
func (e *CursorPersistenceError) Unwrap() error { return e.Err }

// Processors looks up a types.RecordProcessor by wire collection name.
type Processors map[string]types.RecordProcessor

// Dispatcher is the OperationsDispatcher.
type Dispatcher struct {
	Processors  Processors
	Handlers    *handler.Registry
	Writer      *handler.GenericHandler
	Registry    *registry.Registry
	Cursor      types.Cursor
	MaxRetries  int
}

// New returns a Dispatcher wired to the given collaborators. MaxRetries
// defaults to MaxWriteRetries if zero.
func New(procs Processors, handlers *handler.Registry, writer *handler.GenericHandler, reg *registry.Registry, cur types.Cursor, maxRetries int) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = MaxWriteRetries
	}
	return &Dispatcher{
		Processors: procs, Handlers: handlers, Writer: writer,
		Registry: reg, Cursor: cur, MaxRetries: maxRetries,
	}
}

// Dispatch implements spec.md §4.2's algorithm: classify every op in the
// frame against one registry snapshot, write every routing decision with
// inline retry, then advance the cursor once all writes are attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, frame types.CommitFrame) (types.DispatchResult, error) {
	var result types.DispatchResult
	snap := d.Registry.Snapshot()

	for _, op := range frame.Ops {
		proc, ok := d.Processors[op.Collection]
		if !ok {
			result.Skipped++
			metrics.RecordsSkipped.Inc()
			continue
		}

		decisions, err := proc.Process(ctx, frame, op, snap)
		if err != nil {
			result.Errors++
			log.WithError(err).WithField("collection", op.Collection).Warn("dispatcher: processor error")
			continue
		}

		for _, decision := range decisions {
			cfg, ok := d.Handlers.Lookup(decision.HandlerKey)
			if !ok {
				result.Skipped++
				metrics.RecordsSkipped.Inc()
				continue
			}
			if err := d.writeWithRetry(ctx, cfg, decision.Record); err != nil {
				result.Errors++
				metrics.RecordsDropped.WithLabelValues(string(decision.HandlerKey)).Inc()
				log.WithError(err).WithField("handler", decision.HandlerKey).Warn("dispatcher: write failed, giving up")
				continue
			}
			result.Written++
		}
	}

	if err := d.Cursor.Set(ctx, frame.StreamOffset); err != nil {
		return result, &CursorPersistenceError{Offset: frame.StreamOffset, Err: err}
	}
	return result, nil
}

// writeWithRetry makes up to MaxRetries write attempts in total, with
// linear backoff after each transient failure; fatal errors (invalid record, path violation) are
// not retried.
func (d *Dispatcher) writeWithRetry(ctx context.Context, cfg handler.Config, rec types.NormalizedRecord) error {
	var lastErr error
	for attempt := 0; attempt < d.MaxRetries; attempt++ {
		err := d.Writer.Write(ctx, cfg, rec)
		if err == nil {
			return nil
		}
		if handler.IsFatal(err) {
			return err
		}
		lastErr = err
		select {
		case <-time.After(WriteRetryBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrap(lastErr, "dispatcher: exhausted write retries")
}
