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

// Package firehose implements FirehoseClient: a resumable connection to
// the upstream AT Protocol commit stream, parsing frames into
// types.CommitFrame and handing them to a Dispatcher in arrival order, per
// spec.md §4.1. Wire handling is built on bluesky-social/indigo's repo CAR
// reader and event scheduler, the same stack
// bluesky-social/osprey-atproto's KafkaConverter uses to consume the same
// upstream.
package firehose

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/atproto/data"
	"github.com/bluesky-social/indigo/events"
	"github.com/bluesky-social/indigo/events/schedulers/parallel"
	"github.com/bluesky-social/indigo/repo"
	"github.com/bluesky-social/indigo/repomgr"
	"github.com/gorilla/websocket"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/dispatcher"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/backoff"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/metrics"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/stopper"
)

// State is the FirehoseClient's connection state, per spec.md §4.1's state
// machine.
type State int

// The states named in spec.md §4.1.
const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateTerminated
)

// Dispatch is the narrow interface firehose.Client depends on: dispatching
// a frame and returning the number of records written, so that a full
// input buffer blocks the caller (spec.md §4.1's backpressure policy) and
// Dispatch's own cursor advance happens exactly once per frame.
type Dispatch interface {
	Dispatch(ctx context.Context, frame types.CommitFrame) (types.DispatchResult, error)
}

// Client is the FirehoseClient.
type Client struct {
	RelayHost string
	Cursor    types.Cursor
	Dispatch  Dispatch
	Backoff   *backoff.Policy

	// QueueCapacity bounds the channel between the websocket reader and the
	// single dispatcher goroutine, per spec.md §5's recommended 1024 frames.
	QueueCapacity int

	state State
}

// New returns a Client. QueueCapacity defaults to 1024 if zero.
func New(relayHost string, cur types.Cursor, dispatch Dispatch, bo *backoff.Policy, queueCapacity int) *Client {
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	if bo == nil {
		bo = backoff.NewPolicy(time.Second, 60*time.Second)
	}
	return &Client{
		RelayHost: relayHost, Cursor: cur, Dispatch: dispatch,
		Backoff: bo, QueueCapacity: queueCapacity, state: StateDisconnected,
	}
}

// State returns the client's current connection state.
func (c *Client) State() State { return c.state }

// Run blocks, reconnecting with exponential backoff on transport errors,
// until ctx.Stopping fires, at which point it drains the in-flight frame
// and returns. It never returns on recoverable errors; it returns only on
// shutdown or an unrecoverable cursor error.
func (c *Client) Run(ctx *stopper.Context) error {
	defer func() { c.state = StateTerminated }()

	offset, err := c.Cursor.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "firehose: read starting cursor")
	}

	for {
		select {
		case <-ctx.Stopping():
			return nil
		default:
		}

		c.state = StateConnecting
		if err := c.runOnce(ctx, offset); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			var cursorErr *dispatcher.CursorPersistenceError
			if errors.As(err, &cursorErr) {
				return err
			}
			c.state = StateDisconnected
			metrics.Reconnects.Inc()
			delay := c.Backoff.Next()
			log.WithError(err).WithField("retry_in", delay).Warn("firehose: connection lost, reconnecting")
			select {
			case <-time.After(delay):
			case <-ctx.Stopping():
				return nil
			}
			continue
		}
		// runOnce only returns nil on clean shutdown.
		return nil
	}
}

func (c *Client) runOnce(ctx *stopper.Context, offset types.StreamOffset) error {
	u, err := url.Parse(c.RelayHost)
	if err != nil {
		return errors.Wrap(err, "firehose: parse relay host")
	}
	if !offset.Zero() {
		q := u.Query()
		q.Set("cursor", string(offset))
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "firehose: dial")
	}
	defer conn.Close()

	c.state = StateStreaming
	c.Backoff.Reset()

	// frameCh is the single bounded FIFO between the CAR-decode workers
	// (the scheduler below runs up to 20 of these concurrently) and the
	// single dispatcher goroutine, per spec.md §5: "Dispatcher task is a
	// single worker... This guarantees that per-cursor-range writes are
	// ordered and that cursor advance is monotonic." Dispatcher itself is
	// documented as unsafe for concurrent Dispatch calls, so only
	// runDispatchLoop below is ever allowed to call it; parse workers only
	// enqueue.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frameCh := make(chan types.CommitFrame, c.QueueCapacity)
	dispatchErrCh := make(chan error, 1)
	go c.runDispatchLoop(streamCtx, cancel, frameCh, dispatchErrCh)

	sched := parallel.NewScheduler(20, 200, "stream_firehose", func(reqCtx context.Context, xe *events.XRPCStreamEvent) error {
		return c.handleStreamEvent(reqCtx, xe, frameCh)
	})

	streamErr := events.HandleRepoStream(streamCtx, conn, sched, nil)
	close(frameCh)
	if dispatchErr := <-dispatchErrCh; dispatchErr != nil {
		return dispatchErr
	}
	return streamErr
}

// runDispatchLoop drains frameCh in arrival order and is the only
// goroutine that ever calls Dispatch.Dispatch, satisfying spec.md §5's
// single-writer invariant. It exits either when frameCh is closed (clean
// shutdown of this connection) or the first time Dispatch returns an
// error (a fatal cursor persistence failure), canceling ctx in that case
// so blocked parse workers stop enqueuing and the stream unwinds.
func (c *Client) runDispatchLoop(ctx context.Context, cancel context.CancelFunc, frameCh <-chan types.CommitFrame, errCh chan<- error) {
	defer cancel()
	for frame := range frameCh {
		result, err := c.Dispatch.Dispatch(ctx, frame)
		if err != nil {
			errCh <- err
			return
		}
		log.WithFields(log.Fields{
			"repo": frame.ActorID, "offset": frame.StreamOffset,
			"written": result.Written, "skipped": result.Skipped, "errors": result.Errors,
		}).Debug("firehose: frame dispatched")
	}
	errCh <- nil
}

func (c *Client) handleStreamEvent(ctx context.Context, xe *events.XRPCStreamEvent, frameCh chan<- types.CommitFrame) error {
	switch {
	case xe.RepoCommit != nil:
		return c.handleRepoCommit(ctx, xe.RepoCommit, frameCh)
	case xe.Error != nil:
		return errors.Errorf("firehose: upstream error: %s", xe.Error.Message)
	default:
		return nil
	}
}

// handleRepoCommit parses evt and enqueues the resulting frame onto
// frameCh for the single dispatch loop to consume; it never calls
// Dispatch itself. A full frameCh blocks this parse worker, the
// backpressure policy spec.md §4.1 calls for.
func (c *Client) handleRepoCommit(ctx context.Context, evt *atproto.SyncSubscribeRepos_Commit, frameCh chan<- types.CommitFrame) error {
	metrics.FramesReceived.Inc()

	frame, err := c.parseFrame(evt)
	if err != nil {
		metrics.FrameParseErrors.Inc()
		log.WithError(err).WithField("repo", evt.Repo).Warn("firehose: frame parse error, skipping")
		return nil
	}

	select {
	case frameCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseFrame reads the repo CAR in evt.Blocks and builds a CommitFrame
// with one RawOp per commit op, verifying each create/update op's CID
// against the bytes actually read from the CAR, the same check
// osprey-atproto's converter performs before forwarding a record.
func (c *Client) parseFrame(evt *atproto.SyncSubscribeRepos_Commit) (types.CommitFrame, error) {
	ctx := context.Background()
	rr, err := repo.ReadRepoFromCar(ctx, bytes.NewReader(evt.Blocks))
	if err != nil {
		return types.CommitFrame{}, errors.Wrap(err, "firehose: read repo car")
	}

	ts, err := time.Parse(time.RFC3339, evt.Time)
	if err != nil {
		return types.CommitFrame{}, errors.Wrap(err, "firehose: parse commit time")
	}

	frame := types.CommitFrame{
		StreamOffset: types.StreamOffset(strconv.FormatInt(evt.Seq, 10)),
		ActorID:      evt.Repo,
		Timestamp:    ts,
	}

	for _, op := range evt.Ops {
		parts := strings.SplitN(op.Path, "/", 2)
		if len(parts) != 2 {
			continue
		}
		collection, rkey := parts[0], parts[1]

		kind := repomgr.EventKind(op.Action)
		var raw types.RawOp
		raw.Collection = collection
		raw.RecordKey = rkey

		switch kind {
		case repomgr.EvtKindCreateRecord, repomgr.EvtKindUpdateRecord:
			if op.Cid == nil {
				continue
			}
			rcid, recBytes, err := rr.GetRecordBytes(ctx, op.Path)
			if err != nil {
				continue
			}
			if !cidsEqual(rcid, *op.Cid) {
				log.WithField("path", op.Path).Warn("firehose: record cid mismatch, skipping op")
				continue
			}
			payload, err := unmarshalRecord(recBytes)
			if err != nil {
				continue
			}
			raw.Kind = types.OpCreate
			raw.Payload = payload
			raw.CID = rcid.String()
		case repomgr.EvtKindDeleteRecord:
			raw.Kind = types.OpDelete
		default:
			continue
		}
		frame.Ops = append(frame.Ops, raw)
	}
	return frame, nil
}

func cidsEqual(a cid.Cid, b cid.Cid) bool { return a.Equals(b) }

// unmarshalRecord decodes a DAG-CBOR record body into the generic
// map[string]any RawOp.Payload expects, round-tripping through JSON the
// same way osprey-atproto's converter does before forwarding a record
// downstream.
func unmarshalRecord(recBytes *[]byte) (map[string]any, error) {
	node, err := data.UnmarshalCBOR(*recBytes)
	if err != nil {
		return nil, errors.Wrap(err, "firehose: unmarshal cbor record")
	}
	asJSON, err := json.Marshal(node)
	if err != nil {
		return nil, errors.Wrap(err, "firehose: marshal record to json")
	}
	var payload map[string]any
	if err := json.Unmarshal(asJSON, &payload); err != nil {
		return nil, errors.Wrap(err, "firehose: unmarshal record json")
	}
	return payload, nil
}
