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

package cursor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/types"
	_ "github.com/lib/pq" // register driver
	"github.com/pkg/errors"
)

// The cursor table this store manages is a single-row-per-consumer
// generalization of the teacher's original resolved-timestamp table: one
// (consumer, stream_offset) pair per logical consumer of the firehose,
// updated in place by an upsert on the consumer key. The write does not
// check the previously read value.
const sqlCursorSchema = `
CREATE TABLE IF NOT EXISTS %s (
	consumer      TEXT PRIMARY KEY,
	stream_offset TEXT NOT NULL
)`

const sqlCursorQuery = `SELECT stream_offset FROM %s WHERE consumer = $1`

const sqlCursorWrite = `INSERT INTO %s (consumer, stream_offset) VALUES ($1, $2)
ON CONFLICT (consumer) DO UPDATE SET stream_offset = excluded.stream_offset`

// SQLStore persists a StreamOffset in a Postgres-or-CockroachDB-compatible
// table, addressed by logical consumer name. Multiple SQLStores sharing a
// database but using distinct consumer names do not interfere, satisfying
// spec.md §4.2's "multiple dispatchers may run only with non-overlapping
// cursor scopes" by scoping on the consumer column.
type SQLStore struct {
	db        *sql.DB
	tableName string
	consumer  string
}

var _ types.Cursor = (*SQLStore)(nil)

// NewSQLStore opens (or reuses) a connection to connString and ensures the
// cursor table exists. tableName should be schema-qualified, e.g.
// "public._stream_cursor".
func NewSQLStore(connString, tableName, consumer string) (*SQLStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, errors.Wrap(err, "cursor: open sql store")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "cursor: ping sql store")
	}
	if _, err := db.Exec(fmt.Sprintf(sqlCursorSchema, tableName)); err != nil {
		return nil, errors.Wrap(err, "cursor: create table")
	}
	return &SQLStore{db: db, tableName: tableName, consumer: consumer}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Get implements types.Cursor.
func (s *SQLStore) Get(ctx context.Context) (types.StreamOffset, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(sqlCursorQuery, s.tableName), s.consumer)
	var offset string
	switch err := row.Scan(&offset); err {
	case sql.ErrNoRows:
		return "", nil
	case nil:
		return types.StreamOffset(offset), nil
	default:
		return "", errors.Wrap(err, "cursor: query sql store")
	}
}

// Set implements types.Cursor. The upsert replaces the previous value for
// this consumer atomically in a single statement; it is an unconditional
// overwrite, not a compare-and-set against the value Get returned.
func (s *SQLStore) Set(ctx context.Context, offset types.StreamOffset) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(sqlCursorWrite, s.tableName), s.consumer, string(offset))
	if err != nil {
		return errors.Wrap(err, "cursor: write sql store")
	}
	return nil
}
