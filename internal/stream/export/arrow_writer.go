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

package export

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/pkg/errors"
)

// rowSchema is the fixed output schema every dataset shares. Fields not
// applicable to a given record_type (e.g. follow_status on a POST row) are
// left as the empty string, matching the sparse-column shape the original
// exporter produced.
var rowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "op", Type: arrow.BinaryTypes.String},
	{Name: "record_type", Type: arrow.BinaryTypes.String},
	{Name: "author_id", Type: arrow.BinaryTypes.String},
	{Name: "record_uri", Type: arrow.BinaryTypes.String},
	{Name: "subject_uri", Type: arrow.BinaryTypes.String},
	{Name: "parent_uri", Type: arrow.BinaryTypes.String},
	{Name: "follow_status", Type: arrow.BinaryTypes.String},
	{Name: "synctimestamp", Type: arrow.BinaryTypes.String},
	{Name: "partition_date", Type: arrow.BinaryTypes.String},
	{Name: "raw_fields_json", Type: arrow.BinaryTypes.String},
}, nil)

// buildRecord converts a slice of Row into a single Arrow record batch.
// Returns nil if rows is empty, matching ProfileParquetWriter's
// "no file for empty batches" convention.
func buildRecord(rows []Row) arrow.Record {
	if len(rows) == 0 {
		return nil
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, rowSchema)
	defer b.Release()

	opB := b.Field(0).(*array.StringBuilder)
	typeB := b.Field(1).(*array.StringBuilder)
	authorB := b.Field(2).(*array.StringBuilder)
	uriB := b.Field(3).(*array.StringBuilder)
	subjectB := b.Field(4).(*array.StringBuilder)
	parentB := b.Field(5).(*array.StringBuilder)
	followB := b.Field(6).(*array.StringBuilder)
	syncB := b.Field(7).(*array.StringBuilder)
	partB := b.Field(8).(*array.StringBuilder)
	rawB := b.Field(9).(*array.StringBuilder)

	for _, r := range rows {
		opB.Append(str(r["op"]))
		typeB.Append(str(r["record_type"]))
		authorB.Append(str(r["author_id"]))
		uriB.Append(str(r["record_uri"]))
		subjectB.Append(str(r["subject_uri"]))
		parentB.Append(str(r["parent_uri"]))
		followB.Append(str(r["follow_status"]))
		syncB.Append(str(r["synctimestamp"]))
		partB.Append(str(r["partition_date"]))
		rawB.Append(str(r["raw_fields_json"]))
	}

	record := b.NewRecord()
	return record
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// writeParquet writes rows to w in a single row group, Zstd-compressed,
// mirroring ProfileParquetWriter's writer-properties choices.
func writeParquet(w io.Writer, rows []Row) (int64, error) {
	record := buildRecord(rows)
	if record == nil {
		return 0, nil
	}
	defer record.Release()

	counter := &byteCountWriter{w: w}

	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(rowSchema, counter, props, arrowProps)
	if err != nil {
		return 0, errors.Wrap(err, "export: create parquet writer")
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return 0, errors.Wrap(err, "export: write parquet record")
	}
	if err := writer.Close(); err != nil {
		return 0, errors.Wrap(err, "export: close parquet writer")
	}
	return counter.n, nil
}

type byteCountWriter struct {
	w io.Writer
	n int64
}

func (c *byteCountWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
