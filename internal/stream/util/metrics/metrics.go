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

// Package metrics declares the Prometheus counters and histograms shared
// across the firehose stream engine and the shared latency bucket scheme.
// Every metric is declared here and registered with the default registry
// in init; subsystems use these variables directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets is the shared histogram bucket scheme for all duration
// metrics in this module, in seconds.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
}

// HandlerLabels is the label set attached to per-handler counters.
var HandlerLabels = []string{"handler"}

// DatasetLabels is the label set attached to per-dataset export counters.
var DatasetLabels = []string{"dataset"}

var (
	// FramesReceived counts frames delivered by the FirehoseClient.
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_frames_received_total",
		Help: "the number of commit frames received from the upstream stream",
	})
	// FrameParseErrors counts frames that failed to parse.
	FrameParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_frame_parse_errors_total",
		Help: "the number of frames skipped due to a parse failure",
	})
	// Reconnects counts FirehoseClient reconnect attempts.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firehose_reconnects_total",
		Help: "the number of times the firehose client has reconnected",
	})

	// RecordsWritten counts NormalizedRecords durably persisted, by handler.
	RecordsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_records_written_total",
		Help: "the number of normalized records written to the cache",
	}, HandlerLabels)
	// RecordsSkipped counts RawOps with no matching processor or handler.
	RecordsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_records_skipped_total",
		Help: "the number of raw operations with no matching processor or handler",
	})
	// RecordsDropped counts handler write failures exhausting retries.
	RecordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_records_dropped_total",
		Help: "the number of records that failed to write after exhausting retries",
	}, HandlerLabels)

	// ExportFilesWritten counts columnar files emitted, by dataset.
	ExportFilesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_files_written_total",
		Help: "the number of columnar files written by the exporter",
	}, DatasetLabels)
	// ExportBytesWritten counts bytes emitted, by dataset.
	ExportBytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_bytes_written_total",
		Help: "the number of bytes written by the exporter",
	}, DatasetLabels)
	// ExportRecordsQuarantined counts cache files that failed to parse
	// during export.
	ExportRecordsQuarantined = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_records_quarantined_total",
		Help: "the number of cache files quarantined due to a parse failure",
	}, HandlerLabels)
	// ExportDuration measures per-subtree export wall time.
	ExportDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "export_subtree_duration_seconds",
		Help:    "the length of time it took to export one cache subtree",
		Buckets: LatencyBuckets,
	}, HandlerLabels)

	// RegistryRefreshErrors counts failed background registry refreshes.
	RegistryRefreshErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_refresh_errors_total",
		Help: "the number of times the study-user registry failed to refresh",
	})
)

func init() {
	prometheus.MustRegister(
		FramesReceived, FrameParseErrors, Reconnects,
		RecordsWritten, RecordsSkipped, RecordsDropped,
		ExportFilesWritten, ExportBytesWritten, ExportRecordsQuarantined, ExportDuration,
		RegistryRefreshErrors,
	)
}
