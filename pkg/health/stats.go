// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// Stats tracks self-monitoring counters for the agent.
type Stats struct {
	startTime time.Time

	SegmentsProcessed    atomic.Int64
	ConnectionsFound     atomic.Int64
	ConnectionsClosed    atomic.Int64
	ConnectionsExpired   atomic.Int64
	ConnectionsActive    atomic.Int64
	RequestsParsed       atomic.Int64
	StatusesParsed       atomic.Int64
	ParseErrors          atomic.Int64
	TransactionsExported atomic.Int64
	TransactionsDropped  atomic.Int64

	// Self process gauges, fed by the metrics collector.
	ProcessCPUPercent atomic.Int64 // hundredths of a percent
	ProcessRSSBytes   atomic.Int64
	ProcessOpenFDs    atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Uptime returns agent uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds        float64
	Goroutines           int
	HeapBytes            uint64
	SegmentsProcessed    int64
	ConnectionsFound     int64
	ConnectionsClosed    int64
	ConnectionsExpired   int64
	ConnectionsActive    int64
	RequestsParsed       int64
	StatusesParsed       int64
	ParseErrors          int64
	TransactionsExported int64
	TransactionsDropped  int64
	ProcessCPUPercent    float64
	ProcessRSSBytes      int64
	ProcessOpenFDs       int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		UptimeSeconds:        s.Uptime().Seconds(),
		Goroutines:           runtime.NumGoroutine(),
		HeapBytes:            mem.HeapAlloc,
		SegmentsProcessed:    s.SegmentsProcessed.Load(),
		ConnectionsFound:     s.ConnectionsFound.Load(),
		ConnectionsClosed:    s.ConnectionsClosed.Load(),
		ConnectionsExpired:   s.ConnectionsExpired.Load(),
		ConnectionsActive:    s.ConnectionsActive.Load(),
		RequestsParsed:       s.RequestsParsed.Load(),
		StatusesParsed:       s.StatusesParsed.Load(),
		ParseErrors:          s.ParseErrors.Load(),
		TransactionsExported: s.TransactionsExported.Load(),
		TransactionsDropped:  s.TransactionsDropped.Load(),
		ProcessCPUPercent:    float64(s.ProcessCPUPercent.Load()) / 100,
		ProcessRSSBytes:      s.ProcessRSSBytes.Load(),
		ProcessOpenFDs:       s.ProcessOpenFDs.Load(),
	}
}

// PrometheusMetrics renders the counters in Prometheus text format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()

	var b strings.Builder
	writeMetric := func(name, help, typ string, value interface{}) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n%s %v\n", name, help, name, typ, name, value)
	}

	writeMetric("wiresight_uptime_seconds", "Agent uptime in seconds.", "gauge", snap.UptimeSeconds)
	writeMetric("wiresight_goroutines", "Number of goroutines.", "gauge", snap.Goroutines)
	writeMetric("wiresight_heap_bytes", "Heap bytes allocated.", "gauge", snap.HeapBytes)
	writeMetric("wiresight_segments_processed_total", "TCP segments processed.", "counter", snap.SegmentsProcessed)
	writeMetric("wiresight_connections_found_total", "Connections discovered.", "counter", snap.ConnectionsFound)
	writeMetric("wiresight_connections_closed_total", "Connections closed by FIN/ACK.", "counter", snap.ConnectionsClosed)
	writeMetric("wiresight_connections_expired_total", "Connections expired by idle timeout.", "counter", snap.ConnectionsExpired)
	writeMetric("wiresight_connections_active", "Currently tracked connections.", "gauge", snap.ConnectionsActive)
	writeMetric("wiresight_http_requests_total", "HTTP requests reconstructed.", "counter", snap.RequestsParsed)
	writeMetric("wiresight_http_statuses_total", "HTTP statuses reconstructed.", "counter", snap.StatusesParsed)
	writeMetric("wiresight_http_parse_errors_total", "HTTP parse failures.", "counter", snap.ParseErrors)
	writeMetric("wiresight_transactions_exported_total", "Transactions handed to exporters.", "counter", snap.TransactionsExported)
	writeMetric("wiresight_transactions_dropped_total", "Transactions dropped on full queues.", "counter", snap.TransactionsDropped)
	writeMetric("wiresight_process_cpu_percent", "Agent CPU usage percent.", "gauge", snap.ProcessCPUPercent)
	writeMetric("wiresight_process_rss_bytes", "Agent resident set size.", "gauge", snap.ProcessRSSBytes)
	writeMetric("wiresight_process_open_fds", "Agent open file descriptors.", "gauge", snap.ProcessOpenFDs)

	return b.String()
}
