// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"strings"
	"testing"
)

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	s.SegmentsProcessed.Add(42)
	s.ConnectionsFound.Add(3)
	s.ConnectionsActive.Add(3)
	s.ConnectionsActive.Add(-1)
	s.RequestsParsed.Add(7)
	s.ParseErrors.Add(1)

	snap := s.Snapshot()
	if snap.SegmentsProcessed != 42 {
		t.Errorf("SegmentsProcessed = %d, want 42", snap.SegmentsProcessed)
	}
	if snap.ConnectionsActive != 2 {
		t.Errorf("ConnectionsActive = %d, want 2", snap.ConnectionsActive)
	}
	if snap.RequestsParsed != 7 {
		t.Errorf("RequestsParsed = %d, want 7", snap.RequestsParsed)
	}
	if snap.Goroutines <= 0 {
		t.Error("Goroutines should be positive")
	}
	if snap.UptimeSeconds < 0 {
		t.Error("UptimeSeconds should not be negative")
	}
}

func TestPrometheusMetricsFormat(t *testing.T) {
	s := NewStats()
	s.SegmentsProcessed.Add(10)

	out := s.PrometheusMetrics()

	for _, want := range []string{
		"# TYPE wiresight_segments_processed_total counter",
		"wiresight_segments_processed_total 10",
		"# TYPE wiresight_connections_active gauge",
		"wiresight_http_parse_errors_total 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
