// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"testing"

	"github.com/mbeema/wiresight/pkg/config"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Capture.PcapFile = "testdata/none.pcap"
	cfg.Exporters.Stdout.Enabled = false
	cfg.Health.Enabled = false
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewRequiresCaptureSource(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.PcapFile = ""
	cfg.Capture.Interface = ""

	if _, err := New(cfg, "test", zap.NewNop()); err == nil {
		t.Error("expected error without a capture source")
	}
}

func TestNewWithFileSource(t *testing.T) {
	a, err := New(testConfig(), "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if a.Manager() == nil {
		t.Error("agent must own a connection manager")
	}
	if a.Done() == nil {
		t.Error("file-backed agent must expose a replay-done channel")
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	a, err := New(testConfig(), "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	bad := testConfig()
	bad.Mode = "nonsense"
	if err := a.Reload(bad); err == nil {
		t.Error("expected reload to reject invalid config")
	}

	good := testConfig()
	good.Mode = "bandwidth"
	if err := a.Reload(good); err != nil {
		t.Errorf("Reload error: %v", err)
	}
}
