// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/wiresight/pkg/capture"
	"github.com/mbeema/wiresight/pkg/config"
	"github.com/mbeema/wiresight/pkg/conntrack"
	"github.com/mbeema/wiresight/pkg/export"
	"github.com/mbeema/wiresight/pkg/health"
	"github.com/mbeema/wiresight/pkg/livefeed"
	"github.com/mbeema/wiresight/pkg/metrics"
	"github.com/mbeema/wiresight/pkg/protocol"
	"github.com/mbeema/wiresight/pkg/session"
	"go.uber.org/zap"
)

// Agent wires the capture source into the tracker and fans reconstructed
// sessions out to the configured sinks.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger

	source   capture.Source
	manager  *conntrack.Manager
	exporter *export.Manager
	feed     *livefeed.Server

	healthServer *health.Server
	healthStats  *health.Stats
	selfColl     *metrics.SelfCollector

	version string

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	fileDone <-chan struct{}
}

// New creates an agent from configuration.
func New(cfg *config.Config, version string, logger *zap.Logger) (*Agent, error) {
	a := &Agent{
		logger:      logger,
		version:     version,
		healthStats: health.NewStats(),
	}
	a.cfg.Store(cfg)

	capCfg := &capture.Config{
		Interface: cfg.Capture.Interface,
		PcapFile:  cfg.Capture.PcapFile,
		BPFFilter: cfg.Capture.BPFFilter,
		SnapLen:   cfg.Capture.SnapLen,
		Logger:    logger,
	}
	switch {
	case cfg.Capture.PcapFile != "":
		fs := capture.NewFileSource(capCfg)
		a.source = fs
		a.fileDone = fs.Done()
	case cfg.Capture.Interface != "":
		a.source = capture.NewLiveSource(capCfg)
	default:
		return nil, fmt.Errorf("capture source required: set capture.interface or capture.pcap_file")
	}

	a.manager = conntrack.NewManager(cfg.Tracker.IdleTimeout, logger)

	exporter, err := export.NewManager(&cfg.Exporters, version, logger)
	if err != nil {
		return nil, fmt.Errorf("create exporters: %w", err)
	}
	a.exporter = exporter

	if cfg.LiveFeed.Enabled {
		a.feed = livefeed.NewServer(cfg.LiveFeed.Addr, livefeed.NewHub(logger), logger)
	}

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, version, a.healthStats, logger)
	}

	if cfg.Metrics.Enabled {
		coll, err := metrics.NewSelfCollector(logger)
		if err != nil {
			logger.Warn("self metrics unavailable", zap.Error(err))
		} else {
			a.selfColl = coll
			coll.OnSample(func(s *metrics.Sample) {
				a.healthStats.ProcessCPUPercent.Store(int64(s.CPUPercent * 100))
				a.healthStats.ProcessRSSBytes.Store(int64(s.RSSBytes))
				a.healthStats.ProcessOpenFDs.Store(int64(s.OpenFDs))
			})
		}
	}

	a.wire()
	return a, nil
}

// wire connects the tracker events to the configured mode's consumers.
func (a *Agent) wire() {
	a.source.OnSegment(func(seg *capture.Segment) {
		a.healthStats.SegmentsProcessed.Add(1)
		a.manager.Process(seg.Timestamp, seg)
	})

	a.manager.OnConnectionFound(func(ts time.Time, c *conntrack.Connection) {
		a.healthStats.ConnectionsFound.Add(1)
		a.healthStats.ConnectionsActive.Add(1)

		c.OnClosed(func(ts time.Time, c *conntrack.Connection, reason conntrack.CloseReason) {
			a.healthStats.ConnectionsActive.Add(-1)
			if reason == conntrack.CloseTimeout {
				a.healthStats.ConnectionsExpired.Add(1)
			} else {
				a.healthStats.ConnectionsClosed.Add(1)
			}
			if a.feed != nil {
				a.feed.Publish("connection_closed", map[string]interface{}{
					"connection": c.Key().String(),
					"reason":     reason.String(),
				})
			}
		})

		if a.feed != nil {
			a.feed.Publish("connection_found", map[string]interface{}{
				"connection": c.Key().String(),
			})
		}

		switch a.cfg.Load().Mode {
		case "http":
			a.watchHTTP(c)
		case "connections":
			a.logger.Info("connection found",
				zap.String("connection", c.Key().String()),
				zap.Time("first_seen", ts),
			)
		case "bandwidth":
			a.watchBandwidth(c)
		}
	})
}

// watchHTTP attaches an HTTP session watcher to a new connection.
func (a *Agent) watchHTTP(c *conntrack.Connection) {
	cfg := a.cfg.Load()
	if !cfg.HTTP.Enabled {
		return
	}

	w := session.NewWatcher(c, cfg.HTTP.MaxStreamBytes, a.logger)

	w.OnRequest(func(ts time.Time, _ *conntrack.Connection, req *protocol.Request) {
		a.healthStats.RequestsParsed.Add(1)
	})
	w.OnStatus(func(ts time.Time, _ *conntrack.Connection, st *protocol.Status) {
		a.healthStats.StatusesParsed.Add(1)
	})
	w.OnTransaction(func(tx *session.Transaction) {
		a.exporter.Export(tx)
		a.healthStats.TransactionsExported.Add(1)
		if a.feed != nil {
			a.feed.Publish("transaction", map[string]interface{}{
				"name":        tx.Name(),
				"client":      tx.Client.String(),
				"server":      tx.Server.String(),
				"duration_ms": tx.Duration().Milliseconds(),
			})
		}
	})
	w.OnError(func(ts time.Time, c *conntrack.Connection, err error) {
		a.healthStats.ParseErrors.Add(1)
		a.logger.Debug("http monitoring stopped",
			zap.String("connection", c.Key().String()),
			zap.Error(err),
		)
	})
}

// watchBandwidth logs cumulative connection traffic.
func (a *Agent) watchBandwidth(c *conntrack.Connection) {
	m := session.NewTrafficMonitor(c)
	m.Subscribe(func(ts time.Time, c *conntrack.Connection, total int64) {
		a.logger.Info("traffic",
			zap.String("connection", c.Key().String()),
			zap.Int64("total_bytes", total),
		)
	})
}

// Start launches all subsystems.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)

	a.exporter.Start(a.ctx)

	if a.healthServer != nil {
		if err := a.healthServer.Start(a.ctx); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}
	if a.feed != nil {
		if err := a.feed.Start(a.ctx); err != nil {
			return fmt.Errorf("start livefeed: %w", err)
		}
	}
	if a.selfColl != nil {
		a.selfColl.Start(a.ctx, a.cfg.Load().Metrics.Interval)
	}

	if err := a.source.Start(a.ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	// Wall-clock sweep for live captures; replay drives expiry through
	// segment timestamps on its own.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if a.fileDone != nil {
			return
		}
		ticker := time.NewTicker(a.cfg.Load().Tracker.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				a.manager.Sweep(time.Now())
			}
		}
	}()

	if a.healthServer != nil {
		a.healthServer.SetReady(true)
	}

	a.logger.Info("wiresight agent started", zap.String("mode", a.cfg.Load().Mode))
	return nil
}

// Done returns a channel closed when a pcap replay finishes; nil for live
// captures.
func (a *Agent) Done() <-chan struct{} {
	return a.fileDone
}

// Manager exposes the connection manager, mainly for inspection endpoints
// and tests.
func (a *Agent) Manager() *conntrack.Manager { return a.manager }

// Stats exposes the agent's self-monitoring counters.
func (a *Agent) Stats() *health.Stats { return a.healthStats }

// Reload applies a new configuration. Only dynamic settings take effect:
// mode and HTTP bounds apply to connections discovered from now on.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	old := a.cfg.Load()
	if cfg.Capture != old.Capture {
		a.logger.Warn("capture settings changed in reload; restart required for them to apply")
	}
	a.cfg.Store(cfg)
	a.logger.Info("configuration reloaded", zap.String("mode", cfg.Mode))
	return nil
}

// Stop shuts everything down, flushing exporters.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if err := a.source.Stop(); err != nil {
		a.logger.Warn("capture stop failed", zap.Error(err))
	}
	if a.selfColl != nil {
		a.selfColl.Stop()
	}
	if a.feed != nil {
		if err := a.feed.Stop(); err != nil {
			a.logger.Warn("livefeed stop failed", zap.Error(err))
		}
	}
	if a.healthServer != nil {
		if err := a.healthServer.Stop(); err != nil {
			a.logger.Warn("health server stop failed", zap.Error(err))
		}
	}
	a.wg.Wait()
	a.exporter.Stop()

	a.logger.Info("wiresight agent stopped")
	return nil
}
