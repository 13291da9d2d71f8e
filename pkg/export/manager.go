// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/wiresight/pkg/config"
	"github.com/mbeema/wiresight/pkg/session"
	"go.uber.org/zap"
)

const (
	defaultBatchSize     = 200
	defaultFlushInterval = 5 * time.Second
	defaultChannelSize   = 4096

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// Manager batches transactions and fans them out to the configured
// exporters. The capture path hands transactions to Export, which never
// blocks: a full queue drops and counts instead.
type Manager struct {
	logger    *zap.Logger
	exporters []Exporter

	txCh chan *session.Transaction

	exported atomic.Int64
	dropped  atomic.Int64

	batchSize     int
	flushInterval time.Duration

	circuitBreaker *CircuitBreaker

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewManager builds the exporter set from config.
func NewManager(cfg *config.ExportersConfig, version string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger:         logger,
		txCh:           make(chan *session.Transaction, defaultChannelSize),
		batchSize:      defaultBatchSize,
		flushInterval:  defaultFlushInterval,
		circuitBreaker: NewCircuitBreaker(5, 30*time.Second),
		stopCh:         make(chan struct{}),
	}

	if cfg.Stdout.Enabled {
		m.exporters = append(m.exporters, NewStdoutExporter(cfg.Stdout.Format, logger))
	}
	if cfg.OTLP.Enabled {
		otlp, err := NewOTLPExporter(&cfg.OTLP, "wiresight", version, logger)
		if err != nil {
			return nil, err
		}
		m.exporters = append(m.exporters, otlp)
	}

	return m, nil
}

// Export enqueues a transaction without blocking.
func (m *Manager) Export(tx *session.Transaction) {
	select {
	case m.txCh <- tx:
	default:
		m.dropped.Add(1)
	}
}

// Counts returns how many transactions were exported and dropped.
func (m *Manager) Counts() (exported, dropped int64) {
	return m.exported.Load(), m.dropped.Load()
}

// Start launches the batching loop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop flushes remaining transactions and shuts exporters down.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, e := range m.exporters {
		if err := e.Shutdown(ctx); err != nil {
			m.logger.Warn("exporter shutdown failed", zap.Error(err))
		}
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	batch := make([]*session.Transaction, 0, m.batchSize)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.flush(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case tx := <-m.txCh:
			batch = append(batch, tx)
			if len(batch) >= m.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.stopCh:
			// Drain whatever is queued, then flush once.
			for {
				select {
				case tx := <-m.txCh:
					batch = append(batch, tx)
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (m *Manager) flush(ctx context.Context, batch []*session.Transaction) {
	if !m.circuitBreaker.Allow() {
		m.dropped.Add(int64(len(batch)))
		return
	}

	for _, e := range m.exporters {
		if err := m.exportWithRetry(ctx, e, batch); err != nil {
			m.logger.Warn("transaction export failed",
				zap.Int("batch", len(batch)),
				zap.Error(err),
			)
			m.circuitBreaker.RecordFailure()
			m.dropped.Add(int64(len(batch)))
			return
		}
	}

	m.circuitBreaker.RecordSuccess()
	m.exported.Add(int64(len(batch)))
}

func (m *Manager) exportWithRetry(ctx context.Context, e Exporter, batch []*session.Transaction) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(backoffFactor, float64(attempt-1)))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = e.ExportTransactions(ctx, batch); err == nil {
			return nil
		}
	}
	return err
}
