// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Sample is one self-observation of the agent process.
type Sample struct {
	Timestamp  time.Time
	CPUPercent float64
	RSSBytes   uint64
	OpenFDs    int32
	Threads    int32
}

// SelfCollector periodically samples the agent's own process so the health
// surface can report what the tracker itself costs.
type SelfCollector struct {
	logger *zap.Logger
	proc   *process.Process

	mu        sync.RWMutex
	callbacks []func(*Sample)

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSelfCollector creates a collector for the current process.
func NewSelfCollector(logger *zap.Logger) (*SelfCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SelfCollector{
		logger: logger,
		proc:   proc,
		stopCh: make(chan struct{}),
	}, nil
}

// OnSample registers a callback for emitted samples.
func (c *SelfCollector) OnSample(fn func(*Sample)) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

// Start begins periodic sampling.
func (c *SelfCollector) Start(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 15 * time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
}

// Stop halts sampling.
func (c *SelfCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *SelfCollector) collect() {
	sample := &Sample{Timestamp: time.Now()}

	if cpu, err := c.proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
		sample.RSSBytes = mem.RSS
	}
	if fds, err := c.proc.NumFDs(); err == nil {
		sample.OpenFDs = fds
	}
	if threads, err := c.proc.NumThreads(); err == nil {
		sample.Threads = threads
	}

	c.mu.RLock()
	cbs := c.callbacks
	c.mu.RUnlock()
	for _, cb := range cbs {
		cb(sample)
	}
}
