// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package conntrack

import (
	"container/heap"
	"sync"
	"time"

	"github.com/mbeema/wiresight/pkg/capture"
	"go.uber.org/zap"
)

// DefaultManagerIdleTimeout is applied to connections the manager creates.
const DefaultManagerIdleTimeout = 5 * time.Minute

// ConnFoundFunc is called when the manager creates a connection, before any
// packet or flow listener fires for it.
type ConnFoundFunc func(ts time.Time, c *Connection)

// deadlineEntry is one pending idle deadline. Entries are invalidated lazily:
// resetting a connection's timer pushes a new entry and leaves the old one to
// be skipped when popped.
type deadlineEntry struct {
	at   time.Time
	conn *Connection
}

type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() (x interface{}) {
	old := *h
	*h, x = old[:len(old)-1], old[len(old)-1]
	return
}

// Manager demultiplexes segments into connections and expires idle ones.
//
// All processing is serialized under one mutex: a call to Process fully runs
// the downstream pipeline (flow delivery, reassembly, parsing, user
// callbacks) before returning. Idle expiry goes through the same lock, so no
// per-connection synchronization is needed anywhere below.
type Manager struct {
	mu     sync.Mutex
	logger *zap.Logger

	idleTimeout time.Duration
	conns       map[FlowKey]*Connection
	deadlines   deadlineHeap

	onFound []ConnFoundFunc

	connectionsTotal uint64
	expiredTotal     uint64
}

// NewManager creates a connection manager. A zero idleTimeout selects the
// default of 5 minutes.
func NewManager(idleTimeout time.Duration, logger *zap.Logger) *Manager {
	if idleTimeout == 0 {
		idleTimeout = DefaultManagerIdleTimeout
	}
	return &Manager{
		logger:      logger,
		idleTimeout: idleTimeout,
		conns:       make(map[FlowKey]*Connection),
	}
}

// OnConnectionFound registers a listener for new connections.
func (m *Manager) OnConnectionFound(fn ConnFoundFunc) {
	m.mu.Lock()
	m.onFound = append(m.onFound, fn)
	m.mu.Unlock()
}

// Process routes one segment. If no connection matches the segment's
// endpoint pair a new one is created — including for a stray RST, which the
// tracker deliberately treats like any other first segment.
func (m *Manager) Process(ts time.Time, seg *capture.Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyForSegment(seg)
	c, ok := m.conns[key]
	if !ok {
		c = NewConnection(seg)
		c.SetIdleTimeout(m.idleTimeout)
		c.OnClosed(func(_ time.Time, cc *Connection, _ CloseReason) {
			delete(m.conns, cc.key)
		})
		m.conns[key] = c
		m.connectionsTotal++

		for _, fn := range m.onFound {
			fn(ts, c)
		}
	}

	c.handleSegment(ts, seg)

	c.deadline = ts.Add(c.idleTimeout)
	heap.Push(&m.deadlines, deadlineEntry{at: c.deadline, conn: c})

	m.sweepLocked(ts)
}

// Sweep expires connections whose idle deadline is at or before now. The
// agent calls this from a ticker for live captures; Process also drains
// opportunistically using segment timestamps, which keeps pcap replay
// deterministic.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(now)
}

func (m *Manager) sweepLocked(now time.Time) int {
	expired := 0
	for m.deadlines.Len() > 0 {
		top := m.deadlines[0]
		if top.at.After(now) {
			break
		}
		heap.Pop(&m.deadlines)

		// Stale entry: the timer was reset after this entry was pushed,
		// or the connection already closed.
		if top.conn.closeEmitted || !top.at.Equal(top.conn.deadline) {
			continue
		}

		m.logger.Debug("connection idle timeout",
			zap.String("connection", top.conn.key.String()),
		)
		top.conn.expire(now)
		m.expiredTotal++
		expired++
	}
	return expired
}

// Connections returns a snapshot of the active connections.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of active connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Totals returns lifetime counters: connections created and expired.
func (m *Manager) Totals() (created, expired uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionsTotal, m.expiredTotal
}
