// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package session

import (
	"time"

	"github.com/mbeema/wiresight/pkg/capture"
	"github.com/mbeema/wiresight/pkg/conntrack"
)

// TrafficFunc receives the connection's cumulative payload byte count after
// every delivered segment.
type TrafficFunc func(ts time.Time, c *conntrack.Connection, totalBytes int64)

type trafficSub struct {
	id int
	fn TrafficFunc
}

// TrafficMonitor reports cumulative traffic across both flows of a
// connection. Subscribers may add or remove subscriptions from inside a
// callback; changes take effect with the next delivered segment.
type TrafficMonitor struct {
	conn   *conntrack.Connection
	total  int64
	subs   []trafficSub
	nextID int
}

// NewTrafficMonitor attaches a monitor to a connection.
func NewTrafficMonitor(conn *conntrack.Connection) *TrafficMonitor {
	m := &TrafficMonitor{conn: conn}
	conn.OnPacket(m.handlePacket)
	return m
}

// Subscribe registers a callback and returns an id for Unsubscribe.
func (m *TrafficMonitor) Subscribe(fn TrafficFunc) int {
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, trafficSub{id: id, fn: fn})
	return id
}

// Unsubscribe removes a previously registered callback.
func (m *TrafficMonitor) Unsubscribe(id int) {
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Total returns the cumulative payload bytes observed so far.
func (m *TrafficMonitor) Total() int64 { return m.total }

func (m *TrafficMonitor) handlePacket(ts time.Time, c *conntrack.Connection, _ *conntrack.Flow, seg *capture.Segment) {
	m.total += int64(len(seg.Payload))

	// Iterate a snapshot so callbacks can mutate the subscription list.
	subs := make([]trafficSub, len(m.subs))
	copy(subs, m.subs)
	for _, s := range subs {
		s.fn(ts, c, m.total)
	}
}
