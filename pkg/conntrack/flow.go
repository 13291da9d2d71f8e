// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package conntrack

import (
	"time"

	"github.com/mbeema/wiresight/pkg/capture"
)

// FlowPacketFunc is called for every segment delivered to a flow,
// in arrival order.
type FlowPacketFunc func(ts time.Time, f *Flow, seg *capture.Segment)

// FlowClosedFunc is called once, when a FIN is first observed on the flow.
type FlowClosedFunc func(ts time.Time, f *Flow)

// Flow is one direction of a connection. Flow 0 of a connection belongs to
// the endpoint first observed sending a segment.
type Flow struct {
	conn     *Connection
	endpoint Endpoint
	index    int

	open   bool
	seq    uint32
	ack    uint32
	hasSeq bool

	onPacket []FlowPacketFunc
	onClosed []FlowClosedFunc
}

func newFlow(conn *Connection, endpoint Endpoint, index int) *Flow {
	return &Flow{
		conn:     conn,
		endpoint: endpoint,
		index:    index,
		open:     true,
	}
}

// Connection returns the connection this flow belongs to.
func (f *Flow) Connection() *Connection { return f.conn }

// Endpoint returns the sending endpoint of this flow.
func (f *Flow) Endpoint() Endpoint { return f.endpoint }

// Index returns 0 or 1; flow 0 belongs to the first endpoint seen sending.
func (f *Flow) Index() int { return f.index }

// IsOpen reports whether a FIN has not yet been observed in this direction.
func (f *Flow) IsOpen() bool { return f.open }

// LastSeq returns the last observed sequence and ack numbers; ok is false
// before the first segment.
func (f *Flow) LastSeq() (seq, ack uint32, ok bool) {
	return f.seq, f.ack, f.hasSeq
}

// OnPacket registers a packet listener. Listeners run in registration order.
func (f *Flow) OnPacket(fn FlowPacketFunc) {
	f.onPacket = append(f.onPacket, fn)
}

// OnClosed registers a flow-closed listener.
func (f *Flow) OnClosed(fn FlowClosedFunc) {
	f.onClosed = append(f.onClosed, fn)
}

// deliver records the segment, notifies packet listeners, and closes the
// flow on the first observed FIN.
func (f *Flow) deliver(ts time.Time, seg *capture.Segment) {
	f.seq = seg.Seq
	f.ack = seg.Ack
	f.hasSeq = true

	for _, fn := range f.onPacket {
		fn(ts, f, seg)
	}

	if seg.FIN && f.open {
		f.open = false
		for _, fn := range f.onClosed {
			fn(ts, f)
		}
	}
}
