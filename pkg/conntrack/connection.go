// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package conntrack

import (
	"time"

	"github.com/google/uuid"
	"github.com/mbeema/wiresight/pkg/capture"
)

// State is the close-tracking state of a connection.
type State uint8

// Connection states. The FIN/ACK handshake walks Open → AwaitingFinAck2 →
// AwaitingFinalAck → Closed.
const (
	StateOpen State = iota
	StateAwaitingFinAck2
	StateAwaitingFinalAck
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateAwaitingFinAck2:
		return "AWAITING_FIN_ACK_2"
	case StateAwaitingFinalAck:
		return "AWAITING_FINAL_ACK"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// CloseReason says why a connection-closed event fired.
type CloseReason uint8

const (
	// CloseFlowsClosed means the FIN/ACK sequence completed.
	CloseFlowsClosed CloseReason = iota
	// CloseTimeout means the idle timer elapsed.
	CloseTimeout
)

// String returns the reason name.
func (r CloseReason) String() string {
	switch r {
	case CloseFlowsClosed:
		return "flows_closed"
	case CloseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// DefaultConnectionIdleTimeout applies to connections created standalone.
// The manager overrides it with its own (shorter) default.
const DefaultConnectionIdleTimeout = 10 * time.Minute

// ConnPacketFunc is called for every segment delivered to the connection.
type ConnPacketFunc func(ts time.Time, c *Connection, f *Flow, seg *capture.Segment)

// ConnClosedFunc is called once when the connection closes.
type ConnClosedFunc func(ts time.Time, c *Connection, reason CloseReason)

// Connection is a bidirectional TCP association. It owns exactly two flows
// for its whole lifetime; flow 0 belongs to the endpoint that sent the
// segment which created the connection.
//
// Connections are not internally synchronized. The owning Manager serializes
// segment delivery and expiry under its own lock, which is the single event
// loop the pipeline runs on.
type Connection struct {
	ID  uuid.UUID
	key FlowKey

	flows [2]*Flow
	state State

	lastPacketTime time.Time
	idleTimeout    time.Duration
	deadline       time.Time

	onPacket []ConnPacketFunc
	onClosed []ConnClosedFunc

	closeEmitted bool
}

// NewConnection creates a connection from its first observed segment.
func NewConnection(seg *capture.Segment) *Connection {
	src := Endpoint{Addr: seg.SrcIP, Port: seg.SrcPort}
	dst := Endpoint{Addr: seg.DstIP, Port: seg.DstPort}

	c := &Connection{
		ID:             uuid.New(),
		key:            NewFlowKey(src, dst),
		state:          StateOpen,
		lastPacketTime: seg.Timestamp,
		idleTimeout:    DefaultConnectionIdleTimeout,
	}
	c.flows[0] = newFlow(c, src, 0)
	c.flows[1] = newFlow(c, dst, 1)
	return c
}

// Key returns the normalized endpoint pair identifying this connection.
func (c *Connection) Key() FlowKey { return c.key }

// State returns the current close-tracking state.
func (c *Connection) State() State { return c.state }

// Flows returns both flows; index 0 is the first sender's direction.
func (c *Connection) Flows() [2]*Flow { return c.flows }

// LastPacketTime returns the timestamp of the newest delivered segment.
func (c *Connection) LastPacketTime() time.Time { return c.lastPacketTime }

// IdleTimeout returns the configured idle timeout.
func (c *Connection) IdleTimeout() time.Duration { return c.idleTimeout }

// SetIdleTimeout overrides the idle timeout for this connection.
func (c *Connection) SetIdleTimeout(d time.Duration) { c.idleTimeout = d }

// OnPacket registers a connection-level packet listener.
func (c *Connection) OnPacket(fn ConnPacketFunc) {
	c.onPacket = append(c.onPacket, fn)
}

// OnClosed registers a connection-closed listener.
func (c *Connection) OnClosed(fn ConnClosedFunc) {
	c.onClosed = append(c.onClosed, fn)
}

// flowFor returns the flow whose endpoint matches the segment's source,
// or nil if the segment does not belong to this connection.
func (c *Connection) flowFor(seg *capture.Segment) *Flow {
	src := Endpoint{Addr: seg.SrcIP, Port: seg.SrcPort}
	if c.flows[0].endpoint == src {
		return c.flows[0]
	}
	if c.flows[1].endpoint == src {
		return c.flows[1]
	}
	return nil
}

// handleSegment delivers a segment: flow first (packet listeners, FIN close),
// then connection listeners, then the close state machine. Late segments on
// a closed connection still reach listeners until the manager removes it.
func (c *Connection) handleSegment(ts time.Time, seg *capture.Segment) {
	f := c.flowFor(seg)
	if f == nil {
		return
	}

	f.deliver(ts, seg)

	for _, fn := range c.onPacket {
		fn(ts, c, f, seg)
	}

	c.advanceState(ts, seg)

	if ts.After(c.lastPacketTime) {
		c.lastPacketTime = ts
	}
}

// advanceState drives the FIN/ACK close handshake. A RST does not force a
// close; the normal sequence still governs the state.
func (c *Connection) advanceState(ts time.Time, seg *capture.Segment) {
	switch c.state {
	case StateOpen:
		if seg.FIN && seg.ACK {
			c.state = StateAwaitingFinAck2
		}
	case StateAwaitingFinAck2:
		if seg.FIN && seg.ACK {
			c.state = StateAwaitingFinalAck
		}
	case StateAwaitingFinalAck:
		if seg.ACK {
			c.state = StateClosed
			c.emitClosed(ts, CloseFlowsClosed)
		}
	case StateClosed:
	}
}

// expire closes the connection because its idle timer elapsed.
func (c *Connection) expire(now time.Time) {
	if c.closeEmitted {
		return
	}
	c.state = StateClosed
	c.emitClosed(now, CloseTimeout)
}

func (c *Connection) emitClosed(ts time.Time, reason CloseReason) {
	if c.closeEmitted {
		return
	}
	c.closeEmitted = true
	for _, fn := range c.onClosed {
		fn(ts, c, reason)
	}
}
