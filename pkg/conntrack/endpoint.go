// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package conntrack

import (
	"fmt"
	"net/netip"

	"github.com/mbeema/wiresight/pkg/capture"
)

// Endpoint is one side of a TCP connection. Comparable, so it can key maps.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// String returns "addr:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// less orders endpoints by address, then port. Used to normalize flow keys.
func (e Endpoint) less(other Endpoint) bool {
	if c := e.Addr.Compare(other.Addr); c != 0 {
		return c < 0
	}
	return e.Port < other.Port
}

// FlowKey is the order-normalized endpoint pair identifying a connection.
// Two segments belong to the same connection iff their keys are equal,
// regardless of direction.
type FlowKey struct {
	A Endpoint
	B Endpoint
}

// NewFlowKey builds a normalized key from two endpoints.
func NewFlowKey(a, b Endpoint) FlowKey {
	if b.less(a) {
		a, b = b, a
	}
	return FlowKey{A: a, B: b}
}

// KeyForSegment derives the flow key from a segment's addressing.
func KeyForSegment(seg *capture.Segment) FlowKey {
	return NewFlowKey(
		Endpoint{Addr: seg.SrcIP, Port: seg.SrcPort},
		Endpoint{Addr: seg.DstIP, Port: seg.DstPort},
	)
}

// String returns "a <-> b".
func (k FlowKey) String() string {
	return k.A.String() + " <-> " + k.B.String()
}
