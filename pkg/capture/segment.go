// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Segment is one captured TCP segment, already stripped of its link and
// network layer framing. This is the unit of work the whole pipeline runs on.
type Segment struct {
	Timestamp time.Time

	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16

	Seq uint32
	Ack uint32

	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool
	URG bool

	Payload []byte
}

// FlagString renders the set flags as "[SYN ACK]" for logging.
func (s *Segment) FlagString() string {
	var flags []string
	if s.SYN {
		flags = append(flags, "SYN")
	}
	if s.ACK {
		flags = append(flags, "ACK")
	}
	if s.FIN {
		flags = append(flags, "FIN")
	}
	if s.RST {
		flags = append(flags, "RST")
	}
	if s.PSH {
		flags = append(flags, "PSH")
	}
	if s.URG {
		flags = append(flags, "URG")
	}
	if len(flags) == 0 {
		return "[.]"
	}
	return "[" + strings.Join(flags, " ") + "]"
}

// String returns a one-line summary of the segment.
func (s *Segment) String() string {
	return fmt.Sprintf("%s:%d → %s:%d %s seq=%d ack=%d len=%d",
		s.SrcIP, s.SrcPort, s.DstIP, s.DstPort,
		s.FlagString(), s.Seq, s.Ack, len(s.Payload))
}
