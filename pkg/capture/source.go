// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"context"
	"net/netip"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
)

// Source is the interface for TCP segment suppliers.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	OnSegment(fn func(*Segment))
}

// Config holds capture configuration.
type Config struct {
	Interface string
	PcapFile  string
	BPFFilter string
	SnapLen   int
	Logger    *zap.Logger
}

// baseSource provides callback fan-out shared by all sources.
type baseSource struct {
	cfg    *Config
	logger *zap.Logger

	mu        sync.RWMutex
	callbacks []func(*Segment)
}

func (s *baseSource) OnSegment(fn func(*Segment)) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

func (s *baseSource) emit(seg *Segment) {
	s.mu.RLock()
	cbs := s.callbacks
	s.mu.RUnlock()

	for _, cb := range cbs {
		cb(seg)
	}
}

// segmentFromPacket extracts a Segment from a decoded packet.
// Returns false for anything that is not TCP over IPv4/IPv6.
func segmentFromPacket(pkt gopacket.Packet) (*Segment, bool) {
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, false
	}
	tcp := tcpLayer.(*layers.TCP)

	var srcIP, dstIP netip.Addr
	switch ipLayer := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, _ = netip.AddrFromSlice(ipLayer.SrcIP)
		dstIP, _ = netip.AddrFromSlice(ipLayer.DstIP)
	case *layers.IPv6:
		srcIP, _ = netip.AddrFromSlice(ipLayer.SrcIP)
		dstIP, _ = netip.AddrFromSlice(ipLayer.DstIP)
	default:
		return nil, false
	}

	seg := &Segment{
		Timestamp: pkt.Metadata().Timestamp,
		SrcIP:     srcIP.Unmap(),
		DstIP:     dstIP.Unmap(),
		SrcPort:   uint16(tcp.SrcPort),
		DstPort:   uint16(tcp.DstPort),
		Seq:       tcp.Seq,
		Ack:       tcp.Ack,
		SYN:       tcp.SYN,
		ACK:       tcp.ACK,
		FIN:       tcp.FIN,
		RST:       tcp.RST,
		PSH:       tcp.PSH,
		URG:       tcp.URG,
		Payload:   tcp.Payload,
	}
	return seg, true
}
