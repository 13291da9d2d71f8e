// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const defaultSnapLen = 65535

// LiveSource captures TCP segments from a network interface.
type LiveSource struct {
	baseSource

	iface  string
	handle *pcap.Handle
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLiveSource creates a source that captures from a live interface.
func NewLiveSource(cfg *Config) *LiveSource {
	return &LiveSource{
		baseSource: baseSource{cfg: cfg, logger: cfg.Logger},
		iface:      cfg.Interface,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start opens the interface and pumps segments until stopped.
func (s *LiveSource) Start(ctx context.Context) error {
	snapLen := s.cfg.SnapLen
	if snapLen == 0 {
		snapLen = defaultSnapLen
	}

	handle, err := pcap.OpenLive(s.iface, int32(snapLen), true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("open interface %s: %w", s.iface, err)
	}

	filter := s.cfg.BPFFilter
	if filter == "" {
		filter = "tcp"
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return fmt.Errorf("set bpf filter %q: %w", filter, err)
	}

	s.handle = handle
	s.logger.Info("live capture started",
		zap.String("interface", s.iface),
		zap.String("filter", filter),
	)

	go func() {
		defer close(s.doneCh)

		src := gopacket.NewPacketSource(handle, handle.LinkType())
		src.NoCopy = true
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case pkt, ok := <-src.Packets():
				if !ok {
					return
				}
				if seg, ok := segmentFromPacket(pkt); ok {
					s.emit(seg)
				}
			}
		}
	}()

	return nil
}

// Stop closes the capture handle.
func (s *LiveSource) Stop() error {
	close(s.stopCh)
	if s.handle != nil {
		s.handle.Close()
	}
	<-s.doneCh
	return nil
}
