// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// FileSource replays TCP segments from a pcap capture file in record order.
type FileSource struct {
	baseSource

	path   string
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewFileSource creates a source that reads from a pcap file.
func NewFileSource(cfg *Config) *FileSource {
	return &FileSource{
		baseSource: baseSource{cfg: cfg, logger: cfg.Logger},
		path:       cfg.PcapFile,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start reads the whole file on a background goroutine, emitting segments
// in capture order.
func (s *FileSource) Start(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open pcap file: %w", err)
	}

	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("read pcap header: %w", err)
	}

	go func() {
		defer close(s.doneCh)
		defer f.Close()

		count := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}

			data, ci, err := r.ReadPacketData()
			if err == io.EOF {
				s.logger.Info("pcap replay finished",
					zap.String("file", s.path),
					zap.Int("segments", count),
				)
				return
			}
			if err != nil {
				s.logger.Error("pcap read failed", zap.Error(err))
				return
			}

			pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
			pkt.Metadata().CaptureInfo = ci

			seg, ok := segmentFromPacket(pkt)
			if !ok {
				continue
			}
			count++
			s.emit(seg)
		}
	}()

	return nil
}

// Stop halts the replay.
func (s *FileSource) Stop() error {
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Done returns a channel closed when the replay has consumed the whole file.
func (s *FileSource) Done() <-chan struct{} {
	return s.doneCh
}
