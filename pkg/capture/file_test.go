// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// writeTestPcap builds a small capture: SYN, SYN-ACK, then a data segment.
func writeTestPcap(t *testing.T, path string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}

	clientIP := net.ParseIP("192.168.1.10")
	serverIP := net.ParseIP("93.184.216.34")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	type pkt struct {
		srcIP, dstIP     net.IP
		srcPort, dstPort layers.TCPPort
		seq              uint32
		syn, ack         bool
		payload          []byte
	}
	pkts := []pkt{
		{clientIP, serverIP, 40000, 80, 1000, true, false, nil},
		{serverIP, clientIP, 80, 40000, 2000, true, true, nil},
		{clientIP, serverIP, 40000, 80, 1001, false, true, []byte("GET / HTTP/1.1\r\n\r\n")},
	}

	for i, p := range pkts {
		eth := layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    p.srcIP,
			DstIP:    p.dstIP,
		}
		tcp := layers.TCP{
			SrcPort: p.srcPort,
			DstPort: p.dstPort,
			Seq:     p.seq,
			SYN:     p.syn,
			ACK:     p.ack,
			Window:  65535,
		}
		tcp.SetNetworkLayerForChecksum(&ip)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(p.payload)); err != nil {
			t.Fatalf("serialize packet %d: %v", i, err)
		}

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet %d: %v", i, err)
		}
	}
}

func TestFileSourceReplaysSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handshake.pcap")
	writeTestPcap(t, path)

	src := NewFileSource(&Config{PcapFile: path, Logger: zap.NewNop()})

	var mu sync.Mutex
	var segs []*Segment
	src.OnSegment(func(seg *Segment) {
		mu.Lock()
		segs = append(segs, seg)
		mu.Unlock()
	})

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	select {
	case <-src.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}

	mu.Lock()
	defer mu.Unlock()

	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}

	syn := segs[0]
	if !syn.SYN || syn.ACK {
		t.Errorf("first segment flags = %s, want SYN only", syn.FlagString())
	}
	if syn.SrcIP.String() != "192.168.1.10" || syn.SrcPort != 40000 {
		t.Errorf("first segment source = %s:%d", syn.SrcIP, syn.SrcPort)
	}
	if syn.DstIP.String() != "93.184.216.34" || syn.DstPort != 80 {
		t.Errorf("first segment destination = %s:%d", syn.DstIP, syn.DstPort)
	}
	if syn.Seq != 1000 {
		t.Errorf("first segment seq = %d, want 1000", syn.Seq)
	}

	synAck := segs[1]
	if !synAck.SYN || !synAck.ACK {
		t.Errorf("second segment flags = %s, want SYN+ACK", synAck.FlagString())
	}

	data := segs[2]
	if string(data.Payload) != "GET / HTTP/1.1\r\n\r\n" {
		t.Errorf("payload = %q", data.Payload)
	}
	if data.Timestamp.IsZero() {
		t.Error("timestamp must come from the capture record")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(&Config{PcapFile: "/nonexistent.pcap", Logger: zap.NewNop()})
	if err := src.Start(context.Background()); err == nil {
		t.Error("expected error for missing capture file")
	}
}

func TestSegmentFlagString(t *testing.T) {
	seg := &Segment{SYN: true, ACK: true}
	if got := seg.FlagString(); got != "[SYN ACK]" {
		t.Errorf("FlagString = %q", got)
	}
	if got := (&Segment{}).FlagString(); got != "[.]" {
		t.Errorf("empty FlagString = %q", got)
	}
}
