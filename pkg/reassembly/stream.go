// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reassembly

import (
	"errors"
	"io"
	"net/netip"

	"github.com/mbeema/wiresight/pkg/capture"
)

// ErrPacketNotPartOfStream is returned when an appended segment's endpoints
// do not match the endpoint pair established by the first segment.
var ErrPacketNotPartOfStream = errors.New("packet not part of stream")

// PacketInfo records one appended payload: its TCP sequence number, its
// length, and its byte offset within the reassembled buffer.
type PacketInfo struct {
	Seq    uint32
	Length int
	Offset int64
}

// Stream accumulates a flow's payload bytes into one contiguous, seekable
// buffer, remembering per-packet boundaries.
//
// Segments are appended in arrival order; the stream does not reorder by
// sequence number. Duplicated or reordered captures therefore surface as
// corrupted bytes, which the HTTP layer reports as a parse error.
type Stream struct {
	buf     ByteBuffer
	packets []PacketInfo

	srcIP   netip.Addr
	dstIP   netip.Addr
	srcPort uint16
	dstPort uint16
	bound   bool
}

// NewStream creates an empty stream. The first appended segment fixes the
// endpoint pair that all later appends are validated against.
func NewStream() *Stream {
	return &Stream{}
}

// Append validates the segment against the stream identity and, for
// non-empty payloads, records a PacketInfo and copies the payload to the
// end of the buffer. The read cursor is untouched.
func (s *Stream) Append(seg *capture.Segment) error {
	if !s.bound {
		s.srcIP = seg.SrcIP
		s.dstIP = seg.DstIP
		s.srcPort = seg.SrcPort
		s.dstPort = seg.DstPort
		s.bound = true
	} else if !s.matches(seg) {
		return ErrPacketNotPartOfStream
	}

	if len(seg.Payload) == 0 {
		return nil
	}

	s.packets = append(s.packets, PacketInfo{
		Seq:    seg.Seq,
		Length: len(seg.Payload),
		Offset: s.buf.Len(),
	})
	s.buf.Append(seg.Payload)
	return nil
}

// matches accepts segments traveling either way between the two endpoints
// the first segment established.
func (s *Stream) matches(seg *capture.Segment) bool {
	if seg.SrcIP == s.srcIP && seg.SrcPort == s.srcPort &&
		seg.DstIP == s.dstIP && seg.DstPort == s.dstPort {
		return true
	}
	return seg.SrcIP == s.dstIP && seg.SrcPort == s.dstPort &&
		seg.DstIP == s.srcIP && seg.DstPort == s.srcPort
}

// Read copies up to len(p) bytes from the cursor; io.EOF at end of stream.
func (s *Stream) Read(p []byte) (int, error) { return s.buf.Read(p) }

// ReadByte returns the byte at the cursor.
func (s *Stream) ReadByte() (byte, error) { return s.buf.ReadByte() }

// Seek repositions the cursor; whence follows the io package constants.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.buf.Seek(offset, whence)
}

// Position returns the cursor location.
func (s *Stream) Position() int64 { return s.buf.Position() }

// Len returns the total number of payload bytes appended.
func (s *Stream) Len() int64 { return s.buf.Len() }

// PacketCount returns the number of recorded payload-bearing packets.
func (s *Stream) PacketCount() int { return len(s.packets) }

// packetIndexAt returns the index of the PacketInfo containing the offset,
// or -1 when the offset is at or past the end of the buffer.
func (s *Stream) packetIndexAt(offset int64) int {
	for i, p := range s.packets {
		if offset >= p.Offset && offset < p.Offset+int64(p.Length) {
			return i
		}
	}
	return -1
}

// AdvanceToNextPacket moves the cursor to the start of the packet after the
// one containing it. Returns false — leaving the cursor at end of stream —
// when no later packet exists.
func (s *Stream) AdvanceToNextPacket() bool {
	i := s.packetIndexAt(s.buf.Position())
	if i < 0 || i+1 >= len(s.packets) {
		s.buf.Seek(0, io.SeekEnd)
		return false
	}
	s.buf.Seek(s.packets[i+1].Offset, io.SeekStart)
	return true
}

// TrimUnusedPackets returns a fresh stream holding only the packet
// containing the cursor and everything after it, with offsets rebased to
// zero and the cursor rebased accordingly. The endpoint identity carries
// over so future appends validate against the same pair.
func (s *Stream) TrimUnusedPackets() *Stream {
	t := &Stream{
		srcIP:   s.srcIP,
		dstIP:   s.dstIP,
		srcPort: s.srcPort,
		dstPort: s.dstPort,
		bound:   s.bound,
	}

	pos := s.buf.Position()
	i := s.packetIndexAt(pos)
	if i < 0 {
		// Cursor at end of stream: nothing to retain.
		return t
	}

	base := s.packets[i].Offset
	t.packets = make([]PacketInfo, 0, len(s.packets)-i)
	for _, p := range s.packets[i:] {
		t.packets = append(t.packets, PacketInfo{
			Seq:    p.Seq,
			Length: p.Length,
			Offset: p.Offset - base,
		})
	}
	t.buf.Append(s.buf.bytesFrom(base))
	t.buf.Seek(pos-base, io.SeekStart)
	return t
}
