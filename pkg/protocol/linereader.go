// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package protocol

import (
	"io"

	"github.com/mbeema/wiresight/pkg/reassembly"
)

// LineResult classifies one ReadLine attempt.
type LineResult uint8

const (
	// NeedMoreBytes: the stream has no bytes at the cursor yet.
	NeedMoreBytes LineResult = iota
	// StringAtEndOfStream: bytes are present but no CRLF before end of
	// stream. The cursor is restored.
	StringAtEndOfStream
	// StringTerminatedByCrLf: a full line was returned (CRLF stripped) and
	// the cursor advanced past the CRLF.
	StringTerminatedByCrLf
	// NonAsciiCharacterFound: a byte above 0x7F appeared before any CRLF.
	// The cursor is restored.
	NonAsciiCharacterFound
)

// ReadLine reads up to and including the next CRLF pair from the stream's
// cursor. Scanning short-circuits on the first byte above 0x7F so a binary
// body never gets scanned end to end for a CRLF that is not coming.
func ReadLine(s *reassembly.Stream) (string, LineResult) {
	start := s.Position()
	if start >= s.Len() {
		return "", NeedMoreBytes
	}

	var line []byte
	for {
		b, err := s.ReadByte()
		if err != nil {
			s.Seek(start, io.SeekStart)
			return "", StringAtEndOfStream
		}
		if b > 0x7F {
			s.Seek(start, io.SeekStart)
			return "", NonAsciiCharacterFound
		}
		if b == '\n' && len(line) > 0 && line[len(line)-1] == '\r' {
			return string(line[:len(line)-1]), StringTerminatedByCrLf
		}
		line = append(line, b)
	}
}
