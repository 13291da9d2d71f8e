// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package protocol

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mbeema/wiresight/pkg/reassembly"
)

// Version is the HTTP protocol version of a message.
type Version uint8

const (
	Version10 Version = iota
	Version11
)

// String returns "HTTP/1.0" or "HTTP/1.1".
func (v Version) String() string {
	if v == Version10 {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

func parseVersion(s string) (Version, error) {
	switch s {
	case "HTTP/1.0":
		return Version10, nil
	case "HTTP/1.1":
		return Version11, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrVersionParse, s)
}

// Phase is a state of the streaming parser.
type Phase uint8

const (
	PhaseRequestResponse Phase = iota
	PhaseHeaders
	PhaseBody
	PhaseBodyChunkedLength
	PhaseBodyChunkData
	PhaseBodyChunkSeparator
)

// Result is the outcome of one Process call.
type Result uint8

const (
	// ResultNeedMoreData: the cursor was restored to where parsing can
	// resume once more bytes arrive.
	ResultNeedMoreData Result = iota
	// ResultComplete: a whole message is available, body decoded.
	ResultComplete
	// ResultError: malformed input. The cursor was restored to the start
	// of the failing step. The accompanying error says what went wrong.
	ResultError
)

// contentLengthUnset marks the lazy Content-Length cache as not yet read.
const contentLengthUnset = -2

// Message holds the parts shared by requests and statuses, plus the parser
// state that carries across Process calls. Once a message completes it is
// handed to the consumer and never mutated again.
type Message struct {
	Version Version
	// Headers keeps literal keys, case-sensitive; a repeated key keeps the
	// last value seen.
	Headers map[string]string
	// Body is the decoded payload, nil for bodyless messages.
	Body []byte
	// CompressedBody keeps the original bytes when the body was
	// gzip/deflate encoded, else nil.
	CompressedBody []byte

	phase         Phase
	contentLength int64
	clErr         error
	chunkLength   int64
}

func newMessage() Message {
	return Message{
		Headers:       make(map[string]string),
		contentLength: contentLengthUnset,
	}
}

// Phase returns the parser's current phase.
func (m *Message) Phase() Phase { return m.phase }

// ContentLength returns the cached Content-Length header value, -1 when
// the header is absent. A malformed value fails with ErrContentLengthParse
// once the header is read.
func (m *Message) ContentLength() (int64, error) {
	if m.contentLength != contentLengthUnset || m.clErr != nil {
		return m.contentLength, m.clErr
	}
	v, ok := m.Headers["Content-Length"]
	if !ok {
		m.contentLength = -1
		return -1, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		m.clErr = fmt.Errorf("%w: %q", ErrContentLengthParse, v)
		return 0, m.clErr
	}
	m.contentLength = n
	return n, nil
}

// TransferEncoding returns the Transfer-Encoding header, or "".
func (m *Message) TransferEncoding() string {
	return m.Headers["Transfer-Encoding"]
}

// ContentEncoding returns the Content-Encoding header, or "".
func (m *Message) ContentEncoding() string {
	return m.Headers["Content-Encoding"]
}

// Cookies parses the Cookie header into name/value pairs: pairs split on
// "; ", names from values on the first "=".
func (m *Message) Cookies() map[string]string {
	raw, ok := m.Headers["Cookie"]
	if !ok {
		return nil
	}
	cookies := make(map[string]string)
	for _, pair := range strings.Split(raw, "; ") {
		name, value, _ := strings.Cut(pair, "=")
		cookies[name] = value
	}
	return cookies
}

// process runs the parser against the stream until the message completes,
// stalls for input, or fails. parseStartLine is supplied by Request and
// Status for their respective first-line grammars.
func (m *Message) process(s *reassembly.Stream, parseStartLine func(string) error) (Result, error) {
	for {
		switch m.phase {
		case PhaseRequestResponse:
			start := s.Position()
			line, lr := ReadLine(s)
			switch lr {
			case NeedMoreBytes, StringAtEndOfStream:
				return ResultNeedMoreData, nil
			case NonAsciiCharacterFound:
				return ResultError, fmt.Errorf("%w: non-ascii byte in start line", ErrMalformedHTTP)
			}
			if err := parseStartLine(line); err != nil {
				s.Seek(start, io.SeekStart)
				return ResultError, err
			}
			m.phase = PhaseHeaders

		case PhaseHeaders:
			start := s.Position()
			line, lr := ReadLine(s)
			switch lr {
			case NeedMoreBytes, StringAtEndOfStream:
				return ResultNeedMoreData, nil
			case NonAsciiCharacterFound:
				return ResultError, fmt.Errorf("%w: non-ascii byte in header line", ErrMalformedHTTP)
			}
			if line == "" {
				cl, err := m.ContentLength()
				if err != nil {
					s.Seek(start, io.SeekStart)
					return ResultError, err
				}
				switch {
				case cl >= 0:
					m.phase = PhaseBody
				case m.TransferEncoding() == "chunked":
					m.phase = PhaseBodyChunkedLength
				default:
					return ResultComplete, nil
				}
				continue
			}
			idx := strings.Index(line, ": ")
			if idx < 0 {
				s.Seek(start, io.SeekStart)
				return ResultError, fmt.Errorf("%w: header line %q", ErrMalformedHTTP, line)
			}
			m.Headers[line[:idx]] = line[idx+2:]

		case PhaseBody:
			cl, err := m.ContentLength()
			if err != nil {
				return ResultError, err
			}
			if s.Len()-s.Position() < cl {
				return ResultNeedMoreData, nil
			}
			start := s.Position()
			body := make([]byte, cl)
			if _, err := io.ReadFull(s, body); err != nil {
				s.Seek(start, io.SeekStart)
				return ResultError, fmt.Errorf("read body: %w", err)
			}
			m.Body = body
			if err := m.decodeBody(); err != nil {
				s.Seek(start, io.SeekStart)
				return ResultError, err
			}
			return ResultComplete, nil

		case PhaseBodyChunkedLength:
			start := s.Position()
			line, lr := ReadLine(s)
			switch lr {
			case NeedMoreBytes, StringAtEndOfStream:
				return ResultNeedMoreData, nil
			case NonAsciiCharacterFound:
				return ResultError, fmt.Errorf("%w: non-ascii byte in chunk length", ErrMalformedHTTP)
			}
			n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
			if err != nil {
				s.Seek(start, io.SeekStart)
				return ResultError, fmt.Errorf("%w: %q", ErrChunkLengthParse, line)
			}
			m.chunkLength = n
			m.phase = PhaseBodyChunkData

		case PhaseBodyChunkData:
			if m.chunkLength == 0 {
				m.phase = PhaseBodyChunkSeparator
				continue
			}
			if s.Len()-s.Position() < m.chunkLength {
				return ResultNeedMoreData, nil
			}
			chunk := make([]byte, m.chunkLength)
			if _, err := io.ReadFull(s, chunk); err != nil {
				return ResultError, fmt.Errorf("read chunk: %w", err)
			}
			m.Body = append(m.Body, chunk...)
			m.phase = PhaseBodyChunkSeparator

		case PhaseBodyChunkSeparator:
			start := s.Position()
			line, lr := ReadLine(s)
			switch lr {
			case NeedMoreBytes, StringAtEndOfStream:
				return ResultNeedMoreData, nil
			case NonAsciiCharacterFound:
				return ResultError, fmt.Errorf("%w: non-ascii byte in chunk separator", ErrMalformedHTTP)
			}
			if line != "" {
				s.Seek(start, io.SeekStart)
				return ResultError, fmt.Errorf("%w: expected empty chunk separator, got %q", ErrMalformedHTTP, line)
			}
			if m.chunkLength == 0 {
				if err := m.decodeBody(); err != nil {
					s.Seek(start, io.SeekStart)
					return ResultError, err
				}
				return ResultComplete, nil
			}
			m.phase = PhaseBodyChunkedLength
		}
	}
}

// decodeBody decompresses gzip/deflate bodies in place, keeping the
// original bytes in CompressedBody. Any other non-empty encoding fails.
func (m *Message) decodeBody() error {
	enc := m.ContentEncoding()
	if enc == "" {
		return nil
	}

	var (
		r   io.ReadCloser
		err error
	)
	switch enc {
	case "gzip":
		r, err = gzip.NewReader(bytes.NewReader(m.Body))
	case "deflate":
		r, err = zlib.NewReader(bytes.NewReader(m.Body))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownContentEncoding, enc)
	}
	if err != nil {
		return fmt.Errorf("decode %s body: %w", enc, err)
	}
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("decode %s body: %w", enc, err)
	}

	m.CompressedBody = m.Body
	m.Body = decoded
	return nil
}
