// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package protocol

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mbeema/wiresight/pkg/reassembly"
)

// Status is a streaming HTTP response parse. When the session watcher pairs
// it with a pipelined request, Request points at that request.
type Status struct {
	Message

	Code         int
	ReasonPhrase string
	Request      *Request
}

// NewStatus creates an empty status parser.
func NewStatus() *Status {
	return &Status{Message: newMessage()}
}

// Process advances the parse against the stream.
func (st *Status) Process(s *reassembly.Stream) (Result, error) {
	return st.process(s, st.parseStartLine)
}

// parseStartLine handles "HTTP/X.Y SP CODE SP REASON", splitting on the
// first two spaces only: the reason phrase may itself contain spaces.
func (st *Status) parseStartLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("%w: status line %q", ErrMalformedHTTP, line)
	}
	version, err := parseVersion(parts[0])
	if err != nil {
		return err
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("%w: %q", ErrStatusCodeParse, parts[1])
	}

	st.Version = version
	st.Code = code
	if len(parts) == 3 {
		st.ReasonPhrase = parts[2]
	}
	return nil
}

// String returns "code reason", falling back to the standard reason phrase
// for known codes when the wire carried none.
func (st *Status) String() string {
	reason := st.ReasonPhrase
	if reason == "" {
		reason = http.StatusText(st.Code)
	}
	return strconv.Itoa(st.Code) + " " + reason
}
