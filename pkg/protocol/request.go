// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package protocol

import (
	"fmt"
	"strings"

	"github.com/mbeema/wiresight/pkg/reassembly"
)

// Method is an HTTP request method.
type Method string

// Recognized methods. Anything else fails the request-line parse.
const (
	MethodHead    Method = "HEAD"
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodTrace   Method = "TRACE"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodUnknown Method = "UNKNOWN"
)

var methods = map[string]Method{
	"HEAD":    MethodHead,
	"GET":     MethodGet,
	"POST":    MethodPost,
	"PUT":     MethodPut,
	"DELETE":  MethodDelete,
	"TRACE":   MethodTrace,
	"OPTIONS": MethodOptions,
	"CONNECT": MethodConnect,
}

// Request is a streaming HTTP request parse.
type Request struct {
	Message

	Method Method
	URL    string
}

// NewRequest creates an empty request parser.
func NewRequest() *Request {
	return &Request{Message: newMessage(), Method: MethodUnknown}
}

// Process advances the parse against the stream.
func (r *Request) Process(s *reassembly.Stream) (Result, error) {
	return r.process(s, r.parseStartLine)
}

// parseStartLine handles "METHOD SP URL SP HTTP/X.Y".
func (r *Request) parseStartLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return fmt.Errorf("%w: request line %q", ErrMalformedHTTP, line)
	}
	method, ok := methods[parts[0]]
	if !ok {
		return fmt.Errorf("%w: unknown method %q", ErrMalformedHTTP, parts[0])
	}
	version, err := parseVersion(parts[2])
	if err != nil {
		return err
	}

	r.Method = method
	r.URL = parts[1]
	r.Version = version
	return nil
}

// String returns "METHOD url".
func (r *Request) String() string {
	return string(r.Method) + " " + r.URL
}
