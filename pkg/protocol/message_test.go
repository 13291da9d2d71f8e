// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package protocol

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"testing"
)

func TestRequestNoBody(t *testing.T) {
	s := streamWith(t, []byte("GET /index.html?q=1 HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n\r\n"))

	req := NewRequest()
	res, err := req.Process(s)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if res != ResultComplete {
		t.Fatalf("result = %d, want Complete", res)
	}

	if req.Method != MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL != "/index.html?q=1" {
		t.Errorf("url = %q", req.URL)
	}
	if req.Version != Version11 {
		t.Errorf("version = %s, want HTTP/1.1", req.Version)
	}
	if req.Headers["Host"] != "example.com" {
		t.Errorf("Host = %q", req.Headers["Host"])
	}
	if req.Body != nil {
		t.Errorf("body = %q, want nil", req.Body)
	}
}

func TestRequestWithContentLengthBody(t *testing.T) {
	body := "name=alice&age=30"
	s := streamWith(t, []byte("POST /submit HTTP/1.0\r\nContent-Length: 17\r\n\r\n"+body))

	req := NewRequest()
	res, err := req.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if string(req.Body) != body {
		t.Errorf("body = %q, want %q", req.Body, body)
	}
	if req.Version != Version10 {
		t.Errorf("version = %s, want HTTP/1.0", req.Version)
	}
}

func TestRequestIncrementalFeeding(t *testing.T) {
	full := "POST /p HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	s := streamWith(t)
	req := NewRequest()

	// Feed one byte at a time: every intermediate step stalls, none errors.
	for i := 0; i < len(full)-1; i++ {
		appendBytes(t, s, []byte{full[i]})
		res, err := req.Process(s)
		if err != nil {
			t.Fatalf("byte %d: error %v", i, err)
		}
		if res != ResultNeedMoreData {
			t.Fatalf("byte %d: result = %d, want NeedMoreData", i, res)
		}
	}

	appendBytes(t, s, []byte{full[len(full)-1]})
	res, err := req.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("final Process = (%d, %v)", res, err)
	}
	if string(req.Body) != "hello" {
		t.Errorf("body = %q", req.Body)
	}
}

func TestRequestLineErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"unknown method", "FETCH / HTTP/1.1\r\n", ErrMalformedHTTP},
		{"bad version", "GET / HTTP/9.9\r\n", ErrVersionParse},
		{"missing parts", "GET /\r\n", ErrMalformedHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := streamWith(t, []byte(tt.line))
			req := NewRequest()
			res, err := req.Process(s)
			if res != ResultError {
				t.Fatalf("result = %d, want Error", res)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if s.Position() != 0 {
				t.Errorf("position = %d, want 0 (restored to failing step)", s.Position())
			}
		})
	}
}

func TestStatusLine(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 404 Not Found\r\n\r\n"))

	st := NewStatus()
	res, err := st.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if st.Code != 404 {
		t.Errorf("code = %d, want 404", st.Code)
	}
	// The reason phrase keeps its internal space: split on the first two
	// spaces only.
	if st.ReasonPhrase != "Not Found" {
		t.Errorf("reason = %q, want %q", st.ReasonPhrase, "Not Found")
	}
}

func TestStatusCodeParseError(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 abc OK\r\n\r\n"))

	st := NewStatus()
	res, err := st.Process(s)
	if res != ResultError || !errors.Is(err, ErrStatusCodeParse) {
		t.Errorf("Process = (%d, %v), want ErrStatusCodeParse", res, err)
	}
}

func TestHeaderParsing(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"X-Key: first\r\n" +
		"X-Key: second\r\n" +
		"Cookie: session=abc123; theme=dark\r\n" +
		"\r\n"))

	st := NewStatus()
	if res, err := st.Process(s); err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}

	if st.Headers["Content-Type"] != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", st.Headers["Content-Type"])
	}
	// Duplicate keys keep the last value.
	if st.Headers["X-Key"] != "second" {
		t.Errorf("X-Key = %q, want %q", st.Headers["X-Key"], "second")
	}

	cookies := st.Cookies()
	if cookies["session"] != "abc123" || cookies["theme"] != "dark" {
		t.Errorf("cookies = %v", cookies)
	}
}

func TestMalformedHeaderLine(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\nNoSeparatorHere\r\n\r\n"))

	st := NewStatus()
	res, err := st.Process(s)
	if res != ResultError || !errors.Is(err, ErrMalformedHTTP) {
		t.Errorf("Process = (%d, %v), want ErrMalformedHTTP", res, err)
	}
}

func TestContentLengthParseError(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\nContent-Length: twelve\r\n\r\n"))

	st := NewStatus()
	res, err := st.Process(s)
	if res != ResultError || !errors.Is(err, ErrContentLengthParse) {
		t.Errorf("Process = (%d, %v), want ErrContentLengthParse", res, err)
	}
}

func TestChunkedBody(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"\r\n"+
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"))

	st := NewStatus()
	res, err := st.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if string(st.Body) != "Wikipedia" {
		t.Errorf("body = %q, want %q", st.Body, "Wikipedia")
	}
}

func TestChunkedBodyIncremental(t *testing.T) {
	head := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"
	s := streamWith(t, []byte(head), []byte("4\r\nWi"))

	st := NewStatus()
	if res, err := st.Process(s); err != nil || res != ResultNeedMoreData {
		t.Fatalf("partial chunk Process = (%d, %v)", res, err)
	}

	appendBytes(t, s, []byte("ki\r\n0\r\n"))
	if res, err := st.Process(s); err != nil || res != ResultNeedMoreData {
		t.Fatalf("missing trailer Process = (%d, %v)", res, err)
	}

	appendBytes(t, s, []byte("\r\n"))
	res, err := st.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("final Process = (%d, %v)", res, err)
	}
	if string(st.Body) != "Wiki" {
		t.Errorf("body = %q", st.Body)
	}
}

func TestChunkLengthParseError(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"\r\n"+
		"zz\r\n"))

	st := NewStatus()
	res, err := st.Process(s)
	if res != ResultError || !errors.Is(err, ErrChunkLengthParse) {
		t.Errorf("Process = (%d, %v), want ErrChunkLengthParse", res, err)
	}
}

func TestChunkSeparatorMustBeEmpty(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"\r\n"+
		"4\r\nWikiJUNK\r\n"))

	st := NewStatus()
	res, err := st.Process(s)
	if res != ResultError || !errors.Is(err, ErrMalformedHTTP) {
		t.Errorf("Process = (%d, %v), want ErrMalformedHTTP", res, err)
	}
}

// When both Content-Length and Transfer-Encoding are present, the parser
// reads the body by Content-Length. Compatibility behavior, kept on purpose.
func TestContentLengthWinsOverChunked(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\n"+
		"Content-Length: 4\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"\r\n"+
		"data"))

	st := NewStatus()
	res, err := st.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if string(st.Body) != "data" {
		t.Errorf("body = %q, want %q", st.Body, "data")
	}
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestGzipBodyDecoded(t *testing.T) {
	plain := []byte(`{"user":"alice","messages":[1,2,3]}`)
	compressed := gzipBytes(t, plain)

	head := []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Encoding: gzip\r\n" +
		"Content-Length: " + itoa(len(compressed)) + "\r\n" +
		"\r\n")
	s := streamWith(t, append(head, compressed...))

	st := NewStatus()
	res, err := st.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if !bytes.Equal(st.Body, plain) {
		t.Errorf("body = %q, want %q", st.Body, plain)
	}
	if !bytes.Equal(st.CompressedBody, compressed) {
		t.Error("CompressedBody must keep the original bytes")
	}

	// Round trip: re-encoding the decoded body decodes back to it.
	again := gzipBytes(t, st.Body)
	r, err := gzip.NewReader(bytes.NewReader(again))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), st.Body) {
		t.Error("gzip round trip mismatch")
	}
}

func TestDeflateBodyDecoded(t *testing.T) {
	plain := []byte("deflate encoded response body")
	compressed := zlibBytes(t, plain)

	head := []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Encoding: deflate\r\n" +
		"Content-Length: " + itoa(len(compressed)) + "\r\n" +
		"\r\n")
	s := streamWith(t, append(head, compressed...))

	st := NewStatus()
	res, err := st.Process(s)
	if err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if !bytes.Equal(st.Body, plain) {
		t.Errorf("body = %q, want %q", st.Body, plain)
	}
}

func TestUnknownContentEncoding(t *testing.T) {
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\n"+
		"Content-Encoding: br\r\n"+
		"Content-Length: 4\r\n"+
		"\r\n"+
		"data"))

	st := NewStatus()
	res, err := st.Process(s)
	if res != ResultError || !errors.Is(err, ErrUnknownContentEncoding) {
		t.Errorf("Process = (%d, %v), want ErrUnknownContentEncoding", res, err)
	}
}

func TestPipelinedMessagesShareStream(t *testing.T) {
	s := streamWith(t, []byte("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n"))

	first := NewRequest()
	if res, err := first.Process(s); err != nil || res != ResultComplete {
		t.Fatalf("first Process = (%d, %v)", res, err)
	}
	if first.URL != "/a" {
		t.Errorf("first url = %q", first.URL)
	}

	second := NewRequest()
	if res, err := second.Process(s); err != nil || res != ResultComplete {
		t.Fatalf("second Process = (%d, %v)", res, err)
	}
	if second.URL != "/b" {
		t.Errorf("second url = %q", second.URL)
	}
}

func TestBodyLengthMatchesDeclaration(t *testing.T) {
	// Content-Length body.
	s := streamWith(t, []byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123456789extra"))
	st := NewStatus()
	if res, err := st.Process(s); err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if len(st.Body) != 10 {
		t.Errorf("body length = %d, want 10", len(st.Body))
	}

	// Chunked body: length is the sum of chunk lengths.
	s2 := streamWith(t, []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"3\r\nabc\r\n7\r\ndefghij\r\n0\r\n\r\n"))
	st2 := NewStatus()
	if res, err := st2.Process(s2); err != nil || res != ResultComplete {
		t.Fatalf("Process = (%d, %v)", res, err)
	}
	if len(st2.Body) != 10 {
		t.Errorf("chunked body length = %d, want 10", len(st2.Body))
	}
}
