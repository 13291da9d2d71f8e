// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reassembly

import (
	"errors"
	"io"
)

// ErrSeekOutOfRange is returned for seeks that would place the cursor
// before the start of the buffer.
var ErrSeekOutOfRange = errors.New("seek out of range")

// ByteBuffer is a growable in-memory byte buffer with a read cursor.
// Appends always land at the end and never move the cursor. Seeking past
// the end is permitted; reads there return io.EOF.
type ByteBuffer struct {
	data []byte
	pos  int64
}

// Read copies up to len(p) bytes from the cursor, advancing it. Returns
// io.EOF when the cursor is at or past the end.
func (b *ByteBuffer) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// ReadByte returns the byte at the cursor, advancing it.
func (b *ByteBuffer) ReadByte() (byte, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	c := b.data[b.pos]
	b.pos++
	return c, nil
}

// Seek repositions the cursor using io.SeekStart, io.SeekCurrent, or
// io.SeekEnd semantics.
func (b *ByteBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return b.pos, errors.New("invalid whence")
	}
	if abs < 0 {
		return b.pos, ErrSeekOutOfRange
	}
	b.pos = abs
	return abs, nil
}

// Append adds bytes at the end without moving the cursor.
func (b *ByteBuffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Len returns the number of bytes stored.
func (b *ByteBuffer) Len() int64 { return int64(len(b.data)) }

// Position returns the cursor location.
func (b *ByteBuffer) Position() int64 { return b.pos }

// bytesFrom returns the stored bytes from offset to the end. The slice
// aliases the buffer; callers copy if they retain it.
func (b *ByteBuffer) bytesFrom(offset int64) []byte {
	if offset >= int64(len(b.data)) {
		return nil
	}
	return b.data[offset:]
}
