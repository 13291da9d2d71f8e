// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package protocol

import "errors"

// Parse failures. Each is fatal for the message being parsed; the session
// watcher tears its monitors down when one surfaces. Match with errors.Is.
var (
	ErrMalformedHTTP          = errors.New("malformed http message")
	ErrVersionParse           = errors.New("http version parse failed")
	ErrStatusCodeParse        = errors.New("http status code parse failed")
	ErrChunkLengthParse       = errors.New("http chunk length parse failed")
	ErrContentLengthParse     = errors.New("http content length parse failed")
	ErrUnknownContentEncoding = errors.New("unknown content encoding")
)
