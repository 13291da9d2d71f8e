// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/mbeema/wiresight/pkg/conntrack"
	"github.com/mbeema/wiresight/pkg/protocol"
)

// Transaction is one reconstructed HTTP exchange on a connection. Request
// is nil when the response could not be paired with a pipelined request
// (for example when capture started mid-session).
type Transaction struct {
	ConnectionID uuid.UUID
	Client       conntrack.Endpoint
	Server       conntrack.Endpoint

	Request *protocol.Request
	Status  *protocol.Status

	RequestTime time.Time
	StatusTime  time.Time
}

// Duration is the gap between request and response completion; zero when
// the request side is missing.
func (t *Transaction) Duration() time.Duration {
	if t.Request == nil || t.RequestTime.IsZero() {
		return 0
	}
	return t.StatusTime.Sub(t.RequestTime)
}

// Name returns a short label like "POST /ajax/chat/send.php → 200 OK".
func (t *Transaction) Name() string {
	if t.Request == nil {
		return "? → " + t.Status.String()
	}
	return t.Request.String() + " → " + t.Status.String()
}
