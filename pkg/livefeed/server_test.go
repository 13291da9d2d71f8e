// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package livefeed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestPublishKeepsRecentEvents(t *testing.T) {
	s := NewServer(":0", NewHub(zap.NewNop()), zap.NewNop())

	s.Publish("transaction", map[string]string{"name": "GET / → 200"})
	s.Publish("connection_closed", map[string]string{"reason": "flows_closed"})

	rec := httptest.NewRecorder()
	s.handleRecent(rec, httptest.NewRequest(http.MethodGet, "/api/recent", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var events []Event
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != "transaction" || events[1].Type != "connection_closed" {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
}

func TestRecentRingIsBounded(t *testing.T) {
	s := NewServer(":0", NewHub(zap.NewNop()), zap.NewNop())

	for i := 0; i < recentRingSize+10; i++ {
		s.Publish("transaction", i)
	}

	s.mu.Lock()
	n := len(s.recent)
	s.mu.Unlock()
	if n != recentRingSize {
		t.Errorf("recent = %d events, want %d", n, recentRingSize)
	}
}

func TestRecentRejectsNonGet(t *testing.T) {
	s := NewServer(":0", NewHub(zap.NewNop()), zap.NewNop())

	rec := httptest.NewRecorder()
	s.handleRecent(rec, httptest.NewRequest(http.MethodPost, "/api/recent", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
