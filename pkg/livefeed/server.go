// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package livefeed

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const recentRingSize = 128

// Server exposes the feed: /ws for the live stream, /api/recent for the
// last events a late-joining client missed.
type Server struct {
	logger *zap.Logger
	hub    *Hub
	addr   string
	server *http.Server

	mu     sync.Mutex
	recent []Event
}

// NewServer creates a livefeed HTTP server around a hub.
func NewServer(addr string, hub *Hub, logger *zap.Logger) *Server {
	return &Server{
		logger: logger,
		hub:    hub,
		addr:   addr,
	}
}

// Publish broadcasts the event and remembers it for /api/recent.
func (s *Server) Publish(eventType string, data interface{}) {
	s.mu.Lock()
	s.recent = append(s.recent, Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if len(s.recent) > recentRingSize {
		s.recent = s.recent[len(s.recent)-recentRingSize:]
	}
	s.mu.Unlock()

	s.hub.Broadcast(eventType, data)
}

// Start begins serving the feed endpoints.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/api/recent", s.handleRecent)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("livefeed server error", zap.Error(err))
		}
	}()

	s.logger.Info("livefeed server started", zap.String("addr", s.addr))
	return nil
}

// Stop shuts the server and hub down.
func (s *Server) Stop() error {
	s.hub.Stop()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	recent := make([]Event, len(s.recent))
	copy(recent, s.recent)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recent)
}
