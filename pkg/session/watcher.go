// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package session

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mbeema/wiresight/pkg/capture"
	"github.com/mbeema/wiresight/pkg/conntrack"
	"github.com/mbeema/wiresight/pkg/protocol"
	"github.com/mbeema/wiresight/pkg/reassembly"
	"go.uber.org/zap"
)

// ErrStreamLimitExceeded is reported when a flow buffers more than the
// configured bound without completing a message.
var ErrStreamLimitExceeded = errors.New("stream size limit exceeded")

// Direction says which HTTP role a flow plays.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionClient
	DirectionServer
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionClient:
		return "client"
	case DirectionServer:
		return "server"
	default:
		return "unknown"
	}
}

// Callback signatures. All run inline on the capture path; panics are
// recovered and logged, never propagated.
type (
	RequestFunc     func(ts time.Time, c *conntrack.Connection, req *protocol.Request)
	StatusFunc      func(ts time.Time, c *conntrack.Connection, st *protocol.Status)
	TransactionFunc func(tx *Transaction)
	ErrorFunc       func(ts time.Time, c *conntrack.Connection, err error)
)

// pendingRequest is a completed request waiting for its response, with the
// time it completed at. Distinct from the monitor's in-progress parse.
type pendingRequest struct {
	req *protocol.Request
	ts  time.Time
}

// flowMonitor is the per-direction parsing state.
type flowMonitor struct {
	flow      *conntrack.Flow
	stream    *reassembly.Stream
	direction Direction

	// request/status are the in-progress parses. Before the direction is
	// known both may exist tentatively; requestFailed records that the
	// request interpretation has already been ruled out.
	request       *protocol.Request
	status        *protocol.Status
	requestFailed bool
}

// Watcher reconstructs the HTTP session on one connection. It discovers
// which flow is the client by parsing the head of each flow first as a
// request and, failing that, as a status; pairs pipelined requests with
// responses FIFO; and stops monitoring on the first fatal condition.
type Watcher struct {
	logger *zap.Logger
	conn   *conntrack.Connection

	maxStreamBytes int64
	monitors       [2]*flowMonitor
	waiting        []pendingRequest

	onRequest     []RequestFunc
	onStatus      []StatusFunc
	onTransaction []TransactionFunc
	onError       []ErrorFunc

	torn bool
}

// NewWatcher attaches a watcher to a connection. maxStreamBytes bounds how
// much a flow may buffer before a message completes; zero means unbounded.
func NewWatcher(conn *conntrack.Connection, maxStreamBytes int64, logger *zap.Logger) *Watcher {
	w := &Watcher{
		logger:         logger,
		conn:           conn,
		maxStreamBytes: maxStreamBytes,
	}

	flows := conn.Flows()
	for i := range flows {
		w.monitors[i] = &flowMonitor{
			flow:   flows[i],
			stream: reassembly.NewStream(),
		}
		flows[i].OnPacket(w.handlePacket)
	}

	conn.OnClosed(func(ts time.Time, _ *conntrack.Connection, reason conntrack.CloseReason) {
		if reason == conntrack.CloseTimeout {
			w.teardown(ts, nil)
		}
	})

	return w
}

// OnRequest registers a listener for completed requests.
func (w *Watcher) OnRequest(fn RequestFunc) { w.onRequest = append(w.onRequest, fn) }

// OnStatus registers a listener for completed statuses.
func (w *Watcher) OnStatus(fn StatusFunc) { w.onStatus = append(w.onStatus, fn) }

// OnTransaction registers a listener for paired exchanges.
func (w *Watcher) OnTransaction(fn TransactionFunc) { w.onTransaction = append(w.onTransaction, fn) }

// OnError registers a listener for fatal monitoring errors.
func (w *Watcher) OnError(fn ErrorFunc) { w.onError = append(w.onError, fn) }

// Active reports whether the watcher is still monitoring.
func (w *Watcher) Active() bool { return !w.torn }

// PendingRequests returns how many completed requests await a response.
func (w *Watcher) PendingRequests() int { return len(w.waiting) }

func (w *Watcher) handlePacket(ts time.Time, f *conntrack.Flow, seg *capture.Segment) {
	if w.torn {
		return
	}

	m := w.monitors[f.Index()]
	if err := m.stream.Append(seg); err != nil {
		w.teardown(ts, err)
		return
	}
	w.drive(ts, m)
}

// drive parses as many complete messages as the buffered bytes allow —
// pipelined messages complete back to back — then checks the size bound.
func (w *Watcher) drive(ts time.Time, m *flowMonitor) {
	for !w.torn {
		completed, err := w.parseNext(ts, m)
		if err != nil {
			w.teardown(ts, err)
			return
		}
		if !completed {
			break
		}
	}
	if !w.torn && w.maxStreamBytes > 0 && m.stream.Len() > w.maxStreamBytes {
		w.teardown(ts, fmt.Errorf("%w: %d bytes buffered on %s flow",
			ErrStreamLimitExceeded, m.stream.Len(), m.direction))
	}
}

// parseNext attempts to complete one message on the monitor. Returns true
// when a message completed (more may follow), false when stalled, error on
// a fatal parse failure.
func (w *Watcher) parseNext(ts time.Time, m *flowMonitor) (bool, error) {
	switch m.direction {
	case DirectionClient:
		return w.parseRequest(ts, m)
	case DirectionServer:
		return w.parseStatus(ts, m)
	}

	// Direction still unknown: tentative request parse first. The stream
	// has never been trimmed at this point, so offset 0 is the head of
	// the flow and both interpretations start from there.
	if !m.requestFailed {
		if m.request == nil {
			m.request = protocol.NewRequest()
		}
		res, err := m.request.Process(m.stream)
		switch res {
		case protocol.ResultComplete:
			w.assignDirection(ts, m, DirectionClient)
			w.completeRequest(ts, m)
			return true, nil
		case protocol.ResultNeedMoreData:
			return false, nil
		case protocol.ResultError:
			w.logger.Debug("request interpretation ruled out",
				zap.String("connection", w.conn.Key().String()),
				zap.Error(err),
			)
			m.requestFailed = true
			m.request = nil
			m.stream.Seek(0, io.SeekStart)
		}
	}

	if m.status == nil {
		m.status = protocol.NewStatus()
	}
	res, err := m.status.Process(m.stream)
	switch res {
	case protocol.ResultComplete:
		w.assignDirection(ts, m, DirectionServer)
		w.completeStatus(ts, m)
		return true, nil
	case protocol.ResultNeedMoreData:
		return false, nil
	default:
		return false, err
	}
}

func (w *Watcher) parseRequest(ts time.Time, m *flowMonitor) (bool, error) {
	if m.request == nil {
		m.request = protocol.NewRequest()
	}
	res, err := m.request.Process(m.stream)
	switch res {
	case protocol.ResultComplete:
		w.completeRequest(ts, m)
		return true, nil
	case protocol.ResultNeedMoreData:
		return false, nil
	default:
		return false, err
	}
}

func (w *Watcher) parseStatus(ts time.Time, m *flowMonitor) (bool, error) {
	if m.status == nil {
		m.status = protocol.NewStatus()
	}
	res, err := m.status.Process(m.stream)
	switch res {
	case protocol.ResultComplete:
		w.completeStatus(ts, m)
		return true, nil
	case protocol.ResultNeedMoreData:
		return false, nil
	default:
		return false, err
	}
}

// assignDirection pins the flow's role; the opposite flow gets the opposite
// role. The opposite monitor's tentative parses are discarded and its
// cursor rewound so its first real parse sees the head of the flow, then it
// is driven in case complete data already arrived.
func (w *Watcher) assignDirection(ts time.Time, m *flowMonitor, d Direction) {
	m.direction = d

	other := w.monitors[1-m.flow.Index()]
	if other.direction != DirectionUnknown {
		return
	}
	if d == DirectionClient {
		other.direction = DirectionServer
	} else {
		other.direction = DirectionClient
	}
	other.request = nil
	other.status = nil
	other.stream.Seek(0, io.SeekStart)

	w.logger.Debug("flow directions discovered",
		zap.String("connection", w.conn.Key().String()),
		zap.String("client", w.clientEndpoint().String()),
	)

	if other.stream.Len() > 0 {
		w.drive(ts, other)
	}
}

func (w *Watcher) completeRequest(ts time.Time, m *flowMonitor) {
	req := m.request
	m.request = nil

	w.waiting = append(w.waiting, pendingRequest{req: req, ts: ts})
	for _, fn := range w.onRequest {
		w.safeCall(func() { fn(ts, w.conn, req) })
	}
	m.stream = m.stream.TrimUnusedPackets()
}

func (w *Watcher) completeStatus(ts time.Time, m *flowMonitor) {
	st := m.status
	m.status = nil

	var reqTime time.Time
	if len(w.waiting) > 0 {
		head := w.waiting[0]
		w.waiting = w.waiting[1:]
		st.Request = head.req
		reqTime = head.ts
	}

	for _, fn := range w.onStatus {
		w.safeCall(func() { fn(ts, w.conn, st) })
	}

	tx := &Transaction{
		ConnectionID: w.conn.ID,
		Client:       w.clientEndpoint(),
		Server:       w.serverEndpoint(),
		Request:      st.Request,
		Status:       st,
		RequestTime:  reqTime,
		StatusTime:   ts,
	}
	for _, fn := range w.onTransaction {
		w.safeCall(func() { fn(tx) })
	}

	m.stream = m.stream.TrimUnusedPackets()
}

func (w *Watcher) clientEndpoint() conntrack.Endpoint {
	for _, m := range w.monitors {
		if m.direction == DirectionClient {
			return m.flow.Endpoint()
		}
	}
	return conntrack.Endpoint{}
}

func (w *Watcher) serverEndpoint() conntrack.Endpoint {
	for _, m := range w.monitors {
		if m.direction == DirectionServer {
			return m.flow.Endpoint()
		}
	}
	return conntrack.Endpoint{}
}

// teardown stops both monitors. A nil err (connection timeout) stops
// quietly; otherwise error listeners are notified.
func (w *Watcher) teardown(ts time.Time, err error) {
	if w.torn {
		return
	}
	w.torn = true

	if err == nil {
		return
	}
	w.logger.Debug("session watcher torn down",
		zap.String("connection", w.conn.Key().String()),
		zap.Error(err),
	)
	for _, fn := range w.onError {
		w.safeCall(func() { fn(ts, w.conn, err) })
	}
}

// safeCall shields the pipeline from consumer callbacks: their panics are
// logged and swallowed.
func (w *Watcher) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("session callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
