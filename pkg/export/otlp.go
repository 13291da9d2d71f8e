// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mbeema/wiresight/pkg/config"
	"github.com/mbeema/wiresight/pkg/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

const instrumentationName = "github.com/mbeema/wiresight"

// OTLPExporter ships reconstructed transactions as OTLP spans over gRPC,
// reconnecting automatically when the collector goes away.
type OTLPExporter struct {
	logger      *zap.Logger
	serviceName string
	version     string
	endpoint    string
	opts        []grpc.DialOption

	mu       sync.RWMutex
	conn     *grpc.ClientConn
	traceSvc coltracepb.TraceServiceClient
}

// NewOTLPExporter creates a new OTLP gRPC exporter.
func NewOTLPExporter(cfg *config.OTLPConfig, serviceName, version string, logger *zap.Logger) (*OTLPExporter, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(4*1024*1024),
			grpc.UseCompressor("gzip"),
		),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	e := &OTLPExporter{
		logger:      logger,
		serviceName: serviceName,
		version:     version,
		endpoint:    cfg.Endpoint,
		opts:        opts,
	}

	if err := e.connect(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *OTLPExporter) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}
	e.conn = conn
	e.traceSvc = coltracepb.NewTraceServiceClient(conn)
	return nil
}

func (e *OTLPExporter) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}
	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	default:
		return nil
	}
}

func (e *OTLPExporter) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))
	return e.connect()
}

// ExportTransactions converts the batch into one ResourceSpans and sends it.
func (e *OTLPExporter) ExportTransactions(ctx context.Context, txs []*session.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	if err := e.ensureConnected(); err != nil {
		return err
	}

	spans := make([]*tracepb.Span, 0, len(txs))
	for _, tx := range txs {
		spans = append(spans, e.spanFromTransaction(tx))
	}

	req := &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: e.resource(),
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{
					Name:    instrumentationName,
					Version: e.version,
				},
				Spans: spans,
			}},
		}},
	}

	e.mu.RLock()
	svc := e.traceSvc
	e.mu.RUnlock()

	_, err := svc.Export(ctx, req)
	return err
}

func (e *OTLPExporter) resource() *resourcepb.Resource {
	return &resourcepb.Resource{
		Attributes: []*commonpb.KeyValue{
			strAttr("service.name", e.serviceName),
			strAttr("service.version", e.version),
		},
	}
}

func (e *OTLPExporter) spanFromTransaction(tx *session.Transaction) *tracepb.Span {
	traceID := uuid.New()
	spanID := uuid.New()

	start := tx.RequestTime
	if start.IsZero() {
		start = tx.StatusTime
	}

	name := "HTTP"
	attrs := []*commonpb.KeyValue{
		strAttr("client.address", tx.Client.String()),
		strAttr("server.address", tx.Server.String()),
		intAttr("http.response.status_code", int64(tx.Status.Code)),
		intAttr("http.response.body.size", int64(len(tx.Status.Body))),
	}
	if tx.Request != nil {
		name = string(tx.Request.Method) + " " + tx.Request.URL
		attrs = append(attrs,
			strAttr("http.request.method", string(tx.Request.Method)),
			strAttr("url.path", tx.Request.URL),
			intAttr("http.request.body.size", int64(len(tx.Request.Body))),
		)
	}

	status := &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK}
	if tx.Status.Code >= 400 {
		status = &tracepb.Status{
			Code:    tracepb.Status_STATUS_CODE_ERROR,
			Message: fmt.Sprintf("HTTP %d", tx.Status.Code),
		}
	}

	return &tracepb.Span{
		TraceId:           traceID[:],
		SpanId:            spanID[:8],
		Name:              name,
		Kind:              tracepb.Span_SPAN_KIND_SERVER,
		StartTimeUnixNano: uint64(start.UnixNano()),
		EndTimeUnixNano:   uint64(tx.StatusTime.UnixNano()),
		Attributes:        attrs,
		Status:            status,
	}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

// Shutdown closes the gRPC connection.
func (e *OTLPExporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}
