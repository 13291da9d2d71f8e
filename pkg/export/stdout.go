// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mbeema/wiresight/pkg/session"
	"go.uber.org/zap"
)

// StdoutExporter prints transactions to stdout.
type StdoutExporter struct {
	format string // "text" or "json"
	logger *zap.Logger
}

// NewStdoutExporter creates a new stdout exporter.
func NewStdoutExporter(format string, logger *zap.Logger) *StdoutExporter {
	if format == "" {
		format = "text"
	}
	return &StdoutExporter{format: format, logger: logger}
}

// ExportTransactions prints each transaction on one line.
func (e *StdoutExporter) ExportTransactions(_ context.Context, txs []*session.Transaction) error {
	for _, tx := range txs {
		if e.format == "json" {
			e.printJSON(tx)
			continue
		}

		method, url := "?", "?"
		reqBody := 0
		if tx.Request != nil {
			method = string(tx.Request.Method)
			url = tx.Request.URL
			reqBody = len(tx.Request.Body)
		}
		fmt.Fprintf(os.Stdout,
			"[HTTP] %s %-40s %d %6dms req=%dB resp=%dB %s → %s\n",
			method, url, tx.Status.Code,
			tx.Duration().Milliseconds(),
			reqBody, len(tx.Status.Body),
			tx.Client, tx.Server,
		)
	}
	return nil
}

func (e *StdoutExporter) printJSON(tx *session.Transaction) {
	record := map[string]interface{}{
		"connection_id": tx.ConnectionID.String(),
		"client":        tx.Client.String(),
		"server":        tx.Server.String(),
		"status_code":   tx.Status.Code,
		"reason":        tx.Status.ReasonPhrase,
		"response_body": len(tx.Status.Body),
		"time":          tx.StatusTime.Format(time.RFC3339Nano),
		"duration_ms":   tx.Duration().Milliseconds(),
	}
	if tx.Request != nil {
		record["method"] = string(tx.Request.Method)
		record["url"] = tx.Request.URL
		record["request_body"] = len(tx.Request.Body)
	}

	data, err := json.Marshal(record)
	if err != nil {
		e.logger.Error("marshal transaction", zap.Error(err))
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}

// Shutdown is a no-op for stdout.
func (e *StdoutExporter) Shutdown(_ context.Context) error { return nil }
