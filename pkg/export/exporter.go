// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"

	"github.com/mbeema/wiresight/pkg/session"
)

// Exporter is the interface for transaction sinks.
type Exporter interface {
	ExportTransactions(ctx context.Context, txs []*session.Transaction) error
	Shutdown(ctx context.Context) error
}
