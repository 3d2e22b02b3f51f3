// Package export writes mirrored transactions to an external target, with
// Google Sheets as the production target and an in-memory store for tests
// and local runs.
package export

import (
	"context"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
)

// RowWriter appends one transaction row to the export target.
type RowWriter interface {
	Append(ctx context.Context, row core.TransactionView) (rowRef string, err error)
}
