package feed

import (
	"github.com/AnMiZa/home-budget-planner-sub001/internal/api"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
)

// OperationKind names a mutation performed through the controller.
type OperationKind string

const (
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// OperationStatus is the outcome of a mutation.
type OperationStatus string

const (
	StatusSuccess OperationStatus = "success"
	StatusError   OperationStatus = "error"
)

// OperationResult is the record of the most recent mutation, read by the
// view layer and cleared either explicitly or after its display window.
type OperationResult struct {
	Kind    OperationKind
	Status  OperationStatus
	Message string
}

// State is the single aggregate owned by a Controller. Consumers receive
// copies via Snapshot; only the controller writes it.
type State struct {
	// Rows is the transaction projection, ordered by date descending.
	Rows []core.TransactionView

	// Meta is the pagination metadata of the last settled fetch, nil before
	// the first page arrives.
	Meta *core.PaginationMeta

	// Categories is the cached category list used to denormalize rows.
	Categories []core.Category

	// IsLoading is set during initial loads and page jumps.
	IsLoading bool

	// IsLoadingMore is set during append (load-more) fetches.
	IsLoadingMore bool

	// Err is the fatal error of the last initial load or page jump. While
	// set, the view replaces the collection with an error state.
	Err *api.Error

	// LoadMoreErr is the error of the last append fetch. It is independent
	// of Err so a failed increment never blanks out displayed data.
	LoadMoreErr *api.Error

	// LastOp is the most recent mutation result, nil when dismissed.
	LastOp *OperationResult
}

// clone deep-copies the state so snapshots cannot alias controller-owned
// slices or pointers.
func (s State) clone() State {
	out := s
	if s.Rows != nil {
		out.Rows = make([]core.TransactionView, len(s.Rows))
		copy(out.Rows, s.Rows)
	}
	if s.Categories != nil {
		out.Categories = make([]core.Category, len(s.Categories))
		copy(out.Categories, s.Categories)
	}
	if s.Meta != nil {
		meta := *s.Meta
		out.Meta = &meta
	}
	if s.Err != nil {
		e := *s.Err
		out.Err = &e
	}
	if s.LoadMoreErr != nil {
		e := *s.LoadMoreErr
		out.LoadMoreErr = &e
	}
	if s.LastOp != nil {
		op := *s.LastOp
		out.LastOp = &op
	}
	return out
}
