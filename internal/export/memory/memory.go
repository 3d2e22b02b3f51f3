// Package memory is the export target used in tests and local runs: rows
// land in a slice instead of a spreadsheet.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
)

type Store struct {
	mu   sync.Mutex
	rows []core.TransactionView
}

func New() *Store {
	return &Store{}
}

// Append stores the row and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, row core.TransactionView) (string, error) {
	if err := row.Transaction.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []core.TransactionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.TransactionView, len(s.rows))
	copy(out, s.rows)
	return out
}
