package feed

import (
	"sort"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
)

// mergeRows combines the held collection with an incoming page for append
// consumption. Records are deduplicated by transaction id, with incoming
// records winning a collision: a record edited between page fetches shows
// its latest version. The result is ordered by transaction date descending
// with id ascending as the tie-break, so same-date records from different
// pages land in a reproducible order.
//
// Pure function: neither input is mutated.
func mergeRows(existing []core.TransactionView, incoming []core.Transaction, categories []core.Category) []core.TransactionView {
	byID := make(map[string]core.TransactionView, len(existing)+len(incoming))
	for _, row := range existing {
		byID[row.ID] = row
	}
	for _, tx := range incoming {
		byID[tx.ID] = core.TransactionView{
			Transaction:  tx,
			CategoryName: core.DisplayName(categories, tx.CategoryID),
		}
	}

	merged := make([]core.TransactionView, 0, len(byID))
	for _, row := range byID {
		merged = append(merged, row)
	}
	sort.Slice(merged, func(i, j int) bool {
		di, dj := merged[i].Date.Time, merged[j].Date.Time
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// viewRows denormalizes one fetched page in server order, used when the page
// replaces the collection outright.
func viewRows(records []core.Transaction, categories []core.Category) []core.TransactionView {
	rows := make([]core.TransactionView, len(records))
	for i, tx := range records {
		rows[i] = core.TransactionView{
			Transaction:  tx,
			CategoryName: core.DisplayName(categories, tx.CategoryID),
		}
	}
	return rows
}
