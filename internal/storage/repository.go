// Package storage keeps a local SQLite mirror of the remote transaction
// feed so the mirror daemon can serve listings and exports without the
// remote API being reachable.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"

	_ "modernc.org/sqlite"
)

const (
	stateKeyBudgetID = "last_budget_id"
	stateKeySyncedAt = "last_synced_at"
)

type MirrorRepository struct {
	db *sql.DB
}

// NewMirrorRepository opens (creating if needed) the mirror database at
// dbPath and brings its schema up to date.
func NewMirrorRepository(dbPath string) (*MirrorRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &MirrorRepository{db: db}, nil
}

func (r *MirrorRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UpsertRows writes one fetched page into the mirror in a single
// transaction. A row whose updated_at changed is flagged for re-export.
func (r *MirrorRepository) UpsertRows(ctx context.Context, rows []core.TransactionView) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (id, budget_id, category_id, category_name, amount_cents, tx_date, note, created_at, updated_at, exported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			budget_id = excluded.budget_id,
			category_id = excluded.category_id,
			category_name = excluded.category_name,
			amount_cents = excluded.amount_cents,
			tx_date = excluded.tx_date,
			note = excluded.note,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			exported = CASE WHEN excluded.updated_at IS NOT transactions.updated_at THEN 0 ELSE transactions.exported END`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.ID,
			row.BudgetID,
			row.CategoryID,
			row.CategoryName,
			row.Amount.Cents,
			row.Date.String(),
			row.Note,
			formatTime(row.CreatedAt),
			formatTime(row.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert transaction %s: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	slog.InfoContext(ctx, "Mirror rows upserted", "count", len(rows))
	return nil
}

// DeleteRow removes one transaction from the mirror. Deleting an id that
// was never mirrored is not an error.
func (r *MirrorRepository) DeleteRow(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Mirror row deleted", "id", id)
	}
	return nil
}

func (r *MirrorRepository) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// ListRows pages through the mirror in the feed's display order, newest
// date first with id as the tie-break.
func (r *MirrorRepository) ListRows(ctx context.Context, limit, offset int) ([]core.TransactionView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, budget_id, category_id, category_name, amount_cents, tx_date, note, created_at, updated_at
		FROM transactions
		ORDER BY tx_date DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// AllIDs returns every mirrored transaction id, used to reconcile the
// mirror against a freshly fetched feed.
func (r *MirrorRepository) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM transactions`)
	if err != nil {
		return nil, fmt.Errorf("list transaction ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction ids: %w", err)
	}
	return ids, nil
}

// UnexportedRows returns rows not yet written to the export target, oldest
// date first so exports land in chronological order.
func (r *MirrorRepository) UnexportedRows(ctx context.Context, limit int) ([]core.TransactionView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, budget_id, category_id, category_name, amount_cents, tx_date, note, created_at, updated_at
		FROM transactions
		WHERE exported = 0
		ORDER BY tx_date ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unexported transactions: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func (r *MirrorRepository) MarkExported(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE transactions SET exported = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction %s exported: %w", id, err)
	}
	return nil
}

// MarkSynced records which budget the mirror tracks and when the last full
// resync completed. An empty budget id means the resync could not tell which
// budget it walked (an empty feed); the previously tracked id is kept.
func (r *MirrorRepository) MarkSynced(ctx context.Context, budgetID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark synced: %w", err)
	}
	defer tx.Rollback()

	values := map[string]string{
		stateKeySyncedAt: at.UTC().Format(time.RFC3339),
	}
	if budgetID != "" {
		values[stateKeyBudgetID] = budgetID
	}
	for key, value := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mirror_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return fmt.Errorf("store mirror state %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark synced: %w", err)
	}
	return nil
}

// LastSynced returns the tracked budget id and the completion time of the
// last resync. A mirror that never synced yields zero values and no error.
func (r *MirrorRepository) LastSynced(ctx context.Context) (string, time.Time, error) {
	var budgetID string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM mirror_state WHERE key = ?`, stateKeyBudgetID).Scan(&budgetID)
	if err != nil && err != sql.ErrNoRows {
		return "", time.Time{}, fmt.Errorf("read mirror budget id: %w", err)
	}

	var raw string
	err = r.db.QueryRowContext(ctx, `SELECT value FROM mirror_state WHERE key = ?`, stateKeySyncedAt).Scan(&raw)
	if err == sql.ErrNoRows {
		return budgetID, time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read mirror synced at: %w", err)
	}

	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse mirror synced at %q: %w", raw, err)
	}
	return budgetID, at, nil
}

func scanRows(rows *sql.Rows) ([]core.TransactionView, error) {
	var out []core.TransactionView
	for rows.Next() {
		var (
			view               core.TransactionView
			rawDate            string
			createdAt, updated string
			cents              int64
		)
		err := rows.Scan(
			&view.ID,
			&view.BudgetID,
			&view.CategoryID,
			&view.CategoryName,
			&cents,
			&rawDate,
			&view.Note,
			&createdAt,
			&updated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		view.Amount = core.Money{Cents: cents}
		date, err := core.ParseDate(rawDate)
		if err != nil {
			return nil, fmt.Errorf("parse mirrored date %q: %w", rawDate, err)
		}
		view.Date = date
		if view.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if view.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse mirrored timestamp %q: %w", s, err)
	}
	return t, nil
}
