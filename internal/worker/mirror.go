// Package worker runs the mirror daemon: it periodically walks the remote
// transaction feed into the local SQLite mirror, reacts to mutation events,
// and pushes unexported rows to the configured export target.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/events"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/export"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/feed"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/storage"
)

// Feed is the slice of the sync controller the mirror drives.
type Feed interface {
	Refresh(ctx context.Context)
	LoadNextPage(ctx context.Context)
	Snapshot() feed.State
}

var _ Feed = (*feed.Controller)(nil)

// MirrorConfig holds tunables for the mirror loop.
type MirrorConfig struct {
	// ResyncInterval is how often the full feed walk runs (default: 15m).
	ResyncInterval time.Duration

	// ExportBatchSize is the max rows pushed per export pass (default: 25).
	ExportBatchSize int

	// ExportConcurrency bounds parallel export appends (default: 4).
	ExportConcurrency int

	// MaxPages caps the feed walk against runaway pagination (default: 1000).
	MaxPages int
}

// DefaultMirrorConfig returns sensible defaults.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		ResyncInterval:    15 * time.Minute,
		ExportBatchSize:   25,
		ExportConcurrency: 4,
		MaxPages:          1000,
	}
}

// Mirror owns the resync loop. A nil exporter disables the export pass.
type Mirror struct {
	feed     Feed
	repo     *storage.MirrorRepository
	exporter export.RowWriter
	config   MirrorConfig

	// kick requests an out-of-band resync, coalescing bursts into one.
	kick chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewMirror(f Feed, repo *storage.MirrorRepository, exporter export.RowWriter, config MirrorConfig) *Mirror {
	if config.ResyncInterval <= 0 {
		config.ResyncInterval = DefaultMirrorConfig().ResyncInterval
	}
	if config.ExportBatchSize <= 0 {
		config.ExportBatchSize = DefaultMirrorConfig().ExportBatchSize
	}
	if config.ExportConcurrency <= 0 {
		config.ExportConcurrency = DefaultMirrorConfig().ExportConcurrency
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultMirrorConfig().MaxPages
	}
	return &Mirror{
		feed:     f,
		repo:     repo,
		exporter: exporter,
		config:   config,
		kick:     make(chan struct{}, 1),
	}
}

// Start begins the mirror loop. Returns an error if already running.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("mirror is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.runLoop(ctx)

	slog.InfoContext(ctx, "Mirror started",
		"resync_interval", m.config.ResyncInterval,
		"export_batch_size", m.config.ExportBatchSize)

	return nil
}

// Stop gracefully stops the mirror and waits for the loop to finish.
func (m *Mirror) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	close(m.stopCh)

	select {
	case <-m.doneCh:
		slog.InfoContext(ctx, "Mirror stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Mirror stop timed out")
		return ctx.Err()
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	return nil
}

// IsRunning reports whether the loop is active.
func (m *Mirror) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RequestResync schedules a resync outside the regular interval. Safe from
// any goroutine; repeated requests coalesce.
func (m *Mirror) RequestResync() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// HandleEvent reacts to one mutation notification. Deletions apply to the
// mirror directly; edits schedule a resync so the mirror refetches the
// authoritative row.
func (m *Mirror) HandleEvent(ctx context.Context, event *events.TransactionEvent) error {
	switch event.Op {
	case events.OpDeleted:
		if err := m.repo.DeleteRow(ctx, event.ID); err != nil {
			return fmt.Errorf("apply delete event: %w", err)
		}
		return nil
	case events.OpUpdated:
		m.RequestResync()
		return nil
	default:
		return fmt.Errorf("unknown event op: %s", event.Op)
	}
}

func (m *Mirror) runLoop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.ResyncInterval)
	defer ticker.Stop()

	m.resyncAndExport(ctx)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.resyncAndExport(ctx)
		case <-m.kick:
			m.resyncAndExport(ctx)
		}
	}
}

func (m *Mirror) resyncAndExport(ctx context.Context) {
	if err := m.resync(ctx); err != nil {
		slog.ErrorContext(ctx, "Mirror resync failed", "error", err)
		return
	}
	if err := m.exportPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Mirror export failed", "error", err)
	}
}

// resync walks the whole feed through the controller, then reconciles the
// mirror: fetched rows are upserted, rows the feed no longer contains are
// deleted.
func (m *Mirror) resync(ctx context.Context) error {
	m.feed.Refresh(ctx)
	st := m.feed.Snapshot()
	if st.Err != nil {
		return fmt.Errorf("refresh feed: %s", st.Err.Message)
	}

	for pages := 1; st.Meta != nil && st.Meta.HasMore() && pages < m.config.MaxPages; pages++ {
		m.feed.LoadNextPage(ctx)
		st = m.feed.Snapshot()
		if st.LoadMoreErr != nil {
			return fmt.Errorf("walk feed page: %s", st.LoadMoreErr.Message)
		}
	}

	if err := m.repo.UpsertRows(ctx, st.Rows); err != nil {
		return fmt.Errorf("upsert mirror rows: %w", err)
	}

	fetched := make(map[string]struct{}, len(st.Rows))
	for _, row := range st.Rows {
		fetched[row.ID] = struct{}{}
	}
	ids, err := m.repo.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("list mirror ids: %w", err)
	}
	for _, id := range ids {
		if _, ok := fetched[id]; ok {
			continue
		}
		if err := m.repo.DeleteRow(ctx, id); err != nil {
			return fmt.Errorf("prune mirror row: %w", err)
		}
	}

	budgetID := ""
	if len(st.Rows) > 0 {
		budgetID = st.Rows[0].BudgetID
	}
	if err := m.repo.MarkSynced(ctx, budgetID, time.Now()); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	slog.InfoContext(ctx, "Mirror resync completed",
		"rows", len(st.Rows),
		"budget_id", budgetID)

	return nil
}

// exportPending pushes unexported rows to the export target, a bounded
// number at a time.
func (m *Mirror) exportPending(ctx context.Context) error {
	if m.exporter == nil {
		return nil
	}

	rows, err := m.repo.UnexportedRows(ctx, m.config.ExportBatchSize)
	if err != nil {
		return fmt.Errorf("list unexported rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.ExportConcurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			ref, err := m.exporter.Append(gctx, row)
			if err != nil {
				return fmt.Errorf("export row %s: %w", row.ID, err)
			}
			if err := m.repo.MarkExported(gctx, row.ID); err != nil {
				return fmt.Errorf("mark row %s exported: %w", row.ID, err)
			}
			slog.InfoContext(gctx, "Row exported", "id", row.ID, "ref", ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Export pass completed", "rows", len(rows))
	return nil
}
