package feed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/api"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
)

type fakeGateway struct {
	mu sync.Mutex

	budgetID    string
	budgetErr   error
	budgetCalls int

	// budgetStarted signals when CurrentBudget is entered; budgetBlock, when
	// set, stalls the next CurrentBudget call until context cancellation and
	// is consumed by that call.
	budgetStarted chan struct{}
	budgetBlock   chan struct{}

	categories    []core.Category
	categoriesErr error
	categoryCalls int

	pages    map[int]*api.TransactionsPage
	pageErrs map[int]error
	txCalls  []int

	// txStarted receives the requested page when Transactions is entered;
	// txBlock, when set for a page, makes the call wait for a release or for
	// context cancellation.
	txStarted chan int
	txBlock   map[int]chan struct{}

	updated     core.Transaction
	updateErr   error
	updateCalls []string

	deleteErr error
	deleted   []string
}

func (g *fakeGateway) CurrentBudget(ctx context.Context) (string, error) {
	g.mu.Lock()
	g.budgetCalls++
	started := g.budgetStarted
	block := g.budgetBlock
	g.budgetBlock = nil
	id := g.budgetID
	resultErr := g.budgetErr
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if resultErr != nil {
		return "", resultErr
	}
	return id, nil
}

func (g *fakeGateway) Categories(ctx context.Context) ([]core.Category, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.categoryCalls++
	if g.categoriesErr != nil {
		return nil, g.categoriesErr
	}
	return g.categories, nil
}

func (g *fakeGateway) Transactions(ctx context.Context, budgetID string, page, pageSize int) (*api.TransactionsPage, error) {
	g.mu.Lock()
	g.txCalls = append(g.txCalls, page)
	started := g.txStarted
	block := g.txBlock[page]
	result := g.pages[page]
	resultErr := g.pageErrs[page]
	g.mu.Unlock()

	if started != nil {
		started <- page
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resultErr != nil {
		return nil, resultErr
	}
	if result == nil {
		return nil, &api.Error{Kind: api.KindNotFound, Status: http.StatusNotFound, Message: "page not found"}
	}
	return result, nil
}

func (g *fakeGateway) UpdateTransaction(ctx context.Context, id string, changes api.TransactionChanges) (core.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls = append(g.updateCalls, id)
	if g.updateErr != nil {
		return core.Transaction{}, g.updateErr
	}
	return g.updated, nil
}

func (g *fakeGateway) DeleteTransaction(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, id)
	return g.deleteErr
}

func (g *fakeGateway) transactionCalls() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int, len(g.txCalls))
	copy(out, g.txCalls)
	return out
}

func testMeta(page, totalItems, totalPages int) core.PaginationMeta {
	return core.PaginationMeta{Page: page, PageSize: 2, TotalItems: totalItems, TotalPages: totalPages}
}

func twoPageGateway(t *testing.T) *fakeGateway {
	t.Helper()
	return &fakeGateway{
		budgetID: "budget-1",
		categories: []core.Category{
			{ID: "cat-1", Name: "Groceries"},
			{ID: "cat-2", Name: "Utilities"},
		},
		pages: map[int]*api.TransactionsPage{
			1: {
				Records: []core.Transaction{
					testTx(t, "tx-1", "2026-08-20", 1200, "cat-1"),
					testTx(t, "tx-2", "2026-08-18", 4500, "cat-2"),
				},
				Meta: testMeta(1, 4, 2),
			},
			2: {
				Records: []core.Transaction{
					testTx(t, "tx-3", "2026-08-15", 800, "cat-1"),
					testTx(t, "tx-4", "2026-08-10", 300, "cat-1"),
				},
				Meta: testMeta(2, 4, 2),
			},
		},
	}
}

func TestController_Load(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))

	c.Load(context.Background())

	st := c.Snapshot()
	if st.IsLoading {
		t.Error("IsLoading still set after Load settled")
	}
	if st.Err != nil {
		t.Fatalf("Err = %v", st.Err)
	}
	if len(st.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(st.Rows))
	}
	if st.Rows[0].ID != "tx-1" || st.Rows[1].ID != "tx-2" {
		t.Errorf("rows out of order: %q, %q", st.Rows[0].ID, st.Rows[1].ID)
	}
	if st.Rows[0].CategoryName != "Groceries" || st.Rows[1].CategoryName != "Utilities" {
		t.Errorf("category names = %q, %q", st.Rows[0].CategoryName, st.Rows[1].CategoryName)
	}
	if st.Meta == nil || st.Meta.Page != 1 || st.Meta.TotalItems != 4 {
		t.Errorf("Meta = %+v", st.Meta)
	}
	if gw.budgetCalls != 1 || gw.categoryCalls != 1 {
		t.Errorf("budget calls = %d, category calls = %d, want 1 each", gw.budgetCalls, gw.categoryCalls)
	}
}

func TestController_LoadWithoutBudget(t *testing.T) {
	gw := &fakeGateway{
		budgetErr: &api.Error{Kind: api.KindNotFound, Status: http.StatusNotFound, Message: "no current budget"},
	}
	c := NewController(gw)

	c.Load(context.Background())

	st := c.Snapshot()
	if st.IsLoading {
		t.Error("IsLoading still set")
	}
	if st.Err == nil {
		t.Fatal("Err = nil, want not-found")
	}
	if st.Err.Kind != api.KindNotFound || st.Err.Status != http.StatusNotFound {
		t.Errorf("Err = %+v", st.Err)
	}
	if st.Err.Message != noBudgetMessage {
		t.Errorf("Err.Message = %q", st.Err.Message)
	}
	if calls := gw.transactionCalls(); len(calls) != 0 {
		t.Errorf("transactions fetched without a budget: %v", calls)
	}
}

func TestController_LoadTreatsBudgetFailureAsAbsent(t *testing.T) {
	gw := &fakeGateway{
		budgetErr: &api.Error{Kind: api.KindServer, Status: http.StatusInternalServerError, Message: "boom"},
	}
	c := NewController(gw)

	c.Load(context.Background())

	st := c.Snapshot()
	if st.Err == nil || st.Err.Kind != api.KindNotFound {
		t.Fatalf("Err = %+v, want the no-budget state", st.Err)
	}
}

func TestController_LoadPageReplacesRows(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))

	c.Load(context.Background())
	c.LoadPage(context.Background(), 2)

	st := c.Snapshot()
	if st.Err != nil {
		t.Fatalf("Err = %v", st.Err)
	}
	if len(st.Rows) != 2 || st.Rows[0].ID != "tx-3" || st.Rows[1].ID != "tx-4" {
		t.Errorf("page jump did not replace rows: %+v", st.Rows)
	}
	if st.Meta.Page != 2 {
		t.Errorf("Meta.Page = %d, want 2", st.Meta.Page)
	}
	// Budget and categories are memoized across the jump.
	if gw.budgetCalls != 1 || gw.categoryCalls != 1 {
		t.Errorf("budget calls = %d, category calls = %d, want 1 each", gw.budgetCalls, gw.categoryCalls)
	}
}

func TestController_LoadPageWithoutBudgetActsAsInitialLoad(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))

	c.LoadPage(context.Background(), 2)

	st := c.Snapshot()
	if st.Err != nil {
		t.Fatalf("Err = %v", st.Err)
	}
	if st.Meta == nil || st.Meta.Page != 1 {
		t.Errorf("Meta = %+v, want page 1", st.Meta)
	}
}

func TestController_PageJumpDiscardsSupersededLoad(t *testing.T) {
	gw := twoPageGateway(t)
	gw.txStarted = make(chan int, 4)
	release := make(chan struct{})
	gw.txBlock = map[int]chan struct{}{1: release}
	c := NewController(gw, WithPageSize(2))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Load(context.Background())
	}()

	// Wait for the page 1 fetch to be in flight, then jump to page 2.
	select {
	case <-gw.txStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("page 1 fetch never started")
	}
	c.LoadPage(context.Background(), 2)
	close(release)
	wg.Wait()

	st := c.Snapshot()
	if st.IsLoading {
		t.Error("IsLoading still set")
	}
	if st.Err != nil {
		t.Fatalf("Err = %v", st.Err)
	}
	if st.Meta == nil || st.Meta.Page != 2 {
		t.Errorf("Meta.Page = %+v, want page 2", st.Meta)
	}
	if len(st.Rows) != 2 || st.Rows[0].ID != "tx-3" {
		t.Errorf("superseded page 1 result leaked into state: %+v", st.Rows)
	}
}

func TestController_PageJumpDuringBudgetResolutionDoesNotPoisonSuccessor(t *testing.T) {
	gw := twoPageGateway(t)
	gw.budgetStarted = make(chan struct{}, 2)
	gw.budgetBlock = make(chan struct{}) // freed only by cancellation
	c := NewController(gw, WithPageSize(2))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Load(context.Background())
	}()

	// Wait for the budget fetch to be in flight, then jump. The jump cancels
	// the first load while the shared budget resolution is still running.
	select {
	case <-gw.budgetStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("budget resolution never started")
	}
	c.LoadPage(context.Background(), 2)
	wg.Wait()

	st := c.Snapshot()
	if st.IsLoading {
		t.Error("IsLoading still set")
	}
	if st.Err != nil {
		t.Fatalf("active load ended in error state although the budget exists: %v", st.Err)
	}
	// Without a memoized budget the jump degrades to an initial load.
	if st.Meta == nil || st.Meta.Page != 1 {
		t.Fatalf("Meta = %+v, want page 1", st.Meta)
	}
	if len(st.Rows) != 2 || st.Rows[0].ID != "tx-1" {
		t.Errorf("Rows = %+v", st.Rows)
	}
	if gw.budgetCalls != 2 {
		t.Errorf("budget calls = %d, want a retry after the doomed flight", gw.budgetCalls)
	}
}

func TestController_LoadClearsStaleLoadMoreError(t *testing.T) {
	gw := twoPageGateway(t)
	gw.pageErrs = map[int]error{
		2: &api.Error{Kind: api.KindServer, Status: http.StatusInternalServerError, Message: "db down"},
	}
	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())
	c.LoadNextPage(context.Background())

	if st := c.Snapshot(); st.LoadMoreErr == nil {
		t.Fatal("LoadMoreErr = nil, want the append failure")
	}

	c.Refresh(context.Background())

	st := c.Snapshot()
	if st.Err != nil {
		t.Fatalf("Err = %v", st.Err)
	}
	if st.LoadMoreErr != nil {
		t.Errorf("stale LoadMoreErr survived the reload: %+v", st.LoadMoreErr)
	}
}

func TestController_LoadNextPageMergesPages(t *testing.T) {
	gw := twoPageGateway(t)
	// tx-2 reappears on page 2 with an edit made between the fetches.
	edited := testTx(t, "tx-2", "2026-08-18", 4700, "cat-2")
	edited.Note = "corrected"
	gw.pages[2].Records = append([]core.Transaction{edited}, gw.pages[2].Records...)

	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())
	c.LoadNextPage(context.Background())

	st := c.Snapshot()
	if st.LoadMoreErr != nil {
		t.Fatalf("LoadMoreErr = %v", st.LoadMoreErr)
	}
	if st.IsLoadingMore {
		t.Error("IsLoadingMore still set")
	}
	wantOrder := []string{"tx-1", "tx-2", "tx-3", "tx-4"}
	if len(st.Rows) != len(wantOrder) {
		t.Fatalf("len(Rows) = %d, want %d", len(st.Rows), len(wantOrder))
	}
	for i, want := range wantOrder {
		if st.Rows[i].ID != want {
			t.Errorf("Rows[%d].ID = %q, want %q", i, st.Rows[i].ID, want)
		}
	}
	if st.Rows[1].Amount.Cents != 4700 || st.Rows[1].Note != "corrected" {
		t.Errorf("duplicate kept the stale version: %+v", st.Rows[1])
	}
	if st.Meta.Page != 2 || st.Meta.HasMore() {
		t.Errorf("Meta = %+v", st.Meta)
	}
}

func TestController_LoadNextPageNoopAtLastPage(t *testing.T) {
	gw := twoPageGateway(t)
	gw.pages[1].Meta = testMeta(1, 2, 1)

	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())
	c.LoadNextPage(context.Background())

	if calls := gw.transactionCalls(); len(calls) != 1 {
		t.Errorf("transactions calls = %v, want just the initial load", calls)
	}
}

func TestController_LoadNextPageNoopBeforeFirstLoad(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))

	c.LoadNextPage(context.Background())

	if calls := gw.transactionCalls(); len(calls) != 0 {
		t.Errorf("transactions calls = %v, want none", calls)
	}
}

func TestController_LoadNextPageErrorKeepsRows(t *testing.T) {
	gw := twoPageGateway(t)
	gw.pageErrs = map[int]error{
		2: &api.Error{Kind: api.KindServer, Status: http.StatusInternalServerError, Message: "db down"},
	}

	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())
	c.LoadNextPage(context.Background())

	st := c.Snapshot()
	if st.Err != nil {
		t.Errorf("append failure escalated to fatal: %v", st.Err)
	}
	if st.LoadMoreErr == nil || st.LoadMoreErr.Kind != api.KindServer {
		t.Fatalf("LoadMoreErr = %+v", st.LoadMoreErr)
	}
	if len(st.Rows) != 2 {
		t.Errorf("rows were dropped on append failure: %d", len(st.Rows))
	}
	if st.Meta.Page != 1 {
		t.Errorf("Meta.Page = %d, want 1", st.Meta.Page)
	}

	c.ClearLoadMoreError()
	c.ClearLoadMoreError()
	if st := c.Snapshot(); st.LoadMoreErr != nil {
		t.Errorf("LoadMoreErr not cleared: %+v", st.LoadMoreErr)
	}
}

func TestController_UpdatePatchesRowInPlace(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())

	// The edit moves tx-2 to the newest date; it must stay at index 1.
	updated := testTx(t, "tx-2", "2026-08-25", 9900, "cat-1")
	gw.updated = updated

	got, err := c.Update(context.Background(), "tx-2", api.TransactionChanges{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.ID != "tx-2" {
		t.Errorf("Update() returned %q", got.ID)
	}

	st := c.Snapshot()
	if st.Rows[1].ID != "tx-2" {
		t.Fatalf("row moved: Rows[1].ID = %q", st.Rows[1].ID)
	}
	if st.Rows[1].Amount.Cents != 9900 {
		t.Errorf("Rows[1].Amount = %d cents", st.Rows[1].Amount.Cents)
	}
	if st.Rows[1].CategoryName != "Groceries" {
		t.Errorf("category name not recomputed: %q", st.Rows[1].CategoryName)
	}
	if st.LastOp == nil || st.LastOp.Kind != OpUpdate || st.LastOp.Status != StatusSuccess {
		t.Errorf("LastOp = %+v", st.LastOp)
	}
}

func TestController_UpdateErrorLeavesRowsUntouched(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())

	gw.updateErr = &api.Error{Kind: api.KindConflict, Status: http.StatusConflict, Message: "This transaction was changed by someone else. Please reload and try again."}

	_, err := c.Update(context.Background(), "tx-1", api.TransactionChanges{})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != api.KindConflict {
		t.Fatalf("Update() error = %v, want conflict", err)
	}

	st := c.Snapshot()
	if st.Rows[0].Amount.Cents != 1200 {
		t.Errorf("row was patched despite the failure: %+v", st.Rows[0])
	}
	if st.LastOp == nil || st.LastOp.Status != StatusError || st.LastOp.Kind != OpUpdate {
		t.Fatalf("LastOp = %+v", st.LastOp)
	}
	if st.LastOp.Message != apiErr.Message {
		t.Errorf("LastOp.Message = %q", st.LastOp.Message)
	}
}

func TestController_DeleteRemovesRowAndDecrementsTotal(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())

	if err := c.Delete(context.Background(), "tx-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	st := c.Snapshot()
	if len(st.Rows) != 1 || st.Rows[0].ID != "tx-2" {
		t.Errorf("Rows = %+v", st.Rows)
	}
	if st.Meta.TotalItems != 3 {
		t.Errorf("Meta.TotalItems = %d, want 3", st.Meta.TotalItems)
	}
	if st.LastOp == nil || st.LastOp.Kind != OpDelete || st.LastOp.Status != StatusSuccess {
		t.Errorf("LastOp = %+v", st.LastOp)
	}
}

func TestController_DeleteFloorsTotalAtZero(t *testing.T) {
	gw := twoPageGateway(t)
	gw.pages[1].Meta = testMeta(1, 1, 1)
	gw.pages[1].Records = gw.pages[1].Records[:1]

	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())

	for _, id := range []string{"tx-1", "tx-1"} {
		if err := c.Delete(context.Background(), id); err != nil {
			t.Fatalf("Delete(%q) error = %v", id, err)
		}
	}

	if st := c.Snapshot(); st.Meta.TotalItems != 0 {
		t.Errorf("Meta.TotalItems = %d, want 0", st.Meta.TotalItems)
	}
}

func TestController_DeleteErrorKeepsRow(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())

	gw.deleteErr = &api.Error{Kind: api.KindNotFound, Status: http.StatusNotFound, Message: "This transaction no longer exists."}

	err := c.Delete(context.Background(), "tx-1")
	if !api.IsNotFound(err) {
		t.Fatalf("Delete() error = %v, want not-found", err)
	}

	st := c.Snapshot()
	if len(st.Rows) != 2 {
		t.Errorf("row removed despite the failure: %d rows", len(st.Rows))
	}
	if st.Meta.TotalItems != 4 {
		t.Errorf("Meta.TotalItems = %d, want 4", st.Meta.TotalItems)
	}
	if st.LastOp == nil || st.LastOp.Status != StatusError || st.LastOp.Kind != OpDelete {
		t.Errorf("LastOp = %+v", st.LastOp)
	}

	c.ClearOperationResult()
	c.ClearOperationResult()
	if st := c.Snapshot(); st.LastOp != nil {
		t.Errorf("LastOp not cleared: %+v", st.LastOp)
	}
}

func TestController_SessionExpiryFiresOnce(t *testing.T) {
	gw := &fakeGateway{
		budgetErr: &api.Error{Kind: api.KindUnauthenticated, Status: http.StatusUnauthorized, Message: "expired"},
	}
	fired := 0
	c := NewController(gw, WithSessionExpiredFunc(func() { fired++ }))

	c.Load(context.Background())
	c.Load(context.Background())

	st := c.Snapshot()
	if st.Err == nil || st.Err.Kind != api.KindUnauthenticated {
		t.Fatalf("Err = %+v", st.Err)
	}
	if fired != 1 {
		t.Errorf("session expiry callback fired %d times, want 1", fired)
	}
}

func TestController_RefreshRefetchesMemoizedResources(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())

	gw.mu.Lock()
	gw.categories = append(gw.categories, core.Category{ID: "cat-3", Name: "Travel"})
	gw.mu.Unlock()

	c.Refresh(context.Background())

	st := c.Snapshot()
	if len(st.Categories) != 3 {
		t.Errorf("len(Categories) = %d, want 3 after refresh", len(st.Categories))
	}
	if gw.budgetCalls != 2 || gw.categoryCalls != 2 {
		t.Errorf("budget calls = %d, category calls = %d, want 2 each", gw.budgetCalls, gw.categoryCalls)
	}
}

func TestController_SnapshotIsIsolated(t *testing.T) {
	gw := twoPageGateway(t)
	c := NewController(gw, WithPageSize(2))
	c.Load(context.Background())

	st := c.Snapshot()
	st.Rows[0].CategoryName = "tampered"
	st.Meta.TotalItems = 99

	fresh := c.Snapshot()
	if fresh.Rows[0].CategoryName == "tampered" {
		t.Error("snapshot aliases controller rows")
	}
	if fresh.Meta.TotalItems == 99 {
		t.Error("snapshot aliases controller meta")
	}
}
