// Package feed owns the client-side projection of the transaction history
// view: it resolves the dependent chain of remote resources (active budget,
// categories, transaction page), keeps the projection consistent across
// page-replace and append consumption, cancels superseded fetches, and
// reconciles the collection after mutations.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/api"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/memo"
)

// DefaultPageSize is the transaction page size used when none is configured.
const DefaultPageSize = 20

const (
	noBudgetMessage = "No active budget found. Create a monthly budget to see transactions."
	updatedMessage  = "Transaction updated."
	deletedMessage  = "Transaction deleted."
)

// Gateway is the remote API surface the controller drives.
type Gateway interface {
	CurrentBudget(ctx context.Context) (string, error)
	Categories(ctx context.Context) ([]core.Category, error)
	Transactions(ctx context.Context, budgetID string, page, pageSize int) (*api.TransactionsPage, error)
	UpdateTransaction(ctx context.Context, id string, changes api.TransactionChanges) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
}

var _ Gateway = (*api.Client)(nil)

// Controller sequences remote fetches and owns the feed State. All state
// writes happen under one mutex; fetches that were superseded by a newer
// operation of the same class are discarded via a generation check, never
// merely "last write wins".
type Controller struct {
	gw               Gateway
	pageSize         int
	onSessionExpired func()
	expireOnce       sync.Once

	// Memoized for the controller's lifetime, dropped only by Refresh.
	budget     *memo.Cell[string]
	categories *memo.Cell[[]core.Category]

	mu sync.Mutex
	st State

	// One in-flight operation per class: initial-load/page-jump share a
	// token, load-more owns its own.
	loadGen    uint64
	loadCancel context.CancelFunc
	moreGen    uint64
	moreCancel context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithPageSize sets the transaction page size.
func WithPageSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithSessionExpiredFunc registers the host callback invoked (once) when any
// fetch classifies as unauthenticated. Navigation to the login flow is the
// host's job; the controller only signals.
func WithSessionExpiredFunc(fn func()) Option {
	return func(c *Controller) { c.onSessionExpired = fn }
}

// NewController creates a controller over the given gateway.
func NewController(gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		gw:         gw,
		pageSize:   DefaultPageSize,
		budget:     memo.NewCell(func(id string) bool { return id != "" }),
		categories: memo.NewCell(func(cats []core.Category) bool { return len(cats) > 0 }),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a read-only copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.clone()
}

// Load performs the initial load: budget id, categories, then page 1.
// Any previously running initial load or page jump is cancelled and its
// eventual resolution discarded. The outcome lands in the state, not in a
// return value; read it via Snapshot.
func (c *Controller) Load(ctx context.Context) {
	c.load(ctx, 1)
}

// Refresh drops the memoized budget id and category list, then reloads from
// page 1.
func (c *Controller) Refresh(ctx context.Context) {
	c.budget.Invalidate()
	c.categories.Invalidate()
	c.load(ctx, 1)
}

// LoadPage jumps to the given page, replacing the collection outright. With
// no budget resolved yet it behaves like Load.
func (c *Controller) LoadPage(ctx context.Context, page int) {
	if page < 1 {
		page = 1
	}
	if _, ok := c.budget.Get(); !ok {
		c.load(ctx, 1)
		return
	}
	c.load(ctx, page)
}

// load is the shared initial-load / page-jump pipeline.
func (c *Controller) load(ctx context.Context, page int) {
	c.mu.Lock()
	if c.loadCancel != nil {
		c.loadCancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.loadCancel = cancel
	c.loadGen++
	gen := c.loadGen
	c.st.IsLoading = true
	c.st.Err = nil
	c.st.LoadMoreErr = nil
	c.mu.Unlock()
	defer cancel()

	rows, meta, cats, loadErr := c.fetch(opCtx, page)

	if opCtx.Err() != nil {
		// Superseded or abandoned: the resolution is swallowed whole.
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.loadGen {
		return
	}
	c.st.IsLoading = false
	if loadErr != nil {
		c.st.Err = loadErr
		return
	}
	c.st.Rows = rows
	c.st.Meta = meta
	c.st.Categories = cats
}

// fetch resolves the dependent chain for one page: budget, categories,
// transactions. Any step failing aborts the whole sequence.
func (c *Controller) fetch(ctx context.Context, page int) ([]core.TransactionView, *core.PaginationMeta, []core.Category, *api.Error) {
	budgetID, authErr := c.resolveBudget(ctx)
	if authErr != nil {
		return nil, nil, nil, authErr
	}
	if budgetID == "" {
		return nil, nil, nil, &api.Error{
			Kind:    api.KindNotFound,
			Status:  http.StatusNotFound,
			Message: noBudgetMessage,
		}
	}

	cats, err := c.loadCategories(ctx)
	if err != nil {
		return nil, nil, nil, c.classify(err)
	}

	pageResp, err := c.gw.Transactions(ctx, budgetID, page, c.pageSize)
	if err != nil {
		return nil, nil, nil, c.classify(err)
	}

	meta := pageResp.Meta
	return viewRows(pageResp.Records, cats), &meta, cats, nil
}

// resolveBudget memoizes the active budget id. Absence, whether a clean
// 404, another failure, or a null id, is reported as an empty id rather
// than an error; the one exception is session expiry, which must reach the
// host.
func (c *Controller) resolveBudget(ctx context.Context) (string, *api.Error) {
	id, err := c.budget.Fill(ctx, func(ctx context.Context) (string, error) {
		id, err := c.gw.CurrentBudget(ctx)
		if err != nil {
			if api.IsCancelled(err) || api.IsUnauthenticated(err) {
				return "", err
			}
			slog.WarnContext(ctx, "Budget resolution failed, treating as absent", "error", err)
			return "", nil
		}
		return id, nil
	})
	if err != nil {
		if api.IsUnauthenticated(err) {
			return "", c.classify(err)
		}
		// Cancelled: the caller's context check discards the whole fetch.
		return "", nil
	}
	return id, nil
}

// loadCategories memoizes the category list. A 404 means the household has
// no categories yet; the empty list is valid and not cached, so a later
// load sees newly created categories.
func (c *Controller) loadCategories(ctx context.Context) ([]core.Category, error) {
	return c.categories.Fill(ctx, func(ctx context.Context) ([]core.Category, error) {
		cats, err := c.gw.Categories(ctx)
		if err != nil {
			if api.IsNotFound(err) {
				return []core.Category{}, nil
			}
			return nil, err
		}
		return cats, nil
	})
}

// LoadNextPage appends the next page to the collection. It is a no-op while
// another load is running, before any metadata exists, or when the current
// page is already the last one. Failures land in LoadMoreErr so displayed
// rows survive a failed increment.
func (c *Controller) LoadNextPage(ctx context.Context) {
	c.mu.Lock()
	if c.st.IsLoading || c.st.IsLoadingMore || c.st.Meta == nil || !c.st.Meta.HasMore() {
		c.mu.Unlock()
		return
	}
	budgetID, ok := c.budget.Get()
	if !ok {
		c.mu.Unlock()
		return
	}
	next := c.st.Meta.Page + 1
	if c.moreCancel != nil {
		c.moreCancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.moreCancel = cancel
	c.moreGen++
	gen := c.moreGen
	c.st.IsLoadingMore = true
	c.st.LoadMoreErr = nil
	c.mu.Unlock()
	defer cancel()

	pageResp, err := c.gw.Transactions(opCtx, budgetID, next, c.pageSize)

	if opCtx.Err() != nil {
		return
	}
	var apiErr *api.Error
	if err != nil {
		apiErr = c.classify(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.moreGen {
		return
	}
	c.st.IsLoadingMore = false
	if apiErr != nil {
		c.st.LoadMoreErr = apiErr
		return
	}
	c.st.Rows = mergeRows(c.st.Rows, pageResp.Records, c.st.Categories)
	meta := pageResp.Meta
	c.st.Meta = &meta
}

// Update sends a partial update and patches the matching row in place. The
// collection is not resorted: a changed date leaves the row where it is
// until the next full reload. The error is returned as well as recorded, so
// the calling UI flow can abort (e.g. keep its edit dialog open).
func (c *Controller) Update(ctx context.Context, id string, changes api.TransactionChanges) (core.Transaction, error) {
	updated, err := c.gw.UpdateTransaction(ctx, id, changes)
	if err != nil {
		if api.IsCancelled(err) {
			return core.Transaction{}, err
		}
		apiErr := c.classify(err)
		c.mu.Lock()
		c.st.LastOp = &OperationResult{Kind: OpUpdate, Status: StatusError, Message: apiErr.Message}
		c.mu.Unlock()
		return core.Transaction{}, apiErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	name := core.DisplayName(c.st.Categories, updated.CategoryID)
	for i := range c.st.Rows {
		if c.st.Rows[i].ID == id {
			c.st.Rows[i] = core.TransactionView{Transaction: updated, CategoryName: name}
			break
		}
	}
	c.st.LastOp = &OperationResult{Kind: OpUpdate, Status: StatusSuccess, Message: updatedMessage}
	return updated, nil
}

// Delete removes a transaction remotely, then drops the matching row and
// decrements the cached total count, floored at zero. Total pages are not
// recomputed until the next full reload.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.gw.DeleteTransaction(ctx, id); err != nil {
		if api.IsCancelled(err) {
			return err
		}
		apiErr := c.classify(err)
		c.mu.Lock()
		c.st.LastOp = &OperationResult{Kind: OpDelete, Status: StatusError, Message: apiErr.Message}
		c.mu.Unlock()
		return apiErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]core.TransactionView, 0, len(c.st.Rows))
	for _, row := range c.st.Rows {
		if row.ID != id {
			rows = append(rows, row)
		}
	}
	c.st.Rows = rows
	if c.st.Meta != nil {
		c.st.Meta.TotalItems--
		if c.st.Meta.TotalItems < 0 {
			c.st.Meta.TotalItems = 0
		}
	}
	c.st.LastOp = &OperationResult{Kind: OpDelete, Status: StatusSuccess, Message: deletedMessage}
	return nil
}

// ClearOperationResult dismisses the last mutation result. Idempotent.
func (c *Controller) ClearOperationResult() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.LastOp = nil
}

// ClearLoadMoreError dismisses the last append-fetch error. Idempotent.
func (c *Controller) ClearLoadMoreError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.LoadMoreErr = nil
}

// classify maps any gateway failure to a typed error and fires the session
// expiry signal when appropriate. Must be called without holding the state
// lock: the host callback runs inline.
func (c *Controller) classify(err error) *api.Error {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		apiErr = api.TransportError(err)
	}
	if apiErr.Kind == api.KindUnauthenticated {
		c.expireOnce.Do(func() {
			if c.onSessionExpired != nil {
				c.onSessionExpired()
			}
		})
	}
	return apiErr
}
