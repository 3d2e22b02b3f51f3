// Package api is the HTTP client for the budget service. It is the only
// package that touches the wire: it builds requests, decodes payloads, and
// classifies failures into the typed Error taxonomy consumed by the feed.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
)

const (
	defaultTimeout = 30 * time.Second

	dashboardPath    = "/api/dashboard/current"
	categoriesPath   = "/api/categories"
	budgetsPath      = "/api/budgets"
	transactionsPath = "/api/transactions"

	// categoryPageCeiling is the single-page ceiling on the category list.
	// Households with more than 100 categories lose the tail from the index;
	// a documented limitation of the contract, not something to paper over.
	categoryPageCeiling = 100

	// sortDateDesc is the fixed sort order for transaction pages.
	sortDateDesc = "date_desc"
)

// Client handles communication with the budget service API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client for the given base URL, authenticating with a
// bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		token:      token,
	}
}

// dashboardResponse is the body of GET /api/dashboard/current.
type dashboardResponse struct {
	CurrentBudgetID *string `json:"currentBudgetId"`
}

// categoryPayload is one category on the wire.
type categoryPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HouseholdID string `json:"householdId"`
}

type categoriesResponse struct {
	Data []categoryPayload `json:"data"`
}

// transactionPayload is one transaction on the wire. Amounts arrive as JSON
// numbers with two-fraction precision and dates as YYYY-MM-DD strings.
type transactionPayload struct {
	ID              string      `json:"id"`
	BudgetID        string      `json:"budgetId"`
	CategoryID      string      `json:"categoryId"`
	Amount          json.Number `json:"amount"`
	TransactionDate string      `json:"transactionDate"`
	Note            string      `json:"note"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

type paginationPayload struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

type transactionsResponse struct {
	Data []transactionPayload `json:"data"`
	Meta paginationPayload    `json:"meta"`
}

// TransactionsPage is one decoded page of transactions plus its pagination
// metadata.
type TransactionsPage struct {
	Records []core.Transaction
	Meta    core.PaginationMeta
}

// TransactionChanges is a partial update for PATCH /api/transactions/{id}.
// Nil fields are omitted from the request body.
type TransactionChanges struct {
	CategoryID *string
	Amount     *core.Money
	Date       *core.Date
	Note       *string
}

type transactionPatch struct {
	CategoryID      *string      `json:"categoryId,omitempty"`
	Amount          *json.Number `json:"amount,omitempty"`
	TransactionDate *string      `json:"transactionDate,omitempty"`
	Note            *string      `json:"note,omitempty"`
}

func (c TransactionChanges) payload() transactionPatch {
	p := transactionPatch{CategoryID: c.CategoryID, Note: c.Note}
	if c.Amount != nil {
		n := json.Number(c.Amount.DecimalString())
		p.Amount = &n
	}
	if c.Date != nil {
		s := c.Date.String()
		p.TransactionDate = &s
	}
	return p
}

func (p transactionPayload) toDomain() (core.Transaction, error) {
	cents, err := core.ParseDecimalToCents(p.Amount.String())
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", p.Amount.String(), err)
	}
	date, err := core.ParseDate(p.TransactionDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse transactionDate %q: %w", p.TransactionDate, err)
	}
	return core.Transaction{
		ID:         p.ID,
		BudgetID:   p.BudgetID,
		CategoryID: p.CategoryID,
		Amount:     core.Money{Cents: cents},
		Date:       date,
		Note:       p.Note,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

// CurrentBudget resolves the active budget id from the dashboard summary.
// The id may be empty when the household has no active budget; a 404 is
// returned as a classified not-found error for the caller to absorb.
func (c *Client) CurrentBudget(ctx context.Context) (string, error) {
	var body dashboardResponse
	if err := c.doJSON(ctx, http.MethodGet, dashboardPath, nil, nil, &body); err != nil {
		return "", err
	}
	if body.CurrentBudgetID == nil {
		return "", nil
	}
	return *body.CurrentBudgetID, nil
}

// Categories fetches the household's categories, one page of up to 100.
func (c *Client) Categories(ctx context.Context) ([]core.Category, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("pageSize", strconv.Itoa(categoryPageCeiling))

	var body categoriesResponse
	if err := c.doJSON(ctx, http.MethodGet, categoriesPath, query, nil, &body); err != nil {
		return nil, err
	}
	categories := make([]core.Category, len(body.Data))
	for i, p := range body.Data {
		categories[i] = core.Category{ID: p.ID, Name: p.Name, HouseholdID: p.HouseholdID}
	}
	return categories, nil
}

// Transactions fetches one page of a budget's transactions, newest first.
func (c *Client) Transactions(ctx context.Context, budgetID string, page, pageSize int) (*TransactionsPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))
	query.Set("sort", sortDateDesc)

	path := fmt.Sprintf("%s/%s/transactions", budgetsPath, url.PathEscape(budgetID))
	var body transactionsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &body); err != nil {
		return nil, err
	}

	records := make([]core.Transaction, 0, len(body.Data))
	for _, p := range body.Data {
		tx, err := p.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", p.ID, err)
		}
		records = append(records, tx)
	}
	meta := core.PaginationMeta{
		Page:       body.Meta.Page,
		PageSize:   body.Meta.PageSize,
		TotalItems: body.Meta.TotalItems,
		TotalPages: body.Meta.TotalPages,
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("decode pagination meta (page %d of %d): %w", meta.Page, meta.TotalPages, err)
	}
	return &TransactionsPage{Records: records, Meta: meta}, nil
}

// UpdateTransaction sends a partial update and returns the updated record.
func (c *Client) UpdateTransaction(ctx context.Context, id string, changes TransactionChanges) (core.Transaction, error) {
	path := fmt.Sprintf("%s/%s", transactionsPath, url.PathEscape(id))
	var body transactionPayload
	if err := c.doJSON(ctx, http.MethodPatch, path, nil, changes.payload(), &body); err != nil {
		return core.Transaction{}, err
	}
	tx, err := body.toDomain()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("decode updated transaction: %w", err)
	}
	return tx, nil
}

// DeleteTransaction deletes a single transaction. The API answers 204 (or
// 200); both count as success.
func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	path := fmt.Sprintf("%s/%s", transactionsPath, url.PathEscape(id))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// doJSON performs one request against the API. Non-2xx responses come back
// as a classified *Error; network failures as transport errors; a cancelled
// context surfaces as context.Canceled so callers can swallow it before
// classification.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return TransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return TransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Classify(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
