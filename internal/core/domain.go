package core

import (
	"errors"
	"strings"
	"time"
)

// UnknownCategoryLabel is the display name used when a transaction references
// a category that is no longer present in the household's category list.
const UnknownCategoryLabel = "Unknown category"

type (
	// Date is a calendar date without a time component.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Category is a household spending category.
	Category struct {
		ID          string
		Name        string
		HouseholdID string
	}

	// Transaction is a single recorded expense against a category within a
	// monthly budget, as returned by the remote API.
	Transaction struct {
		ID         string
		BudgetID   string
		CategoryID string
		Amount     Money
		Date       Date
		Note       string
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// TransactionView is a Transaction enriched with the denormalized
	// category display name. It is rebuilt at read time and never stored
	// durably with the name attached.
	TransactionView struct {
		Transaction
		CategoryName string
	}

	// PaginationMeta describes one page of a paginated collection.
	PaginationMeta struct {
		Page       int
		PageSize   int
		TotalItems int
		TotalPages int
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyID       = errors.New("empty id")
	ErrInvalidPage   = errors.New("page out of range")
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// NewDate creates a Date from year, month, day in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	return t.Date.Validate()
}

// DisplayName resolves the category name for the given id from a category
// list, falling back to UnknownCategoryLabel. A missing id is a legitimate
// state: the category may have been deleted after the transaction was
// recorded.
func DisplayName(categories []Category, categoryID string) string {
	for _, c := range categories {
		if c.ID == categoryID {
			return c.Name
		}
	}
	return UnknownCategoryLabel
}

func (m PaginationMeta) Validate() error {
	maxPage := m.TotalPages
	if maxPage < 1 {
		maxPage = 1
	}
	if m.Page < 1 || m.Page > maxPage {
		return ErrInvalidPage
	}
	return nil
}

// HasMore reports whether pages beyond the current one exist.
func (m PaginationMeta) HasMore() bool {
	return m.Page < m.TotalPages
}
