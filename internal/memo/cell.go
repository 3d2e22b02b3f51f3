// Package memo provides a generic memo cell: read-if-present, else
// fetch-and-store. Cells back the per-controller budget-id and category
// caches, which live for the controller instance and are dropped only by an
// explicit refresh.
package memo

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cell holds at most one value of T. Concurrent fills are deduplicated with
// singleflight so a burst of callers triggers a single fetch.
type Cell[T any] struct {
	mu    sync.Mutex
	group singleflight.Group
	keep  func(T) bool

	set bool
	val T
}

// NewCell creates a cell. keep decides whether a fetched value is worth
// caching; a nil keep caches every successful fill. Values that fail keep are
// still returned to the caller, so "empty but valid right now" results flow
// through without poisoning the cache.
func NewCell[T any](keep func(T) bool) *Cell[T] {
	return &Cell[T]{keep: keep}
}

// Get returns the cached value, if any.
func (c *Cell[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.set
}

// Set stores a value unconditionally.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
	c.set = true
}

// Invalidate drops the cached value. The next Fill fetches again.
func (c *Cell[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.val = zero
	c.set = false
}

// Fill returns the cached value or fetches one. Concurrent callers share a
// single in-flight fetch; the shared call runs under the context of the
// caller that started it. A joiner whose own context is still live retries
// when that flight dies of the starter's cancellation, so a superseded
// caller cannot fail a successor that is still active.
func (c *Cell[T]) Fill(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	for {
		if v, ok := c.Get(); ok {
			return v, nil
		}

		res, err, _ := c.group.Do("fill", func() (any, error) {
			// A concurrent Fill may have stored a value while we queued.
			if v, ok := c.Get(); ok {
				return v, nil
			}
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			if c.keep == nil || c.keep(v) {
				c.Set(v)
			}
			return v, nil
		})
		if err != nil {
			if isContextErr(err) && ctx.Err() == nil {
				continue
			}
			var zero T
			return zero, err
		}
		return res.(T), nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
