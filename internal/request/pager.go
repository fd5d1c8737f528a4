package request

import (
	"context"
	"sync"
)

// DefaultPageSize is used when NewPager is given a non-positive size.
const DefaultPageSize = 20

// Page is one slice of a listing plus the size of the whole listing.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// PageFetcher loads page (1-based) of the listing with pageSize items per page.
type PageFetcher[T any] func(ctx context.Context, page, pageSize int) (Page[T], error)

// Pager tracks a paginated listing. Changing the page or the page size
// triggers a new fetch that supersedes any fetch still in flight.
//
// SetPageSize always moves back to page 1, since the old page number points
// at different items once the size changes.
type Pager[T any] struct {
	fetch PageFetcher[T]
	t     *tracker[Page[T]]

	mu       sync.Mutex
	page     int
	pageSize int
}

// NewPager wraps fetch, starting at page 1.
func NewPager[T any](fetch PageFetcher[T], pageSize int, opts ...Option[Page[T]]) *Pager[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager[T]{
		fetch:    fetch,
		t:        newTracker(opts),
		page:     1,
		pageSize: pageSize,
	}
}

// Execute fetches the current page.
func (p *Pager[T]) Execute(ctx context.Context) State[Page[T]] {
	p.mu.Lock()
	page, size := p.page, p.pageSize
	p.mu.Unlock()

	gen, callCtx, ok := p.t.begin(ctx)
	if !ok {
		return p.t.snapshot()
	}
	data, err := safeCall(func() (Page[T], error) { return p.fetch(callCtx, page, size) })
	p.t.finish(gen, data, err)
	return p.t.snapshot()
}

// SetPage moves to page (clamped to at least 1) and re-fetches.
func (p *Pager[T]) SetPage(ctx context.Context, page int) State[Page[T]] {
	if page < 1 {
		page = 1
	}
	p.mu.Lock()
	p.page = page
	p.mu.Unlock()
	return p.Execute(ctx)
}

// SetPageSize changes the page size, returns to page 1 and re-fetches.
// Non-positive sizes fall back to DefaultPageSize.
func (p *Pager[T]) SetPageSize(ctx context.Context, size int) State[Page[T]] {
	if size <= 0 {
		size = DefaultPageSize
	}
	p.mu.Lock()
	p.pageSize = size
	p.page = 1
	p.mu.Unlock()
	return p.Execute(ctx)
}

// Page returns the current 1-based page.
func (p *Pager[T]) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// PageSize returns the current page size.
func (p *Pager[T]) PageSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageSize
}

// Total returns the listing size of the current state. It is 0 until a
// fetch succeeds and while a newer one is loading or has failed.
func (p *Pager[T]) Total() int {
	return p.t.snapshot().Data.Total
}

// TotalPages is ceil(total / pageSize).
func (p *Pager[T]) TotalPages() int {
	return TotalPages(p.Total(), p.PageSize())
}

// State returns the current snapshot.
func (p *Pager[T]) State() State[Page[T]] { return p.t.snapshot() }

// Reset returns to Idle, keeping page and page size.
func (p *Pager[T]) Reset() { p.t.reset() }

// Close marks the owner as torn down.
func (p *Pager[T]) Close() { p.t.close() }

// TotalPages returns ceil(total / pageSize), or 0 when pageSize is not positive.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
