package engine

import (
	"context"
	"fmt"
)

// DefaultPageSize is the page size used by offset listers that do not set one.
const DefaultPageSize = 100

// Lister is implemented by OffsetLister and CursorLister. FetchAll rejects
// anything else.
type Lister interface {
	isLister()
}

// OffsetPage is one page of an offset-style listing.
type OffsetPage struct {
	Items []Item
	Total int
}

// OffsetLister lists items by page index and page size; the response carries the
// total number of items.
type OffsetLister struct {
	// PageSize is the number of items requested per page.
	PageSize int

	// ListPage fetches one page. Page indices start at 0.
	ListPage func(ctx context.Context, page, perPage int) (OffsetPage, error)
}

func (OffsetLister) isLister() {}

// CursorPage is one page of a checkpoint-style listing.
type CursorPage interface {
	// Items returns the items on this page.
	Items() []Item

	// HasNextPage reports whether another page is available.
	HasNextPage() bool

	// NextPage fetches the following page. It must not be called once
	// HasNextPage has returned false.
	NextPage(ctx context.Context) (CursorPage, error)
}

// CursorLister lists items by following a cursor from the first page.
type CursorLister struct {
	First func(ctx context.Context) (CursorPage, error)
}

func (CursorLister) isLister() {}

// FetchAll drains a lister into one flattened, order-preserving list.
func FetchAll(ctx context.Context, lister Lister) ([]Item, error) {
	switch l := lister.(type) {
	case OffsetLister:
		return fetchOffset(ctx, l)
	case *OffsetLister:
		return fetchOffset(ctx, *l)
	case CursorLister:
		return fetchCursor(ctx, l)
	case *CursorLister:
		return fetchCursor(ctx, *l)
	default:
		return nil, NewPermanentError(fmt.Sprintf("unsupported lister %T", lister), nil).
			WithCode(ErrCodeListerKind)
	}
}

// fetchOffset increments the page index until the accumulated count reaches the
// reported total. A short page ends the loop so an inconsistent total can never
// cause an infinite loop.
func fetchOffset(ctx context.Context, l OffsetLister) ([]Item, error) {
	if l.ListPage == nil {
		return nil, NewPermanentError("offset lister has no ListPage function", nil).
			WithCode(ErrCodeListerKind)
	}

	perPage := l.PageSize
	if perPage <= 0 {
		perPage = DefaultPageSize
	}

	var all []Item
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := l.ListPage(ctx, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("failed to list page %d: %w", page, err)
		}

		all = append(all, resp.Items...)

		if len(all) >= resp.Total || len(resp.Items) < perPage {
			return all, nil
		}
	}
}

// fetchCursor follows NextPage until the source reports exhaustion.
func fetchCursor(ctx context.Context, l CursorLister) ([]Item, error) {
	if l.First == nil {
		return nil, NewPermanentError("cursor lister has no First function", nil).
			WithCode(ErrCodeListerKind)
	}

	page, err := l.First(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list first page: %w", err)
	}

	var all []Item
	for n := 1; page != nil; n++ {
		all = append(all, page.Items()...)

		if !page.HasNextPage() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err = page.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list page %d: %w", n, err)
		}
	}

	return all, nil
}

// StaticLister returns a cursor lister over a fixed, already-fetched list. It is
// useful for singleton resources and tests.
func StaticLister(items []Item) CursorLister {
	return CursorLister{
		First: func(context.Context) (CursorPage, error) {
			return staticPage(items), nil
		},
	}
}

type staticPage []Item

func (p staticPage) Items() []Item     { return p }
func (p staticPage) HasNextPage() bool { return false }
func (p staticPage) NextPage(context.Context) (CursorPage, error) {
	return nil, fmt.Errorf("no next page")
}
