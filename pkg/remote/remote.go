// Package remote defines the tenant management API consumed by the resource
// handlers, independent of transport. The rest subpackage talks HTTP to a live
// tenant; the memory subpackage keeps a tenant in memory for offline plans and
// tests.
package remote

import (
	"context"
	"fmt"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
)

// Paging selects the listing style of a collection.
type Paging string

const (
	// PagingOffset lists with page and per_page and reads the total.
	PagingOffset Paging = "offset"

	// PagingCursor lists with take and follows the returned checkpoint.
	PagingCursor Paging = "cursor"
)

// CollectionSpec describes one remote collection.
type CollectionSpec struct {
	// Name is the resource type name (e.g. "clients").
	Name string

	// Path is the collection path relative to the API root (e.g. "/clients").
	Path string

	// ListKey is the response field holding the items of a page. Defaults to Name.
	ListKey string

	// IDField is the primary identifier field. Defaults to "id".
	IDField string

	// Paging selects the listing style. Defaults to PagingOffset.
	Paging Paging

	// PageSize is the number of items requested per page.
	PageSize int

	// Singleton collections hold exactly one object read and patched at Path.
	Singleton bool
}

// Key returns the list key.
func (s CollectionSpec) Key() string {
	if s.ListKey == "" {
		return s.Name
	}
	return s.ListKey
}

// ID returns the primary identifier field.
func (s CollectionSpec) ID() string {
	if s.IDField == "" {
		return "id"
	}
	return s.IDField
}

// PerPage returns the page size.
func (s CollectionSpec) PerPage() int {
	if s.PageSize <= 0 {
		return engine.DefaultPageSize
	}
	return s.PageSize
}

// API is the tenant management surface.
type API interface {
	// Capabilities returns the operation bundle for a collection.
	Capabilities(spec CollectionSpec) engine.Capabilities

	// Get reads one item. Singleton collections ignore id.
	Get(ctx context.Context, spec CollectionSpec, id string) (engine.Item, error)

	// Invoke runs a named action on an item (e.g. "deploy").
	Invoke(ctx context.Context, spec CollectionSpec, id, action string) (engine.Item, error)
}

// SingletonID is the synthetic identifier given to singleton objects so the
// change calculator can match desired and existing.
const SingletonID = "singleton"

// SingletonLister lists a singleton object as a one-item collection tagged
// with SingletonID.
func SingletonLister(spec CollectionSpec, get func(ctx context.Context) (engine.Item, error)) engine.CursorLister {
	return engine.CursorLister{
		First: func(ctx context.Context) (engine.CursorPage, error) {
			item, err := get(ctx)
			if err != nil {
				return nil, err
			}
			if item == nil {
				return singletonPage(nil), nil
			}
			tagged := item.Clone()
			tagged[spec.ID()] = SingletonID
			return singletonPage{tagged}, nil
		},
	}
}

type singletonPage []engine.Item

func (p singletonPage) Items() []engine.Item { return p }
func (p singletonPage) HasNextPage() bool    { return false }
func (p singletonPage) NextPage(context.Context) (engine.CursorPage, error) {
	return nil, fmt.Errorf("singleton has a single page")
}
