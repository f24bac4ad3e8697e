// Package memory implements remote.API over an in-memory tenant. It serves
// offline plans from a snapshot of existing state and backs tests.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

// Call records one operation served by the tenant.
type Call struct {
	Collection string
	Operation  engine.OperationType
	ID         string
}

// Tenant is an in-memory tenant. It is safe for concurrent use.
type Tenant struct {
	mu          sync.Mutex
	collections map[string]*collection
	seq         int
	calls       []Call
	failures    map[string]error
	onGet       map[string]func(engine.Item) engine.Item
}

type collection struct {
	spec   remote.CollectionSpec
	items  []engine.Item
	unique []string
}

// NewTenant creates an empty tenant.
func NewTenant() *Tenant {
	return &Tenant{
		collections: make(map[string]*collection),
		failures:    make(map[string]error),
		onGet:       make(map[string]func(engine.Item) engine.Item),
	}
}

// collection returns the named collection, creating it on first use.
func (t *Tenant) collection(name string) *collection {
	c, ok := t.collections[name]
	if !ok {
		c = &collection{spec: remote.CollectionSpec{Name: name}}
		t.collections[name] = c
	}
	return c
}

// Seed adds items to a collection. Items without an identifier get one.
func (t *Tenant) Seed(name string, items ...engine.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.collection(name)
	for _, item := range items {
		stored := item.Clone()
		if !stored.Has(c.spec.ID()) {
			stored[c.spec.ID()] = t.nextID(name)
		}
		c.items = append(c.items, stored)
	}
}

// Load seeds every collection of a state snapshot.
func (t *Tenant) Load(state engine.State) {
	for name, items := range state {
		t.Seed(name, items...)
	}
}

// Unique makes the tenant reject two items sharing a value of any of the
// fields, the way the API rejects duplicate rule orders.
func (t *Tenant) Unique(name string, fields ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.collection(name)
	c.unique = append(c.unique, fields...)
}

// Fail makes every subsequent operation of the given kind on the collection
// return err. A nil err clears the failure.
func (t *Tenant) Fail(name string, op engine.OperationType, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := failureKey(name, op)
	if err == nil {
		delete(t.failures, key)
		return
	}
	t.failures[key] = err
}

// OnGet installs a function that rewrites items returned by Get, e.g. to
// simulate an asynchronous build finishing.
func (t *Tenant) OnGet(name string, fn func(engine.Item) engine.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onGet[name] = fn
}

// Items returns a copy of the collection's items.
func (t *Tenant) Items(name string) []engine.Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.collections[name]
	if !ok {
		return []engine.Item{}
	}
	return cloneAll(c.items)
}

// Snapshot returns a copy of every collection.
func (t *Tenant) Snapshot() engine.State {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := make(engine.State, len(t.collections))
	for name, c := range t.collections {
		state[name] = cloneAll(c.items)
	}
	return state
}

// Calls returns the operations served so far, in order.
func (t *Tenant) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Call(nil), t.calls...)
}

// CountCalls returns how many operations of a kind hit the collection.
func (t *Tenant) CountCalls(name string, op engine.OperationType) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, c := range t.calls {
		if c.Collection == name && c.Operation == op {
			n++
		}
	}
	return n
}

// Capabilities implements remote.API.
func (t *Tenant) Capabilities(spec remote.CollectionSpec) engine.Capabilities {
	t.mu.Lock()
	t.collection(spec.Name).spec = spec
	t.mu.Unlock()

	if spec.Singleton {
		return engine.Capabilities{
			List: remote.SingletonLister(spec, func(ctx context.Context) (engine.Item, error) {
				return t.Get(ctx, spec, "")
			}),
			Update: func(_ context.Context, _ string, payload engine.Item) (engine.Item, error) {
				return t.update(spec.Name, "", payload)
			},
		}
	}

	caps := engine.Capabilities{
		Create: func(_ context.Context, payload engine.Item) (engine.Item, error) {
			return t.create(spec.Name, payload)
		},
		Update: func(_ context.Context, id string, payload engine.Item) (engine.Item, error) {
			return t.update(spec.Name, id, payload)
		},
		Delete: func(_ context.Context, id string) error {
			return t.delete(spec.Name, id)
		},
	}

	if spec.Paging == remote.PagingCursor {
		caps.List = engine.CursorLister{
			First: func(context.Context) (engine.CursorPage, error) {
				return t.cursorPage(spec, 0)
			},
		}
	} else {
		caps.List = engine.OffsetLister{
			PageSize: spec.PerPage(),
			ListPage: func(_ context.Context, page, perPage int) (engine.OffsetPage, error) {
				return t.offsetPage(spec.Name, page, perPage)
			},
		}
	}

	return caps
}

// Get implements remote.API.
func (t *Tenant) Get(_ context.Context, spec remote.CollectionSpec, id string) (engine.Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(spec.Name, engine.OperationList, id); err != nil {
		return nil, err
	}

	c := t.collection(spec.Name)
	i := 0
	if spec.Singleton {
		if len(c.items) == 0 {
			c.items = []engine.Item{{}}
		}
	} else if i = c.index(id); i < 0 {
		return nil, notFound(spec.Name, id)
	}

	if fn := t.onGet[spec.Name]; fn != nil {
		c.items[i] = fn(c.items[i].Clone())
	}
	return c.items[i].Clone(), nil
}

// Invoke implements remote.API. The only action supported is "deploy", which
// marks the item deployed.
func (t *Tenant) Invoke(_ context.Context, spec remote.CollectionSpec, id, action string) (engine.Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(spec.Name, engine.OperationDeploy, id); err != nil {
		return nil, err
	}
	if action != "deploy" {
		return nil, &remote.APIError{StatusCode: http.StatusNotFound, Message: "unknown action " + action}
	}

	c := t.collection(spec.Name)
	i := c.index(id)
	if i < 0 {
		return nil, notFound(spec.Name, id)
	}
	c.items[i]["deployed"] = true
	c.items[i]["all_changes_deployed"] = true
	return c.items[i].Clone(), nil
}

func (t *Tenant) offsetPage(name string, page, perPage int) (engine.OffsetPage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(name, engine.OperationList, strconv.Itoa(page)); err != nil {
		return engine.OffsetPage{}, err
	}

	c := t.collection(name)
	start := page * perPage
	if start > len(c.items) {
		start = len(c.items)
	}
	end := start + perPage
	if end > len(c.items) {
		end = len(c.items)
	}

	return engine.OffsetPage{Items: cloneAll(c.items[start:end]), Total: len(c.items)}, nil
}

func (t *Tenant) cursorPage(spec remote.CollectionSpec, from int) (engine.CursorPage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(spec.Name, engine.OperationList, strconv.Itoa(from)); err != nil {
		return nil, err
	}

	c := t.collection(spec.Name)
	if from > len(c.items) {
		from = len(c.items)
	}
	end := from + spec.PerPage()
	if end > len(c.items) {
		end = len(c.items)
	}

	page := &cursorPage{tenant: t, spec: spec, items: cloneAll(c.items[from:end]), next: -1}
	if end < len(c.items) {
		page.next = end
	}
	return page, nil
}

func (t *Tenant) create(name string, payload engine.Item) (engine.Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(name, engine.OperationCreate, ""); err != nil {
		return nil, err
	}

	c := t.collection(name)
	item := payload.Clone()
	item[c.spec.ID()] = t.nextID(name)
	if err := c.checkUnique(item, -1); err != nil {
		return nil, err
	}

	c.items = append(c.items, item)
	return item.Clone(), nil
}

func (t *Tenant) update(name, id string, payload engine.Item) (engine.Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(name, engine.OperationUpdate, id); err != nil {
		return nil, err
	}

	c := t.collection(name)
	i := 0
	if c.spec.Singleton {
		if len(c.items) == 0 {
			c.items = []engine.Item{{}}
		}
	} else if i = c.index(id); i < 0 {
		return nil, notFound(name, id)
	}

	merged := c.items[i].Clone()
	for k, v := range payload {
		merged[k] = v
	}
	if err := c.checkUnique(merged, i); err != nil {
		return nil, err
	}

	c.items[i] = merged
	return merged.Clone(), nil
}

func (t *Tenant) delete(name, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(name, engine.OperationDelete, id); err != nil {
		return err
	}

	c := t.collection(name)
	i := c.index(id)
	if i < 0 {
		return notFound(name, id)
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return nil
}

// record logs a call and returns the injected failure for it, if any. The
// caller holds the lock.
func (t *Tenant) record(name string, op engine.OperationType, id string) error {
	t.calls = append(t.calls, Call{Collection: name, Operation: op, ID: id})
	return t.failures[failureKey(name, op)]
}

// nextID returns a fresh identifier. The caller holds the lock.
func (t *Tenant) nextID(name string) string {
	t.seq++
	return fmt.Sprintf("%s_%d", name, t.seq)
}

func (c *collection) index(id string) int {
	for i, item := range c.items {
		if fmt.Sprint(item[c.spec.ID()]) == id {
			return i
		}
	}
	return -1
}

// checkUnique rejects an item that shares a unique value with another item.
func (c *collection) checkUnique(item engine.Item, self int) error {
	for _, field := range c.unique {
		v, ok := item[field]
		if !ok || v == nil {
			continue
		}
		for i, other := range c.items {
			if i == self {
				continue
			}
			if ov, ok := other[field]; ok && fmt.Sprint(ov) == fmt.Sprint(v) {
				return &remote.APIError{
					StatusCode: http.StatusConflict,
					ErrorCode:  "conflict",
					Message:    fmt.Sprintf("%s %v is already used", field, v),
				}
			}
		}
	}
	return nil
}

type cursorPage struct {
	tenant *Tenant
	spec   remote.CollectionSpec
	items  []engine.Item
	next   int
}

func (p *cursorPage) Items() []engine.Item { return p.items }
func (p *cursorPage) HasNextPage() bool    { return p.next >= 0 }
func (p *cursorPage) NextPage(context.Context) (engine.CursorPage, error) {
	if p.next < 0 {
		return nil, fmt.Errorf("no next page for %s", p.spec.Name)
	}
	return p.tenant.cursorPage(p.spec, p.next)
}

func failureKey(name string, op engine.OperationType) string {
	return name + "/" + string(op)
}

func notFound(name, id string) error {
	return &remote.APIError{
		StatusCode: http.StatusNotFound,
		ErrorCode:  "inexistent_" + name,
		Message:    fmt.Sprintf("%s %s does not exist", name, id),
	}
}

func cloneAll(items []engine.Item) []engine.Item {
	out := make([]engine.Item, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
