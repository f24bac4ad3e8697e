package engine

import (
	"context"
	"fmt"
	"sync"
)

// fakeCollection is an in-memory remote collection that enforces its unique
// fields the way the remote API does.
type fakeCollection struct {
	mu      sync.Mutex
	idField string
	unique  []string
	items   []Item
	nextID  int
	calls   []string
	lists   int
	listErr error
	fail    map[string]error
	onCall  func(call string)
	payload []Item
}

func newFakeCollection(items ...Item) *fakeCollection {
	return &fakeCollection{
		idField: "id",
		items:   items,
		fail:    make(map[string]error),
	}
}

func (c *fakeCollection) record(call string) {
	c.calls = append(c.calls, call)
	if c.onCall != nil {
		c.onCall(call)
	}
}

func (c *fakeCollection) capabilities() Capabilities {
	return Capabilities{
		List:   CursorLister{First: c.first},
		Create: c.create,
		Update: c.update,
		Delete: c.delete,
	}
}

func (c *fakeCollection) first(ctx context.Context) (CursorPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lists++
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]Item, len(c.items))
	for i, it := range c.items {
		out[i] = it.Clone()
	}
	return staticPage(out), nil
}

func (c *fakeCollection) create(ctx context.Context, payload Item) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := payload.String("name")
	c.record("create:" + name)
	c.payload = append(c.payload, payload.Clone())
	if err := c.fail["create:"+name]; err != nil {
		return nil, err
	}
	if err := c.checkUnique("", payload); err != nil {
		return nil, err
	}

	c.nextID++
	created := payload.Clone()
	created[c.idField] = fmt.Sprintf("new-%d", c.nextID)
	c.items = append(c.items, created)
	return created.Clone(), nil
}

func (c *fakeCollection) update(ctx context.Context, id string, payload Item) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record("update:" + id)
	c.payload = append(c.payload, payload.Clone())
	if err := c.fail["update:"+id]; err != nil {
		return nil, err
	}
	if err := c.checkUnique(id, payload); err != nil {
		return nil, err
	}

	for i, it := range c.items {
		if idString(it[c.idField]) == id {
			for k, v := range payload {
				c.items[i][k] = v
			}
			return c.items[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s not found", id)
}

func (c *fakeCollection) delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record("delete:" + id)
	for i, it := range c.items {
		if idString(it[c.idField]) == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s not found", id)
}

// checkUnique rejects a payload whose unique values are held by another item.
func (c *fakeCollection) checkUnique(id string, payload Item) error {
	for _, f := range c.unique {
		v, ok := payload[f]
		if !ok {
			continue
		}
		for _, it := range c.items {
			if idString(it[c.idField]) == id {
				continue
			}
			if valuesEqual(it[f], v) {
				return fmt.Errorf("%s %v is already used by %s", f, v, idString(it[c.idField]))
			}
		}
	}
	return nil
}

func (c *fakeCollection) callsWithPrefix(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, call := range c.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			out = append(out, call)
		}
	}
	return out
}

// fakeRecorder captures engine events.
type fakeRecorder struct {
	mu        sync.Mutex
	mutations []MutationEvent
	skipped   []SkippedDeletionEvent
	missing   []*FeatureUnavailableError
	handlers  []string
	runs      []*RunResult
}

func (r *fakeRecorder) RunStarted(ctx context.Context, run *RunResult) {}

func (r *fakeRecorder) Mutation(ctx context.Context, event MutationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, event)
}

func (r *fakeRecorder) SkippedDeletions(ctx context.Context, event SkippedDeletionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, event)
}

func (r *fakeRecorder) Unavailable(ctx context.Context, err *FeatureUnavailableError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing = append(r.missing, err)
}

func (r *fakeRecorder) HandlerCompleted(ctx context.Context, runID string, result *Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, result.Type)
}

func (r *fakeRecorder) RunCompleted(ctx context.Context, result *RunResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, result)
}
