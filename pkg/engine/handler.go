package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// HandlerConfig configures a resource handler. Per-type behavior is injected
// through the hook functions; every hook is optional.
type HandlerConfig struct {
	// Descriptor describes the resource type.
	Descriptor Descriptor

	// Capabilities are the remote operations for the type.
	Capabilities Capabilities

	// Classify maps remote errors to a RemoteClass. Defaults to ClassifyNone.
	Classify Classifier

	// Logger receives handler events. Defaults to a disabled logger.
	Logger zerolog.Logger

	// Transform rewrites desired items before diffing, e.g. to resolve names of
	// other resources into their remote ids.
	Transform func(ctx context.Context, lookup Lookup, desired []Item) ([]Item, error)

	// FilterExisting drops existing items the run must never touch.
	FilterExisting func(existing []Item) []Item

	// Validate adds type-specific structural checks to the duplicate check.
	Validate func(ctx context.Context, desired []Item, problems *ValidationError)

	// Payload maps an item to the remote payload after field stripping.
	Payload func(op OperationType, payload Item) Item

	// AfterApply runs inside the pool slot after a successful create or update,
	// e.g. to activate the new version of the item.
	AfterApply func(ctx context.Context, op OperationType, desired, remote Item) error
}

// Handler implements the load, validate, calculate and apply lifecycle for one
// resource type.
type Handler struct {
	desc     Descriptor
	caps     Capabilities
	classify Classifier
	hooks    HandlerConfig
	logger   zerolog.Logger

	// run environment, replaced by the orchestrator for every run
	pool     *Pool
	policy   DeletionPolicy
	recorder Recorder
	lookup   Lookup
	runID    string

	mu         sync.Mutex
	group      singleflight.Group
	existing   []Item
	loaded     bool
	generation uint64
}

// NewHandler creates a new resource handler. The handler runs with a private
// pool and deletion disabled until it is registered with an orchestrator or
// configured with the With* methods.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Descriptor.Type == "" {
		return nil, NewPermanentError("handler descriptor has no type", nil).
			WithCode(ErrCodeValidation)
	}
	if cfg.Capabilities.List == nil {
		return nil, NewPermanentError("handler has no list capability", nil).
			WithCode(ErrCodeValidation).WithResource(cfg.Descriptor.Type)
	}
	if len(cfg.Descriptor.Identifiers) == 0 {
		cfg.Descriptor.Identifiers = []Identifier{{cfg.Descriptor.idField()}, {cfg.Descriptor.nameField()}}
	}
	if cfg.Classify == nil {
		cfg.Classify = ClassifyNone
	}

	return &Handler{
		desc:     cfg.Descriptor,
		caps:     cfg.Capabilities,
		classify: cfg.Classify,
		hooks:    cfg,
		logger:   cfg.Logger.With().Str("component", "handler").Str("type", cfg.Descriptor.Type).Logger(),
		pool:     NewPool(PoolConfig{}),
		policy:   StaticDeletionPolicy(false),
		recorder: NopRecorder{},
	}, nil
}

// Type returns the resource type handled.
func (h *Handler) Type() string {
	return h.desc.Type
}

// Descriptor returns the resource descriptor.
func (h *Handler) Descriptor() Descriptor {
	return h.desc
}

// WithPool sets the execution pool.
func (h *Handler) WithPool(pool *Pool) *Handler {
	if pool != nil {
		h.pool = pool
	}
	return h
}

// WithDeletionPolicy sets the deletion policy.
func (h *Handler) WithDeletionPolicy(policy DeletionPolicy) *Handler {
	if policy != nil {
		h.policy = policy
	}
	return h
}

// WithRecorder sets the event recorder.
func (h *Handler) WithRecorder(recorder Recorder) *Handler {
	if recorder != nil {
		h.recorder = recorder
	}
	return h
}

// WithLookup sets the cross-type state lookup passed to Transform.
func (h *Handler) WithLookup(lookup Lookup) *Handler {
	h.lookup = lookup
	return h
}

// withRun tags emitted events with a run id.
func (h *Handler) withRun(runID string) {
	h.runID = runID
}

// GetExisting returns the remote items of the type, fetching them once per run.
// Concurrent callers share one fetch. Errors classified as an unavailable
// feature or insufficient scope are logged and yield an empty list.
func (h *Handler) GetExisting(ctx context.Context) ([]Item, error) {
	h.mu.Lock()
	if h.loaded {
		items := h.existing
		h.mu.Unlock()
		return items, nil
	}
	gen := h.generation
	h.mu.Unlock()

	v, err, _ := h.group.Do(h.desc.Type, func() (interface{}, error) {
		items, err := h.fetch(ctx)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		if h.generation == gen {
			h.existing = items
			h.loaded = true
		}
		h.mu.Unlock()

		return items, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]Item), nil
}

// fetch lists the type through the pool and applies the existing-item filter.
func (h *Handler) fetch(ctx context.Context) ([]Item, error) {
	var items []Item
	err := h.pool.RunOne(ctx, Task{
		Type:      h.desc.Type,
		Operation: OperationList,
		Name:      h.desc.Type,
		Run: func(ctx context.Context) error {
			var err error
			items, err = FetchAll(ctx, h.caps.List)
			return err
		},
	})
	if err != nil {
		if class := h.classify(err); class.Recoverable() {
			h.logger.Warn().
				Err(err).
				Str("class", string(class)).
				Msg("Resource type unavailable on this tenant, treating as empty")
			h.recorder.Unavailable(ctx, &FeatureUnavailableError{Type: h.desc.Type, Class: class, Err: err})
			return []Item{}, nil
		}
		return nil, err
	}

	if items == nil {
		items = []Item{}
	}
	if h.hooks.FilterExisting != nil {
		items = h.hooks.FilterExisting(items)
	}

	h.logger.Debug().Int("count", len(items)).Msg("Loaded existing items")
	return items, nil
}

// Invalidate drops the cached existing items so the next GetExisting refetches.
func (h *Handler) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.existing = nil
	h.loaded = false
	h.generation++
}

// CalcChanges transforms the desired items and diffs them against the
// existing ones.
func (h *Handler) CalcChanges(ctx context.Context, desired []Item) (*ChangeSet, error) {
	existing, err := h.GetExisting(ctx)
	if err != nil {
		return nil, err
	}

	items, err := h.transform(ctx, desired)
	if err != nil {
		return nil, err
	}

	allowDelete, err := h.allowDelete(ctx)
	if err != nil {
		return nil, err
	}

	return Calculate(h.desc, items, existing, allowDelete), nil
}

// transform applies the Transform hook, if any. Resolved references can make
// distinct desired items identical, so identity is checked again afterwards.
func (h *Handler) transform(ctx context.Context, desired []Item) ([]Item, error) {
	if h.hooks.Transform == nil {
		return desired, nil
	}
	items, err := h.hooks.Transform(ctx, h.lookup, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to transform %s: %w", h.desc.Type, err)
	}

	problems := NewValidationError()
	h.checkIdentity(problems, items)
	if err := problems.ErrOrNil(); err != nil {
		return nil, err
	}
	return items, nil
}

// allowDelete asks the deletion policy about this type.
func (h *Handler) allowDelete(ctx context.Context) (bool, error) {
	allowed, err := h.policy.AllowDelete(ctx, h.desc.Type)
	if err != nil {
		return false, NewPermanentError("failed to evaluate deletion policy", err).
			WithResource(h.desc.Type)
	}
	return allowed, nil
}

// Validate rejects duplicate identifier and unique-field values in the desired
// items. Every collision is reported, not just the first.
func (h *Handler) Validate(ctx context.Context, desired []Item) error {
	problems := NewValidationError()
	h.checkIdentity(problems, desired)

	if h.hooks.Validate != nil {
		h.hooks.Validate(ctx, desired, problems)
	}

	return problems.ErrOrNil()
}

// checkIdentity records duplicate identifier and unique-field values.
func (h *Handler) checkIdentity(problems *ValidationError, items []Item) {
	for _, ident := range h.desc.Identifiers {
		h.checkDuplicates(problems, items, ident, "identifier")
	}
	for _, field := range h.desc.UniqueFields {
		h.checkDuplicates(problems, items, Identifier{field}, "unique field")
	}
}

// checkDuplicates records one problem per value shared by more than one item.
func (h *Handler) checkDuplicates(problems *ValidationError, desired []Item, ident Identifier, kind string) {
	if len(ident) == 0 {
		return
	}

	positions := make(map[string][]int)
	values := make(map[string]string)
	order := make([]string, 0)

	for i, item := range desired {
		if !hasAll(item, ident) {
			continue
		}
		keys := make([]string, len(ident))
		display := make([]string, len(ident))
		for k, f := range ident {
			keys[k] = valueKey(item[f])
			display[k] = fmt.Sprintf("%s=%v", f, item[f])
		}
		key := strings.Join(keys, "\x00")
		if _, seen := positions[key]; !seen {
			order = append(order, key)
			values[key] = strings.Join(display, ",")
		}
		positions[key] = append(positions[key], i)
	}

	for _, key := range order {
		if len(positions[key]) < 2 {
			continue
		}
		problems.Add(h.desc.Type, "duplicate %s %s at positions %v", kind, values[key], positions[key])
	}
}

// phaseTask pairs a task with the item whose outcome is recorded.
type phaseTask struct {
	task   Task
	change AppliedChange
}

// ProcessChanges applies a change set in the order delete, conflict, create,
// update. The change set is computed when nil. A failing phase stops the
// handler once all of its tasks have settled; mutations already applied are
// kept.
func (h *Handler) ProcessChanges(ctx context.Context, desired []Item, changes *ChangeSet) (*Result, error) {
	start := time.Now()
	result := &Result{Type: h.desc.Type}

	if changes == nil {
		var err error
		changes, err = h.CalcChanges(ctx, desired)
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
	}

	allowDelete, err := h.allowDelete(ctx)
	if err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	dirty := false
	defer func() {
		if dirty {
			h.Invalidate()
		}
	}()

	for _, phase := range phaseOrder {
		var tasks []*phaseTask
		switch phase {
		case PhaseDelete:
			if !allowDelete {
				h.skipDeletes(ctx, changes.Delete, result)
				continue
			}
			tasks = h.deleteTasks(changes.Delete)
		case PhaseConflict:
			tasks = h.conflictTasks(changes.Conflicts)
		case PhaseCreate:
			tasks = h.createTasks(changes.Create)
		case PhaseUpdate:
			tasks = h.updateTasks(changes.Update)
		}

		if len(tasks) == 0 {
			continue
		}

		applied, err := h.runPhase(ctx, phase, tasks)
		for _, change := range applied {
			dirty = true
			result.Applied = append(result.Applied, change)
			switch phase {
			case PhaseDelete:
				result.Deleted++
			case PhaseConflict:
				result.Conflicts++
			case PhaseCreate:
				result.Created++
			case PhaseUpdate:
				result.Updated++
			}
		}

		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
	}

	result.Duration = time.Since(start)
	h.logger.Info().
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("conflicts", result.Conflicts).
		Dur("duration", result.Duration).
		Msg("Processed changes")

	return result, nil
}

// runPhase submits the tasks to the pool and returns the successfully applied
// changes in submission order.
func (h *Handler) runPhase(ctx context.Context, phase Phase, tasks []*phaseTask) ([]AppliedChange, error) {
	succeeded := make([]bool, len(tasks))
	poolTasks := make([]Task, len(tasks))

	for i := range tasks {
		pt := tasks[i]
		run := pt.task.Run
		poolTasks[i] = pt.task
		poolTasks[i].Run = func(ctx context.Context) error {
			taskStart := time.Now()
			err := run(ctx)
			h.emit(ctx, pt, time.Since(taskStart), err)
			if err == nil {
				succeeded[i] = true
			}
			return err
		}
	}

	err := h.pool.RunEach(ctx, poolTasks)

	applied := make([]AppliedChange, 0, len(tasks))
	for i, ok := range succeeded {
		if ok {
			applied = append(applied, tasks[i].change)
		}
	}

	if err != nil {
		h.logger.Error().Err(err).Str("phase", string(phase)).Msg("Phase failed")
	}
	return applied, err
}

// emit logs and records one mutation outcome.
func (h *Handler) emit(ctx context.Context, pt *phaseTask, d time.Duration, err error) {
	event := MutationEvent{
		RunID:     h.runID,
		Type:      h.desc.Type,
		Operation: pt.change.Operation,
		Name:      pt.change.Name,
		ID:        pt.change.ID,
		Duration:  d,
		Err:       err,
	}
	h.recorder.Mutation(ctx, event)

	if err != nil {
		h.logger.Error().Err(err).
			Str("operation", string(event.Operation)).
			Str("item", event.Name).
			Msg("Mutation failed")
		return
	}
	h.logger.Info().
		Str("operation", string(event.Operation)).
		Str("item", event.Name).
		Str("id", event.ID).
		Dur("duration", d).
		Msg("Mutation applied")
}

// skipDeletes reports every withheld deletion in a single warning.
func (h *Handler) skipDeletes(ctx context.Context, items []Item, result *Result) {
	if len(items) == 0 {
		return
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, h.ObjString(item))
	}
	result.SkippedDeletes = names

	h.logger.Warn().
		Strs("items", names).
		Msg("Detected items that would be deleted; deletion is disabled for this run")

	h.recorder.SkippedDeletions(ctx, SkippedDeletionEvent{
		RunID: h.runID,
		Type:  h.desc.Type,
		Items: names,
	})
}

func (h *Handler) deleteTasks(items []Item) []*phaseTask {
	tasks := make([]*phaseTask, 0, len(items))
	for _, item := range items {
		id := idString(item[h.desc.idField()])
		tasks = append(tasks, h.newTask(OperationDelete, item, id, func(ctx context.Context) error {
			if h.caps.Delete == nil {
				return h.unsupported(OperationDelete)
			}
			return h.caps.Delete(ctx, id)
		}))
	}
	return tasks
}

func (h *Handler) conflictTasks(items []Item) []*phaseTask {
	tasks := make([]*phaseTask, 0, len(items))
	for _, item := range items {
		id := idString(item[h.desc.idField()])
		payload := Item{}
		for _, f := range h.desc.UniqueFields {
			if v, ok := item[f]; ok {
				payload[f] = v
			}
		}
		tasks = append(tasks, h.newTask(OperationConflict, item, id, func(ctx context.Context) error {
			if h.caps.Update == nil {
				return h.unsupported(OperationUpdate)
			}
			_, err := h.caps.Update(ctx, id, h.payload(OperationConflict, payload))
			return err
		}))
	}
	return tasks
}

func (h *Handler) createTasks(items []Item) []*phaseTask {
	tasks := make([]*phaseTask, 0, len(items))
	for _, item := range items {
		payload := h.payload(OperationCreate, item.Without(h.desc.StripCreate...))
		pt := h.newTask(OperationCreate, item, "", nil)
		pt.task.Run = func(ctx context.Context) error {
			if h.caps.Create == nil {
				return h.unsupported(OperationCreate)
			}
			created, err := h.caps.Create(ctx, payload)
			if err != nil {
				return err
			}
			if created != nil {
				pt.change.ID = idString(created[h.desc.idField()])
			}
			return h.afterApply(ctx, OperationCreate, item, created)
		}
		tasks = append(tasks, pt)
	}
	return tasks
}

func (h *Handler) updateTasks(items []Item) []*phaseTask {
	strip := append([]string{h.desc.idField()}, h.desc.StripUpdate...)

	tasks := make([]*phaseTask, 0, len(items))
	for _, item := range items {
		id := idString(item[h.desc.idField()])
		payload := h.payload(OperationUpdate, item.Without(strip...))
		tasks = append(tasks, h.newTask(OperationUpdate, item, id, func(ctx context.Context) error {
			if h.caps.Update == nil {
				return h.unsupported(OperationUpdate)
			}
			updated, err := h.caps.Update(ctx, id, payload)
			if err != nil {
				return err
			}
			return h.afterApply(ctx, OperationUpdate, item, updated)
		}))
	}
	return tasks
}

// newTask builds a pool task for an item.
func (h *Handler) newTask(op OperationType, item Item, id string, run func(ctx context.Context) error) *phaseTask {
	name := h.ObjString(item)
	return &phaseTask{
		task: Task{
			Type:      h.desc.Type,
			Operation: op,
			Name:      name,
			Item:      item,
			Run:       run,
		},
		change: AppliedChange{Operation: op, Name: name, ID: id},
	}
}

// payload applies the Payload hook, if any.
func (h *Handler) payload(op OperationType, item Item) Item {
	if h.hooks.Payload == nil {
		return item
	}
	return h.hooks.Payload(op, item)
}

// afterApply runs the AfterApply hook, if any.
func (h *Handler) afterApply(ctx context.Context, op OperationType, desired, remote Item) error {
	if h.hooks.AfterApply == nil {
		return nil
	}
	return h.hooks.AfterApply(ctx, op, desired, remote)
}

func (h *Handler) unsupported(op OperationType) error {
	return NewPermanentError(fmt.Sprintf("%s is not supported", op), nil).
		WithResource(h.desc.Type)
}

// ObjString returns a short, deterministic identity for an item: its name,
// else its first complete identifier, else its id, else its JSON encoding.
func (h *Handler) ObjString(item Item) string {
	if name := item.String(h.desc.nameField()); name != "" {
		return name
	}

	for _, ident := range h.desc.Identifiers {
		if len(ident) == 0 || !hasAll(item, ident) {
			continue
		}
		parts := make([]string, len(ident))
		for i, f := range ident {
			parts[i] = fmt.Sprintf("%s=%s", f, idString(item[f]))
		}
		return strings.Join(parts, ",")
	}

	if id := idString(item[h.desc.idField()]); id != "" {
		return id
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(item))
	}
	return string(data)
}

// idString renders an identifier value. Whole numbers are printed without a
// fractional part.
func idString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
