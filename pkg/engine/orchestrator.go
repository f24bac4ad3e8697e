package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"

// Registration is a handler's entry in the orchestrator registry.
type Registration struct {
	// Handler is the resource handler.
	Handler *Handler

	// Priority orders handlers during Process; lower runs first. Handlers that
	// share a priority run in registration order.
	Priority int

	// After lists types whose mutations this handler depends on. Each must be
	// registered with a strictly lower priority.
	After []string
}

// OrchestratorConfig configures an orchestrator.
type OrchestratorConfig struct {
	// Pool is shared by every handler. Defaults to a pool of DefaultPoolWidth.
	Pool *Pool

	// Policy decides deletion gating. Defaults to never deleting.
	Policy DeletionPolicy

	// Recorder receives reporting events. Defaults to NopRecorder.
	Recorder Recorder

	// Logger receives orchestrator events.
	Logger zerolog.Logger
}

// Orchestrator owns the handler registry and runs the load, validate and
// process phases across all registered types.
//
// Process is fail-fast and has no rollback: when a handler fails, mutations
// already applied by earlier handlers and earlier phases stay in place, because
// the remote side offers no cross-resource transaction.
type Orchestrator struct {
	mu            sync.RWMutex
	registrations []Registration
	byType        map[string]*Handler
	graph         *DependencyGraph
	sealed        bool

	pool     *Pool
	policy   DeletionPolicy
	recorder Recorder
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Pool == nil {
		cfg.Pool = NewPool(PoolConfig{})
	}
	if cfg.Policy == nil {
		cfg.Policy = StaticDeletionPolicy(false)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}

	return &Orchestrator{
		byType:   make(map[string]*Handler),
		pool:     cfg.Pool,
		policy:   cfg.Policy,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With().Str("component", "orchestrator").Logger(),
		tracer:   otel.Tracer(tracerName),
	}
}

// Register adds a handler to the registry. Registration closes at Seal.
func (o *Orchestrator) Register(reg Registration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sealed {
		return NewPermanentError("orchestrator is sealed", nil).WithCode(ErrCodeValidation)
	}
	if reg.Handler == nil {
		return NewPermanentError("registration has no handler", nil).WithCode(ErrCodeMissingHandler)
	}

	t := reg.Handler.Type()
	if _, exists := o.byType[t]; exists {
		return NewPermanentError(fmt.Sprintf("handler already registered for %s", t), nil).
			WithCode(ErrCodeDuplicate).WithResource(t)
	}
	if reg.Priority < 0 {
		return NewPermanentError(fmt.Sprintf("negative priority %d", reg.Priority), nil).
			WithCode(ErrCodePriority).WithResource(t)
	}

	o.registrations = append(o.registrations, reg)
	o.byType[t] = reg.Handler
	return nil
}

// Seal validates the ordering constraints and wires every handler to the
// shared pool, policy, recorder and lookup. It is called implicitly by the
// phase methods and is safe to call more than once.
func (o *Orchestrator) Seal() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sealed {
		return nil
	}

	graph, err := BuildDependencyGraph(o.registrations)
	if err != nil {
		return err
	}

	sort.SliceStable(o.registrations, func(i, j int) bool {
		return o.registrations[i].Priority < o.registrations[j].Priority
	})

	for _, reg := range o.registrations {
		reg.Handler.
			WithPool(o.pool).
			WithDeletionPolicy(o.policy).
			WithRecorder(o.recorder).
			WithLookup(o)
	}

	o.graph = graph
	o.sealed = true

	o.logger.Debug().Int("handlers", len(o.registrations)).Msg("Registry sealed")
	return nil
}

// Registrations returns the registry in processing order.
func (o *Orchestrator) Registrations() ([]Registration, error) {
	if err := o.Seal(); err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Registration, len(o.registrations))
	copy(out, o.registrations)
	return out, nil
}

// Graph returns the validated dependency graph.
func (o *Orchestrator) Graph() (*DependencyGraph, error) {
	if err := o.Seal(); err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.graph, nil
}

// Handler returns the handler registered for a type.
func (o *Orchestrator) Handler(resourceType string) (*Handler, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	h, ok := o.byType[resourceType]
	return h, ok
}

// Existing implements Lookup.
func (o *Orchestrator) Existing(ctx context.Context, resourceType string) ([]Item, error) {
	h, ok := o.Handler(resourceType)
	if !ok {
		return nil, NewPermanentError(fmt.Sprintf("no handler registered for %s", resourceType), nil).
			WithCode(ErrCodeUnknownType).WithResource(resourceType)
	}
	return h.GetExisting(ctx)
}

// Invalidate drops every handler's cached existing state.
func (o *Orchestrator) Invalidate() {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, reg := range o.registrations {
		reg.Handler.Invalidate()
	}
}

// Load fetches the existing state of every handler concurrently.
func (o *Orchestrator) Load(ctx context.Context) (State, error) {
	regs, err := o.Registrations()
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.load")
	defer span.End()

	state := make(State, len(regs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range regs {
		h := reg.Handler
		g.Go(func() error {
			items, err := h.GetExisting(gctx)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", h.Type(), err)
			}

			mu.Lock()
			state[h.Type()] = items
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	o.logger.Info().Int("types", len(state)).Msg("Loaded existing state")
	return state, nil
}

// Validate runs every handler's structural checks and returns all problems in
// one *ValidationError. Types present in the desired state without a handler
// are reported too.
func (o *Orchestrator) Validate(ctx context.Context, desired DesiredState) error {
	regs, err := o.Registrations()
	if err != nil {
		return err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.validate")
	defer span.End()

	problems := NewValidationError()

	for t := range desired {
		if _, ok := o.Handler(t); !ok {
			problems.Add(t, "no handler registered for resource type")
		}
	}

	for _, reg := range regs {
		items, ok := desired[reg.Handler.Type()]
		if !ok {
			continue
		}

		err := reg.Handler.Validate(ctx, items)
		if err == nil {
			continue
		}

		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		problems.Merge(verr)
	}

	if err := problems.ErrOrNil(); err != nil {
		span.SetStatus(codes.Error, "invalid desired state")
		return err
	}
	return nil
}

// Plan computes the change set of every handler present in the desired state,
// in processing order, without mutating anything.
func (o *Orchestrator) Plan(ctx context.Context, desired DesiredState) (map[string]*ChangeSet, error) {
	regs, err := o.Registrations()
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.plan")
	defer span.End()

	plan := make(map[string]*ChangeSet)
	for _, reg := range regs {
		items, ok := desired[reg.Handler.Type()]
		if !ok {
			continue
		}

		changes, err := reg.Handler.CalcChanges(ctx, items)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to plan %s: %w", reg.Handler.Type(), err)
		}
		plan[reg.Handler.Type()] = changes
	}

	return plan, nil
}

// Process runs every handler present in the desired state strictly in
// ascending priority order. Each handler settles completely before the next
// one starts; the first failure ends the run.
func (o *Orchestrator) Process(ctx context.Context, desired DesiredState) (*RunResult, error) {
	regs, err := o.Registrations()
	if err != nil {
		return nil, err
	}

	run := &RunResult{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Status:    RunStatusRunning,
		Handlers:  make([]*Result, 0, len(regs)),
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.process",
		trace.WithAttributes(attribute.String("run.id", run.ID)))
	defer span.End()

	logger := o.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Int("handlers", len(regs)).Msg("Starting run")
	o.recorder.RunStarted(ctx, run)

	var runErr error
	for _, reg := range regs {
		h := reg.Handler
		items, ok := desired[h.Type()]
		if !ok {
			logger.Debug().Str("type", h.Type()).Msg("Type not in desired state, skipping")
			continue
		}

		h.withRun(run.ID)
		result, err := o.processHandler(ctx, h, reg.Priority, items)
		if result != nil {
			run.Handlers = append(run.Handlers, result)
		}
		o.recorder.HandlerCompleted(ctx, run.ID, result, err)

		if err != nil {
			runErr = fmt.Errorf("failed to process %s: %w", h.Type(), err)
			break
		}
	}

	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)

	if runErr != nil {
		run.Status = RunStatusFailed
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run failed")
		logger.Error().Err(runErr).Dur("duration", run.Duration).Msg("Run failed")
	} else {
		run.Status = RunStatusSucceeded
		created, updated, deleted := run.Totals()
		logger.Info().
			Int("created", created).
			Int("updated", updated).
			Int("deleted", deleted).
			Dur("duration", run.Duration).
			Msg("Run completed")
	}

	o.recorder.RunCompleted(ctx, run, runErr)
	return run, runErr
}

// processHandler runs one handler inside its own span.
func (o *Orchestrator) processHandler(ctx context.Context, h *Handler, priority int, items []Item) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "handler.process",
		trace.WithAttributes(
			attribute.String("resource.type", h.Type()),
			attribute.Int("priority", priority),
			attribute.Int("desired", len(items)),
		))
	defer span.End()

	result, err := h.ProcessChanges(ctx, items, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
	}
	return result, err
}

// Deploy is the usual entry point: validate, load, then process. A validation
// failure returns before anything is fetched or mutated.
func (o *Orchestrator) Deploy(ctx context.Context, desired DesiredState) (*RunResult, error) {
	if err := o.Validate(ctx, desired); err != nil {
		run := &RunResult{
			ID:          uuid.New().String(),
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
			Status:      RunStatusInvalid,
		}
		o.recorder.RunCompleted(ctx, run, err)
		return run, err
	}

	o.Invalidate()
	if _, err := o.Load(ctx); err != nil {
		return nil, err
	}

	return o.Process(ctx, desired)
}
