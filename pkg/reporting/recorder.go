package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/stores"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/telemetry"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Config selects the sinks of a Recorder. Nil sinks are skipped.
type Config struct {
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
	Store   stores.Store
}

// Recorder fans engine reporting events out to the log, Prometheus metrics,
// the event publisher and the run history store.
//
// Sink failures never fail a run. They are logged and kept for Err.
type Recorder struct {
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	store   stores.Store

	mu      sync.Mutex
	started map[string]bool
	errs    *multierror.Error
}

var _ engine.Recorder = (*Recorder)(nil)

// New creates a recorder.
func New(cfg Config) *Recorder {
	return &Recorder{
		logger:  telemetry.Component(cfg.Logger, "reporting"),
		metrics: cfg.Metrics,
		events:  cfg.Events,
		store:   cfg.Store,
		started: make(map[string]bool),
	}
}

// RunStarted implements engine.Recorder.
func (r *Recorder) RunStarted(ctx context.Context, run *engine.RunResult) {
	r.mu.Lock()
	r.started[run.ID] = true
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordRunStarted()
	}

	r.publish(telemetry.Event{
		Type:    telemetry.EventTypeRunStarted,
		RunID:   run.ID,
		Message: "run started",
	})

	if r.store != nil {
		r.keep(r.store.SaveRun(ctx, &stores.Run{
			ID:        run.ID,
			Status:    stores.RunStatus(run.Status),
			StartedAt: run.StartedAt,
		}))
	}
}

// Mutation implements engine.Recorder.
func (r *Recorder) Mutation(ctx context.Context, ev engine.MutationEvent) {
	op := string(ev.Operation)

	if ev.Err != nil {
		r.logger.Error().
			Err(ev.Err).
			Str("run_id", ev.RunID).
			Str("type", ev.Type).
			Str("operation", op).
			Str("item", ev.Name).
			Msg("Mutation failed")
	} else {
		r.logger.Info().
			Str("run_id", ev.RunID).
			Str("type", ev.Type).
			Str("operation", op).
			Str("item", ev.Name).
			Str("id", ev.ID).
			Dur("duration", ev.Duration).
			Msg("Mutation applied")
	}

	if r.metrics != nil {
		r.metrics.RecordMutation(ev.Type, op, ev.Duration, ev.Err)
		if ev.Err != nil {
			r.metrics.RecordError(errorClass(ev.Err))
		}
	}

	event := telemetry.Event{
		Type:      telemetry.EventTypeMutationApplied,
		RunID:     ev.RunID,
		Resource:  ev.Type,
		Item:      ev.Name,
		Operation: op,
		Message:   fmt.Sprintf("%s %s/%s", op, ev.Type, ev.Name),
	}
	if ev.Err != nil {
		event.Type = telemetry.EventTypeMutationFailed
		event.Level = telemetry.EventLevelError
		event.Message = ev.Err.Error()
	}
	r.publish(event)

	if r.store != nil {
		m := &stores.Mutation{
			RunID:        ev.RunID,
			ResourceType: ev.Type,
			Operation:    op,
			ItemName:     ev.Name,
			DurationMs:   ev.Duration.Milliseconds(),
			Error:        errString(ev.Err),
			Timestamp:    time.Now(),
		}
		if ev.ID != "" {
			id := ev.ID
			m.ItemID = &id
		}
		r.keep(r.store.AppendMutation(ctx, m))
	}
}

// SkippedDeletions implements engine.Recorder.
func (r *Recorder) SkippedDeletions(ctx context.Context, ev engine.SkippedDeletionEvent) {
	r.logger.Warn().
		Str("run_id", ev.RunID).
		Str("type", ev.Type).
		Strs("items", ev.Items).
		Msgf("Deletion of %d %s withheld; enable deletions to remove them", len(ev.Items), ev.Type)

	if r.metrics != nil {
		r.metrics.RecordSkippedDeletions(ev.Type, len(ev.Items))
	}

	r.publish(telemetry.Event{
		Type:     telemetry.EventTypeDeletionsSkipped,
		RunID:    ev.RunID,
		Resource: ev.Type,
		Level:    telemetry.EventLevelWarning,
		Message:  fmt.Sprintf("%d deletions withheld", len(ev.Items)),
		Data:     map[string]interface{}{"items": ev.Items},
	})

	if r.store != nil {
		r.keep(r.store.AppendSkippedDeletion(ctx, &stores.SkippedDeletion{
			RunID:        ev.RunID,
			ResourceType: ev.Type,
			Items:        ev.Items,
			Timestamp:    time.Now(),
		}))
	}
}

// Unavailable implements engine.Recorder. The handler already logs the
// recovery; here it is counted and published.
func (r *Recorder) Unavailable(_ context.Context, err *engine.FeatureUnavailableError) {
	if r.metrics != nil {
		r.metrics.RecordError(errorClass(err))
	}

	r.publish(telemetry.Event{
		Type:     telemetry.EventTypeTypeUnavailable,
		Resource: err.Type,
		Level:    telemetry.EventLevelWarning,
		Message:  err.Error(),
		Data:     map[string]interface{}{"class": string(err.Class)},
	})
}

// HandlerCompleted implements engine.Recorder.
func (r *Recorder) HandlerCompleted(ctx context.Context, runID string, result *engine.Result, err error) {
	if result == nil {
		result = &engine.Result{}
	}

	if r.metrics != nil && result.Type != "" {
		r.metrics.RecordHandler(result.Type, result.Duration, err)
	}

	if r.store != nil && result.Type != "" {
		r.keep(r.store.AppendHandlerResult(ctx, &stores.HandlerResult{
			RunID:        runID,
			ResourceType: result.Type,
			Created:      result.Created,
			Updated:      result.Updated,
			Deleted:      result.Deleted,
			Conflicts:    result.Conflicts,
			DurationMs:   result.Duration.Milliseconds(),
			Error:        errString(err),
			CompletedAt:  time.Now(),
		}))
	}
}

// RunCompleted implements engine.Recorder.
func (r *Recorder) RunCompleted(ctx context.Context, run *engine.RunResult, err error) {
	r.mu.Lock()
	started := r.started[run.ID]
	delete(r.started, run.ID)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordRunCompleted(string(run.Status), run.Duration, started)
		if err != nil {
			r.metrics.RecordError(errorClass(err))
		}
	}

	created, updated, deleted := run.Totals()
	event := telemetry.Event{
		Type:    telemetry.EventTypeRunCompleted,
		RunID:   run.ID,
		Message: fmt.Sprintf("run %s", run.Status),
		Data: map[string]interface{}{
			"created": created,
			"updated": updated,
			"deleted": deleted,
		},
	}
	if err != nil {
		event.Type = telemetry.EventTypeRunFailed
		event.Level = telemetry.EventLevelError
		event.Message = err.Error()
	}
	r.publish(event)

	if r.store != nil {
		completed := run.CompletedAt
		r.keep(r.store.SaveRun(ctx, &stores.Run{
			ID:          run.ID,
			Status:      stores.RunStatus(run.Status),
			StartedAt:   run.StartedAt,
			CompletedAt: &completed,
			DurationMs:  run.Duration.Milliseconds(),
			Created:     created,
			Updated:     updated,
			Deleted:     deleted,
			Error:       errString(err),
		}))
	}
}

// Err returns the sink failures seen so far, nil when there were none.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.errs.ErrorOrNil()
}

func (r *Recorder) publish(event telemetry.Event) {
	if r.events == nil {
		return
	}
	r.keep(r.events.Publish(event))
}

func (r *Recorder) keep(err error) {
	if err == nil {
		return
	}
	r.logger.Warn().Err(err).Msg("Failed to record run event")

	r.mu.Lock()
	r.errs = multierror.Append(r.errs, err)
	r.mu.Unlock()
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

// errorClass maps an engine error onto its metrics label.
func errorClass(err error) string {
	var engineErr *engine.EngineError
	switch {
	case engine.IsValidation(err):
		return string(engine.ErrorClassValidation)
	case engine.IsConsistencyTimeout(err):
		return string(engine.ErrorClassTimeout)
	case engine.IsFeatureUnavailable(err):
		return string(engine.ErrorClassUnavailable)
	case errors.As(err, &engineErr):
		return string(engineErr.Class)
	case len(engine.RemoteFailures(err)) > 0:
		return string(engine.ErrorClassRemote)
	default:
		return string(engine.ErrorClassPermanent)
	}
}
