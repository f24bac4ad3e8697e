package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a run lifecycle notification.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Item      string                 `json:"item,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypeMutationApplied  = "mutation.applied"
	EventTypeMutationFailed   = "mutation.failed"
	EventTypeDeletionsSkipped = "deletions.skipped"
	EventTypeTypeUnavailable  = "type.unavailable"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles delivered events.
type EventSubscriber func(event Event)

// EventFilter selects events.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, in publish order. With Async
// set delivery happens on a background goroutine fed by a bounded buffer;
// Publish then fails instead of blocking when the buffer is full.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closed      chan struct{}
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{
		config: cfg,
		closed: make(chan struct{}),
	}
	if cfg.Enabled && cfg.Async {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1
		}
		ep.buffer = make(chan Event, size)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep
}

// Subscribe adds a subscriber. A nil filter receives everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// Publish stamps and delivers an event.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.buffer == nil {
		ep.deliver(event)
		return nil
	}

	select {
	case <-ep.closed:
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, %s event dropped", event.Type)
	}
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ep.closed:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops the background goroutine.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.closeOnce.Do(func() { close(ep.closed) })

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel only allows events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minValue
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByRunID only allows events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
