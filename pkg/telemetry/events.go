package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the racksync system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// BatchID is the associated batch run ID, if applicable.
	BatchID string `json:"batch_id,omitempty"`

	// JobID is the associated background job ID, if applicable.
	JobID string `json:"job_id,omitempty"`

	// ResourceType is the associated resource type, if applicable.
	ResourceType string `json:"resource_type,omitempty"`

	// ResourceName is the associated resource name, if applicable.
	ResourceName string `json:"resource_name,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunFailed         = "run.failed"
	EventTypeRecordConverged   = "record.converged"
	EventTypeRecordFailed      = "record.failed"
	EventTypeWriteExecuted     = "write.executed"
	EventTypeWriteRefused      = "write.refused"
	EventTypeDriftDetected     = "drift.detected"
	EventTypePolicyDenied      = "policy.denied"
	EventTypeRollbackPerformed = "rollback.performed"
	EventTypeError             = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
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

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a batch run started event.
func (ep *EventPublisher) PublishRunStarted(batchID, mode string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		BatchID: batchID,
		Message: fmt.Sprintf("Batch %s started in %s mode", batchID, mode),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"mode": mode,
		},
	})
}

// PublishRunCompleted publishes a batch run completed event.
func (ep *EventPublisher) PublishRunCompleted(batchID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		BatchID: batchID,
		Message: fmt.Sprintf("Batch %s completed with status: %s", batchID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a batch run failed event.
func (ep *EventPublisher) PublishRunFailed(batchID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "engine",
		BatchID: batchID,
		Message: fmt.Sprintf("Batch %s failed: %s", batchID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishRecordConverged publishes a record converged event.
func (ep *EventPublisher) PublishRecordConverged(batchID, resourceType, name, action string) error {
	return ep.Publish(Event{
		Type:         EventTypeRecordConverged,
		Source:       "engine",
		BatchID:      batchID,
		ResourceType: resourceType,
		ResourceName: name,
		Message:      fmt.Sprintf("Record %s/%s converged: %s", resourceType, name, action),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"action": action,
		},
	})
}

// PublishRecordFailed publishes a record failed event.
func (ep *EventPublisher) PublishRecordFailed(batchID, resourceType, name, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeRecordFailed,
		Source:       "engine",
		BatchID:      batchID,
		ResourceType: resourceType,
		ResourceName: name,
		Message:      fmt.Sprintf("Record %s/%s failed: %s", resourceType, name, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishWriteExecuted publishes a remote write event.
func (ep *EventPublisher) PublishWriteExecuted(batchID, operation, resourceType string, resourceID int64) error {
	return ep.Publish(Event{
		Type:         EventTypeWriteExecuted,
		Source:       "remote",
		BatchID:      batchID,
		ResourceType: resourceType,
		Message:      fmt.Sprintf("Remote %s on %s id=%d", operation, resourceType, resourceID),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"operation":   operation,
			"resource_id": resourceID,
		},
	})
}

// PublishWriteRefused publishes a refused write event.
func (ep *EventPublisher) PublishWriteRefused(resourceType, name, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeWriteRefused,
		Source:       "remote",
		ResourceType: resourceType,
		ResourceName: name,
		Message:      fmt.Sprintf("Write refused on %s/%s: %s", resourceType, name, reason),
		Level:        EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(resourceType, name string, fields []string) error {
	return ep.Publish(Event{
		Type:         EventTypeDriftDetected,
		Source:       "engine",
		ResourceType: resourceType,
		ResourceName: name,
		Message:      fmt.Sprintf("Drift detected on %s/%s (%d fields)", resourceType, name, len(fields)),
		Level:        EventLevelWarning,
		Data: map[string]interface{}{
			"fields": fields,
		},
	})
}

// PublishPolicyDenied publishes a policy denial event.
func (ep *EventPublisher) PublishPolicyDenied(resourceType, name, rule string) error {
	return ep.Publish(Event{
		Type:         EventTypePolicyDenied,
		Source:       "policy",
		ResourceType: resourceType,
		ResourceName: name,
		Message:      fmt.Sprintf("Policy denied write on %s/%s: %s", resourceType, name, rule),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"rule": rule,
		},
	})
}

// PublishRollbackPerformed publishes a rollback event.
func (ep *EventPublisher) PublishRollbackPerformed(batchID string, deleted, failed int) error {
	level := EventLevelWarning
	if failed > 0 {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypeRollbackPerformed,
		Source:  "engine",
		BatchID: batchID,
		Message: fmt.Sprintf("Batch %s rolled back (%d deleted, %d failed)", batchID, deleted, failed),
		Level:   level,
		Data: map[string]interface{}{
			"deleted": deleted,
			"failed":  failed,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flushInterval := ep.config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Drain whatever is still buffered before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

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

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByBatchID creates a filter that only allows events for a specific batch.
func FilterByBatchID(batchID string) EventFilter {
	return func(event Event) bool {
		return event.BatchID == batchID
	}
}

// FilterByResourceType creates a filter that only allows events for a specific resource type.
func FilterByResourceType(resourceType string) EventFilter {
	return func(event Event) bool {
		return event.ResourceType == resourceType
	}
}
