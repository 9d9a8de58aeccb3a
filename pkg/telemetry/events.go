package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted during a deployment.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Site is the site the event relates to, if applicable.
	Site string `json:"site,omitempty"`

	// Environment is the target environment, if applicable.
	Environment string `json:"environment,omitempty"`

	// Step is the step key the event relates to, if applicable.
	Step string `json:"step,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific fields.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTypeDeployStarted     = "deploy.started"
	EventTypeDeployCompleted   = "deploy.completed"
	EventTypeDeployFailed      = "deploy.failed"
	EventTypeStepStarted       = "step.started"
	EventTypeStepCompleted     = "step.completed"
	EventTypeStepFailed        = "step.failed"
	EventTypeStepVerified      = "step.verified"
	EventTypeAcquisition       = "acquisition.completed"
	EventTypeCheckpointCreated = "checkpoint.created"
	EventTypeRollbackExecuted  = "rollback.executed"
	EventTypeRemediation       = "remediation.attempted"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSink receives events from the publisher's background goroutine.
type EventSink func(event Event)

// EventPublisher delivers events to sinks asynchronously. Publishing never
// blocks the caller: if the buffer is full the event is counted as dropped
// and discarded. Sink failures are swallowed. This is best-effort telemetry,
// never load-bearing state.
type EventPublisher struct {
	buffer  chan Event
	sinks   []EventSink
	mu      sync.RWMutex
	wg      sync.WaitGroup
	done    chan struct{}
	dropped uint64
	drMu    sync.Mutex
}

// NewEventPublisher creates a publisher and starts its delivery goroutine.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}

	p := &EventPublisher{
		buffer: make(chan Event, size),
		done:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.deliver()

	return p
}

// Subscribe registers a sink for all subsequent events.
func (p *EventPublisher) Subscribe(sink EventSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, sink)
}

// Publish enqueues an event without blocking. A zero ID or timestamp is
// filled in before delivery.
func (p *EventPublisher) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case p.buffer <- event:
	default:
		p.drMu.Lock()
		p.dropped++
		p.drMu.Unlock()
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (p *EventPublisher) Dropped() uint64 {
	p.drMu.Lock()
	defer p.drMu.Unlock()
	return p.dropped
}

// Close drains buffered events and stops the delivery goroutine.
func (p *EventPublisher) Close() {
	close(p.done)
	p.wg.Wait()
}

func (p *EventPublisher) deliver() {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.buffer:
			p.dispatch(event)
		case <-p.done:
			// Drain what is already buffered, then exit.
			for {
				select {
				case event := <-p.buffer:
					p.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) dispatch(event Event) {
	p.mu.RLock()
	sinks := make([]EventSink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.RUnlock()

	for _, sink := range sinks {
		func() {
			defer func() {
				// A panicking sink must not take down the delivery loop.
				_ = recover()
			}()
			sink(event)
		}()
	}
}
