package walker

import (
	"context"
	"log/slog"
	"sync"
)

// EventType classifies pipeline events for filtering and routing.
type EventType string

const (
	EventCompiled     EventType = "pipeline_compiled"
	EventStageCreated EventType = "stage_created"
	EventYield        EventType = "stage_yield"
	EventComplete     EventType = "pipeline_complete"
	EventStopped      EventType = "pipeline_stopped"
	EventError        EventType = "pipeline_error"
)

// Event is a single observation from compiling or running a pipeline.
type Event struct {
	Type     EventType
	Pipeline string
	Stage    string
	Index    int
	Element  Element
	Count    int
	Error    error
}

// Observer receives pipeline events. Observers run inline on the pipeline's
// goroutine and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// MultiObserver fans out events to multiple observers.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(e Event) {
	for _, obs := range m {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}

// LogObserver writes pipeline events as structured slog lines. Per-element
// events are logged at debug level only.
type LogObserver struct {
	Logger *slog.Logger
}

func (o *LogObserver) OnEvent(e Event) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []slog.Attr{slog.String("event", string(e.Type))}
	if e.Pipeline != "" {
		attrs = append(attrs, slog.String("pipeline", e.Pipeline))
	}
	if e.Stage != "" {
		attrs = append(attrs, slog.String("stage", e.Stage), slog.Int("index", e.Index))
	}

	switch e.Type {
	case EventYield:
		attrs = append(attrs, slog.String("element", e.Element.String()))
		logger.LogAttrs(context.Background(), slog.LevelDebug, "pipeline", attrs...)
	case EventError:
		attrs = append(attrs, slog.String("error", e.Error.Error()))
		logger.LogAttrs(context.Background(), slog.LevelWarn, "pipeline", attrs...)
	case EventComplete, EventStopped:
		attrs = append(attrs, slog.Int("count", e.Count))
		logger.LogAttrs(context.Background(), slog.LevelDebug, "pipeline", attrs...)
	default:
		logger.LogAttrs(context.Background(), slog.LevelDebug, "pipeline", attrs...)
	}
}

// TraceCollector accumulates events in memory for inspection in tests and
// diagnostics. Safe for concurrent use.
type TraceCollector struct {
	mu     sync.Mutex
	events []Event
}

func (t *TraceCollector) OnEvent(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

// Events returns a copy of all collected events.
func (t *TraceCollector) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// EventsOfType returns only events matching the given type.
func (t *TraceCollector) EventsOfType(typ EventType) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Event
	for _, e := range t.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears collected events.
func (t *TraceCollector) Reset() {
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
}

func emitEvent(obs Observer, e Event) {
	if obs != nil {
		obs.OnEvent(e)
	}
}
