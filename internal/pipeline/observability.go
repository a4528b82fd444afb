package pipeline

import (
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Logger is the minimal logging surface.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Observer receives structured events as runs progress.
type Observer interface {
	Logger

	// Event emits a structured event.
	Event(event Event)

	// WithFields returns an Observer that adds fields to every event.
	WithFields(fields map[string]string) Observer
}

// Event is a structured pipeline event.
type Event struct {
	Type      EventType
	RunID     string
	Step      string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// EventType names a pipeline event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunSucceeded EventType = "run.succeeded"
	EventRunFailed    EventType = "run.failed"
	EventRunRejected  EventType = "run.rejected"
	EventRunAborted   EventType = "run.aborted"

	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageFailed    EventType = "stage.failed"

	EventGatePending  EventType = "gate.pending"
	EventGateApproved EventType = "gate.approved"
	EventGateRejected EventType = "gate.rejected"
)

// ConsoleObserver writes events through the standard log package.
type ConsoleObserver struct {
	contextFields map[string]string
}

// NewConsoleObserver creates a console observer.
func NewConsoleObserver() *ConsoleObserver {
	return &ConsoleObserver{contextFields: make(map[string]string)}
}

// Printf implements Logger.
func (o *ConsoleObserver) Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}

// Event implements Observer.
func (o *ConsoleObserver) Event(event Event) {
	log.Print(formatEvent(withContext(event, o.contextFields)))
}

// WithFields implements Observer.
func (o *ConsoleObserver) WithFields(fields map[string]string) Observer {
	merged := make(map[string]string, len(o.contextFields)+len(fields))
	maps.Copy(merged, o.contextFields)
	maps.Copy(merged, fields)
	return &ConsoleObserver{contextFields: merged}
}

// LogrObserver forwards events to a logr.Logger as key/value pairs.
type LogrObserver struct {
	logger logr.Logger
}

// NewLogrObserver wraps a logr logger.
func NewLogrObserver(logger logr.Logger) *LogrObserver {
	return &LogrObserver{logger: logger}
}

// Printf implements Logger.
func (o *LogrObserver) Printf(format string, v ...interface{}) {
	o.logger.Info(fmt.Sprintf(format, v...))
}

// Event implements Observer. Failure events are logged at error level.
func (o *LogrObserver) Event(event Event) {
	kv := []any{"event", string(event.Type)}
	if event.RunID != "" {
		kv = append(kv, "run", event.RunID)
	}
	if event.Step != "" {
		kv = append(kv, "step", event.Step)
	}
	for _, k := range slices.Sorted(maps.Keys(event.Fields)) {
		kv = append(kv, k, event.Fields[k])
	}

	switch event.Type {
	case EventStageFailed, EventRunFailed:
		o.logger.Error(nil, event.Message, kv...)
	default:
		o.logger.Info(event.Message, kv...)
	}
}

// WithFields implements Observer.
func (o *LogrObserver) WithFields(fields map[string]string) Observer {
	kv := make([]any, 0, len(fields)*2)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		kv = append(kv, k, fields[k])
	}
	return &LogrObserver{logger: o.logger.WithValues(kv...)}
}

func withContext(event Event, contextFields map[string]string) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Fields == nil {
		event.Fields = make(map[string]string)
	}
	for k, v := range contextFields {
		if _, exists := event.Fields[k]; !exists {
			event.Fields[k] = v
		}
	}
	return event
}

// formatEvent renders an event as a single console line.
func formatEvent(event Event) string {
	parts := []string{string(event.Type)}
	if event.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", event.RunID))
	}
	if event.Step != "" {
		parts = append(parts, fmt.Sprintf("[%s]", event.Step))
	}
	parts = append(parts, event.Message)

	if len(event.Fields) > 0 {
		fieldParts := make([]string, 0, len(event.Fields))
		for _, k := range slices.Sorted(maps.Keys(event.Fields)) {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%s", k, event.Fields[k]))
		}
		parts = append(parts, fmt.Sprintf("(%s)", strings.Join(fieldParts, ", ")))
	}
	return strings.Join(parts, " ")
}

// nopObserver drops everything.
type nopObserver struct{}

func (nopObserver) Printf(string, ...interface{})           {}
func (nopObserver) Event(Event)                             {}
func (n nopObserver) WithFields(map[string]string) Observer { return n }
