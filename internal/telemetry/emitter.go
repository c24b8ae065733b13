// Package telemetry records operational events emitted by the game core.
package telemetry

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Event is a single operational telemetry record.
type Event struct {
	Name      string
	Severity  Severity
	Timestamp time.Time
	Attrs     map[string]string
}

// Sink receives telemetry events.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

// Emitter records operational telemetry events.
type Emitter struct {
	sink  Sink
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink, clock: time.Now}
}

// Emit records a telemetry event. It is a no-op when the sink is nil.
func (e *Emitter) Emit(ctx context.Context, evt Event) error {
	if e == nil || e.sink == nil {
		return nil
	}
	if evt.Severity == "" {
		evt.Severity = SeverityInfo
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	return e.sink.Record(ctx, evt)
}

// LogSink writes telemetry events to the process log.
type LogSink struct{}

// Record implements Sink.
func (LogSink) Record(_ context.Context, evt Event) error {
	keys := make([]string, 0, len(evt.Attrs))
	for k := range evt.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(evt.Attrs[k])
	}
	log.Printf("telemetry %s %s%s", evt.Severity, evt.Name, sb.String())
	return nil
}
