package common

import (
	"context"
	"fmt"
)

// EventSink replaces ad-hoc logging callbacks with a single structured
// emission point, per the "ad-hoc callbacks for logging → structured event
// sink" design note. Event names are the stable codes listed in
// SPEC_FULL.md §12 (orphan_s3_object, job_claimed, and so on) — they are
// safe to use as metric labels even though this core never emits metrics
// itself.
type EventSink interface {
	Emit(ctx context.Context, name string, fields map[string]any)
}

// LoggingEventSink is the default EventSink: one structured log line per
// event, via the same Logger every other component uses.
type LoggingEventSink struct {
	Logger *Logger
}

// NewLoggingEventSink returns a LoggingEventSink backed by logger.
func NewLoggingEventSink(logger *Logger) *LoggingEventSink {
	return &LoggingEventSink{Logger: logger}
}

func (s *LoggingEventSink) Emit(_ context.Context, name string, fields map[string]any) {
	evt := s.Logger.Info().Str("event", name)
	for k, v := range fields {
		evt = evt.Str(k, fmt.Sprintf("%v", v))
	}
	evt.Msg("event")
}

// Broadcaster is the subset of the job event hub an EventSink needs. It is
// declared here, not imported from jobmanager, so common stays leaf-level
// in the package graph.
type Broadcaster interface {
	BroadcastEvent(name string, fields map[string]any)
}

// BroadcastEventSink wraps another EventSink and additionally fans every
// event out to a Broadcaster (the admin WebSocket hub).
type BroadcastEventSink struct {
	Inner       EventSink
	Broadcaster Broadcaster
}

// NewBroadcastEventSink returns a BroadcastEventSink.
func NewBroadcastEventSink(inner EventSink, b Broadcaster) *BroadcastEventSink {
	return &BroadcastEventSink{Inner: inner, Broadcaster: b}
}

func (s *BroadcastEventSink) Emit(ctx context.Context, name string, fields map[string]any) {
	s.Inner.Emit(ctx, name, fields)
	if s.Broadcaster != nil {
		s.Broadcaster.BroadcastEvent(name, fields)
	}
}
