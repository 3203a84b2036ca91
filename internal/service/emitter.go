package service

import (
	"context"
	"log/slog"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter — decouples services from whoever listens to them
// ─────────────────────────────────────────────────────────────

// EventEmitter publishes service events such as job completions.
// The CLI logs them; tests record them with MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes every event to a structured logger.
type LogEmitter struct {
	Log *slog.Logger
}

func (e *LogEmitter) Emit(ctx context.Context, event string, data any) {
	if e.Log == nil {
		return
	}
	e.Log.InfoContext(ctx, "event", "name", event, "data", data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Named returns the recorded events with the given name.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
