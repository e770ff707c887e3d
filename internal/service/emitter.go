package service

import (
	"context"
	"log"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from the surface that listens
// ─────────────────────────────────────────────────────────────

// EventEmitter publishes service events to whatever surface is attached
// (MCP notifications, CLI logs). Services receive this interface, which
// makes them independently testable with a mock emitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes every event to the standard logger.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	log.Printf("[event] %s %+v", event, data)
}

// FanoutEmitter forwards events to every registered listener.
type FanoutEmitter struct {
	mu        sync.RWMutex
	listeners []EventEmitter
}

func (f *FanoutEmitter) Add(e EventEmitter) {
	f.mu.Lock()
	f.listeners = append(f.listeners, e)
	f.mu.Unlock()
}

func (f *FanoutEmitter) Emit(ctx context.Context, event string, data any) {
	f.mu.RLock()
	listeners := append([]EventEmitter(nil), f.listeners...)
	f.mu.RUnlock()
	for _, l := range listeners {
		l.Emit(ctx, event, data)
	}
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
