package service_test

import (
	"context"
	"testing"
	"time"

	"nexus/internal/service"
)

// ─────────────────────────────────────────────────────────────
// widgetGuard tests
// ─────────────────────────────────────────────────────────────

func TestWidgetGuard_TryLock(t *testing.T) {
	var g service.ExportedWidgetGuard

	if !g.TryLock("refresh:w1") {
		t.Fatal("first claim should succeed")
	}
	if g.TryLock("refresh:w1") {
		t.Fatal("second refresh of the same widget should be refused")
	}
	if !g.TryLock("submit:w1") {
		t.Fatal("a submit should not wait for a refresh")
	}
	if !g.Busy("submit:w1") {
		t.Fatal("submit:w1 should be busy")
	}
	g.Unlock("refresh:w1")
	g.Unlock("submit:w1")

	if !g.TryLock("refresh:w1") {
		t.Fatal("claim should succeed after unlock")
	}
	g.Unlock("refresh:w1")
}

func TestWidgetGuard_WaitAll(t *testing.T) {
	var g service.ExportedWidgetGuard

	if !g.TryLock("refresh:kpi") {
		t.Fatal("expected lock to succeed")
	}

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		g.WaitAll(ctx)
		close(done)
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Unlock("refresh:kpi")
	}()

	select {
	case <-done:
		// success
	case <-time.After(1 * time.Second):
		t.Fatal("WaitAll timed out")
	}
}

// ─────────────────────────────────────────────────────────────
// MockEmitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "test:event", map[string]string{"foo": "bar"})
	m.Emit(ctx, "test:event2", nil)

	if len(m.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(m.Events))
	}
	if m.Events[0].Event != "test:event" {
		t.Errorf("expected 'test:event', got %q", m.Events[0].Event)
	}
}

func TestMockEmitter_Named(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "a", "first")
	m.Emit(ctx, "b", "second")
	m.Emit(ctx, "a", "third")

	got := m.Named("a")
	if len(got) != 2 || got[1].Data != "third" {
		t.Errorf("Named(a) = %+v", got)
	}
}

func TestFanoutEmitter(t *testing.T) {
	var f service.FanoutEmitter
	a, b := &service.MockEmitter{}, &service.MockEmitter{}
	f.Add(a)
	f.Add(b)

	f.Emit(context.Background(), "page:changed", nil)

	if len(a.Events) != 1 || len(b.Events) != 1 {
		t.Errorf("fanout delivered %d/%d events", len(a.Events), len(b.Events))
	}
}
