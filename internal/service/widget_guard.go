package service

import (
	"context"
	"sync"
)

// ExportedWidgetGuard lets _test packages exercise the guard.
type ExportedWidgetGuard = widgetGuard

// ─────────────────────────────────────────────────────────────
// widgetGuard: one in-flight operation per widget
// ─────────────────────────────────────────────────────────────

// widgetGuard keeps a widget from running the same operation twice at once.
// Keys are "<op>:<widgetID>", so a refresh and a submit never block each
// other. Scheduled and manual refreshes of one widget share a key.
type widgetGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

func guardKey(op, widgetID string) string { return op + ":" + widgetID }

// TryLock claims key. It returns false while a previous claim is held.
func (g *widgetGuard) TryLock(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == nil {
		g.inFlight = make(map[string]struct{})
	}
	if _, ok := g.inFlight[key]; ok {
		return false
	}
	g.inFlight[key] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock releases a key claimed by TryLock.
func (g *widgetGuard) Unlock(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
	g.wg.Done()
}

// Busy reports whether key is claimed.
func (g *widgetGuard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[key]
	return ok
}

// WaitAll blocks until every claimed widget operation is released or ctx
// is done. Close uses it to let late loads land in closed resources.
func (g *widgetGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
