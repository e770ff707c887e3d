package datasource

import (
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Poller re-runs widget loads on their refresh interval. Ticks that fire
// while the previous run of the same widget is still going are skipped.
type Poller struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

// NewPoller creates an idle poller.
func NewPoller() *Poller {
	logger := cron.PrintfLogger(log.Default())
	return &Poller{
		cron:    cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule runs fn every intervalSeconds for the widget. An interval of 0 or
// less means manual refresh only and removes any existing schedule.
func (p *Poller) Schedule(widgetID string, intervalSeconds int, fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.entries[widgetID]; ok {
		p.cron.Remove(id)
		delete(p.entries, widgetID)
	}
	if intervalSeconds <= 0 {
		return nil
	}
	id, err := p.cron.AddFunc(fmt.Sprintf("@every %ds", intervalSeconds), fn)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", widgetID, err)
	}
	p.entries[widgetID] = id
	if !p.started {
		p.cron.Start()
		p.started = true
	}
	return nil
}

// Cancel removes a widget's schedule.
func (p *Poller) Cancel(widgetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.entries[widgetID]; ok {
		p.cron.Remove(id)
		delete(p.entries, widgetID)
	}
}

// Scheduled reports how many widgets currently poll.
func (p *Poller) Scheduled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Stop cancels every schedule and waits for running jobs to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	for w, id := range p.entries {
		p.cron.Remove(id)
		delete(p.entries, w)
	}
	started := p.started
	p.started = false
	p.mu.Unlock()
	if started {
		<-p.cron.Stop().Done()
	}
}
