package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the per-widget tri-state consumed by the renderer.
type Status string

const (
	StatusLoading Status = "loading"
	StatusError   Status = "error"
	StatusReady   Status = "ready"
)

// State is a snapshot of a resource. While a reload is in flight the previous
// Result is kept so the widget can keep showing stale data.
type State struct {
	Status    Status    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LoadFunc produces a widget's data.
type LoadFunc func(ctx context.Context) (*Result, error)

// Resource owns one widget's asynchronous data. Loads never return errors to
// the caller: failures become StatusError. Results that arrive after Close or
// after a newer Load started are discarded.
type Resource struct {
	mu       sync.Mutex
	id       string
	load     LoadFunc
	onChange func(id string, s State)
	state    State
	gen      uint64
	closed   bool
}

// NewResource creates a resource in the loading state.
func NewResource(id string, load LoadFunc, onChange func(id string, s State)) *Resource {
	return &Resource{id: id, load: load, onChange: onChange, state: State{Status: StatusLoading}}
}

func (r *Resource) ID() string { return r.id }

// State returns the current snapshot.
func (r *Resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Load runs the load function synchronously and records the outcome.
func (r *Resource) Load(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.gen++
	gen := r.gen
	r.state.Status = StatusLoading
	r.state.Err = nil
	r.state.Error = ""
	r.mu.Unlock()

	res, err := r.safeLoad(ctx)

	r.mu.Lock()
	if r.closed || gen != r.gen {
		r.mu.Unlock()
		return
	}
	next := State{UpdatedAt: time.Now()}
	if err != nil {
		next.Status = StatusError
		next.Err = err
		next.Error = err.Error()
		next.Result = r.state.Result
	} else {
		next.Status = StatusReady
		next.Result = res
	}
	r.state = next
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(r.id, next)
	}
}

func (r *Resource) safeLoad(ctx context.Context) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("load %s: %v", r.id, p)
		}
	}()
	return r.load(ctx)
}

// Close detaches the resource; later loads and in-flight results are ignored.
func (r *Resource) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
