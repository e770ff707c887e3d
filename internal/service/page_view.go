package service

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nexus/internal/datasource"
	"nexus/internal/domain"
	"nexus/internal/embed"
	"nexus/internal/filterctx"
	"nexus/internal/filters"
	"nexus/internal/render"
)

// ─────────────────────────────────────────────────────────────
// Page View: one mounted page for one viewer
// ─────────────────────────────────────────────────────────────

// Events emitted by PageView.
const (
	EventWidgetState  = "widget:state"
	EventFiltersState = "filters:state"
	EventInputState   = "input:state"
)

// WidgetEvent is the payload of EventWidgetState.
type WidgetEvent struct {
	WidgetID string           `json:"widgetId"`
	State    datasource.State `json:"state"`
}

// FiltersEvent is the payload of EventFiltersState.
type FiltersEvent struct {
	WidgetID string           `json:"widgetId"`
	State    filters.Snapshot `json:"state"`
}

// InputEvent is the payload of EventInputState.
type InputEvent struct {
	WidgetID string                `json:"widgetId"`
	State    datasource.Submission `json:"state"`
}

// ViewOptions configures a mounted page.
type ViewOptions struct {
	Fetcher datasource.Fetcher
	// Session persists the filter context; nil keeps it in memory.
	Session filterctx.SessionStorage
	Viewer  domain.Viewer
	Theme   *embed.Theme
	Emitter EventEmitter
	// Concurrency bounds the initial parallel resolution. Zero means 8.
	Concurrency int
	// NoPolling disables refresh intervals (one-shot renders).
	NoPolling bool
}

// PageView owns the runtime state of a page: the filter context, one data
// resource per data widget, one state machine per filters header, and the
// refresh poller. Nothing it owns outlives Close.
type PageView struct {
	page     *domain.Page
	opts     ViewOptions
	store    *filterctx.Store
	resolver *datasource.Resolver
	poller   *datasource.Poller
	bridge   *embed.Bridge

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	widgets   map[string]domain.Widget
	resources map[string]*datasource.Resource
	machines  map[string]*filters.Machine
	inputs    map[string]datasource.Submission
	closed    bool

	guard       widgetGuard
	wg          sync.WaitGroup
	unsubscribe func()
}

// OpenView mounts page: it hydrates the filter context from the session,
// starts every filters header, resolves all data widgets concurrently and
// schedules refresh intervals. It returns once the initial resolution is
// done; individual failures are recorded as widget error states.
func OpenView(ctx context.Context, page *domain.Page, opts ViewOptions) (*PageView, error) {
	if opts.Session == nil {
		opts.Session = filterctx.NewMemorySession()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	store := filterctx.New(opts.Session)
	if err := store.Hydrate(ctx); err != nil {
		log.Printf("[view] hydrate filter context for %s: %v", page.ID, err)
	}

	vctx, cancel := context.WithCancel(context.Background())
	v := &PageView{
		page:      page,
		opts:      opts,
		store:     store,
		resolver:  datasource.NewResolver(opts.Fetcher, store),
		bridge:    embed.NewBridge(store),
		ctx:       vctx,
		cancel:    cancel,
		widgets:   make(map[string]domain.Widget),
		resources: make(map[string]*datasource.Resource),
		machines:  make(map[string]*filters.Machine),
		inputs:    make(map[string]datasource.Submission),
	}
	if !opts.NoPolling {
		v.poller = datasource.NewPoller()
	}

	page.Document.Walk(func(w domain.Widget, _ int) {
		switch {
		case w.Type.UsesData():
			v.mountData(w)
		case w.Type == domain.WidgetFiltersHeader:
			v.mountFilters(w)
		case w.Type == domain.WidgetInput:
			v.widgets[w.ID] = w
		}
	})
	v.unsubscribe = store.Subscribe(v.onFilterContext)

	for _, m := range v.machines {
		m.Start()
	}

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, r := range v.resourceList() {
		g.Go(func() error {
			r.Load(mergeCancel(ctx, vctx))
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("[view] opened %s: %d data widgets, %d filters headers", page.ID, len(v.resources), len(v.machines))
	return v, nil
}

func (v *PageView) mountData(w domain.Widget) {
	r := datasource.NewResource(w.ID, func(ctx context.Context) (*datasource.Result, error) {
		return v.resolver.Resolve(ctx, w, v.page.Ref(), v.opts.Viewer)
	}, v.onWidgetState)
	v.widgets[w.ID] = w
	v.resources[w.ID] = r

	if v.poller == nil {
		return
	}
	var ds domain.DataSettings
	if err := domain.DecodeSettings(w.Settings, &ds); err != nil || ds.RefreshInterval <= 0 {
		return
	}
	id := w.ID
	if err := v.poller.Schedule(id, ds.RefreshInterval, func() { v.Refresh(id) }); err != nil {
		log.Printf("[view] schedule refresh for %s: %v", id, err)
	}
}

func (v *PageView) mountFilters(w domain.Widget) {
	cfg, err := filters.ParseConfig(w.Settings)
	if err != nil {
		log.Printf("[view] filters header %s: %v", w.ID, err)
		return
	}
	if err := cfg.Problems(); err != nil {
		log.Printf("[view] filters header %s: %v", w.ID, err)
	}
	m := filters.New(cfg, filters.Env{
		Fetcher:  v.opts.Fetcher,
		Store:    v.store,
		Location: viewerLocation(v.opts.Viewer),
		Context:  contextParams(v.page, v.opts.Viewer),
	})
	id := w.ID
	m.OnChange(func(s filters.Snapshot) {
		v.emit(EventFiltersState, FiltersEvent{WidgetID: id, State: s})
	})
	v.widgets[id] = w
	v.machines[id] = m
}

// ── Data ───────────────────────────────────────────────────

// Refresh re-resolves one data widget. It reports false when the widget is
// unknown, the view is closed, or a refresh for it is already in flight.
func (v *PageView) Refresh(widgetID string) bool {
	v.mu.Lock()
	r, ok := v.resources[widgetID]
	closed := v.closed
	v.mu.Unlock()
	if !ok || closed {
		return false
	}
	key := guardKey("refresh", widgetID)
	if !v.guard.TryLock(key) {
		log.Printf("[view] refresh %s skipped: already running", widgetID)
		return false
	}
	defer v.guard.Unlock(key)
	r.Load(v.ctx)
	return true
}

// State returns a data widget's current state.
func (v *PageView) State(widgetID string) (datasource.State, bool) {
	v.mu.Lock()
	r, ok := v.resources[widgetID]
	v.mu.Unlock()
	if !ok {
		return datasource.State{}, false
	}
	return r.State(), true
}

func (v *PageView) onWidgetState(id string, s datasource.State) {
	if s.Status == datasource.StatusError {
		log.Printf("[view] widget %s: %s", id, s.Error)
	}
	v.emit(EventWidgetState, WidgetEvent{WidgetID: id, State: s})
}

// onFilterContext re-resolves widgets that depend on what changed: data
// URLs with filter placeholders on filter changes, shared-result widgets on
// result changes. A newer load supersedes one still in flight.
func (v *PageView) onFilterContext(c filterctx.Change) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	var stale []*datasource.Resource
	for id, r := range v.resources {
		w := v.widgets[id]
		url := w.Settings.String("dataUrl")
		switch {
		case url != "" && c.Filters && datasource.HasPlaceholders(url):
			stale = append(stale, r)
		case url == "" && c.Results && w.Settings.Bool("useFilterResult"):
			stale = append(stale, r)
		}
	}
	v.wg.Add(len(stale))
	v.mu.Unlock()

	for _, r := range stale {
		go func() {
			defer v.wg.Done()
			r.Load(v.ctx)
		}()
	}
}

func (v *PageView) resourceList() []*datasource.Resource {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*datasource.Resource, 0, len(v.resources))
	for _, r := range v.resources {
		out = append(out, r)
	}
	return out
}

// ── Inputs ─────────────────────────────────────────────────

// SubmitInput posts value for an input widget and records the outcome as the
// widget's submission state. Failures are part of the returned state. While
// a submit of the same widget is in flight it returns a loading state
// without posting.
func (v *PageView) SubmitInput(ctx context.Context, widgetID string, value any) datasource.Submission {
	v.mu.Lock()
	w, ok := v.widgets[widgetID]
	closed := v.closed
	v.mu.Unlock()
	if !ok || w.Type != domain.WidgetInput {
		return datasource.Submission{Status: datasource.StatusError, Error: "unknown input widget " + widgetID}
	}
	if closed {
		return datasource.Submission{Status: datasource.StatusError, Error: "view is closed"}
	}
	key := guardKey("submit", widgetID)
	if !v.guard.TryLock(key) {
		return datasource.Submission{Status: datasource.StatusLoading}
	}
	defer v.guard.Unlock(key)

	v.mu.Lock()
	v.inputs[widgetID] = datasource.Submission{Status: datasource.StatusLoading}
	v.mu.Unlock()

	sub := v.resolver.Submit(mergeCancel(ctx, v.ctx), w, v.page.Ref(), v.opts.Viewer, value)
	if sub.Status == datasource.StatusError {
		log.Printf("[view] input %s: %s", widgetID, sub.Error)
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return sub
	}
	v.inputs[widgetID] = sub
	v.mu.Unlock()
	v.emit(EventInputState, InputEvent{WidgetID: widgetID, State: sub})
	return sub
}

// Submission returns an input widget's last submission state.
func (v *PageView) Submission(widgetID string) (datasource.Submission, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.inputs[widgetID]
	return s, ok
}

// ── Filters ────────────────────────────────────────────────

// Filters returns the state machine of a filters header widget.
func (v *PageView) Filters(widgetID string) (*filters.Machine, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.machines[widgetID]
	return m, ok
}

// FilterContext returns the page-view scoped filter store.
func (v *PageView) FilterContext() *filterctx.Store {
	return v.store
}

// Bridge returns the cross-frame bridge for embedded html/iframe widgets.
func (v *PageView) Bridge() *embed.Bridge {
	return v.bridge
}

// ── Rendering ──────────────────────────────────────────────

// Render produces the output tree of the page with current states.
func (v *PageView) Render() *render.Node {
	r := render.New(render.Env{
		Data: v.State,
		Filters: func(id string) (filters.Snapshot, bool) {
			m, ok := v.Filters(id)
			if !ok {
				return filters.Snapshot{}, false
			}
			return m.Snapshot(), true
		},
		Input:  v.Submission,
		Height: v.bridge.Height,
		Theme:  v.opts.Theme,
		Locale: v.opts.Viewer.Locale,
	})
	return r.Document(v.page.Document)
}

// Wait blocks until background re-resolutions and filter requests settle.
func (v *PageView) Wait() {
	v.wg.Wait()
	v.mu.Lock()
	machines := make([]*filters.Machine, 0, len(v.machines))
	for _, m := range v.machines {
		machines = append(machines, m)
	}
	v.mu.Unlock()
	for _, m := range machines {
		m.Wait()
	}
	v.wg.Wait()
}

// Close unmounts the view: pending timers, pollers and in-flight requests are
// cancelled and their late results dropped.
func (v *PageView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.unsubscribe()
	v.cancel()
	if v.poller != nil {
		v.poller.Stop()
	}
	for _, m := range v.machines {
		m.Close()
	}
	for _, r := range v.resources {
		r.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v.guard.WaitAll(ctx)
	v.wg.Wait()
	log.Printf("[view] closed %s", v.page.ID)
}

func (v *PageView) emit(event string, data any) {
	if v.opts.Emitter != nil {
		v.opts.Emitter.Emit(v.ctx, event, data)
	}
}

// ── helpers ────────────────────────────────────────────────

func viewerLocation(viewer domain.Viewer) *time.Location {
	if viewer.Timezone != "" {
		if loc, err := time.LoadLocation(viewer.Timezone); err == nil {
			return loc
		}
	}
	return time.Local
}

func contextParams(p *domain.Page, viewer domain.Viewer) map[string]string {
	params := map[string]string{"pageId": p.ID}
	if viewer.User != nil {
		params["userId"] = viewer.User.ID
	}
	if viewer.Tenant != nil {
		params["tenantId"] = viewer.Tenant.ID
	}
	return params
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(a, b context.Context) context.Context {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	context.AfterFunc(ctx, func() { stop() })
	return ctx
}
