package filters

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"nexus/internal/datasource"
	"nexus/internal/filterctx"
)

// Phase is the apply cycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseLoading    Phase = "loading"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnknownField = errors.New("unknown field")
	ErrLocked       = errors.New("field is locked")
	ErrClosed       = errors.New("filters closed")
)

// Publisher receives the outcome of a successful apply.
type Publisher interface {
	SetFilters(next map[string]any)
	SetFilterResults(items []filterctx.Item)
}

// Env carries the machine's collaborators.
type Env struct {
	Fetcher  datasource.Fetcher
	Store    Publisher
	Location *time.Location
	Now      func() time.Time
	// Context is sent as extra query parameters when the config enables it.
	Context map[string]string
}

// InputKind is how a field is presented.
type InputKind string

const (
	InputSelect   InputKind = "select"
	InputText     InputKind = "text"
	InputNumber   InputKind = "number"
	InputCheckbox InputKind = "checkbox"
)

// FieldView is the presentation of one field.
type FieldView struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Input       InputKind `json:"input"`
	Value       string    `json:"value"`
	Options     []Option  `json:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Disabled    bool      `json:"disabled"`
	Locked      bool      `json:"locked"`
	Loading     bool      `json:"loading"`
	Error       string    `json:"error,omitempty"`
}

// Snapshot is the observable machine state.
type Snapshot struct {
	Phase       Phase            `json:"phase"`
	Period      Period           `json:"period"`
	CustomFrom  string           `json:"customFrom,omitempty"`
	CustomTo    string           `json:"customTo,omitempty"`
	ShowPeriod  bool             `json:"showPeriod"`
	AutoApply   bool             `json:"autoApply"`
	Fields      []FieldView      `json:"fields"`
	Error       string           `json:"error,omitempty"`
	ConfigError string           `json:"configError,omitempty"`
	AppliedAt   time.Time        `json:"appliedAt,omitempty"`
	Payment     *PaymentSnapshot `json:"payment,omitempty"`
	// PaymentError is shown next to the payment dialog only.
	PaymentError string `json:"paymentError,omitempty"`
}

type fieldState struct {
	value   string
	locked  bool
	options []Option
	// parent is the dependency value options were requested for.
	parent    string
	requested bool
	loaded    bool
	loading   bool
	err       string
	seq       uint64
}

// Machine drives one filters header: dependent option loading, validation,
// debounced auto-apply and the apply request. Async work runs on goroutines
// tracked by Wait; Close cancels it and suppresses late updates.
type Machine struct {
	mu     sync.Mutex
	cfg    Config
	env    Env
	fields map[string]*fieldState
	block  map[string][]Option

	preset     Preset
	customFrom string
	customTo   string

	phase     Phase
	err       string
	appliedAt time.Time
	applySeq  uint64
	payment   *Payment

	debouncer   *Debouncer
	autoPending bool

	listeners []func(Snapshot)

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates a machine for cfg.
func New(cfg Config, env Env) *Machine {
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.Location == nil {
		env.Location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:    cfg,
		env:    env,
		fields: make(map[string]*fieldState, len(cfg.Fields)),
		preset: cfg.DefaultPreset,
		phase:  PhaseIdle,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, f := range cfg.Fields {
		st := &fieldState{}
		if len(f.Options) > 0 {
			st.options = ParseOptions(f.Options)
			st.loaded = true
		}
		m.fields[f.Key] = st
	}
	m.debouncer = NewDebouncer(time.Duration(cfg.DebounceMs)*time.Millisecond, m.fireAuto)
	return m
}

// Start loads options for fields that do not depend on another field and,
// in auto-apply mode, schedules the first apply.
func (m *Machine) Start() {
	for _, f := range m.cfg.Fields {
		if f.DependsOn == "" && f.OptionsEndpoint != "" {
			m.loadOptions(f)
		}
	}
	if m.cfg.AutoApply {
		m.scheduleAuto()
	}
}

// OnChange registers a listener called after every state change.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// ── Inputs ─────────────────────────────────────────────────

// SetValue updates a field and cascades to its dependents: their values and
// options are cleared and, when the new value is non-empty, reloaded.
func (m *Machine) SetValue(key, value string) error {
	f, ok := m.cfg.field(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	st := m.fields[key]
	if st.locked {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLocked, key)
	}
	value = normalizeValue(f.Type, value)
	changed := st.value != value
	st.value = value
	m.toIdleLocked()
	var reload []Field
	if changed {
		reload = m.cascadeLocked(key)
	}
	m.mu.Unlock()

	for _, d := range reload {
		m.loadOptions(d)
	}
	m.emit()
	if changed && m.cfg.AutoApply {
		m.scheduleAuto()
	}
	return nil
}

// cascadeLocked clears the dependents of key recursively and returns the
// ones whose parent now has a value.
func (m *Machine) cascadeLocked(key string) []Field {
	var reload []Field
	parent := m.fields[key].value
	for _, d := range m.cfg.dependents(key) {
		st := m.fields[d.Key]
		st.value = ""
		st.locked = false
		st.options = nil
		st.loaded = false
		st.loading = false
		st.requested = false
		st.parent = ""
		st.err = ""
		st.seq++
		if parent != "" {
			reload = append(reload, d)
		}
		reload = append(reload, m.cascadeLocked(d.Key)...)
	}
	return reload
}

// SetPreset selects a period preset.
func (m *Machine) SetPreset(p Preset) error {
	switch p {
	case PresetToday, PresetYesterday, PresetLast7, PresetLast30, PresetCustom:
	default:
		return fmt.Errorf("%w: unknown preset %q", ErrPeriod, p)
	}
	m.mu.Lock()
	changed := m.preset != p
	m.preset = p
	m.toIdleLocked()
	m.mu.Unlock()
	m.emit()
	if changed && m.cfg.AutoApply {
		m.scheduleAuto()
	}
	return nil
}

// SetCustomRange sets the bounds used by the custom preset.
func (m *Machine) SetCustomRange(from, to string) {
	m.mu.Lock()
	m.customFrom, m.customTo = from, to
	m.toIdleLocked()
	custom := m.preset == PresetCustom
	m.mu.Unlock()
	m.emit()
	if custom && m.cfg.AutoApply {
		m.scheduleAuto()
	}
}

func (m *Machine) toIdleLocked() {
	if m.phase == PhaseSuccess || m.phase == PhaseError {
		m.phase = PhaseIdle
		m.err = ""
	}
}

func normalizeValue(t FieldType, v string) string {
	v = strings.TrimSpace(v)
	if t == FieldBoolean && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ""
		}
		return strconv.FormatBool(b)
	}
	return v
}

// ── Option loading ─────────────────────────────────────────

// loadOptions fetches a field's own options endpoint. A dependent field only
// fetches once its parent has a value, and at most once per distinct value.
func (m *Machine) loadOptions(f Field) {
	if f.OptionsEndpoint == "" {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	st := m.fields[f.Key]
	parent := ""
	if f.DependsOn != "" {
		parent = m.fields[f.DependsOn].value
		if parent == "" {
			m.mu.Unlock()
			return
		}
	}
	if st.requested && st.parent == parent {
		m.mu.Unlock()
		return
	}
	st.requested = true
	st.parent = parent
	st.loading = true
	st.err = ""
	st.seq++
	seq := st.seq
	m.wg.Add(1)
	m.mu.Unlock()

	target := f.OptionsEndpoint
	if f.DependsOn != "" {
		target = datasource.WithQuery(target, url.Values{f.DependencyParam(): {parent}})
	}

	go func() {
		defer m.wg.Done()
		resp, err := m.env.Fetcher.FetchJSON(m.ctx, http.MethodGet, target, nil)

		m.mu.Lock()
		if m.closed || st.seq != seq {
			m.mu.Unlock()
			return
		}
		st.loading = false
		if err != nil {
			st.err = err.Error()
			st.loaded = true
			log.Printf("[filters] options %s: %v", f.Key, err)
		} else {
			st.options = ParseOptions(resp)
			st.loaded = true
		}
		m.mu.Unlock()
		m.emit()
	}()
}

// ── Views ──────────────────────────────────────────────────

func (m *Machine) optionsLocked(f Field) []Option {
	st := m.fields[f.Key]
	if f.OptionsEndpoint != "" || len(f.Options) > 0 {
		return st.options
	}
	return m.block[f.Key]
}

// blockFreeTextLocked is true when, under the block policy, no list field in
// the form resolved any options.
func (m *Machine) blockFreeTextLocked() bool {
	if m.cfg.OptionsFallback != FallbackBlock {
		return false
	}
	for _, f := range m.cfg.Fields {
		if f.Type != FieldList {
			continue
		}
		if m.fields[f.Key].loading {
			return false
		}
		if len(m.optionsLocked(f)) > 0 {
			return false
		}
	}
	return true
}

func (m *Machine) viewLocked(f Field, blockText bool) FieldView {
	st := m.fields[f.Key]
	v := FieldView{
		Key:         f.Key,
		Label:       f.Label,
		Type:        f.Type,
		Value:       st.value,
		Placeholder: f.Placeholder,
		Locked:      st.locked,
		Disabled:    st.locked,
		Loading:     st.loading,
		Error:       st.err,
	}
	switch f.Type {
	case FieldNumber:
		v.Input = InputNumber
		return v
	case FieldBoolean:
		v.Input = InputCheckbox
		return v
	case FieldText:
		v.Input = InputText
		return v
	}

	waiting := f.DependsOn != "" && m.fields[f.DependsOn].value == ""
	opts := m.optionsLocked(f)
	switch {
	case len(opts) > 0:
		v.Input = InputSelect
		v.Options = opts
	case st.loading:
		v.Input = InputSelect
	case waiting:
		v.Input = InputSelect
		v.Disabled = true
	case m.cfg.OptionsFallback == FallbackField:
		v.Input = InputText
	case blockText:
		v.Input = InputText
	default:
		v.Input = InputSelect
	}
	return v
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	period, perr := ResolvePeriod(m.preset, m.env.Now(), m.env.Location, m.customFrom, m.customTo)
	if perr != nil {
		period = Period{Preset: m.preset}
	}
	s := Snapshot{
		Phase:      m.phase,
		Period:     period,
		CustomFrom: m.customFrom,
		CustomTo:   m.customTo,
		ShowPeriod: m.cfg.ShowPeriod,
		AutoApply:  m.cfg.AutoApply,
		Error:      m.err,
		AppliedAt:  m.appliedAt,
	}
	if err := m.cfg.Problems(); err != nil {
		s.ConfigError = err.Error()
	}
	if err := m.cfg.PaymentProblem(); err != nil {
		s.PaymentError = err.Error()
	}
	blockText := m.blockFreeTextLocked()
	for _, f := range m.cfg.Fields {
		s.Fields = append(s.Fields, m.viewLocked(f, blockText))
	}
	if m.payment != nil {
		ps := m.payment.Snapshot()
		s.Payment = &ps
	}
	return s
}

// Field returns one field's view.
func (m *Machine) Field(key string) (FieldView, bool) {
	f, ok := m.cfg.field(key)
	if !ok {
		return FieldView{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked(f, m.blockFreeTextLocked()), true
}

// Payment returns the open payment, if any.
func (m *Machine) Payment() *Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payment
}

func (m *Machine) emit() {
	m.mu.Lock()
	if m.closed || len(m.listeners) == 0 {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	fns := append([]func(Snapshot){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// ── Validation & apply ─────────────────────────────────────

// validateLocked checks that the form can be applied: the config is usable,
// every list field has a value and the period resolves.
func (m *Machine) validateLocked() (Period, error) {
	if err := m.cfg.Problems(); err != nil {
		return Period{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var missing []string
	for _, f := range m.cfg.Fields {
		if f.Type == FieldList && m.fields[f.Key].value == "" {
			missing = append(missing, f.Label)
		}
	}
	if len(missing) > 0 {
		return Period{}, fmt.Errorf("%w: fill in %s", ErrValidation, strings.Join(missing, ", "))
	}
	period, err := ResolvePeriod(m.preset, m.env.Now(), m.env.Location, m.customFrom, m.customTo)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return period, nil
}

// Apply validates the form and starts the apply request. Validation failures
// are returned and also recorded as the error phase.
func (m *Machine) Apply() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.phase = PhaseValidating
	period, err := m.validateLocked()
	if err != nil {
		m.phase = PhaseError
		m.err = err.Error()
		m.mu.Unlock()
		m.emit()
		return err
	}
	m.startApplyLocked(period)
	m.mu.Unlock()
	m.emit()
	return nil
}

// autoReadyLocked reports whether an auto-apply may fire. Incomplete forms
// wait silently instead of surfacing a validation error.
func (m *Machine) autoReadyLocked() bool {
	for _, f := range m.cfg.Fields {
		v := m.fields[f.Key].value
		if v == "" && (f.Type == FieldList || m.cfg.AutoApplyRequireAll) {
			return false
		}
	}
	return true
}

func (m *Machine) scheduleAuto() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.autoPending {
		m.autoPending = true
		m.wg.Add(1)
	}
	m.mu.Unlock()
	m.debouncer.Trigger()
}

func (m *Machine) fireAuto() {
	m.mu.Lock()
	if !m.autoPending {
		m.mu.Unlock()
		return
	}
	m.autoPending = false
	defer m.wg.Done()

	if m.closed || !m.autoReadyLocked() {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseValidating
	period, err := m.validateLocked()
	if err != nil {
		m.phase = PhaseError
		m.err = err.Error()
		m.mu.Unlock()
		m.emit()
		return
	}
	m.startApplyLocked(period)
	m.mu.Unlock()
	m.emit()
}

func (m *Machine) startApplyLocked(period Period) {
	m.phase = PhaseLoading
	m.err = ""
	m.applySeq++
	seq := m.applySeq

	values := make(map[string]string, len(m.fields))
	for _, f := range m.cfg.Fields {
		values[f.Key] = m.fields[f.Key].value
	}
	q := url.Values{}
	q.Set("preset", string(period.Preset))
	q.Set("from", period.From)
	q.Set("to", period.To)
	for _, f := range m.cfg.Fields {
		q.Set(f.Key, values[f.Key])
	}
	if m.cfg.SendContext {
		for k, v := range m.env.Context {
			if q.Get(k) == "" {
				q.Set(k, v)
			}
		}
	}
	target := datasource.WithQuery(m.cfg.Endpoint, q)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		resp, err := m.env.Fetcher.FetchJSON(m.ctx, http.MethodGet, target, nil)
		m.finishApply(seq, period, values, resp, err)
	}()
}

// finishApply runs the success pipeline: prefill empty fields, take block
// options, publish kpis as filter results, then publish the filter state.
// The published state pairs the results with the values that were sent, not
// with edits made while the request was in flight.
func (m *Machine) finishApply(seq uint64, period Period, values map[string]string, resp any, err error) {
	m.mu.Lock()
	if m.closed || seq != m.applySeq {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.phase = PhaseError
		m.err = err.Error()
		m.mu.Unlock()
		log.Printf("[filters] apply: %v", err)
		m.emit()
		return
	}

	var reload []Field
	for key, path := range m.cfg.Prefill {
		st, ok := m.fields[key]
		if !ok || st.value != "" {
			continue
		}
		v, found := datasource.Lookup(resp, path)
		if !found {
			continue
		}
		s := strings.TrimSpace(datasource.ScalarString(v))
		if s == "" {
			continue
		}
		st.value = s
		if values[key] == "" {
			values[key] = s
		}
		if f, _ := m.cfg.field(key); f.LockOnAutoFill {
			st.locked = true
		}
		reload = append(reload, m.cfg.dependents(key)...)
	}

	if opts := parseBlockOptions(resp); opts != nil {
		m.block = opts
	}

	items, hasItems := extractKPIs(resp, m.cfg.KPIsKey)
	state := m.filterState(period, values)

	if m.cfg.paymentEnabled() {
		m.payment = nil
		total, ok := parseTotal(m.lookupTotalLocked(resp))
		if ok {
			fields := make(map[string]any, len(state))
			for k, v := range state {
				fields[k] = v
			}
			m.payment = NewPayment(total, *m.cfg.Payment, m.env.Fetcher, fields, m.contextParams())
		}
	}

	m.phase = PhaseSuccess
	m.appliedAt = m.env.Now()
	store := m.env.Store
	m.mu.Unlock()

	for _, d := range reload {
		m.loadOptions(d)
	}
	if store != nil {
		if hasItems {
			store.SetFilterResults(items)
		}
		store.SetFilters(state)
	}
	m.emit()
}

// lookupTotalLocked prefers the form value of the total field, then the
// response.
func (m *Machine) lookupTotalLocked(resp any) any {
	key := m.cfg.Payment.TotalField
	if st, ok := m.fields[key]; ok && st.value != "" {
		return st.value
	}
	v, _ := datasource.Lookup(resp, key)
	return v
}

func (m *Machine) contextParams() map[string]string {
	if !m.cfg.SendContext {
		return nil
	}
	return m.env.Context
}

// filterState is the full state published to the filter context.
func (m *Machine) filterState(period Period, values map[string]string) map[string]any {
	state := map[string]any{
		"preset": string(period.Preset),
		"from":   period.From,
		"to":     period.To,
	}
	for _, f := range m.cfg.Fields {
		v := values[f.Key]
		switch {
		case v == "":
			state[f.Key] = nil
		case f.Type == FieldNumber:
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				state[f.Key] = n
			} else {
				state[f.Key] = v
			}
		case f.Type == FieldBoolean:
			state[f.Key] = v == "true"
		default:
			state[f.Key] = v
		}
	}
	return state
}

// extractKPIs reads the named result list of a response. A bare array
// response is taken as the list itself.
func extractKPIs(resp any, key string) ([]filterctx.Item, bool) {
	var raw []any
	switch v := resp.(type) {
	case []any:
		raw = v
	case map[string]any:
		arr, ok := v[key].([]any)
		if !ok {
			return nil, false
		}
		raw = arr
	default:
		return nil, false
	}
	items := make([]filterctx.Item, 0, len(raw))
	for _, r := range raw {
		obj, ok := r.(map[string]any)
		if !ok {
			continue
		}
		label := datasource.ScalarString(obj["label"])
		if label == "" {
			continue
		}
		items = append(items, filterctx.Item{Label: label, Value: obj["value"]})
	}
	return items, true
}

// ── Lifecycle ──────────────────────────────────────────────

// Wait blocks until pending auto-applies and in-flight requests finish.
func (m *Machine) Wait() { m.wg.Wait() }

// Close cancels pending and in-flight work. Results that arrive afterwards
// are dropped.
func (m *Machine) Close() {
	m.debouncer.Cancel()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.autoPending {
		m.autoPending = false
		m.wg.Done()
	}
	m.mu.Unlock()
	m.cancel()
}
