package filterctx

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// SessionKey is the storage key the page's filter state is mirrored under.
const SessionKey = "nexus:filter-context"

// SessionStorage persists small blobs per viewer session. Get returns nil data
// and a nil error when the key is absent.
type SessionStorage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}

// Item is one named result published by a filters header.
type Item struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Blob is the serialized session state.
type Blob struct {
	Filters        map[string]any `json:"filters"`
	LastResultList []Item         `json:"lastResultList"`
}

// Change tells subscribers which half of the store moved.
type Change struct {
	Filters bool
	Results bool
}

// Store is the page-scoped filter context. Each page view owns one; nothing
// here is process-global.
type Store struct {
	mu      sync.RWMutex
	filters map[string]any
	results map[string]any
	list    []Item

	session SessionStorage
	timeout time.Duration

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

// New creates an empty store. session may be nil.
func New(session SessionStorage) *Store {
	return &Store{
		filters: map[string]any{},
		results: map[string]any{},
		session: session,
		timeout: 5 * time.Second,
		subs:    map[int]func(Change){},
	}
}

// Hydrate restores state from session storage. Missing or corrupt blobs
// leave the store empty.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	data, err := s.session.Get(ctx, SessionKey)
	if err != nil {
		return fmt.Errorf("load filter context: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		log.Printf("[filterctx] discarding unreadable session blob: %v", err)
		return nil
	}

	s.mu.Lock()
	s.filters = coerceAll(blob.Filters)
	s.list, s.results = index(blob.LastResultList)
	s.mu.Unlock()

	s.notify(Change{Filters: true, Results: true})
	return nil
}

// SetFilters replaces the filters map wholesale.
func (s *Store) SetFilters(next map[string]any) {
	s.mu.Lock()
	s.filters = coerceAll(next)
	s.mu.Unlock()
	s.persist()
	s.notify(Change{Filters: true})
}

// SetFilterResults rebuilds the results map from items. Duplicate labels keep
// the last value; the ordered list is kept as given.
func (s *Store) SetFilterResults(items []Item) {
	s.mu.Lock()
	s.list, s.results = index(items)
	s.mu.Unlock()
	s.persist()
	s.notify(Change{Results: true})
}

// Filters returns a copy of the current filters.
func (s *Store) Filters() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.filters))
	for k, v := range s.filters {
		out[k] = v
	}
	return out
}

// Filter returns one filter value.
func (s *Store) Filter(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.filters[key]
	return v, ok
}

// Result looks up a published result by label.
func (s *Store) Result(label string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.results[label]
	return v, ok
}

// Results returns the last published list in its original order.
func (s *Store) Results() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.list))
	copy(out, s.list)
	return out
}

// ResultList returns the ordered list as generic rows.
func (s *Store) ResultList() []map[string]any {
	items := s.Results()
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = map[string]any{"label": it.Label, "value": it.Value}
	}
	return out
}

// Labels returns the sorted set of result labels.
func (s *Store) Labels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := make([]string, 0, len(s.results))
	for k := range s.results {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Snapshot returns the state as it would be persisted.
func (s *Store) Snapshot() Blob {
	return Blob{Filters: s.Filters(), LastResultList: s.Results()}
}

// Subscribe registers fn for every change and returns its cancel function.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) persist() {
	if s.session == nil {
		return
	}
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		log.Printf("[filterctx] encode: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.session.Set(ctx, SessionKey, data); err != nil {
		log.Printf("[filterctx] persist: %v", err)
	}
}

func index(items []Item) ([]Item, map[string]any) {
	list := make([]Item, 0, len(items))
	results := make(map[string]any, len(items))
	for _, it := range items {
		list = append(list, it)
		results[it.Label] = it.Value
	}
	return list, results
}

func coerceAll(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = Coerce(v)
	}
	return out
}

// Coerce narrows a value to the filter value domain: string, float64, bool
// or nil. Anything else is stringified.
func Coerce(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// ── Session implementations ────────────────────────────────

// MemorySession is an in-process SessionStorage.
type MemorySession struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemorySession() *MemorySession {
	return &MemorySession{data: map[string][]byte{}}
}

func (m *MemorySession) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *MemorySession) Set(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}
