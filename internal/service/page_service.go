package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"nexus/internal/domain"
	"nexus/internal/editor"
	"nexus/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Page Service: document lifecycle on top of the mutation engine
// ─────────────────────────────────────────────────────────────

// Events emitted by PageService.
const (
	EventPageChanged   = "page:changed"
	EventPagePublished = "page:published"
)

// PageEvent is the payload of page events.
type PageEvent struct {
	PageID  string `json:"pageId"`
	Label   string `json:"label"`
	Version int    `json:"version,omitempty"`
}

// History is the undo/redo log PageService records into.
type History interface {
	Push(ctx context.Context, pageID, label string, doc domain.Document) (*storage.HistoryNode, error)
	Current(ctx context.Context, pageID string) (*storage.HistoryNode, error)
	Undo(ctx context.Context, pageID string) (*storage.HistoryNode, error)
	Redo(ctx context.Context, pageID string) (*storage.HistoryNode, error)
	Clear(ctx context.Context, pageID string) error
}

// PageService loads, mutates, saves and publishes page documents.
type PageService struct {
	store   domain.DocumentStore
	history History
	emitter EventEmitter

	// Mutations are read-modify-write on a whole document.
	mu sync.Mutex
}

// NewPageService creates a PageService. history may be nil.
func NewPageService(store domain.DocumentStore, history History, emitter EventEmitter) *PageService {
	return &PageService{store: store, history: history, emitter: emitter}
}

// Create stores a new empty page.
func (s *PageService) Create(ctx context.Context, title, slug, tenantID string) (*domain.Page, error) {
	p := &domain.Page{Title: title, Slug: slug, TenantID: tenantID}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	s.record(ctx, p.ID, "create", p.Document)
	return p, nil
}

func (s *PageService) Get(ctx context.Context, pageID string) (*domain.Page, error) {
	return s.store.Load(ctx, pageID)
}

func (s *PageService) List(ctx context.Context, tenantID string) ([]domain.Page, error) {
	return s.store.List(ctx, tenantID)
}

// Save validates and stores p as the draft.
func (s *PageService) Save(ctx context.Context, p *domain.Page) error {
	if err := domain.Validate(p.Document); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	s.emit(ctx, EventPageChanged, PageEvent{PageID: p.ID, Label: "save"})
	return nil
}

// Mutate applies fn to the page's document. A result identical to the input
// is not saved and records no history. The new document must validate.
func (s *PageService) Mutate(ctx context.Context, pageID, label string, fn func(domain.Document) (domain.Document, error)) (*domain.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.Load(ctx, pageID)
	if err != nil {
		return nil, err
	}
	next, err := fn(p.Document)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	if sameDocument(p.Document, next) {
		return p, nil
	}
	if err := domain.Validate(next); err != nil {
		return nil, fmt.Errorf("%s: invalid document: %w", label, err)
	}

	s.ensureHistoryRoot(ctx, p)
	p.Document = next
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: save: %w", label, err)
	}
	s.record(ctx, p.ID, label, next)
	s.emit(ctx, EventPageChanged, PageEvent{PageID: p.ID, Label: label})
	return p, nil
}

// pure adapts an editor operation to Mutate.
func pure(op func(domain.Document) domain.Document) func(domain.Document) (domain.Document, error) {
	return func(d domain.Document) (domain.Document, error) { return op(d), nil }
}

// ── Editor operations ──────────────────────────────────────

func (s *PageService) AddSection(ctx context.Context, pageID string, widths ...int) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "add section", pure(func(d domain.Document) domain.Document {
		return editor.AddSection(d, widths...)
	}))
}

func (s *PageService) AddColumn(ctx context.Context, pageID string, addr domain.Address, width int) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "add column", pure(func(d domain.Document) domain.Document {
		return editor.AddColumn(d, addr, width)
	}))
}

func (s *PageService) AddWidget(ctx context.Context, pageID string, addr domain.Address, t domain.WidgetType) (*domain.Page, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownWidget, t)
	}
	return s.Mutate(ctx, pageID, "add "+string(t), pure(func(d domain.Document) domain.Document {
		return editor.AddWidget(d, addr, t)
	}))
}

func (s *PageService) UpdateSectionSettings(ctx context.Context, pageID string, addr domain.Address, patch map[string]any) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "update section", pure(func(d domain.Document) domain.Document {
		return editor.UpdateSectionSettings(d, addr, patch)
	}))
}

func (s *PageService) UpdateColumnSettings(ctx context.Context, pageID string, addr domain.Address, patch map[string]any) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "update column", pure(func(d domain.Document) domain.Document {
		return editor.UpdateColumnSettings(d, addr, patch)
	}))
}

func (s *PageService) UpdateWidgetSettings(ctx context.Context, pageID string, addr domain.Address, patch map[string]any) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "update widget", pure(func(d domain.Document) domain.Document {
		return editor.UpdateWidgetSettings(d, addr, patch)
	}))
}

func (s *PageService) DeleteSection(ctx context.Context, pageID string, addr domain.Address) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "delete section", pure(func(d domain.Document) domain.Document {
		return editor.DeleteSection(d, addr)
	}))
}

func (s *PageService) DeleteColumn(ctx context.Context, pageID string, addr domain.Address) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "delete column", pure(func(d domain.Document) domain.Document {
		return editor.DeleteColumn(d, addr)
	}))
}

func (s *PageService) DeleteWidget(ctx context.Context, pageID string, addr domain.Address) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "delete widget", pure(func(d domain.Document) domain.Document {
		return editor.DeleteWidget(d, addr)
	}))
}

func (s *PageService) MoveSection(ctx context.Context, pageID, sectionID string, dir editor.Direction) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "move section", pure(func(d domain.Document) domain.Document {
		return editor.MoveSection(d, sectionID, dir)
	}))
}

func (s *PageService) MoveColumn(ctx context.Context, pageID string, addr domain.Address, dir editor.Direction) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "move column", pure(func(d domain.Document) domain.Document {
		return editor.MoveColumn(d, addr, dir)
	}))
}

func (s *PageService) MoveWidget(ctx context.Context, pageID string, addr domain.Address, dir editor.Direction) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "move widget", pure(func(d domain.Document) domain.Document {
		return editor.MoveWidget(d, addr, dir)
	}))
}

func (s *PageService) DuplicateWidget(ctx context.Context, pageID string, addr domain.Address) (*domain.Page, error) {
	return s.Mutate(ctx, pageID, "duplicate widget", pure(func(d domain.Document) domain.Document {
		return editor.DuplicateWidget(d, addr)
	}))
}

// ── Publishing ─────────────────────────────────────────────

// Publish archives the stored document and republishes the current draft.
func (s *PageService) Publish(ctx context.Context, pageID, label string) (*domain.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.Load(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if err := domain.Validate(p.Document); err != nil {
		return nil, fmt.Errorf("publish: invalid document: %w", err)
	}
	v, err := s.store.Publish(ctx, p, label)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	s.emit(ctx, EventPagePublished, PageEvent{PageID: p.ID, Label: label, Version: p.Version})
	return v, nil
}

func (s *PageService) Versions(ctx context.Context, pageID string) ([]domain.Version, error) {
	return s.store.Versions(ctx, pageID)
}

// Restore replaces the draft with an archived version's document.
func (s *PageService) Restore(ctx context.Context, pageID string, number int) (*domain.Page, error) {
	versions, err := s.store.Versions(ctx, pageID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Number == number {
			doc := v.Document
			return s.Mutate(ctx, pageID, fmt.Sprintf("restore v%d", number), func(domain.Document) (domain.Document, error) {
				return doc.Clone(), nil
			})
		}
	}
	return nil, fmt.Errorf("version %d of %s: %w", number, pageID, domain.ErrNotFound)
}

// ── History ────────────────────────────────────────────────

// Undo restores the previous snapshot.
func (s *PageService) Undo(ctx context.Context, pageID string) (*domain.Page, error) {
	return s.travel(ctx, pageID, "undo")
}

// Redo restores the most recently undone snapshot.
func (s *PageService) Redo(ctx context.Context, pageID string) (*domain.Page, error) {
	return s.travel(ctx, pageID, "redo")
}

func (s *PageService) travel(ctx context.Context, pageID, dir string) (*domain.Page, error) {
	if s.history == nil {
		return nil, fmt.Errorf("%s: %w", dir, storage.ErrNoHistory)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.Load(ctx, pageID)
	if err != nil {
		return nil, err
	}
	var node *storage.HistoryNode
	if dir == "undo" {
		node, err = s.history.Undo(ctx, pageID)
	} else {
		node, err = s.history.Redo(ctx, pageID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	p.Document = node.Document
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: save: %w", dir, err)
	}
	s.emit(ctx, EventPageChanged, PageEvent{PageID: p.ID, Label: dir})
	return p, nil
}

// ── Import ─────────────────────────────────────────────────

// Import replaces a page's document with JSON data: either a document
// ({"sections":[...]} or a bare section array) or a full page object. A
// missing page is created with the given ID.
func (s *PageService) Import(ctx context.Context, pageID string, data []byte) (*domain.Page, error) {
	doc, meta, err := decodeImport(data)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", pageID, err)
	}
	if err := domain.Validate(doc); err != nil {
		return nil, fmt.Errorf("import %s: invalid document: %w", pageID, err)
	}

	_, err = s.store.Load(ctx, pageID)
	if errors.Is(err, domain.ErrNotFound) {
		s.mu.Lock()
		p := &domain.Page{ID: pageID, Title: meta.Title, Slug: meta.Slug, TenantID: meta.TenantID, Document: doc}
		if p.Title == "" {
			p.Title = pageID
		}
		err = s.store.Save(ctx, p)
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", pageID, err)
		}
		s.record(ctx, p.ID, "import", doc)
		s.emit(ctx, EventPageChanged, PageEvent{PageID: p.ID, Label: "import"})
		log.Printf("[import] created page %s", pageID)
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Mutate(ctx, pageID, "import", func(domain.Document) (domain.Document, error) {
		return doc, nil
	})
}

type importMeta struct {
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	TenantID string `json:"tenantId"`
}

func decodeImport(data []byte) (domain.Document, importMeta, error) {
	var (
		doc  domain.Document
		meta importMeta
	)
	var probe struct {
		Document json.RawMessage `json:"document"`
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &probe); err == nil && len(probe.Document) > 0 {
			if err := json.Unmarshal(trimmed, &meta); err != nil {
				return doc, meta, err
			}
			trimmed = probe.Document
		}
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return doc, meta, fmt.Errorf("decode document: %w", err)
	}
	return doc, meta, nil
}

// ── helpers ────────────────────────────────────────────────

func (s *PageService) ensureHistoryRoot(ctx context.Context, p *domain.Page) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Current(ctx, p.ID); errors.Is(err, storage.ErrNoHistory) {
		s.record(ctx, p.ID, "open", p.Document)
	}
}

// record pushes a history snapshot. History is best effort; failures are logged.
func (s *PageService) record(ctx context.Context, pageID, label string, doc domain.Document) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Push(ctx, pageID, label, doc); err != nil {
		log.Printf("[history] push %s %q: %v", pageID, label, err)
	}
}

func (s *PageService) emit(ctx context.Context, event string, data any) {
	if s.emitter != nil {
		s.emitter.Emit(ctx, event, data)
	}
}

func sameDocument(a, b domain.Document) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
