package domain

import (
	"context"
	"time"
)

// Page is the persisted unit: one Document plus identifying metadata.
type Page struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	TenantID    string     `json:"tenantId"`
	Document    Document   `json:"document"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Ref returns the identity part sent in data-request context payloads.
func (p *Page) Ref() PageRef {
	return PageRef{ID: p.ID, Slug: p.Slug, Title: p.Title}
}

// Version is an archived Document, written when a page is published.
type Version struct {
	ID        string    `json:"id"`
	PageID    string    `json:"pageId"`
	Number    int       `json:"number"`
	Label     string    `json:"label"`
	Document  Document  `json:"document"`
	CreatedAt time.Time `json:"createdAt"`
}

// DocumentStore is the persistence contract for page documents.
// Publish archives the currently stored document as a Version before
// overwriting it with p.Document.
type DocumentStore interface {
	Load(ctx context.Context, pageID string) (*Page, error)
	Save(ctx context.Context, p *Page) error
	Publish(ctx context.Context, p *Page, label string) (*Version, error)
	Versions(ctx context.Context, pageID string) ([]Version, error)
	List(ctx context.Context, tenantID string) ([]Page, error)
}

// ── Viewer context ─────────────────────────────────────────
// currentUser/currentTenant/currentPage are provided by the host application.

type PageRef struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type TenantRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Viewer struct {
	User      *UserRef
	Tenant    *TenantRef
	SessionID string
	Locale    string
	Timezone  string
}
