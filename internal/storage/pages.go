package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nexus/internal/domain"
)

// PageStore implements domain.DocumentStore on any of the SQL dialects.
type PageStore struct {
	db *DB
}

var _ domain.DocumentStore = (*PageStore)(nil)

func NewPageStore(db *DB) *PageStore {
	return &PageStore{db: db}
}

const pageColumns = `id, tenant_id, slug, title, document_json, version, created_at, updated_at, published_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(r rowScanner) (*domain.Page, error) {
	var (
		p         domain.Page
		docJSON   string
		published sql.NullTime
	)
	if err := r.Scan(&p.ID, &p.TenantID, &p.Slug, &p.Title, &docJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt, &published); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(docJSON), &p.Document); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", p.ID, err)
	}
	if published.Valid {
		t := published.Time
		p.PublishedAt = &t
	}
	return &p, nil
}

func (s *PageStore) Load(ctx context.Context, pageID string) (*domain.Page, error) {
	p, err := scanPage(s.db.queryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, pageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", pageID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	return p, nil
}

// Save writes the draft document. A page without an ID gets one.
func (s *PageStore) Save(ctx context.Context, p *domain.Page) error {
	doc, err := json.Marshal(p.Document)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	q := s.db.upsert("pages",
		[]string{"id"},
		[]string{"tenant_id", "slug", "title", "document_json", "updated_at"},
		"created_at", "version",
	)
	_, err = s.db.conn.ExecContext(ctx, q,
		p.ID, p.TenantID, p.Slug, p.Title, string(doc), p.UpdatedAt, p.CreatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}


// Publish archives the stored document as the next Version, then overwrites
// it with p.Document, in one transaction. Publishing a page that was never
// saved archives nothing and returns a nil Version.
func (s *PageStore) Publish(ctx context.Context, p *domain.Page, label string) (*domain.Version, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	doc, err := json.Marshal(p.Document)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var (
		prevDoc   string
		createdAt time.Time
		archived  *domain.Version
	)
	err = tx.QueryRowContext(ctx, s.db.rebind(`SELECT document_json, created_at FROM pages WHERE id = ?`), p.ID).Scan(&prevDoc, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
	case err != nil:
		return nil, fmt.Errorf("read current document: %w", err)
	default:
		var number int
		if err := tx.QueryRowContext(ctx, s.db.rebind(
			`SELECT COALESCE(MAX(number), 0) + 1 FROM page_versions WHERE page_id = ?`), p.ID,
		).Scan(&number); err != nil {
			return nil, fmt.Errorf("next version number: %w", err)
		}
		v := &domain.Version{ID: domain.NewID(), PageID: p.ID, Number: number, Label: label, CreatedAt: now}
		if err := json.Unmarshal([]byte(prevDoc), &v.Document); err != nil {
			return nil, fmt.Errorf("decode current document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.db.rebind(
			`INSERT INTO page_versions (id, page_id, number, label, document_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
			v.ID, v.PageID, v.Number, v.Label, prevDoc, v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("archive version: %w", err)
		}
		archived = v
		p.Version = number
	}

	q := s.db.upsert("pages",
		[]string{"id"},
		[]string{"tenant_id", "slug", "title", "document_json", "version", "updated_at", "published_at"},
		"created_at",
	)
	if _, err := tx.ExecContext(ctx, q,
		p.ID, p.TenantID, p.Slug, p.Title, string(doc), p.Version, now, now, createdAt,
	); err != nil {
		return nil, fmt.Errorf("write published document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}

	p.CreatedAt = createdAt
	p.UpdatedAt = now
	p.PublishedAt = &now
	return archived, nil
}

// Versions lists archived versions, newest first.
func (s *PageStore) Versions(ctx context.Context, pageID string) ([]domain.Version, error) {
	rows, err := s.db.query(ctx,
		`SELECT id, page_id, number, label, document_json, created_at FROM page_versions WHERE page_id = ? ORDER BY number DESC`,
		pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []domain.Version
	for rows.Next() {
		var (
			v       domain.Version
			docJSON string
		)
		if err := rows.Scan(&v.ID, &v.PageID, &v.Number, &v.Label, &docJSON, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if err := json.Unmarshal([]byte(docJSON), &v.Document); err != nil {
			return nil, fmt.Errorf("decode version %d: %w", v.Number, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// List returns the pages of a tenant ordered by title. An empty tenantID
// lists every page.
func (s *PageStore) List(ctx context.Context, tenantID string) ([]domain.Page, error) {
	q := `SELECT ` + pageColumns + ` FROM pages`
	var args []any
	if tenantID != "" {
		q += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	rows, err := s.db.query(ctx, q+` ORDER BY title ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []domain.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Delete removes a page with its versions and history.
func (s *PageStore) Delete(ctx context.Context, pageID string) error {
	for _, q := range []string{
		`DELETE FROM page_versions WHERE page_id = ?`,
		`DELETE FROM history_nodes WHERE page_id = ?`,
		`DELETE FROM history_state WHERE page_id = ?`,
		`DELETE FROM pages WHERE id = ?`,
	} {
		if _, err := s.db.exec(ctx, q, pageID); err != nil {
			return fmt.Errorf("delete page: %w", err)
		}
	}
	return nil
}
