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

// MaxHistoryNodes bounds the editor history kept per page.
const MaxHistoryNodes = 40

// ErrNoHistory is returned when undo or redo has nowhere to go.
var ErrNoHistory = errors.New("no history entry")

// HistoryNode is one editor snapshot.
type HistoryNode struct {
	ID        string          `json:"id"`
	PageID    string          `json:"pageId"`
	ParentID  *string         `json:"parentId"`
	Label     string          `json:"label"`
	Document  domain.Document `json:"document"`
	CreatedAt time.Time       `json:"createdAt"`
	seq       int64
}

// HistoryTree is the full history of a page.
type HistoryTree struct {
	Nodes     []HistoryNode `json:"nodes"`
	CurrentID string        `json:"currentId"`
	RootID    string        `json:"rootId"`
}

// HistoryStore keeps undo/redo snapshots as a tree: every mutation adds a
// child of the current node, undo moves to the parent, redo moves to the
// newest child.
type HistoryStore struct {
	db *DB
}

func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

const historyColumns = `id, page_id, parent_id, seq, label, snapshot_json, created_at`

func scanHistory(r rowScanner) (*HistoryNode, error) {
	var (
		n      HistoryNode
		parent sql.NullString
		snap   string
	)
	if err := r.Scan(&n.ID, &n.PageID, &parent, &n.seq, &n.Label, &snap, &n.CreatedAt); err != nil {
		return nil, err
	}
	if parent.Valid {
		p := parent.String
		n.ParentID = &p
	}
	if err := json.Unmarshal([]byte(snap), &n.Document); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", n.ID, err)
	}
	return &n, nil
}

// Tree returns the full history for a page, or nil when there is none.
func (s *HistoryStore) Tree(ctx context.Context, pageID string) (*HistoryTree, error) {
	rows, err := s.db.query(ctx,
		`SELECT `+historyColumns+` FROM history_nodes WHERE page_id = ? ORDER BY seq ASC`, pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var (
		nodes  []HistoryNode
		rootID string
	)
	for rows.Next() {
		n, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history node: %w", err)
		}
		if n.ParentID == nil && rootID == "" {
			rootID = n.ID
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	currentID, err := s.currentID(ctx, pageID)
	if err != nil || currentID == "" {
		currentID = nodes[len(nodes)-1].ID
	}
	return &HistoryTree{Nodes: nodes, CurrentID: currentID, RootID: rootID}, nil
}

// Push records doc as a child of the current node and makes it current.
func (s *HistoryStore) Push(ctx context.Context, pageID, label string, doc domain.Document) (*HistoryNode, error) {
	snap, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	parentID, err := s.currentID(ctx, pageID)
	if err != nil {
		return nil, err
	}

	var seq int64
	if err := s.db.queryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM history_nodes WHERE page_id = ?`, pageID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next history seq: %w", err)
	}

	n := &HistoryNode{
		ID:        domain.NewID(),
		PageID:    pageID,
		Label:     label,
		Document:  doc.Clone(),
		CreatedAt: time.Now().UTC(),
		seq:       seq,
	}
	var pID any
	if parentID != "" {
		n.ParentID = &parentID
		pID = parentID
	}

	if _, err := s.db.exec(ctx,
		`INSERT INTO history_nodes (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.PageID, pID, n.seq, n.Label, string(snap), n.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert history node: %w", err)
	}
	if err := s.GoTo(ctx, pageID, n.ID); err != nil {
		return nil, err
	}

	s.prune(ctx, pageID, MaxHistoryNodes)
	return n, nil
}

// Current returns the current node, or ErrNoHistory.
func (s *HistoryStore) Current(ctx context.Context, pageID string) (*HistoryNode, error) {
	id, err := s.currentID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNoHistory
	}
	return s.node(ctx, id)
}

// Undo moves to the parent of the current node and returns it.
func (s *HistoryStore) Undo(ctx context.Context, pageID string) (*HistoryNode, error) {
	cur, err := s.Current(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if cur.ParentID == nil {
		return nil, ErrNoHistory
	}
	parent, err := s.node(ctx, *cur.ParentID)
	if err != nil {
		return nil, err
	}
	if err := s.GoTo(ctx, pageID, parent.ID); err != nil {
		return nil, err
	}
	return parent, nil
}

// Redo moves to the newest child of the current node and returns it.
func (s *HistoryStore) Redo(ctx context.Context, pageID string) (*HistoryNode, error) {
	curID, err := s.currentID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if curID == "" {
		return nil, ErrNoHistory
	}
	child, err := scanHistory(s.db.queryRow(ctx,
		`SELECT `+historyColumns+` FROM history_nodes WHERE parent_id = ? ORDER BY seq DESC LIMIT 1`, curID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("load redo node: %w", err)
	}
	if err := s.GoTo(ctx, pageID, child.ID); err != nil {
		return nil, err
	}
	return child, nil
}

// GoTo updates the current position pointer.
func (s *HistoryStore) GoTo(ctx context.Context, pageID, nodeID string) error {
	q := s.db.upsert("history_state", []string{"page_id"}, []string{"current_node_id"})
	if _, err := s.db.conn.ExecContext(ctx, q, pageID, nodeID); err != nil {
		return fmt.Errorf("update history state: %w", err)
	}
	return nil
}

// Clear removes all history for a page.
func (s *HistoryStore) Clear(ctx context.Context, pageID string) error {
	_, _ = s.db.exec(ctx, `DELETE FROM history_state WHERE page_id = ?`, pageID)
	_, err := s.db.exec(ctx, `DELETE FROM history_nodes WHERE page_id = ?`, pageID)
	return err
}

func (s *HistoryStore) currentID(ctx context.Context, pageID string) (string, error) {
	var id string
	err := s.db.queryRow(ctx, `SELECT current_node_id FROM history_state WHERE page_id = ?`, pageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read history state: %w", err)
	}
	return id, nil
}

func (s *HistoryStore) node(ctx context.Context, id string) (*HistoryNode, error) {
	n, err := scanHistory(s.db.queryRow(ctx, `SELECT `+historyColumns+` FROM history_nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history node %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load history node: %w", err)
	}
	return n, nil
}

// prune removes the oldest nodes beyond maxNodes, never the current one.
// Children of a removed node are re-parented to its parent.
func (s *HistoryStore) prune(ctx context.Context, pageID string, maxNodes int) {
	var count int
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM history_nodes WHERE page_id = ?`, pageID).Scan(&count); err != nil || count <= maxNodes {
		return
	}
	currentID, _ := s.currentID(ctx, pageID)

	// Collect IDs first; the sqlite pool has a single connection.
	rows, err := s.db.query(ctx,
		`SELECT id, parent_id FROM history_nodes WHERE page_id = ? ORDER BY seq ASC LIMIT ?`, pageID, count-maxNodes,
	)
	if err != nil {
		return
	}
	type victim struct {
		id     string
		parent sql.NullString
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.parent); err != nil {
			continue
		}
		if v.id != currentID {
			victims = append(victims, v)
		}
	}
	rows.Close()

	for _, v := range victims {
		var parent any
		if v.parent.Valid {
			parent = v.parent.String
		}
		// Re-read the parent: an earlier victim may have been this node's parent.
		var cur sql.NullString
		if err := s.db.queryRow(ctx, `SELECT parent_id FROM history_nodes WHERE id = ?`, v.id).Scan(&cur); err == nil {
			parent = nil
			if cur.Valid {
				parent = cur.String
			}
		}
		_, _ = s.db.exec(ctx, `UPDATE history_nodes SET parent_id = ? WHERE parent_id = ?`, parent, v.id)
		_, _ = s.db.exec(ctx, `DELETE FROM history_nodes WHERE id = ?`, v.id)
	}
}
