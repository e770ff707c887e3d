package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nexus/internal/filterctx"
)

// SessionStore persists per-session blobs such as the filter context.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// For returns the session storage scoped to one viewer session.
func (s *SessionStore) For(sessionID string) filterctx.SessionStorage {
	return &sessionScope{store: s, id: sessionID}
}

// Get returns nil, nil for a missing key.
func (s *SessionStore) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	var data string
	err := s.db.queryRow(ctx, `SELECT data FROM sessions WHERE session_id = ? AND skey = ?`, sessionID, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s/%s: %w", sessionID, key, err)
	}
	return []byte(data), nil
}

func (s *SessionStore) Set(ctx context.Context, sessionID, key string, data []byte) error {
	q := s.db.upsert("sessions", []string{"session_id", "skey"}, []string{"data", "updated_at"})
	if _, err := s.db.conn.ExecContext(ctx, q, sessionID, key, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("set session %s/%s: %w", sessionID, key, err)
	}
	return nil
}

// Expire deletes sessions not written since before.
func (s *SessionStore) Expire(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.exec(ctx, `DELETE FROM sessions WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return res.RowsAffected()
}

type sessionScope struct {
	store *SessionStore
	id    string
}

func (s *sessionScope) Get(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(ctx, s.id, key)
}

func (s *sessionScope) Set(ctx context.Context, key string, data []byte) error {
	return s.store.Set(ctx, s.id, key, data)
}
