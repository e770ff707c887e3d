package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavor of an open database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect accepts the driver names users commonly write.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unsupported driver: %s", driver)
}

// DB wraps a SQL connection and the dialect its queries are written for.
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// Open connects to driver/dsn and applies migrations. For sqlite the dsn is
// a file path; its directory is created if needed.
func Open(driver, dsn string) (*DB, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	switch dialect {
	case DialectSQLite:
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		conn, err = sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite only supports one writer; a single connection avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	case DialectPostgres:
		conn, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	case DialectMySQL:
		if !strings.Contains(dsn, "parseTime=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "parseTime=true"
		}
		conn, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
	}
	if dialect != DialectSQLite {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(10 * time.Minute)
	}

	db := &DB{conn: conn, dialect: dialect}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// rebind rewrites ? placeholders as $n for postgres.
func (db *DB) rebind(q string) string {
	if db.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsert builds an insert that updates cols on key conflict. Arguments bind
// in the order keys, cols, insertOnly; insertOnly columns keep their
// original value on update.
func (db *DB) upsert(table string, keys, cols []string, insertOnly ...string) string {
	all := append(append(append([]string{}, keys...), cols...), insertOnly...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(all, ", "), marks)

	sets := make([]string, len(cols))
	if db.dialect == DialectMySQL {
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return db.rebind(q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	}
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return db.rebind(q + fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", ")))
}

func (db *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.rebind(q), args...)
}

func (db *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.rebind(q), args...)
}

func (db *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.rebind(q), args...)
}

// column types per dialect: {id}, {doc}, {ts}.
func (db *DB) types() *strings.Replacer {
	switch db.dialect {
	case DialectPostgres:
		return strings.NewReplacer("{id}", "VARCHAR(64)", "{doc}", "TEXT", "{ts}", "TIMESTAMPTZ")
	case DialectMySQL:
		return strings.NewReplacer("{id}", "VARCHAR(64)", "{doc}", "LONGTEXT", "{ts}", "DATETIME(6)")
	}
	return strings.NewReplacer("{id}", "TEXT", "{doc}", "TEXT", "{ts}", "DATETIME")
}

func (db *DB) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			id {id} PRIMARY KEY,
			tenant_id {id} NOT NULL DEFAULT '',
			slug VARCHAR(255) NOT NULL DEFAULT '',
			title VARCHAR(255) NOT NULL DEFAULT '',
			document_json {doc} NOT NULL,
			version INTEGER NOT NULL DEFAULT 0,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL,
			published_at {ts} NULL
		)`,
		`CREATE INDEX idx_pages_tenant ON pages(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS page_versions (
			id {id} PRIMARY KEY,
			page_id {id} NOT NULL,
			number INTEGER NOT NULL,
			label VARCHAR(255) NOT NULL DEFAULT '',
			document_json {doc} NOT NULL,
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX idx_page_versions_page ON page_versions(page_id)`,
		// Editor history: snapshot nodes with parent pointers
		`CREATE TABLE IF NOT EXISTS history_nodes (
			id {id} PRIMARY KEY,
			page_id {id} NOT NULL,
			parent_id {id} NULL,
			seq INTEGER NOT NULL,
			label VARCHAR(255) NOT NULL,
			snapshot_json {doc} NOT NULL,
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX idx_history_nodes_page ON history_nodes(page_id)`,
		// Current position pointer per page
		`CREATE TABLE IF NOT EXISTS history_state (
			page_id {id} PRIMARY KEY,
			current_node_id {id} NOT NULL
		)`,
		// Filter context blobs per viewer session
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id {id} NOT NULL,
			skey VARCHAR(128) NOT NULL,
			data {doc} NOT NULL,
			updated_at {ts} NOT NULL,
			PRIMARY KEY (session_id, skey)
		)`,
	}

	types := db.types()
	for _, m := range migrations {
		stmt := types.Replace(m)
		if db.dialect != DialectMySQL {
			stmt = strings.Replace(stmt, "CREATE INDEX ", "CREATE INDEX IF NOT EXISTS ", 1)
		}
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			// MySQL has no IF NOT EXISTS for indexes.
			if strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
