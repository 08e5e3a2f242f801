package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tkingovr/aifirewall/api"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS log_entries (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	timestamp        INTEGER NOT NULL,
	request_id       TEXT NOT NULL,
	module           TEXT NOT NULL,
	allowed          INTEGER NOT NULL,
	confidence       REAL NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	modified_content TEXT,
	original_content TEXT NOT NULL,
	content_hash     TEXT NOT NULL DEFAULT '',
	client_ip        TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	duration_ms      REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_log_entries_request ON log_entries(request_id);
CREATE INDEX IF NOT EXISTS idx_log_entries_module ON log_entries(module);
CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries(timestamp);
`

const selectColumns = `id, timestamp, request_id, module, allowed, confidence, reason,
	modified_content, original_content, content_hash, client_ip, error, duration_ms`

// SQLiteStore keeps log entries in an append-only SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	subs *subscribers
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating audit database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &SQLiteStore{db: db, subs: newSubscribers()}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, entries ...*api.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning audit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_entries (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var modified sql.NullString
		if e.Result.ModifiedContent != nil {
			modified = sql.NullString{String: *e.Result.ModifiedContent, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UnixNano(), e.RequestID, e.Module,
			e.Result.Allowed, e.Result.Confidence, e.Result.Reason,
			modified, e.OriginalContent, e.ContentHash, e.ClientIP, e.Error, e.DurationMS,
		); err != nil {
			return fmt.Errorf("inserting log entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing audit transaction: %w", err)
	}
	s.subs.notify(entries...)
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, f api.QueryFilter) ([]*api.LogEntry, error) {
	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UnixNano())
	}
	if f.RequestID != "" {
		where = append(where, "request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.Module != "" {
		where = append(where, "module = ?")
		args = append(args, f.Module)
	}
	switch f.Decision {
	case api.DecisionAllow:
		where = append(where, "allowed = 1")
	case api.DecisionDeny:
		where = append(where, "allowed = 0")
	}

	q := "SELECT " + selectColumns + " FROM log_entries"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	} else if f.Offset > 0 {
		q += " LIMIT -1"
	}
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying log entries: %w", err)
	}
	defer rows.Close()

	var out []*api.LogEntry
	for rows.Next() {
		var (
			e        api.LogEntry
			ts       int64
			modified sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.RequestID, &e.Module, &e.Result.Allowed,
			&e.Result.Confidence, &e.Result.Reason, &modified, &e.OriginalContent,
			&e.ContentHash, &e.ClientIP, &e.Error, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		if modified.Valid {
			m := modified.String
			e.Result.ModifiedContent = &m
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*api.AuditStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module, allowed, error != '', COUNT(*)
		FROM log_entries GROUP BY module, allowed, error != ''`)
	if err != nil {
		return nil, fmt.Errorf("querying audit stats: %w", err)
	}
	defer rows.Close()

	stats := api.NewAuditStats()
	for rows.Next() {
		var (
			mod      string
			allowed  bool
			hasError bool
			n        int
		)
		if err := rows.Scan(&mod, &allowed, &hasError, &n); err != nil {
			return nil, fmt.Errorf("scanning audit stats: %w", err)
		}
		stats.TotalEntries += n
		stats.ByModule[mod] += n
		if allowed {
			stats.AllowCount += n
		} else {
			stats.DenyCount += n
			stats.DenyByModule[mod] += n
		}
		if hasError {
			stats.ErrorCount += n
		}
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) Subscribe(_ context.Context) (<-chan *api.LogEntry, func()) {
	return s.subs.add()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
