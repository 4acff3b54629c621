package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harun/confer/pkg/schema"
)

// SQLiteStore keeps one row per message, ordered by position. Expiry is a
// unix timestamp shared by all rows of a session.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "confer-sessions.db"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writers anyway; a single connection also keeps
	// :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS chat_history (
		session_id TEXT    NOT NULL,
		position   INTEGER NOT NULL,
		message    TEXT    NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_history_expires_at ON chat_history (expires_at);
	`
	_, err := s.db.Exec(ddl)
	return err
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, sessionID string) ([]schema.Message, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message FROM chat_history
		 WHERE session_id = ? AND expires_at > ?
		 ORDER BY position`,
		sessionID, s.now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sessionID, err)
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("scan %s: %w", sessionID, err)
		}
		raw = append(raw, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", sessionID, err)
	}

	return schema.DecodeMessages(raw)
}

// ReplaceHistory deletes and re-inserts the transcript in one transaction
func (s *SQLiteStore) ReplaceHistory(ctx context.Context, sessionID string, messages []schema.Message, ttl time.Duration) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	raw, err := schema.EncodeMessages(messages)
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(effectiveTTL(ttl)).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_history WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete %s: %w", sessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chat_history (session_id, position, message, expires_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", sessionID, err)
	}
	defer stmt.Close()

	for i, item := range raw {
		if _, err := stmt.ExecContext(ctx, sessionID, i, item, expiresAt); err != nil {
			return fmt.Errorf("insert %s/%d: %w", sessionID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", sessionID, err)
	}
	return nil
}

// Purge deletes expired sessions and returns how many were removed
func (s *SQLiteStore) Purge(ctx context.Context) (int, error) {
	now := s.now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id) FROM chat_history WHERE expires_at <= ?`, now,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count expired: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_history WHERE expires_at <= ?`, now); err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
