package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mtahsin/researchbot/internal/models"
)

// Store is the append-only, time-ordered conversation log, keyed by session
// id. History is never updated or deleted.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the backing database file and the chat_history table if they
// do not exist yet.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "research_bot.db"
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating session directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}

	createTable := `
		CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating chat_history table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS chat_history_session_idx ON chat_history (session_id, timestamp)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session index: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Append writes one turn. Sessions are created lazily on first message.
func (s *Store) Append(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if role != models.RoleUser && role != models.RoleAssistant {
		return fmt.Errorf("invalid role %q", role)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_history (session_id, role, content) VALUES (?, ?, ?)",
		sessionID, role, content)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// History returns the session's messages in write order. Timestamp ties are
// broken by insertion id.
func (s *Store) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, role, content, timestamp FROM chat_history WHERE session_id = ? ORDER BY timestamp, id",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var ts string
		if err := rows.Scan(&m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		// CURRENT_TIMESTAMP is stored as UTC text
		if parsed, err := time.Parse("2006-01-02 15:04:05", ts); err == nil {
			m.Timestamp = parsed
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}
