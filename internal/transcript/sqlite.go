// ABOUTME: SQLite-backed transcript archive using modernc.org/sqlite
// ABOUTME: Durable conversation message log that outlives the state store's TTL

package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically;
// RFC3339Nano trims trailing zeros and would break ORDER BY created_at.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one archived conversation message.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	AgentType      string    `json:"agentType,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store is the durable transcript archive. The state store holds the live
// conversation context; this archive keeps every message past the state TTL
// and serves history reads when the live entry has expired.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the archive at the given path. Parent
// directories are created if needed.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transcript")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("transcript archive initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transcript (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_type TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcript_conversation
			ON transcript(conversation_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Append archives one message. The entry's ID and CreatedAt are assigned
// here if unset.
func (s *Store) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ConversationID == "" {
		return Entry{}, fmt.Errorf("conversation id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript (id, conversation_id, role, content, agent_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ConversationID, entry.Role, entry.Content,
		nullable(entry.AgentType), entry.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return Entry{}, fmt.Errorf("inserting transcript entry: %w", err)
	}
	return entry, nil
}

// History returns the archived messages for a conversation in chronological
// order. A positive limit returns the most recent N, still oldest first.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]Entry, error) {
	var query string
	var args []any

	if limit > 0 {
		// Most recent N, returned in chronological order
		query = `
			SELECT id, conversation_id, role, content, agent_type, created_at
			FROM (
				SELECT id, conversation_id, role, content, agent_type, created_at
				FROM transcript
				WHERE conversation_id = ?
				ORDER BY created_at DESC
				LIMIT ?
			)
			ORDER BY created_at ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, role, content, agent_type, created_at
			FROM transcript
			WHERE conversation_id = ?
			ORDER BY created_at ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var agentType sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Role, &e.Content, &agentType, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		if agentType.Valid {
			e.AgentType = agentType.String
		}
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
