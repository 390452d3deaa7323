// Package feedback keeps conversation excerpts that participants reacted
// to, for later export as fine-tuning data.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scalytics/parley/internal/session"
)

// Example is one captured excerpt, oldest message first.
type Example struct {
	MessageID  string            `json:"message_id"`
	ChannelID  string            `json:"channel_id,omitempty"`
	ReactorID  string            `json:"reactor_id,omitempty"`
	Emoji      string            `json:"emoji,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
	Messages   []session.Message `json:"messages"`
}

type storedMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
}

// Store is the SQLite-backed example log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create feedback dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts ex. It returns false when an example for the same message
// already exists.
func (s *Store) Save(ctx context.Context, ex Example) (bool, error) {
	if ex.MessageID == "" {
		return false, fmt.Errorf("example without message id")
	}
	msgs := make([]storedMessage, 0, len(ex.Messages))
	for _, m := range ex.Messages {
		msgs = append(msgs, storedMessage{Role: string(m.Role), Content: m.Content, Timestamp: m.Timestamp.UTC(), MessageID: m.MessageID})
	}
	payload, err := json.Marshal(msgs)
	if err != nil {
		return false, err
	}
	if ex.CapturedAt.IsZero() {
		ex.CapturedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO examples (message_id, channel_id, reactor_id, emoji, captured_at, messages) VALUES (?, ?, ?, ?, ?, ?)`,
		ex.MessageID, ex.ChannelID, ex.ReactorID, ex.Emoji, ex.CapturedAt.UTC(), string(payload))
	if err != nil {
		return false, fmt.Errorf("insert example: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of stored examples.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM examples`).Scan(&n)
	return n, err
}

// List returns every example, oldest capture first.
func (s *Store) List(ctx context.Context) ([]Example, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, channel_id, reactor_id, emoji, captured_at, messages FROM examples ORDER BY captured_at ASC, message_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Example
	for rows.Next() {
		var (
			ex      Example
			payload string
		)
		if err := rows.Scan(&ex.MessageID, &ex.ChannelID, &ex.ReactorID, &ex.Emoji, &ex.CapturedAt, &payload); err != nil {
			return nil, err
		}
		var msgs []storedMessage
		if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
			return nil, fmt.Errorf("decode example %s: %w", ex.MessageID, err)
		}
		for _, m := range msgs {
			ex.Messages = append(ex.Messages, session.Message{
				Role:      session.Role(m.Role),
				Content:   m.Content,
				Timestamp: m.Timestamp,
				MessageID: m.MessageID,
			})
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

type chatLine struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Export writes the examples as chat fine-tuning JSONL, one example per
// line, optionally preceded by a system prompt. It returns the line count.
func (s *Store) Export(ctx context.Context, w io.Writer, systemPrompt string) (int, error) {
	examples, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	n := 0
	for _, ex := range examples {
		lines := make([]chatLine, 0, len(ex.Messages)+1)
		if systemPrompt != "" {
			lines = append(lines, chatLine{Role: "system", Content: systemPrompt})
		}
		for _, m := range ex.Messages {
			lines = append(lines, chatLine{Role: string(m.Role), Content: m.Content})
		}
		if err := enc.Encode(struct {
			Messages []chatLine `json:"messages"`
		}{lines}); err != nil {
			return n, fmt.Errorf("write example %s: %w", ex.MessageID, err)
		}
		n++
	}
	return n, nil
}
