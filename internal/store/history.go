// Package store keeps the bot's local state: the conversation audit trail
// and digest subscriptions.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/tmc/langchaingo/llms"
)

type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS messages_chat ON messages (chat_id, id);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			chat_id TEXT PRIMARY KEY,
			since DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) AddMessage(chatID string, role string, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	if _, err := h.DB.Exec(query, chatID, role, content); err != nil {
		return fmt.Errorf("store: add message: %w", err)
	}
	return nil
}

// Transcript returns the chat's last limit messages, oldest first.
func (h *HistoryStore) Transcript(chatID string, limit int) ([]Message, error) {
	query := `SELECT id, chat_id, role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: transcript: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts sql.NullString
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: transcript: %w", err)
		}
		m.Timestamp = parseTime(ts.String)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: transcript: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetHistory returns the chat's last limit messages as model messages,
// oldest first.
func (h *HistoryStore) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	msgs, err := h.Transcript(chatID, limit)
	if err != nil {
		return nil, err
	}

	history := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		// Convert role string to llms.ChatMessageType
		var msgRole llms.ChatMessageType
		switch m.Role {
		case RoleHuman:
			msgRole = llms.ChatMessageTypeHuman
		case RoleAI:
			msgRole = llms.ChatMessageTypeAI
		case RoleSystem:
			msgRole = llms.ChatMessageTypeSystem
		default:
			msgRole = llms.ChatMessageTypeHuman
		}

		history = append(history, llms.MessageContent{
			Role:  msgRole,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	return history, nil
}

// Subscribe adds chatID to the digest. Subscribing twice is a no-op.
func (h *HistoryStore) Subscribe(chatID string) error {
	query := `INSERT INTO subscriptions (chat_id) VALUES (?) ON CONFLICT (chat_id) DO NOTHING`
	if _, err := h.DB.Exec(query, chatID); err != nil {
		return fmt.Errorf("store: subscribe: %w", err)
	}
	return nil
}

func (h *HistoryStore) Unsubscribe(chatID string) error {
	if _, err := h.DB.Exec(`DELETE FROM subscriptions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("store: unsubscribe: %w", err)
	}
	return nil
}

// Subscriptions lists digest subscribers in subscription order.
func (h *HistoryStore) Subscriptions() ([]Subscription, error) {
	rows, err := h.DB.Query(`SELECT chat_id, since FROM subscriptions ORDER BY since, rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		var since sql.NullString
		if err := rows.Scan(&s.ChatID, &since); err != nil {
			return nil, fmt.Errorf("store: subscriptions: %w", err)
		}
		s.Since = parseTime(since.String)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListSubscribers returns the subscribed chat IDs.
func (h *HistoryStore) ListSubscribers() ([]string, error) {
	subs, err := h.Subscriptions()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.ChatID
	}
	return ids, nil
}

// sqliteTime is the CURRENT_TIMESTAMP layout.
const sqliteTime = "2006-01-02 15:04:05"

// parseTime reads a DATETIME column, which the driver may hand back either
// as SQLite text or already formatted as RFC 3339.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, sqliteTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Prune deletes audit messages older than age.
func (h *HistoryStore) Prune(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC().Format(sqliteTime)
	res, err := h.DB.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}
