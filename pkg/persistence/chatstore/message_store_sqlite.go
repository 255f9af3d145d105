package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db            *sql.DB
	maxPerSession int
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string, maxPerSession int) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, maxPerSession: maxPerSession}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
		  seq INTEGER PRIMARY KEY AUTOINCREMENT,
		  page TEXT NOT NULL,
		  session_id TEXT NOT NULL,
		  message_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  format TEXT NOT NULL DEFAULT 'markdown',
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chat_messages_by_session
		  ON chat_messages(page, session_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite chat store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, key Key, msg Message) (Message, error) {
	if s == nil || s.db == nil {
		return Message{}, errors.New("sqlite chat store: db is nil")
	}
	if err := key.validate(); err != nil {
		return Message{}, err
	}
	msg = normalizeMessage(msg, time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (page, session_id, message_id, role, content, format, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key.Page, key.Session, msg.ID, msg.Role, msg.Content, msg.Format, msg.CreatedAt.UnixMilli())
	if err != nil {
		return Message{}, errors.Wrap(err, "sqlite chat store: append")
	}

	if s.maxPerSession > 0 {
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM chat_messages
			WHERE page = ? AND session_id = ? AND seq NOT IN (
			  SELECT seq FROM chat_messages
			  WHERE page = ? AND session_id = ?
			  ORDER BY seq DESC
			  LIMIT ?
			)
		`, key.Page, key.Session, key.Page, key.Session, s.maxPerSession)
		if err != nil {
			return Message{}, errors.Wrap(err, "sqlite chat store: trim")
		}
	}
	return msg, nil
}

func (s *SQLiteStore) List(ctx context.Context, key Key) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}
	if err := key.validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, content, format, created_at_ms
		FROM chat_messages
		WHERE page = ? AND session_id = ?
		ORDER BY seq ASC
	`, key.Page, key.Session)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list")
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var (
			msg       Message
			createdMs int64
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Format, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan")
		}
		msg.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: rows")
	}
	return out, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, key Key) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	if err := key.validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE page = ? AND session_id = ?`, key.Page, key.Session); err != nil {
		return errors.Wrap(err, "sqlite chat store: clear")
	}
	return nil
}

func (s *SQLiteStore) Conversations(ctx context.Context) ([]Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT page, session_id, COUNT(*), MAX(created_at_ms)
		FROM chat_messages
		GROUP BY page, session_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: conversations")
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var (
			c      Conversation
			lastMs int64
		)
		if err := rows.Scan(&c.Key.Page, &c.Key.Session, &c.Messages, &lastMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan")
		}
		c.LastAt = time.UnixMilli(lastMs)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: rows")
	}
	sortConversations(out)
	return out, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite chat store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
