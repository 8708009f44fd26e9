package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteTranscriptSchemaV1 = `
CREATE TABLE IF NOT EXISTS transcript_records (
    conversation_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    role TEXT NOT NULL,
    created_at_ns INTEGER NOT NULL,
    payload_json TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (conversation_id, message_id)
);
CREATE INDEX IF NOT EXISTS transcript_records_by_time
    ON transcript_records (conversation_id, created_at_ns);
`

// SQLiteStore persists transcripts in a SQLite database, one JSON payload per
// message row. Payloads are validated against the message record schema when
// they are loaded.
type SQLiteStore struct {
	mu     sync.RWMutex
	dsn    string
	db     *sql.DB
	closed bool
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{dsn: dsn, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) AppendTranscript(ctx context.Context, conversationID string, msg *conversation.Message) error {
	if msg == nil {
		return errors.New("message is nil")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO transcript_records (conversation_id, message_id, role, created_at_ns, payload_json, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(conversation_id, message_id) DO UPDATE SET
    role = excluded.role,
    created_at_ns = excluded.created_at_ns,
    payload_json = excluded.payload_json,
    updated_at_ms = excluded.updated_at_ms`,
		conversationID,
		msg.ID,
		string(msg.Role),
		timeKey(msg.CreatedAt),
		string(payload),
		time.Now().UnixMilli(),
	)
	return errors.Wrapf(err, "could not append message %s", msg.ID)
}

func (s *SQLiteStore) DeleteTrailingRecords(ctx context.Context, conversationID string, after time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transcript_records WHERE conversation_id = ? AND created_at_ns > ?`,
		conversationID, timeKey(after))
	return errors.Wrapf(err, "could not delete trailing records of %s", conversationID)
}

func (s *SQLiteStore) LoadTranscript(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, payload_json FROM transcript_records
WHERE conversation_id = ? ORDER BY created_at_ns ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	ret := conversation.Conversation{}
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		msg, err := conversation.ParseMessageJSON([]byte(payload))
		if err != nil {
			return nil, errors.Wrapf(err, "stored record %s/%s", conversationID, id)
		}
		if msg.ID != id {
			return nil, fmt.Errorf("sqlite transcript store: id mismatch payload=%q row=%q", msg.ID, id)
		}
		ret = append(ret, msg)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	s.mu.RLock()
	if err := s.ensureOpen(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM transcript_records`)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	_ = rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ret := make([]ConversationSummary, 0, len(ids))
	for _, id := range ids {
		msgs, err := s.LoadTranscript(ctx, id)
		if err != nil {
			return nil, err
		}
		ret = append(ret, summarize(id, msgs))
	}
	sortSummaries(ret)
	return ret, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite transcript store: db is nil")
	}
	if _, err := s.db.Exec(sqliteTranscriptSchemaV1); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		return fmt.Errorf("sqlite transcript store db is nil")
	}
	return nil
}

var _ TranscriptStore = (*SQLiteStore)(nil)

// DSNForFile returns the DSN used for a transcript database file.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
