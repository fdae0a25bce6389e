// Package history keeps a local SQLite archive of reconciled transcripts so
// past conversations survive backend resets and stay greppable offline.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

type SQLiteArchive struct {
	db *sql.DB
}

func NewSQLiteArchive(dsn string) (*SQLiteArchive, error) {
	if dsn == "" {
		return nil, errors.New("history archive: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *SQLiteArchive) migrate() error {
	if a == nil || a.db == nil {
		return errors.New("history archive: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archived_conversations (
		  id INTEGER PRIMARY KEY,
		  title TEXT NOT NULL DEFAULT '',
		  provider TEXT NOT NULL DEFAULT '',
		  model TEXT NOT NULL DEFAULT '',
		  message_count INTEGER NOT NULL DEFAULT 0,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  archived_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS archived_conversations_by_updated
		  ON archived_conversations(updated_at_ms DESC, id ASC);`,
		`CREATE TABLE IF NOT EXISTS archived_messages (
		  conversation_id INTEGER NOT NULL,
		  seq INTEGER NOT NULL,
		  id INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL DEFAULT '',
		  tool_calls_json TEXT NOT NULL DEFAULT '',
		  tokens_in INTEGER,
		  tokens_out INTEGER,
		  created_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (conversation_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS archived_messages_by_conversation
		  ON archived_messages(conversation_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := a.db.Exec(st); err != nil {
			return errors.Wrap(err, "history archive: migrate")
		}
	}
	return nil
}

// SaveConversation stores one reconciled transcript, replacing whatever was
// archived for the conversation before. Messages are stored in transcript
// order.
func (a *SQLiteArchive) SaveConversation(ctx context.Context, conv conversation.Conversation, msgs []conversation.Message) error {
	if a == nil || a.db == nil {
		return errors.New("history archive: db is nil")
	}
	if conv.ID == 0 {
		return errors.New("history archive: conversation id is 0")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UnixMilli()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO archived_conversations (
			id, title, provider, model, message_count,
			created_at_ms, updated_at_ms, archived_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			provider = excluded.provider,
			model = excluded.model,
			message_count = excluded.message_count,
			updated_at_ms = excluded.updated_at_ms,
			archived_at_ms = excluded.archived_at_ms
	`, conv.ID, conv.Title, conv.Provider, conv.Model, len(msgs),
		conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(), now); err != nil {
		return errors.Wrap(err, "history archive: upsert conversation")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM archived_messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return errors.Wrap(err, "history archive: clear transcript")
	}

	for i, msg := range msgs {
		toolCalls := ""
		if len(msg.ToolCalls) > 0 {
			raw, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return errors.Wrap(err, "history archive: marshal tool calls")
			}
			toolCalls = string(raw)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO archived_messages (
				conversation_id, seq, id, role, content, tool_calls_json,
				tokens_in, tokens_out, created_at_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, conv.ID, i, msg.ID, string(msg.Role), msg.Content, toolCalls,
			nullableInt(msg.TokensIn), nullableInt(msg.TokensOut), msg.CreatedAt.UnixMilli()); err != nil {
			return errors.Wrap(err, "history archive: insert message")
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// ListConversations returns archived conversations, most recently updated
// first.
func (a *SQLiteArchive) ListConversations(ctx context.Context, limit int) ([]conversation.Conversation, error) {
	if a == nil || a.db == nil {
		return nil, errors.New("history archive: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, title, provider, model, message_count, created_at_ms, updated_at_ms
		FROM archived_conversations
		ORDER BY updated_at_ms DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "history archive: list conversations")
	}
	defer func() { _ = rows.Close() }()

	out := make([]conversation.Conversation, 0, limit)
	for rows.Next() {
		var (
			conv      conversation.Conversation
			createdMs int64
			updatedMs int64
		)
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Provider, &conv.Model,
			&conv.MessageCount, &createdMs, &updatedMs); err != nil {
			return nil, errors.Wrap(err, "history archive: scan conversation")
		}
		conv.CreatedAt = time.UnixMilli(createdMs)
		conv.UpdatedAt = time.UnixMilli(updatedMs)
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "history archive: iterate conversations")
	}
	return out, nil
}

// Conversation looks one archived conversation up by id.
func (a *SQLiteArchive) Conversation(ctx context.Context, id int64) (conversation.Conversation, bool, error) {
	if a == nil || a.db == nil {
		return conversation.Conversation{}, false, errors.New("history archive: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		conv      conversation.Conversation
		createdMs int64
		updatedMs int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, title, provider, model, message_count, created_at_ms, updated_at_ms
		FROM archived_conversations
		WHERE id = ?
	`, id).Scan(&conv.ID, &conv.Title, &conv.Provider, &conv.Model,
		&conv.MessageCount, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, false, nil
	}
	if err != nil {
		return conversation.Conversation{}, false, errors.Wrap(err, "history archive: get conversation")
	}
	conv.CreatedAt = time.UnixMilli(createdMs)
	conv.UpdatedAt = time.UnixMilli(updatedMs)
	return conv, true, nil
}

// Messages returns one archived transcript in its stored order.
func (a *SQLiteArchive) Messages(ctx context.Context, convID int64) ([]conversation.Message, error) {
	if a == nil || a.db == nil {
		return nil, errors.New("history archive: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, content, tool_calls_json, tokens_in, tokens_out, created_at_ms
		FROM archived_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "history archive: query messages")
	}
	defer func() { _ = rows.Close() }()

	var out []conversation.Message
	for rows.Next() {
		var (
			msg       conversation.Message
			role      string
			toolCalls string
			tokensIn  sql.NullInt64
			tokensOut sql.NullInt64
			createdMs int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls,
			&tokensIn, &tokensOut, &createdMs); err != nil {
			return nil, errors.Wrap(err, "history archive: scan message")
		}
		msg.ConversationID = convID
		msg.Role = conversation.Role(role)
		msg.CreatedAt = time.UnixMilli(createdMs)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, errors.Wrap(err, "history archive: unmarshal tool calls")
			}
		}
		if tokensIn.Valid {
			v := int(tokensIn.Int64)
			msg.TokensIn = &v
		}
		if tokensOut.Valid {
			v := int(tokensOut.Int64)
			msg.TokensOut = &v
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "history archive: iterate messages")
	}
	return out, nil
}

// DSNForFile builds the archive DSN for a database file path.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("history archive: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
