package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const upsertChatSQL = `
	INSERT INTO chats (chat_identifier, guid, group_id, style, service, display_name, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_identifier) DO UPDATE SET
		guid = CASE WHEN excluded.guid = '' THEN chats.guid ELSE excluded.guid END,
		group_id = CASE WHEN excluded.group_id = '' THEN chats.group_id ELSE excluded.group_id END,
		style = excluded.style,
		service = excluded.service,
		display_name = CASE WHEN excluded.display_name = '' THEN chats.display_name ELSE excluded.display_name END,
		updated_at = excluded.updated_at`

// UpsertChat inserts or updates a chat record keyed by chat identifier.
// Empty guid, group id and display name keep the stored values.
func (db *DB) UpsertChat(ctx context.Context, c *ChatRecord) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, upsertChatSQL,
		c.ChatIdentifier, c.GUID, c.GroupID, c.Style, c.Service, c.DisplayName, now)
	return err
}

// UpsertChats writes a batch of chat records in one transaction.
func (db *DB) UpsertChats(ctx context.Context, chats []*ChatRecord) error {
	if len(chats) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range chats {
		if _, err := tx.ExecContext(ctx, upsertChatSQL,
			c.ChatIdentifier, c.GUID, c.GroupID, c.Style, c.Service, c.DisplayName, now); err != nil {
			return fmt.Errorf("upsert chat %s: %w", c.ChatIdentifier, err)
		}
	}
	return tx.Commit()
}

// SetDisplayName sets or clears the display name of a persisted chat.
func (db *DB) SetDisplayName(ctx context.Context, chatIdentifier, name string) error {
	res, err := db.ExecContext(ctx, `UPDATE chats SET display_name = ?, updated_at = ? WHERE chat_identifier = ?`,
		name, time.Now().UnixMilli(), chatIdentifier)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetChat returns a single chat by chat identifier.
func (db *DB) GetChat(ctx context.Context, chatIdentifier string) (*ChatRecord, error) {
	var c ChatRecord
	err := db.QueryRowContext(ctx, `
		SELECT chat_identifier, guid, group_id, style, service, display_name
		FROM chats WHERE chat_identifier = ?`, chatIdentifier).
		Scan(&c.ChatIdentifier, &c.GUID, &c.GroupID, &c.Style, &c.Service, &c.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteChats removes chats together with their messages and handle timestamps.
func (db *DB) DeleteChats(ctx context.Context, chatIdentifiers []string) (int64, error) {
	if len(chatIdentifiers) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var removed int64
	for _, id := range chatIdentifiers {
		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_identifier = ?`, id)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += n
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_identifier = ?`, id); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM handle_timestamps WHERE chat_identifier = ?`, id); err != nil {
			return 0, err
		}
	}
	return removed, tx.Commit()
}

// ChatCount returns the number of persisted chats.
func (db *DB) ChatCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}
