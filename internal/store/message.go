package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RecordMessage inserts or updates the routing row of a message. A known
// row id or group id is never overwritten by an empty one. Messages with a
// sender also advance that sender's handle timestamp in the chat.
func (db *DB) RecordMessage(ctx context.Context, m *MessageRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var rowID any
	if m.RowID != 0 {
		rowID = m.RowID
	}
	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (guid, row_id, chat_identifier, group_id, sender, service, from_me, flags, error_code, time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			row_id = COALESCE(excluded.row_id, messages.row_id),
			chat_identifier = excluded.chat_identifier,
			group_id = CASE WHEN excluded.group_id = '' THEN messages.group_id ELSE excluded.group_id END,
			sender = excluded.sender,
			service = excluded.service,
			from_me = excluded.from_me,
			flags = excluded.flags,
			error_code = excluded.error_code,
			time = CASE WHEN excluded.time = 0 THEN messages.time ELSE excluded.time END`,
		m.GUID, rowID, m.ChatIdentifier, m.GroupID, m.Sender, m.Service, m.FromMe, m.Flags, m.ErrorCode, m.TimeMs, now)
	if err != nil {
		return err
	}

	if m.Sender != "" && m.TimeMs > 0 {
		if err := touchHandle(ctx, tx, m.ChatIdentifier, m.Sender, m.TimeMs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ChatIdentifierForMessageGUID returns the chat identifier a message was recorded under.
func (db *DB) ChatIdentifierForMessageGUID(ctx context.Context, guid string) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT chat_identifier FROM messages WHERE guid = ?`, guid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

// ChatGroupIDForMessageRowID returns the group id of the chat owning the
// message with the given row id, falling back to the chats table when the
// message row carries none.
func (db *DB) ChatGroupIDForMessageRowID(ctx context.Context, rowID int64) (string, error) {
	var groupID string
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(NULLIF(m.group_id, ''), c.group_id, '')
		FROM messages m
		LEFT JOIN chats c ON c.chat_identifier = m.chat_identifier
		WHERE m.row_id = ?`, rowID).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if groupID == "" {
		return "", ErrNotFound
	}
	return groupID, nil
}

// DeleteMessages removes messages by guid and returns how many rows went away.
func (db *DB) DeleteMessages(ctx context.Context, guids []string) (int64, error) {
	var removed int64
	for _, g := range guids {
		res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE guid = ?`, g)
		if err != nil {
			return removed, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

// MessageCount returns the number of recorded messages.
func (db *DB) MessageCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
